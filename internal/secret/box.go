// Package secret seals short strings such as OAuth tokens for storage.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrMalformed is returned when a sealed value cannot be decoded or
// authenticated.
var ErrMalformed = errors.New("secret: malformed sealed value")

// Box seals values with XChaCha20-Poly1305
type Box struct {
	key []byte
}

// NewBox creates a Box from a 32-byte key
func NewBox(key []byte) (*Box, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secret: key must be %d bytes", chacha20poly1305.KeySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Box{key: k}, nil
}

// Seal encrypts plaintext and returns nonce||ciphertext in base64
func (b *Box) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secret: failed to generate nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawStdEncoding.EncodeToString(out), nil
}

// Open reverses Seal
func (b *Box) Open(sealed string) (string, error) {
	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrMalformed
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrMalformed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrMalformed
	}
	return string(plain), nil
}
