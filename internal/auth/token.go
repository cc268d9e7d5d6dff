// Package auth verifies the bearer tokens issued by the login service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mailpilot/mailpilot/internal/config"
)

// ErrNoSecret is returned when no verification secret is configured
var ErrNoSecret = errors.New("auth: jwt secret is not configured")

// TokenClaims represents the claims in an access token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// TokenService validates HS256 access tokens. It can also issue them, which
// the CLI and tests use to talk to the API.
type TokenService struct {
	secret []byte
	issuer string
}

// NewTokenService creates a new TokenService.
func NewTokenService(cfg config.SecurityConfig) (*TokenService, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrNoSecret
	}
	return &TokenService{secret: []byte(cfg.JWTSecret), issuer: cfg.JWTIssuer}, nil
}

// IssueAccessToken signs a token for userID valid for ttl.
func (s *TokenService) IssueAccessToken(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateAccessToken validates an access token and returns the claims.
func (s *TokenService) ValidateAccessToken(tokenString string) (*TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
