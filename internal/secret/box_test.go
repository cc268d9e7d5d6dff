package secret_test

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot/mailpilot/internal/secret"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestNewBox(t *testing.T) {
	t.Parallel()

	_, err := secret.NewBox([]byte("short"))
	require.Error(t, err)

	box, err := secret.NewBox(testKey())
	require.NoError(t, err)
	require.NotNil(t, box)
}

func TestBox_SealOpen(t *testing.T) {
	t.Parallel()

	box, err := secret.NewBox(testKey())
	require.NoError(t, err)

	sealed, err := box.Seal("ya29.access-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "ya29")

	again, err := box.Seal("ya29.access-token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ya29.access-token", plain)
}

func TestBox_OpenRejectsTampering(t *testing.T) {
	t.Parallel()

	box, err := secret.NewBox(testKey())
	require.NoError(t, err)

	sealed, err := box.Seal("refresh")
	require.NoError(t, err)

	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	_, err = box.Open(base64.RawStdEncoding.EncodeToString(raw))
	require.ErrorIs(t, err, secret.ErrMalformed)

	_, err = box.Open("!!not base64!!")
	require.ErrorIs(t, err, secret.ErrMalformed)

	_, err = box.Open("")
	require.ErrorIs(t, err, secret.ErrMalformed)
}

func TestBox_WrongKey(t *testing.T) {
	t.Parallel()

	box, err := secret.NewBox(testKey())
	require.NoError(t, err)
	other, err := secret.NewBox(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)

	sealed, err := box.Seal("token")
	require.NoError(t, err)

	_, err = other.Open(sealed)
	require.ErrorIs(t, err, secret.ErrMalformed)
}
