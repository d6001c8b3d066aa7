package secrets

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher([]byte("test-server-secret"))
	require.NoError(t, err)
	return c
}

func TestCipherRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plaintext := range []string{
		"ghp_abc123",
		"",
		"multi\nline\nprivate key material",
		"ünïcode ✓",
	} {
		encoded, err := c.Encrypt(plaintext)
		require.NoError(t, err)

		decoded, err := c.Decrypt(encoded)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decoded)
	}
}

func TestCipherLayout(t *testing.T) {
	c := newTestCipher(t)

	encoded, err := c.Encrypt("secret-value")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	// iv(16) + tag(16) + ciphertext(len(plaintext))
	assert.Equal(t, 16+16+len("secret-value"), len(raw))
}

func TestCipherFreshIVPerCall(t *testing.T) {
	c := newTestCipher(t)

	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipherTamperDetection(t *testing.T) {
	c := newTestCipher(t)

	encoded, err := c.Encrypt("secret-value")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = c.Decrypt(tampered)
	assert.Error(t, err)
}

func TestCipherWrongKey(t *testing.T) {
	c := newTestCipher(t)
	other, err := NewCipher([]byte("different-secret"))
	require.NoError(t, err)

	encoded, err := c.Encrypt("secret-value")
	require.NoError(t, err)

	_, err = other.Decrypt(encoded)
	assert.Error(t, err)
}

func TestCipherRejectsBadInput(t *testing.T) {
	c := newTestCipher(t)

	_, err := c.Decrypt("not base64!!!")
	assert.Error(t, err)

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestLoadServerSecretStable(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadServerSecret(dir)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := LoadServerSecret(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
