package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestCipher(t *testing.T) (*Cipher, string) {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := New(key)
	require.NoError(t, err)
	return c, key
}

func TestNew_NoKey(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, ErrNoKey)

	_, err = New("", "  ")
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestNew_InvalidKey(t *testing.T) {
	_, err := New("not-a-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode keys")
}

func TestEncryptDecrypt(t *testing.T) {
	c, _ := newTestCipher(t)

	tok, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", tok)
	assert.Equal(t, "hunter2", c.Decrypt(tok))
}

func TestEncrypt_Empty(t *testing.T) {
	c, _ := newTestCipher(t)
	tok, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.Empty(t, c.Decrypt(""))
}

func TestDecrypt_PlaintextFallback(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	c, _ := newTestCipher(t)
	assert.Equal(t, "legacy-password", c.Decrypt("legacy-password"))
	require.Equal(t, 1, logs.Len())
	assert.NotContains(t, logs.All()[0].Message, "legacy-password")
}

func TestDecrypt_KeyRotation(t *testing.T) {
	oldCipher, oldKey := newTestCipher(t)
	tok, err := oldCipher.Encrypt("s3cret")
	require.NoError(t, err)

	newKey, err := GenerateKey()
	require.NoError(t, err)
	rotated, err := New(newKey, oldKey)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", rotated.Decrypt(tok))
}

func TestDecrypt_WrongKeyFallsBack(t *testing.T) {
	a, _ := newTestCipher(t)
	b, _ := newTestCipher(t)

	tok, err := a.Encrypt("s3cret")
	require.NoError(t, err)
	assert.Equal(t, tok, b.Decrypt(tok))
}
