package secrets

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBox(t *testing.T) *Box {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	b, err := New(key)
	require.NoError(t, err)
	return b
}

func TestEncryptDecrypt(t *testing.T) {
	b := newBox(t)

	c1, err := b.Encrypt("my-pat-token")
	require.NoError(t, err)
	c2, err := b.Encrypt("my-pat-token")
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2, "nonces differ")
	assert.NotContains(t, c1, "my-pat-token")

	plain, err := b.Decrypt(c1)
	require.NoError(t, err)
	assert.Equal(t, "my-pat-token", plain)
}

func TestDecryptFailures(t *testing.T) {
	b := newBox(t)
	other := newBox(t)

	c, err := b.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(c)
	assert.ErrorIs(t, err, ErrDecrypt)

	raw, _ := base64.StdEncoding.DecodeString(c)
	raw[len(raw)-1] ^= 0xff
	_, err = b.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = b.Decrypt("not base64!")
	assert.ErrorIs(t, err, ErrDecrypt)
	_, err = b.Decrypt("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestEmptyValues(t *testing.T) {
	b := newBox(t)
	_, err := b.Encrypt("")
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = b.Decrypt("")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestNewRejectsBadKeys(t *testing.T) {
	_, err := New("not a key")
	assert.Error(t, err)
	_, err = New(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.Error(t, err)

	urlKey := base64.URLEncoding.EncodeToString([]byte(strings.Repeat("k", keySize)))
	_, err = New(urlKey)
	assert.NoError(t, err)
}

func TestRotate(t *testing.T) {
	oldBox, newBox2 := newBox(t), newBox(t)

	c, err := oldBox.Encrypt("api-key")
	require.NoError(t, err)
	rotated, err := oldBox.Rotate(c, newBox2)
	require.NoError(t, err)

	plain, err := newBox2.Decrypt(rotated)
	require.NoError(t, err)
	assert.Equal(t, "api-key", plain)
	_, err = oldBox.Decrypt(rotated)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, ".encryption_key")

	first, err := Load("", keyFile)
	require.NoError(t, err)
	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	c, err := first.Encrypt("persisted")
	require.NoError(t, err)

	second, err := Load("", keyFile)
	require.NoError(t, err)
	plain, err := second.Decrypt(c)
	require.NoError(t, err)
	assert.Equal(t, "persisted", plain)

	envKey, err := GenerateKey()
	require.NoError(t, err)
	fromEnv, err := Load(envKey, keyFile)
	require.NoError(t, err)
	_, err = fromEnv.Decrypt(c)
	assert.ErrorIs(t, err, ErrDecrypt, "environment key takes precedence")

	_, err = Load("", "")
	assert.Error(t, err)
}
