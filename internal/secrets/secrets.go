// Package secrets encrypts stored credentials with NaCl secretbox.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/tuannvm/ado-ai/internal/logging"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	// ErrEmpty is returned when encrypting or decrypting an empty string.
	ErrEmpty = errors.New("empty value")
	// ErrDecrypt is returned for tampered data or a wrong key.
	ErrDecrypt = errors.New("decryption failed: invalid token or wrong encryption key")
)

// Box encrypts and decrypts strings with one master key.
type Box struct {
	key [keySize]byte
}

// GenerateKey returns a new random master key, base64 encoded.
func GenerateKey() (string, error) {
	var k [keySize]byte
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(k[:]), nil
}

// New creates a Box from a base64 master key. URL-safe encoding is
// accepted too.
func New(masterKey string) (*Box, error) {
	raw, err := decodeKey(strings.TrimSpace(masterKey))
	if err != nil {
		return nil, err
	}
	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

func decodeKey(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(s); err == nil {
			if len(raw) != keySize {
				return nil, fmt.Errorf("master key must decode to %d bytes, got %d", keySize, len(raw))
			}
			return raw, nil
		}
	}
	return nil, errors.New("master key is not valid base64")
}

// Load returns a Box keyed from envKey, or from the key stored at keyFile.
// When neither is set a key is generated and written to keyFile so that
// stored credentials survive restarts.
func Load(envKey, keyFile string) (*Box, error) {
	if envKey != "" {
		return New(envKey)
	}
	if keyFile == "" {
		return nil, errors.New("no encryption key configured")
	}

	data, err := os.ReadFile(keyFile)
	if err == nil {
		return New(string(data))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyFile, []byte(key+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	logging.Warnf("ENCRYPTION_MASTER_KEY not set, generated a new key in %s", keyFile)
	return New(key)
}

// Encrypt seals plaintext and returns base64(nonce || box).
func (b *Box) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmpty
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (b *Box) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", ErrEmpty
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	out, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(out), nil
}

// Rotate re-encrypts a value under another box.
func (b *Box) Rotate(ciphertext string, next *Box) (string, error) {
	plain, err := b.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return next.Encrypt(plain)
}
