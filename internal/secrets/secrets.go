// Package secrets seals and unseals credential strings with a symmetric key
// stored alongside the catalog database. Sealed values are what the
// configuration files and HTTP config endpoints carry; plaintext exists only
// in memory.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "sealed:"

// Mask is the placeholder returned to API clients in place of a secret, and
// accepted from them to mean "keep the stored value".
const Mask = "****"

// Keeper seals and unseals secrets with a single symmetric key.
type Keeper struct {
	key []byte
}

// LoadKeeper reads the key at path, generating it with mode 0600 on first use.
func LoadKeeper(path string) (*Keeper, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		return generateKeeper(path)
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key file holds %d bytes, expected %d", len(key), chacha20poly1305.KeySize)
	}
	return &Keeper{key: key}, nil
}

func generateKeeper(path string) (*Keeper, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return &Keeper{key: key}, nil
}

// Seal encrypts value. Empty and already-sealed values pass through unchanged,
// so re-saving a config never double-seals.
func (k *Keeper) Seal(value string) (string, error) {
	if value == "" || IsSealed(value) {
		return value, nil
	}
	aead, err := chacha20poly1305.NewX(k.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(value), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Unseal decrypts value. Values without the sealed prefix are returned as-is,
// which keeps hand-edited plaintext configs working until their next save.
func (k *Keeper) Unseal(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	aead, err := chacha20poly1305.NewX(k.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("sealed value too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("unseal value: %w", err)
	}
	return string(plain), nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// MaskValue replaces any non-empty secret with the API placeholder.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return Mask
}
