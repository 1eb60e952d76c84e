// Package crypto seals credentials kept in the environment, such as the
// Gmail refresh token.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SealedPrefix marks a sealed value.
const SealedPrefix = "enc:"

var (
	ErrMissingKey        = errors.New("sealed secret requires ENCRYPTION_KEY")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Encryptor handles AES-256-GCM encryption/decryption. It is safe for
// concurrent use.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates an encryptor. Keys that are not 32 bytes are
// stretched with SHA-256.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	if len(key) != 32 {
		hash := sha256.Sum256(key)
		key = hash[:]
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{gcm: gcm}, nil
}

// Seal encrypts plaintext into "enc:" + base64(nonce|ciphertext).
func (e *Encryptor) Seal(plaintext string) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (e *Encryptor) Open(value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, SealedPrefix)
	if !ok {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize+e.gcm.Overhead() {
		return "", ErrInvalidCiphertext
	}
	nonce, encrypted := data[:nonceSize], data[nonceSize:]

	plaintext, err := e.gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsSealed reports whether value was produced by Seal.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// Reveal returns value unchanged unless it is sealed, in which case it is
// opened with key.
func Reveal(value, key string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	enc, err := NewEncryptor([]byte(key))
	if err != nil {
		return "", err
	}
	return enc.Open(value)
}
