// Package crypto provides AES-256-GCM authenticated encryption for sensitive
// system configuration values (provider API keys) stored at rest.
// Sealed values carry a version prefix so clear and sealed rows can coexist
// while a deployment turns encryption on.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SealedPrefix marks a value produced by Seal.
const SealedPrefix = "enc:v1:"

// keySalt is fixed: the derived key must be reproducible from the configured secret alone.
var keySalt = []byte("agentdesk/system_config/v1")

const deriveIterations = 100000

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes (required for AES-256).
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when a sealed value fails decoding or is too short to contain a nonce.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when AES-GCM authentication fails, indicating tampering or a wrong key.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrNotSealed is returned by Open for a value without SealedPrefix.
	ErrNotSealed = errors.New("crypto: value is not sealed")
)

// ValueCipher seals and opens configuration values
type ValueCipher struct {
	aead cipher.AEAD
}

// NewValueCipher creates a cipher with a 32-byte master key
func NewValueCipher(masterKey []byte) (*ValueCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	keyCopy := make([]byte, 32)
	copy(keyCopy, masterKey)

	block, err := aes.NewCipher(keyCopy)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &ValueCipher{aead: aead}, nil
}

// FromSecret builds a cipher from the configured secret. A 64-character hex
// string is used as the raw key; anything else is stretched with PBKDF2-SHA256.
func FromSecret(secret string) (*ValueCipher, error) {
	if len(secret) == 64 {
		if key, err := hex.DecodeString(secret); err == nil {
			return NewValueCipher(key)
		}
	}
	if secret == "" {
		return nil, ErrKeyLengthInvalid
	}
	return NewValueCipher(pbkdf2.Key([]byte(secret), keySalt, deriveIterations, 32, sha256.New))
}

// IsSealed reports whether value was produced by Seal
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// Seal encrypts plaintext. The empty string stays empty.
func (vc *ValueCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, vc.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := vc.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal
func (vc *ValueCipher) Open(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if !IsSealed(value) {
		return "", ErrNotSealed
	}

	ciphertext, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, SealedPrefix))
	if err != nil {
		return "", ErrCiphertextCorrupted
	}

	nonceLen := vc.aead.NonceSize()
	if len(ciphertext) < nonceLen {
		return "", ErrCiphertextCorrupted
	}

	plaintext, err := vc.aead.Open(nil, ciphertext[:nonceLen], ciphertext[nonceLen:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// GenerateKey creates a cryptographically secure random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
