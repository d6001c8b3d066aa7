// Package secrets provides encryption for credentials at rest.
//
// Values are encrypted with AES-256-GCM. The key is derived from the server
// secret with scrypt. The encoded form is base64(iv || authTag || ciphertext)
// with a 16-byte IV and a 16-byte tag, so ciphertexts are portable across
// restarts as long as the server secret is stable.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	apperrors "github.com/gitwarden/gitwarden/internal/common/errors"
)

const (
	keySize   = 32
	ivSize    = 16
	tagSize   = 16
	kdfSalt   = "gitwarden-credential-salt"
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
)

// Cipher encrypts and decrypts credential values with a derived AES-256 key.
type Cipher struct {
	key []byte
}

// NewCipher derives an encryption key from the server secret.
func NewCipher(serverSecret []byte) (*Cipher, error) {
	if len(serverSecret) == 0 {
		return nil, apperrors.Validation("server secret must not be empty")
	}
	key, err := scrypt.Key(serverSecret, []byte(kdfSalt), scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &Cipher{key: key}, nil
}

// Encrypt encrypts plaintext and returns base64(iv || tag || ciphertext).
// A fresh random IV is generated per call.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	// Seal returns ciphertext || tag; the wire layout puts the tag first.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, ivSize+tagSize+len(ct))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Tampered or truncated input fails authentication.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", apperrors.Validation("encrypted value is not valid base64")
	}
	if len(raw) < ivSize+tagSize {
		return "", apperrors.Validation("encrypted value is too short")
	}

	iv := raw[:ivSize]
	tag := raw[ivSize : ivSize+tagSize]
	ct := raw[ivSize+tagSize:]

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", apperrors.Authentication("failed to decrypt credential", err)
	}
	return string(plaintext), nil
}
