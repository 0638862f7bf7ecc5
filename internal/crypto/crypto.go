package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	keySize   = 32
	ivSize    = 16
	tagSize   = 16
	separator = ":"
)

var (
	// ErrInvalidKey is returned when the configured key is missing or not 256 bits.
	ErrInvalidKey = errors.New("encryption key must be 64 hex characters (32 bytes)")
	// ErrDecrypt is returned for tampered tokens, malformed tokens or a wrong key.
	ErrDecrypt = errors.New("failed to decrypt secret: invalid key or corrupted data")
)

// Cipher encrypts individual string secrets with AES-256-GCM.
// Tokens have the form hex(iv):hex(tag):hex(ciphertext).
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 64 character hex key.
func NewCipher(hexKey string) (*Cipher, error) {
	if hexKey == "" {
		return nil, ErrInvalidKey
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != keySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aesgcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aesgcm}, nil
}

// IsEncrypted reports whether value carries the token delimiter.
func IsEncrypted(value string) bool {
	return strings.Contains(value, separator)
}

// Encrypt encrypts plaintext with a fresh random IV. The empty string is returned unchanged.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return plaintext, nil
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, separator), nil
}

// Decrypt reverses Encrypt. Values without the delimiter are legacy plaintext and are
// returned unchanged.
func (c *Cipher) Decrypt(token string) (string, error) {
	if token == "" || !IsEncrypted(token) {
		return token, nil
	}

	parts := strings.Split(token, separator)
	if len(parts) != 3 {
		return "", ErrDecrypt
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", ErrDecrypt
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", ErrDecrypt
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrDecrypt
	}

	plaintext, err := c.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrDecrypt
	}

	return string(plaintext), nil
}
