package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/ayo6706/custodial-ledger/internal/domain"
)

const keySize = 32

// Cipher encrypts secrets at rest with AES-256-GCM. Every value gets its own
// random nonce, stored in front of the ciphertext.
type Cipher struct {
	key []byte
}

// ParseKey accepts a base64, hex or raw encoding of exactly 32 bytes.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: key is empty", domain.ErrEncryptionKey)
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == keySize {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil && len(decoded) == keySize {
		return decoded, nil
	}
	if len(raw) == keySize {
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("%w: got an encoding of unsupported length %d", domain.ErrEncryptionKey, len(raw))
}

func NewCipher(rawKey string) (*Cipher, error) {
	key, err := ParseKey(rawKey)
	if err != nil {
		return nil, err
	}
	return &Cipher{key: key}, nil
}

func (c *Cipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// Encrypt returns base64(nonce || ciphertext). Empty plaintext is allowed so an
// absent passphrase still round-trips.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(encoded string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", domain.ErrDecryptionFailed, err)
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryptionFailed)
	}
	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}
