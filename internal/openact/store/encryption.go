package store

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// fieldCipher AEAD-encrypts individual AuthConnection fields at the storage
// boundary using XChaCha20-Poly1305 (a 24-byte nonce removes the need to
// track a nonce counter per key), applied per-field rather than per-blob
// since access_token, refresh_token, and extra are stored in separate
// columns.
type fieldCipher struct {
	aead       interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
	keyVersion int
}

// newFieldCipher builds a cipher from a hex-encoded 32-byte master key.
// OPENACT_MASTER_KEY unset (masterKeyHex=="") means encryption is disabled;
// callers should not construct a fieldCipher in that case.
func newFieldCipher(masterKeyHex string) (*fieldCipher, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("openact master key must be hex-encoded: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("openact master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AEAD cipher: %w", err)
	}
	return &fieldCipher{aead: aead, keyVersion: 1}, nil
}

// encryptedField is a ciphertext/nonce pair as stored in the database.
type encryptedField struct {
	Ciphertext string // base64
	Nonce      string // base64
}

func (c *fieldCipher) encrypt(plaintext string) (encryptedField, error) {
	if plaintext == "" {
		return encryptedField{}, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return encryptedField{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ct := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return encryptedField{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

func (c *fieldCipher) decrypt(f encryptedField) (string, error) {
	if f.Ciphertext == "" {
		return "", nil
	}
	ct, err := base64.StdEncoding.DecodeString(f.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(f.Nonce)
	if err != nil {
		return "", fmt.Errorf("malformed nonce: %w", err)
	}
	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt field (wrong key or tampered data): %w", err)
	}
	return string(pt), nil
}
