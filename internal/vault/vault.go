// Package vault seals and opens credential blobs. Blobs are
// nonce || XChaCha20-Poly1305(ciphertext), bound to the credential id as
// additional data so a blob cannot be swapped between rows.
package vault

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"autoflow.app/relay/internal/model"
)

var ErrMalformedBlob = errors.New("malformed credential blob")

// Cipher seals and opens token records.
type Cipher interface {
	Seal(credentialID string, record model.TokenRecord) ([]byte, error)
	Open(credentialID string, blob []byte) (*model.TokenRecord, error)
}

type xchachaCipher struct {
	key []byte
}

// New returns a Cipher for a 32-byte key.
func New(key []byte) (Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("vault key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &xchachaCipher{key: k}, nil
}

func (c *xchachaCipher) Seal(credentialID string, record model.TokenRecord) ([]byte, error) {
	plaintext, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal token record: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, []byte(credentialID)), nil
}

func (c *xchachaCipher) Open(credentialID string, blob []byte) (*model.TokenRecord, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	if len(blob) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: too short", ErrMalformedBlob)
	}

	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(credentialID))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBlob, err)
	}

	var record model.TokenRecord
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBlob, err)
	}
	if record.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrMalformedBlob)
	}
	return &record, nil
}
