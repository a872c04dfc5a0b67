// Package credentials decrypts stored site credentials. The envelope is
// AES-256-GCM with a 12 byte nonce and separate base64 fields.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

const (
	keySize   = 32
	nonceSize = 12
)

// Envelope is the JSON shape of an encrypted credentials blob.
type Envelope struct {
	IV      string `json:"iv"`
	AuthTag string `json:"authTag"`
	Data    string `json:"data"`
}

// Cipher seals and opens credential envelopes.
type Cipher struct {
	aead cipher.AEAD
}

// ParseKey decodes a base64 encoded 32 byte key.
func ParseKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, errors.New("encryption key is not set")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	return key, nil
}

// NewCipher builds a Cipher for the raw key.
func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create block cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals creds into an Envelope.
func (c *Cipher) Encrypt(creds scrape.Credentials) (Envelope, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal credentials: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - c.aead.Overhead()
	return Envelope{
		IV:      base64.StdEncoding.EncodeToString(nonce),
		AuthTag: base64.StdEncoding.EncodeToString(sealed[tagStart:]),
		Data:    base64.StdEncoding.EncodeToString(sealed[:tagStart]),
	}, nil
}

// Decrypt opens env. Every failure wraps scrape.ErrDecryption.
func (c *Cipher) Decrypt(env Envelope) (scrape.Credentials, error) {
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return scrape.Credentials{}, fmt.Errorf("%w: decode iv: %v", scrape.ErrDecryption, err)
	}
	if len(nonce) != nonceSize {
		return scrape.Credentials{}, fmt.Errorf("%w: iv must be %d bytes", scrape.ErrDecryption, nonceSize)
	}
	tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil {
		return scrape.Credentials{}, fmt.Errorf("%w: decode auth tag: %v", scrape.ErrDecryption, err)
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return scrape.Credentials{}, fmt.Errorf("%w: decode data: %v", scrape.ErrDecryption, err)
	}
	plaintext, err := c.aead.Open(nil, nonce, append(data, tag...), nil)
	if err != nil {
		return scrape.Credentials{}, fmt.Errorf("%w: %v", scrape.ErrDecryption, err)
	}
	var creds scrape.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return scrape.Credentials{}, fmt.Errorf("%w: unmarshal plaintext: %v", scrape.ErrDecryption, err)
	}
	return creds, nil
}

// IsEnvelope reports whether raw has the iv, authTag and data string fields.
func IsEnvelope(raw []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	for _, field := range []string{"iv", "authTag", "data"} {
		v, ok := probe[field]
		if !ok {
			return false
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return false
		}
	}
	return true
}
