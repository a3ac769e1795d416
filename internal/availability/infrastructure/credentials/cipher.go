package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

var (
	ErrEmptyKey         = errors.New("encryption key is empty")
	ErrKeySize          = errors.New("encryption key must be 32 bytes")
	ErrCiphertextLength = errors.New("ciphertext too short")
)

// Encrypter seals credential secrets at rest.
type Encrypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESGCM seals secrets with AES-256-GCM. The random nonce is prepended to
// each ciphertext.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCMFromBase64Key builds an AESGCM from a base64 32-byte key.
func NewAESGCMFromBase64Key(encodedKey string) (*AESGCM, error) {
	if encodedKey == "" {
		return nil, ErrEmptyKey
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: aead}, nil
}

func (e *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *AESGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	n := e.aead.NonceSize()
	if len(ciphertext) < n {
		return nil, ErrCiphertextLength
	}
	return e.aead.Open(nil, ciphertext[:n], ciphertext[n:], nil)
}
