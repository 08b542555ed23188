package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const wrapSalt = "gridpulse-cipher-keys-v1"

// ErrUnwrap is returned when wrapped key material fails authentication.
var ErrUnwrap = errors.New("unwrap key material")

// wrapKey derives the AES-256 wrapping key for a shared secret.
func wrapKey(secret string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(secret), []byte(wrapSalt), nil)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive wrap key: %w", err)
	}
	return key, nil
}

func wrapAEAD(secret string) (gocipher.AEAD, error) {
	key, err := wrapKey(secret)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return gocipher.NewGCM(block)
}

// Wrap encrypts serialized key material with a key derived from the
// connection's shared secret. Output is nonce || ciphertext.
func Wrap(secret string, data []byte) ([]byte, error) {
	aead, err := wrapAEAD(secret)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, data, nil), nil
}

// Unwrap reverses Wrap.
func Unwrap(secret string, data []byte) ([]byte, error) {
	aead, err := wrapAEAD(secret)
	if err != nil {
		return nil, err
	}

	n := aead.NonceSize()
	if len(data) < n+aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnwrap, len(data))
	}
	plain, err := aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
	}
	return plain, nil
}
