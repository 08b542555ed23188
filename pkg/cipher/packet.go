package cipher

import (
	"bytes"
	"crypto/aes"
	gocipher "crypto/cipher"
	"errors"
	"fmt"
)

// ErrBadPadding is returned when a decrypted payload has invalid padding.
var ErrBadPadding = errors.New("invalid padding")

// Encrypt encrypts a data packet payload with AES-CBC and PKCS#7 padding
// using the key and IV of slot.
func Encrypt(slot Slot, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(slot.Key)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	if len(slot.IV) != block.BlockSize() {
		return nil, fmt.Errorf("encrypt: IV length %d", len(slot.IV))
	}

	pad := block.BlockSize() - len(plaintext)%block.BlockSize()
	buf := make([]byte, len(plaintext)+pad)
	copy(buf, plaintext)
	copy(buf[len(plaintext):], bytes.Repeat([]byte{byte(pad)}, pad))

	gocipher.NewCBCEncrypter(block, slot.IV).CryptBlocks(buf, buf)
	return buf, nil
}

// Decrypt reverses Encrypt.
func Decrypt(slot Slot, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(slot.Key)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	bs := block.BlockSize()
	if len(slot.IV) != bs {
		return nil, fmt.Errorf("decrypt: IV length %d", len(slot.IV))
	}
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("decrypt: ciphertext length %d", len(ciphertext))
	}

	buf := make([]byte, len(ciphertext))
	gocipher.NewCBCDecrypter(block, slot.IV).CryptBlocks(buf, ciphertext)

	pad := int(buf[len(buf)-1])
	if pad == 0 || pad > bs {
		return nil, ErrBadPadding
	}
	for _, b := range buf[len(buf)-pad:] {
		if int(b) != pad {
			return nil, ErrBadPadding
		}
	}
	return buf[:len(buf)-pad], nil
}
