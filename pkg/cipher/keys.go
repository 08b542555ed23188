package cipher

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
)

// Key material sizes for AES-256-CBC.
const (
	KeySize = 32
	IVSize  = 16
)

// Index names one of the two key slots.
type Index uint8

// Slot indices.
const (
	Even Index = 0
	Odd  Index = 1
)

// Other returns the opposite slot.
func (i Index) Other() Index {
	return i ^ 1
}

// String returns the slot name.
func (i Index) String() string {
	if i == Odd {
		return "odd"
	}
	return "even"
}

// Slot holds one key and IV.
type Slot struct {
	Key []byte
	IV  []byte
}

// Empty reports whether the slot holds no material.
func (s Slot) Empty() bool {
	return len(s.Key) == 0 || len(s.IV) == 0
}

// Equal reports whether two slots hold the same material.
func (s Slot) Equal(o Slot) bool {
	return bytes.Equal(s.Key, o.Key) && bytes.Equal(s.IV, o.IV)
}

func (s Slot) clone() Slot {
	return Slot{
		Key: append([]byte(nil), s.Key...),
		IV:  append([]byte(nil), s.IV...),
	}
}

// KeyGenerator produces fresh key material.
type KeyGenerator interface {
	Generate() (Slot, error)
}

// RandomGenerator draws key material from a cryptographic random source.
type RandomGenerator struct {
	// Reader defaults to crypto/rand.Reader.
	Reader io.Reader
}

// Generate implements KeyGenerator.
func (g RandomGenerator) Generate() (Slot, error) {
	r := g.Reader
	if r == nil {
		r = rand.Reader
	}

	buf := make([]byte, KeySize+IVSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Slot{}, fmt.Errorf("generate key material: %w", err)
	}
	return Slot{Key: buf[:KeySize:KeySize], IV: buf[KeySize:]}, nil
}
