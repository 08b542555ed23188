package cipher

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedMaterial is returned when serialized key material cannot be
// parsed.
var ErrMalformedMaterial = errors.New("malformed key material")

// Material is a snapshot of both key slots and the active index.
type Material struct {
	Index Index
	Even  Slot
	Odd   Slot
}

// Slot returns the slot at i.
func (m *Material) Slot(i Index) Slot {
	if i == Odd {
		return m.Odd
	}
	return m.Even
}

// Active returns the active slot.
func (m *Material) Active() Slot {
	return m.Slot(m.Index)
}

// MarshalBinary encodes the material as
//
//	[index byte]([len uint32 BE][bytes]) x4
//
// with the fields in order even key, even IV, odd key, odd IV.
func (m *Material) MarshalBinary() ([]byte, error) {
	fields := [4][]byte{m.Even.Key, m.Even.IV, m.Odd.Key, m.Odd.IV}

	size := 1
	for _, f := range fields {
		size += 4 + len(f)
	}

	buf := make([]byte, 1, size)
	buf[0] = byte(m.Index)
	for _, f := range fields {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(f)))
		buf = append(buf, f...)
	}
	return buf, nil
}

// UnmarshalBinary decodes material produced by MarshalBinary.
func (m *Material) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return ErrMalformedMaterial
	}
	if data[0] > byte(Odd) {
		return fmt.Errorf("%w: cipher index %d", ErrMalformedMaterial, data[0])
	}

	var fields [4][]byte
	rest := data[1:]
	for i := range fields {
		if len(rest) < 4 {
			return fmt.Errorf("%w: truncated length %d", ErrMalformedMaterial, i)
		}
		n := binary.BigEndian.Uint32(rest)
		rest = rest[4:]
		if uint64(n) > uint64(len(rest)) {
			return fmt.Errorf("%w: field %d overruns buffer", ErrMalformedMaterial, i)
		}
		fields[i] = append([]byte(nil), rest[:n]...)
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedMaterial, len(rest))
	}

	m.Index = Index(data[0])
	m.Even = Slot{Key: fields[0], IV: fields[1]}
	m.Odd = Slot{Key: fields[2], IV: fields[3]}
	return nil
}
