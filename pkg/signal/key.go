package signal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned when a measurement key string cannot be parsed.
var ErrInvalidKey = errors.New("invalid measurement key")

// MeasurementKey names a measurement by its source and a numeric point ID.
type MeasurementKey struct {
	Source string
	ID     uint32
}

// String returns the key in "SOURCE:ID" form.
func (k MeasurementKey) String() string {
	return k.Source + ":" + strconv.FormatUint(uint64(k.ID), 10)
}

// ParseKey parses a "SOURCE:ID" string.
func ParseKey(s string) (MeasurementKey, error) {
	source, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || source == "" {
		return MeasurementKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return MeasurementKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return MeasurementKey{Source: source, ID: uint32(n)}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (k MeasurementKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *MeasurementKey) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Signal pairs a full-width signal identifier with its measurement key.
type Signal struct {
	ID  uuid.UUID
	Key MeasurementKey
}

func (s Signal) String() string {
	return fmt.Sprintf("%s [%s]", s.Key, s.ID)
}
