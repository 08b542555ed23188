package wire

import (
	"errors"
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// ErrUnsupportedEncoding is returned for operational modes naming a text
// encoding the publisher does not implement.
var ErrUnsupportedEncoding = errors.New("unsupported encoding")

// OperationalModes is the client-selected bit field of protocol options.
type OperationalModes uint32

// Operational mode masks and flags.
const (
	// EncodingMask selects the text encoding bits.
	EncodingMask OperationalModes = 0x00000700

	UseCommonSerializationFormat OperationalModes = 0x01000000
	ReceiveExternalMetadata      OperationalModes = 0x02000000
	ReceiveInternalMetadata      OperationalModes = 0x04000000

	NoFlags OperationalModes = 0
)

// OperationalEncoding is the text encoding portion of OperationalModes.
type OperationalEncoding uint32

// Supported text encodings.
const (
	EncodingUnicode          OperationalEncoding = 0x000 // UTF-16 little endian
	EncodingBigEndianUnicode OperationalEncoding = 0x100
	EncodingUTF8             OperationalEncoding = 0x200
	EncodingANSI             OperationalEncoding = 0x300 // Windows-1252
)

// DefaultOperationalModes is used until a client defines its own.
const DefaultOperationalModes = OperationalModes(EncodingUTF8)

// Encoding returns the encoding bits.
func (m OperationalModes) Encoding() OperationalEncoding {
	return OperationalEncoding(m & EncodingMask)
}

// Has reports whether all bits of flag are set.
func (m OperationalModes) Has(flag OperationalModes) bool {
	return m&flag == flag
}

// WithEncoding returns m with its encoding bits replaced.
func (m OperationalModes) WithEncoding(e OperationalEncoding) OperationalModes {
	return m&^EncodingMask | OperationalModes(e)&EncodingMask
}

// String returns the encoding name.
func (e OperationalEncoding) String() string {
	switch e {
	case EncodingUnicode:
		return "Unicode"
	case EncodingBigEndianUnicode:
		return "BigEndianUnicode"
	case EncodingUTF8:
		return "UTF8"
	case EncodingANSI:
		return "ANSI"
	default:
		return fmt.Sprintf("Encoding(0x%03X)", uint32(e))
	}
}

// TextEncoding returns the text codec selected by m.
func (m OperationalModes) TextEncoding() (encoding.Encoding, error) {
	switch m.Encoding() {
	case EncodingUnicode:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case EncodingBigEndianUnicode:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	case EncodingUTF8:
		return unicode.UTF8, nil
	case EncodingANSI:
		return charmap.Windows1252, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, m.Encoding())
	}
}

// EncodeText encodes s with the text encoding selected by m. Characters the
// encoding cannot represent are replaced.
func (m OperationalModes) EncodeText(s string) ([]byte, error) {
	enc, err := m.TextEncoding()
	if err != nil {
		return nil, err
	}
	return encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(s))
}

// DecodeText decodes b with the text encoding selected by m.
func (m OperationalModes) DecodeText(b []byte) (string, error) {
	enc, err := m.TextEncoding()
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode text: %w", err)
	}
	return string(out), nil
}
