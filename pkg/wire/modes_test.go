package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeText(t *testing.T) {
	tests := []struct {
		name string
		enc  OperationalEncoding
		in   string
		want []byte
	}{
		{"utf8", EncodingUTF8, "Hi", []byte("Hi")},
		{"utf16 le", EncodingUnicode, "Hi", []byte{'H', 0, 'i', 0}},
		{"utf16 be", EncodingBigEndianUnicode, "Hi", []byte{0, 'H', 0, 'i'}},
		{"ansi", EncodingANSI, "é", []byte{0xE9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modes := NoFlags.WithEncoding(tt.enc)
			got, err := modes.EncodeText(tt.in)
			if err != nil {
				t.Fatalf("EncodeText() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeText() = %x, want %x", got, tt.want)
			}

			back, err := modes.DecodeText(got)
			if err != nil {
				t.Fatalf("DecodeText() error = %v", err)
			}
			if back != tt.in {
				t.Errorf("DecodeText() = %q, want %q", back, tt.in)
			}
		})
	}
}

func TestUnsupportedEncoding(t *testing.T) {
	modes := OperationalModes(0x500) | ReceiveInternalMetadata

	if _, err := modes.TextEncoding(); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("TextEncoding() error = %v, want %v", err, ErrUnsupportedEncoding)
	}
	if _, err := modes.EncodeText("x"); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("EncodeText() error = %v, want %v", err, ErrUnsupportedEncoding)
	}
}

func TestWithEncodingKeepsFlags(t *testing.T) {
	modes := ReceiveExternalMetadata.WithEncoding(EncodingANSI)

	if modes.Encoding() != EncodingANSI {
		t.Errorf("Encoding() = %v, want %v", modes.Encoding(), EncodingANSI)
	}
	if !modes.Has(ReceiveExternalMetadata) {
		t.Error("flag lost when changing encoding")
	}

	modes = modes.WithEncoding(EncodingUTF8)
	if modes.Encoding() != EncodingUTF8 {
		t.Errorf("Encoding() = %v, want %v", modes.Encoding(), EncodingUTF8)
	}
}
