package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantCmd ServerCommand
		wantErr error
	}{
		{"subscribe", []byte{0x02, 0xAA}, CommandSubscribe, nil},
		{"heartbeat ack", []byte{0x0C}, CommandHeartbeatAck, nil},
		{"empty", nil, 0, ErrShortPacket},
		{"unknown", []byte{0x42}, ServerCommand(0x42), ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt, err := DecodeCommand(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("DecodeCommand() error = %v, want %v", err, tt.wantErr)
			}
			if pkt != nil && pkt.Command != tt.wantCmd {
				t.Errorf("Command = %v, want %v", pkt.Command, tt.wantCmd)
			}
		})
	}
}

func TestEncodeResponseLayout(t *testing.T) {
	got := EncodeResponse(ResponseUpdateCipherKeys, CommandRotateCipherKeys, []byte{1, 2})
	want := []byte{0x85, 0x04, 1, 2}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeResponse() = %x, want %x", got, want)
	}

	pkt, err := DecodeResponse(got)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if pkt.Response != ResponseUpdateCipherKeys || pkt.Command != CommandRotateCipherKeys {
		t.Errorf("DecodeResponse() = %v/%v", pkt.Response, pkt.Command)
	}
	if !bytes.Equal(pkt.Payload, []byte{1, 2}) {
		t.Errorf("Payload = %x", pkt.Payload)
	}
}

func TestDecodeResponseErrors(t *testing.T) {
	if _, err := DecodeResponse([]byte{0x80}); !errors.Is(err, ErrShortPacket) {
		t.Errorf("short packet error = %v, want %v", err, ErrShortPacket)
	}
	if _, err := DecodeResponse([]byte{0x10, 0x02}); !errors.Is(err, ErrUnknownResponse) {
		t.Errorf("unknown response error = %v, want %v", err, ErrUnknownResponse)
	}
}

func TestCommandString(t *testing.T) {
	if got := CommandRotateCipherKeys.String(); got != "RotateCipherKeys" {
		t.Errorf("String() = %q", got)
	}
	if got := ServerCommand(0x7F).String(); got != "Command(0x7F)" {
		t.Errorf("String() = %q", got)
	}
	if got := ResponseNoOP.String(); got != "NoOP" {
		t.Errorf("String() = %q", got)
	}
}

func TestSubscribeRequestUsesIntegerKeys(t *testing.T) {
	data, err := Marshal(SubscribeRequest{Signals: []string{"PPA:1"}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	// Map with one entry, key 1, array of one text string.
	if data[0] != 0xA1 || data[1] != 0x01 {
		t.Errorf("Marshal() = %x, want map with integer key 1", data)
	}

	var got SubscribeRequest
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(got.Signals) != 1 || got.Signals[0] != "PPA:1" {
		t.Errorf("Signals = %v", got.Signals)
	}
}

func TestAuthenticateRequestPreservesUUID(t *testing.T) {
	id := uuid.New()
	data, err := Marshal(AuthenticateRequest{SubscriberID: id, Token: []byte{9}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got AuthenticateRequest
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.SubscriberID != id {
		t.Errorf("SubscriberID = %v, want %v", got.SubscriberID, id)
	}
}
