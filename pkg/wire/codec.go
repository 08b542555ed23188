package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for protocol payloads.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for protocol payloads.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnixMicro,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient decoding so newer clients can add fields.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Errors returned by the packet codec.
var (
	ErrShortPacket     = errors.New("packet too short")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrUnknownResponse = errors.New("unknown response")
)

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a new CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// CommandPacket is a decoded client-to-publisher message.
type CommandPacket struct {
	Command ServerCommand
	Payload []byte
}

// ResponsePacket is a decoded publisher-to-client message.
type ResponsePacket struct {
	Response ServerResponse
	Command  ServerCommand
	Payload  []byte
}

// EncodeCommand builds a command packet.
func EncodeCommand(cmd ServerCommand, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(cmd)
	copy(buf[1:], payload)
	return buf
}

// DecodeCommand splits a command packet. Unknown command codes are
// returned together with ErrUnknownCommand so the caller can answer them.
func DecodeCommand(data []byte) (*CommandPacket, error) {
	if len(data) < 1 {
		return nil, ErrShortPacket
	}
	pkt := &CommandPacket{Command: ServerCommand(data[0]), Payload: data[1:]}
	if !pkt.Command.IsValid() {
		return pkt, fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, data[0])
	}
	return pkt, nil
}

// EncodeResponse builds a response packet.
func EncodeResponse(resp ServerResponse, cmd ServerCommand, payload []byte) []byte {
	buf := make([]byte, 2+len(payload))
	buf[0] = byte(resp)
	buf[1] = byte(cmd)
	copy(buf[2:], payload)
	return buf
}

// DecodeResponse splits a response packet.
func DecodeResponse(data []byte) (*ResponsePacket, error) {
	if len(data) < 2 {
		return nil, ErrShortPacket
	}
	pkt := &ResponsePacket{
		Response: ServerResponse(data[0]),
		Command:  ServerCommand(data[1]),
		Payload:  data[2:],
	}
	if !pkt.Response.IsValid() {
		return pkt, fmt.Errorf("%w: 0x%02X", ErrUnknownResponse, data[0])
	}
	return pkt, nil
}
