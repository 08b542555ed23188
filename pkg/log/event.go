package log

import (
	"time"

	"github.com/gridpulse/gridpulse-go/pkg/wire"
)

// Event is one protocol log record. CBOR encoding uses integer keys.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID is the transport client ID (UUID string).
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`
	LocalRole Role      `cbor:"6,keyasint,omitempty"`

	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// SubscriberID is set once the connection has authenticated.
	SubscriberID string `cbor:"8,keyasint,omitempty"`

	// Exactly one of the following is set.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Command     *CommandEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Control     *ControlEvent     `cbor:"13,keyasint,omitempty"`
	Cipher      *CipherEvent      `cbor:"14,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"15,keyasint,omitempty"`
}

// Direction indicates message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where the event was captured.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the decoded command/response layer.
	LayerWire Layer = 1
	// LayerSession is the subscriber connection layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryControl Category = 1
	CategoryState   Category = 2
	CategoryCipher  Category = 3
	CategoryError   Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryCipher:
		return "CIPHER"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role is the local side of the connection.
type Role uint8

const (
	RolePublisher  Role = 0
	RoleSubscriber Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "PUBLISHER"
	case RoleSubscriber:
		return "SUBSCRIBER"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a raw frame at the transport layer.
type FrameEvent struct {
	// Size includes the length prefix.
	Size int `cbor:"1,keyasint"`

	// Data may be truncated for large frames.
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// CommandEvent captures a decoded command or response.
type CommandEvent struct {
	Command wire.ServerCommand `cbor:"1,keyasint"`

	// Response is set for publisher responses.
	Response *wire.ServerResponse `cbor:"2,keyasint,omitempty"`

	// Message is the human-readable text of Succeeded/Failed responses.
	Message string `cbor:"3,keyasint,omitempty"`

	PayloadSize int `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures lifecycle transitions.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	StateEntityConnection   StateEntity = 0
	StateEntityDataChannel  StateEntity = 1
	StateEntitySubscription StateEntity = 2
)

// String returns the entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityDataChannel:
		return "DATA_CHANNEL"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// ControlEvent captures keep-alive traffic and closes.
type ControlEvent struct {
	Type ControlType `cbor:"1,keyasint"`
}

// ControlType is the kind of control message.
type ControlType uint8

const (
	ControlNoOP         ControlType = 0
	ControlHeartbeatAck ControlType = 1
	ControlClose        ControlType = 2
)

// String returns the control type name.
func (c ControlType) String() string {
	switch c {
	case ControlNoOP:
		return "NOOP"
	case ControlHeartbeatAck:
		return "HEARTBEAT_ACK"
	case ControlClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// CipherEvent captures a key rotation.
type CipherEvent struct {
	// Index is the active slot after rotation.
	Index uint8 `cbor:"1,keyasint"`

	// Rotation counts successful rotations on the connection.
	Rotation uint64 `cbor:"2,keyasint"`

	// Wrapped is set when the material was encrypted with a shared secret.
	Wrapped bool `cbor:"3,keyasint,omitempty"`

	// Rejected holds the reason when the rotation was refused.
	Rejected string `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Kind is the fault classification name, if known.
	Kind string `cbor:"3,keyasint,omitempty"`

	// Context describes the operation being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
