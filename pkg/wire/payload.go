package wire

import (
	"time"

	"github.com/google/uuid"
)

// AuthenticateRequest is the payload of CommandAuthenticate.
type AuthenticateRequest struct {
	// SubscriberID is the identity declared in the publisher's configuration.
	SubscriberID uuid.UUID `cbor:"1,keyasint"`

	// Token is HMAC-SHA256(sharedSecret, SubscriberID). Empty for
	// subscribers configured without a secret.
	Token []byte `cbor:"2,keyasint,omitempty"`

	// Software description, reported in status output.
	Source    string `cbor:"3,keyasint,omitempty"`
	Version   string `cbor:"4,keyasint,omitempty"`
	BuildDate string `cbor:"5,keyasint,omitempty"`
}

// SubscribeRequest is the payload of CommandSubscribe.
type SubscribeRequest struct {
	// Signals lists measurement keys ("SOURCE:ID") or "*" for all
	// signals the subscriber may receive.
	Signals []string `cbor:"1,keyasint"`

	// DataChannel is a data channel configuration string. Empty means
	// data shares the command channel.
	DataChannel string `cbor:"2,keyasint,omitempty"`

	// Encrypt requests encrypted data packets.
	Encrypt bool `cbor:"3,keyasint,omitempty"`

	// StartTime, when set, is echoed in a DataStartTime response with the
	// first frame delivered.
	StartTime *time.Time `cbor:"4,keyasint,omitempty"`
}

// CacheEntry is one compact index assignment.
type CacheEntry struct {
	Index    uint16    `cbor:"1,keyasint"`
	SignalID uuid.UUID `cbor:"2,keyasint"`
	Key      string    `cbor:"3,keyasint"`
}

// SignalIndexCacheMessage is the payload of ResponseUpdateSignalIndexCache.
type SignalIndexCacheMessage struct {
	SubscriberID uuid.UUID    `cbor:"1,keyasint"`
	Entries      []CacheEntry `cbor:"2,keyasint"`
	Unauthorized []string     `cbor:"3,keyasint,omitempty"`
}

// CipherKeysMessage is the payload of ResponseUpdateCipherKeys.
type CipherKeysMessage struct {
	// Wrapped is set when Material is encrypted with the shared secret.
	Wrapped bool `cbor:"1,keyasint"`

	// Material is the serialized key material.
	Material []byte `cbor:"2,keyasint"`
}

// DefineOperationalModesRequest is the payload of
// CommandDefineOperationalModes.
type DefineOperationalModesRequest struct {
	Modes OperationalModes `cbor:"1,keyasint"`
}
