// Package wire defines the command-channel and data-channel formats of the
// GridPulse streaming protocol.
//
// Every command-channel message travels in one length-prefixed frame (see
// package transport). Inside the frame:
//
//	client -> publisher:  [command byte][payload...]
//	publisher -> client:  [response byte][command byte][payload...]
//
// Structured payloads (authentication, subscription, signal index caches)
// are CBOR maps with integer keys. Human-readable messages carried by
// Succeeded and Failed responses are encoded with the text encoding the
// client selected through its OperationalModes.
//
// # Data packets
//
// Measurements are sent as DataPacket responses (on the command channel) or
// as bare datagrams on the data channel:
//
//	[flags byte][payload...]
//
// The payload is a timestamp, a count, and fixed-size records keyed by the
// 16-bit compact signal index. When FlagEncrypted is set the payload is
// encrypted with the key slot named by FlagCipherIndex.
package wire
