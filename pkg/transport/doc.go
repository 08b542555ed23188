// Package transport carries gridpulse traffic between a publisher and its
// subscribers.
//
// Two channels exist per subscriber:
//   - The command channel: a TCP stream, optionally wrapped in TLS 1.3,
//     carrying length-prefixed frames (4-byte big-endian length, then the
//     encoded command or response).
//   - The data channel: an optional UDP socket the publisher opens toward a
//     subscriber-supplied endpoint. When no data channel is active, data
//     packets travel over the command channel.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│  Commands / Responses (wire)   │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│      TLS 1.3 (optional)        │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Keep-Alive
//
// The publisher sends a NoOP response on every subscriber connection every
// five seconds. A failed send means the peer is gone and the connection is
// torn down.
package transport
