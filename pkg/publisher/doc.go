// Package publisher serves measurement frames to subscribers.
//
// A Publisher accepts command channel connections and creates one
// Connection per client. Each Connection walks the state machine
//
//	Connecting → Authenticating → Subscribed ⇄ Unsubscribed → Disconnected
//
// and owns everything scoped to one subscriber: its signal index cache,
// cipher key manager, keep-alive heartbeat and the optional UDP data channel
// with its reconnect loop. Disconnected is reachable from every state and
// is terminal.
//
// # Commands
//
// Clients drive a Connection with Authenticate, Subscribe, Unsubscribe,
// RotateCipherKeys, DefineOperationalModes and HeartbeatAck. Every command
// is answered with Succeeded or Failed tagged with the command code;
// Subscribe is preceded by UpdateSignalIndexCache and, when encryption is
// requested, UpdateCipherKeys.
//
// # Concurrency
//
// Command handling and timer callbacks for one Connection are serialized by
// the Connection's lock. Broadcast takes a snapshot of the connection set
// and hands each subscribed Connection an encoded packet through a bounded
// queue, so a stalled subscriber drops its own frames without delaying the
// others.
package publisher
