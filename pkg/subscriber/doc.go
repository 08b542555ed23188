// Package subscriber implements the client side of the gridpulse command
// protocol.
//
// A Client dials a publisher, authenticates, negotiates operational modes
// and subscribes to signals. The receive loop answers keep-alive probes,
// installs signal index caches and cipher keys as they arrive, and turns
// data packets back into signal.Frames delivered through OnFrame. Data can
// arrive on the command channel or on a UDP data channel the client
// listens on.
//
// After an unexpected loss of the command channel the client reconnects
// with exponential backoff and restores the authentication, operational
// modes and subscription that were in effect.
package subscriber
