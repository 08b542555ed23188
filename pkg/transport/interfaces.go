package transport

import (
	"context"
	"net"
	"time"
)

// ServerConnection is the publisher's view of one subscriber connection.
// Implemented by ServerConn.
type ServerConnection interface {
	RemoteAddr() net.Addr
	ConnID() string
	Secure() bool
	Send(data []byte) error
	Close() error
}

// ClientConnection is the subscriber's view of its command channel.
// Implemented by ClientConn.
type ClientConnection interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Send(data []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
}

// CommandServer accepts command channel connections.
// Implemented by Server.
type CommandServer interface {
	Start(ctx context.Context) error
	Stop() error
	Addr() net.Addr
	ConnectionCount() int
}

// DataSender transmits data packets on a UDP data channel.
// Implemented by DataChannel.
type DataSender interface {
	Send(packet []byte) error
	Stop() error
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ ServerConnection = (*ServerConn)(nil)
	_ ClientConnection = (*ClientConn)(nil)
	_ CommandServer    = (*Server)(nil)
	_ DataSender       = (*DataChannel)(nil)
	_ FrameReadWriter  = (*Framer)(nil)
)
