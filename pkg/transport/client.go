package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gridpulse/gridpulse-go/pkg/log"
)

// DefaultConnectTimeout bounds dialing and the TLS handshake.
const DefaultConnectTimeout = 30 * time.Second

// ClientConfig configures a subscriber's command channel client.
type ClientConfig struct {
	// TLSConfig enables TLS when non-nil. Build it with NewClientTLSConfig.
	TLSConfig *tls.Config

	// MaxMessageSize is the maximum frame payload size.
	MaxMessageSize uint32

	// ConnectTimeout applies when the dial context has no deadline.
	ConnectTimeout time.Duration

	// Logger for protocol logging (optional).
	Logger log.Logger
}

// Client dials publishers.
type Client struct {
	config ClientConfig
}

// NewClient creates a new command channel client.
func NewClient(config ClientConfig) *Client {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	return &Client{config: config}
}

// Connect establishes a command channel to address.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	var tlsState *tls.ConnectionState
	if c.config.TLSConfig != nil {
		tlsConf := c.config.TLSConfig
		if tlsConf.ServerName == "" && !tlsConf.InsecureSkipVerify {
			tlsConf = tlsConf.Clone()
			if host, _, err := net.SplitHostPort(address); err == nil {
				tlsConf.ServerName = host
			}
		}
		tlsConn := tls.Client(conn, tlsConf)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		state := tlsConn.ConnectionState()
		if err := VerifyConnection(state); err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("connection verification failed: %w", err)
		}
		tlsState = &state
		conn = tlsConn
	}

	framer := NewFramerWithMaxSize(conn, c.config.MaxMessageSize)
	if c.config.Logger != nil {
		framer.SetLogger(c.config.Logger, conn.LocalAddr().String(), log.RoleSubscriber)
	}

	return &ClientConn{
		conn:     conn,
		framer:   framer,
		tlsState: tlsState,
		closeCh:  make(chan struct{}),
	}, nil
}

// ClientConn is a subscriber's command channel connection.
type ClientConn struct {
	conn     net.Conn
	framer   *Framer
	tlsState *tls.ConnectionState
	closeCh  chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
	readMu    sync.Mutex
}

// TLSState returns the TLS connection state, or nil for plain TCP.
func (c *ClientConn) TLSState() *tls.ConnectionState {
	return c.tlsState
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one frame to the publisher.
func (c *ClientConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	return c.framer.WriteFrame(data)
}

// Receive reads one frame. A zero timeout blocks until a frame arrives or
// the connection closes.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	return c.framer.ReadFrame()
}

// Close closes the connection. Safe to call more than once.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}
