package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gridpulse/gridpulse-go/pkg/log"
)

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrServerRunning    = errors.New("server already running")
)

// DefaultHandshakeTimeout bounds the TLS handshake of an accepted connection.
const DefaultHandshakeTimeout = 10 * time.Second

// DefaultWriteTimeout bounds a single command channel write.
const DefaultWriteTimeout = 5 * time.Second

// ServerConfig configures a command channel server.
type ServerConfig struct {
	// Address to listen on (e.g. ":6165" or "127.0.0.1:0").
	Address string

	// TLSConfig enables TLS when non-nil. Build it with NewServerTLSConfig.
	TLSConfig *tls.Config

	// MaxMessageSize is the maximum frame payload size.
	MaxMessageSize uint32

	// WriteTimeout bounds each Send; zero selects DefaultWriteTimeout.
	WriteTimeout time.Duration

	// Logger for protocol logging (optional).
	Logger log.Logger

	// OnConnect is called when a new connection is established.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called after a connection's read loop ends.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called for every received frame, from the connection's
	// read goroutine.
	OnMessage func(conn *ServerConn, msg []byte)

	// OnError is called when an error occurs. conn is nil for listener
	// errors.
	OnError func(conn *ServerConn, err error)
}

// Server accepts subscriber command channel connections.
type Server struct {
	config   ServerConfig
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new command channel server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}

	return &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}, nil
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop stops accepting, closes all connections and waits for their
// goroutines.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()

	err := s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Secure reports whether accepted connections use TLS.
func (s *Server) Secure() bool {
	return s.config.TLSConfig != nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			if s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept error: %w", err))
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	var tlsState *tls.ConnectionState
	if s.config.TLSConfig != nil {
		tlsConn := tls.Server(conn, s.config.TLSConfig)
		hsCtx, cancel := context.WithTimeout(s.ctx, DefaultHandshakeTimeout)
		err := tlsConn.HandshakeContext(hsCtx)
		cancel()
		if err == nil {
			state := tlsConn.ConnectionState()
			err = VerifyConnection(state)
			tlsState = &state
		}
		if err != nil {
			conn.Close()
			if s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("TLS handshake with %s failed: %w", conn.RemoteAddr(), err))
			}
			return
		}
		conn = tlsConn
	}

	connID := uuid.New().String()
	framer := NewFramerWithMaxSize(conn, s.config.MaxMessageSize)
	if s.config.Logger != nil {
		framer.SetLogger(s.config.Logger, connID, log.RolePublisher)
	}

	sconn := &ServerConn{
		conn:       conn,
		framer:     framer,
		tlsState:   tlsState,
		server:     s,
		closeCh:    make(chan struct{}),
		remoteAddr: conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
		connID:     connID,
	}

	s.connsMu.Lock()
	if !s.running.Load() {
		s.connsMu.Unlock()
		conn.Close()
		return
	}
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	sconn.logState("", "CONNECTED")

	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	sconn.readLoop()
	sconn.Close()

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()

	sconn.logState("CONNECTED", "DISCONNECTED")

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

// ServerConn is one accepted command channel connection.
type ServerConn struct {
	conn       net.Conn
	framer     *Framer
	tlsState   *tls.ConnectionState
	server     *Server
	closeCh    chan struct{}
	closeOnce  sync.Once
	remoteAddr net.Addr
	localAddr  net.Addr
	connID     string

	writeMu sync.Mutex
}

// RemoteAddr returns the remote address of the subscriber.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// LocalAddr returns the local address the subscriber connected to.
func (c *ServerConn) LocalAddr() net.Addr {
	return c.localAddr
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// TLSState returns the TLS connection state, or nil for plain TCP.
func (c *ServerConn) TLSState() *tls.ConnectionState {
	return c.tlsState
}

// Secure reports whether the connection is TLS protected.
func (c *ServerConn) Secure() bool {
	return c.tlsState != nil
}

// Done is closed once the connection is closed.
func (c *ServerConn) Done() <-chan struct{} {
	return c.closeCh
}

// Send writes one frame to the subscriber.
func (c *ServerConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
	return c.framer.WriteFrame(data)
}

// Close closes the connection. Safe to call more than once.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *ServerConn) readLoop() {
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				if c.server.running.Load() && c.server.config.OnError != nil && !isClosedErr(err) {
					c.server.config.OnError(c, err)
				}
			}
			return
		}

		if c.server.config.OnMessage != nil {
			c.server.config.OnMessage(c, data)
		}
	}
}

func (c *ServerConn) logState(oldState, newState string) {
	if c.server.config.Logger == nil {
		return
	}
	c.server.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    log.RolePublisher,
		RemoteAddr:   c.remoteAddr.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
		},
	})
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
