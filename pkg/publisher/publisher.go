package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/gridpulse/gridpulse-go/pkg/cipher"
	"github.com/gridpulse/gridpulse-go/pkg/fault"
	"github.com/gridpulse/gridpulse-go/pkg/log"
	"github.com/gridpulse/gridpulse-go/pkg/signal"
	"github.com/gridpulse/gridpulse-go/pkg/transport"
)

// ErrNotStarted is returned by operations that need a running publisher.
var ErrNotStarted = errors.New("publisher not started")

// Config configures a Publisher.
type Config struct {
	// ListenAddress is the command channel address (e.g. ":6165").
	ListenAddress string

	// TLS enables TLS on the command channel when it names a certificate.
	TLS *transport.TLSConfig

	// RequireAuthentication rejects Subscribe before Authenticate.
	RequireAuthentication bool

	// Subscribers lists the identities allowed to authenticate.
	Subscribers []SubscriberConfig

	// KeepAliveInterval is the heartbeat period (default: 5s).
	KeepAliveInterval time.Duration

	// ReconnectDelay is the data channel restart delay (default: 1s).
	ReconnectDelay time.Duration

	// MinRotationInterval rate-limits client key rotations (default: 1s).
	MinRotationInterval time.Duration

	// SendQueueSize is the per-connection outbound queue (default: 1024).
	SendQueueSize int

	// MaxAuthFailures disconnects a client after this many rejected
	// Authenticate commands.
	MaxAuthFailures int

	// MaxMessageSize caps command channel frames (default:
	// transport.DefaultMaxMessageSize).
	MaxMessageSize uint32

	// ReverseLookup resolves client host names for connection IDs.
	ReverseLookup bool

	// Resolver caches reverse lookups. Nil builds one when ReverseLookup
	// is set.
	Resolver *HostResolver

	// DataChannels opens UDP data channels (default: UDPDataChannels).
	DataChannels DataChannelFactory

	// KeyGenerator produces cipher keys (default: crypto/rand).
	KeyGenerator cipher.KeyGenerator

	// Clock drives every connection timer (default: wall clock).
	Clock clock.Clock

	// Logger receives operational logs (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger records protocol events of every connection. Nil
	// disables them.
	ProtocolLogger log.Logger

	// Registerer receives the publisher metrics. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
}

// DefaultConfig returns a configuration with authentication required and
// the standard timer intervals.
func DefaultConfig() Config {
	return Config{
		ListenAddress:         fmt.Sprintf(":%d", transport.DefaultPort),
		RequireAuthentication: true,
		KeepAliveInterval:     transport.DefaultKeepAliveInterval,
		ReconnectDelay:        DefaultReconnectDelay,
		MinRotationInterval:   cipher.DefaultMinRotationInterval,
		SendQueueSize:         DefaultSendQueueSize,
		MaxAuthFailures:       DefaultMaxAuthFailures,
		ReverseLookup:         true,
	}
}

// Publisher is the connection registry. It owns every Connection and is
// the only caller of Connection.Disconnect.
type Publisher struct {
	config  Config
	catalog *signal.Catalog
	auth    *Authenticator
	metrics *Metrics
	logger  *slog.Logger
	server  *transport.Server

	mu    sync.RWMutex
	conns map[*transport.ServerConn]*Connection
	byID  map[uuid.UUID]*Connection
	ctx   context.Context
}

// New validates the configuration and builds an unstarted publisher.
func New(config Config, catalog *signal.Catalog) (*Publisher, error) {
	if catalog == nil {
		return nil, fault.Configuration("publisher.New", errors.New("signal catalog is required"))
	}
	if config.MaxAuthFailures <= 0 {
		config.MaxAuthFailures = DefaultMaxAuthFailures
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ReverseLookup && config.Resolver == nil {
		config.Resolver = NewHostResolver(nil, DefaultResolverCacheSize, DefaultResolverTTL)
	}

	auth, err := NewAuthenticator(config.Subscribers)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		config:  config,
		catalog: catalog,
		auth:    auth,
		metrics: NewMetrics(config.Registerer),
		logger:  config.Logger,
		conns:   make(map[*transport.ServerConn]*Connection),
		byID:    make(map[uuid.UUID]*Connection),
		ctx:     context.Background(),
	}

	serverCfg := transport.ServerConfig{
		Address:        config.ListenAddress,
		MaxMessageSize: config.MaxMessageSize,
		Logger:         config.ProtocolLogger,
		OnConnect:      p.handleConnect,
		OnDisconnect:   p.handleDisconnect,
		OnMessage:      p.handleMessage,
		OnError:        p.handleError,
	}
	if config.TLS.Enabled() {
		tlsCfg, err := transport.NewServerTLSConfig(config.TLS)
		if err != nil {
			return nil, fault.Configuration("publisher.New", err)
		}
		serverCfg.TLSConfig = tlsCfg
	}

	p.server, err = transport.NewServer(serverCfg)
	if err != nil {
		return nil, fault.Configuration("publisher.New", err)
	}
	return p, nil
}

// Start begins accepting subscribers.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	if err := p.server.Start(ctx); err != nil {
		return err
	}
	p.logger.Info("publisher listening",
		"address", p.server.Addr(),
		"tls", p.server.Secure(),
		"signals", p.catalog.Len(),
		"subscribers", p.auth.Len())
	return nil
}

// Stop closes the listener and disconnects every subscriber.
func (p *Publisher) Stop() error {
	err := p.server.Stop()

	p.mu.Lock()
	remaining := make([]*Connection, 0, len(p.conns))
	for sconn, conn := range p.conns {
		remaining = append(remaining, conn)
		delete(p.conns, sconn)
		delete(p.byID, conn.ClientID())
	}
	p.mu.Unlock()

	for _, conn := range remaining {
		err = multierr.Append(err, conn.Disconnect("publisher stopped"))
	}
	return err
}

// Addr returns the command channel listen address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	return p.server.Addr()
}

// Secure reports whether the command channel uses TLS.
func (p *Publisher) Secure() bool {
	return p.server.Secure()
}

// Catalog returns the published signals.
func (p *Publisher) Catalog() *signal.Catalog {
	return p.catalog
}

// Metrics returns the publisher's collectors.
func (p *Publisher) Metrics() *Metrics {
	return p.metrics
}

// Broadcast hands frame to every subscribed connection and returns how
// many accepted it.
func (p *Publisher) Broadcast(frame *signal.Frame) int {
	p.metrics.FramesPublished.Inc()

	delivered := 0
	for _, conn := range p.Connections() {
		if conn.Publish(frame) {
			delivered++
		}
	}
	return delivered
}

// RotateAllCipherKeys rotates the keys of every subscribed connection that
// uses encryption.
func (p *Publisher) RotateAllCipherKeys() error {
	var err error
	for _, conn := range p.Connections() {
		if rerr := conn.ForceRotateCipherKeys(); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", conn.ConnectionID(), rerr))
		}
	}
	return err
}

// Connections returns a snapshot of the current connections.
func (p *Publisher) Connections() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Connection, 0, len(p.conns))
	for _, conn := range p.conns {
		out = append(out, conn)
	}
	return out
}

// Connection returns the connection with the given client ID.
func (p *Publisher) Connection(clientID uuid.UUID) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.byID[clientID]
	return conn, ok
}

// ConnectionCount returns the number of registered connections.
func (p *Publisher) ConnectionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// Disconnect removes the connection with the given client ID.
func (p *Publisher) Disconnect(clientID uuid.UUID, reason string) error {
	conn, ok := p.Connection(clientID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscriber, clientID)
	}
	return p.remove(conn, reason)
}

func (p *Publisher) handleConnect(sconn *transport.ServerConn) {
	clientID, err := uuid.Parse(sconn.ConnID())
	if err != nil {
		clientID = uuid.New()
	}

	conn, err := NewConnection(ConnectionConfig{
		ClientID:              clientID,
		Command:               sconn,
		Catalog:               p.catalog,
		Authenticator:         p.auth,
		RequireAuthentication: p.config.RequireAuthentication,
		KeyGenerator:          p.config.KeyGenerator,
		MinRotationInterval:   p.config.MinRotationInterval,
		KeepAliveInterval:     p.config.KeepAliveInterval,
		ReconnectDelay:        p.config.ReconnectDelay,
		SendQueueSize:         p.config.SendQueueSize,
		DataChannels:          p.config.DataChannels,
		Resolver:              p.config.Resolver,
		Clock:                 p.config.Clock,
		Logger:                p.logger,
		ProtocolLogger:        p.config.ProtocolLogger,
		Metrics:               p.metrics,
		OnTransportFailure: func(c *Connection, err error) {
			go p.remove(c, "transport failure: "+err.Error())
		},
	})
	if err != nil {
		p.logger.Error("failed to create connection", "remote", sconn.RemoteAddr(), "error", err)
		sconn.Close()
		return
	}

	p.mu.Lock()
	p.conns[sconn] = conn
	p.byID[clientID] = conn
	ctx := p.ctx
	p.mu.Unlock()

	conn.Handshake(ctx)
	p.logger.Info("subscriber connected", "connection", conn.ConnectionID(), "client", clientID)
}

func (p *Publisher) handleMessage(sconn *transport.ServerConn, msg []byte) {
	p.mu.RLock()
	conn := p.conns[sconn]
	p.mu.RUnlock()
	if conn == nil {
		return
	}

	err := conn.HandleCommand(msg)
	switch {
	case err == nil:
	case fault.Is(err, fault.KindPolicyRejection):
		p.logger.Debug("command rejected", "connection", conn.ConnectionID(), "error", err)
	default:
		p.logger.Warn("command failed", "connection", conn.ConnectionID(), "error", err)
	}

	if conn.AuthFailures() >= p.config.MaxAuthFailures {
		p.remove(conn, "too many authentication failures")
	}
}

func (p *Publisher) handleDisconnect(sconn *transport.ServerConn) {
	p.mu.RLock()
	conn := p.conns[sconn]
	p.mu.RUnlock()
	if conn != nil {
		p.remove(conn, "connection closed")
	}
}

func (p *Publisher) handleError(sconn *transport.ServerConn, err error) {
	if sconn == nil {
		p.logger.Warn("command channel listener error", "error", err)
		return
	}
	p.logger.Debug("command channel error", "remote", sconn.RemoteAddr(), "error", err)
}

// remove unregisters conn and tears it down. Every removal path ends here.
func (p *Publisher) remove(conn *Connection, reason string) error {
	p.mu.Lock()
	// Registered connections always run on the ServerConn they are keyed by.
	if sconn, ok := conn.cmd.(*transport.ServerConn); ok && p.conns[sconn] == conn {
		delete(p.conns, sconn)
	}
	if p.byID[conn.ClientID()] == conn {
		delete(p.byID, conn.ClientID())
	}
	p.mu.Unlock()

	err := conn.Disconnect(reason)
	p.logger.Info("subscriber disconnected", "connection", conn.ConnectionID(), "reason", reason)
	return err
}
