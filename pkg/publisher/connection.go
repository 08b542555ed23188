package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/gridpulse/gridpulse-go/pkg/cipher"
	"github.com/gridpulse/gridpulse-go/pkg/log"
	"github.com/gridpulse/gridpulse-go/pkg/reconnect"
	"github.com/gridpulse/gridpulse-go/pkg/signal"
	"github.com/gridpulse/gridpulse-go/pkg/transport"
	"github.com/gridpulse/gridpulse-go/pkg/wire"
)

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotSubscribed    = errors.New("not subscribed")
	ErrNoCommandChannel = errors.New("command channel is required")
	ErrHandshakePending = errors.New("connection handshake not complete")

	// ErrSessionEstablished rejects Authenticate once a subscription has
	// bound the connection to a subscriber.
	ErrSessionEstablished = errors.New("subscription session already established")
)

// Connection defaults.
const (
	DefaultSendQueueSize   = 1024
	DefaultReconnectDelay  = time.Second
	DefaultMaxAuthFailures = 3
)

// CommandChannel is the reliable stream to one subscriber.
type CommandChannel interface {
	Send(data []byte) error
	RemoteAddr() net.Addr
	Close() error
}

// DataChannel is the best-effort datagram path to one subscriber.
type DataChannel interface {
	Start() error
	Send(packet []byte) error
	Stop() error
}

// DataChannelFactory builds a data channel from a subscriber-supplied
// configuration string. The channel must call onStopped exactly once when
// it stops; unexpected is false when Stop caused it.
type DataChannelFactory func(config string, peer net.Addr, onStopped func(unexpected bool, err error)) (DataChannel, error)

// UDPDataChannels opens transport.DataChannel instances.
func UDPDataChannels(config string, peer net.Addr, onStopped func(unexpected bool, err error)) (DataChannel, error) {
	dc, err := transport.NewDataChannel(config, peer)
	if err != nil {
		return nil, err
	}
	dc.OnStopped = onStopped
	return dc, nil
}

// ConnectionConfig configures one subscriber connection.
type ConnectionConfig struct {
	// ClientID is the transport-level identity. Generated when zero.
	ClientID uuid.UUID

	// Command is the command channel. Required.
	Command CommandChannel

	// Catalog lists the signals the publisher can send.
	Catalog *signal.Catalog

	// Authenticator validates Authenticate commands. Nil rejects them.
	Authenticator *Authenticator

	// RequireAuthentication rejects Subscribe before Authenticate. When
	// false, an unauthenticated Subscribe is accepted as the client ID with
	// access to every signal.
	RequireAuthentication bool

	// KeyGenerator produces cipher keys. Nil uses crypto/rand.
	KeyGenerator cipher.KeyGenerator

	// MinRotationInterval is the shortest time between two client-driven
	// key rotations (default: 1s).
	MinRotationInterval time.Duration

	// KeepAliveInterval is the NoOP heartbeat period once subscribed
	// (default: 5s).
	KeepAliveInterval time.Duration

	// ReconnectDelay is the wait before each data channel restart attempt
	// (default: 1s).
	ReconnectDelay time.Duration

	// SendQueueSize bounds the outbound queue; data packets beyond it are
	// dropped (default: 1024).
	SendQueueSize int

	// DataChannels opens UDP data channels. Nil uses UDPDataChannels.
	DataChannels DataChannelFactory

	// Resolver supplies reverse DNS names for the connection ID. Nil
	// skips the lookup.
	Resolver *HostResolver

	// Clock drives the heartbeat, reconnect and rotation timers
	// (default: wall clock).
	Clock clock.Clock

	// Logger receives operational logs (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger records protocol events. Nil disables them.
	ProtocolLogger log.Logger

	// Metrics is shared by the connections of one publisher. Nil creates
	// unregistered metrics.
	Metrics *Metrics

	// OnTransportFailure is called once, outside the connection lock, when
	// a heartbeat or a queued write cannot be sent.
	OnTransportFailure func(c *Connection, err error)
}

// outbound is one queued message. Datagrams go to the data channel when
// one is configured.
type outbound struct {
	data     []byte
	datagram bool
}

// Connection is one subscriber session.
type Connection struct {
	config    ConnectionConfig
	clientID  uuid.UUID
	cmd       CommandChannel
	keys      *cipher.Manager
	keepAlive *transport.KeepAlive
	dataLink  *reconnect.Manager
	status    *log.RateLimitedPublisher
	plog      log.Logger
	logger    *slog.Logger
	clock     clock.Clock
	metrics   *Metrics

	// mu serializes commands, timer callbacks and teardown.
	mu             sync.Mutex
	state          State
	authenticated  bool
	subscriber     *SubscriberConfig
	subscriberID   uuid.UUID
	subscriberInfo string
	connectionID   string
	modes          wire.OperationalModes
	authFailures   int
	connectedAt    time.Time

	// Read lock-free by the broadcast path.
	stateSnap        atomic.Uint32
	cache            atomic.Pointer[signal.IndexCache]
	routing          atomic.Bool
	encrypt          atomic.Bool
	startTimePending atomic.Bool
	closed           atomic.Bool
	failed           atomic.Bool
	dropped          atomic.Uint64

	dataMu     sync.Mutex
	data       DataChannel
	dataConfig string

	queue      chan outbound
	done       chan struct{}
	writerDone chan struct{}
}

// NewConnection creates a connection in StateConnecting and starts its
// writer goroutine.
func NewConnection(config ConnectionConfig) (*Connection, error) {
	if config.Command == nil {
		return nil, ErrNoCommandChannel
	}
	if config.ClientID == uuid.Nil {
		config.ClientID = uuid.New()
	}
	if config.Catalog == nil {
		config.Catalog, _ = signal.NewCatalog(nil)
	}
	if config.MinRotationInterval <= 0 {
		config.MinRotationInterval = cipher.DefaultMinRotationInterval
	}
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = transport.DefaultKeepAliveInterval
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = DefaultSendQueueSize
	}
	if config.DataChannels == nil {
		config.DataChannels = UDPDataChannels
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics(nil)
	}

	c := &Connection{
		config:       config,
		clientID:     config.ClientID,
		cmd:          config.Command,
		keys:         cipher.NewManager(config.KeyGenerator),
		plog:         log.OrNoop(config.ProtocolLogger),
		clock:        config.Clock,
		metrics:      config.Metrics,
		state:        StateConnecting,
		subscriberID: config.ClientID,
		modes:        wire.DefaultOperationalModes,
		connectedAt:  config.Clock.Now(),
		queue:        make(chan outbound, config.SendQueueSize),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
	c.connectionID = FormatConnectionID("", c.cmd.RemoteAddr(), c.clientID)
	c.logger = config.Logger.With("client", c.clientID.String())
	c.stateSnap.Store(uint32(StateConnecting))

	c.status = log.NewRateLimitedPublisher(c.logger, log.RateLimitConfig{
		Owner: "connection " + c.clientID.String(),
		Clock: config.Clock,
	})
	c.keepAlive = transport.NewKeepAlive(transport.KeepAliveConfig{
		Interval: config.KeepAliveInterval,
		Clock:    config.Clock,
		Logger:   c.logger,
	}, c.sendNoOp, c.heartbeatFailed)
	c.dataLink = reconnect.NewManager(c.openDataChannel, reconnect.Config{
		Backoff:       reconnect.ConstantBackoff(config.ReconnectDelay),
		Clock:         config.Clock,
		Logger:        c.logger,
		Name:          "data channel",
		OnStateChange: c.dataLinkChanged,
	})

	c.metrics.ConnectedClients.Inc()
	c.logState(log.StateEntityConnection, "", "CONNECTED", "")

	go c.writeLoop()
	return c, nil
}

// Handshake completes the Connecting state: it resolves the connection ID
// (best-effort) and moves to StateAuthenticating.
func (c *Connection) Handshake(ctx context.Context) {
	remote := c.cmd.RemoteAddr()
	host := ""
	if c.config.Resolver != nil && remote != nil {
		if ip, _, err := net.SplitHostPort(remote.String()); err == nil {
			host = c.config.Resolver.LookupHost(ctx, ip)
		}
	}
	id := FormatConnectionID(host, remote, c.clientID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return
	}
	c.connectionID = id
	c.setStateLocked(StateAuthenticating, "")
}

// Disconnect tears the connection down. The heartbeat and the data channel
// reconnect loop are stopped, and waited for, before the channels are
// released. Responses already queued are flushed; data packets are not.
// Calling it again is a no-op.
func (c *Connection) Disconnect(reason string) error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.closed.Store(true)
	c.routing.Store(false)
	c.setStateLocked(StateDisconnected, reason)
	c.mu.Unlock()

	c.keepAlive.Stop()
	c.dataLink.Close()

	close(c.done)
	<-c.writerDone
	err := multierr.Combine(c.closeDataChannel(), c.cmd.Close())

	c.metrics.ConnectedClients.Dec()
	return err
}

// ClientID returns the transport-level identity.
func (c *Connection) ClientID() uuid.UUID {
	return c.clientID
}

// SubscriberID returns the authenticated subscriber, or the client ID
// before authentication.
func (c *Connection) SubscriberID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriberID
}

// ConnectionID returns the human-readable identity.
func (c *Connection) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// SubscriberInfo describes the subscriber's software, if it reported any.
func (c *Connection) SubscriberInfo() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriberInfo
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.stateSnap.Load())
}

// IsSubscribed reports whether data is routed to this connection.
func (c *Connection) IsSubscribed() bool {
	return c.routing.Load()
}

// Authenticated reports whether the subscriber has authenticated.
func (c *Connection) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Encrypted reports whether data packets are encrypted.
func (c *Connection) Encrypted() bool {
	return c.encrypt.Load()
}

// OperationalModes returns the negotiated modes.
func (c *Connection) OperationalModes() wire.OperationalModes {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modes
}

// SignalCache returns the current signal index cache, or nil.
func (c *Connection) SignalCache() *signal.IndexCache {
	return c.cache.Load()
}

// CipherKeys exposes the connection's key manager.
func (c *Connection) CipherKeys() *cipher.Manager {
	return c.keys
}

// AuthFailures returns the number of consecutive failed Authenticate
// commands.
func (c *Connection) AuthFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authFailures
}

// Dropped returns the number of data packets dropped for this connection.
func (c *Connection) Dropped() uint64 {
	return c.dropped.Load()
}

// Status returns a multi-line summary of the connection.
func (c *Connection) Status() string {
	c.mu.Lock()
	name := "(unauthenticated)"
	if c.subscriber != nil {
		name = c.subscriber.Acronym
	}
	subscriberID := c.subscriberID
	connectionID := c.connectionID
	info := c.subscriberInfo
	state := c.state
	modes := c.modes
	connectedAt := c.connectedAt
	c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%-16s%s (%s)\n", "Subscriber:", name, subscriberID)
	fmt.Fprintf(&b, "%-16s%s\n", "Connection:", connectionID)
	if info != "" {
		fmt.Fprintf(&b, "%-16s%s\n", "Software:", info)
	}
	fmt.Fprintf(&b, "%-16s%s since %s\n", "State:", state, connectedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "%-16s%s\n", "Encoding:", modes.Encoding())

	if cache := c.cache.Load(); cache != nil {
		fmt.Fprintf(&b, "%-16s%d authorized, %d unauthorized\n", "Signals:",
			cache.Len(), len(cache.UnauthorizedKeys()))
	} else {
		fmt.Fprintf(&b, "%-16snone\n", "Signals:")
	}

	if index, _, err := c.keys.Active(); err == nil {
		fmt.Fprintf(&b, "%-16s%s slot active, %d rotations, last %s\n", "Cipher:",
			index, c.keys.Rotations(), c.keys.LastRotation().UTC().Format(time.RFC3339))
	} else {
		fmt.Fprintf(&b, "%-16snot established\n", "Cipher:")
	}

	c.dataMu.Lock()
	dataConfig := c.dataConfig
	c.dataMu.Unlock()
	if dataConfig != "" {
		fmt.Fprintf(&b, "%-16s%s (%s)\n", "Data channel:", dataConfig, c.dataLink.State())
	} else {
		fmt.Fprintf(&b, "%-16sshared with command channel\n", "Data channel:")
	}

	fmt.Fprintf(&b, "%-16s%d sent, %d failed, %d packets dropped\n", "Heartbeats:",
		c.keepAlive.Sent(), c.keepAlive.Failures(), c.dropped.Load())
	return b.String()
}

func (c *Connection) setStateLocked(next State, reason string) {
	old := c.state
	if old == next {
		return
	}
	c.state = next
	c.stateSnap.Store(uint32(next))

	switch {
	case next == StateSubscribed:
		c.metrics.SubscribedClients.Inc()
	case old == StateSubscribed:
		c.metrics.SubscribedClients.Dec()
	}

	c.logState(log.StateEntitySubscription, old.String(), next.String(), reason)
	c.logger.Debug("connection state changed", "from", old, "to", next, "reason", reason)
}

// sendNoOp is the heartbeat. It bypasses the queue so a transport failure
// surfaces to the keep-alive directly.
func (c *Connection) sendNoOp() error {
	if c.closed.Load() {
		return nil
	}
	err := c.cmd.Send(wire.EncodeResponse(wire.ResponseNoOP, wire.CommandHeartbeatAck, nil))
	if err == nil {
		c.logControl(log.ControlNoOP, log.DirectionOut)
	}
	return err
}

func (c *Connection) heartbeatFailed(err error) {
	if c.closed.Load() {
		return
	}
	c.metrics.HeartbeatFailures.Inc()
	c.logError(log.LayerTransport, err, "heartbeat")
	c.transportFailed(err)
}

// transportFailed reports the first transport failure to the owner.
func (c *Connection) transportFailed(err error) {
	if c.closed.Load() || !c.failed.CompareAndSwap(false, true) {
		return
	}
	c.status.Error("command channel send failed", "connection", c.ConnectionID(), "error", err)
	if c.config.OnTransportFailure != nil {
		c.config.OnTransportFailure(c, err)
	}
}

func formatSubscriberInfo(req *wire.AuthenticateRequest) string {
	if req.Source == "" {
		return ""
	}
	return fmt.Sprintf("%s version %s built on %s", req.Source, req.Version, req.BuildDate)
}
