package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/gridpulse/gridpulse-go/pkg/cipher"
	"github.com/gridpulse/gridpulse-go/pkg/fault"
	"github.com/gridpulse/gridpulse-go/pkg/log"
	"github.com/gridpulse/gridpulse-go/pkg/reconnect"
	"github.com/gridpulse/gridpulse-go/pkg/signal"
	"github.com/gridpulse/gridpulse-go/pkg/transport"
	"github.com/gridpulse/gridpulse-go/pkg/version"
	"github.com/gridpulse/gridpulse-go/pkg/wire"
)

// DefaultResponseTimeout bounds the wait for a command response.
const DefaultResponseTimeout = 5 * time.Second

// Client errors.
var (
	ErrClientClosed  = errors.New("client is closed")
	ErrNotConnected  = errors.New("not connected")
	ErrNoAddress     = errors.New("publisher address is required")
	ErrNoSubscriber  = errors.New("subscriber ID is required")
	ErrNoSignalCache = errors.New("no signal index cache")
)

// CommandError is a Failed response to a command.
type CommandError struct {
	Command wire.ServerCommand
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Command, e.Message)
}

// Response is a decoded Succeeded or Failed response.
type Response struct {
	Response wire.ServerResponse
	Command  wire.ServerCommand
	Message  string
}

// Config configures a Client.
type Config struct {
	// Address is the publisher command channel "host:port".
	Address string

	SubscriberID uuid.UUID

	// SharedSecret authenticates the subscriber and unwraps cipher keys.
	SharedSecret string

	// TLS enables TLS on the command channel.
	TLS *transport.TLSConfig

	// ResponseTimeout bounds each command when the context has no deadline.
	ResponseTimeout time.Duration

	// Reconnect restores the session after an unexpected disconnect.
	Reconnect bool

	// Backoff paces reconnect attempts (default: 1s doubling to 30s).
	Backoff reconnect.BackoffConfig

	// Clock drives reconnect timers (default: wall clock).
	Clock clock.Clock

	// Logger receives operational logs (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger records protocol events. Nil disables them.
	ProtocolLogger log.Logger

	// OnFrame receives every decoded frame, on the goroutine that read it.
	OnFrame func(frame *signal.Frame)

	// OnResponse receives every Succeeded and Failed response.
	OnResponse func(resp *Response)

	// OnError receives receive-loop, decode and restore errors.
	OnError func(err error)
}

// SubscribeOptions describes a subscription.
type SubscribeOptions struct {
	// Signals lists "SOURCE:ID" keys, or "*".
	Signals []string

	// Encrypt requests encrypted data packets.
	Encrypt bool

	// UDPAddress, when set, is the local address of a UDP data channel
	// (e.g. ":0"). Empty receives data on the command channel.
	UDPAddress string

	// StartTime requests a DataStartTime response with the first frame.
	StartTime *time.Time
}

// session is what reconnects restore.
type session struct {
	authenticated bool
	modes         wire.OperationalModes
	subscription  *SubscribeOptions
}

// Client is a subscriber connection to one publisher.
type Client struct {
	config  Config
	client  *transport.Client
	link    *reconnect.Manager
	logger  *slog.Logger
	timeout time.Duration

	// reqMu serializes commands that wait for a response.
	reqMu sync.Mutex

	mu       sync.Mutex
	conn     *transport.ClientConn
	listener *transport.DataListener
	session  session
	closed   bool

	pending   map[wire.ServerCommand]chan *Response
	pendingMu sync.Mutex

	modes     atomic.Uint32
	cache     atomic.Pointer[signal.IndexCache]
	keys      atomic.Pointer[cipher.Material]
	startTime atomic.Pointer[time.Time]

	frames     atomic.Uint64
	packets    atomic.Uint64
	heartbeats atomic.Uint64
	failures   atomic.Uint64

	wg sync.WaitGroup
}

// New validates the configuration and builds an unconnected client.
func New(config Config) (*Client, error) {
	if config.Address == "" {
		return nil, fault.Configuration("subscriber.New", ErrNoAddress)
	}
	if config.SubscriberID == uuid.Nil {
		return nil, fault.Configuration("subscriber.New", ErrNoSubscriber)
	}
	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = DefaultResponseTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	clientCfg := transport.ClientConfig{Logger: config.ProtocolLogger}
	if config.TLS.Enabled() {
		tlsCfg, err := transport.NewClientTLSConfig(config.TLS)
		if err != nil {
			return nil, fault.Configuration("subscriber.New", err)
		}
		clientCfg.TLSConfig = tlsCfg
	}

	c := &Client{
		config:  config,
		client:  transport.NewClient(clientCfg),
		logger:  config.Logger.With("component", "subscriber", "publisher", config.Address),
		timeout: config.ResponseTimeout,
		pending: make(map[wire.ServerCommand]chan *Response),
		session: session{modes: wire.DefaultOperationalModes},
	}
	c.modes.Store(uint32(wire.DefaultOperationalModes))

	c.link = reconnect.NewManager(c.dial, reconnect.Config{
		Backoff:       config.Backoff,
		Clock:         config.Clock,
		Logger:        c.logger,
		Name:          "command channel",
		OnStateChange: c.linkChanged,
	})
	return c, nil
}

// Connect dials the publisher.
func (c *Client) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	if err := c.link.Connect(ctx); err != nil {
		return fault.Transient("subscriber.Connect", err)
	}
	return nil
}

// Connected reports whether the command channel is up.
func (c *Client) Connected() bool {
	return c.link.IsConnected()
}

// Authenticate proves the configured subscriber identity.
func (c *Client) Authenticate(ctx context.Context) error {
	req := &wire.AuthenticateRequest{
		SubscriberID: c.config.SubscriberID,
		Source:       version.Source,
		Version:      version.Software,
		BuildDate:    version.BuildDate,
	}
	if c.config.SharedSecret != "" {
		req.Token = cipher.AuthToken(c.config.SharedSecret, c.config.SubscriberID)
	}
	payload, err := wire.Marshal(req)
	if err != nil {
		return err
	}

	if _, err := c.request(ctx, wire.CommandAuthenticate, payload); err != nil {
		return err
	}

	c.mu.Lock()
	c.session.authenticated = true
	c.mu.Unlock()
	return nil
}

// DefineOperationalModes changes the text encoding of later responses. The
// publisher answers only when it rejects the modes; that answer arrives
// through OnResponse.
func (c *Client) DefineOperationalModes(modes wire.OperationalModes) error {
	if _, err := modes.TextEncoding(); err != nil {
		return fault.Protocol("subscriber.DefineOperationalModes", err)
	}
	payload, err := wire.Marshal(&wire.DefineOperationalModesRequest{Modes: modes})
	if err != nil {
		return err
	}
	if err := c.send(wire.CommandDefineOperationalModes, payload); err != nil {
		return err
	}

	c.modes.Store(uint32(modes))
	c.mu.Lock()
	c.session.modes = modes
	c.mu.Unlock()
	return nil
}

// Subscribe requests signals. It returns once the publisher confirms the
// subscription; the signal cache and any cipher keys are installed by then.
func (c *Client) Subscribe(ctx context.Context, opts SubscribeOptions) (*Response, error) {
	req := &wire.SubscribeRequest{
		Signals:   opts.Signals,
		Encrypt:   opts.Encrypt,
		StartTime: opts.StartTime,
	}

	if opts.UDPAddress != "" {
		listener, err := c.dataListener(opts.UDPAddress)
		if err != nil {
			return nil, fault.Configuration("subscriber.Subscribe", err)
		}
		req.DataChannel = listener.ConfigString()
	} else {
		c.closeListener()
	}

	payload, err := wire.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.request(ctx, wire.CommandSubscribe, payload)
	if err != nil {
		return resp, err
	}

	saved := opts
	c.mu.Lock()
	c.session.subscription = &saved
	c.mu.Unlock()
	return resp, nil
}

// Unsubscribe stops data delivery and releases the data channel.
func (c *Client) Unsubscribe(ctx context.Context) (*Response, error) {
	resp, err := c.request(ctx, wire.CommandUnsubscribe, nil)
	if err != nil {
		return resp, err
	}

	c.mu.Lock()
	c.session.subscription = nil
	c.mu.Unlock()
	c.closeListener()
	c.cache.Store(nil)
	return resp, nil
}

// RotateCipherKeys asks the publisher for new keys.
func (c *Client) RotateCipherKeys(ctx context.Context) (*Response, error) {
	return c.request(ctx, wire.CommandRotateCipherKeys, nil)
}

// Close disconnects and stops all goroutines. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, listener := c.conn, c.listener
	c.conn, c.listener = nil, nil
	c.mu.Unlock()

	c.link.Close()

	var err error
	if conn != nil {
		err = multierr.Append(err, conn.Close())
	}
	if listener != nil {
		err = multierr.Append(err, listener.Close())
	}
	c.failPending()
	c.wg.Wait()
	return err
}

// SignalCache returns the active signal index cache, or nil.
func (c *Client) SignalCache() *signal.IndexCache {
	return c.cache.Load()
}

// CipherKeys returns the last received key material, or nil.
func (c *Client) CipherKeys() *cipher.Material {
	return c.keys.Load()
}

// StartTime returns the timestamp of the first frame of the subscription,
// if the publisher reported one.
func (c *Client) StartTime() (time.Time, bool) {
	ts := c.startTime.Load()
	if ts == nil {
		return time.Time{}, false
	}
	return *ts, true
}

// OperationalModes returns the modes in effect.
func (c *Client) OperationalModes() wire.OperationalModes {
	return wire.OperationalModes(c.modes.Load())
}

// Frames returns the number of frames delivered.
func (c *Client) Frames() uint64 { return c.frames.Load() }

// Heartbeats returns the number of keep-alive probes answered.
func (c *Client) Heartbeats() uint64 { return c.heartbeats.Load() }

// DecodeFailures returns the number of data packets that could not be
// decoded.
func (c *Client) DecodeFailures() uint64 { return c.failures.Load() }

// Status returns a one-line summary.
func (c *Client) Status() string {
	signals := 0
	if cache := c.cache.Load(); cache != nil {
		signals = cache.Len()
	}
	keys := "none"
	if m := c.keys.Load(); m != nil {
		keys = m.Index.String()
	}
	return fmt.Sprintf("%s: %s, %d signals, keys %s, %d packets, %d frames, %d heartbeats",
		c.config.Address, c.link.State(), signals, keys, c.packets.Load(), c.frames.Load(), c.heartbeats.Load())
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// dial is the reconnect.ConnectFunc for the command channel.
func (c *Client) dial(ctx context.Context) error {
	conn, err := c.client.Connect(ctx, c.config.Address)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClientClosed
	}
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	c.logger.Info("connected", "local", conn.LocalAddr(), "secure", conn.TLSState() != nil)
	c.wg.Add(1)
	go c.receiveLoop(conn)
	return nil
}

func (c *Client) linkChanged(oldState, newState reconnect.State) {
	c.logger.Debug("command channel state", "from", oldState, "to", newState)
	if oldState == reconnect.StateReconnecting && newState == reconnect.StateConnected {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.restore(); err != nil {
				c.reportError(fmt.Errorf("restore session: %w", err))
			}
		}()
	}
}

// restore replays the session after a reconnect.
func (c *Client) restore() error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*c.timeout)
	defer cancel()

	if s.authenticated {
		if err := c.Authenticate(ctx); err != nil {
			return err
		}
	}
	if s.modes != wire.DefaultOperationalModes {
		// The publisher starts every connection with the default modes.
		c.modes.Store(uint32(wire.DefaultOperationalModes))
		if err := c.DefineOperationalModes(s.modes); err != nil {
			return err
		}
	}
	if s.subscription != nil {
		if _, err := c.Subscribe(ctx, *s.subscription); err != nil {
			return err
		}
	}
	c.logger.Info("session restored", "subscribed", s.subscription != nil)
	return nil
}

func (c *Client) currentConn() *transport.ClientConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) send(cmd wire.ServerCommand, payload []byte) error {
	conn := c.currentConn()
	if conn == nil {
		if c.isClosed() {
			return ErrClientClosed
		}
		return ErrNotConnected
	}
	if err := conn.Send(wire.EncodeCommand(cmd, payload)); err != nil {
		return fault.Transient("subscriber.send", err)
	}
	return nil
}

// request sends cmd and waits for its Succeeded or Failed response.
func (c *Client) request(ctx context.Context, cmd wire.ServerCommand, payload []byte) (*Response, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	respCh := make(chan *Response, 1)
	c.pendingMu.Lock()
	c.pending[cmd] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		if c.pending[cmd] == respCh {
			delete(c.pending, cmd)
		}
		c.pendingMu.Unlock()
	}()

	if err := c.send(cmd, payload); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, fault.Transient("subscriber."+cmd.String(), ctx.Err())
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrClientClosed
		}
		if resp.Response == wire.ResponseFailed {
			return resp, &CommandError{Command: cmd, Message: resp.Message}
		}
		return resp, nil
	}
}

// complete hands resp to the request waiting for it.
func (c *Client) complete(resp *Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.Command]
	if ok {
		delete(c.pending, resp.Command)
	}
	c.pendingMu.Unlock()

	if ok {
		ch <- resp
	}
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for cmd, ch := range c.pending {
		close(ch)
		delete(c.pending, cmd)
	}
}

func (c *Client) reportError(err error) {
	c.logger.Warn("subscriber error", "error", err)
	if c.config.OnError != nil {
		c.config.OnError(err)
	}
}
