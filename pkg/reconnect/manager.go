package reconnect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Manager errors.
var (
	ErrClosed           = errors.New("reconnect manager closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// DefaultAttemptTimeout bounds one connect call made by the retry loop.
const DefaultAttemptTimeout = 30 * time.Second

// State is the link state tracked by a Manager.
type State uint8

const (
	// StateDisconnected indicates no link and no retry in progress.
	StateDisconnected State = iota

	// StateConnecting indicates a caller-driven Connect is in progress.
	StateConnecting

	// StateConnected indicates an established link.
	StateConnected

	// StateReconnecting indicates the retry loop is running.
	StateReconnecting

	// StateClosed indicates the Manager has been closed.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc (re)creates the link. It returns nil on success.
type ConnectFunc func(ctx context.Context) error

// Config configures a Manager.
type Config struct {
	// Backoff is the retry schedule. The zero value selects
	// DefaultBackoffConfig.
	Backoff BackoffConfig

	// AttemptTimeout bounds each retry's connect call.
	AttemptTimeout time.Duration

	// Clock drives retry delays. Defaults to the wall clock.
	Clock clock.Clock

	// Logger receives retry failures and recovered panics.
	Logger *slog.Logger

	// Name identifies the link in log output.
	Name string

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(oldState, newState State)

	// OnReconnecting is called before each retry delay.
	OnReconnecting func(attempt int, delay time.Duration)
}

// Manager tracks one link and retries it after unexpected loss.
type Manager struct {
	mu sync.Mutex

	state     State
	backoff   *Backoff
	connectFn ConnectFunc
	config    Config

	// retryCancel stops the running retry loop, if any.
	retryCancel context.CancelFunc
	retryDone   chan struct{}
}

// NewManager creates a manager for the link created by connectFn.
func NewManager(connectFn ConnectFunc, config Config) *Manager {
	if config.Backoff == (BackoffConfig{}) {
		config.Backoff = DefaultBackoffConfig()
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Manager{
		state:     StateDisconnected,
		backoff:   NewBackoff(config.Backoff),
		connectFn: connectFn,
		config:    config,
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected returns true if the link is established.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Attempts returns the retry attempts since the last successful connect.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

// Connect creates the link synchronously. Any running retry loop is
// cancelled first.
func (m *Manager) Connect(ctx context.Context) error {
	m.stopRetry()

	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		m.mu.Unlock()
		return ErrClosed
	}
	old := m.state
	m.state = StateConnecting
	m.mu.Unlock()
	m.notify(old, StateConnecting)

	err := m.connectFn(ctx)

	m.mu.Lock()
	if m.state != StateConnecting {
		// Closed or disconnected while connecting.
		m.mu.Unlock()
		if err == nil {
			return ErrClosed
		}
		return err
	}
	next := StateConnected
	if err != nil {
		next = StateDisconnected
	} else {
		m.backoff.Reset()
	}
	m.state = next
	m.mu.Unlock()
	m.notify(StateConnecting, next)

	return err
}

// NotifyConnectionLost reports an unexpected loss of an established link
// and starts the retry loop. It is a no-op unless the state is
// StateConnected.
func (m *Manager) NotifyConnectionLost() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.retryCancel = cancel
	m.retryDone = done
	m.mu.Unlock()

	m.notify(StateConnected, StateReconnecting)
	go m.retryLoop(ctx, cancel, done)
}

// Disconnect marks the link intentionally closed and cancels any running
// retry loop, waiting for it to exit.
func (m *Manager) Disconnect() {
	m.stopRetry()

	m.mu.Lock()
	if m.state == StateDisconnected || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = StateDisconnected
	m.mu.Unlock()

	m.notify(old, StateDisconnected)
}

// Close cancels any retry loop and makes the Manager inert. Safe to call
// more than once. Must not be called from the connect function.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = StateClosed
	m.mu.Unlock()

	m.stopRetry()
	m.notify(old, StateClosed)
}

func (m *Manager) stopRetry() {
	m.mu.Lock()
	cancel, done := m.retryCancel, m.retryDone
	m.retryCancel, m.retryDone = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Manager) retryLoop(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	for {
		delay := m.backoff.Next()
		attempt := m.backoff.Attempts()
		if m.config.OnReconnecting != nil {
			m.config.OnReconnecting(attempt, delay)
		}

		timer := m.config.Clock.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err := m.attempt(ctx)

		m.mu.Lock()
		if ctx.Err() != nil || m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		if err == nil {
			m.state = StateConnected
			m.backoff.Reset()
			m.retryCancel, m.retryDone = nil, nil
			m.mu.Unlock()
			m.notify(StateReconnecting, StateConnected)
			return
		}
		m.mu.Unlock()

		m.config.Logger.Warn("reconnect attempt failed",
			"link", m.config.Name,
			"attempt", attempt,
			"error", err)
	}
}

// attempt runs connectFn with a panic guard so the retry loop survives it.
func (m *Manager) attempt(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("connect panicked: %v", r)
		}
	}()

	actx, cancel := context.WithTimeout(ctx, m.config.AttemptTimeout)
	defer cancel()
	return m.connectFn(actx)
}

func (m *Manager) notify(oldState, newState State) {
	if m.config.OnStateChange != nil && oldState != newState {
		m.config.OnStateChange(oldState, newState)
	}
}
