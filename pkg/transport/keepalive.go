package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultKeepAliveInterval is the interval between NoOP heartbeats.
const DefaultKeepAliveInterval = 5 * time.Second

// KeepAliveConfig configures the heartbeat sender.
type KeepAliveConfig struct {
	// Interval between heartbeats.
	Interval time.Duration

	// Clock drives the ticker. Defaults to the wall clock.
	Clock clock.Clock

	// Logger receives recovered callback panics.
	Logger *slog.Logger
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{Interval: DefaultKeepAliveInterval}
}

// KeepAlive sends a heartbeat on a fixed interval. A failed send is handed to
// onFailure and the loop keeps running; the owner decides whether to tear
// the connection down.
type KeepAlive struct {
	config KeepAliveConfig

	send      func() error
	onFailure func(error)

	sent     atomic.Uint64
	failures atomic.Uint64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewKeepAlive creates a heartbeat sender. onFailure may be nil. It runs on
// the heartbeat goroutine and must not call Stop synchronously.
func NewKeepAlive(config KeepAliveConfig, send func() error, onFailure func(error)) *KeepAlive {
	if config.Interval <= 0 {
		config.Interval = DefaultKeepAliveInterval
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &KeepAlive{
		config:    config,
		send:      send,
		onFailure: onFailure,
	}
}

// Start begins sending heartbeats. Calling Start on a running instance is a
// no-op.
func (ka *KeepAlive) Start() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if ka.running {
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	ka.doneCh = make(chan struct{})

	ticker := ka.config.Clock.Ticker(ka.config.Interval)
	go ka.loop(ticker, ka.stopCh, ka.doneCh)
}

// Stop halts the heartbeat and waits for an in-flight send to finish. Safe
// to call more than once.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	if !ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = false
	close(ka.stopCh)
	done := ka.doneCh
	ka.mu.Unlock()

	<-done
}

// IsRunning returns true while heartbeats are being sent.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// Sent returns the number of successful heartbeats.
func (ka *KeepAlive) Sent() uint64 {
	return ka.sent.Load()
}

// Failures returns the number of failed heartbeats.
func (ka *KeepAlive) Failures() uint64 {
	return ka.failures.Load()
}

func (ka *KeepAlive) loop(ticker *clock.Ticker, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			select {
			case <-stopCh:
				return
			default:
			}
			ka.beat()
		}
	}
}

// beat runs one heartbeat. Panics in callbacks are recovered so the ticker
// survives them.
func (ka *KeepAlive) beat() {
	defer func() {
		if r := recover(); r != nil {
			ka.config.Logger.Error("keep-alive callback panicked", "panic", fmt.Sprint(r))
		}
	}()

	if err := ka.send(); err != nil {
		ka.failures.Add(1)
		if ka.onFailure != nil {
			ka.onFailure(err)
		}
		return
	}
	ka.sent.Add(1)
}
