// Package source generates synthetic measurement frames.
//
// A Source publishes random values for a fixed set of signals on the
// publication grid of a schedule.Scheduler. The scheduler goroutine only
// computes times and hands ticks over; frame construction and the sink call
// happen on a separate worker, so a slow sink shows up as a growing tick
// backlog instead of a late schedule.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/gridpulse/gridpulse-go/pkg/fault"
	"github.com/gridpulse/gridpulse-go/pkg/log"
	"github.com/gridpulse/gridpulse-go/pkg/schedule"
	"github.com/gridpulse/gridpulse-go/pkg/signal"
)

// Source defaults.
const (
	DefaultRate           = 30.0
	DefaultStatusInterval = 10 * time.Second

	// backlogFactor is the number of seconds of unprocessed ticks tolerated
	// before a warning is published.
	backlogFactor = 10
)

// Source errors.
var (
	ErrNoSignals      = errors.New("source has no signals")
	ErrNoSink         = errors.New("source has no sink")
	ErrAlreadyRunning = errors.New("source already running")
)

// Sink receives generated frames.
type Sink func(frame *signal.Frame)

// Config configures a Source.
type Config struct {
	Rate    float64
	Latency schedule.LatencyConfig
	Signals []signal.Signal

	// Seed for values and latency. Zero picks a random seed.
	Seed uint64

	// StatusInterval is the period of the backlog check.
	StatusInterval time.Duration

	// Clock drives the scheduler and the backlog check (default: wall
	// clock).
	Clock clock.Clock

	// Logger receives start-up and backlog messages (default:
	// slog.Default()).
	Logger *slog.Logger
}

// DefaultConfig returns 30 frames/s with 125ms mean latency and 30ms jitter.
func DefaultConfig() Config {
	return Config{
		Rate:           DefaultRate,
		Latency:        schedule.DefaultLatencyConfig(),
		StatusInterval: DefaultStatusInterval,
	}
}

// Source is a random-value frame generator.
type Source struct {
	config    Config
	sink      Sink
	scheduler *schedule.Scheduler
	status    *log.RateLimitedPublisher
	logger    *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	running   atomic.Bool
	frames    atomic.Uint64
	generated atomic.Uint64
}

// New validates the configuration and builds a stopped source.
func New(config Config, sink Sink) (*Source, error) {
	if sink == nil {
		return nil, fault.Configuration("source.New", ErrNoSink)
	}
	if len(config.Signals) == 0 {
		return nil, fault.Configuration("source.New", ErrNoSignals)
	}
	if config.StatusInterval <= 0 {
		config.StatusInterval = DefaultStatusInterval
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Seed == 0 {
		config.Seed = rand.Uint64()
	}

	sched, err := schedule.New(schedule.Config{
		Rate:    config.Rate,
		Latency: config.Latency,
		Seed:    config.Seed,
		Clock:   config.Clock,
		Logger:  config.Logger,
	})
	if err != nil {
		return nil, err
	}

	logger := config.Logger.With("component", "source")
	return &Source{
		config:    config,
		sink:      sink,
		scheduler: sched,
		logger:    logger,
		status: log.NewRateLimitedPublisher(logger, log.RateLimitConfig{
			Owner: "random source",
			Clock: config.Clock,
		}),
		rng: rand.New(rand.NewPCG(config.Seed^0xA5A5A5A5A5A5A5A5, config.Seed)),
	}, nil
}

// Rate returns the publish rate.
func (s *Source) Rate() float64 {
	return s.config.Rate
}

// Frames returns the number of frames handed to the sink.
func (s *Source) Frames() uint64 {
	return s.frames.Load()
}

// Generated returns the number of measurement values produced.
func (s *Source) Generated() uint64 {
	return s.generated.Load()
}

// Backlog returns the number of scheduled frames not yet generated.
func (s *Source) Backlog() int {
	return s.scheduler.Pending()
}

// DroppedTicks returns the number of frames skipped because the backlog
// buffer was full.
func (s *Source) DroppedTicks() uint64 {
	return s.scheduler.Dropped()
}

// Status returns a one-line summary.
func (s *Source) Status() string {
	return fmt.Sprintf("%d random values generated so far", s.Generated())
}

// Run generates frames until ctx is cancelled. It may be called once.
func (s *Source) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.monitor(ctx)
	}()

	s.logger.Info("source started",
		"rate", s.config.Rate,
		"signals", len(s.config.Signals),
		"latency", s.config.Latency.Mean)

	ticks := s.scheduler.Ticks()
	for {
		select {
		case <-ctx.Done():
			cancel()
			wg.Wait()
			return nil
		case tick, ok := <-ticks:
			if !ok {
				cancel()
				wg.Wait()
				return nil
			}
			s.sink(s.frame(tick.Time))
			s.frames.Add(1)
		}
	}
}

func (s *Source) frame(ts time.Time) *signal.Frame {
	f := &signal.Frame{
		Timestamp:    ts,
		Measurements: make([]signal.Measurement, len(s.config.Signals)),
	}

	s.rngMu.Lock()
	for i, sig := range s.config.Signals {
		f.Measurements[i] = signal.Measurement{SignalID: sig.ID, Value: s.rng.Float64()}
	}
	s.rngMu.Unlock()

	s.generated.Add(uint64(len(f.Measurements)))
	return f
}

func (s *Source) monitor(ctx context.Context) {
	ticker := s.config.Clock.Ticker(s.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkBacklog()
		}
	}
}

// checkBacklog warns when more than backlogFactor seconds of frames are
// waiting.
func (s *Source) checkBacklog() bool {
	backlog := s.scheduler.Pending()
	if float64(backlog) <= backlogFactor*s.config.Rate {
		return false
	}
	s.status.Warn(fmt.Sprintf("%d unprocessed frames", backlog),
		"rate", s.config.Rate, "dropped", s.scheduler.Dropped())
	return true
}
