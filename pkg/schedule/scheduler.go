package schedule

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("scheduler already running")

// Tick is one frame due for publication.
type Tick struct {
	// Time is the canonical publication time.
	Time time.Time

	// Wake is when the scheduler intended to emit the tick.
	Wake time.Time

	// Seq counts ticks from zero.
	Seq uint64
}

// Config configures a Scheduler.
type Config struct {
	// Rate in frames per second. Must be positive.
	Rate float64

	// Latency added to each canonical time to obtain its wake time.
	// The zero value means no latency.
	Latency LatencyConfig

	// Seed for the latency model. Zero picks a random seed.
	Seed uint64

	// Wake bounds sleep durations. Zero value uses DefaultWakePolicy.
	Wake WakePolicy

	// Buffer is the tick channel capacity. Zero picks 15 seconds worth.
	Buffer int

	// Clock supplies time and timers (default: wall clock).
	Clock clock.Clock

	// Logger receives scheduling warnings (default: slog.Default()).
	Logger *slog.Logger
}

// Scheduler emits ticks on the publication grid.
type Scheduler struct {
	rate    float64
	latency *LatencyModel
	wake    WakePolicy
	clock   clock.Clock
	logger  *slog.Logger

	ticks   chan Tick
	running atomic.Bool
	emitted atomic.Uint64
	dropped atomic.Uint64

	mu   sync.Mutex
	next time.Time
}

// New creates a scheduler. Invalid rate or latency parameters are
// configuration errors.
func New(cfg Config) (*Scheduler, error) {
	if err := ValidateRate(cfg.Rate); err != nil {
		return nil, err
	}
	latency, err := NewLatencyModel(cfg.Latency, cfg.Seed)
	if err != nil {
		return nil, err
	}

	if cfg.Wake == (WakePolicy{}) {
		cfg.Wake = DefaultWakePolicy()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = max(64, int(math.Ceil(cfg.Rate))*15)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		rate:    cfg.Rate,
		latency: latency,
		wake:    cfg.Wake,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		ticks:   make(chan Tick, cfg.Buffer),
	}, nil
}

// Rate returns the publish rate.
func (s *Scheduler) Rate() float64 { return s.rate }

// Ticks returns the channel ticks are delivered on. It is closed when Run
// returns.
func (s *Scheduler) Ticks() <-chan Tick { return s.ticks }

// Pending returns the number of ticks waiting to be consumed.
func (s *Scheduler) Pending() int { return len(s.ticks) }

// Emitted returns the number of ticks delivered to the channel.
func (s *Scheduler) Emitted() uint64 { return s.emitted.Load() }

// Dropped returns the number of ticks discarded because the channel was
// full.
func (s *Scheduler) Dropped() uint64 { return s.dropped.Load() }

// NextPublicationTime returns the canonical time of the next tick.
func (s *Scheduler) NextPublicationTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Run emits ticks until ctx is cancelled. It may be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.ticks)

	now := s.clock.Now()
	next := Quantize(now, s.rate)
	if next.Before(now) {
		next = Advance(next, s.rate)
	}
	latency := s.latency.Next()
	s.setNext(next)

	var seq uint64
	for {
		now = s.clock.Now()
		for s.wake.NextWakeDelay(next, latency, now) == 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.emit(Tick{Time: next, Wake: next.Add(latency), Seq: seq})
			seq++
			next = Advance(next, s.rate)
			latency = s.latency.Next()
			s.setNext(next)
		}

		delay := s.wake.NextWakeDelay(next, latency, now)
		timer := s.clock.Timer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// emit hands a tick to consumers without blocking.
func (s *Scheduler) emit(t Tick) {
	select {
	case s.ticks <- t:
		s.emitted.Add(1)
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("scheduler dropping ticks, consumer too slow",
				"rate", s.rate, "buffer", cap(s.ticks))
		}
	}
}

func (s *Scheduler) setNext(t time.Time) {
	s.mu.Lock()
	s.next = t
	s.mu.Unlock()
}
