package log

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures a RateLimitedPublisher.
type RateLimitConfig struct {
	// MessagesPerSecond is the sustained rate of admitted messages.
	MessagesPerSecond float64

	// Burst is the number of messages admitted at once above the rate.
	Burst int

	// NoticeInterval is the minimum time between suppression notices.
	NoticeInterval time.Duration

	// Owner names the message source in suppression notices.
	Owner string

	// Clock drives the token bucket and the notice interval (default: wall
	// clock).
	Clock clock.Clock
}

// DefaultRateLimitConfig returns 10 msg/s, burst 20, one notice per 10s.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MessagesPerSecond: 10,
		Burst:             20,
		NoticeInterval:    10 * time.Second,
	}
}

// RateLimitedPublisher writes messages to an slog.Logger subject to a
// token bucket. Messages over the limit are dropped and counted; while
// suppression continues, a warning with the running total is written at
// most once per NoticeInterval.
type RateLimitedPublisher struct {
	logger   *slog.Logger
	limiter  *rate.Limiter
	clock    clock.Clock
	owner    string
	interval time.Duration

	mu         sync.Mutex
	suppressed uint64
	nextNotice time.Time
}

// NewRateLimitedPublisher creates a publisher. A nil logger uses
// slog.Default().
func NewRateLimitedPublisher(logger *slog.Logger, cfg RateLimitConfig) *RateLimitedPublisher {
	def := DefaultRateLimitConfig()
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = def.MessagesPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.NoticeInterval <= 0 {
		cfg.NoticeInterval = def.NoticeInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RateLimitedPublisher{
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
		clock:    cfg.Clock,
		owner:    cfg.Owner,
		interval: cfg.NoticeInterval,
	}
}

// Publish writes msg at level unless the rate limit is exhausted. It
// reports whether the message was written.
func (p *RateLimitedPublisher) Publish(level slog.Level, msg string, args ...any) bool {
	now := p.clock.Now()
	if p.limiter.AllowN(now, 1) {
		p.logger.Log(context.Background(), level, msg, args...)
		return true
	}

	p.mu.Lock()
	p.suppressed++
	total := p.suppressed
	notify := !now.Before(p.nextNotice)
	if notify {
		p.nextNotice = now.Add(p.interval)
	}
	p.mu.Unlock()

	if notify {
		p.logger.Warn("message suppression occurring",
			"owner", p.owner, "suppressed_total", total)
	}
	return false
}

// Info publishes at Info level.
func (p *RateLimitedPublisher) Info(msg string, args ...any) bool {
	return p.Publish(slog.LevelInfo, msg, args...)
}

// Warn publishes at Warn level.
func (p *RateLimitedPublisher) Warn(msg string, args ...any) bool {
	return p.Publish(slog.LevelWarn, msg, args...)
}

// Error publishes at Error level.
func (p *RateLimitedPublisher) Error(msg string, args ...any) bool {
	return p.Publish(slog.LevelError, msg, args...)
}

// Suppressed returns the total number of dropped messages.
func (p *RateLimitedPublisher) Suppressed() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suppressed
}
