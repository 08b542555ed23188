package schedule

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gridpulse/gridpulse-go/pkg/fault"
)

// ErrInvalidLatency is returned for inconsistent latency parameters.
var ErrInvalidLatency = errors.New("invalid latency model")

// LatencyConfig parameterizes a bounded Gaussian latency distribution.
type LatencyConfig struct {
	Mean   time.Duration `yaml:"mean"`
	StdDev time.Duration `yaml:"jitter"`
	Min    time.Duration `yaml:"min"`
	Max    time.Duration `yaml:"max"`
}

// LatencyFromMean returns a config clamped to [mean/3, mean*3].
func LatencyFromMean(mean, stddev time.Duration) LatencyConfig {
	return LatencyConfig{
		Mean:   mean,
		StdDev: stddev,
		Min:    mean / 3,
		Max:    mean * 3,
	}
}

// DefaultLatencyConfig returns 125ms mean with 30ms jitter.
func DefaultLatencyConfig() LatencyConfig {
	return LatencyFromMean(125*time.Millisecond, 30*time.Millisecond)
}

// Validate checks the parameters.
func (c LatencyConfig) Validate() error {
	switch {
	case c.StdDev < 0:
		return fault.Configuration("schedule.LatencyConfig", fmt.Errorf("%w: negative jitter %v", ErrInvalidLatency, c.StdDev))
	case c.Min < 0:
		return fault.Configuration("schedule.LatencyConfig", fmt.Errorf("%w: negative minimum %v", ErrInvalidLatency, c.Min))
	case c.Min > c.Max:
		return fault.Configuration("schedule.LatencyConfig", fmt.Errorf("%w: min %v above max %v", ErrInvalidLatency, c.Min, c.Max))
	}
	return nil
}

// LatencyModel draws clamped Gaussian latency samples. Safe for
// concurrent use.
type LatencyModel struct {
	cfg LatencyConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLatencyModel creates a model. A zero seed picks a random one.
func NewLatencyModel(cfg LatencyConfig, seed uint64) (*LatencyModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &LatencyModel{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
	}, nil
}

// Config returns the model parameters.
func (m *LatencyModel) Config() LatencyConfig {
	return m.cfg
}

// Next returns a sample in [Min, Max].
func (m *LatencyModel) Next() time.Duration {
	m.mu.Lock()
	z := m.rng.NormFloat64()
	m.mu.Unlock()

	sample := float64(m.cfg.Mean) + z*float64(m.cfg.StdDev)
	sample = math.Max(float64(m.cfg.Min), math.Min(float64(m.cfg.Max), sample))
	return time.Duration(math.Round(sample))
}
