package schedule

import "time"

// WakePolicy bounds the delays a scheduler sleeps for.
type WakePolicy struct {
	// MinGranularity: delays shorter than this fire immediately.
	MinGranularity time.Duration

	// MaxWait caps a single sleep so cancellation is observed promptly.
	MaxWait time.Duration
}

// DefaultWakePolicy returns the default policy (1ms granularity, 10s cap).
func DefaultWakePolicy() WakePolicy {
	return WakePolicy{
		MinGranularity: time.Millisecond,
		MaxWait:        10 * time.Second,
	}
}

// NextWakeDelay returns how long to wait before the frame at next,
// observed latency later, is due. Zero means publish now. A result equal
// to MaxWait may be short of the target; the caller re-evaluates after it.
func (p WakePolicy) NextWakeDelay(next time.Time, latency time.Duration, now time.Time) time.Duration {
	delay := next.Add(latency).Sub(now)
	if delay < p.MinGranularity {
		return 0
	}
	if p.MaxWait > 0 && delay > p.MaxWait {
		return p.MaxWait
	}
	return delay
}

// NextWakeDelay applies DefaultWakePolicy.
func NextWakeDelay(next time.Time, latency time.Duration, now time.Time) time.Duration {
	return DefaultWakePolicy().NextWakeDelay(next, latency, now)
}
