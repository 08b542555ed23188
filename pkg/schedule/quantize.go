package schedule

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gridpulse/gridpulse-go/pkg/fault"
)

// ErrInvalidRate is returned for publish rates that are not positive and
// finite.
var ErrInvalidRate = errors.New("invalid publish rate")

// ValidateRate checks a publish rate in frames per second.
func ValidateRate(rate float64) error {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return fault.Configuration("schedule.ValidateRate", fmt.Errorf("%w: %v", ErrInvalidRate, rate))
	}
	return nil
}

// interval returns the frame spacing in nanoseconds.
func interval(rate float64) float64 {
	return float64(time.Second) / rate
}

// Interval returns the frame spacing rounded to the nearest nanosecond.
func Interval(rate float64) time.Duration {
	return time.Duration(math.Round(interval(rate)))
}

// Quantize snaps t to the nearest point of the grid for rate. The result
// keeps t's location and carries no monotonic clock reading.
func Quantize(t time.Time, rate float64) time.Time {
	iv := interval(rate)
	index := math.Round(float64(t.Nanosecond()) / iv)
	offset := time.Duration(math.Round(index * iv))
	return time.Unix(t.Unix(), 0).Add(offset).In(t.Location())
}

// Advance returns the grid point following t.
func Advance(t time.Time, rate float64) time.Time {
	return Quantize(t.Add(Interval(rate)), rate)
}
