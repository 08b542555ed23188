package schedule

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gridpulse/gridpulse-go/pkg/fault"
)

var testRates = []float64{1, 10, 25, 29.97, 30, 50, 59.94, 60, 120, 240, 1000}

func TestQuantizeIdempotent(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, rate := range testRates {
		for ns := 0; ns < int(time.Second); ns += 7_777_777 {
			raw := base.Add(time.Duration(ns))
			q := Quantize(raw, rate)
			if qq := Quantize(q, rate); !qq.Equal(q) {
				t.Errorf("rate %v: Quantize(Quantize(%v)) = %v, want %v", rate, raw, qq, q)
			}
		}
	}
}

func TestQuantizeNearest(t *testing.T) {
	sec := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  time.Duration
		rate float64
		want time.Duration
	}{
		{"round down", 149 * time.Millisecond, 10, 100 * time.Millisecond},
		{"round up", 151 * time.Millisecond, 10, 200 * time.Millisecond},
		{"exact", 300 * time.Millisecond, 10, 300 * time.Millisecond},
		{"rolls into next second", 960 * time.Millisecond, 10, time.Second},
		{"thirty fps", 40 * time.Millisecond, 30, 33_333_333},
		{"thirty fps second frame", 60 * time.Millisecond, 30, 66_666_667},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quantize(sec.Add(tt.raw), tt.rate)
			if want := sec.Add(tt.want); !got.Equal(want) {
				t.Errorf("Quantize() = %v, want %v", got, want)
			}
		})
	}
}

func TestThirtyAdvancesReachNextSecond(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	cur := t0
	for i := 0; i < 30; i++ {
		cur = Advance(cur, 30)
	}

	if want := t0.Add(time.Second); !cur.Equal(want) {
		t.Errorf("after 30 advances = %v, want %v", cur, want)
	}
}

func TestAdvanceIsEvenlySpaced(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, rate := range testRates {
		iv := float64(time.Second) / rate
		cur := Quantize(t0, rate)
		for i := 0; i < int(rate)*3+5; i++ {
			next := Advance(cur, rate)
			step := float64(next.Sub(cur))
			if step <= 0 {
				t.Fatalf("rate %v: not increasing at %v -> %v", rate, cur, next)
			}

			// Within a second the spacing is the rounded interval. Across a
			// second boundary the grid restarts, so the step may be shorter.
			if next.Second() == cur.Second() && math.Abs(step-iv) > 1 {
				t.Errorf("rate %v: step %v, want %v", rate, step, iv)
			}
			if step > iv+1 || step < iv/2 {
				t.Errorf("rate %v: step %v outside [%v, %v]", rate, step, iv/2, iv)
			}
			cur = next
		}
	}
}

func TestGridIdenticalAcrossSeconds(t *testing.T) {
	for _, rate := range []float64{29.97, 30, 60} {
		offsets := func(sec int64) []int {
			var out []int
			cur := Quantize(time.Unix(sec, 0), rate)
			for cur.Unix() == sec {
				out = append(out, cur.Nanosecond())
				cur = Advance(cur, rate)
			}
			return out
		}

		first := offsets(1_700_000_000)
		assert.Equal(t, first, offsets(1_700_000_007), "rate %v", rate)
		assert.Equal(t, first, offsets(1_700_003_600), "rate %v", rate)
	}
}

func TestQuantizeKeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	raw := time.Date(2024, 6, 1, 12, 0, 0, 510_000_000, loc)

	got := Quantize(raw, 2)
	assert.Equal(t, loc, got.Location())
	assert.Equal(t, 500_000_000, got.Nanosecond())
}

func TestQuantizeBeforeEpoch(t *testing.T) {
	raw := time.Unix(-10, 520_000_000)

	got := Quantize(raw, 10)
	assert.True(t, got.Equal(time.Unix(-10, 500_000_000)), "got %v", got)
}

func TestValidateRate(t *testing.T) {
	for _, rate := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		err := ValidateRate(rate)
		assert.ErrorIs(t, err, ErrInvalidRate, "rate %v", rate)
		assert.Equal(t, fault.KindConfiguration, fault.KindOf(err))
	}
	assert.NoError(t, ValidateRate(0.5))
}

func TestInterval(t *testing.T) {
	assert.Equal(t, 33_333_333*time.Nanosecond, Interval(30))
	assert.Equal(t, 100*time.Millisecond, Interval(10))
}
