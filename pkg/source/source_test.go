package source

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpulse/gridpulse-go/pkg/fault"
	"github.com/gridpulse/gridpulse-go/pkg/schedule"
	"github.com/gridpulse/gridpulse-go/pkg/signal"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testSignals(n int) []signal.Signal {
	out := make([]signal.Signal, n)
	for i := range out {
		out[i] = signal.Signal{ID: uuid.New(), Key: signal.MeasurementKey{Source: "SIM", ID: uint32(i + 1)}}
	}
	return out
}

func TestNewValidates(t *testing.T) {
	sink := func(*signal.Frame) {}

	_, err := New(Config{Rate: 30, Signals: testSignals(1)}, nil)
	assert.ErrorIs(t, err, ErrNoSink)

	_, err = New(Config{Rate: 30}, sink)
	assert.ErrorIs(t, err, ErrNoSignals)
	assert.True(t, fault.Is(err, fault.KindConfiguration))

	_, err = New(Config{Rate: 0, Signals: testSignals(1)}, sink)
	assert.ErrorIs(t, err, schedule.ErrInvalidRate)

	cfg := DefaultConfig()
	assert.Equal(t, 30.0, cfg.Rate)
	assert.Equal(t, 125*time.Millisecond, cfg.Latency.Mean)
	assert.Equal(t, 30*time.Millisecond, cfg.Latency.StdDev)
}

type runningSource struct {
	src    *Source
	mock   *clock.Mock
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, cfg Config, sink Sink) *runningSource {
	t.Helper()
	mock := clock.NewMock()
	cfg.Clock = mock

	src, err := New(cfg, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	rs := &runningSource{src: src, mock: mock, cancel: cancel, done: done}
	t.Cleanup(rs.stop)
	return rs
}

func (rs *runningSource) stop() {
	rs.cancel()
	<-rs.done
}

func TestSourceGeneratesFrames(t *testing.T) {
	signals := testSignals(3)
	frames := make(chan *signal.Frame, 64)

	rs := start(t, Config{Rate: 10, Signals: signals, Seed: 42}, func(f *signal.Frame) { frames <- f })

	var got []*signal.Frame
	require.Eventually(t, func() bool {
	drain:
		for {
			select {
			case f := <-frames:
				got = append(got, f)
			default:
				break drain
			}
		}
		if len(got) >= 5 {
			return true
		}
		rs.mock.Add(10 * time.Millisecond)
		return false
	}, 5*time.Second, time.Millisecond)

	for i, f := range got {
		require.Len(t, f.Measurements, 3)
		assert.True(t, f.Timestamp.Equal(schedule.Quantize(f.Timestamp, 10)), "frame %d off grid", i)
		for j, m := range f.Measurements {
			assert.Equal(t, signals[j].ID, m.SignalID)
			assert.GreaterOrEqual(t, m.Value, 0.0)
			assert.Less(t, m.Value, 1.0)
		}
		if i > 0 {
			assert.Equal(t, 100*time.Millisecond, f.Timestamp.Sub(got[i-1].Timestamp))
		}
	}

	assert.GreaterOrEqual(t, rs.src.Frames(), uint64(5))
	assert.GreaterOrEqual(t, rs.src.Generated(), rs.src.Frames()*3)
	assert.Contains(t, rs.src.Status(), "random values generated so far")
}

func TestSourceRunTwice(t *testing.T) {
	rs := start(t, Config{Rate: 10, Signals: testSignals(1)}, func(*signal.Frame) {})
	require.Eventually(t, func() bool { return rs.src.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, rs.src.Run(context.Background()), ErrAlreadyRunning)
}

func TestSourceWarnsOnBacklog(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))

	release := make(chan struct{})
	var once sync.Once
	rs := start(t, Config{Rate: 10, Signals: testSignals(1), Logger: logger, StatusInterval: time.Hour},
		func(*signal.Frame) { <-release })
	defer once.Do(func() { close(release) })

	assert.False(t, rs.src.checkBacklog())

	require.Eventually(t, func() bool {
		if rs.src.Backlog() > 100 {
			return true
		}
		rs.mock.Add(100 * time.Millisecond)
		return false
	}, 5*time.Second, time.Millisecond)

	assert.True(t, rs.src.checkBacklog())
	assert.Contains(t, out.String(), "unprocessed frames")

	once.Do(func() { close(release) })
}
