package reconnect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// advanceUntil moves the mock clock forward in small steps until cond holds.
func advanceUntil(t *testing.T, mock *clock.Mock, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		mock.Add(100 * time.Millisecond)
		return cond()
	}, 2*time.Second, time.Millisecond)
}

type transitions struct {
	mu  sync.Mutex
	got []string
}

func (tr *transitions) record(old, new State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.got = append(tr.got, old.String()+"->"+new.String())
}

func (tr *transitions) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.got...)
}

func TestManagerConnect(t *testing.T) {
	tr := &transitions{}
	m := NewManager(func(ctx context.Context) error { return nil }, Config{OnStateChange: tr.record})
	defer m.Close()

	assert.Equal(t, StateDisconnected, m.State())
	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsConnected())
	assert.ErrorIs(t, m.Connect(context.Background()), ErrAlreadyConnected)

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, []string{
		"DISCONNECTED->CONNECTING",
		"CONNECTING->CONNECTED",
		"CONNECTED->DISCONNECTED",
	}, tr.list())
}

func TestManagerConnectFailure(t *testing.T) {
	want := errors.New("refused")
	m := NewManager(func(ctx context.Context) error { return want }, Config{})
	defer m.Close()

	assert.ErrorIs(t, m.Connect(context.Background()), want)
	assert.Equal(t, StateDisconnected, m.State())

	// Loss is ignored unless connected.
	m.NotifyConnectionLost()
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManagerRetriesUntilSuccess(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32
	var delays []time.Duration
	var mu sync.Mutex

	m := NewManager(func(ctx context.Context) error {
		if calls.Add(1) == 1 || calls.Load() >= 4 {
			return nil
		}
		return errors.New("still down")
	}, Config{
		Backoff: ConstantBackoff(time.Second),
		Clock:   mock,
		OnReconnecting: func(attempt int, delay time.Duration) {
			mu.Lock()
			delays = append(delays, delay)
			mu.Unlock()
		},
	})
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))

	m.NotifyConnectionLost()
	assert.Equal(t, StateReconnecting, m.State())

	advanceUntil(t, mock, m.IsConnected)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 0, m.Attempts())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delays, 3)
	for _, d := range delays {
		assert.Equal(t, time.Second, d)
	}
}

func TestManagerDisconnectCancelsRetry(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32
	m := NewManager(func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			return nil
		}
		return errors.New("down")
	}, Config{Backoff: ConstantBackoff(time.Second), Clock: mock})
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	m.NotifyConnectionLost()
	advanceUntil(t, mock, func() bool { return calls.Load() >= 2 })

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())

	n := calls.Load()
	mock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "retry ran after Disconnect")
}

func TestManagerCloseIsIdempotentAndFinal(t *testing.T) {
	mock := clock.NewMock()
	m := NewManager(func(ctx context.Context) error { return nil },
		Config{Backoff: ConstantBackoff(time.Second), Clock: mock})

	require.NoError(t, m.Connect(context.Background()))
	m.NotifyConnectionLost()

	m.Close()
	m.Close()
	assert.Equal(t, StateClosed, m.State())
	assert.ErrorIs(t, m.Connect(context.Background()), ErrClosed)

	m.NotifyConnectionLost()
	m.Disconnect()
	assert.Equal(t, StateClosed, m.State())
}

func TestManagerRecoversConnectPanic(t *testing.T) {
	mock := clock.NewMock()
	var calls atomic.Int32
	m := NewManager(func(ctx context.Context) error { return nil },
		Config{Backoff: ConstantBackoff(time.Second), Clock: mock})
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	m.connectFn = func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}

	m.NotifyConnectionLost()
	advanceUntil(t, mock, m.IsConnected)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
