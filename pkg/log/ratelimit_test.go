package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func newTestPublisher(buf *bytes.Buffer, mock *clock.Mock) *RateLimitedPublisher {
	logger := slog.New(slog.NewTextHandler(buf, nil))
	return NewRateLimitedPublisher(logger, RateLimitConfig{
		MessagesPerSecond: 1,
		Burst:             2,
		NoticeInterval:    10 * time.Second,
		Owner:             "conn-1",
		Clock:             mock,
	})
}

func TestRateLimitedPublisherSuppresses(t *testing.T) {
	var buf bytes.Buffer
	mock := clock.NewMock()
	p := newTestPublisher(&buf, mock)

	var written int
	for i := 0; i < 5; i++ {
		if p.Info("status", "n", i) {
			written++
		}
	}

	assert.Equal(t, 2, written)
	assert.Equal(t, uint64(3), p.Suppressed())
	assert.Equal(t, 1, strings.Count(buf.String(), "message suppression occurring"))
	assert.Contains(t, buf.String(), "owner=conn-1")
}

func TestRateLimitedPublisherNoticeInterval(t *testing.T) {
	var buf bytes.Buffer
	mock := clock.NewMock()
	p := newTestPublisher(&buf, mock)

	for i := 0; i < 3; i++ {
		p.Warn("burst")
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "message suppression occurring"))

	// Tokens refill but the notice stays quiet until the interval passes.
	mock.Add(5 * time.Second)
	for i := 0; i < 3; i++ {
		p.Warn("burst")
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "message suppression occurring"))

	mock.Add(10 * time.Second)
	for i := 0; i < 3; i++ {
		p.Warn("burst")
	}
	assert.Equal(t, 2, strings.Count(buf.String(), "message suppression occurring"))
	assert.Contains(t, buf.String(), "suppressed_total=3")
	assert.Equal(t, uint64(3), p.Suppressed())
}

func TestRateLimitedPublisherRefills(t *testing.T) {
	var buf bytes.Buffer
	mock := clock.NewMock()
	p := newTestPublisher(&buf, mock)

	p.Error("a")
	p.Error("b")
	assert.False(t, p.Error("c"))

	mock.Add(time.Second)
	assert.True(t, p.Error("d"))
}

func TestRateLimitedPublisherDefaults(t *testing.T) {
	p := NewRateLimitedPublisher(nil, RateLimitConfig{})
	assert.Equal(t, 10*time.Second, p.interval)
	assert.True(t, p.Info("hello"))
}
