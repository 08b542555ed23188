package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpulse/gridpulse-go/pkg/fault"
	"github.com/gridpulse/gridpulse-go/pkg/publisher"
	"github.com/gridpulse/gridpulse-go/pkg/schedule"
	"github.com/gridpulse/gridpulse-go/pkg/signal"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":6165", cfg.Publisher.Listen)
	assert.Equal(t, 30.0, cfg.Source.Rate)
	assert.Equal(t, 125*time.Millisecond, cfg.Source.Latency.Mean)
	assert.Equal(t, 30*time.Millisecond, cfg.Source.Latency.StdDev)
	assert.Equal(t, 125*time.Millisecond/3, cfg.Source.Latency.Min)
	assert.Equal(t, 375*time.Millisecond, cfg.Source.Latency.Max)
	assert.Equal(t, 5*time.Second, cfg.Publisher.KeepAlive)
	assert.Equal(t, time.Second, cfg.Publisher.ReconnectDelay)
	assert.Equal(t, time.Second, cfg.Publisher.RotationInterval)
	assert.Empty(t, cfg.Metrics.Listen)
	assert.False(t, cfg.Discovery.Enabled)

	// Defaults alone have no signals to publish.
	assert.ErrorIs(t, cfg.Validate(), ErrNoSignals)
}

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "publisher.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "PMU-GATEWAY", cfg.Publisher.Name)
	assert.Equal(t, "127.0.0.1:7165", cfg.Publisher.Listen)
	assert.Equal(t, 2*time.Second, cfg.Publisher.KeepAlive)
	assert.Equal(t, 30*time.Second, cfg.Publisher.RotationInterval)
	assert.Equal(t, time.Second, cfg.Publisher.ReconnectDelay, "default kept")
	assert.True(t, cfg.Publisher.RequireAuthentication, "default kept")

	require.Len(t, cfg.Subscribers, 2)
	assert.Equal(t, uuid.MustParse("6b1f2c3e-8d4a-4f7b-9e0c-1a2b3c4d5e6f"), cfg.Subscribers[0].ID)
	assert.Equal(t, "s3cret", cfg.Subscribers[0].SharedSecret)
	assert.Equal(t, []string{"PPA:*"}, cfg.Subscribers[0].AllowedSignals)
	assert.Empty(t, cfg.Subscribers[1].AllowedSignals)

	assert.Equal(t, 60.0, cfg.Source.Rate)
	assert.Equal(t, schedule.LatencyConfig{
		Mean: 50 * time.Millisecond, StdDev: 10 * time.Millisecond,
		Min: 20 * time.Millisecond, Max: 150 * time.Millisecond,
	}, cfg.Source.Latency)

	assert.Equal(t, ":9102", cfg.Metrics.Listen)
	assert.True(t, cfg.Discovery.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)

	signals, err := cfg.SignalList()
	require.NoError(t, err)
	require.Len(t, signals, 5)
	assert.Equal(t, uuid.MustParse("1d3c5b7a-9e8f-4a6b-8c2d-0e1f2a3b4c5d"), signals[0].ID)
	assert.Equal(t, signal.MeasurementKey{Source: "SHELBY", ID: 1}, signals[2].Key)
	assert.Equal(t, signal.MeasurementKey{Source: "SIM", ID: 2}, signals[4].Key)

	// Derived IDs are stable.
	again, err := cfg.SignalList()
	require.NoError(t, err)
	assert.Equal(t, signals[1].ID, again[1].ID)
	assert.NotEqual(t, uuid.Nil, signals[1].ID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "missing.yaml"))
	assert.True(t, fault.Is(err, fault.KindConfiguration))
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("publisher: [unclosed"))
	assert.True(t, fault.Is(err, fault.KindConfiguration))

	_, err = Parse([]byte("publisher:\n  keepAlive: forever\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Signals = []SignalConfig{{Key: "PPA:1"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"zero rate", func(c *Config) { c.Source.Rate = 0 }, ErrInvalidRate},
		{"negative rate", func(c *Config) { c.Source.Rate = -5 }, ErrInvalidRate},
		{"malformed key", func(c *Config) { c.Signals[0].Key = "PPA" }, signal.ErrInvalidKey},
		{"duplicate key", func(c *Config) {
			c.Signals = append(c.Signals, SignalConfig{ID: uuid.New(), Key: "PPA:1"})
		}, ErrDuplicateSignal},
		{"duplicate id", func(c *Config) {
			id := uuid.New()
			c.Signals = []SignalConfig{{ID: id, Key: "PPA:1"}, {ID: id, Key: "PPA:2"}}
		}, ErrDuplicateSignal},
		{"generated only", func(c *Config) { c.Signals = nil; c.Source.Generate = 3 }, nil},
		{"subscriber without id", func(c *Config) {
			c.Subscribers = []publisher.SubscriberConfig{{Acronym: "X"}}
		}, ErrMissingSubscriber},
		{"duplicate subscriber", func(c *Config) {
			id := uuid.New()
			c.Subscribers = []publisher.SubscriberConfig{{ID: id}, {ID: id}}
		}, publisher.ErrDuplicateID},
		{"latency clamp", func(c *Config) { c.Source.Latency.Min = time.Second }, schedule.ErrInvalidLatency},
		{"queue size", func(c *Config) { c.Publisher.SendQueueSize = 0 }, ErrInvalidQueueSize},
		{"keep-alive", func(c *Config) { c.Publisher.KeepAlive = 0 }, ErrInvalidKeepAlive},
		{"listen", func(c *Config) { c.Publisher.Listen = "" }, ErrInvalidListenAddr},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }, ErrInvalidLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, fault.Is(err, fault.KindConfiguration))
		})
	}
}

func TestSettings(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "publisher.yaml"))
	require.NoError(t, err)

	pc := cfg.PublisherSettings()
	assert.Equal(t, "127.0.0.1:7165", pc.ListenAddress)
	assert.Equal(t, 256, pc.SendQueueSize)
	assert.Equal(t, 30*time.Second, pc.MinRotationInterval)
	assert.Len(t, pc.Subscribers, 2)
	assert.Nil(t, pc.TLS)

	signals, err := cfg.SignalList()
	require.NoError(t, err)
	sc := cfg.SourceSettings(signals)
	assert.Equal(t, 60.0, sc.Rate)
	assert.Len(t, sc.Signals, 5)
	assert.Equal(t, 50*time.Millisecond, sc.Latency.Mean)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
