// Package config loads the publisher daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/gridpulse/gridpulse-go/pkg/cipher"
	"github.com/gridpulse/gridpulse-go/pkg/fault"
	"github.com/gridpulse/gridpulse-go/pkg/publisher"
	"github.com/gridpulse/gridpulse-go/pkg/schedule"
	"github.com/gridpulse/gridpulse-go/pkg/signal"
	"github.com/gridpulse/gridpulse-go/pkg/source"
	"github.com/gridpulse/gridpulse-go/pkg/transport"
)

// Configuration errors.
var (
	ErrInvalidRate        = errors.New("publish rate must be positive")
	ErrDuplicateSignal    = errors.New("duplicate signal")
	ErrMissingSubscriber  = errors.New("subscriber without ID")
	ErrNoSignals          = errors.New("no signals configured")
	ErrInvalidQueueSize   = errors.New("send queue size must be positive")
	ErrInvalidLogLevel    = errors.New("unknown log level")
	ErrInvalidListenAddr  = errors.New("listen address is required")
	ErrInvalidRotation    = errors.New("rotation interval must not be negative")
	ErrInvalidKeepAlive   = errors.New("keep-alive interval must be positive")
	ErrInvalidGenerateNum = errors.New("generated signal count must not be negative")
)

// signalNamespace seeds IDs for signals declared without one, so a key maps
// to the same ID across restarts.
var signalNamespace = uuid.MustParse("8c4e2d9a-6f1b-4c57-9a3e-2b7d1f0e5a64")

// Config is the publisher daemon configuration.
type Config struct {
	Publisher   PublisherConfig              `yaml:"publisher"`
	Subscribers []publisher.SubscriberConfig `yaml:"subscribers"`
	Signals     []SignalConfig               `yaml:"signals"`
	Source      SourceConfig                 `yaml:"source"`
	Metrics     MetricsConfig                `yaml:"metrics"`
	Discovery   DiscoveryConfig              `yaml:"discovery"`
	Log         LogConfig                    `yaml:"log"`
}

// PublisherConfig holds the command channel and per-connection settings.
type PublisherConfig struct {
	Name                  string               `yaml:"name"`
	Listen                string               `yaml:"listen"`
	TLS                   *transport.TLSConfig `yaml:"tls"`
	RequireAuthentication bool                 `yaml:"requireAuthentication"`
	KeepAlive             time.Duration        `yaml:"keepAlive"`
	ReconnectDelay        time.Duration        `yaml:"reconnectDelay"`
	RotationInterval      time.Duration        `yaml:"rotationInterval"`
	SendQueueSize         int                  `yaml:"sendQueueSize"`
	MaxAuthFailures       int                  `yaml:"maxAuthFailures"`
	ReverseLookup         bool                 `yaml:"reverseLookup"`
}

// SignalConfig declares one published signal. A zero ID is derived from
// the key.
type SignalConfig struct {
	ID  uuid.UUID `yaml:"id"`
	Key string    `yaml:"key"`
}

// SourceConfig configures the synthetic frame source.
type SourceConfig struct {
	Rate    float64                `yaml:"rate"`
	Latency schedule.LatencyConfig `yaml:"latency"`
	Seed    uint64                 `yaml:"seed"`

	// Generate adds SIM:1..N signals to the declared ones.
	Generate int `yaml:"generate"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen
// disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// DiscoveryConfig configures mDNS advertisement.
type DiscoveryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interface string `yaml:"interface"`
}

// LogConfig configures operational and protocol logging.
type LogConfig struct {
	Level       string `yaml:"level"`
	ProtocolLog string `yaml:"protocolLog"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Publisher: PublisherConfig{
			Name:                  "GRIDPULSE",
			Listen:                fmt.Sprintf(":%d", transport.DefaultPort),
			RequireAuthentication: true,
			KeepAlive:             transport.DefaultKeepAliveInterval,
			ReconnectDelay:        publisher.DefaultReconnectDelay,
			RotationInterval:      cipher.DefaultMinRotationInterval,
			SendQueueSize:         publisher.DefaultSendQueueSize,
			MaxAuthFailures:       publisher.DefaultMaxAuthFailures,
			ReverseLookup:         true,
		},
		Source: SourceConfig{
			Rate:    source.DefaultRate,
			Latency: schedule.DefaultLatencyConfig(),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Configuration("config.Load", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fault.Configuration("config.Parse", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fault.Configuration("config.Validate", err)
	}
	return nil
}

func (c *Config) validate() error {
	p := c.Publisher
	switch {
	case p.Listen == "":
		return ErrInvalidListenAddr
	case p.KeepAlive <= 0:
		return fmt.Errorf("%w: %v", ErrInvalidKeepAlive, p.KeepAlive)
	case p.RotationInterval < 0:
		return fmt.Errorf("%w: %v", ErrInvalidRotation, p.RotationInterval)
	case p.SendQueueSize <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidQueueSize, p.SendQueueSize)
	}

	if c.Source.Rate <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRate, c.Source.Rate)
	}
	if c.Source.Generate < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidGenerateNum, c.Source.Generate)
	}
	if err := c.Source.Latency.Validate(); err != nil {
		return err
	}

	if _, err := c.SignalList(); err != nil {
		return err
	}

	for i, sub := range c.Subscribers {
		if sub.ID == uuid.Nil {
			return fmt.Errorf("%w: entry %d (%s)", ErrMissingSubscriber, i, sub.Acronym)
		}
	}
	if _, err := publisher.NewAuthenticator(c.Subscribers); err != nil {
		return err
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// SignalList returns the declared signals followed by the generated ones.
func (c *Config) SignalList() ([]signal.Signal, error) {
	out := make([]signal.Signal, 0, len(c.Signals)+c.Source.Generate)
	ids := make(map[uuid.UUID]string)
	keys := make(map[signal.MeasurementKey]bool)

	add := func(id uuid.UUID, key signal.MeasurementKey) error {
		if id == uuid.Nil {
			id = uuid.NewSHA1(signalNamespace, []byte(key.String()))
		}
		if prev, ok := ids[id]; ok {
			return fmt.Errorf("%w: ID %s used by %s and %s", ErrDuplicateSignal, id, prev, key)
		}
		if keys[key] {
			return fmt.Errorf("%w: key %s", ErrDuplicateSignal, key)
		}
		ids[id] = key.String()
		keys[key] = true
		out = append(out, signal.Signal{ID: id, Key: key})
		return nil
	}

	for _, s := range c.Signals {
		key, err := signal.ParseKey(s.Key)
		if err != nil {
			return nil, err
		}
		if err := add(s.ID, key); err != nil {
			return nil, err
		}
	}
	for i := 1; i <= c.Source.Generate; i++ {
		if err := add(uuid.Nil, signal.MeasurementKey{Source: "SIM", ID: uint32(i)}); err != nil {
			return nil, err
		}
	}

	if len(out) == 0 {
		return nil, ErrNoSignals
	}
	return out, nil
}

// PublisherSettings returns the publisher settings. Runtime collaborators
// (logger, registerer, protocol logger) are left for the caller.
func (c *Config) PublisherSettings() publisher.Config {
	pc := publisher.DefaultConfig()
	pc.ListenAddress = c.Publisher.Listen
	pc.RequireAuthentication = c.Publisher.RequireAuthentication
	pc.Subscribers = c.Subscribers
	pc.KeepAliveInterval = c.Publisher.KeepAlive
	pc.ReconnectDelay = c.Publisher.ReconnectDelay
	pc.MinRotationInterval = c.Publisher.RotationInterval
	pc.SendQueueSize = c.Publisher.SendQueueSize
	pc.MaxAuthFailures = c.Publisher.MaxAuthFailures
	pc.ReverseLookup = c.Publisher.ReverseLookup
	if c.Publisher.TLS.Enabled() {
		pc.TLS = c.Publisher.TLS
	}
	return pc
}

// SourceSettings returns the synthetic source settings.
func (c *Config) SourceSettings(signals []signal.Signal) source.Config {
	sc := source.DefaultConfig()
	sc.Rate = c.Source.Rate
	sc.Latency = c.Source.Latency
	sc.Seed = c.Source.Seed
	sc.Signals = signals
	return sc
}
