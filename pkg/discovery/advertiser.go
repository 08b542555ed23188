package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Advertiser provides mDNS service advertising capabilities.
type Advertiser interface {
	// Advertise starts advertising a publisher. A running advertisement is
	// replaced.
	Advertise(ctx context.Context, info *PublisherInfo) error

	// Update replaces the TXT records of the running advertisement.
	Update(info *PublisherInfo) error

	// Stop stops advertising.
	Stop()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration

	Logger *slog.Logger
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL: DefaultTTL,
	}
}

// mdnsServer is the part of *zeroconf.Server the advertiser uses.
type mdnsServer interface {
	SetText(text []string)
	Shutdown()
}

type registerFunc func(instance string, port int, text []string, ifaces []net.Interface, ttl time.Duration) (mdnsServer, error)

// MDNSAdvertiser implements the Advertiser interface using zeroconf.
type MDNSAdvertiser struct {
	config   AdvertiserConfig
	register registerFunc
	logger   *slog.Logger

	mu     sync.Mutex
	server mdnsServer
	info   PublisherInfo
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) *MDNSAdvertiser {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MDNSAdvertiser{
		config:   config,
		register: zeroconfRegister,
		logger:   logger.With("component", "discovery"),
	}
}

func zeroconfRegister(instance string, port int, text []string, ifaces []net.Interface, ttl time.Duration) (mdnsServer, error) {
	var opts []zeroconf.ServerOption
	if ttl > 0 {
		opts = append(opts, zeroconf.TTL(uint32(ttl.Seconds())))
	}
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, text, ifaces, opts...)
	if err != nil {
		return nil, err
	}
	return zeroconfServer{server}, nil
}

type zeroconfServer struct {
	server *zeroconf.Server
}

func (z zeroconfServer) SetText(text []string) { z.server.SetText(text) }
func (z zeroconfServer) Shutdown()             { z.server.Shutdown() }

// interfaces returns the network interfaces to use for advertising.
// Returns nil to use all interfaces.
func (a *MDNSAdvertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}

	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		a.logger.Warn("interface not found, advertising on all interfaces",
			"interface", a.config.Interface, "error", err)
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise starts advertising a publisher.
func (a *MDNSAdvertiser) Advertise(ctx context.Context, info *PublisherInfo) error {
	if err := ValidateInstanceName(info.Name); err != nil {
		return err
	}
	txt := TXTRecordsToStrings(EncodePublisherTXT(info))
	if err := ValidateTXTRecords(txt); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	server, err := a.register(info.Name, port, txt, a.interfaces(), a.config.TTL)
	if err != nil {
		return fmt.Errorf("failed to register publisher service: %w", err)
	}

	a.server = server
	a.info = *info
	a.logger.Info("advertising publisher", "name", info.Name, "port", port, "secure", info.Secure)
	return nil
}

// Update updates the TXT records of the running advertisement.
func (a *MDNSAdvertiser) Update(info *PublisherInfo) error {
	txt := TXTRecordsToStrings(EncodePublisherTXT(info))
	if err := ValidateTXTRecords(txt); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotAdvertising
	}
	a.server.SetText(txt)
	a.info = *info
	return nil
}

// Advertising returns the advertised publisher, if any.
func (a *MDNSAdvertiser) Advertising() (PublisherInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info, a.server != nil
}

// Stop stops advertising.
func (a *MDNSAdvertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.info = PublisherInfo{}
	}
}

// Ensure MDNSAdvertiser implements Advertiser interface.
var _ Advertiser = (*MDNSAdvertiser)(nil)
