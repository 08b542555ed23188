package discovery

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/gridpulse/gridpulse-go/pkg/version"
)

// Browser provides mDNS service browsing capabilities.
type Browser interface {
	// Browse searches for publishers. Services are aggregated by instance
	// name; each publisher is sent once. The channel is closed when the
	// context is cancelled.
	Browse(ctx context.Context) (<-chan *PublisherService, error)

	// Find returns the first publisher with the given name, or any
	// publisher when name is empty.
	Find(ctx context.Context, name string) (*PublisherService, error)
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds Find when the context has no deadline.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// IncludeIncompatible keeps publishers with a different protocol major
	// version.
	IncludeIncompatible bool

	Logger *slog.Logger
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}

// ServiceEntry is a raw mDNS service entry.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToPublisherService converts a ServiceEntry to PublisherService.
func (e *ServiceEntry) ToPublisherService() (*PublisherService, error) {
	info, err := DecodePublisherTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return nil, err
	}

	return &PublisherService{
		InstanceName: e.Instance,
		Host:         e.Host,
		Port:         e.Port,
		Addresses:    append([]string(nil), e.Addrs...),
		Name:         info.Name,
		Version:      info.Version,
		Secure:       info.Secure,
	}, nil
}

// browseFunc delivers found and lost entries until ctx is done.
type browseFunc func(ctx context.Context, found, lost chan<- ServiceEntry) error

// MDNSBrowser implements the Browser interface using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
	browse browseFunc
	logger *slog.Logger
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &MDNSBrowser{
		config: config,
		logger: logger.With("component", "discovery"),
	}
	b.browse = b.zeroconfBrowse
	return b
}

// Browse searches for publishers.
// Addresses from multiple interfaces are combined into a single entry.
// Removals are handled when interfaces disappear.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *PublisherService, error) {
	out := make(chan *PublisherService)
	found := make(chan ServiceEntry)
	lost := make(chan ServiceEntry)

	go func() {
		defer close(out)

		// Track services by instance name, aggregating addresses
		services := make(map[string]*PublisherService)

		for {
			select {
			case entry := <-found:
				svc, err := entry.ToPublisherService()
				if err != nil {
					b.logger.Debug("ignoring service entry", "instance", entry.Instance, "error", err)
					continue
				}
				if !b.config.IncludeIncompatible && !version.CompatibleWith(svc.Version) {
					b.logger.Debug("ignoring incompatible publisher", "instance", entry.Instance, "version", svc.Version)
					continue
				}

				if existing, ok := services[svc.InstanceName]; ok {
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
					continue
				}
				services[svc.InstanceName] = svc

				// Send a copy so later merges don't race with the receiver.
				emit := *svc
				emit.Addresses = append([]string(nil), svc.Addresses...)
				select {
				case out <- &emit:
				case <-ctx.Done():
					return
				}

			case entry := <-lost:
				if existing, ok := services[entry.Instance]; ok {
					existing.Addresses = removeAddresses(existing.Addresses, entry.Addrs)
					if len(existing.Addresses) == 0 {
						delete(services, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := b.browse(ctx, found, lost); err != nil && ctx.Err() == nil {
			b.logger.Warn("mDNS browse failed", "error", err)
		}
	}()

	return out, nil
}

// Find searches for a specific publisher.
func (b *MDNSBrowser) Find(ctx context.Context, name string) (*PublisherService, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.BrowseTimeout)
		defer cancel()
	}

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case svc, ok := <-results:
			if !ok {
				return nil, ErrNotFound
			}
			if name == "" || svc.Name == name || svc.InstanceName == name {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, ErrNotFound
		}
	}
}

func (b *MDNSBrowser) zeroconfBrowse(ctx context.Context, found, lost chan<- ServiceEntry) error {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		for {
			var (
				entry *zeroconf.ServiceEntry
				ok    bool
				to    chan<- ServiceEntry
			)
			select {
			case entry, ok = <-entries:
				if !ok {
					return
				}
				to = found
			case entry, ok = <-removed:
				if !ok {
					removed = nil
					continue
				}
				to = lost
			case <-ctx.Done():
				return
			}

			select {
			case to <- fromZeroconf(entry):
			case <-ctx.Done():
				return
			}
		}
	}()

	return zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.browserOptions()...)
}

// browserOptions returns zeroconf client options based on config.
func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption

	// Select specific interface if configured
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}

	return opts
}

func fromZeroconf(entry *zeroconf.ServiceEntry) ServiceEntry {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return ServiceEntry{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     uint16(entry.Port),
		Text:     entry.Text,
		Addrs:    addrs,
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}

	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops the given addresses from the list.
func removeAddresses(addresses, gone []string) []string {
	toRemove := make(map[string]bool, len(gone))
	for _, addr := range gone {
		toRemove[addr] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}

// Ensure MDNSBrowser implements Browser interface.
var _ Browser = (*MDNSBrowser)(nil)
