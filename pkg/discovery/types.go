package discovery

import (
	"errors"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the service type advertised by publishers.
	ServiceType = "_gridpulse._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default command channel port.
	DefaultPort = 6165
)

// TXT record key constants.
const (
	TXTKeyVersion  = "ver"  // Protocol version
	TXTKeyName     = "name" // Publisher name
	TXTKeySecurity = "enc"  // Command channel security
)

// Command channel security values for the enc TXT key.
const (
	SecurityTLS  = "tls"
	SecurityNone = "none"
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the maximum total TXT record size.
	MaxTXTRecordSize = 400
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrIncompatible        = errors.New("incompatible protocol version")
	ErrNotFound            = errors.New("service not found")
	ErrNotAdvertising      = errors.New("not advertising")
)

// PublisherInfo contains information for advertising a publisher.
type PublisherInfo struct {
	// Name is the publisher name, also used as the instance name.
	Name string

	// Version is the protocol version. Empty means version.Current.
	Version string

	// Secure reports whether the command channel requires TLS.
	Secure bool

	// Port is the command channel port.
	Port uint16
}

// PublisherService represents a publisher found via mDNS.
type PublisherService struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the hostname (e.g., "pmu-gateway.local").
	Host string

	// Port is the command channel port.
	Port uint16

	// Addresses contains resolved IP addresses.
	Addresses []string

	// Name is the publisher name (from TXT "name").
	Name string

	// Version is the protocol version (from TXT "ver").
	Version string

	// Secure is true when TXT "enc" is "tls".
	Secure bool
}

// Address returns the first resolved address joined with the port, or the
// host name when no address was resolved.
func (s *PublisherService) Address() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return joinHostPort(host, s.Port)
}
