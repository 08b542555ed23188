package publisher

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Reverse lookup cache defaults.
const (
	DefaultResolverCacheSize = 1024
	DefaultResolverTTL       = 10 * time.Minute
	DefaultLookupTimeout     = 2 * time.Second
)

// AddrResolver performs reverse DNS lookups. *net.Resolver implements it.
type AddrResolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// HostResolver caches reverse lookups by IP address. Failed lookups are
// cached as empty names so an unreachable DNS server is asked once per TTL.
type HostResolver struct {
	next    AddrResolver
	cache   *expirable.LRU[string, string]
	timeout time.Duration
}

// NewHostResolver wraps next with an expiring LRU cache. A nil next uses
// net.DefaultResolver.
func NewHostResolver(next AddrResolver, size int, ttl time.Duration) *HostResolver {
	if next == nil {
		next = net.DefaultResolver
	}
	if size <= 0 {
		size = DefaultResolverCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultResolverTTL
	}
	return &HostResolver{
		next:    next,
		cache:   expirable.NewLRU[string, string](size, nil, ttl),
		timeout: DefaultLookupTimeout,
	}
}

// LookupHost returns the first name for ip without its trailing dot, or ""
// when none is known.
func (r *HostResolver) LookupHost(ctx context.Context, ip string) string {
	if name, ok := r.cache.Get(ip); ok {
		return name
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var name string
	if names, err := r.next.LookupAddr(ctx, ip); err == nil && len(names) > 0 {
		name = strings.TrimSuffix(names[0], ".")
	}
	r.cache.Add(ip, name)
	return name
}

// FormatConnectionID renders the human-readable connection identity:
// "host (ip:port)" when a name is known, the bare endpoint otherwise, then
// the client ID, then "unavailable".
func FormatConnectionID(host string, remote net.Addr, clientID uuid.UUID) string {
	endpoint, ip := "", ""
	if remote != nil {
		endpoint = remote.String()
		if h, port, err := net.SplitHostPort(endpoint); err == nil {
			ip = h
			endpoint = net.JoinHostPort(h, port)
		}
	}

	switch {
	case endpoint != "" && host != "" && host != ip:
		return host + " (" + endpoint + ")"
	case endpoint != "":
		return endpoint
	case clientID != uuid.Nil:
		return clientID.String()
	default:
		return "unavailable"
	}
}
