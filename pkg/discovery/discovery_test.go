package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubServer struct {
	mock.Mock
}

func (s *stubServer) SetText(text []string) { s.Called(text) }
func (s *stubServer) Shutdown()             { s.Called() }

type registration struct {
	instance string
	port     int
	text     []string
	ttl      time.Duration
}

// stubRegistrar records registrations and hands out prepared servers.
type stubRegistrar struct {
	mu      sync.Mutex
	servers []*stubServer
	calls   []registration
	err     error
}

func (r *stubRegistrar) register(instance string, port int, text []string, _ []net.Interface, ttl time.Duration) (mdnsServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.calls = append(r.calls, registration{instance, port, text, ttl})
	return r.servers[len(r.calls)-1], nil
}

func newTestAdvertiser(reg *stubRegistrar) *MDNSAdvertiser {
	a := NewMDNSAdvertiser(DefaultAdvertiserConfig())
	a.register = reg.register
	return a
}

func TestAdvertiserAdvertise(t *testing.T) {
	first, second := &stubServer{}, &stubServer{}
	first.On("Shutdown").Once()
	second.On("SetText", []string{"enc=tls", "name=PMU-GATEWAY", "ver=1.0"}).Once()
	second.On("Shutdown").Once()

	reg := &stubRegistrar{servers: []*stubServer{first, second}}
	adv := newTestAdvertiser(reg)

	require.NoError(t, adv.Advertise(context.Background(), &PublisherInfo{Name: "PMU-GATEWAY"}))
	require.Len(t, reg.calls, 1)
	assert.Equal(t, "PMU-GATEWAY", reg.calls[0].instance)
	assert.Equal(t, DefaultPort, reg.calls[0].port)
	assert.Equal(t, DefaultTTL, reg.calls[0].ttl)
	assert.Contains(t, reg.calls[0].text, "enc=none")

	// A second advertisement replaces the first.
	require.NoError(t, adv.Advertise(context.Background(), &PublisherInfo{Name: "PMU-GATEWAY", Port: 7165}))
	assert.Equal(t, 7165, reg.calls[1].port)

	require.NoError(t, adv.Update(&PublisherInfo{Name: "PMU-GATEWAY", Secure: true, Version: "1.0"}))
	info, ok := adv.Advertising()
	assert.True(t, ok)
	assert.True(t, info.Secure)

	adv.Stop()
	adv.Stop()
	_, ok = adv.Advertising()
	assert.False(t, ok)

	first.AssertExpectations(t)
	second.AssertExpectations(t)
}

func TestAdvertiserErrors(t *testing.T) {
	reg := &stubRegistrar{err: errors.New("no multicast")}
	adv := newTestAdvertiser(reg)

	assert.ErrorIs(t, adv.Advertise(context.Background(), &PublisherInfo{}), ErrMissingRequired)
	assert.ErrorContains(t, adv.Advertise(context.Background(), &PublisherInfo{Name: "X"}), "no multicast")
	assert.ErrorIs(t, adv.Update(&PublisherInfo{Name: "X"}), ErrNotAdvertising)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, adv.Advertise(ctx, &PublisherInfo{Name: "X"}), context.Canceled)
}

// scriptedBrowse replays found/lost entries and then waits for cancellation.
type scriptedBrowse struct {
	steps []browseStep
}

type browseStep struct {
	lost  bool
	entry ServiceEntry
}

func (s *scriptedBrowse) browse(ctx context.Context, found, lost chan<- ServiceEntry) error {
	for _, step := range s.steps {
		ch := found
		if step.lost {
			ch = lost
		}
		select {
		case ch <- step.entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return nil
}

func entry(instance, ver string, addrs ...string) ServiceEntry {
	return ServiceEntry{
		Instance: instance,
		Host:     instance + ".local",
		Port:     6165,
		Text:     []string{"ver=" + ver, "name=" + instance, "enc=none"},
		Addrs:    addrs,
	}
}

func newTestBrowser(steps ...browseStep) *MDNSBrowser {
	b := NewMDNSBrowser(DefaultBrowserConfig())
	b.browse = (&scriptedBrowse{steps: steps}).browse
	return b
}

func collect(t *testing.T, ch <-chan *PublisherService, n int) []*PublisherService {
	t.Helper()
	var out []*PublisherService
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case svc, ok := <-ch:
			require.True(t, ok, "channel closed after %d services", len(out))
			out = append(out, svc)
		case <-timeout:
			t.Fatalf("got %d services, want %d", len(out), n)
		}
	}
	return out
}

func TestBrowseAggregatesAndFilters(t *testing.T) {
	b := newTestBrowser(
		browseStep{entry: entry("PMU-A", "1.0", "10.0.0.1")},
		browseStep{entry: entry("PMU-A", "1.0", "fe80::1")},
		browseStep{entry: ServiceEntry{Instance: "BROKEN", Text: []string{"name=x"}}},
		browseStep{entry: entry("PMU-OLD", "2.0", "10.0.0.9")},
		browseStep{lost: true, entry: entry("PMU-A", "1.0", "10.0.0.1", "fe80::1")},
		browseStep{entry: entry("PMU-A", "1.0", "10.0.0.1")},
		browseStep{entry: entry("PMU-B", "1.1", "10.0.0.2")},
	)

	ctx, cancel := context.WithCancel(context.Background())
	results, err := b.Browse(ctx)
	require.NoError(t, err)

	got := collect(t, results, 3)
	assert.Equal(t, "PMU-A", got[0].Name)
	assert.Equal(t, []string{"10.0.0.1"}, got[0].Addresses)
	assert.Equal(t, "PMU-A", got[1].Name, "re-announced after all addresses were lost")
	assert.Equal(t, "PMU-B", got[2].Name)
	assert.Equal(t, "1.1", got[2].Version)
	assert.Equal(t, "10.0.0.2:6165", got[2].Address())

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-results
		return !ok
	}, time.Second, time.Millisecond)
}

func TestBrowseIncludeIncompatible(t *testing.T) {
	cfg := DefaultBrowserConfig()
	cfg.IncludeIncompatible = true
	b := NewMDNSBrowser(cfg)
	b.browse = (&scriptedBrowse{steps: []browseStep{{entry: entry("PMU-OLD", "2.0", "10.0.0.9")}}}).browse

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results, err := b.Browse(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.0", collect(t, results, 1)[0].Version)
}

func TestFind(t *testing.T) {
	b := newTestBrowser(
		browseStep{entry: entry("PMU-A", "1.0", "10.0.0.1")},
		browseStep{entry: entry("PMU-B", "1.0", "10.0.0.2")},
	)
	svc, err := b.Find(context.Background(), "PMU-B")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:6165", svc.Address())

	b = newTestBrowser(browseStep{entry: entry("PMU-A", "1.0", "10.0.0.1")})
	svc, err = b.Find(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "PMU-A", svc.Name)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	b = newTestBrowser(browseStep{entry: entry("PMU-A", "1.0", "10.0.0.1")})
	_, err = b.Find(ctx, "PMU-Z")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddressHelpers(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, mergeAddresses([]string{"a", "b"}, []string{"b", "c"}))
	assert.Equal(t, []string{"a", "c"}, removeAddresses([]string{"a", "b", "c"}, []string{"b", "x"}))
}
