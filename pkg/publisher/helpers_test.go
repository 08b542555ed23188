package publisher

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gridpulse/gridpulse-go/pkg/cipher"
	"github.com/gridpulse/gridpulse-go/pkg/signal"
	"github.com/gridpulse/gridpulse-go/pkg/wire"
)

var errSendFailed = errors.New("send failed")

// recordingChannel is a CommandChannel that keeps every frame sent to it.
type recordingChannel struct {
	remote net.Addr

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	gate    chan struct{}
	closed  bool
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{remote: &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 4712}}
}

func (r *recordingChannel) Send(data []byte) error {
	r.mu.Lock()
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, append([]byte(nil), data...))
	return nil
}

func (r *recordingChannel) RemoteAddr() net.Addr { return r.remote }

func (r *recordingChannel) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingChannel) setSendErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendErr = err
}

func (r *recordingChannel) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *recordingChannel) responses(t *testing.T) []*wire.ResponsePacket {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*wire.ResponsePacket, 0, len(r.sent))
	for _, frame := range r.sent {
		pkt, err := wire.DecodeResponse(frame)
		require.NoError(t, err)
		out = append(out, pkt)
	}
	return out
}

// waitResponses waits until at least n frames were sent and returns them.
func (r *recordingChannel) waitResponses(t *testing.T, n int) []*wire.ResponsePacket {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.sent) >= n
	}, 2*time.Second, time.Millisecond, "waiting for %d frames", n)
	return r.responses(t)
}

// last returns the newest response of the given type.
func last(pkts []*wire.ResponsePacket, resp wire.ServerResponse) *wire.ResponsePacket {
	for i := len(pkts) - 1; i >= 0; i-- {
		if pkts[i].Response == resp {
			return pkts[i]
		}
	}
	return nil
}

func count(pkts []*wire.ResponsePacket, resp wire.ServerResponse) int {
	n := 0
	for _, p := range pkts {
		if p.Response == resp {
			n++
		}
	}
	return n
}

// stubDataChannel is a DataChannel whose calls are set up per test.
type stubDataChannel struct {
	mock.Mock
}

func (s *stubDataChannel) Start() error {
	return s.Called().Error(0)
}

func (s *stubDataChannel) Send(packet []byte) error {
	return s.Called(packet).Error(0)
}

func (s *stubDataChannel) Stop() error {
	return s.Called().Error(0)
}

// dataChannelFactory hands out prepared stub channels in order and keeps
// their stop callbacks.
type dataChannelFactory struct {
	mu        sync.Mutex
	channels  []*stubDataChannel
	configs   []string
	onStopped []func(bool, error)
}

func (f *dataChannelFactory) open(config string, _ net.Addr, onStopped func(bool, error)) (DataChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := len(f.configs)
	f.configs = append(f.configs, config)
	f.onStopped = append(f.onStopped, onStopped)
	if i >= len(f.channels) {
		return nil, errors.New("no more data channels")
	}
	return f.channels[i], nil
}

func (f *dataChannelFactory) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.configs)
}

func (f *dataChannelFactory) config(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[i]
}

func (f *dataChannelFactory) stopped(i int) func(bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onStopped[i]
}

// stubResolver is an AddrResolver for reverse lookups.
type stubResolver struct {
	mock.Mock
}

func (s *stubResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	args := s.Called(addr)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

type testEnv struct {
	clock    *clock.Mock
	channel  *recordingChannel
	registry *prometheus.Registry
	metrics  *Metrics
	catalog  *signal.Catalog
	signals  []signal.Signal
	sub      SubscriberConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	signals := []signal.Signal{
		{ID: uuid.New(), Key: signal.MeasurementKey{Source: "PPA", ID: 1}},
		{ID: uuid.New(), Key: signal.MeasurementKey{Source: "PPA", ID: 2}},
		{ID: uuid.New(), Key: signal.MeasurementKey{Source: "SHELBY", ID: 1}},
	}
	catalog, err := signal.NewCatalog(signals)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	return &testEnv{
		clock:    clock.NewMock(),
		channel:  newRecordingChannel(),
		registry: reg,
		metrics:  NewMetrics(reg),
		catalog:  catalog,
		signals:  signals,
		sub: SubscriberConfig{
			ID:             uuid.New(),
			Acronym:        "CONTROL_CENTER",
			SharedSecret:   "s3cret",
			AllowedSignals: []string{"PPA:*"},
		},
	}
}

func (e *testEnv) config(t *testing.T) ConnectionConfig {
	t.Helper()
	auth, err := NewAuthenticator([]SubscriberConfig{e.sub})
	require.NoError(t, err)

	return ConnectionConfig{
		Command:               e.channel,
		Catalog:               e.catalog,
		Authenticator:         auth,
		RequireAuthentication: true,
		Clock:                 e.clock,
		Metrics:               e.metrics,
	}
}

func (e *testEnv) connect(t *testing.T, mutate ...func(*ConnectionConfig)) *Connection {
	t.Helper()
	cfg := e.config(t)
	for _, m := range mutate {
		m(&cfg)
	}
	conn, err := NewConnection(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Disconnect("test done") })
	conn.Handshake(context.Background())
	return conn
}

func authenticateCommand(t *testing.T, id uuid.UUID, secret string) []byte {
	t.Helper()
	payload, err := wire.Marshal(&wire.AuthenticateRequest{
		SubscriberID: id,
		Token:        cipher.AuthToken(secret, id),
		Source:       "gridpulse-subscriber",
		Version:      "1.2.0",
		BuildDate:    "2024-03-01",
	})
	require.NoError(t, err)
	return wire.EncodeCommand(wire.CommandAuthenticate, payload)
}

func subscribeCommand(t *testing.T, req *wire.SubscribeRequest) []byte {
	t.Helper()
	payload, err := wire.Marshal(req)
	require.NoError(t, err)
	return wire.EncodeCommand(wire.CommandSubscribe, payload)
}

// subscribe authenticates as the test subscriber and subscribes.
func (e *testEnv) subscribe(t *testing.T, conn *Connection, req *wire.SubscribeRequest) {
	t.Helper()
	require.NoError(t, conn.HandleCommand(authenticateCommand(t, e.sub.ID, e.sub.SharedSecret)))
	require.NoError(t, conn.HandleCommand(subscribeCommand(t, req)))
	require.Equal(t, StateSubscribed, conn.State())
}

func (e *testEnv) frame(values ...float64) *signal.Frame {
	f := &signal.Frame{Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	for i, v := range values {
		f.Measurements = append(f.Measurements, signal.Measurement{SignalID: e.signals[i].ID, Value: v})
	}
	return f
}

func responseText(t *testing.T, pkt *wire.ResponsePacket) string {
	t.Helper()
	require.NotNil(t, pkt)
	text, err := wire.DefaultOperationalModes.DecodeText(pkt.Payload)
	require.NoError(t, err)
	return text
}

// counterValue reads one counter sample from the registry.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				if c := m.GetCounter(); c != nil {
					return c.GetValue()
				}
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}
