package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MaxDatagramSize is the largest UDP payload a data channel sends.
const MaxDatagramSize = 65507

// Data channel errors.
var (
	ErrInvalidDataChannel = errors.New("invalid data channel configuration")
	ErrDataChannelStopped = errors.New("data channel stopped")
)

// ParseDataChannelConfig resolves a data channel configuration string to a
// UDP endpoint. The string is a semicolon-separated list of key=value
// settings:
//
//	remote=host:port   explicit endpoint; host "*" or empty means the peer
//	localport=port     shorthand for remote=*:port
//
// peer is the subscriber's command channel address.
func ParseDataChannelConfig(config string, peer net.Addr) (*net.UDPAddr, error) {
	settings := parseSettings(config)

	var host, port string
	switch {
	case settings["remote"] != "":
		h, p, err := net.SplitHostPort(settings["remote"])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDataChannel, err)
		}
		host, port = h, p
	case settings["localport"] != "":
		host, port = "*", settings["localport"]
	default:
		return nil, fmt.Errorf("%w: %q has no remote endpoint", ErrInvalidDataChannel, config)
	}

	portNum, err := strconv.ParseUint(port, 10, 16)
	if err != nil || portNum == 0 {
		return nil, fmt.Errorf("%w: bad port %q", ErrInvalidDataChannel, port)
	}

	if host == "" || host == "*" {
		ip := peerIP(peer)
		if ip == nil {
			return nil, fmt.Errorf("%w: peer address unavailable", ErrInvalidDataChannel)
		}
		return &net.UDPAddr{IP: ip, Port: int(portNum)}, nil
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataChannel, err)
	}
	return addr, nil
}

func parseSettings(config string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(config, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.Trim(strings.TrimSpace(value), "{}")
		out[key] = value
	}
	return out
}

func peerIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	case nil:
		return nil
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// DataChannel is the publisher side of a UDP data channel.
type DataChannel struct {
	config string
	remote *net.UDPAddr

	// OnStopped is called once when the channel stops. unexpected is true
	// when a send failure terminated it rather than Stop.
	OnStopped func(unexpected bool, err error)

	mu      sync.Mutex
	conn    *net.UDPConn
	stopped bool
	started time.Time
}

// NewDataChannel resolves config against peer. The channel is inert until
// Start.
func NewDataChannel(config string, peer net.Addr) (*DataChannel, error) {
	remote, err := ParseDataChannelConfig(config, peer)
	if err != nil {
		return nil, err
	}
	return &DataChannel{config: config, remote: remote}, nil
}

// Config returns the configuration string the channel was built from.
func (d *DataChannel) Config() string {
	return d.config
}

// Remote returns the resolved UDP endpoint.
func (d *DataChannel) Remote() *net.UDPAddr {
	return d.remote
}

// Start opens the socket.
func (d *DataChannel) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDataChannelStopped
	}
	if d.conn != nil {
		return nil
	}
	conn, err := net.DialUDP("udp", nil, d.remote)
	if err != nil {
		return fmt.Errorf("open data channel to %s: %w", d.remote, err)
	}
	d.conn = conn
	d.started = time.Now()
	return nil
}

// Running reports whether the channel is started and not stopped.
func (d *DataChannel) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil && !d.stopped
}

// Send writes one datagram. A write failure stops the channel and reports
// it through OnStopped as unexpected.
func (d *DataChannel) Send(packet []byte) error {
	if len(packet) > MaxDatagramSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(packet), MaxDatagramSize)
	}

	d.mu.Lock()
	conn := d.conn
	stopped := d.stopped
	d.mu.Unlock()

	if stopped || conn == nil {
		return ErrDataChannelStopped
	}
	if _, err := conn.Write(packet); err != nil {
		d.stop(true, err)
		return fmt.Errorf("data channel send: %w", err)
	}
	return nil
}

// Stop closes the channel. Safe to call more than once.
func (d *DataChannel) Stop() error {
	return d.stop(false, nil)
}

func (d *DataChannel) stop(unexpected bool, cause error) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	conn := d.conn
	d.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if d.OnStopped != nil {
		d.OnStopped(unexpected, cause)
	}
	return err
}

// DataListener is the subscriber side of a UDP data channel.
type DataListener struct {
	conn *net.UDPConn
	buf  []byte
}

// ListenDataChannel binds a UDP socket on address, e.g. ":0".
func ListenDataChannel(address string) (*DataListener, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", address, err)
	}
	return &DataListener{conn: conn, buf: make([]byte, MaxDatagramSize)}, nil
}

// LocalAddr returns the bound address.
func (l *DataListener) LocalAddr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// ConfigString returns the configuration string a subscriber sends to have
// the publisher stream to this listener from its own address.
func (l *DataListener) ConfigString() string {
	return fmt.Sprintf("remote=*:%d", l.LocalAddr().Port)
}

// ReadPacket reads one datagram. A zero timeout blocks. Not safe for
// concurrent use.
func (l *DataListener) ReadPacket(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		l.conn.SetReadDeadline(time.Now().Add(timeout))
		defer l.conn.SetReadDeadline(time.Time{})
	}
	n, _, err := l.conn.ReadFromUDP(l.buf)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), l.buf[:n]...), nil
}

// Close releases the socket.
func (l *DataListener) Close() error {
	return l.conn.Close()
}
