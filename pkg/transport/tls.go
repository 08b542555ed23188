package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// ALPNProtocol identifies the gridpulse command channel during TLS
// negotiation.
const ALPNProtocol = "gridpulse/1"

// DefaultPort is the default command channel port.
const DefaultPort = 6165

// TLS errors.
var (
	ErrInvalidTLSVersion = errors.New("TLS 1.3 required")
	ErrInvalidALPN       = errors.New("unexpected ALPN protocol")
)

// TLSConfig holds file-based TLS settings for either side of the command
// channel.
type TLSConfig struct {
	// CertFile and KeyFile hold a PEM certificate and private key.
	// Required for the publisher.
	CertFile string `yaml:"cert"`
	KeyFile  string `yaml:"key"`

	// CAFile is a PEM bundle used to verify the peer. Subscribers use it to
	// verify the publisher; a publisher with a CAFile requires client
	// certificates.
	CAFile string `yaml:"ca"`

	// ServerName overrides the name verified in the publisher certificate.
	ServerName string `yaml:"serverName"`

	// InsecureSkipVerify disables peer verification. Test setups only.
	InsecureSkipVerify bool `yaml:"insecureSkipVerify"`
}

// Enabled reports whether any TLS material is configured.
func (c *TLSConfig) Enabled() bool {
	return c != nil && (c.CertFile != "" || c.CAFile != "" || c.InsecureSkipVerify)
}

// NewServerTLSConfig builds the publisher-side TLS configuration.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil || cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("server certificate and key are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}

	conf := baseTLSConfig()
	conf.Certificates = []tls.Certificate{cert}
	conf.ClientAuth = tls.NoClientCert

	if cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		conf.ClientCAs = pool
		conf.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return conf, nil
}

// NewClientTLSConfig builds the subscriber-side TLS configuration.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}

	conf := baseTLSConfig()
	conf.ServerName = cfg.ServerName
	conf.InsecureSkipVerify = cfg.InsecureSkipVerify

	if cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		conf.RootCAs = pool
	}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load key pair: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}
	return conf, nil
}

func baseTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,
		NextProtos: []string{ALPNProtocol},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// VerifyConnection checks the negotiated TLS version and ALPN protocol.
func VerifyConnection(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("%w: got 0x%04x", ErrInvalidTLSVersion, state.Version)
	}
	if state.NegotiatedProtocol != ALPNProtocol {
		return fmt.Errorf("%w: %q", ErrInvalidALPN, state.NegotiatedProtocol)
	}
	return nil
}
