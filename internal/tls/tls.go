// Package tls builds crypto/tls configurations for the ingest client and
// the OTLP receivers.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ServerConfig holds TLS configuration for the receivers.
type ServerConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	// CAFile enables client certificate verification (mTLS) when set
	// together with ClientAuth.
	CAFile     string
	ClientAuth bool
}

// ClientConfig holds TLS configuration for the ingest transport.
type ClientConfig struct {
	Enabled bool
	// CertFile and KeyFile present a client certificate (mTLS).
	CertFile string
	KeyFile  string
	// CAFile replaces the system roots for server verification.
	CAFile             string
	InsecureSkipVerify bool
	ServerName         string
}

// NewServerTLSConfig returns nil when TLS is disabled.
func NewServerTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.ClientAuth && cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		out.ClientCAs = pool
		out.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return out, nil
}

// NewClientTLSConfig returns a TLS 1.2+ client configuration. When cfg is
// disabled the result still enforces the minimum version so that HTTPS
// ingest endpoints never negotiate legacy protocols.
func NewClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	out := &tls.Config{MinVersion: tls.VersionTLS12}
	if !cfg.Enabled {
		return out, nil
	}

	out.InsecureSkipVerify = cfg.InsecureSkipVerify //nolint:gosec // opt-in for test endpoints
	out.ServerName = cfg.ServerName

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	if cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		out.RootCAs = pool
	}
	return out, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to parse CA certificate %s", path)
	}
	return pool, nil
}
