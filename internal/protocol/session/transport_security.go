package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrTLSKeyPairIncomplete = errors.New("session: tls cert file and key file must be set together")
	ErrTLSCAFileInvalid     = errors.New("session: tls ca file has no usable certificates")
	ErrTLSInsecureWithCA    = errors.New("session: insecure skip verify conflicts with a ca file")
	ErrTLSDisabled          = errors.New("session: tls settings given but tls is disabled")
)

// TLSConfig tunes how the upstream certificate is verified and which client
// certificate, if any, is presented.
type TLSConfig struct {
	// ServerName overrides the name verified against the server certificate;
	// empty uses the account domain.
	ServerName string
	// CAFile replaces the system roots with the PEM bundle at this path.
	CAFile   string
	CertFile string
	KeyFile  string
}

func (c TLSConfig) isZero() bool {
	return strings.TrimSpace(c.ServerName) == "" &&
		strings.TrimSpace(c.CAFile) == "" &&
		strings.TrimSpace(c.CertFile) == "" &&
		strings.TrimSpace(c.KeyFile) == ""
}

// validateTLS checks combinations without touching the filesystem.
func (c XMPPConfig) validateTLS() error {
	t := c.TLS
	if (strings.TrimSpace(t.CertFile) == "") != (strings.TrimSpace(t.KeyFile) == "") {
		return ErrTLSKeyPairIncomplete
	}
	if c.InsecureSkipVerify && strings.TrimSpace(t.CAFile) != "" {
		return ErrTLSInsecureWithCA
	}
	if c.NoTLS && !c.StartTLS && !t.isZero() {
		return ErrTLSDisabled
	}
	return nil
}

// buildTLSConfig loads the files named by cfg.TLS. domain is the account
// domain used when no ServerName override is set.
func buildTLSConfig(cfg XMPPConfig, domain string) (*tls.Config, error) {
	serverName := strings.TrimSpace(cfg.TLS.ServerName)
	if serverName == "" {
		serverName = domain
	}
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         serverName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if path := strings.TrimSpace(cfg.TLS.CAFile); path != "" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("session: read tls ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: %s", ErrTLSCAFileInvalid, path)
		}
		out.RootCAs = pool
	}

	certFile := strings.TrimSpace(cfg.TLS.CertFile)
	keyFile := strings.TrimSpace(cfg.TLS.KeyFile)
	if certFile != "" {
		pair, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("session: load tls client cert: %w", err)
		}
		out.Certificates = []tls.Certificate{pair}
	}
	return out, nil
}
