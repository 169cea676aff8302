package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/avatarsvc/internal/testutil/testlog"
	"github.com/danmuck/avatarsvc/internal/testutil/tlstest"
)

func TestBuildTLSConfigDefaults(t *testing.T) {
	testlog.Start(t)
	out, err := buildTLSConfig(XMPPConfig{}, "example.com")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if out.ServerName != "example.com" || out.RootCAs != nil || len(out.Certificates) != 0 {
		t.Fatalf("unexpected config: %+v", out)
	}
}

func TestBuildTLSConfigLoadsFiles(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewCA(t, "test-ca")
	client := ca.Client(t, "bot@example.com")

	out, err := buildTLSConfig(XMPPConfig{TLS: TLSConfig{
		ServerName: "xmpp.internal",
		CAFile:     ca.File(),
		CertFile:   client.CertFile,
		KeyFile:    client.KeyFile,
	}}, "example.com")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if out.ServerName != "xmpp.internal" {
		t.Fatalf("unexpected server name: %q", out.ServerName)
	}
	if out.RootCAs == nil {
		t.Fatalf("expected custom roots")
	}
	if len(out.Certificates) != 1 {
		t.Fatalf("expected client certificate, got %d", len(out.Certificates))
	}
}

func TestBuildTLSConfigRejectsBadFiles(t *testing.T) {
	testlog.Start(t)
	junk := filepath.Join(t.TempDir(), "junk.pem")
	if err := os.WriteFile(junk, []byte("not a cert"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := buildTLSConfig(XMPPConfig{TLS: TLSConfig{CAFile: junk}}, "example.com"); !errors.Is(err, ErrTLSCAFileInvalid) {
		t.Fatalf("expected ErrTLSCAFileInvalid, got %v", err)
	}
	if _, err := buildTLSConfig(XMPPConfig{TLS: TLSConfig{CAFile: junk + ".missing"}}, "example.com"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestValidateTLS(t *testing.T) {
	testlog.Start(t)
	for _, tc := range []struct {
		cfg  XMPPConfig
		want error
	}{
		{XMPPConfig{TLS: TLSConfig{CertFile: "c.pem"}}, ErrTLSKeyPairIncomplete},
		{XMPPConfig{TLS: TLSConfig{KeyFile: "k.pem"}}, ErrTLSKeyPairIncomplete},
		{XMPPConfig{InsecureSkipVerify: true, TLS: TLSConfig{CAFile: "ca.pem"}}, ErrTLSInsecureWithCA},
		{XMPPConfig{NoTLS: true, TLS: TLSConfig{ServerName: "x"}}, ErrTLSDisabled},
		{XMPPConfig{NoTLS: true, StartTLS: true, TLS: TLSConfig{ServerName: "x"}}, nil},
		{XMPPConfig{}, nil},
	} {
		if err := tc.cfg.validateTLS(); !errors.Is(err, tc.want) {
			t.Fatalf("validateTLS(%+v) = %v, want %v", tc.cfg, err, tc.want)
		}
	}
}

func TestNewXMPPDialerUsesTLSFiles(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewCA(t, "test-ca")
	d, err := NewXMPPDialer(XMPPConfig{
		Account:  "bot@example.com",
		Password: "secret",
		TLS:      TLSConfig{CAFile: ca.File()},
	})
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	a, b := d.options().TLSConfig, d.options().TLSConfig
	if a == b {
		t.Fatalf("expected a fresh tls config per dial")
	}
	if a.RootCAs == nil {
		t.Fatalf("expected custom roots")
	}
}
