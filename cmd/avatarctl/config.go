package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/avatarsvc/internal/avatar"
	"github.com/spf13/pflag"
)

const (
	envJID      = "AVATARSVC_JID"
	envPassword = "AVATARSVC_PASSWORD"
)

type fileConfig struct {
	Host                   string   `toml:"host"`
	Port                   int      `toml:"port"`
	JID                    string   `toml:"jid"`
	Password               string   `toml:"password"`
	AvatarPrefix           string   `toml:"avatar_prefix"`
	XMPPHost               string   `toml:"xmpp_host"`
	XMPPResource           string   `toml:"xmpp_resource"`
	XMPPStartTLS           bool     `toml:"xmpp_starttls"`
	XMPPNoTLS              bool     `toml:"xmpp_no_tls"`
	XMPPInsecureSkipVerify bool     `toml:"xmpp_insecure_skip_verify"`
	XMPPDebug              bool     `toml:"xmpp_debug"`
	XMPPTLSServerName      string   `toml:"xmpp_tls_server_name"`
	XMPPCAFile             string   `toml:"xmpp_ca_file"`
	XMPPCertFile           string   `toml:"xmpp_cert_file"`
	XMPPKeyFile            string   `toml:"xmpp_key_file"`
	FetchTimeout           string   `toml:"fetch_timeout"`
	WriteTimeout           string   `toml:"write_timeout"`
	MaxConnectAttempts     int      `toml:"max_connect_attempts"`
	BackoffInitial         string   `toml:"backoff_initial"`
	BackoffMax             string   `toml:"backoff_max"`
	CORSOrigins            []string `toml:"cors_origins"`
	ShutdownTimeout        string   `toml:"shutdown_timeout"`
}

// loadServiceConfig overlays the toml file at path on the defaults. Only keys
// present in the file override.
func loadServiceConfig(path string) (avatar.ServiceConfig, error) {
	cfg := avatar.DefaultServiceConfig()
	if err := applyFile(&cfg, path); err != nil {
		return avatar.ServiceConfig{}, err
	}
	return cfg, nil
}

func applyFile(cfg *avatar.ServiceConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load avatarctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load avatarctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("jid") {
		cfg.XMPP.Account = strings.TrimSpace(raw.JID)
	}
	if meta.IsDefined("password") {
		cfg.XMPP.Password = raw.Password
	}
	if meta.IsDefined("avatar_prefix") {
		cfg.AvatarPrefix = raw.AvatarPrefix
	}
	if meta.IsDefined("xmpp_host") {
		cfg.XMPP.Host = strings.TrimSpace(raw.XMPPHost)
	}
	if meta.IsDefined("xmpp_resource") {
		cfg.XMPP.Resource = strings.TrimSpace(raw.XMPPResource)
	}
	if meta.IsDefined("xmpp_starttls") {
		cfg.XMPP.StartTLS = raw.XMPPStartTLS
	}
	if meta.IsDefined("xmpp_no_tls") {
		cfg.XMPP.NoTLS = raw.XMPPNoTLS
	}
	if meta.IsDefined("xmpp_insecure_skip_verify") {
		cfg.XMPP.InsecureSkipVerify = raw.XMPPInsecureSkipVerify
	}
	if meta.IsDefined("xmpp_debug") {
		cfg.XMPP.Debug = raw.XMPPDebug
	}
	if meta.IsDefined("xmpp_tls_server_name") {
		cfg.XMPP.TLS.ServerName = strings.TrimSpace(raw.XMPPTLSServerName)
	}
	if meta.IsDefined("xmpp_ca_file") {
		cfg.XMPP.TLS.CAFile = strings.TrimSpace(raw.XMPPCAFile)
	}
	if meta.IsDefined("xmpp_cert_file") {
		cfg.XMPP.TLS.CertFile = strings.TrimSpace(raw.XMPPCertFile)
	}
	if meta.IsDefined("xmpp_key_file") {
		cfg.XMPP.TLS.KeyFile = strings.TrimSpace(raw.XMPPKeyFile)
	}
	if meta.IsDefined("fetch_timeout") {
		d, err := parseDuration("fetch_timeout", raw.FetchTimeout)
		if err != nil {
			return err
		}
		cfg.Session.FetchTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := parseDuration("write_timeout", raw.WriteTimeout)
		if err != nil {
			return err
		}
		cfg.Session.WriteTimeout = d
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("backoff_initial") {
		d, err := parseDuration("backoff_initial", raw.BackoffInitial)
		if err != nil {
			return err
		}
		cfg.Session.Backoff.InitialDelay = d
	}
	if meta.IsDefined("backoff_max") {
		d, err := parseDuration("backoff_max", raw.BackoffMax)
		if err != nil {
			return err
		}
		cfg.Session.Backoff.MaxDelay = d
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}
	if meta.IsDefined("shutdown_timeout") {
		d, err := parseDuration("shutdown_timeout", raw.ShutdownTimeout)
		if err != nil {
			return err
		}
		cfg.ShutdownTimeout = d
	}
	return nil
}

// applyEnv lets the account credentials come from the environment (or a
// .env file loaded beforehand).
func applyEnv(cfg *avatar.ServiceConfig, lookup func(string) (string, bool)) {
	if v, ok := lookup(envJID); ok && strings.TrimSpace(v) != "" {
		cfg.XMPP.Account = strings.TrimSpace(v)
	}
	if v, ok := lookup(envPassword); ok && v != "" {
		cfg.XMPP.Password = v
	}
}

type cliFlags struct {
	set          *pflag.FlagSet
	configPath   string
	jid          string
	password     string
	host         string
	port         int
	avatarPrefix string
	envFile      string
}

func newFlags() *cliFlags {
	def := avatar.DefaultServiceConfig()
	f := &cliFlags{set: pflag.NewFlagSet("avatarctl", pflag.ContinueOnError)}
	f.set.StringVar(&f.configPath, "config", "", "path to a toml config file")
	f.set.StringVarP(&f.jid, "jid", "j", def.XMPP.Account, "JID to use")
	f.set.StringVarP(&f.password, "password", "p", def.XMPP.Password, "password to use")
	f.set.StringVar(&f.host, "host", def.Host, "host on which to listen")
	f.set.IntVar(&f.port, "port", def.Port, "port on which to listen")
	f.set.StringVar(&f.avatarPrefix, "avatar_prefix", def.AvatarPrefix, "path prefix of the avatar route")
	f.set.StringVar(&f.envFile, "env-file", ".env", "dotenv file with AVATARSVC_ credentials; missing is ignored")
	f.set.BoolP("help", "h", false, "show help")
	return f
}

// apply copies only the flags given on the command line.
func (f *cliFlags) apply(cfg *avatar.ServiceConfig) {
	if f.set.Changed("jid") {
		cfg.XMPP.Account = strings.TrimSpace(f.jid)
	}
	if f.set.Changed("password") {
		cfg.XMPP.Password = f.password
	}
	if f.set.Changed("host") {
		cfg.Host = strings.TrimSpace(f.host)
	}
	if f.set.Changed("port") {
		cfg.Port = f.port
	}
	if f.set.Changed("avatar_prefix") {
		cfg.AvatarPrefix = f.avatarPrefix
	}
}

// resolveConfig layers defaults, the config file, the environment, and
// flags, in increasing precedence.
func resolveConfig(f *cliFlags, lookup func(string) (string, bool)) (avatar.ServiceConfig, error) {
	cfg := avatar.DefaultServiceConfig()
	if f.configPath != "" {
		if err := applyFile(&cfg, f.configPath); err != nil {
			return avatar.ServiceConfig{}, err
		}
	}
	applyEnv(&cfg, lookup)
	f.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return avatar.ServiceConfig{}, err
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		v := strings.TrimSpace(o)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
