package avatar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/avatarsvc/internal/observability"
	"github.com/danmuck/avatarsvc/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8765
	DefaultAvatarPrefix    = "avatar/"
	DefaultShutdownTimeout = 5 * time.Second
)

var (
	ErrInvalidPort   = errors.New("avatar: port out of range")
	ErrInvalidPrefix = errors.New("avatar: avatar prefix is reserved or contains route syntax")
	ErrInvalidOrigin = errors.New("avatar: cors origin must be * or start with http:// or https://")
)

// ServiceConfig is the resolved runtime configuration of one service
// instance.
type ServiceConfig struct {
	Host            string
	Port            int
	AvatarPrefix    string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	Session         session.Config
	XMPP            session.XMPPConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Host:            DefaultHost,
		Port:            DefaultPort,
		AvatarPrefix:    DefaultAvatarPrefix,
		ShutdownTimeout: DefaultShutdownTimeout,
		Session:         session.DefaultConfig(),
		XMPP: session.XMPPConfig{
			Account:  "changeme@example.com",
			Password: "changemetoo",
		},
	}
}

// Addr is the HTTP listen address.
func (c ServiceConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate normalizes AvatarPrefix in place and checks the listener
// settings. XMPP credentials are checked by the dialer.
func (c *ServiceConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	prefix, err := NormalizePrefix(c.AvatarPrefix)
	if err != nil {
		return err
	}
	if strings.ContainsAny(prefix, ":*") {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	switch prefix {
	case "healthz/", "metrics/":
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	c.AvatarPrefix = prefix
	for _, o := range c.CORSOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("%w: %q", ErrInvalidOrigin, o)
		}
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}

// Service wires one upstream session manager to the HTTP router.
type Service struct {
	cfg     ServiceConfig
	manager *session.Manager
	router  *gin.Engine
}

// NewService builds a service that dials the configured XMPP account.
func NewService(cfg ServiceConfig) (*Service, error) {
	dialer, err := session.NewXMPPDialer(cfg.XMPP)
	if err != nil {
		return nil, err
	}
	return NewServiceWithDialer(cfg, dialer)
}

func NewServiceWithDialer(cfg ServiceConfig, dialer session.Dialer) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	observability.RegisterMetrics()
	manager, err := session.NewManager(cfg.Session, dialer, session.WithStateHook(func(s session.State) {
		observability.RecordSessionState(string(s), s == session.StateConnected)
		log.Debug().Str("component", "service").Str("state", string(s)).Msg("session state changed")
	}))
	if err != nil {
		return nil, err
	}
	observability.RegisterPendingGauge(manager.Pending)

	s := &Service{cfg: cfg, manager: manager}
	s.router = NewRouter(RouterConfig{
		AvatarPrefix: cfg.AvatarPrefix,
		CORSOrigins:  cfg.CORSOrigins,
	}, NewBridge(manager), s.health)
	return s, nil
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

func (s *Service) Manager() *session.Manager {
	return s.manager
}

func (s *Service) Handler() http.Handler {
	return s.router
}

func (s *Service) health() Health {
	return Health{
		Connected: s.manager.Connected(),
		State:     string(s.manager.State()),
		Pending:   s.manager.Pending(),
	}
}

// Run connects upstream, then listens on Addr until SIGINT or SIGTERM.
// A failed initial connection returns before the listener is opened.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		_ = s.manager.Close()
		return fmt.Errorf("avatar: listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Start establishes the upstream session.
func (s *Service) Start(ctx context.Context) error {
	log.Info().
		Str("component", "service").
		Str("account", s.cfg.XMPP.Account).
		Msg("connecting upstream")
	if err := s.manager.Connect(ctx); err != nil {
		_ = s.manager.Close()
		return err
	}
	return nil
}

// Serve answers HTTP on ln until ctx is done, then drains in-flight
// requests for up to ShutdownTimeout and closes the session.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("component", "service").
			Str("addr", ln.Addr().String()).
			Str("avatar_prefix", s.cfg.AvatarPrefix).
			Msg("http listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("component", "service").Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if cerr := s.manager.Close(); cerr != nil {
		log.Warn().Str("component", "service").Err(cerr).Msg("session close failed")
	}
	return err
}
