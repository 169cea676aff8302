package avatar

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/avatarsvc/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var ErrPrefixRequired = errors.New("avatar: avatar prefix required")

// NormalizePrefix strips leading slashes and ensures exactly one trailing
// slash, so "avatar", "/avatar/" and "avatar//" all become "avatar/".
func NormalizePrefix(prefix string) (string, error) {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		return "", ErrPrefixRequired
	}
	return p + "/", nil
}

// HealthFunc reports the upstream session for /healthz.
type HealthFunc func() Health

type Health struct {
	Connected bool
	State     string
	Pending   int
}

// RouterConfig configures NewRouter. AvatarPrefix must already be
// normalized.
type RouterConfig struct {
	AvatarPrefix string
	CORSOrigins  []string
}

// NewRouter builds the gin engine serving the avatar route, /healthz and
// /metrics.
func NewRouter(cfg RouterConfig, bridge *Bridge, health HealthFunc) *gin.Engine {
	observability.RegisterMetrics()
	started := time.Now()

	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/"+cfg.AvatarPrefix+"*jid", bridge.ServeAvatar)

	r.GET("/healthz", func(c *gin.Context) {
		h := health()
		status := http.StatusOK
		label := "ok"
		if !h.Connected {
			status = http.StatusServiceUnavailable
			label = "degraded"
		}
		c.JSON(status, gin.H{
			"status":  label,
			"session": h.State,
			"pending": h.Pending,
			"uptime":  time.Since(started).String(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(func(c *gin.Context) {
		c.Data(http.StatusNotFound, notFoundContentType, []byte(notFoundBody))
	})
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin"},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}
