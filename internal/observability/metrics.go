package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcomes recorded by RecordAvatarFetch.
const (
	OutcomeServed            = "served"
	OutcomePlaceholder       = "placeholder"
	OutcomeDecodeError       = "decode_error"
	OutcomeInvalidIdentifier = "invalid_identifier"
	OutcomeNotConnected      = "not_connected"
	OutcomeTimeout           = "timeout"
	OutcomeProtocolError     = "protocol_error"
	OutcomeError             = "error"
)

var (
	registerOnce sync.Once
	pendingOnce  sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avatarsvc",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "avatarsvc",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	avatarFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avatarsvc",
			Subsystem: "avatar",
			Name:      "fetches_total",
			Help:      "Avatar requests by outcome.",
		},
		[]string{"outcome"},
	)
	avatarFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "avatarsvc",
			Subsystem: "avatar",
			Name:      "fetch_duration_seconds",
			Help:      "Upstream vCard fetch duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)
	sessionConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "avatarsvc",
			Subsystem: "session",
			Name:      "connected",
			Help:      "1 while the upstream XMPP session is established.",
		},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avatarsvc",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Upstream session state transitions.",
		},
		[]string{"state"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			avatarFetches,
			avatarFetchDuration,
			sessionConnected,
			sessionTransitions,
		)
	})
}

// RegisterPendingGauge exports fn as the in-flight fetch gauge. Only the
// first call registers.
func RegisterPendingGauge(fn func() int) {
	pendingOnce.Do(func() {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "avatarsvc",
				Subsystem: "session",
				Name:      "pending_fetches",
				Help:      "vCard queries awaiting a reply.",
			},
			func() float64 { return float64(fn()) },
		))
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordAvatarFetch(outcome string, duration time.Duration) {
	RegisterMetrics()
	avatarFetches.WithLabelValues(outcome).Inc()
	if duration > 0 {
		avatarFetchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

func RecordSessionState(state string, connected bool) {
	RegisterMetrics()
	sessionTransitions.WithLabelValues(state).Inc()
	if connected {
		sessionConnected.Set(1)
	} else {
		sessionConnected.Set(0)
	}
}
