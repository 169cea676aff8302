package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/avatarsvc/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()
	RegisterPendingGauge(func() int { return 3 })
	RegisterPendingGauge(func() int { return 4 })

	RecordHTTPRequest("GET", "/healthz", 200, 12*time.Millisecond)
	before := testutil.ToFloat64(avatarFetches.WithLabelValues(OutcomeServed))
	RecordAvatarFetch(OutcomeServed, 24*time.Millisecond)
	if got := testutil.ToFloat64(avatarFetches.WithLabelValues(OutcomeServed)); got != before+1 {
		t.Fatalf("served counter not incremented: before=%v after=%v", before, got)
	}

	RecordSessionState("connected", true)
	if got := testutil.ToFloat64(sessionConnected); got != 1 {
		t.Fatalf("unexpected connected gauge: %v", got)
	}
	RecordSessionState("disconnected", false)
	if got := testutil.ToFloat64(sessionConnected); got != 0 {
		t.Fatalf("unexpected connected gauge: %v", got)
	}
}

func TestMiddlewareRecordsRouteTemplate(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(log.Logger), RequestMetricsMiddleware())
	r.GET("/avatar/*jid", func(c *gin.Context) { c.String(http.StatusNotFound, "Not found") })

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/avatar/*jid", "404"))
	req := httptest.NewRequest(http.MethodGet, "/avatar/alice@example.com", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/avatar/*jid", "404")); got != before+1 {
		t.Fatalf("route counter not incremented: before=%v after=%v", before, got)
	}
}
