package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersInflightAndPathFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "hello") })
	r.GET("/statusonly", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/ok", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404"))

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil)); w.Code != http.StatusOK {
		t.Fatalf("GET /ok -> %d", w.Code)
	}
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("GET /does-not-exist -> %d", w.Code)
	}
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/statusonly", nil)); w.Code != http.StatusNoContent {
		t.Fatalf("GET /statusonly -> %d", w.Code)
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/ok", "200")); got != baseOK+1 {
		t.Fatalf("counter /ok 200 = %v; want %v", got, baseOK+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404")); got != base404+1 {
		t.Fatalf("counter 404 fallback = %v; want %v", got, base404+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}

func TestMetrics_StreamsSkipLatencyAndSize(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/metrics-test/stream", func(c *gin.Context) { c.String(http.StatusOK, "data: x\n\n") })

	latSeries := testutil.CollectAndCount(httpLat)
	sizeSeries := testutil.CollectAndCount(httpRespSize)
	base := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/metrics-test/stream", "200"))

	serve(r, httptest.NewRequest(http.MethodGet, "/metrics-test/stream", nil))

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/metrics-test/stream", "200")); got != base+1 {
		t.Fatalf("stream request not counted: %v", got)
	}
	if testutil.CollectAndCount(httpLat) != latSeries || testutil.CollectAndCount(httpRespSize) != sizeSeries {
		t.Fatalf("stream route must not create latency or size series")
	}
}

func TestIsStreamPath(t *testing.T) {
	for path, want := range map[string]bool{
		"/api/v1/stream":      true,
		"/api/v1/auth/stream": true,
		"/api/v1/messages":    false,
		"/streamer":           false,
	} {
		if got := IsStreamPath(path); got != want {
			t.Fatalf("IsStreamPath(%q) = %v; want %v", path, got, want)
		}
	}
}
