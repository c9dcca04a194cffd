package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetricsCountsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m, err := newHTTPMetrics(registry, Config{ServiceName: "swimreg", Environment: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	router := gin.New()
	router.Use(m.GinMiddleware())
	router.GET("/api/invoices/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for i := 0; i < 2; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/invoices/1", nil))
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues("/api/invoices/:id", http.MethodGet, "404"))
	if got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
}

func TestHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := newHTTPMetrics(registry, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := newHTTPMetrics(registry, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.requests != second.requests {
		t.Fatalf("expected shared collector")
	}
}
