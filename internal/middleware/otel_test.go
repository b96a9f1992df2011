package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffsched/internal/config"
	"staffsched/internal/infrastructure"
	"staffsched/internal/shared/testutil"
)

func TestOTelMiddlewareRecordsRequests(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(config.TelemetryConfig{
		Environment:   "test",
		EnableMetrics: true,
	}), logger)
	require.NoError(t, err)

	mw, err := NewOTelMiddleware(providers)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(mw.Handler)
	r.Get("/api/license/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/42", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	metrics := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metrics.Body.String()

	assert.True(t, strings.Contains(body, "http_requests_total"), "request counter exported")
	assert.Contains(t, body, `route="/api/license/{id}"`)
	assert.Contains(t, body, `status_code="404"`)
}

func TestResponseWriterKeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	_, _ = rw.Write([]byte("ok"))
	rw.WriteHeader(http.StatusInternalServerError)

	assert.Equal(t, http.StatusOK, rw.statusCode)
	assert.Equal(t, int64(2), rw.bytesWritten)
}
