package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"

	"staffsched/internal/services"
	"staffsched/internal/shared/testutil"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newHealthHandler(t *testing.T, db services.Pinger) *HealthHandler {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)).MustWait(context.Background())

	svc := services.NewHealthService("1.0.0-test", "2024-06-01T00:00:00Z", services.HealthDeps{
		DB:           db,
		VerifierPath: os.Args[0],
		Clock:        clock,
	}, logger)
	return NewHealthHandler(svc, logger)
}

func TestHealthEndpoints(t *testing.T) {
	h := newHealthHandler(t, pingerFunc(func(context.Context) error { return nil }))

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"health", h.HealthCheck, "ok"},
		{"ready", h.ReadinessCheck, "ready"},
		{"live", h.LivenessCheck, "alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, decodeBody(t, rec)["status"])
		})
	}
}

func TestReadinessReportsUnavailable(t *testing.T) {
	h := newHealthHandler(t, pingerFunc(func(context.Context) error { return errors.New("database is locked") }))

	rec := httptest.NewRecorder()
	h.ReadinessCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "not_ready", body["status"])
	db := body["services"].(map[string]interface{})["database"].(map[string]interface{})
	assert.NotEqual(t, "ready", db["status"])
}

func TestVersionEndpoint(t *testing.T) {
	h := newHealthHandler(t, nil)

	rec := httptest.NewRecorder()
	h.Version(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))

	body := decodeBody(t, rec)
	assert.Equal(t, "1.0.0-test", body["version"])
	assert.Equal(t, "2024-06-01T00:00:00Z", body["build_time"])
}
