package http

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"

	apierrors "staffsched/internal/errors"
	"staffsched/internal/exporter"
	"staffsched/internal/license"
	"staffsched/internal/middleware"
	"staffsched/internal/services"
	"staffsched/internal/shared/testutil"
)

// MockLicenseService implements services.LicenseService for testing
type MockLicenseService struct {
	mock.Mock
}

func (m *MockLicenseService) Activate(ctx context.Context, publicKey, artifact []byte) (*services.ActivationResponse, error) {
	args := m.Called(ctx, publicKey, artifact)
	resp, _ := args.Get(0).(*services.ActivationResponse)
	return resp, args.Error(1)
}

func (m *MockLicenseService) GetStatus(ctx context.Context) *services.LicenseStatusResponse {
	resp, _ := m.Called(ctx).Get(0).(*services.LicenseStatusResponse)
	return resp
}

func (m *MockLicenseService) ActiveLicense(ctx context.Context) *license.Record {
	rec, _ := m.Called(ctx).Get(0).(*license.Record)
	return rec
}

func (m *MockLicenseService) ListRecords(ctx context.Context) ([]license.Record, error) {
	args := m.Called(ctx)
	records, _ := args.Get(0).([]license.Record)
	return records, args.Error(1)
}

func (m *MockLicenseService) CreateRecord(ctx context.Context, in license.CreateRecordInput) (*license.Record, error) {
	args := m.Called(ctx, in)
	rec, _ := args.Get(0).(*license.Record)
	return rec, args.Error(1)
}

func (m *MockLicenseService) DeleteRecords(ctx context.Context, ids []int64) (int64, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLicenseService) Export(ctx context.Context, w io.Writer, format exporter.Format) error {
	args := m.Called(ctx, w, format)
	return args.Error(0)
}

func (m *MockLicenseService) MachineID(ctx context.Context) *services.MachineIDResponse {
	resp, _ := m.Called(ctx).Get(0).(*services.MachineIDResponse)
	return resp
}

// MockRoster implements RosterGenerator for testing
type MockRoster struct {
	mock.Mock
}

func (m *MockRoster) Generate(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	args := m.Called(ctx, payload)
	out, _ := args.Get(0).(json.RawMessage)
	return out, args.Error(1)
}

// newTestRouter mounts the license handler the way the application does
func newTestRouter(t *testing.T, svc *MockLicenseService, opts ...LicenseHandlerOption) (chi.Router, *testutil.BufferedSlogHandler) {
	t.Helper()
	logger, logs := testutil.NewTestLogger(t)
	errHandler := apierrors.NewErrorHandler(logger, false)

	h := NewLicenseHandler(svc, middleware.NewValidator(logger), errHandler, logger, opts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Mount("/api/license", h.Routes())
	r.Get("/api/machine-id", h.MachineID)
	return r, logs
}
