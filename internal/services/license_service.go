package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"staffsched/internal/exporter"
	"staffsched/internal/infrastructure"
	"staffsched/internal/license"
	"staffsched/internal/security"
)

// LicenseEngine is the part of *license.Engine the service needs
type LicenseEngine interface {
	Activate(ctx context.Context, publicKey, artifact []byte) (*license.ActivationResult, error)
	HasActiveLicense(ctx context.Context) *license.Record
	Records(ctx context.Context) ([]license.Record, error)
	CreateRecord(ctx context.Context, in license.CreateRecordInput) (*license.Record, error)
	DeleteRecords(ctx context.Context, ids []int64) (int64, error)
	Now() time.Time
}

// MachineIdentifier provides the fingerprint licenses are bound to
type MachineIdentifier interface {
	Fingerprint(ctx context.Context) *security.MachineFingerprint
}

// RecordExporter renders records for download
type RecordExporter interface {
	Export(ctx context.Context, w io.Writer, format exporter.Format, records []license.Record) error
}

// LicenseService provides business logic for license operations
type LicenseService interface {
	Activate(ctx context.Context, publicKey, artifact []byte) (*ActivationResponse, error)
	GetStatus(ctx context.Context) *LicenseStatusResponse
	ActiveLicense(ctx context.Context) *license.Record
	ListRecords(ctx context.Context) ([]license.Record, error)
	CreateRecord(ctx context.Context, in license.CreateRecordInput) (*license.Record, error)
	DeleteRecords(ctx context.Context, ids []int64) (int64, error)
	Export(ctx context.Context, w io.Writer, format exporter.Format) error
	MachineID(ctx context.Context) *MachineIDResponse
}

// ActivationResponse is returned for every completed verification
type ActivationResponse struct {
	Success   bool             `json:"success"`
	Message   string           `json:"message"`
	Verdict   *license.Verdict `json:"verdict"`
	Record    *license.Record  `json:"record,omitempty"`
	Persisted bool             `json:"persisted"`
	TraceID   string           `json:"trace_id"`
}

// LicenseStatusResponse describes the outcome of an evaluation pass
type LicenseStatusResponse struct {
	Active    bool            `json:"active"`
	Status    string          `json:"license_status"` // active|none
	Message   string          `json:"message"`
	Record    *license.Record `json:"record,omitempty"`
	StartDate string          `json:"start_date,omitempty"`
	EndDate   string          `json:"end_date,omitempty"`
	Region    string          `json:"region,omitempty"`
	DaysLeft  int             `json:"days_left,omitempty"`
	TraceID   string          `json:"trace_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// MachineIDResponse carries the machine identifier and its parts
type MachineIDResponse struct {
	MachineID   string    `json:"machine_id"`
	PlatformID  string    `json:"platform_id"`
	MACAddress  string    `json:"mac_address"`
	CPUModel    string    `json:"cpu_model"`
	GeneratedAt time.Time `json:"generated_at"`
}

type licenseService struct {
	engine    LicenseEngine
	machine   MachineIdentifier
	exporter  RecordExporter
	publicKey []byte
	logger    *slog.Logger
}

// LicenseServiceOption configures the license service
type LicenseServiceOption func(*licenseService)

// WithPublicKey sets the key used when an activation uploads none
func WithPublicKey(pemBytes []byte) LicenseServiceOption {
	return func(s *licenseService) {
		s.publicKey = pemBytes
	}
}

// NewLicenseService creates a new license service
func NewLicenseService(engine LicenseEngine, machine MachineIdentifier, exp RecordExporter, logger *slog.Logger, opts ...LicenseServiceOption) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &licenseService{
		engine:   engine,
		machine:  machine,
		exporter: exp,
		logger:   logger.With(slog.String("service", "license")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func traceIDFrom(ctx context.Context) string {
	if id := infrastructure.TraceIDFromContext(ctx); id != "" {
		return id
	}
	return middleware.GetReqID(ctx)
}

// Activate verifies an uploaded key and license pair. A missing key falls
// back to the configured one.
func (s *licenseService) Activate(ctx context.Context, publicKey, artifact []byte) (*ActivationResponse, error) {
	traceID := traceIDFrom(ctx)
	if len(publicKey) == 0 {
		publicKey = s.publicKey
	}

	s.logger.InfoContext(ctx, "license activation started",
		slog.String("trace_id", traceID),
		slog.Int("public_key_bytes", len(publicKey)),
		slog.Int("license_bytes", len(artifact)))

	result, err := s.engine.Activate(ctx, publicKey, artifact)
	if err != nil {
		s.logger.WarnContext(ctx, "license activation failed",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()))
		return nil, err
	}

	resp := &ActivationResponse{
		Success:   result.Verdict.IsValid(),
		Message:   result.Verdict.Message,
		Verdict:   result.Verdict,
		Record:    result.Record,
		Persisted: result.Persisted,
		TraceID:   traceID,
	}

	s.logger.InfoContext(ctx, "license activation completed",
		slog.String("trace_id", traceID),
		slog.String("verdict", result.Verdict.Status),
		slog.Bool("persisted", result.Persisted))

	return resp, nil
}

// GetStatus runs an evaluation pass and describes the active record, if any
func (s *licenseService) GetStatus(ctx context.Context) *LicenseStatusResponse {
	traceID := traceIDFrom(ctx)
	now := s.engine.Now()

	rec := s.engine.HasActiveLicense(ctx)
	if rec == nil {
		return &LicenseStatusResponse{
			Status:    "none",
			Message:   "No active license. Activate a license to use scheduling features.",
			TraceID:   traceID,
			Timestamp: now,
		}
	}

	loc := regionLocation(rec.Region)
	return &LicenseStatusResponse{
		Active:    true,
		Status:    string(rec.Status),
		Message:   "License active",
		Record:    rec,
		StartDate: rec.StartDate.In(loc).Format(license.DateLayout),
		EndDate:   rec.EndDate.In(loc).Format(license.DateLayout),
		Region:    rec.Region,
		DaysLeft:  daysLeft(now, rec.EndDate, loc),
		TraceID:   traceID,
		Timestamp: now,
	}
}

// ActiveLicense is the gate used by other handlers
func (s *licenseService) ActiveLicense(ctx context.Context) *license.Record {
	return s.engine.HasActiveLicense(ctx)
}

// ListRecords returns every stored record
func (s *licenseService) ListRecords(ctx context.Context) ([]license.Record, error) {
	return s.engine.Records(ctx)
}

// CreateRecord stores an administrator defined record
func (s *licenseService) CreateRecord(ctx context.Context, in license.CreateRecordInput) (*license.Record, error) {
	rec, err := s.engine.CreateRecord(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "license record created",
		slog.String("trace_id", traceIDFrom(ctx)),
		slog.Int64("record_id", rec.ID))
	return rec, nil
}

// DeleteRecords removes records by id
func (s *licenseService) DeleteRecords(ctx context.Context, ids []int64) (int64, error) {
	n, err := s.engine.DeleteRecords(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "license records deleted",
		slog.String("trace_id", traceIDFrom(ctx)),
		slog.Int("requested", len(ids)),
		slog.Int64("deleted", n))
	return n, nil
}

// Export writes all records in the requested format
func (s *licenseService) Export(ctx context.Context, w io.Writer, format exporter.Format) error {
	records, err := s.engine.Records(ctx)
	if err != nil {
		return err
	}
	return s.exporter.Export(ctx, w, format, records)
}

// MachineID returns the identifier licenses must be issued for
func (s *licenseService) MachineID(ctx context.Context) *MachineIDResponse {
	fp := s.machine.Fingerprint(ctx)
	return &MachineIDResponse{
		MachineID:   fp.MachineID,
		PlatformID:  fp.PlatformID,
		MACAddress:  fp.MACAddress,
		CPUModel:    fp.CPUModel,
		GeneratedAt: fp.GeneratedAt,
	}
}

// daysLeft counts whole calendar days from today to the end date in loc.
// The end date itself counts, so a license ending today has one day left.
func daysLeft(now, end time.Time, loc *time.Location) int {
	today := license.StartOfDay(now, loc)
	last := license.StartOfDay(end, loc)
	y1, m1, d1 := today.Date()
	y2, m2, d2 := last.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours()/24) + 1
}

func regionLocation(region string) *time.Location {
	if loc, err := time.LoadLocation(region); err == nil && region != "" {
		return loc
	}
	return time.UTC
}
