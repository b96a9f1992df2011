package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"staffsched/internal/infrastructure"
)

const (
	outcomeValid    = "valid"
	outcomeRejected = "rejected"
	outcomeError    = "error"

	evaluateKey = "evaluate"
)

// Store persists license records. Implementations hold no business logic.
type Store interface {
	// Upsert updates the record with the same start and end instants or
	// inserts a new one, setting ID and CreatedAt on rec.
	Upsert(ctx context.Context, rec *Record) error
	// List returns all records in insertion order.
	List(ctx context.Context) ([]Record, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	Delete(ctx context.Context, ids []int64) (int64, error)
}

// ArtifactVerifier checks a signed license artifact against a public key.
type ArtifactVerifier interface {
	Verify(ctx context.Context, publicKey, artifact []byte) (*Verdict, error)
}

// CreateRecordInput is an administrative record definition.
type CreateRecordInput struct {
	StartDate string `json:"start_date" validate:"required,license_date"`
	EndDate   string `json:"end_date" validate:"required,license_date"`
	Region    string `json:"region,omitempty" validate:"omitempty,timezone"`
	Status    Status `json:"status,omitempty" validate:"omitempty,oneof=valid active expired"`
}

// Engine runs activation and the evaluation pass. Build one with NewEngine
// and share it with every consumer.
type Engine struct {
	store         Store
	verifier      ArtifactVerifier
	clock         quartz.Clock
	defaultRegion string
	defaultLoc    *time.Location
	logger        *slog.Logger
	metrics       *Metrics
	tracer        trace.Tracer
	group         singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock quartz.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithDefaultRegion sets the region used when a verdict names none.
func WithDefaultRegion(region string) Option {
	return func(e *Engine) {
		e.defaultRegion = region
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the instruments recorded by the engine.
func WithMetrics(metrics *Metrics) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithTracer sets the tracer used for activation and evaluation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// NewEngine creates the lifecycle engine over store and verifier.
func NewEngine(store Store, verifier ArtifactVerifier, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		verifier:      verifier,
		clock:         quartz.NewReal(),
		defaultRegion: DefaultRegion,
		logger:        slog.Default(),
		tracer:        otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = noopMetrics()
	}
	e.logger = infrastructure.WithComponent(e.logger, "license_engine")

	loc, err := time.LoadLocation(e.defaultRegion)
	if err != nil {
		e.logger.Warn("Unknown default license region, using UTC",
			slog.String("region", e.defaultRegion),
			slog.String("error", err.Error()))
		e.defaultRegion = "UTC"
		loc = time.UTC
	}
	e.defaultLoc = loc

	return e
}

// DefaultRegion returns the region applied to verdicts without one.
func (e *Engine) DefaultRegion() string {
	return e.defaultRegion
}

// Now returns the engine clock's current instant.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// location resolves region, falling back to the default region.
func (e *Engine) location(region string) (*time.Location, string, error) {
	if region == "" {
		return e.defaultLoc, e.defaultRegion, nil
	}
	loc, err := time.LoadLocation(region)
	if err != nil {
		return e.defaultLoc, e.defaultRegion, err
	}
	return loc, region, nil
}

// recordLocation is location for stored records, where a bad region can only
// be logged.
func (e *Engine) recordLocation(ctx context.Context, rec *Record) *time.Location {
	loc, _, err := e.location(rec.Region)
	if err != nil {
		e.logger.WarnContext(ctx, "Stored license has unknown region, using default",
			slog.Int64("license_id", rec.ID),
			slog.String("region", rec.Region),
			slog.String("default_region", e.defaultRegion))
	}
	return loc
}

// HasActiveLicense is the gate consulted by other handlers. It returns the
// authoritative record or nil when functionality should be denied.
func (e *Engine) HasActiveLicense(ctx context.Context) *Record {
	return e.EvaluateActiveLicense(ctx)
}

// EvaluateActiveLicense runs an evaluation pass and returns the first record
// in insertion order that is in effect now, or nil. Stale records are marked
// expired and newly started ones promoted to active on the way. Concurrent
// calls share one pass, which runs detached from any single caller's
// cancellation. A caller whose ctx ends first gets nil.
func (e *Engine) EvaluateActiveLicense(ctx context.Context) *Record {
	pass := context.WithoutCancel(ctx)
	ch := e.group.DoChan(evaluateKey, func() (interface{}, error) {
		return e.evaluate(pass), nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		e.logAction(ctx, slog.LevelWarn, "evaluate", "caller_cancelled",
			slog.String("error", ctx.Err().Error()))
		return nil
	}

	rec, _ := res.Val.(*Record)
	if rec == nil {
		return nil
	}
	out := *rec
	return &out
}

func (e *Engine) evaluate(ctx context.Context) *Record {
	ctx, span := e.tracer.Start(ctx, "license.evaluate")
	defer span.End()

	start := e.clock.Now()
	defer func() {
		e.metrics.Evaluations.Add(ctx, 1)
		e.metrics.EvaluationDuration.Record(ctx, e.clock.Since(start).Seconds())
	}()

	records, err := e.store.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list licenses")
		e.logAction(ctx, slog.LevelError, "evaluate", "read_failed",
			slog.String("error", err.Error()))
		return nil
	}

	now := e.clock.Now()
	for i := range records {
		rec := &records[i]
		if rec.Status != StatusValid && rec.Status != StatusActive {
			continue
		}

		loc := e.recordLocation(ctx, rec)
		localNow := now.In(loc)

		if !localNow.Before(EndBoundary(rec.EndDate, loc)) {
			e.transition(ctx, rec, StatusExpired)
			continue
		}

		if localNow.Before(StartOfDay(rec.StartDate, loc)) {
			continue
		}

		if rec.Status == StatusValid {
			e.transition(ctx, rec, StatusActive)
		}

		span.SetAttributes(
			attribute.Int64("license.id", rec.ID),
			attribute.String("license.status", string(rec.Status)),
		)
		e.logAction(ctx, slog.LevelDebug, "evaluate", "active", recordAttrs(rec)...)
		return rec
	}

	e.logAction(ctx, slog.LevelInfo, "evaluate", "none_active",
		slog.Int("records", len(records)))
	return nil
}

// transition moves rec forward to next and persists it. A failed write is
// logged only; the next pass repeats the transition.
func (e *Engine) transition(ctx context.Context, rec *Record, next Status) {
	from := rec.Status
	if !from.CanTransitionTo(next) {
		return
	}
	rec.Status = next

	e.metrics.recordTransition(ctx, from, next)

	if err := e.store.UpdateStatus(ctx, rec.ID, next); err != nil {
		e.metrics.PersistFailures.Add(ctx, 1, metricOp("update_status"))
		e.logAction(ctx, slog.LevelWarn, "transition", "not_persisted",
			slog.Int64("license_id", rec.ID),
			slog.String("from", string(from)),
			slog.String("to", string(next)),
			slog.String("error", err.Error()))
		return
	}

	e.logAction(ctx, slog.LevelInfo, "transition", "persisted",
		slog.Int64("license_id", rec.ID),
		slog.String("from", string(from)),
		slog.String("to", string(next)))
}

// Activate verifies the artifact and, on a valid verdict, records its window.
// Verifier errors are returned unchanged. A store failure is reported in the
// result and never turns a valid verdict into an error.
func (e *Engine) Activate(ctx context.Context, publicKey, artifact []byte) (*ActivationResult, error) {
	ctx, span := e.tracer.Start(ctx, "license.activate")
	defer span.End()

	start := e.clock.Now()
	e.metrics.ActivationAttempts.Add(ctx, 1)

	verdict, err := e.verifier.Verify(ctx, publicKey, artifact)
	if err != nil {
		e.metrics.recordActivation(ctx, outcomeError, e.clock.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify")
		e.logAction(ctx, slog.LevelError, "activate", "verifier_failed",
			slog.String("error", err.Error()))
		return nil, err
	}

	result := &ActivationResult{Verdict: verdict}
	span.SetAttributes(attribute.String("license.verdict", verdict.Status))

	if !verdict.IsValid() {
		e.metrics.recordActivation(ctx, outcomeRejected, e.clock.Since(start).Seconds())
		e.logAction(ctx, slog.LevelWarn, "activate", "rejected",
			slog.String("verdict", verdict.Status),
			slog.String("message", verdict.Message))
		return result, nil
	}

	rec, err := e.recordFromVerdict(ctx, verdict)
	if err != nil {
		e.metrics.recordActivation(ctx, outcomeError, e.clock.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "verdict dates")
		e.logAction(ctx, slog.LevelError, "activate", "bad_verdict",
			slog.String("error", err.Error()))
		return nil, err
	}
	result.Record = rec

	if err := e.store.Upsert(ctx, rec); err != nil {
		result.PersistError = err
		e.metrics.PersistFailures.Add(ctx, 1, metricOp("upsert"))
		e.logAction(ctx, slog.LevelError, "activate", "not_persisted",
			slog.String("error", err.Error()))
	} else {
		result.Persisted = true
	}

	e.metrics.recordActivation(ctx, outcomeValid, e.clock.Since(start).Seconds())
	e.logAction(ctx, slog.LevelInfo, "activate", "success",
		append(recordAttrs(rec), slog.Bool("persisted", result.Persisted))...)

	return result, nil
}

// recordFromVerdict builds a valid record from a positive verdict. An unknown
// region falls back to the default region; unparseable dates make the verdict
// unusable.
func (e *Engine) recordFromVerdict(ctx context.Context, v *Verdict) (*Record, error) {
	loc, region, err := e.location(v.Region)
	if err != nil {
		e.logger.WarnContext(ctx, "Verdict region unknown, using default",
			slog.String("region", v.Region),
			slog.String("default_region", region))
	}

	start, end, err := ParseWindow(v.StartDate, v.EndDate, loc)
	if err != nil {
		return nil, &VerifierOutputError{
			Output: fmt.Sprintf("start_date=%q end_date=%q", v.StartDate, v.EndDate),
			Err:    err,
		}
	}

	return &Record{
		StartDate: start,
		EndDate:   end,
		Region:    region,
		Status:    StatusValid,
	}, nil
}

// Records lists all stored records for administration.
func (e *Engine) Records(ctx context.Context) ([]Record, error) {
	records, err := e.store.List(ctx)
	if err != nil {
		return nil, asPersistenceError("list", err)
	}
	return records, nil
}

// CreateRecord stores an administrator-supplied window. Unlike activation,
// store failures are returned.
func (e *Engine) CreateRecord(ctx context.Context, in CreateRecordInput) (*Record, error) {
	if in.StartDate == "" {
		return nil, &ValidationError{Field: "start_date", Message: "start date is required"}
	}
	if in.EndDate == "" {
		return nil, &ValidationError{Field: "end_date", Message: "end date is required"}
	}

	status := in.Status
	if status == "" {
		status = StatusValid
	}
	if !status.IsKnown() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}

	loc, region, err := e.location(in.Region)
	if err != nil {
		return nil, &ValidationError{Field: "region", Message: fmt.Sprintf("unknown region %q", in.Region)}
	}

	start, end, err := ParseWindow(in.StartDate, in.EndDate, loc)
	if err != nil {
		return nil, &ValidationError{Field: "date", Message: err.Error()}
	}

	rec := &Record{
		StartDate: start,
		EndDate:   end,
		Region:    region,
		Status:    status,
	}
	if err := e.store.Upsert(ctx, rec); err != nil {
		return nil, asPersistenceError("upsert", err)
	}

	e.logAction(ctx, slog.LevelInfo, "create", "success", recordAttrs(rec)...)
	return rec, nil
}

// DeleteRecords removes records by id and returns how many were deleted.
func (e *Engine) DeleteRecords(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, &ValidationError{Field: "ids", Message: "at least one id is required"}
	}

	n, err := e.store.Delete(ctx, ids)
	if err != nil {
		return 0, asPersistenceError("delete", err)
	}

	e.logAction(ctx, slog.LevelInfo, "delete", "success",
		slog.Int("requested", len(ids)),
		slog.Int64("deleted", n))
	return n, nil
}

func asPersistenceError(op string, err error) error {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
