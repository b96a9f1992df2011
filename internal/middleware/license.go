package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	apierrors "staffsched/internal/errors"
	"staffsched/internal/license"
)

// ActiveLicenseChecker reports the license that currently authorizes use, or
// nil when there is none.
type ActiveLicenseChecker interface {
	ActiveLicense(ctx context.Context) *license.Record
}

type licenseCtxKey struct{}

// WithLicense stores the authorizing record in ctx.
func WithLicense(ctx context.Context, rec *license.Record) context.Context {
	return context.WithValue(ctx, licenseCtxKey{}, rec)
}

// LicenseFromContext returns the record the gate admitted the request with.
func LicenseFromContext(ctx context.Context) *license.Record {
	rec, _ := ctx.Value(licenseCtxKey{}).(*license.Record)
	return rec
}

// LicenseGate rejects requests unless an active license exists. Every request
// runs a fresh evaluation so expiry takes effect at the day boundary without
// waiting on a cache.
type LicenseGate struct {
	checker  ActiveLicenseChecker
	errors   *apierrors.ErrorHandler
	logger   *slog.Logger
	enabled  bool
	decision metric.Int64Counter
}

// LicenseGateOption configures a LicenseGate.
type LicenseGateOption func(*LicenseGate)

// WithGateEnabled turns enforcement on or off. A disabled gate lets every
// request through.
func WithGateEnabled(enabled bool) LicenseGateOption {
	return func(g *LicenseGate) {
		g.enabled = enabled
	}
}

// WithGateMeter records allow/deny decisions on meter.
func WithGateMeter(meter metric.Meter) LicenseGateOption {
	return func(g *LicenseGate) {
		counter, err := meter.Int64Counter(
			"license_gate_decisions_total",
			metric.WithDescription("Total number of license gate decisions"),
		)
		if err == nil {
			g.decision = counter
		}
	}
}

// NewLicenseGate creates the gate middleware.
func NewLicenseGate(checker ActiveLicenseChecker, errHandler *apierrors.ErrorHandler, logger *slog.Logger, opts ...LicenseGateOption) *LicenseGate {
	counter, _ := noop.NewMeterProvider().Meter("staffsched").Int64Counter("license_gate_decisions_total")
	g := &LicenseGate{
		checker:  checker,
		errors:   errHandler,
		logger:   logger.With(slog.String("component", "license_gate")),
		enabled:  true,
		decision: counter,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler implements the gate.
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !g.enabled {
			next.ServeHTTP(w, r)
			return
		}

		rec := g.checker.ActiveLicense(ctx)
		if rec == nil {
			g.decision.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", "deny")))
			g.logger.WarnContext(ctx, "request blocked without active license",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path))

			g.errors.HandleError(w, r, apierrors.NewLicenseRequiredProblem(r.URL.Path, apierrors.TraceID(r)))
			return
		}

		g.decision.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", "allow")))
		g.logger.DebugContext(ctx, "license gate passed",
			slog.Int64("license_id", rec.ID),
			slog.String("status", string(rec.Status)))

		next.ServeHTTP(w, r.WithContext(WithLicense(ctx, rec)))
	})
}
