package license

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	TracerName = "staffsched/license"
	MeterName  = "staffsched/license"
)

// Metrics holds the license engine instruments.
type Metrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram

	Evaluations        metric.Int64Counter
	EvaluationDuration metric.Float64Histogram
	StatusTransitions  metric.Int64Counter
	PersistFailures    metric.Int64Counter
}

// NewMetrics creates the license instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	m.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of activations with a valid verdict"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	m.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of failed or rejected activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	m.ActivationDuration, err = meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("License activation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	m.Evaluations, err = meter.Int64Counter(
		"license_evaluations_total",
		metric.WithDescription("Total number of license evaluation passes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluations counter: %w", err)
	}

	m.EvaluationDuration, err = meter.Float64Histogram(
		"license_evaluation_duration_seconds",
		metric.WithDescription("License evaluation pass duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation duration histogram: %w", err)
	}

	m.StatusTransitions, err = meter.Int64Counter(
		"license_status_transitions_total",
		metric.WithDescription("Total number of license status transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create status transitions counter: %w", err)
	}

	m.PersistFailures, err = meter.Int64Counter(
		"license_persist_failures_total",
		metric.WithDescription("Total number of swallowed license store write failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create persist failures counter: %w", err)
	}

	return m, nil
}

func noopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

func (m *Metrics) recordTransition(ctx context.Context, from, to Status) {
	m.StatusTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (m *Metrics) recordActivation(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if outcome == outcomeValid {
		m.ActivationSuccess.Add(ctx, 1, attrs)
	} else {
		m.ActivationFailures.Add(ctx, 1, attrs)
	}
	m.ActivationDuration.Record(ctx, seconds, attrs)
}

func metricOp(op string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("op", op))
}
