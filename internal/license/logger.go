package license

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"staffsched/internal/infrastructure"
)

// logAction logs one engine action and mirrors it as a span event.
func (e *Engine) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		infrastructure.AddSpanEvent(ctx, "license."+action, map[string]interface{}{
			"action": action,
			"result": result,
		})
	}

	all := make([]slog.Attr, 0, len(attrs)+3)
	all = append(all,
		slog.String("action", action),
		slog.String("result", result),
	)
	// trace_id from the request context is added by the handler; the span id
	// is only present when tracing is enabled.
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		all = append(all, slog.String("span_trace_id", sc.TraceID().String()))
	}
	all = append(all, attrs...)

	e.logger.LogAttrs(ctx, level, "License "+action, all...)
}

func recordAttrs(rec *Record) []slog.Attr {
	return []slog.Attr{
		slog.Int64("license_id", rec.ID),
		slog.String("status", string(rec.Status)),
		slog.String("region", rec.Region),
		slog.Time("start_date", rec.StartDate),
		slog.Time("end_date", rec.EndDate),
	}
}
