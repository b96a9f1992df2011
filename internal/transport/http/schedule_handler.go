package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "staffsched/internal/errors"
	"staffsched/internal/middleware"
	"staffsched/internal/roster"
)

// RosterGenerator produces schedules from a scheduling request
type RosterGenerator interface {
	Generate(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// ScheduleHandler forwards roster generation to the optimization service
type ScheduleHandler struct {
	roster RosterGenerator
	errors *apierrors.ErrorHandler
	logger *slog.Logger
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(generator RosterGenerator, errHandler *apierrors.ErrorHandler, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		roster: generator,
		errors: errHandler,
		logger: logger.With(slog.String("handler", "schedule")),
	}
}

// Generate handles POST /api/schedule/generate. The route sits behind the
// license gate.
func (h *ScheduleHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.errors.HandleError(w, r, uploadError(err))
		return
	}
	if !json.Valid(body) {
		h.errors.HandleError(w, r, apierrors.ErrValidation("body", "request body must be valid JSON"))
		return
	}

	attrs := []any{slog.Int("request_bytes", len(body))}
	if rec := middleware.LicenseFromContext(ctx); rec != nil {
		attrs = append(attrs, slog.Int64("license_id", rec.ID))
	}
	h.logger.InfoContext(ctx, "roster generation requested", attrs...)

	result, err := h.roster.Generate(ctx, body)
	if err != nil {
		var svcErr *roster.ServiceError
		if errors.As(err, &svcErr) {
			h.errors.HandleError(w, r, apierrors.UpstreamError("roster service", svcErr.StatusCode))
			return
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			h.errors.HandleError(w, r, err)
			return
		}
		h.errors.HandleError(w, r, apierrors.UpstreamError("roster service", 0))
		return
	}

	render.JSON(w, r, result)
}
