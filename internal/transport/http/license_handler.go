package http

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "staffsched/internal/errors"
	"staffsched/internal/exporter"
	"staffsched/internal/license"
	"staffsched/internal/services"
)

// StructValidator validates decoded request bodies
type StructValidator interface {
	ValidateStruct(v interface{}) error
}

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	service        services.LicenseService
	validator      StructValidator
	errors         *apierrors.ErrorHandler
	logger         *slog.Logger
	clock          quartz.Clock
	maxUploadBytes int64
}

// LicenseHandlerOption configures a LicenseHandler
type LicenseHandlerOption func(*LicenseHandler)

// WithHandlerClock sets the clock used for export file names
func WithHandlerClock(clock quartz.Clock) LicenseHandlerOption {
	return func(h *LicenseHandler) {
		h.clock = clock
	}
}

// WithMaxUploadBytes caps the size of activation uploads
func WithMaxUploadBytes(n int64) LicenseHandlerOption {
	return func(h *LicenseHandler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service services.LicenseService, validator StructValidator, errHandler *apierrors.ErrorHandler, logger *slog.Logger, opts ...LicenseHandlerOption) *LicenseHandler {
	h := &LicenseHandler{
		service:        service,
		validator:      validator,
		errors:         errHandler,
		logger:         logger.With(slog.String("handler", "license")),
		clock:          quartz.NewReal(),
		maxUploadBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ActivationRequest is the JSON form of an activation upload. Both fields are
// standard base64.
type ActivationRequest struct {
	PublicKey string `json:"public_key"`
	License   string `json:"license"`
}

// DeleteRecordsRequest selects records to delete
type DeleteRecordsRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

// RecordListResponse wraps the stored records
type RecordListResponse struct {
	Records []license.Record `json:"records"`
	Count   int              `json:"count"`
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/activate", h.Activate)
	r.Get("/status", h.GetStatus)
	r.Get("/export", h.Export)

	r.Get("/", h.ListRecords)
	r.Post("/", h.CreateRecord)
	r.Delete("/", h.DeleteRecords)

	return r
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("license-handler").Start(r.Context(), "license_handler.activate",
		trace.WithAttributes(
			attribute.String("http.route", "/api/license/activate"),
			attribute.String("component", "license_handler"),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	publicKey, artifact, err := h.readActivationUpload(w, r)
	if err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Activate(ctx, publicKey, artifact)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("license.result", "error"))
		h.errors.HandleError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("license.verdict", resp.Verdict.Status),
		attribute.Bool("license.persisted", resp.Persisted),
	)

	if !resp.Success {
		h.errors.HandleError(w, r, apierrors.NewLicenseRejectedProblem(resp.Verdict, r.URL.Path, resp.TraceID))
		return
	}

	if !resp.Persisted {
		h.logger.WarnContext(ctx, "license accepted but not stored",
			slog.String("trace_id", resp.TraceID))
	}

	render.JSON(w, r, resp)
}

// readActivationUpload extracts the key and artifact from a multipart or JSON body
func (h *LicenseHandler) readActivationUpload(w http.ResponseWriter, r *http.Request) ([]byte, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil, apierrors.ErrValidation("content_type", "Content-Type must be multipart/form-data or application/json")
	}

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			return nil, nil, uploadError(err)
		}
		defer r.MultipartForm.RemoveAll()

		publicKey, err := formFile(r.MultipartForm, "public_key")
		if err != nil {
			return nil, nil, err
		}
		artifact, err := formFile(r.MultipartForm, "license")
		if err != nil {
			return nil, nil, err
		}
		if len(artifact) == 0 {
			return nil, nil, apierrors.ErrValidation("license", "license file is required")
		}
		return publicKey, artifact, nil

	case "application/json":
		var req ActivationRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			return nil, nil, uploadError(err)
		}
		publicKey, err := base64.StdEncoding.DecodeString(req.PublicKey)
		if err != nil {
			return nil, nil, apierrors.ErrValidation("public_key", "public_key must be base64 encoded")
		}
		artifact, err := base64.StdEncoding.DecodeString(req.License)
		if err != nil {
			return nil, nil, apierrors.ErrValidation("license", "license must be base64 encoded")
		}
		if len(artifact) == 0 {
			return nil, nil, apierrors.ErrValidation("license", "license is required")
		}
		return publicKey, artifact, nil

	default:
		return nil, nil, apierrors.ErrValidation("content_type", "Content-Type must be multipart/form-data or application/json")
	}
}

// formFile reads an optional file part. A missing part yields nil.
func formFile(form *multipart.Form, field string) ([]byte, error) {
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}

	f, err := files[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open %s upload: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s upload: %w", field, err)
	}
	return data, nil
}

func uploadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apierrors.ErrPayloadTooLarge
	}
	return apierrors.InvalidRequestWithError(err)
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.GetStatus(r.Context()))
}

// ListRecords handles GET /api/license
func (h *LicenseHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListRecords(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, RecordListResponse{Records: records, Count: len(records)})
}

// CreateRecord handles POST /api/license
func (h *LicenseHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var in license.CreateRecordInput
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		h.errors.HandleError(w, r, uploadError(err))
		return
	}
	if err := h.validator.ValidateStruct(in); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	rec, err := h.service.CreateRecord(r.Context(), in)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, rec)
}

// DeleteRecords handles DELETE /api/license
func (h *LicenseHandler) DeleteRecords(w http.ResponseWriter, r *http.Request) {
	var req DeleteRecordsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errors.HandleError(w, r, uploadError(err))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	deleted, err := h.service.DeleteRecords(r.Context(), req.IDs)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]int64{"deleted": deleted})
}

// Export handles GET /api/license/export?format=csv|xlsx
func (h *LicenseHandler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := exporter.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.errors.HandleError(w, r, apierrors.ErrValidation("format", "format must be one of: csv, xlsx"))
		return
	}

	// Buffered so a failed export can still be reported as a problem
	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), &buf, format); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": format.Filename(h.clock.Now()),
	}))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// MachineID handles GET /api/machine-id
func (h *LicenseHandler) MachineID(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.MachineID(r.Context()))
}
