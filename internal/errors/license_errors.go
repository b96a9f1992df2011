package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"staffsched/internal/license"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions next to the standard members
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, len(pd.Extensions)+5)
	for k, v := range pd.Extensions {
		data[k] = v
	}

	// Standard members win over extensions with the same name
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	if pd.Extensions == nil {
		pd.Extensions = make(map[string]interface{})
	}
	pd.Extensions[key] = value
	return pd
}

// Code returns the machine readable error code, if any
func (pd *ProblemDetails) Code() string {
	code, _ := pd.Extensions["code"].(string)
	return code
}

// NewLicenseRejectedProblem describes a verdict other than valid. The verdict
// fields are echoed so the client can show why activation was refused.
func NewLicenseRejectedProblem(verdict *license.Verdict, instance, traceID string) *ProblemDetails {
	problem := NewProblemDetails(
		http.StatusUnprocessableEntity,
		TypeLicenseRejected,
		"License Rejected",
		verdict.Message,
		instance,
	).WithExtension("code", CodeLicenseRejected).
		WithExtension("trace_id", traceID).
		WithExtension("verdict", verdict.Status)

	if verdict.StartDate != "" {
		problem.WithExtension("start_date", verdict.StartDate)
	}
	if verdict.EndDate != "" {
		problem.WithExtension("end_date", verdict.EndDate)
	}
	return problem
}

// NewLicenseRequiredProblem is returned by gated routes when no license is active
func NewLicenseRequiredProblem(instance, traceID string) *ProblemDetails {
	return NewProblemDetails(
		http.StatusForbidden,
		TypeLicenseRequired,
		"License Required",
		"No active license was found. Activate a license to continue.",
		instance,
	).WithExtension("code", CodeLicenseRequired).
		WithExtension("trace_id", traceID)
}

// MapLicenseError maps license domain errors to problem details. It returns
// nil for errors that carry no license meaning.
func MapLicenseError(err error, instance, traceID string) *ProblemDetails {
	var (
		valErr  *license.ValidationError
		execErr *license.VerifierExecutionError
		outErr  *license.VerifierOutputError
		perErr  *license.PersistenceError
		problem *ProblemDetails
	)

	switch {
	case errors.As(err, &valErr):
		problem = NewProblemDetails(
			http.StatusBadRequest,
			TypeValidation,
			"Validation Failed",
			valErr.Error(),
			instance,
		).WithExtension("code", CodeValidationFailed)
		if valErr.Field != "" {
			problem.WithExtension("field", valErr.Field)
		}

	case errors.As(err, &execErr):
		problem = NewProblemDetails(
			http.StatusBadGateway,
			TypeVerifierFailed,
			"License Verifier Failed",
			execErr.Error(),
			instance,
		).WithExtension("code", CodeVerifierExecutionFailed).
			WithExtension("timed_out", execErr.TimedOut)
		if execErr.ExitCode > 0 {
			problem.WithExtension("exit_code", execErr.ExitCode)
		}

	case errors.As(err, &outErr):
		problem = NewProblemDetails(
			http.StatusBadGateway,
			TypeVerifierOutput,
			"License Verifier Output Invalid",
			"The license verifier returned a response that could not be read.",
			instance,
		).WithExtension("code", CodeVerifierOutputInvalid)

	case errors.As(err, &perErr) && errors.Is(err, license.ErrRecordNotFound):
		problem = NewProblemDetails(
			http.StatusNotFound,
			TypeNotFound,
			"License Record Not Found",
			license.ErrRecordNotFound.Error(),
			instance,
		).WithExtension("code", CodeNotFound)

	case errors.As(err, &perErr):
		problem = NewProblemDetails(
			http.StatusInternalServerError,
			TypePersistence,
			"License Storage Failed",
			"License records could not be read or written.",
			instance,
		).WithExtension("code", CodePersistenceFailed).
			WithExtension("operation", perErr.Op)

	default:
		return nil
	}

	return problem.WithExtension("trace_id", traceID)
}
