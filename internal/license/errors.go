package license

import (
	"errors"
	"fmt"
)

// maxDiagnosticBytes caps verifier output copied into errors.
const maxDiagnosticBytes = 4096

// ErrRecordNotFound is wrapped by store errors for unknown record ids.
var ErrRecordNotFound = errors.New("license record not found")

// ValidationError reports a missing or malformed input. Nothing has been
// executed or written when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// VerifierExecutionError reports that the verifier could not be started,
// exited non-zero or did not finish in time.
type VerifierExecutionError struct {
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *VerifierExecutionError) Error() string {
	switch {
	case e.TimedOut:
		return "license verifier timed out"
	case e.ExitCode > 0:
		return fmt.Sprintf("license verifier exited with code %d", e.ExitCode)
	case e.Err != nil:
		return fmt.Sprintf("license verifier failed: %v", e.Err)
	default:
		return "license verifier failed"
	}
}

func (e *VerifierExecutionError) Unwrap() error {
	return e.Err
}

// VerifierOutputError reports a verdict that could not be understood. Output
// holds the raw standard output for diagnostics.
type VerifierOutputError struct {
	Output string
	Err    error
}

func (e *VerifierOutputError) Error() string {
	return fmt.Sprintf("license verifier returned unusable output: %v", e.Err)
}

func (e *VerifierOutputError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("license store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func truncateDiagnostic(s string) string {
	if len(s) <= maxDiagnosticBytes {
		return s
	}
	return s[:maxDiagnosticBytes] + "...(truncated)"
}
