package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"staffsched/internal/infrastructure"
)

const (
	// DefaultVerifierTimeout bounds a single verifier run.
	DefaultVerifierTimeout = 10 * time.Second

	publicKeyFile = "public_key.pem"
	artifactFile  = "license.lic"

	// maxVerdictBytes caps captured stdout. A verdict is one short JSON line.
	maxVerdictBytes = 64 << 10
)

// ProcessVerifier checks license artifacts by running an external verifier
// executable as `<path> <publicKeyPath> <licensePath>`.
type ProcessVerifier struct {
	path    string
	args    []string
	env     []string
	timeout time.Duration
	tempDir string
	logger  *slog.Logger
}

// VerifierOption configures a ProcessVerifier.
type VerifierOption func(*ProcessVerifier)

// WithVerifierTimeout sets the maximum run time of one verification.
func WithVerifierTimeout(d time.Duration) VerifierOption {
	return func(v *ProcessVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithVerifierArgs prepends fixed arguments before the two file paths.
func WithVerifierArgs(args ...string) VerifierOption {
	return func(v *ProcessVerifier) {
		v.args = append([]string(nil), args...)
	}
}

// WithVerifierEnv appends KEY=value pairs to the verifier environment.
func WithVerifierEnv(env ...string) VerifierOption {
	return func(v *ProcessVerifier) {
		v.env = append(v.env, env...)
	}
}

// WithTempDir sets the parent of the per-call scratch directories.
func WithTempDir(dir string) VerifierOption {
	return func(v *ProcessVerifier) {
		v.tempDir = dir
	}
}

// WithVerifierLogger sets the logger.
func WithVerifierLogger(logger *slog.Logger) VerifierOption {
	return func(v *ProcessVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewProcessVerifier creates a verifier for the executable at path.
func NewProcessVerifier(path string, opts ...VerifierOption) *ProcessVerifier {
	v := &ProcessVerifier{
		path:    path,
		timeout: DefaultVerifierTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = infrastructure.WithComponent(v.logger, "license_verifier")
	return v
}

// Verify writes both inputs into a fresh private directory, runs the verifier
// on them and decodes its verdict. The directory is removed before Verify
// returns. A negative verdict is not an error.
func (v *ProcessVerifier) Verify(ctx context.Context, publicKey, artifact []byte) (*Verdict, error) {
	if len(publicKey) == 0 {
		return nil, &ValidationError{Field: "public_key", Message: "public key is required"}
	}
	if len(artifact) == 0 {
		return nil, &ValidationError{Field: "license", Message: "license file is required"}
	}

	dir, err := os.MkdirTemp(v.tempDir, "staffsched-license-*")
	if err != nil {
		return nil, &VerifierExecutionError{ExitCode: -1, Err: fmt.Errorf("create scratch directory: %w", err)}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			v.logger.WarnContext(ctx, "Failed to remove verifier scratch directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
		}
	}()

	keyPath := filepath.Join(dir, publicKeyFile)
	licPath := filepath.Join(dir, artifactFile)
	if err := os.WriteFile(keyPath, publicKey, 0600); err != nil {
		return nil, &VerifierExecutionError{ExitCode: -1, Err: fmt.Errorf("write public key: %w", err)}
	}
	if err := os.WriteFile(licPath, artifact, 0600); err != nil {
		return nil, &VerifierExecutionError{ExitCode: -1, Err: fmt.Errorf("write license: %w", err)}
	}

	stdout, err := v.run(ctx, keyPath, licPath)
	if err != nil {
		return nil, err
	}

	return decodeVerdict(stdout)
}

func (v *ProcessVerifier) run(ctx context.Context, keyPath, licPath string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	args := append(append([]string(nil), v.args...), keyPath, licPath)
	cmd := exec.CommandContext(runCtx, v.path, args...)
	cmd.WaitDelay = time.Second
	if len(v.env) > 0 {
		cmd.Env = append(os.Environ(), v.env...)
	}

	stdout := &cappedBuffer{limit: maxVerdictBytes}
	stderr := &cappedBuffer{limit: maxDiagnosticBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		execErr := &VerifierExecutionError{
			ExitCode: -1,
			Stderr:   truncateDiagnostic(stderr.String()),
			TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && !execErr.TimedOut {
			execErr.ExitCode = exitErr.ExitCode()
		}

		v.logger.ErrorContext(ctx, "License verifier failed",
			slog.String("verifier", v.path),
			slog.Int("exit_code", execErr.ExitCode),
			slog.Bool("timed_out", execErr.TimedOut),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()))
		return nil, execErr
	}

	v.logger.DebugContext(ctx, "License verifier finished",
		slog.String("verifier", v.path),
		slog.Duration("duration", elapsed))

	if stdout.overflow {
		return nil, &VerifierOutputError{
			Output: truncateDiagnostic(stdout.String()),
			Err:    fmt.Errorf("verifier output exceeds %d bytes", maxVerdictBytes),
		}
	}
	return stdout.Bytes(), nil
}

// cappedBuffer keeps the first limit bytes written and drops the rest. It
// never fails a write so the child is not killed by a broken pipe.
type cappedBuffer struct {
	bytes.Buffer
	limit    int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Len(); room < len(p) {
		b.overflow = true
		if room > 0 {
			b.Buffer.Write(p[:room])
		}
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

func decodeVerdict(stdout []byte) (*Verdict, error) {
	raw := bytes.TrimSpace(stdout)

	var verdict Verdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, &VerifierOutputError{
			Output: truncateDiagnostic(string(stdout)),
			Err:    fmt.Errorf("decode verdict: %w", err),
		}
	}
	if verdict.Status == "" {
		return nil, &VerifierOutputError{
			Output: truncateDiagnostic(string(stdout)),
			Err:    errors.New("verdict has no status"),
		}
	}

	return &verdict, nil
}
