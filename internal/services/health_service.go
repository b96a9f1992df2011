package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/coder/quartz"
)

// Pinger is implemented by the database handle
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthService provides health check functionality
type HealthService struct {
	version       string
	buildTime     string
	db            Pinger
	verifierPath  string
	publicKeyPath string
	clock         quartz.Clock
	startTime     time.Time
	logger        *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthDeps are the dependencies readiness is checked against
type HealthDeps struct {
	DB            Pinger
	VerifierPath  string
	PublicKeyPath string
	Clock         quartz.Clock
}

// NewHealthService creates a new health service
func NewHealthService(version, buildTime string, deps HealthDeps, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	logger.Info("HealthService initialized",
		slog.String("version", version),
		slog.String("build_time", buildTime))

	return &HealthService{
		version:       version,
		buildTime:     buildTime,
		db:            deps.DB,
		verifierPath:  deps.VerifierPath,
		publicKeyPath: deps.PublicKeyPath,
		clock:         clock,
		startTime:     clock.Now(),
		logger:        logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "ok",
		Timestamp: hs.clock.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck checks the database and the verifier executable
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: hs.clock.Now(),
		Version:   hs.version,
		Services: map[string]ServiceHealth{
			"database":   hs.checkDatabase(ctx),
			"verifier":   hs.checkVerifier(),
			"public_key": hs.checkPublicKey(),
		},
	}

	for name, service := range status.Services {
		if service.Status != "ready" {
			status.Status = "not_ready"
			hs.logger.WarnContext(ctx, "readiness check failed",
				slog.String("dependency", name),
				slog.String("message", service.Message))
		}
	}

	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: hs.clock.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     hs.clock.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"version":    hs.version,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     hs.clock.Since(hs.startTime).Seconds(),
		"start_time": hs.startTime.Format(time.RFC3339),
	}
	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	return result
}

func (hs *HealthService) checkDatabase(ctx context.Context) ServiceHealth {
	if hs.db == nil {
		return ServiceHealth{Status: "not_ready", Message: "database not initialized"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := hs.db.Ping(ctx); err != nil {
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("database ping failed: %v", err)}
	}
	return ServiceHealth{Status: "ready", Message: "database reachable"}
}

func (hs *HealthService) checkVerifier() ServiceHealth {
	if hs.verifierPath == "" {
		return ServiceHealth{Status: "not_ready", Message: "verifier path not configured"}
	}
	if _, err := exec.LookPath(hs.verifierPath); err != nil {
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("verifier not executable: %v", err)}
	}
	return ServiceHealth{Status: "ready", Message: "verifier found"}
}

// checkPublicKey is informational: keys are usually uploaded with the license
func (hs *HealthService) checkPublicKey() ServiceHealth {
	if hs.publicKeyPath == "" {
		return ServiceHealth{Status: "ready", Message: "public key supplied per activation"}
	}
	if _, err := os.Stat(hs.publicKeyPath); err != nil {
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("public key unavailable: %v", err)}
	}
	return ServiceHealth{Status: "ready", Message: "public key present"}
}
