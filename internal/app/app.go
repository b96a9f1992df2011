package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"staffsched/internal/config"
	"staffsched/internal/db"
	"staffsched/internal/db/repository"
	apierrors "staffsched/internal/errors"
	"staffsched/internal/exporter"
	"staffsched/internal/infrastructure"
	"staffsched/internal/license"
	customMiddleware "staffsched/internal/middleware"
	"staffsched/internal/roster"
	"staffsched/internal/security"
	"staffsched/internal/services"
	handlers "staffsched/internal/transport/http"
)

const AppName = "StaffSched Backend"

var (
	// Version is set at compile time
	Version = infrastructure.ServiceVersion
	// BuildTime is set at compile time
	BuildTime = ""
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	DB            *db.DB
	Engine        *license.Engine
	Services      *ServiceContainer
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	ErrorHandler  *apierrors.ErrorHandler

	clock     quartz.Clock
	verifier  license.ArtifactVerifier
	listener  net.Listener
	logCloser io.Closer
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	License     services.LicenseService
	Health      *services.HealthService
	Roster      *roster.Client
	Fingerprint *security.FingerprintManager
	Exporter    *exporter.Exporter
}

// Option customizes application construction
type Option func(*Application)

// WithClock replaces the wall clock used by the license engine and services
func WithClock(clock quartz.Clock) Option {
	return func(a *Application) {
		a.clock = clock
	}
}

// WithVerifier replaces the external verifier process
func WithVerifier(v license.ArtifactVerifier) Option {
	return func(a *Application) {
		a.verifier = v
	}
}

// WithLogCloser hands the log sink to the application, which closes it last
// on shutdown
func WithLogCloser(c io.Closer) Option {
	return func(a *Application) {
		a.logCloser = c
	}
}

// NewApplication loads configuration from the environment and builds the application
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, logCloser, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if paths, err := config.GetPaths(); err == nil {
		if err := paths.EnsureDirectories(); err != nil {
			logCloser.Close()
			return nil, fmt.Errorf("failed to ensure directories: %w", err)
		}
		paths.LogPathResolution()
	}

	a, err := New(ctx, cfg, logger, WithLogCloser(logCloser))
	if err != nil {
		logCloser.Close()
		return nil, err
	}
	return a, nil
}

// New wires every component from an already loaded configuration
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	logger.InfoContext(ctx, "Application starting",
		slog.String("name", AppName),
		slog.String("version", Version))

	otelCfg := infrastructure.OTelConfigFrom(cfg.Telemetry)
	otelCfg.ServiceVersion = Version
	otelProviders, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		ErrorHandler:  apierrors.NewErrorHandler(logger, cfg.Logging.Development),
		clock:         quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.initializeServices(ctx); err != nil {
		a.closeResources(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()

	return a, nil
}

// initializeServices initializes all application services
func (a *Application) initializeServices(ctx context.Context) error {
	database, err := db.Open(ctx, a.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = database

	store := repository.NewLicenseRepository(database.DB).WithClock(a.clock)

	verifier := a.verifier
	if verifier == nil {
		verifier = license.NewProcessVerifier(a.Config.License.VerifierPath,
			license.WithVerifierTimeout(a.Config.License.VerifierTimeout),
			license.WithVerifierLogger(a.Logger),
		)
	}

	metrics, err := license.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	a.Engine = license.NewEngine(store, verifier,
		license.WithClock(a.clock),
		license.WithDefaultRegion(a.Config.License.DefaultRegion),
		license.WithLogger(a.Logger),
		license.WithMetrics(metrics),
		license.WithTracer(a.OTelProviders.Tracer),
	)

	fingerprint := security.NewFingerprintManager(
		security.WithCacheDuration(a.Config.License.FingerprintCache),
		security.WithClock(a.clock),
		security.WithLogger(a.Logger),
	)

	exp := exporter.New(a.Logger)

	var serviceOpts []services.LicenseServiceOption
	if path := a.Config.License.PublicKeyPath; path != "" {
		pemBytes, err := os.ReadFile(path)
		if err != nil {
			a.Logger.WarnContext(ctx, "Configured public key unavailable, activations must upload one",
				slog.String("path", path),
				slog.String("error", err.Error()))
		} else {
			serviceOpts = append(serviceOpts, services.WithPublicKey(pemBytes))
		}
	}

	a.Services = &ServiceContainer{
		License: services.NewLicenseService(a.Engine, fingerprint, exp, a.Logger, serviceOpts...),
		Health: services.NewHealthService(Version, BuildTime, services.HealthDeps{
			DB:            database,
			VerifierPath:  a.Config.License.VerifierPath,
			PublicKeyPath: a.Config.License.PublicKeyPath,
			Clock:         a.clock,
		}, a.Logger),
		Roster:      roster.NewClient(a.Config.Roster.BaseURL, a.Config.Roster.Timeout, a.Logger),
		Fingerprint: fingerprint,
		Exporter:    exp,
	}

	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// RequestID first so every later log line and problem carries the trace id
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	r.Group(func(r chi.Router) {
		otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
		if err != nil {
			a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(a.ErrorHandler.Recoverer)
		r.Use(customMiddleware.SecurityHeaders)

		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
				AllowedOrigins: a.Config.Security.AllowedOrigins,
				Logger:         a.Logger,
			}))
		}

		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.ErrorHandler,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r)
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	validator := customMiddleware.NewValidator(a.Logger)

	licenseHandler := handlers.NewLicenseHandler(a.Services.License, validator, a.ErrorHandler, a.Logger,
		handlers.WithHandlerClock(a.clock),
		handlers.WithMaxUploadBytes(a.Config.Server.MaxUploadBytes),
	)
	healthHandler := handlers.NewHealthHandler(a.Services.Health, a.Logger)
	scheduleHandler := handlers.NewScheduleHandler(a.Services.Roster, a.ErrorHandler, a.Logger)
	clientLogHandler := handlers.NewClientLogHandler(a.ErrorHandler, a.Logger)

	gate := customMiddleware.NewLicenseGate(a.Services.License, a.ErrorHandler, a.Logger,
		customMiddleware.WithGateEnabled(a.Config.License.GateEnabled),
		customMiddleware.WithGateMeter(a.OTelProviders.Meter),
	)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(a.Config.Server.ReadTimeout))

			r.Get("/health", healthHandler.HealthCheck)
			r.Get("/health/ready", healthHandler.ReadinessCheck)
			r.Get("/health/live", healthHandler.LivenessCheck)
			r.Get("/version", healthHandler.Version)

			r.Mount("/license", licenseHandler.Routes())
			r.Get("/machine-id", licenseHandler.MachineID)

			r.With(customMiddleware.BodyLimit(64<<10)).Post("/logs", clientLogHandler.Handle)
		})

		// Roster generation can run for minutes, so it gets the roster timeout
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(a.Config.Roster.Timeout))
			r.Use(gate.Handler)
			r.Use(customMiddleware.BodyLimit(a.Config.Server.MaxUploadBytes))

			r.Post("/schedule/generate", scheduleHandler.Generate)
		})
	})
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Address(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start binds the listener and serves in the background. A serve failure
// cancels ctx through cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.String("address", a.Server.Addr),
		slog.String("database", a.DB.Path()),
		slog.String("verifier", a.Config.License.VerifierPath))

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.listener = ln

	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			// Signal shutdown through context instead of os.Exit
			cancel()
		}
	}()

	// An evaluation pass at startup brings stored statuses up to date
	evalCtx := infrastructure.EnsureTraceID(ctx)
	if rec := a.Engine.HasActiveLicense(evalCtx); rec != nil {
		a.Logger.InfoContext(evalCtx, "Active license found at startup",
			slog.Int64("license_id", rec.ID),
			slog.String("status", string(rec.Status)))
	} else {
		a.Logger.WarnContext(evalCtx, "No active license at startup, activation required")
	}

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", "http://"+ln.Addr().String()))

	return nil
}

// Addr returns the bound listener address once started
func (a *Application) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop drains the server and releases resources
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	a.closeResources(shutdownCtx)

	if len(errs) == 0 {
		a.Logger.InfoContext(ctx, "Application shutdown complete")
	}

	// Last, so nothing logs into a closed file
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("log file close error: %w", err))
		}
	}
	return errors.Join(errs...)
}

// closeResources closes the database and flushes telemetry
func (a *Application) closeResources(ctx context.Context) {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing database", slog.String("error", err.Error()))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	<-sigCtx.Done()
	a.Logger.InfoContext(ctx, "Received shutdown signal")

	// Shutdown gets a fresh context, ctx may already be cancelled
	return a.Stop(context.Background())
}
