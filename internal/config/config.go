package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load
const EnvPrefix = "STAFFSCHED"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Roster    RosterConfig    `yaml:"roster" envconfig:"ROSTER"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST" default:"127.0.0.1"`
	Port            int           `yaml:"port" envconfig:"PORT" default:"3001"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	// MaxUploadBytes caps the multipart body accepted by license activation.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES" default:"1048576"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS" default:"true"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"50"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"25"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/staffsched.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// DatabaseConfig contains the SQLite store configuration
type DatabaseConfig struct {
	Path        string        `yaml:"path" envconfig:"PATH" default:"data/staffsched.sqlite"`
	BusyTimeout time.Duration `yaml:"busy_timeout" envconfig:"BUSY_TIMEOUT" default:"5s"`
}

// LicenseConfig contains license verification and evaluation settings
type LicenseConfig struct {
	VerifierPath     string        `yaml:"verifier_path" envconfig:"VERIFIER_PATH" default:"license-verifier"`
	VerifierTimeout  time.Duration `yaml:"verifier_timeout" envconfig:"VERIFIER_TIMEOUT" default:"10s"`
	PublicKeyPath    string        `yaml:"public_key_path" envconfig:"PUBLIC_KEY_PATH"`
	DefaultRegion    string        `yaml:"default_region" envconfig:"DEFAULT_REGION" default:"Asia/Kolkata"`
	FingerprintCache time.Duration `yaml:"fingerprint_cache" envconfig:"FINGERPRINT_CACHE" default:"1h"`
	// GateEnabled turns the license gate on for the roster routes.
	GateEnabled bool `yaml:"gate_enabled" envconfig:"GATE_ENABLED" default:"true"`
}

// RosterConfig points at the external roster-optimization service
type RosterConfig struct {
	BaseURL string        `yaml:"base_url" envconfig:"BASE_URL" default:"http://127.0.0.1:8000"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"5m"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Environment   string  `yaml:"environment" envconfig:"ENVIRONMENT" default:"production"`
	EnableTracing bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING" default:"false"`
	EnableMetrics bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS" default:"true"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" default:"1.0"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom loads configuration using the given YAML file (may be empty) beneath
// environment variables.
func LoadFrom(configFile string) (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileConfig, err := loadFromFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg = mergeConfigs(*fileConfig, cfg)
		}
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs overlays values present in the file onto env config where the
// environment was left at its default. Env takes precedence when explicitly set.
func mergeConfigs(fileConfig, envConfig Config) Config {
	if fileConfig.Server.Port != 0 && !envSet("SERVER_PORT") {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if fileConfig.Server.Host != "" && !envSet("SERVER_HOST") {
		envConfig.Server.Host = fileConfig.Server.Host
	}
	if fileConfig.Logging.Level != "" && !envSet("LOGGING_LEVEL") {
		envConfig.Logging.Level = fileConfig.Logging.Level
	}
	if fileConfig.Logging.FilePath != "" && !envSet("LOGGING_FILE_PATH") {
		envConfig.Logging.FilePath = fileConfig.Logging.FilePath
	}
	if fileConfig.Database.Path != "" && !envSet("DATABASE_PATH") {
		envConfig.Database.Path = fileConfig.Database.Path
	}
	if fileConfig.License.VerifierPath != "" && !envSet("LICENSE_VERIFIER_PATH") {
		envConfig.License.VerifierPath = fileConfig.License.VerifierPath
	}
	if fileConfig.License.VerifierTimeout != 0 && !envSet("LICENSE_VERIFIER_TIMEOUT") {
		envConfig.License.VerifierTimeout = fileConfig.License.VerifierTimeout
	}
	if fileConfig.License.PublicKeyPath != "" && !envSet("LICENSE_PUBLIC_KEY_PATH") {
		envConfig.License.PublicKeyPath = fileConfig.License.PublicKeyPath
	}
	if fileConfig.License.DefaultRegion != "" && !envSet("LICENSE_DEFAULT_REGION") {
		envConfig.License.DefaultRegion = fileConfig.License.DefaultRegion
	}
	if fileConfig.Roster.BaseURL != "" && !envSet("ROSTER_BASE_URL") {
		envConfig.Roster.BaseURL = fileConfig.Roster.BaseURL
	}
	if len(fileConfig.Security.AllowedOrigins) > 0 && !envSet("SECURITY_ALLOWED_ORIGINS") {
		envConfig.Security.AllowedOrigins = fileConfig.Security.AllowedOrigins
	}

	return envConfig
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(EnvPrefix + "_" + key)
	return ok
}

// resolvePaths anchors relative file locations at the executable directory so
// the desktop shell can start the backend from any working directory.
func (c *Config) resolvePaths() error {
	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("failed to get paths: %w", err)
	}

	c.Database.Path = paths.Resolve(c.Database.Path)
	c.Logging.FilePath = paths.Resolve(c.Logging.FilePath)
	if c.License.PublicKeyPath != "" {
		c.License.PublicKeyPath = paths.Resolve(c.License.PublicKeyPath)
	}
	// A bare verifier name is looked up on PATH, anything with a separator is
	// resolved like the other files.
	if filepath.Base(c.License.VerifierPath) != c.License.VerifierPath {
		c.License.VerifierPath = paths.Resolve(c.License.VerifierPath)
	}

	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.License.VerifierTimeout <= 0 {
		return fmt.Errorf("license verifier timeout must be positive")
	}

	if c.License.VerifierPath == "" {
		return fmt.Errorf("license verifier path is required")
	}

	if _, err := time.LoadLocation(c.License.DefaultRegion); err != nil {
		return fmt.Errorf("invalid default license region %q: %w", c.License.DefaultRegion, err)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	switch c.Logging.Output {
	case "both", "file", "console":
	default:
		c.Logging.Output = "both"
	}

	return nil
}

// Address returns the listen address of the HTTP server
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	if paths, err := GetPaths(); err == nil {
		locations = append(locations, filepath.Join(paths.ExecutableDir, "config.yaml"))
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            3001,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  1 << 20,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     50,
				Burst:   25,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: "logs/staffsched.log",
		},
		Database: DatabaseConfig{
			Path:        "data/staffsched.sqlite",
			BusyTimeout: 5 * time.Second,
		},
		License: LicenseConfig{
			VerifierPath:     "license-verifier",
			VerifierTimeout:  10 * time.Second,
			DefaultRegion:    "Asia/Kolkata",
			FingerprintCache: time.Hour,
			GateEnabled:      true,
		},
		Roster: RosterConfig{
			BaseURL: "http://127.0.0.1:8000",
			Timeout: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Environment:   "production",
			EnableMetrics: true,
			SampleRatio:   1.0,
		},
	}
}
