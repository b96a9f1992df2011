package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "Asia/Kolkata", cfg.License.DefaultRegion)
	assert.Equal(t, 10*time.Second, cfg.License.VerifierTimeout)
	assert.Equal(t, "license-verifier", cfg.License.VerifierPath, "bare verifier name stays on PATH lookup")
	assert.True(t, filepath.IsAbs(cfg.Database.Path))
	assert.True(t, filepath.IsAbs(cfg.Logging.FilePath))
	assert.True(t, cfg.License.GateEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STAFFSCHED_SERVER_PORT", "4100")
	t.Setenv("STAFFSCHED_LICENSE_DEFAULT_REGION", "Europe/Berlin")
	t.Setenv("STAFFSCHED_LICENSE_VERIFIER_TIMEOUT", "3s")
	t.Setenv("STAFFSCHED_SECURITY_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "Europe/Berlin", cfg.License.DefaultRegion)
	assert.Equal(t, 3*time.Second, cfg.License.VerifierTimeout)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Security.AllowedOrigins)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 4200
  host: 0.0.0.0
license:
  verifier_path: bin/license-verifier
  default_region: America/New_York
  verifier_timeout: 2s
roster:
  base_url: http://roster.internal:9000
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 4200, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "America/New_York", cfg.License.DefaultRegion)
	assert.Equal(t, 2*time.Second, cfg.License.VerifierTimeout)
	assert.Equal(t, "http://roster.internal:9000", cfg.Roster.BaseURL)
	assert.True(t, filepath.IsAbs(cfg.License.VerifierPath))
	assert.Equal(t, "license-verifier", filepath.Base(cfg.License.VerifierPath))
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 4200\n")
	t.Setenv("STAFFSCHED_SERVER_PORT", "4300")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 4300, cfg.Server.Port)
}

func TestLoadFromInvalidFile(t *testing.T) {
	path := writeConfigFile(t, "server: [not, a, map")

	_, err := LoadFrom(path)
	assert.ErrorContains(t, err, "failed to load config from file")
}

func TestLoadFromMissingFileIsIgnored(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3001, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero read timeout",
			mutate:  func(c *Config) { c.Server.ReadTimeout = 0 },
			wantErr: "read timeout",
		},
		{
			name:    "zero write timeout",
			mutate:  func(c *Config) { c.Server.WriteTimeout = 0 },
			wantErr: "write timeout",
		},
		{
			name:    "zero verifier timeout",
			mutate:  func(c *Config) { c.License.VerifierTimeout = 0 },
			wantErr: "verifier timeout",
		},
		{
			name:    "missing verifier path",
			mutate:  func(c *Config) { c.License.VerifierPath = "" },
			wantErr: "verifier path is required",
		},
		{
			name:    "unknown region",
			mutate:  func(c *Config) { c.License.DefaultRegion = "Mars/Olympus_Mons" },
			wantErr: "invalid default license region",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateNormalizesLogging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "syslog"

	require.NoError(t, cfg.validate())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "both", cfg.Logging.Output)
}

func TestMergeConfigs(t *testing.T) {
	file := Config{
		Server:   ServerConfig{Port: 5000, Host: "0.0.0.0"},
		Database: DatabaseConfig{Path: "custom.sqlite"},
		License:  LicenseConfig{PublicKeyPath: "keys/pub.pem"},
	}
	env := *Default()

	merged := mergeConfigs(file, env)

	assert.Equal(t, 5000, merged.Server.Port)
	assert.Equal(t, "0.0.0.0", merged.Server.Host)
	assert.Equal(t, "custom.sqlite", merged.Database.Path)
	assert.Equal(t, "keys/pub.pem", merged.License.PublicKeyPath)
	// Untouched fields keep env/default values
	assert.Equal(t, "Asia/Kolkata", merged.License.DefaultRegion)
}

func TestResolvePathsKeepsAbsolute(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "db.sqlite")

	cfg := Default()
	cfg.Database.Path = abs
	require.NoError(t, cfg.resolvePaths())

	assert.Equal(t, abs, cfg.Database.Path)
	assert.Empty(t, cfg.License.PublicKeyPath)
}

func TestGetConfigFilePathFromEnv(t *testing.T) {
	t.Setenv("STAFFSCHED_CONFIG", "/etc/staffsched/config.yaml")
	assert.Equal(t, "/etc/staffsched/config.yaml", getConfigFilePath())
}

func TestAddress(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:3001", cfg.Address())
}
