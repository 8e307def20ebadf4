package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Analysis.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Analysis.StageTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Analysis.Retention)
	assert.Equal(t, int64(10<<20), cfg.Analysis.MaxUploadBytes)
	assert.Equal(t, 256, cfg.Analysis.MinWidth)
	assert.Equal(t, 224, cfg.Analysis.TargetSize)
	assert.InDelta(t, 5.0, cfg.Analysis.WBCSumTolerance, 1e-9)
	assert.Equal(t, "fixed", cfg.Classifier.Provider)
	assert.Equal(t, "template", cfg.Explanation.Provider)
	assert.Equal(t, "uploads", cfg.Storage.Prefix)
	assert.False(t, cfg.Qdrant.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 100, cfg.Logging.MaxSizeMB)
	assert.True(t, cfg.Logging.Compress)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
analysis:
  workers: 8
  stage_timeout: 30s
database:
  driver: postgres
  host: db
  user: cells
  dbname: smears
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Analysis.Workers)
	assert.Equal(t, 30*time.Second, cfg.Analysis.StageTimeout)
	assert.Equal(t, "host=db port=5432 user=cells password= dbname=smears sslmode=disable", cfg.Database.DSN())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ANALYSIS_WORKERS", "2")
	t.Setenv("CLASSIFIER_API_KEY", "secret")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Analysis.Workers)
	assert.Equal(t, "secret", cfg.Classifier.APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_InvalidFile(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unterminated\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Database: DatabaseConfig{Driver: "sqlite", Path: "x.db"},
			Logging:  LoggingConfig{Format: "json"},
			Analysis: AnalysisConfig{
				Workers:         1,
				StageTimeout:    time.Second,
				MaxUploadBytes:  1,
				MinBrightness:   30,
				MaxBrightness:   220,
				WBCSumTolerance: 5,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero workers", func(c *Config) { c.Analysis.Workers = 0 }, "analysis.workers"},
		{"no stage timeout", func(c *Config) { c.Analysis.StageTimeout = 0 }, "analysis.stage_timeout"},
		{"brightness inverted", func(c *Config) { c.Analysis.MinBrightness = 240 }, "min_brightness"},
		{"negative min brightness", func(c *Config) { c.Analysis.MinBrightness = -1 }, "min_brightness"},
		{"dark gate disabled", func(c *Config) { c.Analysis.MinBrightness = 0 }, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"remote without endpoint", func(c *Config) { c.Classifier.Provider = "remote" }, "classifier.endpoint"},
		{"storage without bucket", func(c *Config) { c.Storage.Enabled = true }, "storage.bucket"},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"text log format", func(c *Config) { c.Logging.Format = "TEXT" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExplanationConfig_ResolveEnvVars(t *testing.T) {
	t.Setenv("MY_KEY", "from-env")
	t.Setenv("MY_URL", "http://llm.local/v1")

	c := ExplanationConfig{APIKeyEnv: "MY_KEY", BaseURLEnv: "MY_URL"}
	c.ResolveEnvVars()
	assert.Equal(t, "from-env", c.APIKey)
	assert.Equal(t, "http://llm.local/v1", c.BaseURL)

	direct := ExplanationConfig{APIKey: "direct", APIKeyEnv: "MY_KEY"}
	direct.ResolveEnvVars()
	assert.Equal(t, "direct", direct.APIKey)
}
