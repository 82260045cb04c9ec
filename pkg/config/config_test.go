package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
log_level: info
shutdown_timeout: 10s
allowed_origins: ["http://a.example"]
model:
  provider_id: local
  base_url: http://localhost:11434/v1
prompts:
  terse: Answer in one sentence.
telemetry:
  metric_interval: 15s
`), 0o600))

	cfg, err := load(env(map[string]string{
		"CONFIG_FILE":     path,
		"ADDR":            ":7070",
		"ALLOWED_ORIGINS": "http://b.example, http://c.example",
		"MAX_AGENT_STEPS": "20",
		"DB_MAX_CONNS":    "4",

		"TELEMETRY_EXPORTER": "stdout",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"http://b.example", "http://c.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "local", cfg.Model.ProviderID)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Model.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.Model.Timeout)
	assert.Equal(t, 20, cfg.MaxAgentSteps)
	assert.Equal(t, int32(4), cfg.DBMaxConns)
	assert.Equal(t, map[string]string{"terse": "Answer in one sentence."}, cfg.Prompts)
	assert.Equal(t, Telemetry{Exporter: "stdout", MetricInterval: 15 * time.Second}, cfg.Telemetry)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad duration":  {"SHUTDOWN_TIMEOUT": "soon"},
		"bad steps":     {"MAX_AGENT_STEPS": "many"},
		"zero steps":    {"MAX_AGENT_STEPS": "0"},
		"bad conns":     {"DB_MAX_CONNS": "-1"},
		"bad log level": {"LOG_LEVEL": "loud"},
		"bad exporter":  {"TELEMETRY_EXPORTER": "carrier-pigeon"},
		"bad interval":  {"TELEMETRY_METRIC_INTERVAL": "0s"},
		"missing file":  {"CONFIG_FILE": "/does/not/exist.yaml"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := load(env(vars))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	_, err := Load(filepath.Join(t.TempDir(), ".env"))
	assert.NoError(t, err)
}
