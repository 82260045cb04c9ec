// Package config loads process settings from a .env file, an optional YAML
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	DatabaseURL     string        `yaml:"database_url"`
	DBMaxConns      int32         `yaml:"db_max_conns"`
	ConversationDB  string        `yaml:"conversation_db"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxAgentSteps   int           `yaml:"max_agent_steps"`
	Model           Model         `yaml:"model"`
	Telemetry       Telemetry     `yaml:"telemetry"`
	// Prompts maps prompt ids to system prompt text.
	Prompts map[string]string `yaml:"prompts"`
}

// Model configures the OpenAI-compatible provider.
type Model struct {
	ProviderID string        `yaml:"provider_id"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Telemetry selects where metrics and traces are exported.
type Telemetry struct {
	// Exporter is "none" or "stdout".
	Exporter       string        `yaml:"exporter"`
	MetricInterval time.Duration `yaml:"metric_interval"`
}

func Default() Config {
	return Config{
		Addr:            ":8080",
		ConversationDB:  "conversations.db",
		AllowedOrigins:  []string{"http://localhost:3003"},
		LogLevel:        "debug",
		ShutdownTimeout: 5 * time.Second,
		MaxAgentSteps:   100,
		Model: Model{
			ProviderID: "openai",
			BaseURL:    "https://api.openai.com/v1",
			Timeout:    5 * time.Minute,
		},
		Telemetry: Telemetry{
			Exporter:       "none",
			MetricInterval: time.Minute,
		},
	}
}

// Load reads envFile (a missing file is ignored), then the YAML file named
// by CONFIG_FILE if set, then environment overrides.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path, ok := lookup("CONFIG_FILE"); ok && path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("ADDR", &cfg.Addr)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("CONVERSATION_DB", &cfg.ConversationDB)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("MODEL_PROVIDER_ID", &cfg.Model.ProviderID)
	str("MODEL_BASE_URL", &cfg.Model.BaseURL)
	str("MODEL_API_KEY", &cfg.Model.APIKey)
	str("TELEMETRY_EXPORTER", &cfg.Telemetry.Exporter)

	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		cfg.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}
	if v, ok := lookup("SHUTDOWN_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	if v, ok := lookup("TELEMETRY_METRIC_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TELEMETRY_METRIC_INTERVAL: %w", err)
		}
		cfg.Telemetry.MetricInterval = d
	}
	if v, ok := lookup("MAX_AGENT_STEPS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_AGENT_STEPS: %w", err)
		}
		cfg.MaxAgentSteps = n
	}
	if v, ok := lookup("DB_MAX_CONNS"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("DB_MAX_CONNS: %w", err)
		}
		cfg.DBMaxConns = int32(n)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.MaxAgentSteps <= 0 {
		return fmt.Errorf("max agent steps must be positive, got %d", c.MaxAgentSteps)
	}
	if c.DBMaxConns < 0 {
		return fmt.Errorf("db max conns must not be negative, got %d", c.DBMaxConns)
	}
	switch c.Telemetry.Exporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("unknown telemetry exporter %q", c.Telemetry.Exporter)
	}
	if c.Telemetry.MetricInterval <= 0 {
		return fmt.Errorf("telemetry metric interval must be positive, got %s", c.Telemetry.MetricInterval)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
