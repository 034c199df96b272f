package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Provider   ProviderConfig   `json:"provider"`
	Selection  SelectionConfig  `json:"selection"`
	Supervisor SupervisorConfig `json:"supervisor"`
	Database   DatabaseConfig   `json:"database"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// ProviderConfig configures the external completion service client.
type ProviderConfig struct {
	Type       string `json:"type"` // "anthropic" | "openai"
	Endpoint   string `json:"endpoint"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

// SelectionConfig configures the model-selection subsystem.
type SelectionConfig struct {
	DefaultModel          string          `json:"default_model"`
	FallbackChain         []string        `json:"fallback_chain"`
	Thresholds            ThresholdConfig `json:"thresholds"`
	EvaluationIntervalSec int             `json:"evaluation_interval_sec"`
	MaxRetries            int             `json:"max_retries"`
}

// ThresholdConfig holds the health-classification thresholds.
type ThresholdConfig struct {
	MinAccuracy  float64 `json:"min_accuracy"`
	MaxLatencyMs float64 `json:"max_latency_ms"`
	MaxErrorRate float64 `json:"max_error_rate"`
}

// SupervisorConfig configures the coordination engine.
type SupervisorConfig struct {
	PhaseTimeoutSec     int  `json:"phase_timeout_sec"`
	SimulatedDelayMs    int  `json:"simulated_delay_ms,omitempty"`
	ComplianceConflicts bool `json:"compliance_conflicts,omitempty"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with all defaults applied, without
// reading a file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Provider.Type == "" {
		c.Provider.Type = "anthropic"
	}
	if c.Selection.DefaultModel == "" {
		c.Selection.DefaultModel = "claude-sonnet-4"
	}
	if len(c.Selection.FallbackChain) == 0 {
		c.Selection.FallbackChain = []string{"claude-sonnet-4", "claude-haiku-3.5", "claude-opus-4"}
	}
	if c.Selection.Thresholds.MinAccuracy == 0 {
		c.Selection.Thresholds.MinAccuracy = 0.8
	}
	if c.Selection.Thresholds.MaxLatencyMs == 0 {
		c.Selection.Thresholds.MaxLatencyMs = 5000
	}
	if c.Selection.Thresholds.MaxErrorRate == 0 {
		c.Selection.Thresholds.MaxErrorRate = 0.1
	}
	if c.Selection.EvaluationIntervalSec == 0 {
		c.Selection.EvaluationIntervalSec = 300
	}
	if c.Selection.MaxRetries == 0 {
		c.Selection.MaxRetries = 3
	}
	if c.Supervisor.PhaseTimeoutSec == 0 {
		c.Supervisor.PhaseTimeoutSec = 120
	}
}

// PhaseTimeout returns the phase timeout as a duration.
func (c *Config) PhaseTimeout() time.Duration {
	return time.Duration(c.Supervisor.PhaseTimeoutSec) * time.Second
}
