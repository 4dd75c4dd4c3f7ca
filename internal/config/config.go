package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		URL            string `yaml:"url"`
		MigrationsPath string `yaml:"migrations_path"`
	} `yaml:"database"`
	Storage struct {
		Dir string `yaml:"dir"`
	} `yaml:"storage"`
	Model struct {
		BundlePath string `yaml:"bundle_path"`
	} `yaml:"model"`
	Analysis struct {
		SessionStaleAfterMinutes int64 `yaml:"session_stale_after_minutes"`
	} `yaml:"analysis"`
	Triage struct {
		DefaultMaxAnomalies int   `yaml:"default_max_anomalies"`
		CallTimeoutSeconds  int64 `yaml:"call_timeout_seconds"`
	} `yaml:"triage"`
	Reasoning struct {
		Provider          string `yaml:"provider"` // gemini or openai-compatible
		APIKey            string `yaml:"api_key"`
		ModelName         string `yaml:"model_name"`
		BaseURL           string `yaml:"base_url"`
		MaxRetries        int    `yaml:"max_retries"`
		RetryDelaySeconds int64  `yaml:"retry_delay_seconds"`
		RequestsPerMinute int    `yaml:"requests_per_minute"`
	} `yaml:"reasoning"`
}

// LoadConfig reads configuration from the specified YAML file.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Analysis.SessionStaleAfterMinutes == 0 {
		c.Analysis.SessionStaleAfterMinutes = 30
	}
	if c.Triage.DefaultMaxAnomalies == 0 {
		c.Triage.DefaultMaxAnomalies = 2
	}
	if c.Triage.CallTimeoutSeconds == 0 {
		c.Triage.CallTimeoutSeconds = 60
	}
	if c.Reasoning.MaxRetries == 0 {
		c.Reasoning.MaxRetries = 3
	}
	if c.Reasoning.RetryDelaySeconds == 0 {
		c.Reasoning.RetryDelaySeconds = 2
	}
	if c.Database.MigrationsPath == "" {
		c.Database.MigrationsPath = "migrations"
	}
}

// SessionStaleAfter returns the operator-configured staleness window after
// which a processing session is treated as abandoned.
func (c *Config) SessionStaleAfter() time.Duration {
	return time.Duration(c.Analysis.SessionStaleAfterMinutes) * time.Minute
}

// TriageCallTimeout returns the per-call timeout for the reasoning service.
func (c *Config) TriageCallTimeout() time.Duration {
	return time.Duration(c.Triage.CallTimeoutSeconds) * time.Second
}
