// Package reasoning defines the external reasoning service consumed by the
// triage stage, with a config-driven choice of provider. The service is
// expensive, slow and fallible; callers bound every call with a timeout and
// treat failures as per-anomaly, never batch-fatal.
package reasoning

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"anomaly-backend/internal/models"
	"anomaly-backend/internal/reasoning/gemini"
	"anomaly-backend/internal/reasoning/openaicompat"
)

// Client is implemented by every reasoning provider.
type Client interface {
	Analyze(ctx context.Context, ev models.Evidence) (*models.Assessment, error)
	Close() error
	ModelInfo() map[string]interface{}
}

// Config selects and configures a provider.
type Config struct {
	Provider          string // "gemini" or "openai-compatible"
	APIKey            string
	ModelName         string
	BaseURL           string // openai-compatible only
	MaxRetries        int
	RetryDelay        time.Duration
	RequestsPerMinute int
}

// NewClient builds the configured provider, wrapped with rate limiting when
// a per-minute budget is set.
func NewClient(cfg Config, logger *zap.Logger) (Client, error) {
	var (
		client Client
		err    error
	)

	switch cfg.Provider {
	case "gemini":
		client, err = gemini.NewClient(gemini.Config{
			APIKey:     cfg.APIKey,
			ModelName:  cfg.ModelName,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		}, logger)
	case "openai-compatible":
		client, err = openaicompat.NewClient(openaicompat.Config{
			APIKey:     cfg.APIKey,
			ModelName:  cfg.ModelName,
			BaseURL:    cfg.BaseURL,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute > 0 {
		client = NewRateLimited(client, cfg.RequestsPerMinute)
	}
	return client, nil
}
