package reasoning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"anomaly-backend/internal/models"
)

// RateLimiter is a token-bucket limiter refilled at a fixed per-minute rate.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerMinute calls.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		tokens:     requestsPerMinute,
		maxTokens:  requestsPerMinute,
		refillRate: time.Minute / time.Duration(requestsPerMinute),
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or the context ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()

	now := time.Now()
	refill := int(now.Sub(rl.lastRefill) / rl.refillRate)
	if refill > 0 {
		rl.tokens += refill
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	if rl.tokens <= 0 {
		wait := rl.refillRate
		rl.mu.Unlock()
		select {
		case <-time.After(wait):
			rl.mu.Lock()
			rl.tokens = 1
			rl.lastRefill = time.Now()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	rl.tokens--
	rl.mu.Unlock()
	return nil
}

// RateLimited wraps a Client with a request budget.
type RateLimited struct {
	client  Client
	limiter *RateLimiter
}

// NewRateLimited wraps the client with a per-minute request budget.
func NewRateLimited(client Client, requestsPerMinute int) *RateLimited {
	return &RateLimited{
		client:  client,
		limiter: NewRateLimiter(requestsPerMinute),
	}
}

func (r *RateLimited) Analyze(ctx context.Context, ev models.Evidence) (*models.Assessment, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}
	return r.client.Analyze(ctx, ev)
}

func (r *RateLimited) Close() error {
	return r.client.Close()
}

func (r *RateLimited) ModelInfo() map[string]interface{} {
	return r.client.ModelInfo()
}
