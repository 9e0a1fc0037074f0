// internal/llmclient/ratelimit.go
package llmclient

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/xkilldash9x/ideagraph/api/schemas"
)

// RateLimitedClient throttles calls to an underlying client.
type RateLimitedClient struct {
	next    schemas.LLMClient
	limiter *rate.Limiter
}

var _ schemas.LLMClient = (*RateLimitedClient)(nil)

// NewRateLimitedClient allows requestsPerMinute calls with a burst of one.
// A non-positive rate returns next unchanged.
func NewRateLimitedClient(next schemas.LLMClient, requestsPerMinute int) schemas.LLMClient {
	if requestsPerMinute <= 0 {
		return next
	}
	interval := time.Minute / time.Duration(requestsPerMinute)
	return &RateLimitedClient{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Generate waits for a token and then delegates.
func (c *RateLimitedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return c.next.Generate(ctx, req)
}

// Close closes the wrapped client.
func (c *RateLimitedClient) Close() error {
	return c.next.Close()
}
