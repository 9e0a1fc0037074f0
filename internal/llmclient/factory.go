// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
)

// NewClient creates an LLMClient for a single model configuration, wrapped
// in a rate limiter when requests_per_minute is set.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	var (
		client schemas.LLMClient
		err    error
	)

	switch cfg.Provider {
	case config.ProviderGemini, "":
		client, err = NewGeminiClient(cfg, logger)
	case config.ProviderGoogle:
		client, err = NewGoogleClient(ctx, cfg, logger)
	case config.ProviderOpenRouter:
		client, err = NewOpenRouterClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderGoogle, config.ProviderOpenRouter)
	}
	if err != nil {
		return nil, err
	}
	return NewRateLimitedClient(client, cfg.RequestsPerMinute), nil
}

// NewRouterFromConfig builds the fast and powerful clients named by the
// router config. When both tiers name the same model one client serves both.
func NewRouterFromConfig(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (*LLMRouter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fast, err := NewClient(ctx, cfg.Models[cfg.DefaultFastModel], logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast tier client '%s': %w", cfg.DefaultFastModel, err)
	}

	powerful := fast
	if cfg.DefaultPowerfulModel != cfg.DefaultFastModel {
		powerful, err = NewClient(ctx, cfg.Models[cfg.DefaultPowerfulModel], logger)
		if err != nil {
			_ = fast.Close()
			return nil, fmt.Errorf("failed to create powerful tier client '%s': %w", cfg.DefaultPowerfulModel, err)
		}
	}

	return NewLLMRouter(logger, fast, powerful)
}
