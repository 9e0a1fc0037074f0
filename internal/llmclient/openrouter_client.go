// internal/llmclient/openrouter_client.go
package llmclient

import (
	"context"
	"fmt"
	"time"

	"github.com/revrost/go-openrouter"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
)

// chatCompleter is the slice of the OpenRouter SDK this client uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openrouter.ChatCompletionRequest) (openrouter.ChatCompletionResponse, error)
}

// OpenRouterClient implements schemas.LLMClient through OpenRouter's chat API.
type OpenRouterClient struct {
	api    chatCompleter
	config config.LLMModelConfig
	logger *zap.Logger
}

var _ schemas.LLMClient = (*OpenRouterClient)(nil)

// NewOpenRouterClient creates a client for the configured model.
func NewOpenRouterClient(cfg config.LLMModelConfig, logger *zap.Logger) (*OpenRouterClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openrouter API key is required (set %s)", config.EnvOpenRouterAPIKey)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openrouter model name is required")
	}
	return newOpenRouterClient(openrouter.NewClient(cfg.APIKey), cfg, logger), nil
}

func newOpenRouterClient(api chatCompleter, cfg config.LLMModelConfig, logger *zap.Logger) *OpenRouterClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenRouterClient{api: api, config: cfg, logger: logger.Named("llm_client.openrouter")}
}

// Generate sends a system and user message and returns the first choice.
func (c *OpenRouterClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if c.config.APITimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.APITimeout)
		defer cancel()
	}

	messages := make([]openrouter.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openrouter.ChatCompletionMessage{
			Role:    openrouter.ChatMessageRoleSystem,
			Content: openrouter.Content{Text: req.SystemPrompt},
		})
	}
	messages = append(messages, openrouter.ChatCompletionMessage{
		Role:    openrouter.ChatMessageRoleUser,
		Content: openrouter.Content{Text: req.UserPrompt},
	})

	request := openrouter.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Temperature: pickFloat(req.Options.Temperature, c.config.Temperature),
		MaxTokens:   c.config.MaxTokens,
	}
	if req.Options.ForceJSONFormat {
		request.ResponseFormat = &openrouter.ChatCompletionResponseFormat{
			Type: openrouter.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	response, err := c.api.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", fmt.Errorf("openrouter chat completion failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("openrouter returned no choices")
	}

	c.logger.Info("LLM generation complete (OpenRouter)",
		zap.String("model", c.config.Model),
		zap.Duration("duration", time.Since(start)),
	)
	return response.Choices[0].Message.Content.Text, nil
}

// Close is a no-op.
func (c *OpenRouterClient) Close() error { return nil }
