// internal/llmclient/google_client.go
package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
)

// GoogleClient implements schemas.LLMClient with the official genai SDK.
type GoogleClient struct {
	client *genai.Client
	model  string
	config config.LLMModelConfig
	logger *zap.Logger
}

var _ schemas.LLMClient = (*GoogleClient)(nil)

// NewGoogleClient builds a genai client against the Gemini API backend.
// A configured endpoint overrides the SDK's base URL.
func NewGoogleClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GoogleClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("google API key is required (set %s)", config.EnvGeminiAPIKey)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("google model name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GoogleClient{
		client: client,
		model:  cfg.Model,
		config: cfg,
		logger: logger.Named("llm_client.google"),
	}, nil
}

// Generate runs a single GenerateContent call. The SDK retries nothing on
// its own; callers that want retries wrap the client.
func (c *GoogleClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.UserPrompt), c.buildConfig(req))
	if err != nil {
		return "", fmt.Errorf("google generate content failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("google API returned no candidates")
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety || candidate.FinishReason == genai.FinishReasonBlocklist {
		return "", fmt.Errorf("%w (reason: %s)", ErrBlocked, candidate.FinishReason)
	}

	fields := []zap.Field{zap.Duration("duration", time.Since(start))}
	if resp.UsageMetadata != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
			zap.Int32("completion_tokens", resp.UsageMetadata.CandidatesTokenCount),
			zap.Int32("total_tokens", resp.UsageMetadata.TotalTokenCount),
		)
	}
	c.logger.Info("LLM generation complete (Google)", fields...)

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("google API returned empty content (reason: %s)", candidate.FinishReason)
	}
	return text, nil
}

// Close releases nothing; genai clients share the process HTTP transport.
func (c *GoogleClient) Close() error { return nil }

func (c *GoogleClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := float32(req.Options.Temperature)
	if temperature == 0 {
		temperature = c.config.Temperature
	}

	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if topP := pickFloat(req.Options.TopP, c.config.TopP); topP > 0 {
		gc.TopP = genai.Ptr(topP)
	}
	if topK := pickInt(req.Options.TopK, c.config.TopK); topK > 0 {
		gc.TopK = genai.Ptr(float32(topK))
	}
	if c.config.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}

	categories := make([]string, 0, len(c.config.SafetyFilters))
	for category := range c.config.SafetyFilters {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		gc.SafetySettings = append(gc.SafetySettings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(c.config.SafetyFilters[category]),
		})
	}
	return gc
}

func pickFloat(override float64, fallback float32) float32 {
	if override > 0 {
		return float32(override)
	}
	return fallback
}

func pickInt(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}
