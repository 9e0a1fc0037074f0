package llmclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const geminiSuccessBody = `{
  "candidates": [{"content": {"parts": [{"text": "{\"nodes\":[]}"}], "role": "model"}, "finishReason": "STOP"}],
  "usageMetadata": {"promptTokenCount": 100, "candidatesTokenCount": 50, "totalTokenCount": 150}
}`

// -- Test Setup Helpers --

// setupGeminiClient points a GeminiClient at a mock server with a fast backoff.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *httptest.Server, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	loggerCore, observedLogs := observer.New(zap.InfoLevel)
	cfg := getValidLLMConfig()
	cfg.Endpoint = server.URL

	client, err := NewGeminiClient(cfg, zap.New(loggerCore))
	require.NoError(t, err, "NewGeminiClient initialization failed")
	client.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 5 * time.Millisecond
		b.MaxElapsedTime = 5 * time.Second
		return b
	}
	return client, server, observedLogs
}

// -- Test Cases: Initialization --

func TestNewGeminiClient(t *testing.T) {
	t.Run("uses the default endpoint for the model", func(t *testing.T) {
		cfg := getValidLLMConfig()
		client, err := NewGeminiClient(cfg, setupTestLogger(t))
		require.NoError(t, err)

		assert.Equal(t, cfg.APIKey, client.apiKey)
		assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)
		assert.Equal(t, fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model), client.endpoint)
		assert.NotNil(t, client.newBackOff)
	})

	t.Run("requires an API key", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.APIKey = ""
		client, err := NewGeminiClient(cfg, nil)
		assert.Nil(t, client)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "IDEAGRAPH_GEMINI_API_KEY")
	})

	t.Run("requires a model or endpoint", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Model = ""
		_, err := NewGeminiClient(cfg, nil)
		assert.Error(t, err)
	})
}

// -- Test Cases: Request Payload Generation --

func TestGeminiBuildRequestPayload(t *testing.T) {
	client, _, _ := setupGeminiClient(t, nil)
	client.config.MaxTokens = 2048
	client.config.SafetyFilters = map[string]string{"CAT_B": "BLOCK_HIGH", "CAT_A": "BLOCK_LOW"}

	t.Run("maps prompts and generation options", func(t *testing.T) {
		req := createTestRequest()
		req.Options.Temperature = 0.5

		payload := client.buildRequestPayload(req)

		require.NotNil(t, payload.SystemInstruction)
		require.Len(t, payload.Contents, 1)
		assert.Equal(t, req.SystemPrompt, payload.SystemInstruction.Parts[0].Text)
		assert.Equal(t, "user", payload.Contents[0].Role)
		assert.Equal(t, req.UserPrompt, payload.Contents[0].Parts[0].Text)
		assert.Equal(t, 0.5, payload.GenerationConfig.Temperature)
		assert.InDelta(t, 0.9, payload.GenerationConfig.TopP, 1e-6)
		assert.Equal(t, 50, payload.GenerationConfig.TopK)
		assert.Equal(t, 2048, payload.GenerationConfig.MaxOutputTokens)
		assert.Empty(t, payload.GenerationConfig.ResponseMimeType)

		require.Len(t, payload.SafetySettings, 2)
		assert.Equal(t, "CAT_A", payload.SafetySettings[0].Category, "safety settings are sorted")
		assert.Equal(t, "BLOCK_HIGH", payload.SafetySettings[1].Threshold)
	})

	t.Run("falls back to the configured temperature", func(t *testing.T) {
		req := createTestRequest()
		req.Options.Temperature = 0
		payload := client.buildRequestPayload(req)
		assert.InDelta(t, 0.7, payload.GenerationConfig.Temperature, 1e-6)
	})

	t.Run("sets the JSON mime type when requested", func(t *testing.T) {
		req := createTestRequest()
		req.Options.ForceJSONFormat = true
		assert.Equal(t, "application/json", client.buildRequestPayload(req).GenerationConfig.ResponseMimeType)
	})

	t.Run("omits an empty system instruction", func(t *testing.T) {
		req := createTestRequest()
		req.SystemPrompt = ""
		assert.Nil(t, client.buildRequestPayload(req).SystemInstruction)
	})
}

// -- Test Cases: Generate --

func TestGeminiGenerate_Success(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))

		body, _ := io.ReadAll(r.Body)
		var payload geminiRequestPayload
		require.NoError(t, json.Unmarshal(body, &payload), "Server received invalid JSON payload")
		assert.Equal(t, createTestRequest().UserPrompt, payload.Contents[0].Parts[0].Text)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(geminiSuccessBody))
	}

	client, _, observedLogs := setupGeminiClient(t, handler)
	response, err := client.Generate(context.Background(), createTestRequest())

	require.NoError(t, err)
	assert.Equal(t, `{"nodes":[]}`, response)

	require.Equal(t, 1, observedLogs.Len(), "Expected one log entry for successful generation")
	logEntry := observedLogs.All()[0]
	assert.Equal(t, "LLM generation complete (Gemini)", logEntry.Message)
	assert.Equal(t, int64(100), logEntry.ContextMap()["prompt_tokens"])
	assert.Equal(t, int64(50), logEntry.ContextMap()["completion_tokens"])
}

func TestGeminiGenerate_RetryOnTransientErrors(t *testing.T) {
	var attempts int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Service temporarily unavailable."))
			return
		}
		_, _ = w.Write([]byte(geminiSuccessBody))
	}

	client, _, observedLogs := setupGeminiClient(t, handler)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	response, err := client.Generate(ctx, createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"nodes":[]}`, response)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, 2, observedLogs.FilterLevelExact(zap.ErrorLevel).Len(), "Expected ERROR logs for the failed attempts")
}

func TestGeminiGenerate_RetryOnNetworkError(t *testing.T) {
	client, server, observedLogs := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler reached despite server being closed.")
	})
	client.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, createTestRequest())
	require.Error(t, err)

	warnLogs := observedLogs.FilterLevelExact(zap.WarnLevel)
	assert.Greater(t, warnLogs.Len(), 1, "network errors are retried")
	assert.Contains(t, warnLogs.All()[0].Message, "Network error during LLM request")
}

func TestGeminiGenerate_NoRetryOnPermanentErrors(t *testing.T) {
	var attempts int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("API Key Invalid"))
	}

	client, _, observedLogs := setupGeminiClient(t, handler)
	response, err := client.Generate(context.Background(), createTestRequest())

	require.Error(t, err)
	assert.Empty(t, response)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.False(t, apiErr.Retryable())
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "Permanent errors must not trigger retries")

	errorLogs := observedLogs.FilterLevelExact(zap.ErrorLevel)
	require.Equal(t, 1, errorLogs.Len())
	assert.Equal(t, int64(403), errorLogs.All()[0].ContextMap()["status"])
}

func TestGeminiGenerate_SafetyBlock(t *testing.T) {
	var attempts int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
	}

	client, _, _ := setupGeminiClient(t, handler)
	_, err := client.Generate(context.Background(), createTestRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Contains(t, err.Error(), "SAFETY")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "Safety blocks must not trigger retries")
}

func TestGeminiGenerate_NoCandidates(t *testing.T) {
	client, _, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})
	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
}

func TestAPIError_Retryable(t *testing.T) {
	for status, want := range map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusServiceUnavailable:  true,
		http.StatusBadRequest:          false,
		http.StatusUnauthorized:        false,
	} {
		assert.Equal(t, want, (&APIError{StatusCode: status}).Retryable(), "status %d", status)
	}
}
