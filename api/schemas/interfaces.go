package schemas

import (
	"context"
	"errors"
)

// -- LLM Interfaces --

// ModelTier selects between a cheap, fast model and a slower, stronger one.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions tune a single generation call.
type GenerationOptions struct {
	Temperature     float64
	ForceJSONFormat bool
	TopP            float64
	TopK            int
}

// GenerationRequest is the payload handed to an LLMClient.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Tier         ModelTier
	Options      GenerationOptions
}

// LLMClient is the idea generation and structure analysis service. The
// returned content is raw model text; callers parse it.
//
//go:generate mockery --name LLMClient --output ../../internal/mocks --outpkg mocks
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

// -- Persistence Interfaces --

// ErrSnapshotNotFound is returned by SnapshotStore.Load for unknown sessions.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists one serialized session document per session id.
// Save replaces any earlier snapshot of the same session.
type SnapshotStore interface {
	Save(ctx context.Context, sessionID string, doc []byte) error
	Load(ctx context.Context, sessionID string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}
