// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) LLM() config.LLMRouterConfig {
	args := m.Called()
	return args.Get(0).(config.LLMRouterConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Layout() config.LayoutConfig {
	args := m.Called()
	return args.Get(0).(config.LayoutConfig)
}

func (m *MockConfig) Store() config.StoreConfig {
	args := m.Called()
	return args.Get(0).(config.StoreConfig)
}

// --- Setters ---

func (m *MockConfig) SetStoreType(t string) {
	m.Called(t)
}

func (m *MockConfig) SetStorePath(p string) {
	m.Called(p)
}

func (m *MockConfig) SetEngineGenerationTimeout(d time.Duration) {
	m.Called(d)
}

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

var _ schemas.LLMClient = (*MockLLMClient)(nil)

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close provides a mock function for releasing the client.
func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Snapshot Store Mock --

// MockSnapshotStore mocks the schemas.SnapshotStore interface.
type MockSnapshotStore struct {
	mock.Mock
}

var _ schemas.SnapshotStore = (*MockSnapshotStore)(nil)

func (m *MockSnapshotStore) Save(ctx context.Context, sessionID string, doc []byte) error {
	args := m.Called(ctx, sessionID, doc)
	return args.Error(0)
}

func (m *MockSnapshotStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	args := m.Called(ctx, sessionID)
	var data []byte
	if v := args.Get(0); v != nil {
		data = v.([]byte)
	}
	return data, args.Error(1)
}

func (m *MockSnapshotStore) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	var ids []string
	if v := args.Get(0); v != nil {
		ids = v.([]string)
	}
	return ids, args.Error(1)
}

func (m *MockSnapshotStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
