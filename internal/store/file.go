// internal/store/file.go
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ideagraph/api/schemas"
)

const snapshotExt = ".json"

// FileStore keeps one JSON document per session in a directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex
	log *zap.Logger
}

var _ schemas.SnapshotStore = (*FileStore)(nil)

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory '%s': %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{dir: dir, log: logger.Named("store.file")}, nil
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+snapshotExt)
}

// Save writes the document through a temporary file and renames it into place.
func (s *FileStore) Save(ctx context.Context, sessionID string, doc []byte) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+sessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path(sessionID)); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	s.log.Debug("Snapshot saved", zap.String("session_id", sessionID), zap.Int("bytes", len(doc)))
	return nil
}

// Load reads a session document.
func (s *FileStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: '%s'", schemas.ErrSnapshotNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot '%s': %w", sessionID, err)
	}
	return data, nil
}

// List returns the stored session ids in lexical order.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list store directory: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, snapshotExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
