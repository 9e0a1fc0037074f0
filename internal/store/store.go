// internal/store/store.go
package store

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
)

// sessionIDPattern keeps ids safe to use as file names and keys.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateSessionID rejects ids that could escape a store's namespace.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id '%s': use letters, digits, '.', '_' or '-'", id)
	}
	return nil
}

// New opens the snapshot store selected by the configuration.
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (schemas.SnapshotStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case config.StoreFile, "":
		return NewFileStore(cfg.Path, logger)
	case config.StoreSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, logger)
	case config.StorePostgres:
		return OpenPostgres(ctx, cfg.PostgresURL, logger)
	default:
		return nil, fmt.Errorf("unknown store type '%s'", cfg.Type)
	}
}
