// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ideagraph/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const (
	sqlCreateSessions = `
        CREATE TABLE IF NOT EXISTS ideagraph_sessions (
            session_id TEXT PRIMARY KEY,
            document   JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );`
	sqlUpsertSession = `
        INSERT INTO ideagraph_sessions (session_id, document, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (session_id) DO UPDATE SET
            document = EXCLUDED.document,
            updated_at = EXCLUDED.updated_at;`
	sqlLoadSession  = `SELECT document FROM ideagraph_sessions WHERE session_id = $1;`
	sqlListSessions = `SELECT session_id FROM ideagraph_sessions ORDER BY updated_at DESC, session_id;`
)

// PostgresStore keeps session documents in a PostgreSQL table.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

var _ schemas.SnapshotStore = (*PostgresStore)(nil)

// OpenPostgres connects a pool and prepares the schema.
func OpenPostgres(ctx context.Context, url string, logger *zap.Logger) (*PostgresStore, error) {
	if url == "" {
		return nil, errors.New("postgres store requires store.postgres_url")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := NewPostgresStore(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore creates a new store instance, verifies the connection and
// creates the sessions table.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateSessions); err != nil {
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("store.postgres"),
		now:  time.Now,
	}, nil
}

// Save upserts the session document.
func (s *PostgresStore) Save(ctx context.Context, sessionID string, doc []byte) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sqlUpsertSession, sessionID, doc, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to save session '%s': %w", sessionID, err)
	}
	s.log.Debug("Snapshot saved", zap.String("session_id", sessionID), zap.Int("bytes", len(doc)))
	return nil
}

// Load reads the session document.
func (s *PostgresStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, sqlLoadSession, sessionID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: '%s'", schemas.ErrSnapshotNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session '%s': %w", sessionID, err)
	}
	return data, nil
}

// List returns session ids, most recently saved first.
func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, sqlListSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan session ids: %w", err)
	}
	return ids, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
