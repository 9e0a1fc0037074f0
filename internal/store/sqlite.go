// internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/ideagraph/api/schemas"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    document   BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL
);`

// SQLiteStore keeps session documents in a local SQLite database.
type SQLiteStore struct {
	conn *sql.DB
	log  *zap.Logger
	now  func() time.Time
}

var _ schemas.SnapshotStore = (*SQLiteStore)(nil)

// OpenSQLite opens the database with WAL mode enabled and creates the schema.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store requires a database path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Enable WAL mode for concurrent reads
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{conn: conn, log: logger.Named("store.sqlite"), now: time.Now}, nil
}

// Save upserts the session document.
func (s *SQLiteStore) Save(ctx context.Context, sessionID string, doc []byte) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sessions (session_id, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		sessionID, doc, s.now().UTC())
	if err != nil {
		return fmt.Errorf("saving session '%s': %w", sessionID, err)
	}
	s.log.Debug("Snapshot saved", zap.String("session_id", sessionID), zap.Int("bytes", len(doc)))
	return nil
}

// Load reads the session document.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx, `SELECT document FROM sessions WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: '%s'", schemas.ErrSnapshotNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session '%s': %w", sessionID, err)
	}
	return data, nil
}

// List returns session ids, most recently saved first.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT session_id FROM sessions ORDER BY updated_at DESC, session_id`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
