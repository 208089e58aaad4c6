package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps checkpoints as named rows in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	name string
}

// NewSQLite opens (or creates) the database at path in WAL mode.
func NewSQLite(path, name string) (*SQLiteStore, error) {
	if path == "" {
		return nil, eris.New("checkpoint: empty sqlite path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: create dir for %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "checkpoint: sqlite exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, name: name}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	name            TEXT PRIMARY KEY,
	processed_count INTEGER NOT NULL,
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// Migrate creates the checkpoints table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "checkpoint: sqlite migrate")
}

// Load returns the stored position or 0.
func (s *SQLiteStore) Load(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT processed_count FROM checkpoints WHERE name = ?`, s.name,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "checkpoint: sqlite load %s", s.name)
	}
	return n, nil
}

// Save upserts the position. The WHERE clause on the conflict branch keeps
// the cursor from moving backwards.
func (s *SQLiteStore) Save(ctx context.Context, position int64) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (name, processed_count, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			processed_count = excluded.processed_count,
			updated_at = excluded.updated_at
		WHERE excluded.processed_count >= checkpoints.processed_count`,
		s.name, position, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "checkpoint: sqlite save %s", s.name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "checkpoint: sqlite rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRegression, "checkpoint: sqlite save %d", position)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
