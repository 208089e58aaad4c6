package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore; pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore keeps checkpoints as named rows in Postgres.
type PostgresStore struct {
	pool Pool
	name string
}

// NewPostgres connects to connString and pings the server.
func NewPostgres(ctx context.Context, connString, name string) (*PostgresStore, error) {
	if connString == "" {
		return nil, eris.New("checkpoint: empty postgres database url")
	}
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: postgres parse config")
	}
	cfg.MaxConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: postgres create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "checkpoint: postgres ping")
	}
	return &PostgresStore{pool: pool, name: name}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	name            TEXT PRIMARY KEY,
	processed_count BIGINT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate creates the checkpoints table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "checkpoint: postgres migrate")
}

// Load returns the stored position or 0.
func (s *PostgresStore) Load(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT processed_count FROM checkpoints WHERE name = $1`, s.name,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "checkpoint: postgres load %s", s.name)
	}
	return n, nil
}

// Save upserts the position without letting it decrease.
func (s *PostgresStore) Save(ctx context.Context, position int64) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (name, processed_count, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			processed_count = EXCLUDED.processed_count,
			updated_at = EXCLUDED.updated_at
		WHERE EXCLUDED.processed_count >= checkpoints.processed_count`,
		s.name, position, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "checkpoint: postgres save %s", s.name)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRegression, "checkpoint: postgres save %d", position)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
