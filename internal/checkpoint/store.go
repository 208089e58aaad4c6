// Package checkpoint persists the filter-stage cursor: the number of source
// records fully handed to the fan-out stage.
package checkpoint

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrRegression is returned when a save would move the cursor backwards.
var ErrRegression = eris.New("checkpoint: cursor must not decrease")

// State is the persisted checkpoint structure.
type State struct {
	ProcessedCount int64 `json:"processed_count"`
}

// Store loads and saves the cursor. Load returns 0 when nothing has been
// persisted yet.
type Store interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, position int64) error
	Close() error
}

// Config selects and configures a Store backend.
type Config struct {
	Driver      string // "file", "sqlite" or "postgres"
	Path        string // file path, or sqlite database path
	DatabaseURL string // postgres connection string
	Name        string // row key for database backends
}

// Open returns the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	name := cfg.Name
	if name == "" {
		name = "filter"
	}
	switch cfg.Driver {
	case "", "file":
		return NewFile(cfg.Path)
	case "sqlite":
		st, err := NewSQLite(cfg.Path, name)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := NewPostgres(ctx, cfg.DatabaseURL, name)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("checkpoint: unknown driver %q", cfg.Driver)
	}
}

func checkForward(prev, next int64) error {
	if next < prev {
		return eris.Wrapf(ErrRegression, "checkpoint: save %d after %d", next, prev)
	}
	return nil
}
