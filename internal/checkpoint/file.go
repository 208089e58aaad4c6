package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
)

// FileStore keeps the checkpoint in a small JSON file that is replaced
// atomically on every save.
type FileStore struct {
	path string

	mu   sync.Mutex
	last int64
}

// NewFile returns a FileStore at path, creating the parent directory.
func NewFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, eris.New("checkpoint: empty file path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: create dir for %s", path)
	}
	return &FileStore{path: path}, nil
}

// Load reads the checkpoint. A missing file is a cold start. A file that
// exists but cannot be decoded is an error so a damaged checkpoint never
// silently restarts the stream.
func (s *FileStore) Load(ctx context.Context) (int64, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "checkpoint: read %s", s.path)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return 0, eris.Wrapf(err, "checkpoint: decode %s", s.path)
	}
	if st.ProcessedCount < 0 {
		return 0, eris.Errorf("checkpoint: negative processed_count %d in %s", st.ProcessedCount, s.path)
	}

	s.mu.Lock()
	s.last = st.ProcessedCount
	s.mu.Unlock()
	return st.ProcessedCount, nil
}

// Save overwrites the checkpoint with position.
func (s *FileStore) Save(ctx context.Context, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkForward(s.last, position); err != nil {
		return err
	}

	data, err := json.Marshal(State{ProcessedCount: position})
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "checkpoint: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "checkpoint: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "checkpoint: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "checkpoint: close temp file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return eris.Wrapf(err, "checkpoint: replace %s", s.path)
	}

	s.last = position
	return nil
}

// Close is a no-op for file checkpoints.
func (s *FileStore) Close() error {
	return nil
}
