// Package ledger implements append-only JSONL logs of attempted work that can
// be replayed to rebuild dedup sets after a crash or interruption.
//
// A ledger file must have a single writer process. Running two writers
// against the same file is unsupported and not detected.
package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpus-cli/internal/model"
)

// maxLineBytes bounds a single entry; candidate payloads are truncated well
// below this.
const maxLineBytes = 16 << 20

// Subjecter is implemented by entries that can be attributed to an identity.
type Subjecter interface {
	Subject() (model.Identity, bool)
}

// Ledger is an append-only newline-delimited JSON log of T entries.
type Ledger[T Subjecter] struct {
	path string

	mu sync.Mutex
	f  *os.File

	skipped atomic.Int64
}

// Open returns a ledger backed by path, creating the parent directory if
// needed. The file itself is created on first Append.
func Open[T Subjecter](path string) (*Ledger[T], error) {
	if path == "" {
		return nil, eris.New("ledger: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "ledger: create dir for %s", path)
	}
	return &Ledger[T]{path: path}, nil
}

// Path returns the backing file path.
func (l *Ledger[T]) Path() string {
	return l.path
}

// Append writes entry as one line and syncs it to disk before returning.
func (l *Ledger[T]) Append(entry T) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "ledger: marshal entry")
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.openLocked(); err != nil {
		return err
	}
	if _, err := l.f.Write(line); err != nil {
		return eris.Wrapf(err, "ledger: append %s", l.path)
	}
	return eris.Wrapf(l.f.Sync(), "ledger: sync %s", l.path)
}

// AppendBatch writes all entries and syncs once at the end.
func (l *Ledger[T]) AppendBatch(entries []T) error {
	if len(entries) == 0 {
		return nil
	}
	var buf []byte
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return eris.Wrap(err, "ledger: marshal entry")
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.openLocked(); err != nil {
		return err
	}
	if _, err := l.f.Write(buf); err != nil {
		return eris.Wrapf(err, "ledger: append batch %s", l.path)
	}
	return eris.Wrapf(l.f.Sync(), "ledger: sync %s", l.path)
}

// openLocked opens the append handle. If a previous writer died mid-line,
// the torn tail is terminated so the next entry starts on its own line.
func (l *Ledger[T]) openLocked() error {
	if l.f != nil {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return eris.Wrapf(err, "ledger: open %s", l.path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "ledger: stat %s", l.path)
	}
	if size := info.Size(); size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			_ = f.Close()
			return eris.Wrapf(err, "ledger: read tail %s", l.path)
		}
		if last[0] != '\n' {
			if _, err := f.Write([]byte{'\n'}); err != nil {
				_ = f.Close()
				return eris.Wrapf(err, "ledger: terminate torn line %s", l.path)
			}
		}
	}
	l.f = f
	return nil
}

// Reset truncates the ledger to zero entries.
func (l *Ledger[T]) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return eris.Wrapf(err, "ledger: truncate %s", l.path)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "ledger: sync %s", l.path)
	}
	return eris.Wrapf(f.Close(), "ledger: close %s", l.path)
}

// Close releases the append handle.
func (l *Ledger[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return eris.Wrapf(err, "ledger: close %s", l.path)
}

// Skipped returns the number of malformed lines seen by scans so far.
func (l *Ledger[T]) Skipped() int64 {
	return l.skipped.Load()
}

// Scan lazily yields every decodable entry. Malformed lines are logged and
// skipped. A read error is yielded once and ends the sequence. A missing
// file yields nothing.
func (l *Ledger[T]) Scan(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		f, err := os.Open(l.path)
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err != nil {
			yield(zero, eris.Wrapf(err, "ledger: open %s", l.path))
			return
		}
		defer f.Close() //nolint:errcheck

		r := bufio.NewReaderSize(f, 64<<10)
		lineNo := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(zero, eris.Wrap(err, "ledger: scan cancelled"))
				return
			}

			line, err := readLine(r)
			if len(line) > 0 {
				lineNo++
				var entry T
				if uerr := json.Unmarshal(line, &entry); uerr != nil {
					l.skipped.Add(1)
					zap.L().Warn("ledger: skipping malformed line",
						zap.String("path", l.path),
						zap.Int("line", lineNo),
						zap.Error(uerr),
					)
				} else if !yield(entry, nil) {
					return
				}
			} else if err == nil {
				lineNo++
			}

			if err == io.EOF {
				return
			}
			if err != nil {
				yield(zero, eris.Wrapf(err, "ledger: read %s", l.path))
				return
			}
		}
	}
}

// Identities lazily yields the identity of every attributable entry.
func (l *Ledger[T]) Identities(ctx context.Context) iter.Seq2[model.Identity, error] {
	return func(yield func(model.Identity, error) bool) {
		for entry, err := range l.Scan(ctx) {
			if err != nil {
				yield("", err)
				return
			}
			id, ok := entry.Subject()
			if !ok {
				continue
			}
			if !yield(id, nil) {
				return
			}
		}
	}
}

// readLine returns the next line without its terminator. Blank lines come
// back empty with a nil error. Lines longer than maxLineBytes are returned
// truncated so the caller treats them as malformed.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) <= maxLineBytes {
			line = append(line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if len(line) > 0 && line[len(line)-1] == '\n' {
			line = line[:len(line)-1]
		}
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		return trimSpace(line), err
	}
}

func trimSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

// Set is a completed-identity set rebuilt from one or more ledgers.
type Set map[model.Identity]struct{}

// Has reports whether id is in the set.
func (s Set) Has(id model.Identity) bool {
	_, ok := s[id]
	return ok
}

// Add inserts every identity from seq into s. It stops at the first error.
func (s Set) Add(seq iter.Seq2[model.Identity, error]) error {
	for id, err := range seq {
		if err != nil {
			return err
		}
		s[id] = struct{}{}
	}
	return nil
}
