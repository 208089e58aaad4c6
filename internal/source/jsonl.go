package source

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/corpus-cli/internal/model"
)

// JSONL reads one JSON record per line from a local file. Files ending in
// .gz are decompressed transparently. Blank lines are not records.
type JSONL struct {
	f    *os.File
	gz   *gzip.Reader
	r    *bufio.Reader
	line int64
}

// OpenJSONL opens a JSONL file source.
func OpenJSONL(path string) (*JSONL, error) {
	if path == "" {
		return nil, eris.New("source: jsonl path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	s := &JSONL{f: f}
	var rd io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, eris.Wrapf(err, "source: gzip %s", path)
		}
		s.gz = gz
		rd = gz
	}
	s.r = bufio.NewReaderSize(rd, 1<<20)
	return s, nil
}

// readLine returns the next non-blank line, or io.EOF.
func (s *JSONL) readLine() ([]byte, error) {
	for {
		b, err := s.r.ReadBytes('\n')
		if len(b) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, eris.Wrap(err, "source: read")
		}
		s.line++
		if b = bytes.TrimSpace(b); len(b) > 0 {
			return b, nil
		}
		if err != nil {
			return nil, io.EOF
		}
	}
}

// Next decodes the next record. A line that is not a JSON object yields
// ErrMalformedRecord.
func (s *JSONL) Next(ctx context.Context) (model.Record, error) {
	if err := ctx.Err(); err != nil {
		return model.Record{}, err
	}
	b, err := s.readLine()
	if err != nil {
		return model.Record{}, err
	}
	var rec model.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return model.Record{}, eris.Wrapf(ErrMalformedRecord, "line %d: %s", s.line, err)
	}
	return rec, nil
}

// Skip discards n records without decoding them.
func (s *JSONL) Skip(ctx context.Context, n int64) (int64, error) {
	var skipped int64
	for skipped < n {
		if skipped%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return skipped, err
			}
		}
		if _, err := s.readLine(); err != nil {
			if errors.Is(err, io.EOF) {
				return skipped, nil
			}
			return skipped, err
		}
		skipped++
	}
	return skipped, nil
}

// Close releases the file.
func (s *JSONL) Close() error {
	if s.gz != nil {
		_ = s.gz.Close()
	}
	return s.f.Close()
}
