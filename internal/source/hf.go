package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpus-cli/internal/model"
	"github.com/sells-group/corpus-cli/pkg/hfdatasets"
)

// HF pages through a dataset split with the datasets-server rows API. The
// offset of the next row is the stream position, so Skip is a seek.
type HF struct {
	client hfdatasets.Client
	cfg    HFConfig

	offset int64
	buf    []hfdatasets.Row
	total  int64 // -1 until the first page
	done   bool
}

// NewHF returns a rows-API source starting at offset 0.
func NewHF(client hfdatasets.Client, cfg HFConfig) *HF {
	if cfg.PageSize <= 0 || cfg.PageSize > hfdatasets.MaxPageSize {
		cfg.PageSize = hfdatasets.MaxPageSize
	}
	if cfg.Split == "" {
		cfg.Split = "train"
	}
	return &HF{client: client, cfg: cfg, total: -1}
}

func (s *HF) fill(ctx context.Context) error {
	if s.done {
		return io.EOF
	}
	if s.total >= 0 && s.offset >= s.total {
		s.done = true
		return io.EOF
	}
	resp, err := s.client.Rows(ctx, hfdatasets.RowsRequest{
		Dataset: s.cfg.Dataset,
		Config:  s.cfg.Config,
		Split:   s.cfg.Split,
		Offset:  s.offset,
		Length:  s.cfg.PageSize,
	})
	if err != nil {
		return eris.Wrapf(err, "source: fetch rows at %d", s.offset)
	}
	s.total = resp.NumRowsTotal
	if len(resp.Rows) == 0 {
		s.done = true
		return io.EOF
	}
	s.buf = resp.Rows
	zap.L().Debug("source: fetched page",
		zap.String("dataset", s.cfg.Dataset),
		zap.Int64("offset", s.offset),
		zap.Int("rows", len(resp.Rows)),
		zap.Int64("total", s.total),
	)
	return nil
}

// Next returns the next row decoded as a record.
func (s *HF) Next(ctx context.Context) (model.Record, error) {
	if len(s.buf) == 0 {
		if err := s.fill(ctx); err != nil {
			return model.Record{}, err
		}
	}
	row := s.buf[0]
	s.buf = s.buf[1:]
	s.offset++

	var rec model.Record
	if err := json.Unmarshal(row.Row, &rec); err != nil {
		return model.Record{}, eris.Wrapf(ErrMalformedRecord, "row %d: %s", row.RowIdx, err)
	}
	return rec, nil
}

// Skip seeks n rows forward. The split size is learned from the first page
// fetched at the new offset and clamps the result.
func (s *HF) Skip(ctx context.Context, n int64) (int64, error) {
	start := s.offset
	if int64(len(s.buf)) >= n {
		s.buf = s.buf[n:]
		s.offset += n
		return n, nil
	}
	s.buf = nil
	s.offset = start + n
	if err := s.fill(ctx); err != nil && !errors.Is(err, io.EOF) {
		s.offset = start
		return 0, err
	}
	if s.total >= 0 && s.offset > s.total {
		s.offset = s.total
	}
	return s.offset - start, nil
}

// Close is a no-op.
func (s *HF) Close() error { return nil }
