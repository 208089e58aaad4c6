// Package source reads the upstream record stream.
package source

import (
	"context"
	"errors"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/corpus-cli/internal/model"
	"github.com/sells-group/corpus-cli/pkg/hfdatasets"
)

// ErrMalformedRecord marks a record that was consumed from the stream but
// could not be decoded. Callers count it toward the cursor and move on.
var ErrMalformedRecord = eris.New("source: malformed record")

// Source is a pull-based, ordered record stream. Next returns io.EOF once
// the stream is exhausted.
type Source interface {
	Next(ctx context.Context) (model.Record, error)
	Close() error
}

// Skipper is implemented by sources that can seek forward without decoding.
// Skip returns how many records were actually skipped, which is less than n
// only when the stream ends first.
type Skipper interface {
	Skip(ctx context.Context, n int64) (int64, error)
}

// Config selects and configures a source backend.
type Config struct {
	Kind string // "jsonl" or "hf"
	Path string
	HF   HFConfig
}

// HFConfig configures the datasets-server backend.
type HFConfig struct {
	BaseURL           string
	Dataset           string
	Config            string
	Split             string
	PageSize          int
	Token             string
	RequestsPerSecond float64
}

// Open returns the source named by cfg.Kind.
func Open(cfg Config) (Source, error) {
	switch cfg.Kind {
	case "", "jsonl":
		return OpenJSONL(cfg.Path)
	case "hf":
		opts := []hfdatasets.Option{
			hfdatasets.WithRateLimit(cfg.HF.RequestsPerSecond),
		}
		if cfg.HF.BaseURL != "" {
			opts = append(opts, hfdatasets.WithBaseURL(cfg.HF.BaseURL))
		}
		if cfg.HF.Token != "" {
			opts = append(opts, hfdatasets.WithToken(cfg.HF.Token))
		}
		return NewHF(hfdatasets.NewClient(opts...), cfg.HF), nil
	default:
		return nil, eris.Errorf("source: unknown kind %q", cfg.Kind)
	}
}

// FastForward advances src past its first n records. It uses the native
// Skip when src implements Skipper and falls back to reading and discarding.
// The returned count is less than n when the stream is shorter.
func FastForward(ctx context.Context, src Source, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	if sk, ok := src.(Skipper); ok {
		skipped, err := sk.Skip(ctx, n)
		if err != nil {
			return skipped, eris.Wrap(err, "source: skip")
		}
		return skipped, nil
	}

	var skipped int64
	for skipped < n {
		if err := ctx.Err(); err != nil {
			return skipped, err
		}
		_, err := src.Next(ctx)
		switch {
		case err == nil, errors.Is(err, ErrMalformedRecord):
			skipped++
		case errors.Is(err, io.EOF):
			return skipped, nil
		default:
			return skipped, eris.Wrap(err, "source: discard")
		}
	}
	return skipped, nil
}
