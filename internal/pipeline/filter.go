package pipeline

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/corpus-cli/internal/checkpoint"
	"github.com/sells-group/corpus-cli/internal/ledger"
	"github.com/sells-group/corpus-cli/internal/metrics"
	"github.com/sells-group/corpus-cli/internal/model"
	"github.com/sells-group/corpus-cli/internal/predicate"
	"github.com/sells-group/corpus-cli/internal/resilience"
	"github.com/sells-group/corpus-cli/internal/source"
)

// FilterState is the phase of a filter run.
type FilterState string

const (
	StateColdStart      FilterState = "COLD_START"
	StateFastForwarding FilterState = "FAST_FORWARDING"
	StateStreaming      FilterState = "STREAMING"
	StateDraining       FilterState = "DRAINING"
	StateDone           FilterState = "DONE"
)

// FilterConfig configures a Filter.
type FilterConfig struct {
	// BatchSize is the number of records per commit. Default 1000.
	BatchSize int
	// Workers evaluates the predicate in parallel. Default NumCPU-1, min 1.
	Workers int
	// Limit stops after this many records consumed in this run. Zero means
	// no limit.
	Limit int64
}

// FilterStats summarizes a filter run.
type FilterStats struct {
	StartCursor int64 `json:"start_cursor"`
	Cursor      int64 `json:"cursor"`
	Consumed    int64 `json:"consumed"`
	Malformed   int64 `json:"malformed"`
	Matched     int64 `json:"matched"`
	Batches     int   `json:"batches"`
	Exhausted   bool  `json:"exhausted"`
}

// Filter streams a source through a predicate into the candidate ledger,
// persisting the cursor after every batch.
type Filter struct {
	src   source.Source
	pred  predicate.Predicate
	sink  *ledger.Ledger[model.Candidate]
	store checkpoint.Store
	cfg   FilterConfig

	mu    sync.Mutex
	state FilterState

	cursor    atomic.Int64
	consumed  atomic.Int64
	matched   atomic.Int64
	malformed atomic.Int64
}

// NewFilter wires a filter run.
func NewFilter(src source.Source, pred predicate.Predicate, sink *ledger.Ledger[model.Candidate], store checkpoint.Store, cfg FilterConfig) (*Filter, error) {
	if src == nil || pred == nil || sink == nil || store == nil {
		return nil, eris.New("pipeline: filter needs a source, predicate, sink and checkpoint store")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = max(1, runtime.NumCPU()-1)
	}
	return &Filter{src: src, pred: pred, sink: sink, store: store, cfg: cfg, state: StateColdStart}, nil
}

// State returns the current phase.
func (f *Filter) State() FilterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Filter) setState(s FilterState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	zap.L().Debug("filter: state", zap.String("state", string(s)))
}

// Progress returns log fields for the progress reporter.
func (f *Filter) Progress() []zap.Field {
	return []zap.Field{
		zap.String("state", string(f.State())),
		zap.Int64("cursor", f.cursor.Load()),
		zap.Int64("consumed", f.consumed.Load()),
		zap.Int64("matched", f.matched.Load()),
		zap.Int64("malformed", f.malformed.Load()),
	}
}

// slot is one consumed record; rec is unset for malformed records.
type slot struct {
	rec       model.Record
	malformed bool
}

// Run resumes from the persisted cursor and streams to the end of the
// source. On cancellation the records already read are committed before
// Run returns the context error.
func (f *Filter) Run(ctx context.Context) (FilterStats, error) {
	log := zap.L().With(zap.String("component", "pipeline.filter"))

	start, err := f.store.Load(ctx)
	if err != nil {
		return FilterStats{}, eris.Wrap(err, "pipeline: load checkpoint")
	}
	stats := FilterStats{StartCursor: start, Cursor: start}
	f.cursor.Store(start)

	if start == 0 {
		f.setState(StateColdStart)
		// a cursor of zero owns no candidates; anything on disk is stale
		if err := f.sink.Reset(); err != nil {
			return stats, eris.Wrap(err, "pipeline: reset candidate ledger")
		}
		log.Info("filter: cold start")
	} else {
		f.setState(StateFastForwarding)
		log.Info("filter: resuming", zap.Int64("cursor", start))
		skipped, err := source.FastForward(ctx, f.src, start)
		if err != nil {
			return stats, eris.Wrap(err, "pipeline: fast-forward")
		}
		if skipped < start {
			return stats, eris.Errorf("pipeline: source has %d records but checkpoint is at %d", skipped, start)
		}
	}

	f.setState(StateStreaming)
	batch := make([]slot, 0, f.cfg.BatchSize)
	var runErr error

	for {
		var stop bool
		batch, stop, runErr = f.fill(ctx, batch[:0], &stats)
		if stop {
			f.setState(StateDraining)
		}
		if len(batch) > 0 {
			if err := f.commit(ctx, batch, &stats); err != nil {
				return stats, err
			}
		}
		if stop {
			break
		}
	}

	f.setState(StateDone)
	log.Info("filter: finished",
		zap.Int64("cursor", stats.Cursor),
		zap.Int64("consumed", stats.Consumed),
		zap.Int64("matched", stats.Matched),
		zap.Int64("malformed", stats.Malformed),
		zap.Bool("exhausted", stats.Exhausted),
		zap.Error(runErr),
	)
	return stats, runErr
}

// fill reads up to one batch. stop is true when this is the last batch of
// the run; err carries the reason when it is not a clean end of stream.
func (f *Filter) fill(ctx context.Context, batch []slot, stats *FilterStats) (_ []slot, stop bool, err error) {
	for len(batch) < f.cfg.BatchSize {
		if f.cfg.Limit > 0 && stats.Consumed+int64(len(batch)) >= f.cfg.Limit {
			return batch, true, nil
		}
		if err := ctx.Err(); err != nil {
			return batch, true, err
		}

		rec, err := f.src.Next(ctx)
		switch {
		case err == nil:
			batch = append(batch, slot{rec: rec})
		case errors.Is(err, source.ErrMalformedRecord):
			zap.L().Debug("filter: malformed record", zap.Error(err))
			batch = append(batch, slot{malformed: true})
		case errors.Is(err, io.EOF):
			stats.Exhausted = true
			return batch, true, nil
		case ctx.Err() != nil:
			return batch, true, ctx.Err()
		default:
			return batch, true, eris.Wrap(err, "pipeline: read source")
		}
	}
	return batch, false, nil
}

// commit evaluates batch, appends the matches in batch order and then
// advances the cursor. The ledger write always precedes the cursor write.
func (f *Filter) commit(ctx context.Context, batch []slot, stats *FilterStats) error {
	started := time.Now()

	results := make([]*model.Candidate, len(batch))
	var g errgroup.Group
	g.SetLimit(f.cfg.Workers)
	for i := range batch {
		if batch[i].malformed {
			continue
		}
		g.Go(func() error {
			if c, ok := f.pred.Match(batch[i].rec); ok {
				results[i] = &c
			}
			return nil
		})
	}
	_ = g.Wait()

	var matches []model.Candidate
	malformed := 0
	for i, r := range results {
		if batch[i].malformed {
			malformed++
		}
		if r != nil {
			matches = append(matches, *r)
		}
	}

	if err := f.sink.AppendBatch(matches); err != nil {
		return eris.Wrap(err, "pipeline: append candidates")
	}

	next := stats.Cursor + int64(len(batch))
	// records already read are committed even when the run is stopping
	saveCtx := context.WithoutCancel(ctx)
	err := resilience.Do(saveCtx, resilience.RetryConfig{
		MaxAttempts: 3,
		OnRetry:     resilience.RetryLogger("checkpoint", "save"),
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, checkpoint.ErrRegression) && resilience.IsTransient(err)
		},
	}, func(ctx context.Context) error {
		return f.store.Save(ctx, next)
	})
	if err != nil {
		return eris.Wrap(err, "pipeline: save checkpoint")
	}

	stats.Cursor = next
	stats.Consumed += int64(len(batch))
	stats.Matched += int64(len(matches))
	stats.Malformed += int64(malformed)
	stats.Batches++

	f.cursor.Store(next)
	f.consumed.Store(stats.Consumed)
	f.matched.Store(stats.Matched)
	f.malformed.Store(stats.Malformed)
	metrics.RecordFilterBatch(len(batch), malformed, len(matches), next, time.Since(started))
	return nil
}
