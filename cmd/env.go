package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpus-cli/internal/ledger"
	"github.com/sells-group/corpus-cli/internal/metrics"
	"github.com/sells-group/corpus-cli/internal/model"
	"github.com/sells-group/corpus-cli/internal/pipeline"
	"github.com/sells-group/corpus-cli/internal/progress"
)

// openLedgers opens the candidate, success and failure ledgers named in
// the config. The caller must call the returned close func.
func openLedgers() (pipeline.LedgerSet, func(), error) {
	cands, err := ledger.Open[model.Candidate](cfg.Filter.CandidatesPath)
	if err != nil {
		return pipeline.LedgerSet{}, nil, err
	}
	gold, err := ledger.Open[model.Success](filepath.Join(cfg.Annotate.OutputDir, cfg.Annotate.SuccessFile))
	if err != nil {
		_ = cands.Close()
		return pipeline.LedgerSet{}, nil, err
	}
	bad, err := ledger.Open[model.Failure](filepath.Join(cfg.Annotate.OutputDir, cfg.Annotate.FailureFile))
	if err != nil {
		_ = cands.Close()
		_ = gold.Close()
		return pipeline.LedgerSet{}, nil, err
	}

	closeAll := func() {
		for _, c := range []io.Closer{cands, gold, bad} {
			if err := c.Close(); err != nil {
				zap.L().Warn("close ledger", zap.Error(err))
			}
		}
	}
	return pipeline.LedgerSet{Candidates: cands, Success: gold, Failure: bad}, closeAll, nil
}

// startMetrics serves /metrics and /healthz in the background when an
// address is configured.
func startMetrics(ctx context.Context) {
	if cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr, cfg.Metrics.AllowedOrigins); err != nil {
			zap.L().Error("metrics server stopped", zap.Error(err))
		}
	}()
}

// startProgress logs a periodic snapshot until the returned func is called.
func startProgress(ctx context.Context, component string, snap progress.Snapshot) func() {
	interval := time.Duration(cfg.Progress.IntervalSecs) * time.Second
	return progress.NewReporter(component, interval, snap).Start(ctx)
}

func newRunID() string {
	return uuid.NewString()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

// finish turns an interrupted run into a clean exit; everything read before
// the signal is already committed and the next run resumes from there.
func finish(component string, err error) error {
	if errors.Is(err, context.Canceled) {
		zap.L().Warn(component+": interrupted, rerun to resume", zap.Error(err))
		return nil
	}
	return err
}
