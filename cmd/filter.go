package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/corpus-cli/internal/checkpoint"
	"github.com/sells-group/corpus-cli/internal/ledger"
	"github.com/sells-group/corpus-cli/internal/model"
	"github.com/sells-group/corpus-cli/internal/pipeline"
	"github.com/sells-group/corpus-cli/internal/predicate"
	"github.com/sells-group/corpus-cli/internal/source"
)

var (
	filterLimit int64
	filterJSON  bool
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Stream the corpus through the keyword filter into the candidate ledger",
	Long:  "Resumes from the persisted cursor, fast-forwards the source past records already handled, and appends every matching record to the candidate ledger one batch at a time.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("filter"); err != nil {
			return err
		}

		keywords := cfg.Filter.Keywords
		if cfg.Filter.KeywordsFile != "" {
			kw, err := predicate.LoadKeywordsFile(cfg.Filter.KeywordsFile)
			if err != nil {
				return err
			}
			keywords = kw
		}
		pred, err := predicate.NewKeywords(keywords, cfg.Filter.MaxTextChars)
		if err != nil {
			return err
		}

		src, err := source.Open(sourceConfig())
		if err != nil {
			return err
		}
		defer src.Close() //nolint:errcheck

		sink, err := ledger.Open[model.Candidate](cfg.Filter.CandidatesPath)
		if err != nil {
			return err
		}
		defer sink.Close() //nolint:errcheck

		store, err := checkpoint.Open(ctx, checkpoint.Config{
			Driver:      cfg.Checkpoint.Driver,
			Path:        cfg.Checkpoint.Path,
			DatabaseURL: cfg.Checkpoint.DatabaseURL,
			Name:        cfg.Checkpoint.Name,
		})
		if err != nil {
			return eris.Wrap(err, "open checkpoint store")
		}
		defer store.Close() //nolint:errcheck

		f, err := pipeline.NewFilter(src, pred, sink, store, pipeline.FilterConfig{
			BatchSize: cfg.Filter.BatchSize,
			Workers:   cfg.Filter.Workers,
			Limit:     filterLimit,
		})
		if err != nil {
			return err
		}

		startMetrics(ctx)
		stopProgress := startProgress(ctx, "filter", f.Progress)
		stats, runErr := f.Run(ctx)
		stopProgress()

		zap.L().Info("filter complete",
			zap.Int64("cursor", stats.Cursor),
			zap.Int64("consumed", stats.Consumed),
			zap.Int64("matched", stats.Matched),
			zap.Int64("malformed", stats.Malformed),
		)
		if filterJSON {
			if err := writeJSON(cmd.OutOrStdout(), stats); err != nil {
				return err
			}
		}
		return finish("filter", runErr)
	},
}

func init() {
	filterCmd.Flags().Int64Var(&filterLimit, "limit", 0, "max records to consume this run (0 = no limit)")
	filterCmd.Flags().BoolVar(&filterJSON, "json", false, "print run stats as JSON")
	rootCmd.AddCommand(filterCmd)
}

func sourceConfig() source.Config {
	return source.Config{
		Kind: cfg.Source.Kind,
		Path: cfg.Source.Path,
		HF: source.HFConfig{
			BaseURL:           cfg.Source.HF.BaseURL,
			Dataset:           cfg.Source.HF.Dataset,
			Config:            cfg.Source.HF.Config,
			Split:             cfg.Source.HF.Split,
			PageSize:          cfg.Source.HF.PageSize,
			Token:             cfg.Source.HF.Token,
			RequestsPerSecond: cfg.Source.HF.RequestsPerSecond,
		},
	}
}
