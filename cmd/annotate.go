package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/corpus-cli/internal/annotator"
	"github.com/sells-group/corpus-cli/internal/cost"
	"github.com/sells-group/corpus-cli/internal/monitoring"
	"github.com/sells-group/corpus-cli/internal/pipeline"
	"github.com/sells-group/corpus-cli/internal/schema"
	anthropicpkg "github.com/sells-group/corpus-cli/pkg/anthropic"
)

var (
	annotateLimit          int
	annotateConcurrency    int
	annotateRetryTransient bool
	annotateJSON           bool
)

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Annotate pending candidates into the success and failure ledgers",
	Long:  "Replays both outcome ledgers, skips every candidate already attempted, and sends the rest to the model with bounded concurrency. Each outcome is appended as it arrives. A candidate that timed out in an earlier run counts as attempted; pass --retry-transient to resubmit it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("annotate"); err != nil {
			return err
		}

		runID := newRunID()
		usage := cost.NewTracker(cost.NewCalculator(cost.DefaultRates()), cfg.Annotate.MaxCostUSD)
		ann, err := newAnnotator(runID, usage)
		if err != nil {
			return err
		}

		ledgers, closeLedgers, err := openLedgers()
		if err != nil {
			return err
		}
		defer closeLedgers()

		acfg := annotateConfig(runID)
		acfg.Budget = usage
		a, err := pipeline.NewAnnotation(ledgers, ann, acfg)
		if err != nil {
			return err
		}

		startMetrics(ctx)
		stopProgress := startProgress(ctx, "annotate", a.Progress)
		stats, runErr := a.Run(ctx)
		stopProgress()

		zap.L().Info("annotate complete",
			zap.String("run_id", runID),
			zap.Int64("submitted", stats.Submitted),
			zap.Int64("succeeded", stats.Succeeded),
			zap.Int64("failed", stats.Failed),
			zap.Int64("already_completed", stats.AlreadyCompleted),
		)
		zap.L().Info("annotate usage", usage.Fields()...)
		monitoring.NewAlerter(cfg.Monitoring).Check(context.WithoutCancel(ctx), runSnapshot(runID, stats, usage))
		if annotateJSON {
			if err := writeJSON(cmd.OutOrStdout(), stats); err != nil {
				return err
			}
		}
		return finish("annotate", runErr)
	},
}

func init() {
	annotateCmd.Flags().IntVar(&annotateLimit, "limit", 0, "max candidates to submit this run (0 = no limit)")
	annotateCmd.Flags().IntVar(&annotateConcurrency, "concurrency", 0, "override annotate.concurrency")
	annotateCmd.Flags().BoolVar(&annotateRetryTransient, "retry-transient", false, "resubmit candidates whose earlier attempt timed out or hit a transient service error; by default every ledgered identity, failed or not, is skipped")
	annotateCmd.Flags().BoolVar(&annotateJSON, "json", false, "print run stats as JSON")
	rootCmd.AddCommand(annotateCmd)
}

// newAnnotator loads the schema and prompts and builds the remote annotator.
func newAnnotator(runID string, usage *cost.Tracker) (*annotator.Remote, error) {
	sch, err := schema.Load(cfg.Annotate.SchemaPath)
	if err != nil {
		return nil, err
	}
	system, err := os.ReadFile(cfg.Annotate.SystemPromptPath)
	if err != nil {
		return nil, eris.Wrap(err, "read system prompt")
	}
	user, err := os.ReadFile(cfg.Annotate.UserPromptPath)
	if err != nil {
		return nil, eris.Wrap(err, "read user prompt")
	}

	var opts []option.RequestOption
	if cfg.Anthropic.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key, opts...)

	return annotator.New(client, annotator.Config{
		Model:        cfg.Anthropic.Model,
		MaxTokens:    cfg.Anthropic.MaxTokens,
		SystemPrompt: string(system),
		UserTemplate: string(user),
		Schema:       sch,
		RunID:        runID,
		Usage:        usage,
	})
}

// annotateConfig merges config values with command-line overrides.
func annotateConfig(runID string) pipeline.AnnotateConfig {
	concurrency := cfg.Annotate.Concurrency
	if annotateConcurrency > 0 {
		concurrency = annotateConcurrency
	}
	return pipeline.AnnotateConfig{
		Concurrency:       concurrency,
		Timeout:           time.Duration(cfg.Annotate.TimeoutSecs) * time.Second,
		RatePerMinute:     cfg.Annotate.RequestsPerMinute,
		HaltAfterFailures: cfg.Annotate.HaltAfterFailures,
		Limit:             annotateLimit,
		RetryTransient:    cfg.Annotate.RetryTransient || annotateRetryTransient,
		RunID:             runID,
	}
}

// runSnapshot condenses run stats and spend for the alerter.
func runSnapshot(runID string, stats pipeline.AnnotateStats, usage *cost.Tracker) monitoring.RunSnapshot {
	return monitoring.RunSnapshot{
		RunID:           runID,
		Submitted:       stats.Submitted,
		Succeeded:       stats.Succeeded,
		Failed:          stats.Failed,
		Expired:         stats.Expired,
		Halted:          stats.Halted,
		BudgetExhausted: stats.BudgetExhausted,
		CostUSD:         usage.Total().USD,
	}
}
