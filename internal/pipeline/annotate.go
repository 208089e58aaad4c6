package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpus-cli/internal/annotator"
	"github.com/sells-group/corpus-cli/internal/ledger"
	"github.com/sells-group/corpus-cli/internal/metrics"
	"github.com/sells-group/corpus-cli/internal/model"
	"github.com/sells-group/corpus-cli/internal/resilience"
	"github.com/sells-group/corpus-cli/internal/scheduler"
)

// AnnotateConfig configures an Annotation run.
type AnnotateConfig struct {
	Concurrency   int
	Timeout       time.Duration
	RatePerMinute int
	// HaltAfterFailures stops admitting new work after this many
	// consecutive transient failures. Zero disables the breaker.
	HaltAfterFailures int
	// Limit caps the candidates submitted in this run. Zero means no limit.
	Limit int
	// RetryTransient leaves transient failures out of the replayed set so
	// timeouts and service errors from earlier runs are attempted again.
	RetryTransient bool
	// Budget, when set, stops admission once it reports exhaustion.
	Budget Budget
	RunID  string
}

// Budget reports whether the spending cap of a run has been reached.
type Budget interface {
	Exceeded() bool
}

// ErrBudgetExhausted is returned when a run stops because its budget ran out.
var ErrBudgetExhausted = eris.New("pipeline: annotation budget exhausted")

// AnnotateStats summarizes an annotation run.
type AnnotateStats struct {
	AlreadyCompleted int64 `json:"already_completed"`
	Retrying         int64 `json:"retrying"`
	Duplicates       int64 `json:"duplicates"`
	Submitted        int64 `json:"submitted"`
	Succeeded        int64 `json:"succeeded"`
	Failed           int64 `json:"failed"`
	Expired          int64 `json:"expired"`
	Peak             int64 `json:"peak_in_flight"`
	Halted           bool  `json:"halted"`
	BudgetExhausted  bool  `json:"budget_exhausted"`
}

// LedgerSet groups the three ledgers an annotation run touches.
type LedgerSet struct {
	Candidates *ledger.Ledger[model.Candidate]
	Success    *ledger.Ledger[model.Success]
	Failure    *ledger.Ledger[model.Failure]
}

func (ls LedgerSet) valid() bool {
	return ls.Candidates != nil && ls.Success != nil && ls.Failure != nil
}

// expirer is implemented by annotators that build their own outcome for a
// call abandoned at its deadline.
type expirer interface {
	TransportFailure(c model.Candidate, err error) model.Result
}

// Annotation sends every not-yet-attempted candidate through the annotator
// with bounded concurrency, routing each outcome to the success or failure
// ledger as it arrives.
type Annotation struct {
	ledgers  LedgerSet
	ann      annotator.Annotator
	cfg      AnnotateConfig
	observer scheduler.Observer

	alreadyCompleted atomic.Int64
	duplicates       atomic.Int64
	submitted        atomic.Int64
	succeeded        atomic.Int64
	failed           atomic.Int64
}

// NewAnnotation wires an annotation run.
func NewAnnotation(ledgers LedgerSet, ann annotator.Annotator, cfg AnnotateConfig) (*Annotation, error) {
	if !ledgers.valid() {
		return nil, eris.New("pipeline: annotation needs candidate, success and failure ledgers")
	}
	if ann == nil {
		return nil, eris.New("pipeline: annotation needs an annotator")
	}
	if cfg.Concurrency <= 0 {
		return nil, eris.Errorf("pipeline: concurrency must be positive, got %d", cfg.Concurrency)
	}
	return &Annotation{
		ledgers:  ledgers,
		ann:      ann,
		cfg:      cfg,
		observer: metrics.SchedulerObserver{},
	}, nil
}

// Progress returns log fields for the progress reporter.
func (a *Annotation) Progress() []zap.Field {
	return []zap.Field{
		zap.Int64("already_completed", a.alreadyCompleted.Load()),
		zap.Int64("submitted", a.submitted.Load()),
		zap.Int64("succeeded", a.succeeded.Load()),
		zap.Int64("failed", a.failed.Load()),
		zap.Int64("duplicates", a.duplicates.Load()),
	}
}

// Run replays both ledgers, then annotates what remains. Cancelling ctx
// stops admission; units already admitted run to completion and are
// recorded before Run returns the context error.
func (a *Annotation) Run(ctx context.Context) (AnnotateStats, error) {
	log := zap.L().With(zap.String("component", "pipeline.annotate"), zap.String("run_id", a.cfg.RunID))

	completed, retrying, err := a.replay(ctx)
	if err != nil {
		return AnnotateStats{}, err
	}
	log.Info("annotate: replayed ledgers",
		zap.Int("completed", len(completed)),
		zap.Int64("retrying", retrying),
	)

	sched, err := scheduler.New[model.Result](scheduler.Config{
		Concurrency:   a.cfg.Concurrency,
		Timeout:       a.cfg.Timeout,
		RatePerMinute: a.cfg.RatePerMinute,
		Observer:      a.observer,
	})
	if err != nil {
		return AnnotateStats{}, eris.Wrap(err, "pipeline: create scheduler")
	}

	var breaker *resilience.Breaker
	if a.cfg.HaltAfterFailures > 0 {
		breaker = resilience.NewBreaker(resilience.BreakerConfig{
			FailureThreshold: a.cfg.HaltAfterFailures,
			// never half-opens within a run; the next run starts closed
			ResetTimeout: 365 * 24 * time.Hour,
			OnStateChange: func(from, to resilience.CircuitState) {
				metrics.SetBreakerState(int(to))
				log.Warn("annotate: breaker state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}

	// admission stops on the first ledger write failure; admitted units
	// still drain because they run detached from prodCtx
	prodCtx, stopAdmission := context.WithCancelCause(ctx)
	defer stopAdmission(nil)

	var halted, exhausted atomic.Bool
	produced := make(chan error, 1)
	go func() {
		defer sched.Close()
		produced <- a.produce(prodCtx, sched, completed, breaker, &halted, &exhausted)
	}()

	var writeErr error
	for res := range sched.Results() {
		if err := a.record(res); err != nil && writeErr == nil {
			writeErr = err
			stopAdmission(err)
			log.Error("annotate: ledger write failed, stopping admission", zap.Error(err))
		}
		if breaker != nil {
			breaker.Record(breakerOutcome(res))
		}
	}
	prodErr := <-produced

	sst := sched.Stats()
	stats := AnnotateStats{
		AlreadyCompleted: a.alreadyCompleted.Load(),
		Retrying:         retrying,
		Duplicates:       a.duplicates.Load(),
		Submitted:        a.submitted.Load(),
		Succeeded:        a.succeeded.Load(),
		Failed:           a.failed.Load(),
		Expired:          sst.Expired,
		Peak:             sst.Peak,
		Halted:           halted.Load(),
		BudgetExhausted:  exhausted.Load(),
	}
	log.Info("annotate: finished",
		zap.Int64("submitted", stats.Submitted),
		zap.Int64("succeeded", stats.Succeeded),
		zap.Int64("failed", stats.Failed),
		zap.Int64("expired", stats.Expired),
		zap.Int64("peak_in_flight", stats.Peak),
		zap.Bool("halted", stats.Halted),
		zap.Bool("budget_exhausted", stats.BudgetExhausted),
	)

	switch {
	case writeErr != nil:
		return stats, writeErr
	case prodErr != nil:
		return stats, prodErr
	case stats.BudgetExhausted:
		return stats, ErrBudgetExhausted
	case stats.Halted:
		return stats, eris.Wrapf(resilience.ErrCircuitOpen, "pipeline: halted after %d consecutive transient failures", a.cfg.HaltAfterFailures)
	case ctx.Err() != nil:
		return stats, ctx.Err()
	}
	return stats, nil
}

// replay builds the completed set from both outcome ledgers. retrying counts
// transient failures left out of the set.
func (a *Annotation) replay(ctx context.Context) (ledger.Set, int64, error) {
	completed := ledger.Set{}
	if err := completed.Add(a.ledgers.Success.Identities(ctx)); err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: replay success ledger")
	}

	transient := ledger.Set{}
	for f, err := range a.ledgers.Failure.Scan(ctx) {
		if err != nil {
			return nil, 0, eris.Wrap(err, "pipeline: replay failure ledger")
		}
		id, ok := f.Subject()
		if !ok {
			continue
		}
		if a.cfg.RetryTransient && f.Transient {
			transient[id] = struct{}{}
			continue
		}
		completed[id] = struct{}{}
	}

	var retrying int64
	for id := range transient {
		if !completed.Has(id) {
			retrying++
		}
	}
	return completed, retrying, nil
}

// produce streams the candidate ledger into the scheduler, skipping
// identities already attempted in earlier runs or queued in this one.
func (a *Annotation) produce(ctx context.Context, sched *scheduler.Scheduler[model.Result], completed ledger.Set, breaker *resilience.Breaker, halted, exhausted *atomic.Bool) error {
	queued := ledger.Set{}
	for c, err := range a.ledgers.Candidates.Scan(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return eris.Wrap(err, "pipeline: scan candidates")
		}

		id := c.Identity()
		if completed.Has(id) {
			a.alreadyCompleted.Add(1)
			continue
		}
		if queued.Has(id) {
			a.duplicates.Add(1)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if a.cfg.Limit > 0 && a.submitted.Load() >= int64(a.cfg.Limit) {
			return nil
		}
		if breaker != nil && breaker.Allow() != nil {
			halted.Store(true)
			return nil
		}
		if a.cfg.Budget != nil && a.cfg.Budget.Exceeded() {
			exhausted.Store(true)
			return nil
		}

		if err := sched.Submit(ctx, a.task(c)); err != nil {
			if errors.Is(err, scheduler.ErrNotAdmitted) {
				return nil
			}
			return eris.Wrap(err, "pipeline: submit")
		}
		queued[id] = struct{}{}
		a.submitted.Add(1)
	}
	return nil
}

func (a *Annotation) task(c model.Candidate) scheduler.Task[model.Result] {
	return scheduler.Task[model.Result]{
		Run: func(ctx context.Context) model.Result {
			return a.ann.Annotate(ctx, c)
		},
		Expired: func(err error) model.Result {
			if e, ok := a.ann.(expirer); ok {
				return e.TransportFailure(c, err)
			}
			return model.Result{Failure: &model.Failure{
				Error:     "remote call failed: " + err.Error(),
				Kind:      model.FailureTransport,
				Transient: true,
				Ex:        &c,
				RunID:     a.cfg.RunID,
				FailedAt:  time.Now().UTC(),
			}}
		},
	}
}

// record appends one outcome to its ledger.
func (a *Annotation) record(res model.Result) error {
	switch {
	case res.Success != nil:
		if err := a.ledgers.Success.Append(*res.Success); err != nil {
			return eris.Wrap(err, "pipeline: append success")
		}
		a.succeeded.Add(1)
		metrics.RecordAnnotation(true, "")
	case res.Failure != nil:
		if err := a.ledgers.Failure.Append(*res.Failure); err != nil {
			return eris.Wrap(err, "pipeline: append failure")
		}
		a.failed.Add(1)
		metrics.RecordAnnotation(false, string(res.Failure.Kind))
		zap.L().Debug("annotate: failure recorded",
			zap.String("identity", string(res.Identity())),
			zap.String("kind", string(res.Failure.Kind)),
			zap.String("error", res.Failure.Error),
		)
	default:
		return eris.New("pipeline: empty annotation result")
	}
	return nil
}

// breakerOutcome maps a result onto the error the breaker counts.
func breakerOutcome(res model.Result) error {
	if res.Failure == nil || !res.Failure.Transient {
		return nil
	}
	return resilience.NewTransientError(errors.New(res.Failure.Error), 0)
}
