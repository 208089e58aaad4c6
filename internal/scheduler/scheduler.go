// Package scheduler runs units of work with a hard ceiling on how many are
// unresolved at once, delivering outcomes on a completion channel in the
// order they finish.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrNotAdmitted is returned by Submit when the unit was not started because
// the context ended or the scheduler was closed.
var ErrNotAdmitted = eris.New("scheduler: unit not admitted")

// ErrUnitTimeout is passed to Task.Expired when a unit overruns its timeout.
var ErrUnitTimeout = eris.New("scheduler: unit timed out")

// Task is one unit of work.
type Task[T any] struct {
	// Run performs the work. Its context carries the per-unit deadline but
	// is detached from the submitter's cancellation.
	Run func(ctx context.Context) T
	// Expired builds the outcome for a unit whose Run did not return before
	// the deadline. The late Run result is discarded.
	Expired func(err error) T
}

// Observer receives lifecycle events, e.g. for metrics.
type Observer interface {
	Admitted(inFlight int64)
	Resolved(inFlight int64, elapsed time.Duration, expired bool)
}

// Config configures a Scheduler.
type Config struct {
	// Concurrency is the maximum number of unresolved units. Required.
	Concurrency int
	// Timeout bounds each unit. Zero means no per-unit deadline.
	Timeout time.Duration
	// RatePerMinute additionally paces admissions. Zero disables pacing.
	RatePerMinute int
	// Observer is optional.
	Observer Observer
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	InFlight  int64
	Peak      int64
	Admitted  int64
	Completed int64
	Expired   int64
}

// Scheduler admits at most Concurrency units at a time.
type Scheduler[T any] struct {
	cfg     Config
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	results chan T

	mu        sync.Mutex // orders wg.Add against Close
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}

	inFlight  atomic.Int64
	peak      atomic.Int64
	admitted  atomic.Int64
	completed atomic.Int64
	expired   atomic.Int64
}

// New returns a Scheduler. It fails if the concurrency ceiling is not
// positive.
func New[T any](cfg Config) (*Scheduler[T], error) {
	if cfg.Concurrency <= 0 {
		return nil, eris.Errorf("scheduler: concurrency must be positive, got %d", cfg.Concurrency)
	}
	if cfg.Timeout < 0 {
		return nil, eris.Errorf("scheduler: negative timeout %s", cfg.Timeout)
	}
	s := &Scheduler[T]{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		results: make(chan T, cfg.Concurrency),
		closed:  make(chan struct{}),
	}
	if cfg.RatePerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), 1)
	}
	return s, nil
}

// Submit blocks until a slot is free, then starts task on its own goroutine.
// It returns ErrNotAdmitted if ctx ends or Close was called first. Units
// already running are never interrupted by ctx.
func (s *Scheduler[T]) Submit(ctx context.Context, task Task[T]) error {
	select {
	case <-s.closed:
		return ErrNotAdmitted
	default:
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return eris.Wrap(ErrNotAdmitted, err.Error())
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.sem.Release(1)
			return eris.Wrap(ErrNotAdmitted, err.Error())
		}
	}
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		s.sem.Release(1)
		return ErrNotAdmitted
	default:
	}
	s.wg.Add(1)
	s.mu.Unlock()

	n := s.inFlight.Add(1)
	s.bumpPeak(n)
	s.admitted.Add(1)
	if s.cfg.Observer != nil {
		s.cfg.Observer.Admitted(n)
	}

	go s.run(context.WithoutCancel(ctx), task)
	return nil
}

func (s *Scheduler[T]) run(ctx context.Context, task Task[T]) {
	defer s.wg.Done()
	defer s.sem.Release(1)

	start := time.Now()
	out, expired := s.execute(ctx, task)

	n := s.inFlight.Add(-1)
	s.completed.Add(1)
	if expired {
		s.expired.Add(1)
	}
	if s.cfg.Observer != nil {
		s.cfg.Observer.Resolved(n, time.Since(start), expired)
	}

	s.results <- out
}

// execute runs the task under its deadline. If the deadline passes first the
// unit resolves through Expired while Run finishes in the background.
func (s *Scheduler[T]) execute(ctx context.Context, task Task[T]) (T, bool) {
	if s.cfg.Timeout <= 0 {
		return task.Run(ctx), false
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	done := make(chan T, 1)
	go func() { done <- task.Run(ctx) }()

	select {
	case out := <-done:
		return out, false
	case <-ctx.Done():
		// A Run that honours its context may have finished right at the
		// deadline; prefer its own outcome.
		select {
		case out := <-done:
			return out, false
		default:
		}
		err := eris.Wrapf(ErrUnitTimeout, "scheduler: exceeded %s", s.cfg.Timeout)
		if task.Expired != nil {
			return task.Expired(err), true
		}
		var zero T
		return zero, true
	}
}

func (s *Scheduler[T]) bumpPeak(n int64) {
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// Results returns the completion channel. It is closed by Close once every
// admitted unit has delivered its outcome. The consumer must keep draining
// it or admitted units block on delivery.
func (s *Scheduler[T]) Results() <-chan T {
	return s.results
}

// Close stops admission, waits for in-flight units, and closes Results.
// It is safe to call more than once.
func (s *Scheduler[T]) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		s.mu.Unlock()
		s.wg.Wait()
		close(s.results)
	})
}

// Stats returns a snapshot of the counters.
func (s *Scheduler[T]) Stats() Stats {
	return Stats{
		InFlight:  s.inFlight.Load(),
		Peak:      s.peak.Load(),
		Admitted:  s.admitted.Load(),
		Completed: s.completed.Load(),
		Expired:   s.expired.Load(),
	}
}
