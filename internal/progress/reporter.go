// Package progress logs periodic status lines for long-running stages.
package progress

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Snapshot returns the fields describing current progress. It is called
// from the reporter goroutine and must be safe for concurrent use.
type Snapshot func() []zap.Field

// Reporter logs a snapshot every interval until its context ends.
type Reporter struct {
	component string
	interval  time.Duration
	snapshot  Snapshot
	logger    *zap.Logger
}

// NewReporter creates a reporter. A non-positive interval defaults to 10s.
func NewReporter(component string, interval time.Duration, snapshot Snapshot) *Reporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reporter{
		component: component,
		interval:  interval,
		snapshot:  snapshot,
		logger:    zap.L(),
	}
}

// Run blocks until ctx is cancelled, then logs one final snapshot.
func (r *Reporter) Run(ctx context.Context) {
	log := r.logger.With(zap.String("component", r.component))
	start := time.Now()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("progress final", r.fields(start)...)
			return
		case <-ticker.C:
			log.Info("progress", r.fields(start)...)
		}
	}
}

func (r *Reporter) fields(start time.Time) []zap.Field {
	return append(r.snapshot(), zap.Duration("elapsed", time.Since(start).Round(time.Second)))
}

// Start runs the reporter on its own goroutine and returns a stop function
// that waits for the final snapshot.
func (r *Reporter) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}
