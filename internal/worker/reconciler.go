package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assess-api/internal/service"
)

// Reconciler re-enqueues PENDING jobs that sat untouched for too long. It covers the window
// between a job row committing and its message reaching the queue.
type Reconciler struct {
	jobs         service.JobService
	interval     time.Duration
	pendingAfter time.Duration
	logger       zerolog.Logger
}

// NewReconciler constructs a reconciler.
func NewReconciler(jobs service.JobService, interval, pendingAfter time.Duration, logger zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if pendingAfter <= 0 {
		pendingAfter = 5 * time.Minute
	}

	return &Reconciler{
		jobs:         jobs,
		interval:     interval,
		pendingAfter: pendingAfter,
		logger:       logger.With().Str("component", "job_reconciler").Logger(),
	}
}

// Sweep enqueues every stale PENDING job and reports how many messages were new.
// Jobs still live in the queue are left alone by its idempotency key.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	stale, err := r.jobs.ListStalePending(ctx, r.pendingAfter)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, job := range stale {
		created, err := r.jobs.Enqueue(ctx, job)
		if err != nil {
			return requeued, err
		}
		if created {
			requeued++
			r.logger.Warn().Str("job_id", job.ID).Str("job_type", string(job.Type)).Msg("requeued stale pending job")
		}
	}
	return requeued, nil
}

// Run sweeps immediately and then on every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("pending job sweep failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
