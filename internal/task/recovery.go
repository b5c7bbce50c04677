package task

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hbkim/storecrawl/internal/batch"
)

// RecovererConfig tunes the task recovery sweeps.
type RecovererConfig struct {
	// BatchSize bounds the rows touched per pass.
	BatchSize int
	// StuckTimeout is how long a RUNNING task may go without an update
	// before it is considered abandoned by a crashed worker.
	StuckTimeout time.Duration
	// FailedDelay is how long a FAILED task rests before it is eligible for
	// another attempt.
	FailedDelay time.Duration
	// MaxRetry is the task retry budget. A task at or over it never runs
	// again.
	MaxRetry int
}

// Recoverer repairs tasks stranded in intermediate states. All of its sweeps
// select by (status, age) and update conditionally, so overlapping runs
// across instances only affect rows still matching at update time.
type Recoverer struct {
	store  Store
	clock  Clock
	cfg    RecovererConfig
	logger *zap.Logger
}

// NewRecoverer builds a Recoverer.
func NewRecoverer(store Store, clock Clock, cfg RecovererConfig, logger *zap.Logger) *Recoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recoverer{store: store, clock: clock, cfg: cfg, logger: logger}
}

// RecoverStuck finds RUNNING tasks whose last update is older than the stuck
// timeout. Tasks with retry budget left go to RETRY; exhausted ones are
// failed terminally.
func (r *Recoverer) RecoverStuck(ctx context.Context) (batch.Result, error) {
	cutoff := r.clock.Now().Add(-r.cfg.StuckTimeout)
	stuck, err := r.store.SelectStuck(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return batch.Result{}, fmt.Errorf("select stuck tasks: %w", err)
	}

	result := batch.Result{Total: len(stuck)}
	for _, t := range stuck {
		if t.CanRetry(r.cfg.MaxRetry) {
			ok, err := r.store.MarkRetry(ctx, t.ID, StatusRunning, r.clock.Now())
			if err != nil {
				result.Failed++
				r.logger.Error("reset stuck task failed", zap.String("task_id", t.ID), zap.Error(err))
				continue
			}
			if ok {
				result.Succeeded++
			}
			continue
		}

		ok, err := r.store.FailStuck(ctx, t.ID, "stuck in RUNNING beyond timeout, retry budget exhausted", r.clock.Now())
		if err != nil {
			result.Failed++
			r.logger.Error("fail stuck task failed", zap.String("task_id", t.ID), zap.Error(err))
			continue
		}
		if ok {
			result.Succeeded++
			r.logger.Warn("stuck task failed permanently",
				zap.String("task_id", t.ID),
				zap.Int("retry_count", t.RetryCount),
			)
		}
	}
	return result, nil
}

// RecoverFailed brings FAILED tasks with remaining retry budget back to
// RETRY once their rest delay has elapsed. Tasks over budget stay FAILED and
// are the operator-visible poison rows.
func (r *Recoverer) RecoverFailed(ctx context.Context) (batch.Result, error) {
	cutoff := r.clock.Now().Add(-r.cfg.FailedDelay)
	failed, err := r.store.SelectRetryableFailed(ctx, cutoff, r.cfg.MaxRetry, r.cfg.BatchSize)
	if err != nil {
		return batch.Result{}, fmt.Errorf("select retryable failed tasks: %w", err)
	}

	result := batch.Result{Total: len(failed)}
	for _, t := range failed {
		ok, err := r.store.MarkRetry(ctx, t.ID, StatusFailed, r.clock.Now())
		if err != nil {
			result.Failed++
			r.logger.Error("reset failed task failed", zap.String("task_id", t.ID), zap.Error(err))
			continue
		}
		if ok {
			result.Succeeded++
		}
	}
	return result, nil
}

// Requeue re-enters RETRY tasks into the waiting pipeline: each gets a fresh
// outbox row and moves back to WAITING in one transaction. A crash between
// MarkRetry and Requeue leaves the task in RETRY, which the next pass picks
// up again.
func (r *Recoverer) Requeue(ctx context.Context) (batch.Result, error) {
	retrying, err := r.store.SelectRetry(ctx, r.cfg.BatchSize)
	if err != nil {
		return batch.Result{}, fmt.Errorf("select retry tasks: %w", err)
	}

	result := batch.Result{Total: len(retrying)}
	for _, t := range retrying {
		ok, err := r.store.Requeue(ctx, t, r.clock.Now())
		if err != nil {
			result.Failed++
			r.logger.Error("requeue task failed", zap.String("task_id", t.ID), zap.Error(err))
			continue
		}
		if ok {
			result.Succeeded++
		}
	}
	return result, nil
}

// Run executes the full task repair pass: stuck detection, failed-retry
// reset, then requeue of everything parked in RETRY.
func (r *Recoverer) Run(ctx context.Context) (batch.Result, error) {
	var total batch.Result

	stuck, err := r.RecoverStuck(ctx)
	total.Add(stuck)
	if err != nil {
		return total, err
	}

	failed, err := r.RecoverFailed(ctx)
	total.Add(failed)
	if err != nil {
		return total, err
	}

	requeued, err := r.Requeue(ctx)
	total.Add(requeued)
	if err != nil {
		return total, err
	}
	return total, nil
}
