package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hbkim/storecrawl/internal/batch"
	"github.com/hbkim/storecrawl/internal/task"
)

// TimeoutRecovererConfig tunes the PROCESSING timeout sweep.
type TimeoutRecovererConfig struct {
	BatchSize int
	// Timeout is how long a row may sit in PROCESSING before its claimer is
	// presumed dead.
	Timeout time.Duration
}

// TimeoutRecoverer resets PROCESSING rows whose claim has outlived the
// timeout back to PENDING. This is crash repair, not a delivery failure, so
// the retry count is left untouched.
type TimeoutRecoverer struct {
	store  Store
	clock  task.Clock
	cfg    TimeoutRecovererConfig
	logger *zap.Logger
}

// NewTimeoutRecoverer builds a TimeoutRecoverer.
func NewTimeoutRecoverer(store Store, clock task.Clock, cfg TimeoutRecovererConfig, logger *zap.Logger) *TimeoutRecoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimeoutRecoverer{store: store, clock: clock, cfg: cfg, logger: logger}
}

// Run executes one sweep pass.
func (r *TimeoutRecoverer) Run(ctx context.Context) (batch.Result, error) {
	cutoff := r.clock.Now().Add(-r.cfg.Timeout)
	rows, err := r.store.SelectProcessingBefore(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return batch.Result{}, fmt.Errorf("select timed-out outbox rows: %w", err)
	}

	result := batch.Result{Total: len(rows)}
	for _, m := range rows {
		ok, err := r.store.ResetToPending(ctx, m)
		if err != nil {
			result.Failed++
			r.logger.Error("reset timed-out outbox row failed", zap.String("outbox_id", m.ID), zap.Error(err))
			continue
		}
		if ok {
			result.Succeeded++
			r.logger.Info("timed-out outbox row reset to pending",
				zap.String("outbox_id", m.ID),
				zap.String("task_id", m.TaskID),
			)
		}
	}
	return result, nil
}

// FailedRecovererConfig tunes the FAILED retry sweep.
type FailedRecovererConfig struct {
	BatchSize int
	// Delay is how long a FAILED row rests before redelivery is attempted.
	Delay time.Duration
	// MaxRetry is the outbox delivery retry budget; rows at or over it stay
	// FAILED permanently.
	MaxRetry int
}

// FailedRecoverer returns FAILED rows with remaining retry budget to PENDING
// once their rest delay has elapsed. Exhausted rows are the operator-visible
// poison rows.
type FailedRecoverer struct {
	store  Store
	clock  task.Clock
	cfg    FailedRecovererConfig
	logger *zap.Logger
}

// NewFailedRecoverer builds a FailedRecoverer.
func NewFailedRecoverer(store Store, clock task.Clock, cfg FailedRecovererConfig, logger *zap.Logger) *FailedRecoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailedRecoverer{store: store, clock: clock, cfg: cfg, logger: logger}
}

// Run executes one sweep pass.
func (r *FailedRecoverer) Run(ctx context.Context) (batch.Result, error) {
	cutoff := r.clock.Now().Add(-r.cfg.Delay)
	rows, err := r.store.SelectFailedBefore(ctx, cutoff, r.cfg.MaxRetry, r.cfg.BatchSize)
	if err != nil {
		return batch.Result{}, fmt.Errorf("select retryable failed outbox rows: %w", err)
	}

	result := batch.Result{Total: len(rows)}
	for _, m := range rows {
		ok, err := r.store.ResetToPending(ctx, m)
		if err != nil {
			result.Failed++
			r.logger.Error("reset failed outbox row failed", zap.String("outbox_id", m.ID), zap.Error(err))
			continue
		}
		if ok {
			result.Succeeded++
		}
	}
	return result, nil
}
