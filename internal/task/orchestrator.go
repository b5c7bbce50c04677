package task

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Orchestrator dispatches a task to the strategy for its type and wraps
// execution in the RUNNING/COMPLETED/FAILED bookkeeping. It is safe to call
// concurrently from multiple workers: the RUNNING claim is a conditional
// update, and a lost claim means another worker already has the task.
type Orchestrator struct {
	store      Store
	strategies map[Type]Strategy
	clock      Clock
	logger     *zap.Logger
}

// NewOrchestrator builds an Orchestrator from the given strategy set.
func NewOrchestrator(store Store, clock Clock, logger *zap.Logger, strategies ...Strategy) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	byType := make(map[Type]Strategy, len(strategies))
	for _, s := range strategies {
		byType[s.Type()] = s
	}
	return &Orchestrator{
		store:      store,
		strategies: byType,
		clock:      clock,
		logger:     logger,
	}
}

// Execute runs the task with the given ID through its strategy. Failures are
// recorded on the task and returned so the invoking job's counters see them;
// a lost RUNNING claim is not an error.
func (o *Orchestrator) Execute(ctx context.Context, taskID string) error {
	t, err := o.store.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	claimed, err := o.store.MarkRunning(ctx, t.ID, o.clock.Now())
	if err != nil {
		return fmt.Errorf("mark task %s running: %w", t.ID, err)
	}
	if !claimed {
		o.logger.Debug("task already claimed or terminal, skipping",
			zap.String("task_id", t.ID),
			zap.String("status", string(t.Status)),
		)
		return nil
	}

	strategy, ok := o.strategies[t.Type]
	if !ok {
		return o.fail(ctx, t, fmt.Errorf("no strategy registered for task type %s", t.Type))
	}

	if err := strategy.Execute(ctx, t); err != nil {
		return o.fail(ctx, t, err)
	}

	if _, err := o.store.Complete(ctx, t.ID, o.clock.Now()); err != nil {
		return fmt.Errorf("mark task %s completed: %w", t.ID, err)
	}
	o.logger.Info("task completed",
		zap.String("task_id", t.ID),
		zap.String("task_type", string(t.Type)),
		zap.Int64("seller_id", t.SellerID),
	)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, t Task, execErr error) error {
	if _, err := o.store.Fail(ctx, t.ID, execErr.Error(), o.clock.Now()); err != nil {
		o.logger.Error("recording task failure failed",
			zap.String("task_id", t.ID),
			zap.Error(err),
		)
	}
	o.logger.Warn("task failed",
		zap.String("task_id", t.ID),
		zap.String("task_type", string(t.Type)),
		zap.Error(execErr),
	)
	return fmt.Errorf("execute %s task %s: %w", t.Type, t.ID, execErr)
}
