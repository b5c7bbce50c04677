// Package worker implements the task execution loop.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hbkim/storecrawl/internal/metrics"
	"github.com/hbkim/storecrawl/internal/queue"
)

// Executor runs one task end to end. The orchestrator satisfies this.
type Executor interface {
	Execute(ctx context.Context, taskID string) error
}

// Config controls Worker behavior.
type Config struct {
	Concurrency int
}

// Worker consumes task envelopes and drives them through the executor.
type Worker struct {
	queue    queue.TaskQueue
	executor Executor
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(q queue.TaskQueue, executor Executor, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{
		queue:    q,
		executor: executor,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming envelopes until the context finishes. It spawns
// cfg.Concurrency consumer goroutines and waits for all of them to drain.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) consume(ctx context.Context) {
	for {
		env, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task",
			zap.String("task_id", env.TaskID),
			zap.String("task_type", env.TaskType),
			zap.String("idempotency_key", env.IdempotencyKey),
		)
		w.execute(ctx, env)
	}
}

func (w *Worker) execute(ctx context.Context, env queue.Envelope) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	outcome := "success"
	if err := w.executor.Execute(ctx, env.TaskID); err != nil {
		outcome = "failure"
		w.logger.Error("task execution failed",
			zap.String("task_id", env.TaskID),
			zap.String("task_type", env.TaskType),
			zap.Error(err),
		)
	}
	metrics.ObserveTask(env.TaskType, outcome, time.Since(start))
}
