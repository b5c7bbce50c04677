package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hbkim/storecrawl/internal/batch"
	"github.com/hbkim/storecrawl/internal/task"
)

// AttrIdempotencyKey is the message attribute carrying the deduplication key.
const AttrIdempotencyKey = "idempotency_key"

// AttrTaskType is the message attribute carrying the task type.
const AttrTaskType = "task_type"

// QueuePublisher delivers one payload to the message queue.
type QueuePublisher interface {
	Publish(ctx context.Context, topic string, payload []byte, attributes map[string]string) (string, error)
}

// TaskMarker updates the owning task once its notification is durably
// queued. A nil TaskMarker disables the bookkeeping.
type TaskMarker interface {
	MarkPublished(ctx context.Context, id string, now time.Time) (bool, error)
}

// PublisherConfig tunes one publisher pass.
type PublisherConfig struct {
	Topic     string
	BatchSize int
}

// Publisher drains PENDING outbox rows to the message queue. Multiple
// instances may run concurrently: each row is claimed with a version-guarded
// conditional update and a lost claim is skipped, not retried in the same
// pass.
type Publisher struct {
	store  Store
	queue  QueuePublisher
	tasks  TaskMarker
	clock  task.Clock
	cfg    PublisherConfig
	logger *zap.Logger
}

// NewPublisher builds a Publisher.
func NewPublisher(
	store Store,
	queue QueuePublisher,
	tasks TaskMarker,
	clock task.Clock,
	cfg PublisherConfig,
	logger *zap.Logger,
) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		store:  store,
		queue:  queue,
		tasks:  tasks,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// PublishPending runs one publisher pass over at most BatchSize PENDING rows,
// oldest first.
func (p *Publisher) PublishPending(ctx context.Context) (batch.Result, error) {
	pending, err := p.store.SelectPending(ctx, p.cfg.BatchSize)
	if err != nil {
		return batch.Result{}, fmt.Errorf("select pending outbox rows: %w", err)
	}

	result := batch.Result{Total: len(pending)}
	for _, m := range pending {
		claimed, err := p.store.Claim(ctx, m, p.clock.Now())
		if err != nil {
			result.Failed++
			p.logger.Error("claim outbox row failed", zap.String("outbox_id", m.ID), zap.Error(err))
			continue
		}
		if !claimed {
			// Another publisher got there first.
			p.logger.Debug("outbox row already claimed", zap.String("outbox_id", m.ID))
			continue
		}
		m.Status = StatusProcessing
		m.Version++

		if p.deliver(ctx, m) {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// deliver publishes one claimed row and settles it to SENT or FAILED.
func (p *Publisher) deliver(ctx context.Context, m Message) bool {
	attrs := map[string]string{
		AttrIdempotencyKey: m.IdempotencyKey,
		AttrTaskType:       string(m.TaskType),
	}
	msgID, err := p.queue.Publish(ctx, p.cfg.Topic, m.Payload, attrs)
	if err != nil {
		if _, markErr := p.store.MarkFailed(ctx, m, err.Error(), p.clock.Now()); markErr != nil {
			p.logger.Error("mark outbox row failed errored",
				zap.String("outbox_id", m.ID),
				zap.NamedError("mark_error", markErr),
				zap.Error(err),
			)
		}
		p.logger.Warn("outbox delivery failed",
			zap.String("outbox_id", m.ID),
			zap.String("task_id", m.TaskID),
			zap.Error(err),
		)
		return false
	}

	now := p.clock.Now()
	if _, err := p.store.MarkSent(ctx, m, now); err != nil {
		// The message is out but the row is still PROCESSING; the timeout
		// sweep will reset it and the consumer deduplicates the redelivery.
		p.logger.Error("mark outbox row sent failed",
			zap.String("outbox_id", m.ID),
			zap.Error(err),
		)
		return false
	}

	if p.tasks != nil {
		if _, err := p.tasks.MarkPublished(ctx, m.TaskID, now); err != nil {
			p.logger.Warn("mark task published failed",
				zap.String("task_id", m.TaskID),
				zap.Error(err),
			)
		}
	}

	p.logger.Debug("outbox row delivered",
		zap.String("outbox_id", m.ID),
		zap.String("task_id", m.TaskID),
		zap.String("message_id", msgID),
	)
	return true
}
