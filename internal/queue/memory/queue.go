// Package memory provides a bounded in-memory task queue for single-process
// mode. It doubles as the outbox queue publisher so the outbox drains
// straight into the local worker pool.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hbkim/storecrawl/internal/outbox"
	"github.com/hbkim/storecrawl/internal/queue"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan queue.Envelope
	closeMu sync.Mutex
	closed  bool
	seq     int
	seqMu   sync.Mutex
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan queue.Envelope, capacity),
	}
}

// Enqueue pushes an envelope or returns when the context ends.
func (q *Queue) Enqueue(ctx context.Context, env queue.Envelope) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- env:
		return nil
	}
}

// Dequeue pops the next envelope, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (queue.Envelope, error) {
	select {
	case <-ctx.Done():
		return queue.Envelope{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case env, ok := <-q.ch:
		if !ok {
			return queue.Envelope{}, queue.ErrClosed
		}
		return env, nil
	}
}

// Publish implements the outbox queue publisher by decoding the outbox
// payload and enqueueing it for the local workers.
func (q *Queue) Publish(ctx context.Context, _ string, payload []byte, attributes map[string]string) (string, error) {
	var env queue.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", fmt.Errorf("decode outbox payload: %w", err)
	}
	env.IdempotencyKey = attributes[outbox.AttrIdempotencyKey]
	if err := q.Enqueue(ctx, env); err != nil {
		return "", err
	}
	q.seqMu.Lock()
	q.seq++
	id := fmt.Sprintf("local-%d", q.seq)
	q.seqMu.Unlock()
	return id, nil
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
