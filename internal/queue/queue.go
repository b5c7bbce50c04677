// Package queue defines the task message queue consumed by workers.
package queue

import (
	"context"
	"errors"
)

// ErrClosed reports that the queue has shut down and no more envelopes will
// arrive.
var ErrClosed = errors.New("queue closed")

// Envelope is one task notification as seen by a worker.
type Envelope struct {
	TaskID         string `json:"task_id"`
	TaskType       string `json:"task_type"`
	IdempotencyKey string `json:"-"`
}

// TaskQueue provides dequeue semantics for task notifications.
type TaskQueue interface {
	Dequeue(ctx context.Context) (Envelope, error)
}
