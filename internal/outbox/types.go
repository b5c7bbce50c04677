// Package outbox implements the transactional outbox: one row per task
// requiring downstream notification, written in the same transaction as the
// task, drained by a scheduled publisher, and repaired by recovery sweeps.
package outbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hbkim/storecrawl/internal/task"
)

// Status represents the delivery state of an outbox row.
type Status string

// Outbox status values. The forward path is PENDING -> PROCESSING ->
// {SENT, FAILED}; recovery sweeps may move PROCESSING or FAILED back to
// PENDING, never directly to SENT.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
)

// Message is one outbox row.
type Message struct {
	ID             string     `json:"id"`
	TaskID         string     `json:"task_id"`
	TaskType       task.Type  `json:"task_type"`
	IdempotencyKey string     `json:"idempotency_key"`
	Payload        []byte     `json:"payload"`
	Status         Status     `json:"status"`
	RetryCount     int        `json:"retry_count"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
	// Version is the optimistic-concurrency token, incremented on every
	// status transition. All updates compare-and-swap on it.
	Version int64 `json:"version"`
}

// payload is the message body delivered to consumers.
type payload struct {
	TaskID   string    `json:"task_id"`
	TaskType task.Type `json:"task_type"`
	SellerID int64     `json:"seller_id"`
	Target   string    `json:"target_url"`
}

// IdempotencyKey derives the deterministic deduplication key for a task
// notification. Redeliveries of the same task carry the same key, so
// consumers can discard duplicates.
func IdempotencyKey(taskID string, taskType task.Type) string {
	sum := sha256.Sum256([]byte(taskID + ":" + string(taskType)))
	return hex.EncodeToString(sum[:])
}

// NewMessage builds a PENDING outbox row for the given task. The caller is
// responsible for persisting it in the same transaction as the task itself.
func NewMessage(id string, t task.Task, now time.Time) (Message, error) {
	if id == "" {
		return Message{}, fmt.Errorf("outbox id is required")
	}
	if t.ID == "" {
		return Message{}, fmt.Errorf("task id is required")
	}
	body, err := json.Marshal(payload{
		TaskID:   t.ID,
		TaskType: t.Type,
		SellerID: t.SellerID,
		Target:   t.Target.URL,
	})
	if err != nil {
		return Message{}, fmt.Errorf("marshal outbox payload: %w", err)
	}
	return Message{
		ID:             id,
		TaskID:         t.ID,
		TaskType:       t.Type,
		IdempotencyKey: IdempotencyKey(t.ID, t.Type),
		Payload:        body,
		Status:         StatusPending,
		CreatedAt:      now,
		Version:        1,
	}, nil
}
