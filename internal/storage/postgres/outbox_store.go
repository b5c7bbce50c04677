package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hbkim/storecrawl/internal/outbox"
	"github.com/hbkim/storecrawl/internal/task"
)

const outboxColumns = `id, task_id, task_type, idempotency_key, payload, status, retry_count, last_error, created_at, processed_at, version`

// OutboxStore implements outbox.Store on Postgres. Every mutation is guarded
// by the row's version and expected status; zero rows affected means a
// concurrent instance already moved the row.
type OutboxStore struct {
	pool db
}

// NewOutboxStore builds an OutboxStore on an existing pool.
func NewOutboxStore(pool db) (*OutboxStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &OutboxStore{pool: pool}, nil
}

// CreateMessage inserts one outbox row.
func (s *OutboxStore) CreateMessage(ctx context.Context, m outbox.Message) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO task_outbox (`+outboxColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.TaskID, string(m.TaskType), m.IdempotencyKey, m.Payload,
		string(m.Status), m.RetryCount, m.LastError, m.CreatedAt, m.ProcessedAt, m.Version,
	)
	if err != nil {
		return fmt.Errorf("insert outbox row: %w", err)
	}
	return nil
}

// GetMessage fetches one outbox row by ID.
func (s *OutboxStore) GetMessage(ctx context.Context, id string) (outbox.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+outboxColumns+` FROM task_outbox WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		return outbox.Message{}, fmt.Errorf("select outbox row %s: %w", id, err)
	}
	return m, nil
}

// SelectPending returns PENDING rows, oldest created first.
func (s *OutboxStore) SelectPending(ctx context.Context, limit int) ([]outbox.Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+outboxColumns+` FROM task_outbox
WHERE status = 'PENDING'
ORDER BY created_at ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending outbox rows: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SelectProcessingBefore returns PROCESSING rows claimed before the cutoff.
func (s *OutboxStore) SelectProcessingBefore(ctx context.Context, cutoff time.Time, limit int) ([]outbox.Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+outboxColumns+` FROM task_outbox
WHERE status = 'PROCESSING' AND processed_at < $1
ORDER BY processed_at ASC
LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select timed-out outbox rows: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SelectFailedBefore returns FAILED rows older than the cutoff with retry
// budget below maxRetry.
func (s *OutboxStore) SelectFailedBefore(ctx context.Context, cutoff time.Time, maxRetry int, limit int) ([]outbox.Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+outboxColumns+` FROM task_outbox
WHERE status = 'FAILED' AND processed_at < $1 AND retry_count < $2
ORDER BY processed_at ASC
LIMIT $3`, cutoff, maxRetry, limit)
	if err != nil {
		return nil, fmt.Errorf("select retryable failed outbox rows: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *OutboxStore) cas(ctx context.Context, query string, args ...any) (bool, error) {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Claim transitions PENDING to PROCESSING, stamping the claim time.
func (s *OutboxStore) Claim(ctx context.Context, m outbox.Message, now time.Time) (bool, error) {
	ok, err := s.cas(ctx, `
UPDATE task_outbox
SET status = 'PROCESSING', processed_at = $3, version = version + 1
WHERE id = $1 AND status = 'PENDING' AND version = $2`, m.ID, m.Version, now)
	if err != nil {
		return false, fmt.Errorf("claim outbox row: %w", err)
	}
	return ok, nil
}

// MarkSent transitions PROCESSING to SENT.
func (s *OutboxStore) MarkSent(ctx context.Context, m outbox.Message, now time.Time) (bool, error) {
	ok, err := s.cas(ctx, `
UPDATE task_outbox
SET status = 'SENT', processed_at = $3, version = version + 1
WHERE id = $1 AND status = 'PROCESSING' AND version = $2`, m.ID, m.Version, now)
	if err != nil {
		return false, fmt.Errorf("mark outbox row sent: %w", err)
	}
	return ok, nil
}

// MarkFailed transitions PROCESSING to FAILED, incrementing the retry count
// and recording the delivery error.
func (s *OutboxStore) MarkFailed(ctx context.Context, m outbox.Message, deliveryErr string, now time.Time) (bool, error) {
	ok, err := s.cas(ctx, `
UPDATE task_outbox
SET status = 'FAILED', retry_count = retry_count + 1, last_error = $4, processed_at = $3, version = version + 1
WHERE id = $1 AND status = 'PROCESSING' AND version = $2`, m.ID, m.Version, now, deliveryErr)
	if err != nil {
		return false, fmt.Errorf("mark outbox row failed: %w", err)
	}
	return ok, nil
}

// ResetToPending moves a PROCESSING or FAILED row back to PENDING, leaving
// the retry count untouched.
func (s *OutboxStore) ResetToPending(ctx context.Context, m outbox.Message) (bool, error) {
	ok, err := s.cas(ctx, `
UPDATE task_outbox
SET status = 'PENDING', processed_at = NULL, version = version + 1
WHERE id = $1 AND status IN ('PROCESSING','FAILED') AND version = $2`, m.ID, m.Version)
	if err != nil {
		return false, fmt.Errorf("reset outbox row to pending: %w", err)
	}
	return ok, nil
}

func scanMessage(row rowScanner) (outbox.Message, error) {
	var (
		m        outbox.Message
		taskType string
		status   string
	)
	if err := row.Scan(
		&m.ID, &m.TaskID, &taskType, &m.IdempotencyKey, &m.Payload,
		&status, &m.RetryCount, &m.LastError, &m.CreatedAt, &m.ProcessedAt, &m.Version,
	); err != nil {
		return outbox.Message{}, err
	}
	m.TaskType = task.Type(taskType)
	m.Status = outbox.Status(status)
	return m, nil
}

func scanMessages(rows pgx.Rows) ([]outbox.Message, error) {
	var out []outbox.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return out, nil
}
