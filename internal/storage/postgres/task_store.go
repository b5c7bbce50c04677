package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hbkim/storecrawl/internal/outbox"
	"github.com/hbkim/storecrawl/internal/task"
)

const taskColumns = `id, parent_scheduler_id, seller_id, task_type, target, status, retry_count, trigger_type, error_message, created_at, updated_at`

// TaskStore implements task.Store, task.SellerStore, and task.ItemStore on
// Postgres. All status updates are conditional on the expected prior status,
// so concurrent workers and sweeps only affect rows still matching at update
// time.
type TaskStore struct {
	pool db
	ids  task.IDGenerator
}

// NewTaskStore builds a TaskStore on an existing pool. The ID generator
// mints outbox row IDs for CreateBatch and Requeue.
func NewTaskStore(pool db, ids task.IDGenerator) (*TaskStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	return &TaskStore{pool: pool, ids: ids}, nil
}

// Close releases the underlying pool resources.
func (s *TaskStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Create inserts one task.
func (s *TaskStore) Create(ctx context.Context, t task.Task) error {
	target, err := json.Marshal(t.Target)
	if err != nil {
		return fmt.Errorf("marshal task target: %w", err)
	}
	query := `
INSERT INTO tasks (` + taskColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = s.pool.Exec(ctx, query,
		t.ID, t.ParentSchedulerID, t.SellerID, string(t.Type), target,
		string(t.Status), t.RetryCount, string(t.Trigger), t.ErrorMessage,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get fetches one task by ID.
func (s *TaskStore) Get(ctx context.Context, id string) (task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return task.Task{}, fmt.Errorf("select task %s: %w", id, err)
	}
	return t, nil
}

// ListBySeller returns the seller's tasks, newest first.
func (s *TaskStore) ListBySeller(ctx context.Context, sellerID int64, limit int) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE seller_id = $1
ORDER BY created_at DESC
LIMIT $2`, sellerID, limit)
	if err != nil {
		return nil, fmt.Errorf("select tasks by seller: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// CreateBatch inserts the tasks and their PENDING outbox rows in a single
// transaction.
func (s *TaskStore) CreateBatch(ctx context.Context, tasks []task.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create batch: %w", err)
	}
	defer rollback(ctx, tx)

	for _, t := range tasks {
		target, err := json.Marshal(t.Target)
		if err != nil {
			return fmt.Errorf("marshal task target: %w", err)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			t.ID, t.ParentSchedulerID, t.SellerID, string(t.Type), target,
			string(t.Status), t.RetryCount, string(t.Trigger), t.ErrorMessage,
			t.CreatedAt, t.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
		if err := s.insertOutboxRow(ctx, tx, t, t.CreatedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create batch: %w", err)
	}
	return nil
}

func (s *TaskStore) insertOutboxRow(ctx context.Context, tx pgx.Tx, t task.Task, now time.Time) error {
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate outbox id: %w", err)
	}
	m, err := outbox.NewMessage(id, t, now)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO task_outbox (id, task_id, task_type, idempotency_key, payload, status, retry_count, last_error, created_at, processed_at, version)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.TaskID, string(m.TaskType), m.IdempotencyKey, m.Payload,
		string(m.Status), m.RetryCount, m.LastError, m.CreatedAt, m.ProcessedAt, m.Version,
	); err != nil {
		return fmt.Errorf("insert outbox row for task %s: %w", t.ID, err)
	}
	return nil
}

func (s *TaskStore) conditionalUpdate(ctx context.Context, query string, args ...any) (bool, error) {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRunning transitions WAITING or PUBLISHED to RUNNING.
func (s *TaskStore) MarkRunning(ctx context.Context, id string, now time.Time) (bool, error) {
	ok, err := s.conditionalUpdate(ctx, `
UPDATE tasks SET status = 'RUNNING', updated_at = $2
WHERE id = $1 AND status IN ('WAITING','PUBLISHED')`, id, now)
	if err != nil {
		return false, fmt.Errorf("mark task running: %w", err)
	}
	return ok, nil
}

// MarkPublished transitions WAITING to PUBLISHED.
func (s *TaskStore) MarkPublished(ctx context.Context, id string, now time.Time) (bool, error) {
	ok, err := s.conditionalUpdate(ctx, `
UPDATE tasks SET status = 'PUBLISHED', updated_at = $2
WHERE id = $1 AND status = 'WAITING'`, id, now)
	if err != nil {
		return false, fmt.Errorf("mark task published: %w", err)
	}
	return ok, nil
}

// Complete transitions RUNNING to COMPLETED.
func (s *TaskStore) Complete(ctx context.Context, id string, now time.Time) (bool, error) {
	ok, err := s.conditionalUpdate(ctx, `
UPDATE tasks SET status = 'COMPLETED', error_message = '', updated_at = $2
WHERE id = $1 AND status = 'RUNNING'`, id, now)
	if err != nil {
		return false, fmt.Errorf("mark task completed: %w", err)
	}
	return ok, nil
}

// Fail transitions RUNNING to FAILED recording the error message.
func (s *TaskStore) Fail(ctx context.Context, id string, errMsg string, now time.Time) (bool, error) {
	ok, err := s.conditionalUpdate(ctx, `
UPDATE tasks SET status = 'FAILED', error_message = $3, updated_at = $2
WHERE id = $1 AND status = 'RUNNING'`, id, now, errMsg)
	if err != nil {
		return false, fmt.Errorf("mark task failed: %w", err)
	}
	return ok, nil
}

// SelectStuck returns RUNNING tasks not updated since the cutoff.
func (s *TaskStore) SelectStuck(ctx context.Context, cutoff time.Time, limit int) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE status = 'RUNNING' AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select stuck tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// SelectRetryableFailed returns FAILED tasks older than the cutoff with
// retry budget below maxRetry.
func (s *TaskStore) SelectRetryableFailed(ctx context.Context, cutoff time.Time, maxRetry int, limit int) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE status = 'FAILED' AND updated_at < $1 AND retry_count < $2
ORDER BY updated_at ASC
LIMIT $3`, cutoff, maxRetry, limit)
	if err != nil {
		return nil, fmt.Errorf("select retryable failed tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// SelectRetry returns tasks parked in RETRY awaiting requeue.
func (s *TaskStore) SelectRetry(ctx context.Context, limit int) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+` FROM tasks
WHERE status = 'RETRY'
ORDER BY updated_at ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select retry tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// MarkRetry transitions from the expected status to RETRY, incrementing the
// retry count.
func (s *TaskStore) MarkRetry(ctx context.Context, id string, expected task.Status, now time.Time) (bool, error) {
	ok, err := s.conditionalUpdate(ctx, `
UPDATE tasks SET status = 'RETRY', retry_count = retry_count + 1, updated_at = $3
WHERE id = $1 AND status = $2`, id, string(expected), now)
	if err != nil {
		return false, fmt.Errorf("mark task retry: %w", err)
	}
	return ok, nil
}

// FailStuck transitions RUNNING to FAILED for a budget-exhausted task.
func (s *TaskStore) FailStuck(ctx context.Context, id string, errMsg string, now time.Time) (bool, error) {
	return s.Fail(ctx, id, errMsg, now)
}

// Requeue transitions RETRY back to WAITING and writes a fresh outbox row in
// the same transaction.
func (s *TaskStore) Requeue(ctx context.Context, t task.Task, now time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin requeue: %w", err)
	}
	defer rollback(ctx, tx)

	tag, err := tx.Exec(ctx, `
UPDATE tasks SET status = 'WAITING', updated_at = $2
WHERE id = $1 AND status = 'RETRY'`, t.ID, now)
	if err != nil {
		return false, fmt.Errorf("requeue task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := s.insertOutboxRow(ctx, tx, t, now); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit requeue: %w", err)
	}
	return true, nil
}

// UpdateProductCount upserts the seller's latest known product count.
func (s *TaskStore) UpdateProductCount(ctx context.Context, sellerID int64, count int, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO sellers (id, product_count, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET product_count = EXCLUDED.product_count, updated_at = EXCLUDED.updated_at`,
		sellerID, count, now)
	if err != nil {
		return fmt.Errorf("upsert seller product count: %w", err)
	}
	return nil
}

// ListSellerIDs returns all registered sellers in ascending order.
func (s *TaskStore) ListSellerIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM sellers ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("select sellers: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seller id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sellers: %w", err)
	}
	return out, nil
}

// SaveItemSnapshot appends a list-level item snapshot.
func (s *TaskStore) SaveItemSnapshot(ctx context.Context, snap task.ItemSnapshot) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO item_snapshots (seller_id, item_no, name, price, stock_count, seen_at)
VALUES ($1,$2,$3,$4,$5,$6)`,
		snap.SellerID, snap.ItemNo, snap.Name, snap.Price, snap.StockCount, snap.SeenAt)
	if err != nil {
		return fmt.Errorf("insert item snapshot: %w", err)
	}
	return nil
}

// SaveItemDocument upserts an item document; unchanged payloads (same
// content hash) are left alone so fetched_at keeps the time of the last real
// change.
func (s *TaskStore) SaveItemDocument(ctx context.Context, doc task.ItemDocument) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO item_documents (seller_id, item_no, kind, content_hash, payload, fetched_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (item_no, kind) DO UPDATE
SET seller_id = EXCLUDED.seller_id,
    content_hash = EXCLUDED.content_hash,
    payload = EXCLUDED.payload,
    fetched_at = EXCLUDED.fetched_at
WHERE item_documents.content_hash IS DISTINCT FROM EXCLUDED.content_hash`,
		doc.SellerID, doc.ItemNo, string(doc.Kind), doc.ContentHash, doc.Payload, doc.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert item document: %w", err)
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	// Rollback after Commit is a no-op error we deliberately ignore.
	_ = tx.Rollback(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (task.Task, error) {
	var (
		t          task.Task
		taskType   string
		status     string
		trigger    string
		targetJSON []byte
	)
	if err := row.Scan(
		&t.ID, &t.ParentSchedulerID, &t.SellerID, &taskType, &targetJSON,
		&status, &t.RetryCount, &trigger, &t.ErrorMessage,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return task.Task{}, err
	}
	if err := json.Unmarshal(targetJSON, &t.Target); err != nil {
		return task.Task{}, fmt.Errorf("unmarshal task target: %w", err)
	}
	t.Type = task.Type(taskType)
	t.Status = task.Status(status)
	t.Trigger = task.Trigger(trigger)
	return t, nil
}

func scanTasks(rows pgx.Rows) ([]task.Task, error) {
	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}
