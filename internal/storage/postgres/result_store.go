package postgres

import (
	"context"
	"fmt"

	"github.com/hbkim/storecrawl/internal/task"
)

// ResultStore persists raw crawl payloads. Rows are append-only; replay and
// debugging read them, the engine itself never does.
type ResultStore struct {
	pool  db
	clock task.Clock
}

// NewResultStore builds a ResultStore on an existing pool.
func NewResultStore(pool db, clock task.Clock) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &ResultStore{pool: pool, clock: clock}, nil
}

// SaveCrawlResult inserts one raw payload row and returns its generated ID.
func (s *ResultStore) SaveCrawlResult(ctx context.Context, taskID string, taskType task.Type, sellerID int64, raw []byte) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
INSERT INTO crawl_results (task_id, task_type, seller_id, payload, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`,
		taskID, string(taskType), sellerID, raw, s.clock.Now(),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert crawl result: %w", err)
	}
	return id, nil
}
