package task

import (
	"context"
	"time"
)

// Store persists tasks. Status updates are conditional on the prior status so
// concurrent workers and sweeps cannot clobber each other; a false return
// with a nil error means the row no longer matched and was claimed elsewhere.
type Store interface {
	Create(ctx context.Context, t Task) error
	Get(ctx context.Context, id string) (Task, error)
	ListBySeller(ctx context.Context, sellerID int64, limit int) ([]Task, error)

	// CreateBatch persists the given tasks and their outbox rows in a
	// single transaction: either every task is durably written with its
	// pending notification, or none are. Used for one parent's entire child
	// generation and for root trigger tasks alike.
	CreateBatch(ctx context.Context, tasks []Task) error

	// MarkRunning transitions WAITING or PUBLISHED to RUNNING.
	MarkRunning(ctx context.Context, id string, now time.Time) (bool, error)
	// MarkPublished transitions WAITING to PUBLISHED once the task's outbox
	// row has been delivered to the queue.
	MarkPublished(ctx context.Context, id string, now time.Time) (bool, error)
	// Complete transitions RUNNING to COMPLETED.
	Complete(ctx context.Context, id string, now time.Time) (bool, error)
	// Fail transitions RUNNING to FAILED recording the error message.
	Fail(ctx context.Context, id string, errMsg string, now time.Time) (bool, error)

	// SelectStuck returns RUNNING tasks not updated since the cutoff,
	// oldest first, bounded by limit.
	SelectStuck(ctx context.Context, cutoff time.Time, limit int) ([]Task, error)
	// SelectRetryableFailed returns FAILED tasks older than the cutoff with
	// retry budget below maxRetry, oldest first, bounded by limit.
	SelectRetryableFailed(ctx context.Context, cutoff time.Time, maxRetry int, limit int) ([]Task, error)
	// SelectRetry returns tasks parked in RETRY awaiting requeue.
	SelectRetry(ctx context.Context, limit int) ([]Task, error)

	// MarkRetry transitions the task from its expected status to RETRY,
	// incrementing the retry count.
	MarkRetry(ctx context.Context, id string, expected Status, now time.Time) (bool, error)
	// FailStuck transitions RUNNING to FAILED for a task whose retry budget
	// is exhausted.
	FailStuck(ctx context.Context, id string, errMsg string, now time.Time) (bool, error)
	// Requeue transitions RETRY back to WAITING and writes a fresh outbox
	// row in the same transaction.
	Requeue(ctx context.Context, t Task, now time.Time) (bool, error)
}

// SellerStore tracks per-seller crawl bookkeeping.
type SellerStore interface {
	// UpdateProductCount records the seller's latest known product count.
	UpdateProductCount(ctx context.Context, sellerID int64, count int, now time.Time) error
	// ListSellerIDs returns all sellers registered for scheduled crawls.
	ListSellerIDs(ctx context.Context) ([]int64, error)
}

// ResultStore persists raw crawl payloads for change detection and replay.
type ResultStore interface {
	SaveCrawlResult(ctx context.Context, taskID string, taskType Type, sellerID int64, raw []byte) (string, error)
}

// CrawlResult is the outcome of one crawl request. Data carries the
// normalized JSON payload when Success is true.
type CrawlResult struct {
	Success    bool
	StatusCode int
	Data       []byte
	Error      string
}

// Crawler performs the outbound fetch for a task. The engine treats any
// non-success result as a task failure and does not interpret HTTP semantics
// beyond that.
type Crawler interface {
	Execute(ctx context.Context, t Task) (CrawlResult, error)
}

// AgentPool is the rate-limited credential pool consumed before each crawl
// call.
type AgentPool interface {
	CanMakeRequest() bool
	ConsumeRequest() error
	// Wait blocks until the pool's smoothing limiter admits the next
	// request or the context ends.
	Wait(ctx context.Context) error
	HandleRateLimitError()
}

// Clock returns the current time (a seam for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs.
type IDGenerator interface {
	NewID() (string, error)
}
