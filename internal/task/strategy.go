package task

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Retryable crawl failures. Tasks failed with one of these keep their retry
// budget relevant: the recovery sweeps will bring them back around.
var (
	// ErrNoCrawlCapacity means the agent pool denied the request up front.
	ErrNoCrawlCapacity = errors.New("agent pool has no crawl capacity")
	// ErrRateLimited means the marketplace answered 429 and the token was
	// reported back to the pool.
	ErrRateLimited = errors.New("crawl request was rate limited")
)

// Strategy executes one task type. Implementations share the template in
// base: acquire capability, crawl, back up the raw payload best-effort, then
// run the type-specific handler which may fan out child tasks.
type Strategy interface {
	Type() Type
	Execute(ctx context.Context, t Task) error
}

// Deps carries the collaborators shared by all strategies.
type Deps struct {
	Store     Store
	Sellers   SellerStore
	Items     ItemStore
	Results   ResultStore
	Pool      AgentPool
	Crawler   Crawler
	Hasher    Hasher
	IDs       IDGenerator
	Clock     Clock
	Endpoints Endpoints
	Logger    *zap.Logger
}

// NewStrategies builds the full strategy set, one per task type.
func NewStrategies(d Deps) []Strategy {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	b := base{d: d}
	return []Strategy{
		&metaStrategy{base: b},
		&shopPageStrategy{base: b},
		&itemDocStrategy{base: b, taskType: TypeItemDetail, kind: DocumentDetail},
		&itemDocStrategy{base: b, taskType: TypeItemOption, kind: DocumentOption},
	}
}

type base struct {
	d Deps
}

// fetch runs the shared front half of the template and returns the raw
// payload. The raw-result backup is best effort: a failure there is logged
// and does not abort the task.
func (b base) fetch(ctx context.Context, t Task) ([]byte, error) {
	if !b.d.Pool.CanMakeRequest() {
		return nil, ErrNoCrawlCapacity
	}
	// Wait before consuming so an aborted wait does not burn quota for a
	// request that never goes out.
	if err := b.d.Pool.Wait(ctx); err != nil {
		return nil, err
	}
	if err := b.d.Pool.ConsumeRequest(); err != nil {
		return nil, fmt.Errorf("consume crawl capacity: %w", err)
	}

	res, err := b.d.Crawler.Execute(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("crawl %s: %w", t.Target.URL, err)
	}
	if res.StatusCode == http.StatusTooManyRequests {
		b.d.Pool.HandleRateLimitError()
		return nil, fmt.Errorf("crawl %s: %w", t.Target.URL, ErrRateLimited)
	}
	if !res.Success {
		return nil, fmt.Errorf("crawl %s failed: status=%d error=%q", t.Target.URL, res.StatusCode, res.Error)
	}

	if _, err := b.d.Results.SaveCrawlResult(ctx, t.ID, t.Type, t.SellerID, res.Data); err != nil {
		b.d.Logger.Warn("raw result backup failed",
			zap.String("task_id", t.ID),
			zap.String("task_type", string(t.Type)),
			zap.Error(err),
		)
	}
	return res.Data, nil
}

// newChild builds a WAITING child task inheriting the parent's scheduler
// lineage. Children are always AUTO triggered.
func (b base) newChild(parent Task, taskType Type, target Target) (Task, error) {
	id, err := b.d.IDs.NewID()
	if err != nil {
		return Task{}, fmt.Errorf("generate child task id: %w", err)
	}
	child, err := New(NewParams{
		ID:                id,
		ParentSchedulerID: parent.ParentSchedulerID,
		SellerID:          parent.SellerID,
		Type:              taskType,
		Target:            target,
		Trigger:           TriggerAuto,
		Now:               b.d.Clock.Now(),
	})
	if err != nil {
		return Task{}, fmt.Errorf("build %s child: %w", taskType, err)
	}
	return child, nil
}
