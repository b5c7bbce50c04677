package task_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hbkim/storecrawl/internal/hash/sha256"
	"github.com/hbkim/storecrawl/internal/storage/memory"
	"github.com/hbkim/storecrawl/internal/task"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n), nil
}

type fakePool struct {
	mu          sync.Mutex
	denied      bool
	waitErr     error
	consumed    int
	rateLimited int
}

func (p *fakePool) CanMakeRequest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.denied
}

func (p *fakePool) ConsumeRequest() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumed++
	return nil
}

func (p *fakePool) Wait(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *fakePool) consumedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumed
}

func (p *fakePool) HandleRateLimitError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rateLimited++
}

func (p *fakePool) rateLimitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rateLimited
}

// scriptedCrawler serves canned results keyed by target URL.
type scriptedCrawler struct {
	results map[string]task.CrawlResult
	err     error
}

func (c *scriptedCrawler) Execute(_ context.Context, t task.Task) (task.CrawlResult, error) {
	if c.err != nil {
		return task.CrawlResult{}, c.err
	}
	res, ok := c.results[t.Target.URL]
	if !ok {
		return task.CrawlResult{}, fmt.Errorf("no scripted result for %s", t.Target.URL)
	}
	return res, nil
}

type strategyEnv struct {
	store      *memory.Store
	clock      *fakeClock
	pool       *fakePool
	crawler    *scriptedCrawler
	endpoints  task.Endpoints
	strategies map[task.Type]task.Strategy
}

func newStrategyEnv(t *testing.T) *strategyEnv {
	t.Helper()
	ids := &seqIDs{}
	env := &strategyEnv{
		store:     memory.NewStore(ids),
		clock:     newFakeClock(),
		pool:      &fakePool{},
		crawler:   &scriptedCrawler{results: map[string]task.CrawlResult{}},
		endpoints: task.Endpoints{BaseURL: "https://shop.example.com", PageSize: 100},
	}
	env.strategies = make(map[task.Type]task.Strategy)
	for _, s := range task.NewStrategies(task.Deps{
		Store:     env.store,
		Sellers:   env.store,
		Items:     env.store,
		Results:   env.store,
		Pool:      env.pool,
		Crawler:   env.crawler,
		Hasher:    sha256.New(),
		IDs:       ids,
		Clock:     env.clock,
		Endpoints: env.endpoints,
		Logger:    zap.NewNop(),
	}) {
		env.strategies[s.Type()] = s
	}
	return env
}

func (e *strategyEnv) script(url string, body string) {
	e.crawler.results[url] = task.CrawlResult{Success: true, StatusCode: 200, Data: []byte(body)}
}

func (e *strategyEnv) newTask(t *testing.T, taskType task.Type, target task.Target) task.Task {
	t.Helper()
	tk, err := task.New(task.NewParams{
		ID:                "parent-" + string(taskType),
		ParentSchedulerID: "sched-1",
		SellerID:          42,
		Type:              taskType,
		Target:            target,
		Trigger:           task.TriggerAuto,
		Now:               e.clock.Now(),
	})
	require.NoError(t, err)
	return tk
}

func childrenOfType(tasks []task.Task, taskType task.Type) []task.Task {
	var out []task.Task
	for _, tk := range tasks {
		if tk.Type == taskType {
			out = append(out, tk)
		}
	}
	return out
}

func TestMetaStrategyFansOutShopPages(t *testing.T) {
	t.Parallel()

	env := newStrategyEnv(t)
	metaTask := env.newTask(t, task.TypeMeta, env.endpoints.Meta(42))
	env.script(metaTask.Target.URL, `{"total_count":250}`)

	err := env.strategies[task.TypeMeta].Execute(context.Background(), metaTask)
	require.NoError(t, err)

	count, ok := env.store.ProductCount(42)
	require.True(t, ok)
	require.Equal(t, 250, count)

	pages := childrenOfType(env.store.Tasks(), task.TypeShopPage)
	require.Len(t, pages, 3)
	for i, child := range pages {
		require.Equal(t, task.StatusWaiting, child.Status)
		require.Equal(t, "sched-1", child.ParentSchedulerID)
		require.Equal(t, int64(42), child.SellerID)
		require.Equal(t, task.TriggerAuto, child.Trigger)
		require.Equal(t, i, child.Target.Page)
	}
	// One pending outbox row per child.
	require.Len(t, env.store.Messages(), 3)
}

func TestMetaStrategySellerWithNoItems(t *testing.T) {
	t.Parallel()

	env := newStrategyEnv(t)
	metaTask := env.newTask(t, task.TypeMeta, env.endpoints.Meta(42))
	env.script(metaTask.Target.URL, `{"total_count":0}`)

	err := env.strategies[task.TypeMeta].Execute(context.Background(), metaTask)
	require.NoError(t, err)
	require.Empty(t, env.store.Tasks())
	require.Empty(t, env.store.Messages())
}

func TestMetaStrategyNoCrawlCapacity(t *testing.T) {
	t.Parallel()

	env := newStrategyEnv(t)
	env.pool.denied = true
	metaTask := env.newTask(t, task.TypeMeta, env.endpoints.Meta(42))

	err := env.strategies[task.TypeMeta].Execute(context.Background(), metaTask)
	require.ErrorIs(t, err, task.ErrNoCrawlCapacity)
}

func TestMetaStrategyAbortedWaitLeavesQuotaUntouched(t *testing.T) {
	t.Parallel()

	env := newStrategyEnv(t)
	env.pool.waitErr = context.Canceled
	metaTask := env.newTask(t, task.TypeMeta, env.endpoints.Meta(42))

	err := env.strategies[task.TypeMeta].Execute(context.Background(), metaTask)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, env.pool.consumedCount())
}

func TestMetaStrategyRateLimited(t *testing.T) {
	t.Parallel()

	env := newStrategyEnv(t)
	metaTask := env.newTask(t, task.TypeMeta, env.endpoints.Meta(42))
	env.crawler.results[metaTask.Target.URL] = task.CrawlResult{
		Success:    false,
		StatusCode: 429,
		Error:      "too many requests",
	}

	err := env.strategies[task.TypeMeta].Execute(context.Background(), metaTask)
	require.ErrorIs(t, err, task.ErrRateLimited)
	require.Equal(t, 1, env.pool.rateLimitCount())
}

func TestMetaStrategyRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	env := newStrategyEnv(t)
	metaTask := env.newTask(t, task.TypeMeta, env.endpoints.Meta(42))
	env.script(metaTask.Target.URL, `not json`)

	err := env.strategies[task.TypeMeta].Execute(context.Background(), metaTask)
	require.Error(t, err)
	require.Empty(t, env.store.Tasks())
}

func TestShopPageStrategyFansOutItemTasks(t *testing.T) {
	t.Parallel()

	env := newStrategyEnv(t)
	pageTask := env.newTask(t, task.TypeShopPage, env.endpoints.ShopPage(42, 0))
	env.script(pageTask.Target.URL, `{"items":[
		{"item_no":1001,"name":"keyboard","price":79000,"stock_count":5},
		{"item_no":1002,"name":"mouse","price":39000,"stock_count":12}
	]}`)

	err := env.strategies[task.TypeShopPage].Execute(context.Background(), pageTask)
	require.NoError(t, err)

	require.Len(t, env.store.Snapshots(42), 2)

	all := env.store.Tasks()
	details := childrenOfType(all, task.TypeItemDetail)
	options := childrenOfType(all, task.TypeItemOption)
	require.Len(t, details, 2)
	require.Len(t, options, 2)
	require.Len(t, env.store.Messages(), 4)
}

func TestShopPageStrategySkipsBrokenItem(t *testing.T) {
	t.Parallel()

	env := newStrategyEnv(t)
	pageTask := env.newTask(t, task.TypeShopPage, env.endpoints.ShopPage(42, 0))
	env.script(pageTask.Target.URL, `{"items":[
		{"item_no":0,"name":"ghost","price":1,"stock_count":1},
		{"item_no":1002,"name":"mouse","price":39000,"stock_count":12}
	]}`)

	err := env.strategies[task.TypeShopPage].Execute(context.Background(), pageTask)
	require.NoError(t, err)

	all := env.store.Tasks()
	require.Len(t, childrenOfType(all, task.TypeItemDetail), 1)
	require.Len(t, childrenOfType(all, task.TypeItemOption), 1)
	require.Len(t, env.store.Snapshots(42), 1)
}

func TestShopPageStrategyEmptyPage(t *testing.T) {
	t.Parallel()

	env := newStrategyEnv(t)
	pageTask := env.newTask(t, task.TypeShopPage, env.endpoints.ShopPage(42, 7))
	env.script(pageTask.Target.URL, `{"items":[]}`)

	err := env.strategies[task.TypeShopPage].Execute(context.Background(), pageTask)
	require.NoError(t, err)
	require.Empty(t, env.store.Tasks())
}

func TestItemDocStrategyStoresDocument(t *testing.T) {
	t.Parallel()

	env := newStrategyEnv(t)
	detailTask := env.newTask(t, task.TypeItemDetail, env.endpoints.ItemDetail(1001))
	env.script(detailTask.Target.URL, `{"item_no":1001,"description":"mechanical keyboard"}`)

	err := env.strategies[task.TypeItemDetail].Execute(context.Background(), detailTask)
	require.NoError(t, err)

	doc, ok := env.store.Document(1001, task.DocumentDetail)
	require.True(t, ok)
	require.Equal(t, int64(42), doc.SellerID)
	require.NotEmpty(t, doc.ContentHash)
	require.JSONEq(t, `{"item_no":1001,"description":"mechanical keyboard"}`, string(doc.Payload))
}

func TestItemDocStrategyRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	env := newStrategyEnv(t)
	optionTask := env.newTask(t, task.TypeItemOption, env.endpoints.ItemOption(1001))
	env.script(optionTask.Target.URL, `<html>blocked</html>`)

	err := env.strategies[task.TypeItemOption].Execute(context.Background(), optionTask)
	require.Error(t, err)
	_, ok := env.store.Document(1001, task.DocumentOption)
	require.False(t, ok)
}
