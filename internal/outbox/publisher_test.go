package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hbkim/storecrawl/internal/outbox"
	publishermemory "github.com/hbkim/storecrawl/internal/publisher/memory"
	"github.com/hbkim/storecrawl/internal/storage/memory"
	"github.com/hbkim/storecrawl/internal/task"
)

func publisherConfig() outbox.PublisherConfig {
	return outbox.PublisherConfig{Topic: "storecrawl-tasks", BatchSize: 100}
}

func TestPublishPendingDeliversRows(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := memory.NewStore(&seqIDs{})
	queue := publishermemory.New()

	t1 := newTask(t, "task-1", clock.Now())
	clock.Advance(time.Second)
	t2 := newTask(t, "task-2", clock.Now())
	require.NoError(t, store.CreateBatch(context.Background(), []task.Task{t1, t2}))

	pub := outbox.NewPublisher(store, queue, store, clock, publisherConfig(), zap.NewNop())
	res, err := pub.PublishPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	require.Equal(t, 2, res.Succeeded)
	require.Zero(t, res.Failed)

	published := queue.Messages()
	require.Len(t, published, 2)
	require.Equal(t, "storecrawl-tasks", published[0].Topic)
	require.Equal(t, outbox.IdempotencyKey("task-1", task.TypeMeta), published[0].Attributes[outbox.AttrIdempotencyKey])
	require.Equal(t, string(task.TypeMeta), published[0].Attributes[outbox.AttrTaskType])

	for _, m := range store.Messages() {
		require.Equal(t, outbox.StatusSent, m.Status)
		require.NotNil(t, m.ProcessedAt)
		// PENDING(1) -> claim(2) -> sent(3).
		require.Equal(t, int64(3), m.Version)
	}

	for _, id := range []string{"task-1", "task-2"} {
		got, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, task.StatusPublished, got.Status)
	}
}

func TestPublishPendingMarksDeliveryFailures(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := memory.NewStore(&seqIDs{})
	queue := publishermemory.New()
	queue.FailWith(errors.New("broker unavailable"))

	tk := newTask(t, "task-1", clock.Now())
	require.NoError(t, store.CreateBatch(context.Background(), []task.Task{tk}))

	pub := outbox.NewPublisher(store, queue, store, clock, publisherConfig(), zap.NewNop())
	res, err := pub.PublishPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, 1, res.Failed)

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, outbox.StatusFailed, msgs[0].Status)
	require.Equal(t, 1, msgs[0].RetryCount)
	require.Contains(t, msgs[0].LastError, "broker unavailable")

	got, err := store.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusWaiting, got.Status)
}

func TestPublishPendingSkipsLostClaims(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := memory.NewStore(&seqIDs{})
	queue := publishermemory.New()

	tk := newTask(t, "task-1", clock.Now())
	require.NoError(t, store.CreateBatch(context.Background(), []task.Task{tk}))

	// A competing publisher instance claims the row first.
	pending, err := store.SelectPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	claimed, err := store.Claim(context.Background(), pending[0], clock.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	pub := outbox.NewPublisher(store, queue, store, clock, publisherConfig(), zap.NewNop())
	res, err := pub.PublishPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Zero(t, res.Succeeded)
	require.Zero(t, res.Failed)
	require.Empty(t, queue.Messages())
}

func TestPublishPendingWithoutTaskMarker(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := memory.NewStore(&seqIDs{})
	queue := publishermemory.New()

	tk := newTask(t, "task-1", clock.Now())
	require.NoError(t, store.CreateBatch(context.Background(), []task.Task{tk}))

	pub := outbox.NewPublisher(store, queue, nil, clock, publisherConfig(), zap.NewNop())
	res, err := pub.PublishPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)

	// The row is settled but the task stays WAITING without a marker.
	got, err := store.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusWaiting, got.Status)
}
