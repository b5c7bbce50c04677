package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hbkim/storecrawl/internal/queue"
)

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	env := queue.Envelope{TaskID: "task-1", TaskType: "META"}
	require.NoError(t, q.Enqueue(context.Background(), env))

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublishDecodesOutboxPayload(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	payload := []byte(`{"task_id":"task-1","task_type":"SHOP_PAGE","seller_id":42}`)
	attrs := map[string]string{"idempotency_key": "abc123"}

	id, err := q.Publish(context.Background(), "storecrawl-tasks", payload, attrs)
	require.NoError(t, err)
	require.Equal(t, "local-1", id)

	env, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "task-1", env.TaskID)
	require.Equal(t, "SHOP_PAGE", env.TaskType)
	require.Equal(t, "abc123", env.IdempotencyKey)
}

func TestPublishRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	_, err := q.Publish(context.Background(), "storecrawl-tasks", []byte("not json"), nil)
	require.Error(t, err)
}

func TestCloseDrainsAndReportsClosed(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), queue.Envelope{TaskID: "task-1"}))
	q.Close()
	q.Close() // idempotent

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "task-1", got.TaskID)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, queue.ErrClosed)
}
