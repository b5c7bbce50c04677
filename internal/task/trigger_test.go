package task_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hbkim/storecrawl/internal/outbox"
	"github.com/hbkim/storecrawl/internal/storage/memory"
	"github.com/hbkim/storecrawl/internal/task"
)

func newTriggerService(store *memory.Store, clock task.Clock) *task.TriggerService {
	endpoints := task.Endpoints{BaseURL: "https://shop.example.com", PageSize: 100}
	return task.NewTriggerService(store, store, &seqIDs{}, clock, endpoints, zap.NewNop())
}

func TestTriggerSellerCreatesRootMetaTask(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := memory.NewStore(&seqIDs{})
	svc := newTriggerService(store, clock)

	root, err := svc.TriggerSeller(context.Background(), 42, task.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, task.TypeMeta, root.Type)
	require.Equal(t, task.StatusWaiting, root.Status)
	require.Equal(t, task.TriggerManual, root.Trigger)
	// A root task is its own scheduler lineage anchor.
	require.Equal(t, root.ID, root.ParentSchedulerID)

	stored, err := store.Get(context.Background(), root.ID)
	require.NoError(t, err)
	require.Equal(t, root, stored)

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, root.ID, msgs[0].TaskID)
	require.Equal(t, outbox.StatusPending, msgs[0].Status)
	require.Equal(t, int64(1), msgs[0].Version)
}

func TestTriggerAllCreatesOneTaskPerSeller(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := memory.NewStore(&seqIDs{})
	store.AddSeller(1)
	store.AddSeller(2)
	store.AddSeller(3)
	svc := newTriggerService(store, clock)

	created, err := svc.TriggerAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, created)
	require.Len(t, store.Tasks(), 3)
	require.Len(t, store.Messages(), 3)
	for _, tk := range store.Tasks() {
		require.Equal(t, task.TriggerAuto, tk.Trigger)
	}
}

func TestTriggerAllIsolatesSellerFailures(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := memory.NewStore(&seqIDs{})
	store.AddSeller(-5) // invalid, trigger will fail for this one
	store.AddSeller(7)
	svc := newTriggerService(store, clock)

	created, err := svc.TriggerAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, created)
	require.Len(t, store.Tasks(), 1)
}
