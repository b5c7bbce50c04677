package postgres_test

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/hbkim/storecrawl/internal/storage/postgres"
	"github.com/hbkim/storecrawl/internal/task"
)

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%04d", g.n), nil
}

func sampleTask(id string, now time.Time) task.Task {
	return task.Task{
		ID:                id,
		ParentSchedulerID: id,
		SellerID:          42,
		Type:              task.TypeMeta,
		Target:            task.Target{URL: "https://shop.example.com/meta", PageSize: 100},
		Status:            task.StatusWaiting,
		Trigger:           task.TriggerAuto,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func newTaskStore(t *testing.T) (*postgres.TaskStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := postgres.NewTaskStore(mock, &seqIDs{})
	require.NoError(t, err)
	return store, mock
}

func TestTaskStoreCreateInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tk := sampleTask("task-1", now)
	target, err := json.Marshal(tk.Target)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tasks")).
		WithArgs(tk.ID, tk.ParentSchedulerID, tk.SellerID, "META", target,
			"WAITING", 0, "AUTO", "", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Create(context.Background(), tk))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreGetScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, parent_scheduler_id, seller_id, task_type, target, status, retry_count, trigger_type, error_message, created_at, updated_at FROM tasks WHERE id = $1")).
		WithArgs("task-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "parent_scheduler_id", "seller_id", "task_type", "target",
			"status", "retry_count", "trigger_type", "error_message", "created_at", "updated_at",
		}).AddRow(
			"task-1", "task-1", int64(42), "META", []byte(`{"url":"https://shop.example.com/meta","page_size":100}`),
			"RUNNING", 1, "AUTO", "", now, now,
		))

	got, err := store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, task.TypeMeta, got.Type)
	require.Equal(t, task.StatusRunning, got.Status)
	require.Equal(t, "https://shop.example.com/meta", got.Target.URL)
	require.Equal(t, 100, got.Target.PageSize)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreCreateBatchWritesTasksAndOutboxRows(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tk := sampleTask("task-1", now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tasks")).
		WithArgs(tk.ID, tk.ParentSchedulerID, tk.SellerID, "META", pgxmock.AnyArg(),
			"WAITING", 0, "AUTO", "", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_outbox")).
		WithArgs("id-0001", tk.ID, "META", pgxmock.AnyArg(), pgxmock.AnyArg(),
			"PENDING", 0, "", now, nil, int64(1)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	require.NoError(t, store.CreateBatch(context.Background(), []task.Task{tk}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreCreateBatchRollsBackOnInsertError(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tk := sampleTask("task-1", now)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tasks")).
		WithArgs(tk.ID, tk.ParentSchedulerID, tk.SellerID, "META", pgxmock.AnyArg(),
			"WAITING", 0, "AUTO", "", now, now).
		WillReturnError(fmt.Errorf("duplicate key"))
	mock.ExpectRollback()

	err := store.CreateBatch(context.Background(), []task.Task{tk})
	require.ErrorContains(t, err, "duplicate key")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreMarkRunningReportsLostRace(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET status = 'RUNNING'")).
		WithArgs("task-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := store.MarkRunning(context.Background(), "task-1", now)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreRequeueStopsWhenRaceLost(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tk := sampleTask("task-1", now)
	tk.Status = task.StatusRetry

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET status = 'WAITING'")).
		WithArgs(tk.ID, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	ok, err := store.Requeue(context.Background(), tk, now)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreRequeueWritesFreshOutboxRow(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tk := sampleTask("task-1", now)
	tk.Status = task.StatusRetry
	tk.RetryCount = 2

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET status = 'WAITING'")).
		WithArgs(tk.ID, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_outbox")).
		WithArgs("id-0001", tk.ID, "META", pgxmock.AnyArg(), pgxmock.AnyArg(),
			"PENDING", 0, "", now, nil, int64(1)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	ok, err := store.Requeue(context.Background(), tk, now)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreSelectStuckScansRows(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cutoff := now.Add(-30 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'RUNNING' AND updated_at < $1")).
		WithArgs(cutoff, 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "parent_scheduler_id", "seller_id", "task_type", "target",
			"status", "retry_count", "trigger_type", "error_message", "created_at", "updated_at",
		}).AddRow(
			"task-1", "task-1", int64(42), "META", []byte(`{"url":"https://shop.example.com/meta","page_size":100}`),
			"RUNNING", 0, "AUTO", "", now, now,
		))

	got, err := store.SelectStuck(context.Background(), cutoff, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, task.StatusRunning, got[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreUpdateProductCountUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newTaskStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sellers")).
		WithArgs(int64(42), 250, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpdateProductCount(context.Background(), 42, 250, now))
	require.NoError(t, mock.ExpectationsWereMet())
}
