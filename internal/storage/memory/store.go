// Package memory provides in-memory store implementations for local
// development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hbkim/storecrawl/internal/outbox"
	"github.com/hbkim/storecrawl/internal/task"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

type sellerRow struct {
	id           int64
	productCount int
	updatedAt    time.Time
}

// Store keeps tasks, outbox rows, and seller/item bookkeeping in memory,
// mirroring the transactional semantics of the Postgres stores under one
// mutex. It implements task.Store, task.SellerStore, task.ItemStore,
// task.ResultStore, and outbox.Store.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]task.Task
	messages  map[string]outbox.Message
	sellers   map[int64]sellerRow
	snapshots map[int64][]task.ItemSnapshot
	documents map[string]task.ItemDocument
	results   []rawResult
	ids       task.IDGenerator
}

type rawResult struct {
	id       string
	taskID   string
	taskType task.Type
	sellerID int64
	raw      []byte
}

// NewStore builds an empty Store. The ID generator mints outbox row IDs.
func NewStore(ids task.IDGenerator) *Store {
	return &Store{
		tasks:     make(map[string]task.Task),
		messages:  make(map[string]outbox.Message),
		sellers:   make(map[int64]sellerRow),
		snapshots: make(map[int64][]task.ItemSnapshot),
		documents: make(map[string]task.ItemDocument),
		ids:       ids,
	}
}

// Create stores a new task.
func (s *Store) Create(_ context.Context, t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	s.tasks[t.ID] = t
	return nil
}

// Get fetches a task by ID.
func (s *Store) Get(_ context.Context, id string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// ListBySeller returns the seller's tasks, newest first.
func (s *Store) ListBySeller(_ context.Context, sellerID int64, limit int) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.SellerID == sellerID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateBatch writes the tasks and their PENDING outbox rows atomically.
func (s *Store) CreateBatch(_ context.Context, tasks []task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		if _, exists := s.tasks[t.ID]; exists {
			return fmt.Errorf("task %s already exists", t.ID)
		}
	}
	staged := make([]outbox.Message, 0, len(tasks))
	for _, t := range tasks {
		id, err := s.ids.NewID()
		if err != nil {
			return fmt.Errorf("generate outbox id: %w", err)
		}
		m, err := outbox.NewMessage(id, t, t.CreatedAt)
		if err != nil {
			return err
		}
		staged = append(staged, m)
	}
	for i, t := range tasks {
		s.tasks[t.ID] = t
		s.messages[staged[i].ID] = staged[i]
	}
	return nil
}

func (s *Store) transition(id string, from []task.Status, to task.Status, now time.Time, mutate func(*task.Task)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	matched := false
	for _, f := range from {
		if t.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = now
	if mutate != nil {
		mutate(&t)
	}
	s.tasks[id] = t
	return true, nil
}

// MarkRunning transitions WAITING or PUBLISHED to RUNNING.
func (s *Store) MarkRunning(_ context.Context, id string, now time.Time) (bool, error) {
	return s.transition(id, []task.Status{task.StatusWaiting, task.StatusPublished}, task.StatusRunning, now, nil)
}

// MarkPublished transitions WAITING to PUBLISHED.
func (s *Store) MarkPublished(_ context.Context, id string, now time.Time) (bool, error) {
	return s.transition(id, []task.Status{task.StatusWaiting}, task.StatusPublished, now, nil)
}

// Complete transitions RUNNING to COMPLETED.
func (s *Store) Complete(_ context.Context, id string, now time.Time) (bool, error) {
	return s.transition(id, []task.Status{task.StatusRunning}, task.StatusCompleted, now, nil)
}

// Fail transitions RUNNING to FAILED recording the error.
func (s *Store) Fail(_ context.Context, id string, errMsg string, now time.Time) (bool, error) {
	return s.transition(id, []task.Status{task.StatusRunning}, task.StatusFailed, now, func(t *task.Task) {
		t.ErrorMessage = errMsg
	})
}

// SelectStuck returns RUNNING tasks not updated since the cutoff.
func (s *Store) SelectStuck(_ context.Context, cutoff time.Time, limit int) ([]task.Task, error) {
	return s.selectTasks(limit, func(t task.Task) bool {
		return t.Status == task.StatusRunning && t.UpdatedAt.Before(cutoff)
	})
}

// SelectRetryableFailed returns FAILED tasks older than the cutoff with
// budget left.
func (s *Store) SelectRetryableFailed(_ context.Context, cutoff time.Time, maxRetry int, limit int) ([]task.Task, error) {
	return s.selectTasks(limit, func(t task.Task) bool {
		return t.Status == task.StatusFailed && t.UpdatedAt.Before(cutoff) && t.RetryCount < maxRetry
	})
}

// SelectRetry returns tasks parked in RETRY.
func (s *Store) SelectRetry(_ context.Context, limit int) ([]task.Task, error) {
	return s.selectTasks(limit, func(t task.Task) bool {
		return t.Status == task.StatusRetry
	})
}

func (s *Store) selectTasks(limit int, match func(task.Task) bool) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []task.Task
	for _, t := range s.tasks {
		if match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkRetry transitions from the expected status to RETRY, incrementing the
// retry count.
func (s *Store) MarkRetry(_ context.Context, id string, expected task.Status, now time.Time) (bool, error) {
	return s.transition(id, []task.Status{expected}, task.StatusRetry, now, func(t *task.Task) {
		t.RetryCount++
	})
}

// FailStuck transitions RUNNING to FAILED for a budget-exhausted task.
func (s *Store) FailStuck(_ context.Context, id string, errMsg string, now time.Time) (bool, error) {
	return s.Fail(context.Background(), id, errMsg, now)
}

// Requeue moves a RETRY task back to WAITING and writes a fresh outbox row
// atomically.
func (s *Store) Requeue(_ context.Context, t task.Task, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[t.ID]
	if !ok {
		return false, fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	if current.Status != task.StatusRetry {
		return false, nil
	}
	id, err := s.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("generate outbox id: %w", err)
	}
	m, err := outbox.NewMessage(id, current, now)
	if err != nil {
		return false, err
	}
	current.Status = task.StatusWaiting
	current.UpdatedAt = now
	s.tasks[t.ID] = current
	s.messages[m.ID] = m
	return true, nil
}

// UpdateProductCount upserts the seller's known product count.
func (s *Store) UpdateProductCount(_ context.Context, sellerID int64, count int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sellers[sellerID] = sellerRow{id: sellerID, productCount: count, updatedAt: now}
	return nil
}

// ListSellerIDs returns all known sellers in ascending order.
func (s *Store) ListSellerIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.sellers))
	for id := range s.sellers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// AddSeller registers a seller for scheduled crawls (local-mode seeding).
func (s *Store) AddSeller(sellerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sellers[sellerID]; !ok {
		s.sellers[sellerID] = sellerRow{id: sellerID}
	}
}

// ProductCount returns the recorded product count for a seller.
func (s *Store) ProductCount(sellerID int64) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.sellers[sellerID]
	return row.productCount, ok
}

// SaveItemSnapshot appends a list-level item snapshot.
func (s *Store) SaveItemSnapshot(_ context.Context, snap task.ItemSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.SellerID] = append(s.snapshots[snap.SellerID], snap)
	return nil
}

// SaveItemDocument upserts an item document keyed by (item, kind).
func (s *Store) SaveItemDocument(_ context.Context, doc task.ItemDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[fmt.Sprintf("%d/%s", doc.ItemNo, doc.Kind)] = doc
	return nil
}

// SaveCrawlResult stores a raw crawl payload and returns its row ID.
func (s *Store) SaveCrawlResult(_ context.Context, taskID string, taskType task.Type, sellerID int64, raw []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("raw-%d", len(s.results)+1)
	s.results = append(s.results, rawResult{
		id:       id,
		taskID:   taskID,
		taskType: taskType,
		sellerID: sellerID,
		raw:      append([]byte(nil), raw...),
	})
	return id, nil
}

// Snapshots returns the recorded snapshots for a seller.
func (s *Store) Snapshots(sellerID int64) []task.ItemSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]task.ItemSnapshot(nil), s.snapshots[sellerID]...)
}

// Document returns the stored document for an item and kind.
func (s *Store) Document(itemNo int64, kind task.DocumentKind) (task.ItemDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[fmt.Sprintf("%d/%s", itemNo, kind)]
	return doc, ok
}

// Tasks returns every stored task, oldest created first.
func (s *Store) Tasks() []task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
