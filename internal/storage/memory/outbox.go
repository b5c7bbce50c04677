package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hbkim/storecrawl/internal/outbox"
)

// CreateMessage stores a new outbox row.
func (s *Store) CreateMessage(_ context.Context, m outbox.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[m.ID]; exists {
		return fmt.Errorf("outbox row %s already exists", m.ID)
	}
	s.messages[m.ID] = m
	return nil
}

// GetMessage fetches an outbox row by ID.
func (s *Store) GetMessage(_ context.Context, id string) (outbox.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return outbox.Message{}, fmt.Errorf("outbox row %s: %w", id, ErrNotFound)
	}
	return m, nil
}

// SelectPending returns PENDING rows, oldest created first.
func (s *Store) SelectPending(_ context.Context, limit int) ([]outbox.Message, error) {
	return s.selectMessages(limit, func(m outbox.Message) bool {
		return m.Status == outbox.StatusPending
	})
}

// SelectProcessingBefore returns PROCESSING rows claimed before the cutoff.
func (s *Store) SelectProcessingBefore(_ context.Context, cutoff time.Time, limit int) ([]outbox.Message, error) {
	return s.selectMessages(limit, func(m outbox.Message) bool {
		return m.Status == outbox.StatusProcessing && m.ProcessedAt != nil && m.ProcessedAt.Before(cutoff)
	})
}

// SelectFailedBefore returns FAILED rows older than the cutoff with retry
// budget below maxRetry.
func (s *Store) SelectFailedBefore(_ context.Context, cutoff time.Time, maxRetry int, limit int) ([]outbox.Message, error) {
	return s.selectMessages(limit, func(m outbox.Message) bool {
		return m.Status == outbox.StatusFailed &&
			m.ProcessedAt != nil && m.ProcessedAt.Before(cutoff) &&
			m.RetryCount < maxRetry
	})
}

func (s *Store) selectMessages(limit int, match func(outbox.Message) bool) ([]outbox.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []outbox.Message
	for _, m := range s.messages {
		if match(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cas applies mutate iff the stored row still matches the expected status
// and version of m.
func (s *Store) cas(m outbox.Message, expected outbox.Status, mutate func(*outbox.Message)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.messages[m.ID]
	if !ok {
		return false, fmt.Errorf("outbox row %s: %w", m.ID, ErrNotFound)
	}
	if current.Status != expected || current.Version != m.Version {
		return false, nil
	}
	current.Version++
	mutate(&current)
	s.messages[m.ID] = current
	return true, nil
}

// Claim transitions PENDING to PROCESSING, stamping the claim time.
func (s *Store) Claim(_ context.Context, m outbox.Message, now time.Time) (bool, error) {
	return s.cas(m, outbox.StatusPending, func(row *outbox.Message) {
		row.Status = outbox.StatusProcessing
		row.ProcessedAt = &now
	})
}

// MarkSent transitions PROCESSING to SENT.
func (s *Store) MarkSent(_ context.Context, m outbox.Message, now time.Time) (bool, error) {
	return s.cas(m, outbox.StatusProcessing, func(row *outbox.Message) {
		row.Status = outbox.StatusSent
		row.ProcessedAt = &now
	})
}

// MarkFailed transitions PROCESSING to FAILED, incrementing the retry count.
func (s *Store) MarkFailed(_ context.Context, m outbox.Message, deliveryErr string, now time.Time) (bool, error) {
	return s.cas(m, outbox.StatusProcessing, func(row *outbox.Message) {
		row.Status = outbox.StatusFailed
		row.RetryCount++
		row.LastError = deliveryErr
		row.ProcessedAt = &now
	})
}

// ResetToPending moves a PROCESSING or FAILED row back to PENDING, leaving
// the retry count untouched.
func (s *Store) ResetToPending(_ context.Context, m outbox.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.messages[m.ID]
	if !ok {
		return false, fmt.Errorf("outbox row %s: %w", m.ID, ErrNotFound)
	}
	if current.Version != m.Version ||
		(current.Status != outbox.StatusProcessing && current.Status != outbox.StatusFailed) {
		return false, nil
	}
	current.Status = outbox.StatusPending
	current.Version++
	current.ProcessedAt = nil
	s.messages[m.ID] = current
	return true, nil
}

// Messages returns every stored outbox row, oldest created first.
func (s *Store) Messages() []outbox.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]outbox.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
