package outbox

import (
	"context"
	"time"
)

// Store persists outbox rows. Every mutation is a compare-and-swap on the
// row's version and expected status; a false return with a nil error means
// the row no longer matched the expectation (claimed or repaired by a
// concurrent instance) and must simply be skipped.
type Store interface {
	CreateMessage(ctx context.Context, m Message) error
	GetMessage(ctx context.Context, id string) (Message, error)

	// SelectPending returns PENDING rows, oldest created first.
	SelectPending(ctx context.Context, limit int) ([]Message, error)
	// SelectProcessingBefore returns PROCESSING rows claimed before the
	// cutoff, oldest first.
	SelectProcessingBefore(ctx context.Context, cutoff time.Time, limit int) ([]Message, error)
	// SelectFailedBefore returns FAILED rows older than the cutoff whose
	// retry count is below maxRetry, oldest first.
	SelectFailedBefore(ctx context.Context, cutoff time.Time, maxRetry int, limit int) ([]Message, error)

	// Claim transitions PENDING -> PROCESSING.
	Claim(ctx context.Context, m Message, now time.Time) (bool, error)
	// MarkSent transitions PROCESSING -> SENT and stamps ProcessedAt.
	MarkSent(ctx context.Context, m Message, now time.Time) (bool, error)
	// MarkFailed transitions PROCESSING -> FAILED, incrementing the retry
	// count and recording the delivery error.
	MarkFailed(ctx context.Context, m Message, deliveryErr string, now time.Time) (bool, error)
	// ResetToPending moves a PROCESSING or FAILED row back to PENDING. Used
	// only by the recovery sweeps; the retry count is left untouched.
	ResetToPending(ctx context.Context, m Message) (bool, error)
}
