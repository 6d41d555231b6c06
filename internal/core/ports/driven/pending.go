package driven

import (
	"context"

	"github.com/custodia-labs/keep/internal/core/domain"
)

// PendingQueue is a durable queue of deferred work keyed by
// (id, collection, task type).
type PendingQueue interface {
	// Enqueue replaces any row with the same key and resets attempts to zero.
	Enqueue(ctx context.Context, item domain.PendingItem) error

	// Dequeue returns up to limit of the oldest items and increments their
	// attempt counters in the same transaction.
	Dequeue(ctx context.Context, limit int) ([]domain.PendingItem, error)

	// Complete removes a row.
	Complete(ctx context.Context, id, collection string, task domain.TaskType) error

	// RecordFailure stores the last error of an attempt.
	RecordFailure(ctx context.Context, id, collection string, task domain.TaskType, msg string) error

	// GetStatus returns every queued row for id across collections and tasks.
	GetStatus(ctx context.Context, id string) ([]domain.PendingItem, error)

	// Stats summarises the queue.
	Stats(ctx context.Context) (*domain.PendingStats, error)

	// DeleteFor removes every row of a document, used when it is deleted.
	DeleteFor(ctx context.Context, id, collection string) (int, error)

	// Clear empties the queue and returns how many rows were removed.
	Clear(ctx context.Context) (int, error)

	// Path returns the database file, watched by the daemon processor.
	Path() string
}
