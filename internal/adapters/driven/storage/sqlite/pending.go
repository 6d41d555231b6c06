package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// Verify interface compliance.
var _ driven.PendingQueue = (*pendingQueue)(nil)

const pendingColumns = "id, collection, task_type, content, metadata, queued_at, attempts, last_error"

// pendingQueue wraps pending.db to implement driven.PendingQueue.
type pendingQueue struct {
	db *database
}

// Enqueue inserts or replaces an item. Re-queueing resets the attempt
// counter so a fresh snapshot gets a full retry budget.
func (q *pendingQueue) Enqueue(ctx context.Context, item domain.PendingItem) error {
	if !item.TaskType.IsValid() {
		return fmt.Errorf("%w: unknown task type %q", domain.ErrInvalidInput, item.TaskType)
	}
	meta, err := encodeTags(item.Metadata)
	if err != nil {
		return err
	}
	queued := item.QueuedAt
	if queued.IsZero() {
		queued = time.Now()
	}

	_, err = q.db.exec(ctx, `
		INSERT INTO pending_work (id, collection, task_type, content, metadata, queued_at, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, 0, '')
		ON CONFLICT(id, collection, task_type) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			queued_at = excluded.queued_at,
			attempts = 0,
			last_error = ''
	`, item.ID, item.Collection, string(item.TaskType), item.Content, meta, formatTime(queued))
	if err != nil {
		return fmt.Errorf("enqueueing %s for %s: %w", item.TaskType, item.ID, err)
	}
	return nil
}

// Dequeue claims up to limit of the oldest items. Attempts are
// incremented before the items are returned, so a crash mid-task
// still counts against the retry budget.
func (q *pendingQueue) Dequeue(ctx context.Context, limit int) ([]domain.PendingItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	var items []domain.PendingItem
	err := q.db.withTx(ctx, func(tx *sql.Tx) error {
		items = nil
		rows, err := tx.QueryContext(ctx,
			"SELECT "+pendingColumns+" FROM pending_work ORDER BY queued_at, id LIMIT ?", limit)
		if err != nil {
			return fmt.Errorf("querying pending work: %w", err)
		}
		items, err = scanPendingRows(rows)
		if err != nil {
			return err
		}

		for i := range items {
			it := &items[i]
			if _, err := tx.ExecContext(ctx, `
				UPDATE pending_work SET attempts = attempts + 1
				WHERE id = ? AND collection = ? AND task_type = ?
			`, it.ID, it.Collection, string(it.TaskType)); err != nil {
				return fmt.Errorf("claiming %s: %w", it.ID, err)
			}
			it.Attempts++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dequeueing: %w", err)
	}
	return items, nil
}

// Complete removes an item.
func (q *pendingQueue) Complete(ctx context.Context, id, collection string, task domain.TaskType) error {
	_, err := q.db.exec(ctx,
		"DELETE FROM pending_work WHERE id = ? AND collection = ? AND task_type = ?",
		id, collection, string(task))
	if err != nil {
		return fmt.Errorf("completing %s for %s: %w", task, id, err)
	}
	return nil
}

// RecordFailure stores the error of the latest attempt.
func (q *pendingQueue) RecordFailure(ctx context.Context, id, collection string, task domain.TaskType,
	msg string) error {
	_, err := q.db.exec(ctx,
		"UPDATE pending_work SET last_error = ? WHERE id = ? AND collection = ? AND task_type = ?",
		msg, id, collection, string(task))
	if err != nil {
		return fmt.Errorf("recording failure for %s: %w", id, err)
	}
	return nil
}

// GetStatus returns all rows queued for id.
func (q *pendingQueue) GetStatus(ctx context.Context, id string) ([]domain.PendingItem, error) {
	rows, err := q.db.db.QueryContext(ctx,
		"SELECT "+pendingColumns+" FROM pending_work WHERE id = ? ORDER BY collection, task_type", id)
	if err != nil {
		return nil, fmt.Errorf("querying pending status: %w", err)
	}
	return scanPendingRows(rows)
}

// Stats summarises the queue.
func (q *pendingQueue) Stats(ctx context.Context) (*domain.PendingStats, error) {
	stats := &domain.PendingStats{ByTaskType: make(map[domain.TaskType]int)}

	var oldest sql.NullString
	err := q.db.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT collection), COALESCE(MAX(attempts), 0), MIN(queued_at)
		FROM pending_work
	`).Scan(&stats.Total, &stats.Collections, &stats.MaxAttempts, &oldest)
	if err != nil {
		return nil, fmt.Errorf("querying pending stats: %w", err)
	}
	if oldest.Valid {
		if stats.Oldest, err = parseTime(oldest.String); err != nil {
			return nil, err
		}
	}

	rows, err := q.db.db.QueryContext(ctx, "SELECT task_type, COUNT(*) FROM pending_work GROUP BY task_type")
	if err != nil {
		return nil, fmt.Errorf("querying pending stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var task string
		var n int
		if err := rows.Scan(&task, &n); err != nil {
			return nil, fmt.Errorf("scanning pending stats: %w", err)
		}
		stats.ByTaskType[domain.TaskType(task)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending stats: %w", err)
	}
	return stats, nil
}

// DeleteFor removes every row of a document.
func (q *pendingQueue) DeleteFor(ctx context.Context, id, collection string) (int, error) {
	res, err := q.db.exec(ctx, "DELETE FROM pending_work WHERE id = ? AND collection = ?", id, collection)
	if err != nil {
		return 0, fmt.Errorf("deleting pending work for %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Clear empties the queue.
func (q *pendingQueue) Clear(ctx context.Context) (int, error) {
	res, err := q.db.exec(ctx, "DELETE FROM pending_work")
	if err != nil {
		return 0, fmt.Errorf("clearing pending work: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Path returns the pending.db file path.
func (q *pendingQueue) Path() string {
	return q.db.path
}

func scanPendingRows(rows *sql.Rows) ([]domain.PendingItem, error) {
	defer rows.Close()

	var items []domain.PendingItem //nolint:prealloc // size unknown from query
	for rows.Next() {
		var it domain.PendingItem
		var task, meta, queued string
		if err := rows.Scan(&it.ID, &it.Collection, &task, &it.Content, &meta, &queued,
			&it.Attempts, &it.LastError); err != nil {
			return nil, fmt.Errorf("scanning pending item: %w", err)
		}
		it.TaskType = domain.TaskType(task)
		var err error
		if it.Metadata, err = decodeTags(meta); err != nil {
			return nil, err
		}
		if it.QueuedAt, err = parseTime(queued); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending items: %w", err)
	}
	return items, nil
}
