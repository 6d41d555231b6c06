package domain

import "time"

// TaskType identifies a kind of deferred work.
type TaskType string

// Task types processed by the background processor.
const (
	// TaskSummarize replaces a placeholder summary with a generated one.
	TaskSummarize TaskType = "summarize"

	// TaskAnalyze decomposes a document into parts.
	TaskAnalyze TaskType = "analyze"

	// TaskReindex re-embeds a collection under a new embedding identity.
	TaskReindex TaskType = "reindex"
)

// IsValid returns true if the task type is recognised.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskSummarize, TaskAnalyze, TaskReindex:
		return true
	default:
		return false
	}
}

// Metadata keys carried on pending items.
const (
	// MetaContentHash is the content hash the item was queued for.
	// A summarize item whose hash no longer matches the document is stale.
	MetaContentHash = "content_hash"

	// MetaIndexName is the target index of a reindex item.
	MetaIndexName = "index_name"

	// MetaContentType is the content type of the snapshot.
	MetaContentType = "content_type"
)

// PendingItem is a deferred unit of work keyed by (ID, Collection, TaskType).
type PendingItem struct {
	ID         string
	Collection string
	TaskType   TaskType
	Content    string
	Metadata   map[string]string
	QueuedAt   time.Time
	Attempts   int
	LastError  string
}

// PendingStats summarises the queue.
type PendingStats struct {
	Total       int
	ByTaskType  map[TaskType]int
	Collections int
	MaxAttempts int
	Oldest      time.Time
}
