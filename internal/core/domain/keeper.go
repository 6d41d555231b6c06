package domain

import "time"

// PutRequest is a single write into the store.
// Exactly one of Content and URI should be set.
type PutRequest struct {
	Collection  string
	ID          string
	Content     string
	URI         string
	ContentType string

	// Summary, when set, is stored verbatim and no summarization is queued.
	Summary string

	// Tags are user tags; an empty value deletes the key.
	Tags map[string]string
}

// PutResult reports what a write did.
type PutResult struct {
	Document *Document

	// Changed is false for a no-op write.
	Changed bool

	// ContentChanged is true when the content hash differs from the prior state.
	ContentChanged bool

	// ArchivedVersion is the version number the prior state was archived as,
	// or zero.
	ArchivedVersion int

	// Indexed is false when the vector index write failed and the document
	// awaits reconciliation.
	Indexed bool

	// SummaryPending is true when a summarize task was queued.
	SummaryPending bool
}

// FindRequest is a ranked lookup.
type FindRequest struct {
	Collection string

	// Query is embedded for similarity search, or matched full-text when
	// no embedding provider is available.
	Query string

	// Tags restricts results to entries carrying every tag.
	Tags TagFilter

	// Since drops documents not updated after this time.
	Since time.Time

	Limit int

	// IncludeVersions and IncludeParts surface derived entries.
	IncludeVersions bool
	IncludeParts    bool
}

// FindHit is a ranked search result.
type FindHit struct {
	// Key is the vector key (bare id, id@vN or id@pN).
	Key      string
	ID       string
	Kind     KeyKind
	Num      int
	Summary  string
	Tags     map[string]string
	Score    float64
	Document *Document
}

// FindMode reports how a find was served.
type FindMode string

// Find modes.
const (
	FindSemantic FindMode = "semantic"
	FindFulltext FindMode = "fulltext"
	FindTags     FindMode = "tags"
)

// FindResult carries hits and the mode used.
type FindResult struct {
	Hits []FindHit
	Mode FindMode
}

// MoveRequest extracts versions of Source into Target.
type MoveRequest struct {
	Collection string
	Source     string
	Target     string

	// Tags selects which versions move. Empty selects all.
	Tags TagFilter

	// OnlyCurrent moves just the current state.
	OnlyCurrent bool
}

// MoveResult reports a completed move.
type MoveResult struct {
	Target *Document

	// Source is nil when nothing remained behind.
	Source *Document

	Extracted   int
	BaseVersion int
}

// ConsistencyReport compares document and index id-sets.
type ConsistencyReport struct {
	Collection string
	Documents  int
	Indexed    int

	// Missing are document ids with no bare vector entry.
	Missing []string

	// Orphans are vector keys with no backing document, version or part.
	Orphans []string
}

// Consistent reports whether both sides agree.
func (r ConsistencyReport) Consistent() bool {
	return len(r.Missing) == 0 && len(r.Orphans) == 0
}

// ReconcileResult reports a reconciliation pass.
type ReconcileResult struct {
	ConsistencyReport

	Repaired       int
	OrphansRemoved int
	Failed         int

	// Skipped is true when no embedding provider was available.
	Skipped bool
}

// StoreStatus describes a collection for status output.
type StoreStatus struct {
	Collection string
	Documents  int
	Versions   int
	Parts      int
	Indexed    int
	Binding    *IndexBinding
	Pending    PendingStats
}

// AnalyzeRequest queues decomposition of a document into parts.
type AnalyzeRequest struct {
	Collection string
	ID         string

	// Content is the text to decompose. When empty, a URI source is
	// fetched again, otherwise the stored summary is used.
	Content string

	// Force re-analyzes content that was already decomposed.
	Force bool
}

// ProcessStats reports what a processor run did.
type ProcessStats struct {
	Processed int
	Failed    int

	// Abandoned items exhausted their attempts and were removed.
	Abandoned int

	// Stale items no longer matched their document and were dropped unprocessed.
	Stale int
}

// Add accumulates other into s.
func (s *ProcessStats) Add(other ProcessStats) {
	s.Processed += other.Processed
	s.Failed += other.Failed
	s.Abandoned += other.Abandoned
	s.Stale += other.Stale
}

// Total is the number of items taken off the queue.
func (s ProcessStats) Total() int {
	return s.Processed + s.Failed + s.Abandoned + s.Stale
}
