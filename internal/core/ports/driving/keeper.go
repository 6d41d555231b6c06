package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/keep/internal/core/domain"
)

// Keeper is the memory engine: writes, version history, parts, search
// and index maintenance.
//
// Lookups of absent documents return (nil, nil) or false. Malformed ids,
// collections and tags fail with domain.ErrInvalidInput before any store
// access. An empty collection means the configured default.
type Keeper interface {
	// Put writes content or the content of a URI.
	Put(ctx context.Context, req domain.PutRequest) (*domain.PutResult, error)

	// Get returns the current state and records the access.
	Get(ctx context.Context, collection, id string) (*domain.Document, error)

	// Exists reports whether a current state exists.
	Exists(ctx context.Context, collection, id string) (bool, error)

	// Delete removes the document, its history, parts, index entries and
	// queued work.
	Delete(ctx context.Context, collection, id string) (bool, error)

	// Tag merges tags into the current state without archiving.
	// An empty value removes the key.
	Tag(ctx context.Context, collection, id string, tags map[string]string) (*domain.Document, error)

	// SetSummary replaces the summary without archiving.
	SetSummary(ctx context.Context, collection, id, summary string) (*domain.Document, error)

	// Revert promotes the newest archived version to current. With no
	// history the document is deleted and nil is returned.
	Revert(ctx context.Context, collection, id string) (*domain.Document, error)

	// Move extracts versions of one document into another.
	Move(ctx context.Context, req domain.MoveRequest) (*domain.MoveResult, error)

	// ListVersions returns archived versions, newest first.
	ListVersions(ctx context.Context, collection, id string, limit int) ([]domain.Version, error)

	// GetVersion returns the state at offset; 0 is current.
	GetVersion(ctx context.Context, collection, id string, offset int) (*domain.Version, error)

	// VersionNav returns the neighbouring offsets of offset.
	VersionNav(ctx context.Context, collection, id string, offset int) (*domain.VersionNav, error)

	// ListParts returns the parts of a document.
	ListParts(ctx context.Context, collection, id string) ([]domain.Part, error)

	// GetPart returns one part.
	GetPart(ctx context.Context, collection, id string, partNum int) (*domain.Part, error)

	// Analyze queues decomposition into parts. Returns false when the
	// content was already decomposed.
	Analyze(ctx context.Context, req domain.AnalyzeRequest) (bool, error)

	// Find ranks documents by similarity to a query, or by recency when
	// the query is empty.
	Find(ctx context.Context, req domain.FindRequest) (*domain.FindResult, error)

	// QueryTags returns documents carrying every tag in filter.
	QueryTags(ctx context.Context, collection string, filter domain.TagFilter, limit int) ([]domain.Document, error)

	// ListRecent returns recently updated documents.
	ListRecent(ctx context.Context, collection string, limit int, since time.Time) ([]domain.Document, error)

	// Collections returns collections holding documents.
	Collections(ctx context.Context) ([]string, error)

	// Status describes a collection.
	Status(ctx context.Context, collection string) (*domain.StoreStatus, error)

	// CheckConsistency compares the document and index id-sets.
	CheckConsistency(ctx context.Context, collection string) (*domain.ConsistencyReport, error)

	// Reconcile repairs missing index entries and then removes orphans.
	// Without an embedding provider a fixing pass is skipped.
	Reconcile(ctx context.Context, collection string, fix bool) (*domain.ReconcileResult, error)

	// PendingStatus returns queued work for a document id.
	PendingStatus(ctx context.Context, id string) ([]domain.PendingItem, error)

	// PendingStats summarises the work queue.
	PendingStats(ctx context.Context) (*domain.PendingStats, error)

	// ClearPending empties the work queue.
	ClearPending(ctx context.Context) (int, error)

	// Close releases providers and stores.
	Close() error
}

// Processor drains the pending work queue. Only one processor may run
// per store at a time.
type Processor interface {
	// RunOnce processes at most limit items.
	RunOnce(ctx context.Context, limit int) (domain.ProcessStats, error)

	// Drain processes items until the queue is empty or ctx is done.
	Drain(ctx context.Context) (domain.ProcessStats, error)

	// Run drains, then waits for new work until ctx is done.
	Run(ctx context.Context) error
}
