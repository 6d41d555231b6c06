package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/keep/internal/core/domain"
)

// UpsertResult reports the outcome of DocumentStore.Upsert.
type UpsertResult struct {
	Document *domain.Document

	// Previous is the state that was replaced, nil on create.
	Previous *domain.Document

	// ContentChanged compares content hashes only; tag changes do not count.
	ContentChanged bool

	// ArchivedVersion is the number the previous state was archived as, or zero.
	ArchivedVersion int
}

// VersionMove maps a moved state from its source number to its target number.
// Zero denotes the current state on either side.
type VersionMove struct {
	From int
	To   int
}

// ExtractResult reports the outcome of DocumentStore.ExtractVersions.
type ExtractResult struct {
	// Target is the new current state of the target document.
	Target *domain.Document

	// Source is the new current state of the source, nil if deleted.
	Source *domain.Document

	// Extracted is how many states (versions plus current) moved.
	Extracted int

	// BaseVersion is the first version number assigned in the target.
	BaseVersion int

	// Moves lists every moved state, oldest first.
	Moves []VersionMove

	// TargetArchived is the version the target's prior current state was
	// archived as, or zero when the target did not exist.
	TargetArchived int

	// SourcePromoted is the source version promoted to current after its
	// current state moved, or zero.
	SourcePromoted int

	// SourcePartsDropped and TargetPartsDropped count parts invalidated
	// because the current content of that document changed.
	SourcePartsDropped int
	TargetPartsDropped int
}

// DocumentStore is the canonical, transactional store of current documents,
// archived versions and parts.
//
// Not-found lookups return (nil, nil); callers treat absence as a value.
type DocumentStore interface {
	// Upsert installs doc as the current state in one exclusive transaction.
	// When the existing state has a different content hash it is archived as
	// the next version first; otherwise it is replaced in place.
	// CreatedAt of an existing document is preserved.
	Upsert(ctx context.Context, doc *domain.Document) (*UpsertResult, error)

	// Get returns the current state.
	Get(ctx context.Context, collection, id string) (*domain.Document, error)

	// GetMany returns current states keyed by id; missing ids are omitted.
	GetMany(ctx context.Context, collection string, ids []string) (map[string]*domain.Document, error)

	// Exists reports whether a current state exists.
	Exists(ctx context.Context, collection, id string) (bool, error)

	// UpdateSummary replaces the summary without archiving.
	// Returns false when the document does not exist.
	UpdateSummary(ctx context.Context, collection, id, summary string) (bool, error)

	// UpdateTags replaces the tags without archiving.
	UpdateTags(ctx context.Context, collection, id string, tags map[string]string) (bool, error)

	// Touch updates access time. Failures are logged, never returned to readers.
	Touch(ctx context.Context, collection, id string)

	// TouchMany updates access time for several documents.
	TouchMany(ctx context.Context, collection string, ids []string)

	// Delete removes the current state, and versions and parts when deleteVersions is set.
	Delete(ctx context.Context, collection, id string, deleteVersions bool) (bool, error)

	// RestoreLatestVersion promotes the newest archived version to current,
	// deletes that version row and returns its number. With no versions the
	// document is deleted and (nil, 0, nil) is returned.
	RestoreLatestVersion(ctx context.Context, collection, id string) (*domain.Document, int, error)

	// ExtractVersions moves the states of source matching filter (all when
	// empty, current only when onlyCurrent) into target in one transaction.
	ExtractVersions(ctx context.Context, collection, source, target string,
		filter domain.TagFilter, onlyCurrent bool) (*ExtractResult, error)

	// ListVersions returns archived versions, newest first.
	ListVersions(ctx context.Context, collection, id string, limit int) ([]domain.Version, error)

	// GetVersion returns the state at offset (0 = current as a version with
	// number 0, 1 = newest archived).
	GetVersion(ctx context.Context, collection, id string, offset int) (*domain.Version, error)

	// VersionNav returns neighbouring offsets of offset.
	VersionNav(ctx context.Context, collection, id string, offset int) (*domain.VersionNav, error)

	// CountVersions returns the number of archived versions.
	CountVersions(ctx context.Context, collection, id string) (int, error)

	// ReplaceParts atomically replaces all parts of a document.
	ReplaceParts(ctx context.Context, collection, id string, parts []domain.Part) error

	// ListParts returns parts ordered by part number.
	ListParts(ctx context.Context, collection, id string) ([]domain.Part, error)

	// GetPart returns one part.
	GetPart(ctx context.Context, collection, id string, partNum int) (*domain.Part, error)

	// DeleteParts removes all parts and returns how many were removed.
	DeleteParts(ctx context.Context, collection, id string) (int, error)

	// DerivedKeys returns the version and part vector keys that should exist
	// for a collection.
	DerivedKeys(ctx context.Context, collection string) ([]string, error)

	// ListIDs returns every current document id in a collection.
	ListIDs(ctx context.Context, collection string) ([]string, error)

	// ListRecent returns documents ordered by update time, newest first.
	ListRecent(ctx context.Context, collection string, limit int, since time.Time) ([]domain.Document, error)

	// QueryByTags returns documents carrying every tag in filter.
	QueryByTags(ctx context.Context, collection string, filter domain.TagFilter, limit int) ([]domain.Document, error)

	// ListCollections returns collections holding at least one document.
	ListCollections(ctx context.Context) ([]string, error)

	// Count returns (documents, versions, parts) in a collection.
	Count(ctx context.Context, collection string) (docs, versions, parts int, err error)

	// Bindings returns index bindings for a collection, active first.
	Bindings(ctx context.Context, collection string) ([]domain.IndexBinding, error)

	// SaveBinding inserts or replaces a binding keyed by (collection, index name).
	SaveBinding(ctx context.Context, binding domain.IndexBinding) error

	// DeleteBinding removes a binding.
	DeleteBinding(ctx context.Context, collection, indexName string) error
}
