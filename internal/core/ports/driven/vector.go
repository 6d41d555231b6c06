package driven

import (
	"context"

	"github.com/custodia-labs/keep/internal/core/domain"
)

// VectorIndex stores embeddings with denormalised summary and tags, keyed
// per collection by bare document id or a derived version/part key.
//
// The collection argument is the physical index name from an IndexBinding.
// A collection's dimension is fixed by its first write; later writes with
// a different dimension fail with domain.ErrDimensionMismatch.
type VectorIndex interface {
	// Upsert inserts or replaces the entry under entry.ID.
	Upsert(ctx context.Context, collection string, entry domain.VectorEntry) error

	// UpsertVersion stores an archived version under id@v{version}.
	UpsertVersion(ctx context.Context, collection, id string, version int, entry domain.VectorEntry) error

	// UpsertPart stores a part under id@p{partNum}.
	UpsertPart(ctx context.Context, collection, id string, partNum int, entry domain.VectorEntry) error

	// UpsertBatch inserts or replaces several entries in one transaction.
	UpsertBatch(ctx context.Context, collection string, entries []domain.VectorEntry) error

	// Get returns an entry without its embedding, or nil.
	Get(ctx context.Context, collection, key string) (*domain.VectorEntry, error)

	// GetEmbedding returns a stored embedding, or nil.
	GetEmbedding(ctx context.Context, collection, key string) ([]float32, error)

	// GetEntriesFull returns entries with embeddings; missing keys are omitted.
	GetEntriesFull(ctx context.Context, collection string, keys []string) ([]domain.VectorEntry, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, collection, key string) (bool, error)

	// Delete removes id, and with cascade every id@v*/id@p* key.
	Delete(ctx context.Context, collection, id string, cascade bool) (int, error)

	// DeleteEntries removes the given keys.
	DeleteEntries(ctx context.Context, collection string, keys []string) (int, error)

	// UpdateSummary replaces the summary without re-embedding.
	UpdateSummary(ctx context.Context, collection, key, summary string) (bool, error)

	// UpdateTags replaces the tags without re-embedding.
	UpdateTags(ctx context.Context, collection, key string, tags map[string]string) (bool, error)

	// QueryEmbedding returns the nearest neighbours of vec, closest first.
	QueryEmbedding(ctx context.Context, collection string, vec []float32, limit int,
		filter domain.TagFilter) ([]domain.VectorHit, error)

	// QueryMetadata returns entries whose tags match filter.
	QueryMetadata(ctx context.Context, collection string, filter domain.TagFilter, limit int) ([]domain.VectorHit, error)

	// QueryFulltext matches text against stored summaries.
	QueryFulltext(ctx context.Context, collection, text string, limit int,
		filter domain.TagFilter) ([]domain.VectorHit, error)

	// ListIDs returns every key in a collection.
	ListIDs(ctx context.Context, collection string) ([]string, error)

	// FindMissingIDs returns the candidate ids that are not present.
	FindMissingIDs(ctx context.Context, collection string, ids []string) ([]string, error)

	// Dimension returns the established dimension, or zero.
	Dimension(ctx context.Context, collection string) (int, error)

	// ListCollections returns all collections.
	ListCollections(ctx context.Context) ([]string, error)

	// DeleteCollection drops a collection and its entries.
	DeleteCollection(ctx context.Context, collection string) error

	// Count returns the number of entries in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases resources.
	Close() error
}
