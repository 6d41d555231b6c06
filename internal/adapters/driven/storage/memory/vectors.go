package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/viant/vec/search"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// Ensure VectorIndex implements the interface.
var _ driven.VectorIndex = (*VectorIndex)(nil)

type vectorEntry struct {
	entry     domain.VectorEntry
	magnitude float32
	seq       uint64
}

type vectorCollection struct {
	dimension int
	entries   map[string]*vectorEntry
}

// VectorIndex is an in-memory driven.VectorIndex. Nothing is persisted;
// it backs tests and the vector.backend = "memory" setting.
type VectorIndex struct {
	mu          sync.RWMutex
	collections map[string]*vectorCollection
	seq         uint64
}

// NewVectorIndex creates an empty index.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{collections: make(map[string]*vectorCollection)}
}

// Upsert inserts or replaces one entry.
func (v *VectorIndex) Upsert(ctx context.Context, collection string, entry domain.VectorEntry) error {
	return v.UpsertBatch(ctx, collection, []domain.VectorEntry{entry})
}

// UpsertVersion stores an archived version under id@v{version}.
func (v *VectorIndex) UpsertVersion(ctx context.Context, collection, id string, version int,
	entry domain.VectorEntry) error {
	return v.Upsert(ctx, collection, domain.VersionEntry(id, version, entry))
}

// UpsertPart stores a part under id@p{partNum}.
func (v *VectorIndex) UpsertPart(ctx context.Context, collection, id string, partNum int,
	entry domain.VectorEntry) error {
	return v.Upsert(ctx, collection, domain.PartEntry(id, partNum, entry))
}

// UpsertBatch writes all entries or none.
func (v *VectorIndex) UpsertBatch(_ context.Context, collection string, entries []domain.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	dim := len(entries[0].Embedding)
	if dim == 0 {
		return fmt.Errorf("%w: empty embedding for %s", domain.ErrInvalidInput, entries[0].ID)
	}
	for _, e := range entries {
		if len(e.Embedding) != dim {
			return fmt.Errorf("%w: batch mixes dimensions %d and %d", domain.ErrDimensionMismatch,
				dim, len(e.Embedding))
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	c, ok := v.collections[collection]
	if !ok {
		c = &vectorCollection{dimension: dim, entries: make(map[string]*vectorEntry)}
		v.collections[collection] = c
	} else if c.dimension != dim {
		return fmt.Errorf("%w: collection %s has dimension %d, got %d", domain.ErrDimensionMismatch,
			collection, c.dimension, dim)
	}

	for _, e := range entries {
		v.seq++
		stored := domain.VectorEntry{
			ID:        e.ID,
			Embedding: append([]float32(nil), e.Embedding...),
			Summary:   e.Summary,
			Tags:      domain.CloneTags(e.Tags),
		}
		c.entries[e.ID] = &vectorEntry{
			entry:     stored,
			magnitude: search.Float32s(stored.Embedding).Magnitude(),
			seq:       v.seq,
		}
	}
	return nil
}

// Get returns an entry without its embedding.
func (v *VectorIndex) Get(_ context.Context, collection, key string) (*domain.VectorEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e := v.lookup(collection, key)
	if e == nil {
		return nil, nil
	}
	return &domain.VectorEntry{ID: e.entry.ID, Summary: e.entry.Summary, Tags: domain.CloneTags(e.entry.Tags)}, nil
}

// GetEmbedding returns a copy of the stored embedding.
func (v *VectorIndex) GetEmbedding(_ context.Context, collection, key string) ([]float32, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e := v.lookup(collection, key)
	if e == nil {
		return nil, nil
	}
	return append([]float32(nil), e.entry.Embedding...), nil
}

// GetEntriesFull returns the entries for keys in key order.
func (v *VectorIndex) GetEntriesFull(_ context.Context, collection string, keys []string) ([]domain.VectorEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []domain.VectorEntry
	for _, k := range keys {
		if e := v.lookup(collection, k); e != nil {
			out = append(out, domain.VectorEntry{
				ID:        e.entry.ID,
				Embedding: append([]float32(nil), e.entry.Embedding...),
				Summary:   e.entry.Summary,
				Tags:      domain.CloneTags(e.entry.Tags),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Exists reports whether key is present.
func (v *VectorIndex) Exists(_ context.Context, collection, key string) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lookup(collection, key) != nil, nil
}

// Delete removes id and, with cascade, its derived entries.
func (v *VectorIndex) Delete(_ context.Context, collection, id string, cascade bool) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.collections[collection]
	if !ok {
		return 0, nil
	}
	n := 0
	for key := range c.entries {
		base, kind, _ := domain.ParseKey(key)
		if key == id || (cascade && kind != domain.KeyDocument && base == id) {
			delete(c.entries, key)
			n++
		}
	}
	return n, nil
}

// DeleteEntries removes the given keys.
func (v *VectorIndex) DeleteEntries(_ context.Context, collection string, keys []string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.collections[collection]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, k := range keys {
		if _, ok := c.entries[k]; ok {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

// UpdateSummary replaces the summary of key.
func (v *VectorIndex) UpdateSummary(_ context.Context, collection, key, summary string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e := v.lookup(collection, key)
	if e == nil {
		return false, nil
	}
	v.seq++
	e.entry.Summary = summary
	e.seq = v.seq
	return true, nil
}

// UpdateTags replaces the tags of key.
func (v *VectorIndex) UpdateTags(_ context.Context, collection, key string, tags map[string]string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e := v.lookup(collection, key)
	if e == nil {
		return false, nil
	}
	v.seq++
	e.entry.Tags = domain.CloneTags(tags)
	e.seq = v.seq
	return true, nil
}

// QueryEmbedding ranks entries by cosine distance to vec.
func (v *VectorIndex) QueryEmbedding(_ context.Context, collection string, vec []float32, limit int,
	filter domain.TagFilter) ([]domain.VectorHit, error) {
	if limit <= 0 || len(vec) == 0 {
		return nil, nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.collections[collection]
	if !ok {
		return nil, nil
	}
	if c.dimension != len(vec) {
		return nil, fmt.Errorf("%w: collection %s has dimension %d, query has %d",
			domain.ErrDimensionMismatch, collection, c.dimension, len(vec))
	}

	query := search.Float32s(vec)
	qmag := query.Magnitude()
	hits := make([]domain.VectorHit, 0, len(c.entries))
	for _, e := range c.entries {
		if !filter.Matches(e.entry.Tags) {
			continue
		}
		d := 1.0
		if qmag != 0 && e.magnitude != 0 {
			d = float64(query.CosineDistance(e.entry.Embedding))
		}
		hits = append(hits, domain.VectorHit{
			ID:         e.entry.ID,
			Summary:    e.entry.Summary,
			Tags:       domain.CloneTags(e.entry.Tags),
			Distance:   d,
			Similarity: domain.Similarity(d),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// QueryMetadata returns entries whose tags match filter, most recently written first.
func (v *VectorIndex) QueryMetadata(_ context.Context, collection string, filter domain.TagFilter,
	limit int) ([]domain.VectorHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.collections[collection]
	if !ok {
		return nil, nil
	}

	matched := make([]*vectorEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if filter.Matches(e.entry.Tags) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })
	if len(matched) > limit {
		matched = matched[:limit]
	}

	hits := make([]domain.VectorHit, 0, len(matched))
	for _, e := range matched {
		hits = append(hits, domain.VectorHit{
			ID:         e.entry.ID,
			Summary:    e.entry.Summary,
			Tags:       domain.CloneTags(e.entry.Tags),
			Similarity: 1,
		})
	}
	return hits, nil
}

// QueryFulltext scores summaries by the fraction of query terms they contain.
func (v *VectorIndex) QueryFulltext(_ context.Context, collection, text string, limit int,
	filter domain.TagFilter) ([]domain.VectorHit, error) {
	terms := tokenize(text)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.collections[collection]
	if !ok {
		return nil, nil
	}

	var hits []domain.VectorHit
	for _, e := range c.entries {
		if !filter.Matches(e.entry.Tags) {
			continue
		}
		words := make(map[string]struct{})
		for _, w := range tokenize(e.entry.Summary) {
			words[w] = struct{}{}
		}
		matched := 0
		for _, t := range terms {
			if _, ok := words[t]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, domain.VectorHit{
			ID:         e.entry.ID,
			Summary:    e.entry.Summary,
			Tags:       domain.CloneTags(e.entry.Tags),
			Similarity: float64(matched) / float64(len(terms)),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ListIDs returns every key in the collection, sorted.
func (v *VectorIndex) ListIDs(_ context.Context, collection string) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.collections[collection]
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(c.entries))
	for k := range c.entries {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids, nil
}

// FindMissingIDs returns the ids with no entry, in input order.
func (v *VectorIndex) FindMissingIDs(_ context.Context, collection string, ids []string) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var missing []string
	for _, id := range ids {
		if v.lookup(collection, id) == nil {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Dimension returns the established dimension, or zero.
func (v *VectorIndex) Dimension(_ context.Context, collection string) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if c, ok := v.collections[collection]; ok {
		return c.dimension, nil
	}
	return 0, nil
}

// ListCollections returns collection names, sorted.
func (v *VectorIndex) ListCollections(_ context.Context) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, 0, len(v.collections))
	for name := range v.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteCollection drops a collection.
func (v *VectorIndex) DeleteCollection(_ context.Context, collection string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.collections, collection)
	return nil
}

// Count returns the number of entries.
func (v *VectorIndex) Count(_ context.Context, collection string) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if c, ok := v.collections[collection]; ok {
		return len(c.entries), nil
	}
	return 0, nil
}

// Close is a no-op.
func (v *VectorIndex) Close() error {
	return nil
}

func (v *VectorIndex) lookup(collection, key string) *vectorEntry {
	c, ok := v.collections[collection]
	if !ok {
		return nil
	}
	return c.entries[key]
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
