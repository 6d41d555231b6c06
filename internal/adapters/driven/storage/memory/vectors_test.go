package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keep/internal/core/domain"
)

func TestVectorIndex_QueryEmbedding(t *testing.T) {
	idx := NewVectorIndex()
	ctx := context.Background()

	require.NoError(t, idx.UpsertBatch(ctx, "c", []domain.VectorEntry{
		{ID: "x", Embedding: []float32{1, 0}, Summary: "x", Tags: map[string]string{"axis": "x"}},
		{ID: "y", Embedding: []float32{0, 1}, Summary: "y", Tags: map[string]string{"axis": "y"}},
		{ID: "xy", Embedding: []float32{1, 1}, Summary: "xy"},
	}))

	hits, err := idx.QueryEmbedding(ctx, "c", []float32{1, 0.1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"x", "xy", "y"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})

	hits, err = idx.QueryEmbedding(ctx, "c", []float32{1, 0}, 10, domain.TagFilter{"axis": "y"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "y", hits[0].ID)

	_, err = idx.QueryEmbedding(ctx, "c", []float32{1, 0, 0}, 10, nil)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestVectorIndex_DimensionMismatchOnWrite(t *testing.T) {
	idx := NewVectorIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "c", domain.VectorEntry{ID: "a", Embedding: []float32{1, 2}}))
	err := idx.Upsert(ctx, "c", domain.VectorEntry{ID: "b", Embedding: []float32{1, 2, 3}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	err = idx.Upsert(ctx, "c", domain.VectorEntry{ID: "b"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	n, err := idx.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVectorIndex_CascadeDelete(t *testing.T) {
	idx := NewVectorIndex()
	ctx := context.Background()
	vec := []float32{1, 0}

	require.NoError(t, idx.Upsert(ctx, "c", domain.VectorEntry{ID: "doc", Embedding: vec}))
	require.NoError(t, idx.UpsertVersion(ctx, "c", "doc", 1, domain.VectorEntry{Embedding: vec}))
	require.NoError(t, idx.UpsertPart(ctx, "c", "doc", 1, domain.VectorEntry{Embedding: vec}))
	require.NoError(t, idx.Upsert(ctx, "c", domain.VectorEntry{ID: "doc2", Embedding: vec}))

	part, err := idx.Get(ctx, "c", "doc@p1")
	require.NoError(t, err)
	require.NotNil(t, part)
	assert.Equal(t, "1", part.Tags[domain.TagPartNum])

	n, err := idx.Delete(ctx, "c", "doc", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = idx.Delete(ctx, "c", "doc", true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := idx.ListIDs(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc2"}, ids)
}

func TestVectorIndex_FulltextAndMetadata(t *testing.T) {
	idx := NewVectorIndex()
	ctx := context.Background()
	vec := []float32{1}

	require.NoError(t, idx.Upsert(ctx, "c", domain.VectorEntry{ID: "a", Embedding: vec,
		Summary: "SQLite locking notes", Tags: map[string]string{"topic": "db"}}))
	require.NoError(t, idx.Upsert(ctx, "c", domain.VectorEntry{ID: "b", Embedding: vec,
		Summary: "garden notes", Tags: map[string]string{"topic": "home"}}))

	hits, err := idx.QueryFulltext(ctx, "c", "sqlite notes", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	assert.InDelta(t, 0.5, hits[1].Similarity, 1e-9)

	hits, err = idx.QueryMetadata(ctx, "c", domain.TagFilter{"topic": ""}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].ID, "most recently written first")

	ok, err := idx.UpdateTags(ctx, "c", "a", map[string]string{"topic": "home"})
	require.NoError(t, err)
	assert.True(t, ok)
	hits, err = idx.QueryMetadata(ctx, "c", domain.TagFilter{"topic": "home"}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestVectorIndex_ReturnsCopies(t *testing.T) {
	idx := NewVectorIndex()
	ctx := context.Background()
	vec := []float32{1, 2}

	require.NoError(t, idx.Upsert(ctx, "c", domain.VectorEntry{ID: "a", Embedding: vec}))
	vec[0] = 99

	got, err := idx.GetEmbedding(ctx, "c", "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got)

	got[1] = 42
	again, err := idx.GetEmbedding(ctx, "c", "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, again)
}

func TestVectorIndex_MissingAndCollections(t *testing.T) {
	idx := NewVectorIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "b", domain.VectorEntry{ID: "a", Embedding: []float32{1}}))
	require.NoError(t, idx.Upsert(ctx, "a", domain.VectorEntry{ID: "a", Embedding: []float32{1}}))

	missing, err := idx.FindMissingIDs(ctx, "a", []string{"x", "a", "y"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, missing)

	names, err := idx.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, idx.DeleteCollection(ctx, "a"))
	dim, err := idx.Dimension(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, dim)
}

func TestVectorIndex_ConcurrentWrites(t *testing.T) {
	idx := NewVectorIndex()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			_ = idx.Upsert(ctx, "c", domain.VectorEntry{ID: id, Embedding: []float32{float32(n), 1}})
			_, _ = idx.QueryEmbedding(ctx, "c", []float32{1, 1}, 5, nil)
		}(i)
	}
	wg.Wait()

	n, err := idx.Count(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}
