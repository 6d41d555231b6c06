package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// seedHistory writes one document whose states carry the given topic tags,
// oldest first. State i has hash "h<i>".
func seedHistory(t *testing.T, docs driven.DocumentStore, id string, topics ...string) {
	t.Helper()
	for i, topic := range topics {
		hash := id + "-h" + string(rune('0'+i))
		_, err := docs.Upsert(context.Background(), testDoc(id, topic+" state", hash,
			map[string]string{"topic": topic}))
		require.NoError(t, err)
	}
}

func TestExtractVersions_MatchingStatesMoveToNewTarget(t *testing.T) {
	docs := setupTestStore(t).DocumentStore()
	ctx := context.Background()
	// versions 1:go 2:rust 3:go, current: rust
	seedHistory(t, docs, "src", "go", "rust", "go", "rust")

	res, err := docs.ExtractVersions(ctx, "default", "src", "tgt", domain.TagFilter{"topic": "go"}, false)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Extracted)
	assert.Equal(t, 1, res.BaseVersion)
	assert.Equal(t, []driven.VersionMove{{From: 1, To: 1}, {From: 3, To: 0}}, res.Moves)

	require.NotNil(t, res.Target)
	assert.Equal(t, "src-h2", res.Target.ContentHash)

	tgtVersions, err := docs.ListVersions(ctx, "default", "tgt", 0)
	require.NoError(t, err)
	require.Len(t, tgtVersions, 1)
	assert.Equal(t, "src-h0", tgtVersions[0].ContentHash)

	// Source keeps its current state and loses the moved versions.
	require.NotNil(t, res.Source)
	assert.Equal(t, "src-h3", res.Source.ContentHash)
	srcVersions, err := docs.ListVersions(ctx, "default", "src", 0)
	require.NoError(t, err)
	require.Len(t, srcVersions, 1)
	assert.Equal(t, 2, srcVersions[0].Version)
}

func TestExtractVersions_CurrentMovedPromotesRemaining(t *testing.T) {
	docs := setupTestStore(t).DocumentStore()
	ctx := context.Background()
	seedHistory(t, docs, "src", "rust", "go")
	require.NoError(t, docs.ReplaceParts(ctx, "default", "src", []domain.Part{{Summary: "p"}}))

	res, err := docs.ExtractVersions(ctx, "default", "src", "tgt", domain.TagFilter{"topic": "go"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Extracted)
	assert.Equal(t, 1, res.SourcePromoted)
	assert.Equal(t, 1, res.SourcePartsDropped)

	src, err := docs.Get(ctx, "default", "src")
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, "src-h0", src.ContentHash)

	n, err := docs.CountVersions(ctx, "default", "src")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExtractVersions_EverythingMovedDeletesSource(t *testing.T) {
	docs := setupTestStore(t).DocumentStore()
	ctx := context.Background()
	seedHistory(t, docs, "src", "go", "go")

	res, err := docs.ExtractVersions(ctx, "default", "src", "tgt", nil, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Extracted)
	assert.Nil(t, res.Source)

	exists, err := docs.Exists(ctx, "default", "src")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExtractVersions_ExistingTargetIsArchived(t *testing.T) {
	docs := setupTestStore(t).DocumentStore()
	ctx := context.Background()
	seedHistory(t, docs, "tgt", "old")
	seedHistory(t, docs, "src", "go", "rust")
	require.NoError(t, docs.ReplaceParts(ctx, "default", "tgt", []domain.Part{{Summary: "p"}}))

	res, err := docs.ExtractVersions(ctx, "default", "src", "tgt", nil, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Extracted)
	assert.Equal(t, 1, res.TargetArchived)
	assert.Equal(t, 1, res.TargetPartsDropped)
	assert.Equal(t, 2, res.BaseVersion)
	assert.Equal(t, []driven.VersionMove{{From: 0, To: 0}}, res.Moves)

	tgt, err := docs.Get(ctx, "default", "tgt")
	require.NoError(t, err)
	assert.Equal(t, "src-h1", tgt.ContentHash)

	v1, err := docs.GetVersion(ctx, "default", "tgt", 1)
	require.NoError(t, err)
	require.NotNil(t, v1)
	assert.Equal(t, "tgt-h0", v1.ContentHash)

	// Source promoted its only version.
	src, err := docs.Get(ctx, "default", "src")
	require.NoError(t, err)
	assert.Equal(t, "src-h0", src.ContentHash)
}

func TestExtractVersions_NoMatchChangesNothing(t *testing.T) {
	docs := setupTestStore(t).DocumentStore()
	ctx := context.Background()
	seedHistory(t, docs, "src", "go")

	res, err := docs.ExtractVersions(ctx, "default", "src", "tgt", domain.TagFilter{"topic": "none"}, false)
	require.NoError(t, err)
	assert.Zero(t, res.Extracted)
	assert.NotNil(t, res.Source)

	exists, err := docs.Exists(ctx, "default", "tgt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExtractVersions_MissingSourceAndSameTarget(t *testing.T) {
	docs := setupTestStore(t).DocumentStore()
	ctx := context.Background()

	res, err := docs.ExtractVersions(ctx, "default", "nope", "tgt", nil, false)
	require.NoError(t, err)
	assert.Nil(t, res)

	_, err = docs.ExtractVersions(ctx, "default", "a", "a", nil, false)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
