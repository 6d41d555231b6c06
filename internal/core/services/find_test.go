package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keep/internal/core/domain"
)

func seedFind(t *testing.T, k *Keeper) {
	t.Helper()
	put(t, k, "garden", "tomatoes grow in the garden", map[string]string{"area": "home"})
	put(t, k, "work", "quarterly budget review meeting", map[string]string{"area": "work"})
	put(t, k, "bees", "bees pollinate tomatoes", map[string]string{"area": "home"})
}

func TestFind_Semantic(t *testing.T) {
	k := newTestEnv(t).keeper(newFakeEmbedder(), nil, nil)
	ctx := context.Background()
	seedFind(t, k)

	res, err := k.Find(ctx, domain.FindRequest{Query: "quarterly budget review meeting"})
	require.NoError(t, err)
	assert.Equal(t, domain.FindSemantic, res.Mode)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "work", res.Hits[0].ID)
	require.NotNil(t, res.Hits[0].Document)
	assert.Equal(t, "quarterly budget review meeting", res.Hits[0].Document.Summary)

	for i := 1; i < len(res.Hits); i++ {
		assert.GreaterOrEqual(t, res.Hits[i-1].Score, res.Hits[i].Score)
	}
}

func TestFind_TagFilter(t *testing.T) {
	k := newTestEnv(t).keeper(newFakeEmbedder(), nil, nil)
	ctx := context.Background()
	seedFind(t, k)

	res, err := k.Find(ctx, domain.FindRequest{
		Query: "quarterly budget review meeting",
		Tags:  domain.TagFilter{"Area": "HOME"},
	})
	require.NoError(t, err)
	for _, h := range res.Hits {
		assert.Equal(t, "home", h.Tags["area"])
	}
}

func TestFind_FulltextWithoutEmbedder(t *testing.T) {
	k := newTestEnv(t).keeper(nil, nil, nil)
	ctx := context.Background()
	seedFind(t, k)

	res, err := k.Find(ctx, domain.FindRequest{Query: "tomatoes"})
	require.NoError(t, err)
	assert.Equal(t, domain.FindFulltext, res.Mode)

	var ids []string
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	assert.ElementsMatch(t, []string{"garden", "bees"}, ids)
}

func TestFind_HidesVersionsUnlessAsked(t *testing.T) {
	k := newTestEnv(t).keeper(newFakeEmbedder(), nil, nil)
	ctx := context.Background()

	put(t, k, "a", "red apples", nil)
	put(t, k, "a", "green pears", nil)

	res, err := k.Find(ctx, domain.FindRequest{Query: "red apples"})
	require.NoError(t, err)
	for _, h := range res.Hits {
		assert.Equal(t, domain.KeyDocument, h.Kind)
	}

	res, err = k.Find(ctx, domain.FindRequest{Query: "red apples", IncludeVersions: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "a@v1", res.Hits[0].Key)
	assert.Equal(t, "a", res.Hits[0].ID)
	assert.Equal(t, domain.KeyVersion, res.Hits[0].Kind)
	assert.Equal(t, 1, res.Hits[0].Num)
}

func TestFind_EmptyQueryListsRecent(t *testing.T) {
	k := newTestEnv(t).keeper(nil, nil, nil)
	ctx := context.Background()
	seedFind(t, k)

	res, err := k.Find(ctx, domain.FindRequest{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.FindTags, res.Mode)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "bees", res.Hits[0].ID)

	res, err = k.Find(ctx, domain.FindRequest{Tags: domain.TagFilter{"area": "work"}})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "work", res.Hits[0].ID)
}

func TestFind_Since(t *testing.T) {
	env := newTestEnv(t)
	k := env.keeper(newFakeEmbedder(), nil, nil)
	ctx := context.Background()

	put(t, k, "old", "tomatoes last year", nil)
	cutoff := env.clock.Now()
	put(t, k, "new", "tomatoes this year", nil)

	res, err := k.Find(ctx, domain.FindRequest{Query: "tomatoes", Since: cutoff})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "new", res.Hits[0].ID)
}

func TestRecencyWeight(t *testing.T) {
	k := newTestEnv(t).keeper(nil, nil, func(cfg *domain.KeeperConfig) {
		cfg.RecencyHalfLife = 24 * time.Hour
	})
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.InDelta(t, 1.0, k.recencyWeight(now, now), 1e-9)
	assert.InDelta(t, 0.5, k.recencyWeight(now.Add(-24*time.Hour), now), 1e-9)
	assert.InDelta(t, 0.25, k.recencyWeight(now.Add(-48*time.Hour), now), 1e-9)
	assert.InDelta(t, 1.0, k.recencyWeight(time.Time{}, now), 1e-9)

	k.cfg.RecencyHalfLife = 0
	assert.InDelta(t, 1.0, k.recencyWeight(now.Add(-48*time.Hour), now), 1e-9)
}

func TestQueryTags(t *testing.T) {
	k := newTestEnv(t).keeper(nil, nil, nil)
	ctx := context.Background()
	seedFind(t, k)

	docs, err := k.QueryTags(ctx, "", domain.TagFilter{"area": "home"}, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	_, err = k.QueryTags(ctx, "", nil, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
