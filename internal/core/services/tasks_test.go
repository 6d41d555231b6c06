package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keep/internal/core/domain"
)

const threeParagraphs = "Intro to the topic.\n\nThe middle section.\n\nClosing remarks."

func TestAnalyze_UsesSectionerWithoutSummarizer(t *testing.T) {
	env := newTestEnv(t)
	k := env.keeper(newFakeEmbedder(), nil, nil, WithSectioner(paragraphSectioner{}))
	ctx := context.Background()

	put(t, k, "essay", threeParagraphs, map[string]string{"topic": "writing"})

	queued, err := k.Analyze(ctx, domain.AnalyzeRequest{ID: "essay"})
	require.NoError(t, err)
	assert.True(t, queued)

	stats, err := NewProcessor(k, nil, nil).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)

	parts, err := k.ListParts(ctx, "", "essay")
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, 1, parts[0].PartNum)
	assert.Equal(t, "The middle section.", parts[1].Content)
	assert.Equal(t, "writing", parts[2].Tags["topic"])

	part, err := k.GetPart(ctx, "", "essay", 2)
	require.NoError(t, err)
	assert.Equal(t, "The middle section.", part.Summary)

	_, err = k.GetPart(ctx, "", "essay", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	index := activeIndex(t, k, domain.DefaultCollection)
	keys, err := env.vectors.ListIDs(ctx, index)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"essay", "essay@p1", "essay@p2", "essay@p3"}, keys)

	entry, err := env.vectors.Get(ctx, index, "essay@p3")
	require.NoError(t, err)
	assert.Equal(t, "essay", entry.Tags[domain.TagBaseID])
	assert.Equal(t, "3", entry.Tags[domain.TagPartNum])

	doc, err := k.Get(ctx, "", "essay")
	require.NoError(t, err)
	assert.Equal(t, doc.ContentHash, doc.Tags[domain.TagAnalyzedHash])

	// Already analyzed content is skipped unless forced.
	queued, err = k.Analyze(ctx, domain.AnalyzeRequest{ID: "essay"})
	require.NoError(t, err)
	assert.False(t, queued)

	queued, err = k.Analyze(ctx, domain.AnalyzeRequest{ID: "essay", Force: true, Content: "Just one part."})
	require.NoError(t, err)
	assert.True(t, queued)
	_, err = NewProcessor(k, nil, nil).Drain(ctx)
	require.NoError(t, err)

	parts, err = k.ListParts(ctx, "", "essay")
	require.NoError(t, err)
	assert.Len(t, parts, 1)
	keys, err = env.vectors.ListIDs(ctx, index)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"essay", "essay@p1"}, keys, "stale part entries removed")
}

func TestAnalyze_UsesModelDecomposition(t *testing.T) {
	sum := &fakeSummarizer{answer: "Here you go:\n```json\n" +
		`[{"summary": "Opening", "content": "Intro to the topic.", "tags": {"Kind": "Intro"}},` +
		` {"summary": "Rest", "content": "The middle section. Closing remarks."}]` + "\n```"}
	k := newTestEnv(t).keeper(newFakeEmbedder(), sum, nil, WithSectioner(paragraphSectioner{}))
	ctx := context.Background()

	put(t, k, "essay", threeParagraphs, nil)
	_, err := k.Analyze(ctx, domain.AnalyzeRequest{ID: "essay"})
	require.NoError(t, err)
	_, err = NewProcessor(k, nil, nil).Drain(ctx)
	require.NoError(t, err)

	parts, err := k.ListParts(ctx, "", "essay")
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "Opening", parts[0].Summary)
	assert.Equal(t, "intro", parts[0].Tags["kind"])
	assert.Equal(t, 1, sum.analyzed)
}

func TestAnalyze_FallsBackWhenModelFindsNoStructure(t *testing.T) {
	sum := &fakeSummarizer{answer: "[]"}
	k := newTestEnv(t).keeper(nil, sum, nil, WithSectioner(paragraphSectioner{}))
	ctx := context.Background()

	put(t, k, "essay", threeParagraphs, nil)
	_, err := k.Analyze(ctx, domain.AnalyzeRequest{ID: "essay"})
	require.NoError(t, err)
	_, err = NewProcessor(k, nil, nil).Drain(ctx)
	require.NoError(t, err)

	parts, err := k.ListParts(ctx, "", "essay")
	require.NoError(t, err)
	assert.Len(t, parts, 3)
}

func TestAnalyze_Missing(t *testing.T) {
	k := newTestEnv(t).keeper(nil, nil, nil)

	queued, err := k.Analyze(context.Background(), domain.AnalyzeRequest{ID: "missing"})
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestAnalyze_PartsDroppedWhenContentChanges(t *testing.T) {
	k := newTestEnv(t).keeper(nil, nil, nil, WithSectioner(paragraphSectioner{}))
	ctx := context.Background()

	put(t, k, "essay", threeParagraphs, nil)
	_, err := k.Analyze(ctx, domain.AnalyzeRequest{ID: "essay"})
	require.NoError(t, err)
	_, err = NewProcessor(k, nil, nil).Drain(ctx)
	require.NoError(t, err)

	put(t, k, "essay", "Rewritten entirely.", nil)

	parts, err := k.ListParts(ctx, "", "essay")
	require.NoError(t, err)
	assert.Empty(t, parts)

	doc, err := k.Get(ctx, "", "essay")
	require.NoError(t, err)
	assert.NotContains(t, doc.Tags, domain.TagAnalyzedHash)
}

func TestParseParts(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		want    int
		wantErr bool
	}{
		{"plain array", `[{"summary":"a","content":"b"}]`, 1, false},
		{"fenced", "```json\n[{\"summary\":\"a\"},{\"content\":\"b\"}]\n```", 2, false},
		{"empty array", "[]", 0, false},
		{"empty answer", "  ", 0, false},
		{"skips blank entries", `[{"summary":"","content":""},{"summary":"x"}]`, 1, false},
		{"prose only", "I cannot split this.", 0, true},
		{"broken json", `[{"summary": }]`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, err := parseParts(tt.answer)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, parts, tt.want)
		})
	}
}

func TestReindex_OnEmbeddingIdentityChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	oldEmb := newFakeEmbedder()
	k1 := env.keeper(oldEmb, nil, nil)
	put(t, k1, "a", "apples and pears", nil)
	put(t, k1, "a", "apples and plums", nil)
	put(t, k1, "b", "bananas", nil)
	oldIndex := activeIndex(t, k1, domain.DefaultCollection)

	newEmb := newFakeEmbedder()
	newEmb.model = "fake-embed-v2"
	newEmb.dim = 16
	k2 := env.keeper(newEmb, nil, nil)

	res := put(t, k2, "c", "cherries", nil)
	assert.True(t, res.Indexed)

	// Reads stay on the old index until the rebuild completes.
	assert.Equal(t, oldIndex, activeIndex(t, k2, domain.DefaultCollection))
	found, err := k2.Find(ctx, domain.FindRequest{Query: "bananas"})
	require.NoError(t, err)
	assert.Equal(t, domain.FindFulltext, found.Mode)

	stats, err := k2.PendingStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByTaskType[domain.TaskReindex])

	ps, err := NewProcessor(k2, nil, nil).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ps.Processed)

	newIndex := activeIndex(t, k2, domain.DefaultCollection)
	assert.NotEqual(t, oldIndex, newIndex)

	keys, err := env.vectors.ListIDs(ctx, newIndex)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "a@v1", "b", "c"}, keys)

	dim, err := env.vectors.Dimension(ctx, newIndex)
	require.NoError(t, err)
	assert.Equal(t, 16, dim)

	collections, err := env.vectors.ListCollections(ctx)
	require.NoError(t, err)
	assert.NotContains(t, collections, oldIndex)

	found, err = k2.Find(ctx, domain.FindRequest{Query: "bananas"})
	require.NoError(t, err)
	assert.Equal(t, domain.FindSemantic, found.Mode)
	require.NotEmpty(t, found.Hits)
	assert.Equal(t, "b", found.Hits[0].ID)
}

func TestReindex_ProviderChangedAgainIsStale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	put(t, env.keeper(newFakeEmbedder(), nil, nil), "a", "apples", nil)

	second := newFakeEmbedder()
	second.model = "second"
	put(t, env.keeper(second, nil, nil), "b", "bananas", nil)

	third := newFakeEmbedder()
	third.model = "third"
	k := env.keeper(third, nil, nil)

	stats, err := NewProcessor(k, nil, nil).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stale)

	bindings, err := k.bindings(ctx, domain.DefaultCollection)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "fake-embed", bindings[0].Identity.Model)
}
