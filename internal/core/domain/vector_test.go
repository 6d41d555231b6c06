package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity(0), 1e-9)
	assert.InDelta(t, 0.5, Similarity(1), 1e-9)
	assert.InDelta(t, 1.0, Similarity(-0.1), 1e-9)
	assert.Greater(t, Similarity(0.2), Similarity(0.8))
}

func TestEmbeddingIdentity_IndexName(t *testing.T) {
	id := EmbeddingIdentity{Provider: "ollama", Model: "nomic-embed-text:latest", Dimension: 768}

	assert.Equal(t, "notes__ollama_nomic_embed_text_latest_768", id.IndexName("notes"))
	assert.Equal(t, "ollama/nomic-embed-text:latest/768", id.String())
	assert.False(t, id.IsZero())
	assert.True(t, EmbeddingIdentity{}.IsZero())
}

func TestTaskType_IsValid(t *testing.T) {
	assert.True(t, TaskSummarize.IsValid())
	assert.True(t, TaskAnalyze.IsValid())
	assert.True(t, TaskReindex.IsValid())
	assert.False(t, TaskType("tag").IsValid())
}

func TestDefaultKeeperConfig(t *testing.T) {
	cfg := DefaultKeeperConfig()

	assert.Equal(t, DefaultCollection, cfg.DefaultCollection)
	assert.Equal(t, 5, cfg.Processor.MaxAttempts)
	assert.Equal(t, VectorBackendSQLite, cfg.Vector.Backend)
	assert.Equal(t, SerializeAuto, cfg.Models.Serialize)
	assert.False(t, cfg.Embedding.IsConfigured())
}

func TestProviderSettings_IsConfigured(t *testing.T) {
	assert.True(t, ProviderSettings{Provider: AIProviderOllama}.IsConfigured())
	assert.False(t, ProviderSettings{Provider: AIProviderOpenAI}.IsConfigured())
	assert.True(t, ProviderSettings{Provider: AIProviderOpenAI, APIKey: "k"}.IsConfigured())
	assert.False(t, ProviderSettings{Provider: "bogus"}.IsConfigured())
}

func TestDocument_Clone(t *testing.T) {
	d := &Document{ID: "a", Tags: map[string]string{"k": "v"}}
	c := d.Clone()
	c.Tags["k"] = "changed"

	assert.Equal(t, "v", d.Tags["k"])
	assert.Nil(t, (*Document)(nil).Clone())

	v := d.AsVersion(2, d.UpdatedAt)
	assert.Equal(t, 2, v.Version)
	assert.Equal(t, "a", v.ID)
}

func TestVersionAndPartEntry(t *testing.T) {
	e := VectorEntry{ID: "a", Summary: "s", Tags: map[string]string{"k": "v"}}

	v := VersionEntry("a", 2, e)
	assert.Equal(t, "a@v2", v.ID)
	assert.Equal(t, "a", v.Tags[TagBaseID])
	assert.Equal(t, "2", v.Tags[TagVersion])
	assert.Equal(t, "v", v.Tags["k"])
	assert.NotContains(t, e.Tags, TagBaseID)

	p := PartEntry("a", 3, e)
	assert.Equal(t, "a@p3", p.ID)
	assert.Equal(t, "3", p.Tags[TagPartNum])
}
