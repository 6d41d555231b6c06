package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keep/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/keep/internal/core/domain"
)

func noEnv() []string { return nil }

func newSettings(values map[string]any, env ...string) *SettingsService {
	return NewSettingsService(memory.NewConfigStore(values), nil, WithEnviron(func() []string { return env }))
}

type stubValidator struct {
	embedCalls, summCalls int
	err                   error
}

func (v *stubValidator) ValidateEmbedding(_ context.Context, _ domain.ProviderSettings) error {
	v.embedCalls++
	return v.err
}

func (v *stubValidator) ValidateSummarizer(_ context.Context, _ domain.ProviderSettings) error {
	v.summCalls++
	return v.err
}

func TestSettingsService_Get_ReturnsDefaults(t *testing.T) {
	cfg, err := newSettings(nil).Get()
	require.NoError(t, err)

	defaults := domain.DefaultKeeperConfig()
	assert.Equal(t, defaults.DefaultCollection, cfg.DefaultCollection)
	assert.Equal(t, defaults.MaxSummaryLength, cfg.MaxSummaryLength)
	assert.Equal(t, defaults.RecencyHalfLife, cfg.RecencyHalfLife)
	assert.Equal(t, defaults.Processor, cfg.Processor)
	assert.Equal(t, defaults.Analysis.Sectioners, cfg.Analysis.Sectioners)
	assert.Equal(t, domain.AIProviderNone, cfg.Embedding.Provider)
	assert.Equal(t, domain.AIProviderNone, cfg.Summarizer.Provider)
	assert.Empty(t, cfg.DefaultTags)
	assert.Empty(t, cfg.EnvironmentTags)
}

func TestSettingsService_Get_StorePath(t *testing.T) {
	svc := NewSettingsService(memory.NewConfigStore(nil), nil, WithEnviron(noEnv), WithStorePath("/data/keep"))
	cfg, err := svc.Get()
	require.NoError(t, err)
	assert.Equal(t, "/data/keep", cfg.StorePath)
}

func TestSettingsService_Get_ReturnsStoredValues(t *testing.T) {
	svc := newSettings(map[string]any{
		"default_collection":        "notes",
		"max_summary_length":        int64(200),
		"recency_half_life":         "72h",
		"tags":                      map[string]any{"project": "keep", "n": int64(3)},
		"embedding.provider":        "ollama",
		"summarizer.provider":       "openai",
		"summarizer.api_key":        "sk-test",
		"vector.backend":            "pgvector",
		"vector.database_url":       "postgres://localhost/keep",
		"models.serialize":          "always",
		"processor.embed_rate":      int64(0),
		"analysis.sectioners":       []any{"chunker"},
		"analysis.chunk_size":       int64(500),
		"processor.poll_interval":   "5s",
		"models.min_free_memory_mb": int64(1024),
	})

	cfg, err := svc.Get()
	require.NoError(t, err)

	assert.Equal(t, "notes", cfg.DefaultCollection)
	assert.Equal(t, 200, cfg.MaxSummaryLength)
	assert.Equal(t, 72*time.Hour, cfg.RecencyHalfLife)
	assert.Equal(t, map[string]string{"project": "keep"}, cfg.DefaultTags)

	assert.Equal(t, domain.AIProviderOllama, cfg.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, defaultOllamaURL, cfg.Embedding.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.Summarizer.Model)
	assert.True(t, cfg.Summarizer.IsConfigured())

	assert.Equal(t, domain.VectorBackendPgvector, cfg.Vector.Backend)
	assert.Equal(t, domain.SerializeAlways, cfg.Models.Serialize)
	assert.Equal(t, uint64(1024), cfg.Models.MinFreeMemoryMB)
	assert.Zero(t, cfg.Processor.EmbedRate)
	assert.Equal(t, 5*time.Second, cfg.Processor.PollInterval)
	assert.Equal(t, []string{"chunker"}, cfg.Analysis.Sectioners)
	assert.Equal(t, map[string]any{"chunk_size": int64(500)}, cfg.Analysis.Options)
}

func TestSettingsService_Get_InvalidValuesReturnDefaults(t *testing.T) {
	svc := newSettings(map[string]any{
		"default_collection": "Bad Name!",
		"recency_half_life":  "soon",
		"embedding.provider": "invalid_provider",
		"vector.backend":     "cassandra",
		"models.serialize":   "sometimes",
		"max_summary_length": int64(-5),
	})

	cfg, err := svc.Get()
	require.NoError(t, err)

	defaults := domain.DefaultKeeperConfig()
	assert.Equal(t, defaults.DefaultCollection, cfg.DefaultCollection)
	assert.Equal(t, defaults.RecencyHalfLife, cfg.RecencyHalfLife)
	assert.Equal(t, domain.AIProviderNone, cfg.Embedding.Provider)
	assert.Equal(t, defaults.Vector.Backend, cfg.Vector.Backend)
	assert.Equal(t, defaults.Models.Serialize, cfg.Models.Serialize)
	assert.Equal(t, defaults.MaxSummaryLength, cfg.MaxSummaryLength)
}

func TestSettingsService_Get_Environment(t *testing.T) {
	svc := newSettings(
		map[string]any{"embedding.provider": "openai"},
		"KEEP_TAG_PROJECT=apollo",
		"KEEP_TAG_Owner=ops",
		"KEEP_TAG_EMPTY=",
		"KEEP_TAG_=ignored",
		"OPENAI_API_KEY=sk-env",
		"HOME=/home/someone",
	)

	cfg, err := svc.Get()
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"project": "apollo", "owner": "ops"}, cfg.EnvironmentTags)
	assert.Equal(t, "sk-env", cfg.Embedding.APIKey)
	assert.True(t, cfg.Embedding.IsConfigured())
}

func TestSettingsService_SaveRoundTrip(t *testing.T) {
	svc := newSettings(nil, "KEEP_TAG_HOST=laptop")

	cfg := domain.DefaultKeeperConfig()
	cfg.DefaultCollection = "work"
	cfg.DefaultTags = map[string]string{"team": "infra"}
	cfg.EnvironmentTags = map[string]string{"host": "laptop"}
	cfg.BusyTimeout = 5 * time.Second
	cfg.Embedding = domain.ProviderSettings{Provider: domain.AIProviderOpenAI, Model: "text-embedding-3-large", APIKey: "sk"}
	cfg.Analysis.Options = map[string]any{"max_depth": 3}
	require.NoError(t, svc.Save(&cfg))

	got, err := svc.Get()
	require.NoError(t, err)
	assert.Equal(t, "work", got.DefaultCollection)
	assert.Equal(t, map[string]string{"team": "infra"}, got.DefaultTags)
	assert.Equal(t, 5*time.Second, got.BusyTimeout)
	assert.Equal(t, cfg.Embedding, got.Embedding)
	assert.Equal(t, 3, got.Analysis.Options["max_depth"])

	_, stored := svc.configStore.Get("host")
	assert.False(t, stored)
}

func TestSettingsService_SetEmbeddingProvider(t *testing.T) {
	t.Run("ollama default model and url", func(t *testing.T) {
		svc := newSettings(nil)
		require.NoError(t, svc.SetEmbeddingProvider(domain.AIProviderOllama, "", ""))

		cfg, err := svc.Get()
		require.NoError(t, err)
		assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
		assert.Equal(t, defaultOllamaURL, cfg.Embedding.BaseURL)
	})

	t.Run("openai requires api key", func(t *testing.T) {
		err := newSettings(nil).SetEmbeddingProvider(domain.AIProviderOpenAI, "", "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("invalid provider", func(t *testing.T) {
		err := newSettings(nil).SetEmbeddingProvider("anthropic", "", "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("none disables", func(t *testing.T) {
		svc := newSettings(map[string]any{"embedding.provider": "ollama"})
		require.NoError(t, svc.SetEmbeddingProvider(domain.AIProviderNone, "", ""))

		cfg, err := svc.Get()
		require.NoError(t, err)
		assert.Equal(t, domain.AIProviderNone, cfg.Embedding.Provider)
	})
}

func TestSettingsService_SetSummarizerProvider(t *testing.T) {
	svc := newSettings(nil)
	require.NoError(t, svc.SetSummarizerProvider(domain.AIProviderOpenAI, "gpt-4o", "sk"))

	cfg, err := svc.Get()
	require.NoError(t, err)
	assert.Equal(t, domain.AIProviderOpenAI, cfg.Summarizer.Provider)
	assert.Equal(t, "gpt-4o", cfg.Summarizer.Model)
	assert.Empty(t, cfg.Summarizer.BaseURL)
}

func TestSettingsService_Validate(t *testing.T) {
	assert.NoError(t, newSettings(nil).Validate())

	err := newSettings(map[string]any{"embedding.provider": "openai"}).Validate()
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = newSettings(map[string]any{"vector.backend": "pgvector"}).Validate()
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = newSettings(map[string]any{"tags": map[string]string{"_source": "x"}}).Validate()
	assert.NoError(t, err, "system keys are filtered, not rejected")
}

func TestSettingsService_ValidateProviders(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, NewSettingsService(memory.NewConfigStore(nil), nil, WithEnviron(noEnv)).ValidateEmbeddingConfig(ctx))

	v := &stubValidator{}
	svc := NewSettingsService(memory.NewConfigStore(map[string]any{"embedding.provider": "ollama"}), v, WithEnviron(noEnv))
	require.NoError(t, svc.ValidateEmbeddingConfig(ctx))
	assert.Equal(t, 1, v.embedCalls)

	assert.ErrorIs(t, svc.ValidateSummarizerConfig(ctx), domain.ErrSummarizerUnavailable)
	assert.Zero(t, v.summCalls)

	v.err = errors.New("connection refused")
	assert.Error(t, svc.ValidateEmbeddingConfig(ctx))
}

func TestEnvTags(t *testing.T) {
	tags := envTags(map[string]string{"KEEP_TAG_A_B": "x", "KEEP_STORE": "/tmp"})
	assert.Equal(t, map[string]string{"a_b": "x"}, tags)
}
