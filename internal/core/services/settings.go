package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyDefaultCollection = "default_collection"
	keyMaxSummaryLength  = "max_summary_length"
	keyRecencyHalfLife   = "recency_half_life"
	keyBusyTimeout       = "busy_timeout"
	keyTags              = "tags"

	keyEmbedProvider = "embedding.provider"
	keyEmbedModel    = "embedding.model"
	keyEmbedBaseURL  = "embedding.base_url"
	keyEmbedAPIKey   = "embedding.api_key"

	keySummProvider = "summarizer.provider"
	keySummModel    = "summarizer.model"
	keySummBaseURL  = "summarizer.base_url"
	keySummAPIKey   = "summarizer.api_key"

	keyVectorBackend     = "vector.backend"
	keyVectorDatabaseURL = "vector.database_url"

	keyModelsSerialize  = "models.serialize"
	keyModelsMinFreeMem = "models.min_free_memory_mb"

	keyProcBatchSize    = "processor.batch_size"
	keyProcMaxAttempts  = "processor.max_attempts"
	keyProcPollInterval = "processor.poll_interval"
	keyProcEmbedRate    = "processor.embed_rate"

	keyAnalysisSectioners = "analysis.sectioners"
)

// Analysis option keys passed through to sectioner builders.
var analysisOptionKeys = []string{"chunk_size", "overlap", "max_depth"}

// EnvTagPrefix marks environment variables that become tags on every write.
const EnvTagPrefix = "KEEP_TAG_"

// envOpenAIKey is the fallback API key for the OpenAI provider.
//
//nolint:gosec // G101: environment variable name, not a credential.
const envOpenAIKey = "OPENAI_API_KEY"

const defaultOllamaURL = "http://localhost:11434"

// SettingsService manages engine settings.
type SettingsService struct {
	configStore driven.ConfigStore
	aiValidator driven.AIConfigValidator
	environ     func() []string
	storePath   string
}

// SettingsOption configures a SettingsService.
type SettingsOption func(*SettingsService)

// WithEnviron replaces the environment source, os.Environ by default.
func WithEnviron(environ func() []string) SettingsOption {
	return func(s *SettingsService) {
		s.environ = environ
	}
}

// WithStorePath records the store directory reported in Get.
func WithStorePath(dir string) SettingsOption {
	return func(s *SettingsService) {
		s.storePath = dir
	}
}

// NewSettingsService creates a new settings service.
func NewSettingsService(
	configStore driven.ConfigStore,
	aiValidator driven.AIConfigValidator,
	opts ...SettingsOption,
) *SettingsService {
	s := &SettingsService{
		configStore: configStore,
		aiValidator: aiValidator,
		environ:     os.Environ,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get retrieves current settings. Missing or invalid values fall back to
// defaults.
func (s *SettingsService) Get() (*domain.KeeperConfig, error) {
	defaults := domain.DefaultKeeperConfig()
	env := s.envMap()

	cfg := &domain.KeeperConfig{
		StorePath:         s.storePath,
		DefaultCollection: s.getCollection(defaults.DefaultCollection),
		MaxSummaryLength:  s.getInt(keyMaxSummaryLength, defaults.MaxSummaryLength),
		DefaultTags:       s.getTags(),
		EnvironmentTags:   envTags(env),
		RecencyHalfLife:   s.getDuration(keyRecencyHalfLife, defaults.RecencyHalfLife),
		BusyTimeout:       s.getDuration(keyBusyTimeout, defaults.BusyTimeout),
		Embedding: s.getProviderSettings(
			keyEmbedProvider, keyEmbedModel, keyEmbedBaseURL, keyEmbedAPIKey,
			domain.DefaultEmbeddingModels(), env,
		),
		Summarizer: s.getProviderSettings(
			keySummProvider, keySummModel, keySummBaseURL, keySummAPIKey,
			domain.DefaultSummarizerModels(), env,
		),
		Vector: domain.VectorSettings{
			Backend:     s.getVectorBackend(defaults.Vector.Backend),
			DatabaseURL: s.configStore.GetString(keyVectorDatabaseURL),
		},
		Models: domain.ModelSettings{
			Serialize:       s.getSerialization(defaults.Models.Serialize),
			MinFreeMemoryMB: uint64(s.getInt(keyModelsMinFreeMem, int(defaults.Models.MinFreeMemoryMB))), //nolint:gosec // validated non-negative
		},
		Processor: domain.ProcessorSettings{
			BatchSize:    s.getInt(keyProcBatchSize, defaults.Processor.BatchSize),
			MaxAttempts:  s.getInt(keyProcMaxAttempts, defaults.Processor.MaxAttempts),
			PollInterval: s.getDuration(keyProcPollInterval, defaults.Processor.PollInterval),
			EmbedRate:    s.getEmbedRate(defaults.Processor.EmbedRate),
		},
		Analysis: domain.AnalysisSettings{
			Sectioners: s.getStringSlice(keyAnalysisSectioners, defaults.Analysis.Sectioners),
			Options:    s.getAnalysisOptions(),
		},
	}

	return cfg, nil
}

// Save persists settings. Environment tags and empty API keys are not
// written.
func (s *SettingsService) Save(cfg *domain.KeeperConfig) error {
	values := []struct {
		key   string
		value any
	}{
		{keyDefaultCollection, cfg.DefaultCollection},
		{keyMaxSummaryLength, cfg.MaxSummaryLength},
		{keyRecencyHalfLife, cfg.RecencyHalfLife.String()},
		{keyBusyTimeout, cfg.BusyTimeout.String()},
		{keyEmbedProvider, cfg.Embedding.Provider.String()},
		{keyEmbedModel, cfg.Embedding.Model},
		{keyEmbedBaseURL, cfg.Embedding.BaseURL},
		{keySummProvider, cfg.Summarizer.Provider.String()},
		{keySummModel, cfg.Summarizer.Model},
		{keySummBaseURL, cfg.Summarizer.BaseURL},
		{keyVectorBackend, string(cfg.Vector.Backend)},
		{keyVectorDatabaseURL, cfg.Vector.DatabaseURL},
		{keyModelsSerialize, string(cfg.Models.Serialize)},
		{keyModelsMinFreeMem, int(cfg.Models.MinFreeMemoryMB)}, //nolint:gosec // memory thresholds fit in int
		{keyProcBatchSize, cfg.Processor.BatchSize},
		{keyProcMaxAttempts, cfg.Processor.MaxAttempts},
		{keyProcPollInterval, cfg.Processor.PollInterval.String()},
		{keyProcEmbedRate, cfg.Processor.EmbedRate},
		{keyAnalysisSectioners, cfg.Analysis.Sectioners},
	}
	for _, v := range values {
		if err := s.configStore.Set(v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}

	if cfg.DefaultTags != nil {
		if err := s.configStore.Set(keyTags, domain.CloneTags(cfg.DefaultTags)); err != nil {
			return fmt.Errorf("save %s: %w", keyTags, err)
		}
	}
	for key, value := range cfg.Analysis.Options {
		if err := s.configStore.Set("analysis."+key, value); err != nil {
			return fmt.Errorf("save analysis.%s: %w", key, err)
		}
	}
	if cfg.Embedding.APIKey != "" {
		if err := s.configStore.Set(keyEmbedAPIKey, cfg.Embedding.APIKey); err != nil {
			return fmt.Errorf("save embedding api_key: %w", err)
		}
	}
	if cfg.Summarizer.APIKey != "" {
		if err := s.configStore.Set(keySummAPIKey, cfg.Summarizer.APIKey); err != nil {
			return fmt.Errorf("save summarizer api_key: %w", err)
		}
	}

	return nil
}

// SetEmbeddingProvider configures the embedding provider.
// AIProviderNone disables embeddings.
func (s *SettingsService) SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error {
	cfg, err := s.Get()
	if err != nil {
		return err
	}
	settings, err := configureProvider(provider, model, apiKey, cfg.Embedding, domain.DefaultEmbeddingModels())
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	cfg.Embedding = settings
	return s.Save(cfg)
}

// SetSummarizerProvider configures the summarization provider.
// AIProviderNone disables summarization.
func (s *SettingsService) SetSummarizerProvider(provider domain.AIProvider, model, apiKey string) error {
	cfg, err := s.Get()
	if err != nil {
		return err
	}
	settings, err := configureProvider(provider, model, apiKey, cfg.Summarizer, domain.DefaultSummarizerModels())
	if err != nil {
		return fmt.Errorf("summarizer: %w", err)
	}
	cfg.Summarizer = settings
	return s.Save(cfg)
}

func configureProvider(
	provider domain.AIProvider,
	model, apiKey string,
	current domain.ProviderSettings,
	defaultModels map[domain.AIProvider]string,
) (domain.ProviderSettings, error) {
	if provider == domain.AIProviderNone {
		return domain.ProviderSettings{}, nil
	}
	if !provider.IsValid() {
		return current, fmt.Errorf("%w: invalid provider: %s", domain.ErrInvalidInput, provider)
	}
	if provider.RequiresAPIKey() && apiKey == "" {
		return current, fmt.Errorf("%w: API key required for %s", domain.ErrInvalidInput, provider)
	}

	settings := domain.ProviderSettings{
		Provider: provider,
		Model:    model,
		APIKey:   apiKey,
	}
	if settings.Model == "" {
		settings.Model = defaultModels[provider]
	}

	// Local providers need a base URL; cloud providers use their default.
	if provider.IsLocal() {
		settings.BaseURL = current.BaseURL
		if settings.BaseURL == "" || current.Provider != provider {
			settings.BaseURL = defaultOllamaURL
		}
	}
	return settings, nil
}

// Validate checks settings for consistency.
func (s *SettingsService) Validate() error {
	cfg, err := s.Get()
	if err != nil {
		return err
	}

	if err := domain.ValidateCollection(cfg.DefaultCollection); err != nil {
		return fmt.Errorf("default collection: %w", err)
	}
	if _, _, err := domain.NormalizeUserTags(cfg.DefaultTags); err != nil {
		return fmt.Errorf("default tags: %w", err)
	}
	for _, role := range []struct {
		name     string
		settings domain.ProviderSettings
	}{
		{"embedding", cfg.Embedding},
		{"summarizer", cfg.Summarizer},
	} {
		if role.settings.Provider != domain.AIProviderNone && !role.settings.IsConfigured() {
			return fmt.Errorf("%w: %s provider %q is not fully configured",
				domain.ErrInvalidInput, role.name, role.settings.Provider)
		}
	}
	if cfg.Vector.Backend == domain.VectorBackendPgvector && cfg.Vector.DatabaseURL == "" {
		return fmt.Errorf("%w: vector backend pgvector requires %s", domain.ErrInvalidInput, keyVectorDatabaseURL)
	}
	if len(cfg.Analysis.Sectioners) == 0 {
		return fmt.Errorf("%w: %s is empty", domain.ErrInvalidInput, keyAnalysisSectioners)
	}

	return nil
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.KeeperConfig {
	return domain.DefaultKeeperConfig()
}

// ValidateEmbeddingConfig validates the embedding configuration by pinging
// the provider.
func (s *SettingsService) ValidateEmbeddingConfig(ctx context.Context) error {
	if s.aiValidator == nil {
		return nil
	}
	cfg, err := s.Get()
	if err != nil {
		return err
	}
	if cfg.Embedding.Provider == domain.AIProviderNone {
		return domain.ErrEmbeddingUnavailable
	}
	return s.aiValidator.ValidateEmbedding(ctx, cfg.Embedding)
}

// ValidateSummarizerConfig validates the summarization configuration by
// pinging the provider.
func (s *SettingsService) ValidateSummarizerConfig(ctx context.Context) error {
	if s.aiValidator == nil {
		return nil
	}
	cfg, err := s.Get()
	if err != nil {
		return err
	}
	if cfg.Summarizer.Provider == domain.AIProviderNone {
		return domain.ErrSummarizerUnavailable
	}
	return s.aiValidator.ValidateSummarizer(ctx, cfg.Summarizer)
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val <= 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	str := s.configStore.GetString(key)
	if str == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(str)
	if err != nil || d < 0 {
		return defaultVal
	}
	return d
}

func (s *SettingsService) getCollection(defaultVal string) string {
	val := s.configStore.GetString(keyDefaultCollection)
	if domain.ValidateCollection(val) != nil {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getTags() map[string]string {
	tags := s.configStore.GetStringMap(keyTags)
	if tags == nil {
		tags = map[string]string{}
	}
	return tags
}

func (s *SettingsService) getProvider(key string) domain.AIProvider {
	provider := domain.AIProvider(s.configStore.GetString(key))
	if !provider.IsValid() {
		return domain.AIProviderNone
	}
	return provider
}

func (s *SettingsService) getProviderSettings(
	providerKey, modelKey, baseURLKey, apiKeyKey string,
	defaultModels map[domain.AIProvider]string,
	env map[string]string,
) domain.ProviderSettings {
	provider := s.getProvider(providerKey)
	if provider == domain.AIProviderNone {
		return domain.ProviderSettings{}
	}

	settings := domain.ProviderSettings{
		Provider: provider,
		Model:    s.getString(modelKey, defaultModels[provider]),
		BaseURL:  s.configStore.GetString(baseURLKey),
		APIKey:   s.configStore.GetString(apiKeyKey),
	}
	if provider.IsLocal() && settings.BaseURL == "" {
		settings.BaseURL = defaultOllamaURL
	}
	if provider == domain.AIProviderOpenAI && settings.APIKey == "" {
		settings.APIKey = env[envOpenAIKey]
	}
	return settings
}

func (s *SettingsService) getVectorBackend(defaultVal domain.VectorBackend) domain.VectorBackend {
	backend := domain.VectorBackend(s.configStore.GetString(keyVectorBackend))
	if !backend.IsValid() {
		return defaultVal
	}
	return backend
}

func (s *SettingsService) getSerialization(defaultVal domain.ModelSerialization) domain.ModelSerialization {
	mode := domain.ModelSerialization(s.configStore.GetString(keyModelsSerialize))
	if !mode.IsValid() {
		return defaultVal
	}
	return mode
}

func (s *SettingsService) getEmbedRate(defaultVal float64) float64 {
	if _, exists := s.configStore.Get(keyProcEmbedRate); !exists {
		return defaultVal
	}
	rate := s.configStore.GetFloat(keyProcEmbedRate)
	if rate < 0 {
		return defaultVal
	}
	return rate
}

// getStringSlice reads an array value. TOML arrays decode as []any.
func (s *SettingsService) getStringSlice(key string, defaultVal []string) []string {
	val, exists := s.configStore.Get(key)
	if !exists {
		return append([]string(nil), defaultVal...)
	}

	var out []string
	switch v := val.(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
	case string:
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultVal...)
	}
	return out
}

func (s *SettingsService) getAnalysisOptions() map[string]any {
	opts := make(map[string]any)
	for _, key := range analysisOptionKeys {
		if val, exists := s.configStore.Get("analysis." + key); exists {
			opts[key] = val
		}
	}
	return opts
}

func (s *SettingsService) envMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range s.environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}
	return env
}

// envTags collects KEEP_TAG_<KEY>=value variables as lowercased tags.
// Empty values are ignored.
func envTags(env map[string]string) map[string]string {
	tags := make(map[string]string)
	for key, value := range env {
		name, ok := strings.CutPrefix(key, EnvTagPrefix)
		if !ok || name == "" || value == "" {
			continue
		}
		tags[strings.ToLower(name)] = value
	}
	return tags
}
