package domain

import "time"

const unknownDescription = "Unknown"

// AIProvider identifies a model backend for embeddings or summarization.
type AIProvider string

// Available AI providers.
const (
	// AIProviderNone disables the role.
	AIProviderNone AIProvider = ""

	// AIProviderOllama is a local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is the OpenAI cloud API.
	AIProviderOpenAI AIProvider = "openai"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI
}

// IsLocal returns true if this provider loads models on this machine.
func (p AIProvider) IsLocal() bool {
	return p == AIProviderOllama
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOllama:
		return "Ollama (local)"
	case AIProviderOpenAI:
		return "OpenAI (cloud)"
	default:
		return unknownDescription
	}
}

// ProviderSettings configures one provider role.
type ProviderSettings struct {
	// Provider is the backend name; empty disables the role.
	Provider AIProvider

	// Model is the model name.
	Model string

	// BaseURL is the API endpoint.
	BaseURL string

	// APIKey is the API key for cloud providers.
	APIKey string
}

// IsConfigured returns true if the provider is set up.
func (s ProviderSettings) IsConfigured() bool {
	if !s.Provider.IsValid() {
		return false
	}
	if s.Provider.RequiresAPIKey() && s.APIKey == "" {
		return false
	}
	return true
}

// VectorBackend names a VectorIndex implementation.
type VectorBackend string

// Available vector backends.
const (
	VectorBackendSQLite   VectorBackend = "sqlite"
	VectorBackendPgvector VectorBackend = "pgvector"
	VectorBackendMemory   VectorBackend = "memory"
)

// IsValid returns true if the backend is recognised.
func (b VectorBackend) IsValid() bool {
	switch b {
	case VectorBackendSQLite, VectorBackendPgvector, VectorBackendMemory:
		return true
	default:
		return false
	}
}

// VectorSettings configures the vector index.
type VectorSettings struct {
	Backend VectorBackend

	// DatabaseURL is the PostgreSQL URL for the pgvector backend.
	DatabaseURL string
}

// ModelSerialization controls whether local models may be resident together.
type ModelSerialization string

// Serialization modes.
const (
	// SerializeAuto serializes when available memory is below MinFreeMemoryMB.
	SerializeAuto ModelSerialization = "auto"

	// SerializeAlways holds the model lock for every local model call.
	SerializeAlways ModelSerialization = "always"

	// SerializeNever never takes the model lock.
	SerializeNever ModelSerialization = "never"
)

// IsValid returns true if the mode is recognised.
func (m ModelSerialization) IsValid() bool {
	switch m {
	case SerializeAuto, SerializeAlways, SerializeNever:
		return true
	default:
		return false
	}
}

// ModelSettings configures heavyweight model residency.
type ModelSettings struct {
	Serialize       ModelSerialization
	MinFreeMemoryMB uint64
}

// ProcessorSettings configures the background processor.
type ProcessorSettings struct {
	// BatchSize is how many pending items are dequeued at once.
	BatchSize int

	// MaxAttempts abandons items after this many failed attempts.
	MaxAttempts int

	// PollInterval is the fallback wake-up interval in daemon mode.
	PollInterval time.Duration

	// EmbedRate caps embedding requests per second during reindex and
	// reconciliation. Zero disables limiting.
	EmbedRate float64
}

// KeeperConfig holds all engine settings.
type KeeperConfig struct {
	// StorePath is the directory holding databases and lock files.
	StorePath string

	// DefaultCollection is used when a request names none.
	DefaultCollection string

	// MaxSummaryLength is the longest content stored verbatim as summary.
	MaxSummaryLength int

	// DefaultTags are merged under every write's user tags.
	DefaultTags map[string]string

	// EnvironmentTags come from KEEP_TAG_<KEY> variables and override
	// DefaultTags.
	EnvironmentTags map[string]string

	// RecencyHalfLife is the age at which recency weight halves.
	// Zero disables recency decay.
	RecencyHalfLife time.Duration

	// BusyTimeout bounds how long a write waits on cross-process contention.
	BusyTimeout time.Duration

	Embedding  ProviderSettings
	Summarizer ProviderSettings
	Vector     VectorSettings
	Models     ModelSettings
	Processor  ProcessorSettings
	Analysis   AnalysisSettings
}

// AnalysisSettings configures model-free decomposition into parts.
type AnalysisSettings struct {
	// Sectioners are tried in order until one splits the content.
	Sectioners []string

	// Options are passed to every sectioner builder (chunk_size, overlap,
	// max_depth).
	Options map[string]any
}

// Default configuration values.
const (
	DefaultMaxSummaryLength = 1000
	DefaultMaxAttempts      = 5
	DefaultBatchSize        = 10
)

// DefaultKeeperConfig returns settings with sensible defaults.
// Providers are left unconfigured; the engine runs without semantic search.
func DefaultKeeperConfig() KeeperConfig {
	return KeeperConfig{
		DefaultCollection: DefaultCollection,
		MaxSummaryLength:  DefaultMaxSummaryLength,
		DefaultTags:       map[string]string{},
		EnvironmentTags:   map[string]string{},
		RecencyHalfLife:   30 * 24 * time.Hour,
		BusyTimeout:       30 * time.Second,
		Vector: VectorSettings{
			Backend: VectorBackendSQLite,
		},
		Models: ModelSettings{
			Serialize:       SerializeAuto,
			MinFreeMemoryMB: 4096,
		},
		Processor: ProcessorSettings{
			BatchSize:    DefaultBatchSize,
			MaxAttempts:  DefaultMaxAttempts,
			PollInterval: 30 * time.Second,
			EmbedRate:    10,
		},
		Analysis: AnalysisSettings{
			Sectioners: []string{"headings", "chunker"},
			Options:    map[string]any{},
		},
	}
}

// DefaultEmbeddingModels returns default models for each embedding provider.
func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama: "nomic-embed-text",
		AIProviderOpenAI: "text-embedding-3-small",
	}
}

// DefaultSummarizerModels returns default models for each summarization provider.
func DefaultSummarizerModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama: "llama3.2",
		AIProviderOpenAI: "gpt-4o-mini",
	}
}

// EmbeddingDimensions returns the vector dimensions for known models.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		// Ollama models
		"nomic-embed-text":  768,
		"mxbai-embed-large": 1024,
		"all-minilm":        384,
		// OpenAI models
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
	}
}

// AllAIProviders returns the providers selectable for either role.
func AllAIProviders() []AIProvider {
	return []AIProvider{AIProviderOllama, AIProviderOpenAI}
}
