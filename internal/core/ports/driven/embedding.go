package driven

import (
	"context"

	"github.com/custodia-labs/keep/internal/core/domain"
)

// EmbeddingProvider generates vector embeddings from text.
// This is an optional service - when nil, semantic search falls back to
// full-text search and reconciliation cannot repair the index.
//
// Note: This is separate from VectorIndex which stores and searches vectors.
// EmbeddingProvider generates vectors; VectorIndex stores them.
//
// Implementations may include:
//   - OpenAI (text-embedding-3-small, text-embedding-3-large)
//   - Ollama (nomic-embed-text, all-minilm)
type EmbeddingProvider interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size (e.g., 384, 1536, 3072).
	// Together with Name and ModelName it forms the collection's identity.
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// Name returns the provider name ("ollama", "openai").
	Name() string

	// Ping validates the service is reachable by making a lightweight test request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// SummarizationProvider produces summaries and structured generations.
// This is an optional service - when nil, long documents keep a truncated
// placeholder summary and analysis uses fixed-size sections.
type SummarizationProvider interface {
	// Summarize returns a summary of content. hint is optional context such
	// as the document id or prior summary.
	Summarize(ctx context.Context, content, hint string) (string, error)

	// Generate runs a system+user prompt. An empty string means the model
	// declined to answer.
	Generate(ctx context.Context, system, user string, maxTokens int) (string, error)

	// ModelName returns the name of the model being used.
	ModelName() string

	// Name returns the provider name.
	Name() string

	// Ping validates the service is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// MediaDescriber turns non-text content into a text description.
type MediaDescriber interface {
	// Describe returns a description, or "" when the content type is not supported.
	Describe(ctx context.Context, path, contentType string) (string, error)
}

// FetchedDocument is the content read from a URI.
type FetchedDocument struct {
	Content     string
	ContentType string

	// Path is set when the content lives on the local filesystem.
	Path string

	Tags map[string]string
}

// DocumentFetcher reads content from a URI.
type DocumentFetcher interface {
	// Supports reports whether the fetcher handles uri.
	Supports(uri string) bool

	// Fetch reads uri.
	Fetch(ctx context.Context, uri string) (*FetchedDocument, error)
}

// AIConfigValidator checks provider settings by constructing and pinging them.
type AIConfigValidator interface {
	ValidateEmbedding(ctx context.Context, settings domain.ProviderSettings) error
	ValidateSummarizer(ctx context.Context, settings domain.ProviderSettings) error
}
