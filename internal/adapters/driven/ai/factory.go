// Package ai maps provider names to embedding and summarization adapters.
package ai

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	ollamaembed "github.com/custodia-labs/keep/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/keep/internal/adapters/driven/embedding/openai"
	ollamallm "github.com/custodia-labs/keep/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/keep/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// EmbeddingConstructor builds an embedding provider from settings.
type EmbeddingConstructor func(settings domain.ProviderSettings) (driven.EmbeddingProvider, error)

// SummarizerConstructor builds a summarization provider from settings.
// prompts may be nil.
type SummarizerConstructor func(settings domain.ProviderSettings, prompts driven.PromptStore) (driven.SummarizationProvider, error)

// Registry maps provider names to constructors.
type Registry struct {
	mu          sync.RWMutex
	embedders   map[domain.AIProvider]EmbeddingConstructor
	summarizers map[domain.AIProvider]SummarizerConstructor
}

// NewRegistry returns a registry with the bundled providers registered.
func NewRegistry() *Registry {
	r := &Registry{
		embedders:   make(map[domain.AIProvider]EmbeddingConstructor),
		summarizers: make(map[domain.AIProvider]SummarizerConstructor),
	}
	r.RegisterEmbedding(domain.AIProviderOllama, newOllamaEmbedding)
	r.RegisterEmbedding(domain.AIProviderOpenAI, newOpenAIEmbedding)
	r.RegisterSummarizer(domain.AIProviderOllama, newOllamaSummarizer)
	r.RegisterSummarizer(domain.AIProviderOpenAI, newOpenAISummarizer)
	return r
}

// RegisterEmbedding adds or replaces an embedding constructor.
func (r *Registry) RegisterEmbedding(name domain.AIProvider, ctor EmbeddingConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedders[name] = ctor
}

// RegisterSummarizer adds or replaces a summarizer constructor.
func (r *Registry) RegisterSummarizer(name domain.AIProvider, ctor SummarizerConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summarizers[name] = ctor
}

// EmbeddingProviders returns the registered embedding provider names.
func (r *Registry) EmbeddingProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedNames(r.embedders)
}

// SummarizerProviders returns the registered summarizer names.
func (r *Registry) SummarizerProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedNames(r.summarizers)
}

// CreateEmbedding builds the configured embedding provider.
// Returns (nil, nil) when the role is disabled.
func (r *Registry) CreateEmbedding(settings domain.ProviderSettings) (driven.EmbeddingProvider, error) {
	if settings.Provider == domain.AIProviderNone {
		return nil, nil
	}
	r.mu.RLock()
	ctor, ok := r.embedders[settings.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embedding provider %q", domain.ErrUnsupportedType, settings.Provider)
	}
	return ctor(settings)
}

// CreateSummarizer builds the configured summarization provider.
// Returns (nil, nil) when the role is disabled.
func (r *Registry) CreateSummarizer(settings domain.ProviderSettings,
	prompts driven.PromptStore) (driven.SummarizationProvider, error) {
	if settings.Provider == domain.AIProviderNone {
		return nil, nil
	}
	r.mu.RLock()
	ctor, ok := r.summarizers[settings.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: summarization provider %q", domain.ErrUnsupportedType, settings.Provider)
	}
	return ctor(settings, prompts)
}

// CreateAndValidateEmbedding builds the embedding provider and pings it.
// Failures wrap domain.ErrEmbeddingUnavailable.
func (r *Registry) CreateAndValidateEmbedding(ctx context.Context,
	settings domain.ProviderSettings) (driven.EmbeddingProvider, error) {
	svc, err := r.CreateEmbedding(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	if svc == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := svc.Ping(ctx); err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("%w: %s unreachable: %w", domain.ErrEmbeddingUnavailable, settings.Provider, err)
	}
	return svc, nil
}

// CreateAndValidateSummarizer builds the summarization provider and pings it.
// Failures wrap domain.ErrSummarizerUnavailable.
func (r *Registry) CreateAndValidateSummarizer(ctx context.Context, settings domain.ProviderSettings,
	prompts driven.PromptStore) (driven.SummarizationProvider, error) {
	svc, err := r.CreateSummarizer(settings, prompts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSummarizerUnavailable, err)
	}
	if svc == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := svc.Ping(ctx); err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("%w: %s unreachable: %w", domain.ErrSummarizerUnavailable, settings.Provider, err)
	}
	return svc, nil
}

func newOllamaEmbedding(settings domain.ProviderSettings) (driven.EmbeddingProvider, error) {
	return ollamaembed.New(ollamaembed.Config{
		BaseURL: settings.BaseURL,
		Model:   settings.Model,
	}), nil
}

func newOpenAIEmbedding(settings domain.ProviderSettings) (driven.EmbeddingProvider, error) {
	p, err := openaiembed.New(openaiembed.Config{
		APIKey:  settings.APIKey,
		BaseURL: settings.BaseURL,
		Model:   settings.Model,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newOllamaSummarizer(settings domain.ProviderSettings, prompts driven.PromptStore) (driven.SummarizationProvider, error) {
	return ollamallm.New(ollamallm.Config{
		BaseURL: settings.BaseURL,
		Model:   settings.Model,
		Prompts: prompts,
	}), nil
}

func newOpenAISummarizer(settings domain.ProviderSettings, prompts driven.PromptStore) (driven.SummarizationProvider, error) {
	s, err := openaillm.New(openaillm.Config{
		APIKey:  settings.APIKey,
		BaseURL: settings.BaseURL,
		Model:   settings.Model,
		Prompts: prompts,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func sortedNames[T any](m map[domain.AIProvider]T) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}
