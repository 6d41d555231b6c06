package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/logger"
)

// ModelLockName is the advisory lock serializing heavyweight local models.
const ModelLockName = "model"

// EmbeddingFactory constructs the embedding provider on first use.
type EmbeddingFactory func(ctx context.Context) (driven.EmbeddingProvider, error)

// SummarizerFactory constructs the summarization provider on first use.
type SummarizerFactory func(ctx context.Context) (driven.SummarizationProvider, error)

// ProviderPoolConfig configures a ProviderPool.
type ProviderPoolConfig struct {
	// Embedding is nil when no embedding provider is configured.
	Embedding EmbeddingFactory

	// Summarizer is nil when no summarization provider is configured.
	Summarizer SummarizerFactory

	// EmbeddingLocal and SummarizerLocal mark providers that load models
	// on this machine.
	EmbeddingLocal  bool
	SummarizerLocal bool

	Models domain.ModelSettings

	// Locker provides the model lock. Without one nothing is serialized.
	Locker driven.Locker

	// Memory is consulted in SerializeAuto mode.
	Memory driven.MemoryProbe

	// LockTimeout bounds the wait for the model lock.
	LockTimeout time.Duration

	// Bulk wraps the embedder for batch work such as reindexing.
	Bulk func(driven.EmbeddingProvider) driven.EmbeddingProvider
}

// ProviderPool holds lazily constructed providers for one Keeper.
//
// When both providers are local and memory is constrained, only one of
// them is resident at a time: loading one role releases the other and
// the pair shares a cross-process model lock.
type ProviderPool struct {
	cfg ProviderPoolConfig

	mu         sync.Mutex
	embedder   driven.EmbeddingProvider
	summarizer driven.SummarizationProvider
	modelLock  driven.Lock
}

// NewProviderPool creates a pool. Providers are not constructed until used.
func NewProviderPool(cfg ProviderPoolConfig) *ProviderPool {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 30 * time.Second
	}
	return &ProviderPool{cfg: cfg}
}

// HasEmbedder reports whether an embedding provider is configured.
func (p *ProviderPool) HasEmbedder() bool {
	return p != nil && p.cfg.Embedding != nil
}

// HasSummarizer reports whether a summarization provider is configured.
func (p *ProviderPool) HasSummarizer() bool {
	return p != nil && p.cfg.Summarizer != nil
}

// Embedder returns the embedding provider, constructing it if needed.
func (p *ProviderPool) Embedder(ctx context.Context) (driven.EmbeddingProvider, error) {
	if !p.HasEmbedder() {
		return nil, domain.ErrEmbeddingUnavailable
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.embedder != nil {
		return p.embedder, nil
	}
	if p.serialize() {
		p.releaseSummarizer()
		if err := p.acquireModelLock(ctx); err != nil {
			return nil, err
		}
	}

	emb, err := p.cfg.Embedding(ctx)
	if err != nil {
		// Nothing is resident, so other processes may load a model.
		p.releaseModelLock()
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	logger.Debug("Loaded embedding provider %s/%s", emb.Name(), emb.ModelName())
	p.embedder = emb
	return emb, nil
}

// BulkEmbedder returns the embedder wrapped for batch work.
func (p *ProviderPool) BulkEmbedder(ctx context.Context) (driven.EmbeddingProvider, error) {
	emb, err := p.Embedder(ctx)
	if err != nil {
		return nil, err
	}
	if p.cfg.Bulk != nil {
		return p.cfg.Bulk(emb), nil
	}
	return emb, nil
}

// Summarizer returns the summarization provider, constructing it if needed.
func (p *ProviderPool) Summarizer(ctx context.Context) (driven.SummarizationProvider, error) {
	if !p.HasSummarizer() {
		return nil, domain.ErrSummarizerUnavailable
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.summarizer != nil {
		return p.summarizer, nil
	}
	if p.serialize() {
		p.releaseEmbedder()
		if err := p.acquireModelLock(ctx); err != nil {
			return nil, err
		}
	}

	s, err := p.cfg.Summarizer(ctx)
	if err != nil {
		p.releaseModelLock()
		return nil, fmt.Errorf("%w: %w", domain.ErrSummarizerUnavailable, err)
	}
	logger.Debug("Loaded summarization provider %s/%s", s.Name(), s.ModelName())
	p.summarizer = s
	return s, nil
}

// Release closes loaded providers and drops the model lock. Providers are
// constructed again on next use.
func (p *ProviderPool) Release() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.releaseEmbedder()
	p.releaseSummarizer()
	p.releaseModelLock()
}

// Close releases everything.
func (p *ProviderPool) Close() error {
	p.Release()
	return nil
}

// serialize reports whether the two roles must not be resident together
// (caller must hold mu).
func (p *ProviderPool) serialize() bool {
	if p.cfg.Locker == nil || !p.cfg.EmbeddingLocal || !p.cfg.SummarizerLocal {
		return false
	}

	switch p.cfg.Models.Serialize {
	case domain.SerializeNever:
		return false
	case domain.SerializeAlways:
		return true
	}

	if p.cfg.Memory == nil {
		return true
	}
	available, err := p.cfg.Memory.AvailableMB()
	if err != nil {
		logger.Debug("Memory probe failed, serializing models: %v", err)
		return true
	}
	return available < p.cfg.Models.MinFreeMemoryMB
}

func (p *ProviderPool) acquireModelLock(ctx context.Context) error {
	if p.modelLock != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.LockTimeout)
	defer cancel()

	lock, err := p.cfg.Locker.Lock(ctx, ModelLockName)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: waiting for model lock", domain.ErrStoreBusy)
		}
		return fmt.Errorf("acquiring model lock: %w", err)
	}
	p.modelLock = lock
	return nil
}

func (p *ProviderPool) releaseModelLock() {
	if p.modelLock == nil {
		return
	}
	if err := p.modelLock.Unlock(); err != nil {
		logger.Warn("Failed to release model lock: %v", err)
	}
	p.modelLock = nil
}

func (p *ProviderPool) releaseEmbedder() {
	if p.embedder == nil {
		return
	}
	if err := p.embedder.Close(); err != nil {
		logger.Debug("Closing embedding provider: %v", err)
	}
	p.embedder = nil
}

func (p *ProviderPool) releaseSummarizer() {
	if p.summarizer == nil {
		return
	}
	if err := p.summarizer.Close(); err != nil {
		logger.Debug("Closing summarization provider: %v", err)
	}
	p.summarizer = nil
}
