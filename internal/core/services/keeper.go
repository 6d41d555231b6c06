package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/core/ports/driving"
	"github.com/custodia-labs/keep/internal/logger"
)

// Ensure Keeper implements the interface.
var _ driving.Keeper = (*Keeper)(nil)

// maxEmbedBytes bounds the text sent to the embedding provider.
const maxEmbedBytes = 8192

// Keeper coordinates the document store, the vector index and the pending
// queue. It alone knows the invariants that span them.
type Keeper struct {
	cfg       domain.KeeperConfig
	docs      driven.DocumentStore
	vectors   driven.VectorIndex
	pending   driven.PendingQueue
	providers *ProviderPool
	fetcher   driven.DocumentFetcher
	describer driven.MediaDescriber
	sectioner driven.Sectioner
	prompts   driven.PromptStore
	now       func() time.Time
}

// KeeperOption configures a Keeper.
type KeeperOption func(*Keeper)

// WithProviders sets the embedding and summarization providers.
func WithProviders(pool *ProviderPool) KeeperOption {
	return func(k *Keeper) {
		k.providers = pool
	}
}

// WithFetcher enables URI writes.
func WithFetcher(f driven.DocumentFetcher) KeeperOption {
	return func(k *Keeper) {
		k.fetcher = f
	}
}

// WithDescriber enables writes of media URIs.
func WithDescriber(d driven.MediaDescriber) KeeperOption {
	return func(k *Keeper) {
		k.describer = d
	}
}

// WithSectioner sets the model-free decomposition used when the
// summarization provider cannot analyze a document.
func WithSectioner(s driven.Sectioner) KeeperOption {
	return func(k *Keeper) {
		k.sectioner = s
	}
}

// WithPrompts sets the prompt source for analysis.
func WithPrompts(p driven.PromptStore) KeeperOption {
	return func(k *Keeper) {
		k.prompts = p
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) KeeperOption {
	return func(k *Keeper) {
		k.now = now
	}
}

// NewKeeper creates a Keeper over the given stores.
func NewKeeper(
	cfg domain.KeeperConfig,
	docs driven.DocumentStore,
	vectors driven.VectorIndex,
	pending driven.PendingQueue,
	opts ...KeeperOption,
) *Keeper {
	defaults := domain.DefaultKeeperConfig()
	if cfg.DefaultCollection == "" {
		cfg.DefaultCollection = defaults.DefaultCollection
	}
	if cfg.MaxSummaryLength <= 0 {
		cfg.MaxSummaryLength = defaults.MaxSummaryLength
	}
	if cfg.Processor.BatchSize <= 0 {
		cfg.Processor.BatchSize = defaults.Processor.BatchSize
	}
	if cfg.Processor.MaxAttempts <= 0 {
		cfg.Processor.MaxAttempts = defaults.Processor.MaxAttempts
	}

	k := &Keeper{
		cfg:     cfg,
		docs:    docs,
		vectors: vectors,
		pending: pending,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Config returns the effective configuration.
func (k *Keeper) Config() domain.KeeperConfig {
	return k.cfg
}

// Providers returns the provider pool, possibly nil.
func (k *Keeper) Providers() *ProviderPool {
	return k.providers
}

// Close releases providers. Stores are owned by the caller.
func (k *Keeper) Close() error {
	return k.providers.Close()
}

// collection resolves and validates a collection name.
func (k *Keeper) collection(name string) (string, error) {
	if name == "" {
		name = k.cfg.DefaultCollection
	}
	if err := domain.ValidateCollection(name); err != nil {
		return "", err
	}
	return name, nil
}

// target validates a (collection, id) pair.
func (k *Keeper) target(collection, id string) (string, error) {
	c, err := k.collection(collection)
	if err != nil {
		return "", err
	}
	if err := domain.ValidateID(id); err != nil {
		return "", err
	}
	return c, nil
}

// bindings returns the index bindings of a collection, active first.
func (k *Keeper) bindings(ctx context.Context, collection string) ([]domain.IndexBinding, error) {
	bs, err := k.docs.Bindings(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("loading index bindings: %w", err)
	}
	return bs, nil
}

// activeBinding returns the binding serving reads, or nil.
func (k *Keeper) activeBinding(ctx context.Context, collection string) (*domain.IndexBinding, error) {
	bs, err := k.bindings(ctx, collection)
	if err != nil {
		return nil, err
	}
	for i := range bs {
		if bs[i].State == domain.BindingActive {
			return &bs[i], nil
		}
	}
	return nil, nil
}

// bindingFor returns the binding that stores vectors of identity, creating
// one if needed. The first identity seen becomes active. A different
// identity gets a building binding and a queued reindex; reads stay on the
// active binding until the reindex completes.
func (k *Keeper) bindingFor(ctx context.Context, collection string,
	identity domain.EmbeddingIdentity) (*domain.IndexBinding, error) {
	bs, err := k.bindings(ctx, collection)
	if err != nil {
		return nil, err
	}

	hasActive := false
	for i := range bs {
		if bs[i].Identity == identity {
			return &bs[i], nil
		}
		if bs[i].State == domain.BindingActive {
			hasActive = true
		}
	}

	binding := domain.IndexBinding{
		Collection: collection,
		IndexName:  identity.IndexName(collection),
		Identity:   identity,
		State:      domain.BindingActive,
		UpdatedAt:  k.now().UTC(),
	}
	if hasActive {
		binding.State = domain.BindingBuilding
	}
	if err := k.docs.SaveBinding(ctx, binding); err != nil {
		return nil, fmt.Errorf("saving index binding: %w", err)
	}

	if binding.State == domain.BindingBuilding {
		logger.Info("Embedding identity changed to %s, reindexing %s into %s",
			identity, collection, binding.IndexName)
		if err := k.queueReindex(ctx, binding); err != nil {
			return nil, err
		}
	} else {
		logger.Debug("Bound %s to index %s", collection, binding.IndexName)
	}
	return &binding, nil
}

func (k *Keeper) queueReindex(ctx context.Context, binding domain.IndexBinding) error {
	err := k.pending.Enqueue(ctx, domain.PendingItem{
		ID:         binding.IndexName,
		Collection: binding.Collection,
		TaskType:   domain.TaskReindex,
		Metadata:   map[string]string{domain.MetaIndexName: binding.IndexName},
		QueuedAt:   k.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("queueing reindex: %w", err)
	}
	return nil
}

// embed computes an embedding for text and the identity it belongs to.
func (k *Keeper) embed(ctx context.Context, text string) ([]float32, domain.EmbeddingIdentity, error) {
	emb, err := k.providers.Embedder(ctx)
	if err != nil {
		return nil, domain.EmbeddingIdentity{}, err
	}
	vec, err := emb.Embed(ctx, truncateText(text, maxEmbedBytes))
	if err != nil {
		return nil, domain.EmbeddingIdentity{}, fmt.Errorf("embedding: %w", err)
	}
	return vec, identityOf(emb, vec), nil
}

func identityOf(emb driven.EmbeddingProvider, vec []float32) domain.EmbeddingIdentity {
	return domain.EmbeddingIdentity{
		Provider:  emb.Name(),
		Model:     emb.ModelName(),
		Dimension: len(vec),
	}
}

// indexDocument embeds text and stores it under the document's bare key.
// Provider and index failures are logged and reported as false, leaving
// the document for reconciliation. A dimension mismatch is returned.
func (k *Keeper) indexDocument(ctx context.Context, doc *domain.Document, text string) (bool, error) {
	if !k.providers.HasEmbedder() {
		return false, nil
	}

	vec, identity, err := k.embed(ctx, text)
	if err != nil {
		logger.Warn("Document %s/%s stored but not indexed: %v", doc.Collection, doc.ID, err)
		return false, nil
	}
	binding, err := k.bindingFor(ctx, doc.Collection, identity)
	if err != nil {
		logger.Warn("Document %s/%s stored but not indexed: %v", doc.Collection, doc.ID, err)
		return false, nil
	}

	err = k.vectors.Upsert(ctx, binding.IndexName, domain.VectorEntry{
		ID:        doc.ID,
		Embedding: vec,
		Summary:   doc.Summary,
		Tags:      doc.Tags,
	})
	if errors.Is(err, domain.ErrDimensionMismatch) {
		return false, fmt.Errorf("indexing %s: %w", doc.ID, err)
	}
	if err != nil {
		logger.Warn("Document %s/%s stored but not indexed: %v", doc.Collection, doc.ID, err)
		return false, nil
	}
	return true, nil
}

// forEachBinding runs fn on every index of a collection. Failures are
// logged; the document store stays authoritative and reconciliation heals
// the index.
func (k *Keeper) forEachBinding(ctx context.Context, collection, op string,
	fn func(index string) error) {
	bs, err := k.bindings(ctx, collection)
	if err != nil {
		logger.Warn("%s: %v", op, err)
		return
	}
	for _, b := range bs {
		if err := fn(b.IndexName); err != nil {
			logger.Warn("%s in %s: %v", op, b.IndexName, err)
		}
	}
}

// partKeys returns the vector keys of parts 1..n.
func partKeys(id string, n int) []string {
	keys := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		keys = append(keys, domain.PartKey(id, i))
	}
	return keys
}

// truncateText cuts s to at most n bytes on a rune boundary.
func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// placeholderSummary is the summary stored while summarization is pending.
func placeholderSummary(content string, n int) string {
	return truncateText(content, n) + "..."
}
