package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/logger"
)

// reindexBatch is how many entries are embedded per request while rebuilding.
const reindexBatch = 32

// reindexSource is one entry to rebuild and the text it is embedded from.
type reindexSource struct {
	entry domain.VectorEntry
	text  string
}

// reindex rebuilds a building index from the document store and makes it
// the active binding of its collection.
func (k *Keeper) reindex(ctx context.Context, item domain.PendingItem) error {
	indexName := item.Metadata[domain.MetaIndexName]
	if indexName == "" {
		indexName = item.ID
	}

	bs, err := k.bindings(ctx, item.Collection)
	if err != nil {
		return err
	}
	var target *domain.IndexBinding
	for i := range bs {
		if bs[i].IndexName == indexName {
			target = &bs[i]
		}
	}
	if target == nil {
		return fmt.Errorf("%w: index %s is no longer bound", errStale, indexName)
	}
	if target.State == domain.BindingActive {
		return fmt.Errorf("%w: index %s is already active", errStale, indexName)
	}

	if !k.providers.HasEmbedder() {
		return fmt.Errorf("%w: %w", errStale, domain.ErrEmbeddingUnavailable)
	}
	emb, err := k.providers.BulkEmbedder(ctx)
	if err != nil {
		return err
	}
	if emb.Name() != target.Identity.Provider || emb.ModelName() != target.Identity.Model {
		// The provider changed again before this rebuild ran.
		k.dropBinding(ctx, *target)
		return fmt.Errorf("%w: embedding provider is now %s/%s", errStale, emb.Name(), emb.ModelName())
	}

	logger.Section("Reindex")
	logger.Info("Rebuilding %s into %s", item.Collection, indexName)

	sources, err := k.reindexSources(ctx, item.Collection)
	if err != nil {
		return err
	}
	for start := 0; start < len(sources); start += reindexBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := sources[start:min(start+reindexBatch, len(sources))]
		if err := k.rebuildBatch(ctx, emb, *target, batch); err != nil {
			return err
		}
		logger.Debug("Reindexed %d/%d entries of %s", start+len(batch), len(sources), item.Collection)
	}

	target.State = domain.BindingActive
	target.UpdatedAt = k.now().UTC()
	if err := k.docs.SaveBinding(ctx, *target); err != nil {
		return fmt.Errorf("activating %s: %w", indexName, err)
	}
	for _, b := range bs {
		if b.IndexName != indexName {
			k.dropBinding(ctx, b)
		}
	}

	logger.Info("Index %s is active with %d entries", indexName, len(sources))
	return nil
}

// reindexSources lists every document, version and part of a collection
// with the text its embedding is computed from.
func (k *Keeper) reindexSources(ctx context.Context, collection string) ([]reindexSource, error) {
	ids, err := k.docs.ListIDs(ctx, collection)
	if err != nil {
		return nil, err
	}
	docs, err := k.docs.GetMany(ctx, collection, ids)
	if err != nil {
		return nil, err
	}

	var sources []reindexSource
	for _, id := range ids {
		doc, ok := docs[id]
		if !ok {
			continue
		}
		sources = append(sources, reindexSource{
			entry: domain.VectorEntry{ID: id, Summary: doc.Summary, Tags: doc.Tags},
			text:  doc.Summary,
		})

		versions, err := k.docs.ListVersions(ctx, collection, id, 0)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			sources = append(sources, reindexSource{
				entry: domain.VersionEntry(id, v.Version, domain.VectorEntry{Summary: v.Summary, Tags: v.Tags}),
				text:  v.Summary,
			})
		}

		parts, err := k.docs.ListParts(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			text := p.Content
			if text == "" {
				text = p.Summary
			}
			sources = append(sources, reindexSource{
				entry: domain.PartEntry(id, p.PartNum, domain.VectorEntry{Summary: p.Summary, Tags: p.Tags}),
				text:  text,
			})
		}
	}
	return sources, nil
}

func (k *Keeper) rebuildBatch(ctx context.Context, emb driven.EmbeddingProvider,
	binding domain.IndexBinding, batch []reindexSource) error {
	texts := make([]string, len(batch))
	for i, s := range batch {
		texts[i] = truncateText(s.text, maxEmbedBytes)
	}
	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if len(vecs) != len(batch) {
		return fmt.Errorf("embedding: got %d vectors for %d entries", len(vecs), len(batch))
	}

	entries := make([]domain.VectorEntry, len(batch))
	for i, s := range batch {
		if len(vecs[i]) != binding.Identity.Dimension {
			return fmt.Errorf("%w: %s expects %d, provider returned %d",
				domain.ErrDimensionMismatch, binding.IndexName, binding.Identity.Dimension, len(vecs[i]))
		}
		entries[i] = s.entry
		entries[i].Embedding = vecs[i]
	}
	return k.vectors.UpsertBatch(ctx, binding.IndexName, entries)
}

// dropBinding forgets a binding and its physical index.
func (k *Keeper) dropBinding(ctx context.Context, b domain.IndexBinding) {
	if err := k.docs.DeleteBinding(ctx, b.Collection, b.IndexName); err != nil {
		logger.Warn("Removing binding %s: %v", b.IndexName, err)
		return
	}
	if err := k.vectors.DeleteCollection(ctx, b.IndexName); err != nil {
		logger.Warn("Dropping index %s: %v", b.IndexName, err)
	}
	logger.Debug("Dropped index %s", b.IndexName)
}
