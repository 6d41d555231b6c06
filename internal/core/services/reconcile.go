package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/logger"
)

// reconcileBatch is how many missing documents are embedded per request.
const reconcileBatch = 32

// CheckConsistency compares the document ids of a collection against the
// keys of its active index.
func (k *Keeper) CheckConsistency(ctx context.Context, collection string) (*domain.ConsistencyReport, error) {
	collection, err := k.collection(collection)
	if err != nil {
		return nil, err
	}

	ids, err := k.docs.ListIDs(ctx, collection)
	if err != nil {
		return nil, err
	}
	report := &domain.ConsistencyReport{Collection: collection, Documents: len(ids)}

	binding, err := k.activeBinding(ctx, collection)
	if err != nil {
		return nil, err
	}
	if binding == nil {
		report.Missing = ids
		return report, nil
	}

	keys, err := k.vectors.ListIDs(ctx, binding.IndexName)
	if err != nil {
		return nil, err
	}
	report.Indexed = len(keys)

	if report.Missing, err = k.vectors.FindMissingIDs(ctx, binding.IndexName, ids); err != nil {
		return nil, err
	}

	derived, err := k.docs.DerivedKeys(ctx, collection)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(ids)+len(derived))
	for _, id := range ids {
		known[id] = true
	}
	for _, key := range derived {
		known[key] = true
	}
	for _, key := range keys {
		if !known[key] {
			report.Orphans = append(report.Orphans, key)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Orphans)

	logger.Debug("Consistency of %s: %d documents, %d indexed, %d missing, %d orphans",
		collection, report.Documents, report.Indexed, len(report.Missing), len(report.Orphans))
	return report, nil
}

// Reconcile repairs divergence between the document store and the index.
//
// Missing documents are re-embedded from their stored summaries before any
// orphan is removed. Per-item failures are logged and counted. Without an
// embedding provider a fixing pass does nothing and reports Skipped, and a
// changed embedding identity queues a full reindex instead.
func (k *Keeper) Reconcile(ctx context.Context, collection string, fix bool) (*domain.ReconcileResult, error) {
	report, err := k.CheckConsistency(ctx, collection)
	if err != nil {
		return nil, err
	}
	result := &domain.ReconcileResult{ConsistencyReport: *report}
	if !fix || report.Consistent() {
		return result, nil
	}

	logger.Section("Reconcile")
	if !k.providers.HasEmbedder() {
		logger.Warn("No embedding provider configured; not reconciling %s", report.Collection)
		result.Skipped = true
		return result, nil
	}

	emb, err := k.providers.BulkEmbedder(ctx)
	if err != nil {
		logger.Warn("Embedding provider unavailable; not reconciling %s: %v", report.Collection, err)
		result.Skipped = true
		return result, nil
	}

	binding, err := k.activeBinding(ctx, report.Collection)
	if err != nil {
		return nil, err
	}

	if len(report.Missing) > 0 {
		identity := domain.EmbeddingIdentity{Provider: emb.Name(), Model: emb.ModelName(), Dimension: emb.Dimensions()}
		if binding != nil && identity.Dimension > 0 && identity != binding.Identity {
			// Mixing identities would corrupt the index; rebuild it instead.
			b, err := k.bindingFor(ctx, report.Collection, identity)
			if err != nil {
				return nil, err
			}
			logger.Info("Embedding identity differs from %s; reindex into %s queued",
				binding.IndexName, b.IndexName)
			result.Skipped = true
			return result, nil
		}

		docs, err := k.docs.GetMany(ctx, report.Collection, report.Missing)
		if err != nil {
			return nil, err
		}
		repaired, failed, err := k.repair(ctx, report.Collection, report.Missing, docs)
		if err != nil {
			return nil, err
		}
		result.Repaired, result.Failed = repaired, failed

		if binding == nil {
			if binding, err = k.activeBinding(ctx, report.Collection); err != nil {
				return nil, err
			}
		}
	}

	if len(report.Orphans) > 0 && binding != nil {
		n, err := k.vectors.DeleteEntries(ctx, binding.IndexName, report.Orphans)
		if err != nil {
			logger.Warn("Removing orphans from %s: %v", binding.IndexName, err)
			result.Failed += len(report.Orphans)
		} else {
			result.OrphansRemoved = n
		}
	}

	logger.Info("Reconciled %s: %d repaired, %d orphans removed, %d failed",
		report.Collection, result.Repaired, result.OrphansRemoved, result.Failed)
	return result, nil
}

// repair embeds the summaries of missing documents in batches, falling
// back to one request per document when a batch fails.
func (k *Keeper) repair(ctx context.Context, collection string, ids []string,
	docs map[string]*domain.Document) (repaired, failed int, err error) {
	emb, err := k.providers.BulkEmbedder(ctx)
	if err != nil {
		return 0, 0, err
	}

	var pending []*domain.Document
	for _, id := range ids {
		if doc, ok := docs[id]; ok {
			pending = append(pending, doc)
		}
	}

	for start := 0; start < len(pending); start += reconcileBatch {
		batch := pending[start:min(start+reconcileBatch, len(pending))]
		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = truncateText(doc.Summary, maxEmbedBytes)
		}

		vecs, err := emb.EmbedBatch(ctx, texts)
		if err != nil || len(vecs) != len(batch) {
			logger.Debug("Batch embedding failed, embedding one at a time: %v", err)
			vecs = make([][]float32, len(batch))
			for i, text := range texts {
				if vecs[i], err = emb.Embed(ctx, text); err != nil {
					logger.Warn("Embedding %s/%s: %v", collection, batch[i].ID, err)
				}
			}
		}

		for i, doc := range batch {
			if vecs[i] == nil {
				failed++
				continue
			}
			binding, err := k.bindingFor(ctx, collection, identityOf(emb, vecs[i]))
			if err != nil {
				return repaired, failed, err
			}
			err = k.vectors.Upsert(ctx, binding.IndexName, domain.VectorEntry{
				ID:        doc.ID,
				Embedding: vecs[i],
				Summary:   doc.Summary,
				Tags:      doc.Tags,
			})
			if errors.Is(err, domain.ErrDimensionMismatch) {
				return repaired, failed, fmt.Errorf("repairing %s: %w", doc.ID, err)
			}
			if err != nil {
				logger.Warn("Indexing %s/%s: %v", collection, doc.ID, err)
				failed++
				continue
			}
			repaired++
		}
	}
	return repaired, failed, nil
}
