package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/logger"
)

// DefaultFindLimit is the number of hits returned when none is requested.
const DefaultFindLimit = 10

// summaryScanLimit bounds the documents scanned when a collection has no
// index to search.
const summaryScanLimit = 1000

// Find ranks documents against a query.
//
// A query is embedded and matched by similarity; without an embedding
// provider, or while the active index belongs to another embedding
// identity, summaries are matched full-text instead. An empty query lists
// documents by recency. Scores are weighted by recency decay.
func (k *Keeper) Find(ctx context.Context, req domain.FindRequest) (*domain.FindResult, error) {
	collection, err := k.collection(req.Collection)
	if err != nil {
		return nil, err
	}
	filter, err := req.Tags.Normalize()
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultFindLimit
	}
	query := strings.TrimSpace(req.Query)

	logger.Section("Find")
	logger.Debug("Query %q in %s, limit %d, filter %v", query, collection, limit, filter)

	if query == "" {
		return k.findRecent(ctx, collection, filter, req.Since, limit)
	}

	// Over-fetch so hiding derived keys and the since filter still leave enough.
	fetch := limit * 3
	if !req.Since.IsZero() {
		fetch = limit * 5
	}

	hits, mode, err := k.search(ctx, collection, query, filter, fetch)
	if err != nil {
		return nil, err
	}
	logger.Debug("Raw %s results: %d", mode, len(hits))

	var ranked []domain.FindHit
	baseIDs := make([]string, 0, len(hits))
	for _, h := range hits {
		base, kind, n := domain.ParseKey(h.Key)
		if (kind == domain.KeyVersion && !req.IncludeVersions) || (kind == domain.KeyPart && !req.IncludeParts) {
			continue
		}
		h.ID, h.Kind, h.Num = base, kind, n
		ranked = append(ranked, h)
		baseIDs = append(baseIDs, base)
	}

	docs, err := k.docs.GetMany(ctx, collection, baseIDs)
	if err != nil {
		return nil, err
	}

	now := k.now()
	out := ranked[:0]
	for _, h := range ranked {
		doc, ok := docs[h.ID]
		if !ok {
			// Orphaned entry; reconciliation removes it.
			continue
		}
		if !req.Since.IsZero() && doc.UpdatedAt.Before(req.Since) {
			continue
		}
		h.Document = doc
		h.Score *= k.recencyWeight(doc.UpdatedAt, now)
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}

	k.touchHits(ctx, collection, out)
	logger.Info("Find returned %d results (%s)", len(out), mode)
	return &domain.FindResult{Hits: out, Mode: mode}, nil
}

// search queries the active index, embedding the query when possible.
func (k *Keeper) search(ctx context.Context, collection, query string, filter domain.TagFilter,
	limit int) ([]domain.FindHit, domain.FindMode, error) {
	binding, err := k.activeBinding(ctx, collection)
	if err != nil {
		return nil, "", err
	}
	if binding == nil {
		hits, err := k.scanSummaries(ctx, collection, query, filter, limit)
		return hits, domain.FindFulltext, err
	}

	if k.providers.HasEmbedder() {
		vec, identity, err := k.embed(ctx, query)
		switch {
		case err != nil:
			logger.Warn("Query embedding failed, using full-text search: %v", err)
		case identity != binding.Identity:
			logger.Debug("Index %s was built with %s, query uses %s; using full-text search",
				binding.IndexName, binding.Identity, identity)
		default:
			vhits, err := k.vectors.QueryEmbedding(ctx, binding.IndexName, vec, limit, filter)
			if err != nil {
				return nil, "", err
			}
			return toFindHits(vhits), domain.FindSemantic, nil
		}
	}

	vhits, err := k.vectors.QueryFulltext(ctx, binding.IndexName, query, limit, filter)
	if err != nil {
		return nil, "", err
	}
	return toFindHits(vhits), domain.FindFulltext, nil
}

// scanSummaries matches query terms against stored summaries for
// collections that have never been indexed.
func (k *Keeper) scanSummaries(ctx context.Context, collection, query string, filter domain.TagFilter,
	limit int) ([]domain.FindHit, error) {
	docs, err := k.docs.ListRecent(ctx, collection, summaryScanLimit, time.Time{})
	if err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))

	var hits []domain.FindHit
	for _, doc := range docs {
		if !filter.Matches(doc.Tags) {
			continue
		}
		summary := strings.ToLower(doc.Summary)
		matched := 0
		for _, term := range terms {
			if strings.Contains(summary, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, domain.FindHit{
			Key:     doc.ID,
			Summary: doc.Summary,
			Tags:    doc.Tags,
			Score:   float64(matched) / float64(len(terms)),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// findRecent serves empty queries from the document store.
func (k *Keeper) findRecent(ctx context.Context, collection string, filter domain.TagFilter,
	since time.Time, limit int) (*domain.FindResult, error) {
	var (
		docs []domain.Document
		err  error
	)
	if len(filter) > 0 {
		docs, err = k.docs.QueryByTags(ctx, collection, filter, 0)
	} else {
		docs, err = k.docs.ListRecent(ctx, collection, limit, since)
	}
	if err != nil {
		return nil, err
	}

	now := k.now()
	hits := make([]domain.FindHit, 0, min(len(docs), limit))
	for i := range docs {
		doc := &docs[i]
		if !since.IsZero() && doc.UpdatedAt.Before(since) {
			continue
		}
		hits = append(hits, domain.FindHit{
			Key:      doc.ID,
			ID:       doc.ID,
			Kind:     domain.KeyDocument,
			Summary:  doc.Summary,
			Tags:     doc.Tags,
			Score:    k.recencyWeight(doc.UpdatedAt, now),
			Document: doc,
		})
		if len(hits) == limit {
			break
		}
	}

	k.touchHits(ctx, collection, hits)
	return &domain.FindResult{Hits: hits, Mode: domain.FindTags}, nil
}

// recencyWeight is 0.5^(age/halfLife), or 1 when decay is disabled.
func (k *Keeper) recencyWeight(updated, now time.Time) float64 {
	halfLife := k.cfg.RecencyHalfLife
	if halfLife <= 0 || updated.IsZero() {
		return 1
	}
	age := now.Sub(updated)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

func (k *Keeper) touchHits(ctx context.Context, collection string, hits []domain.FindHit) {
	seen := make(map[string]bool, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Kind == domain.KeyDocument && !seen[h.ID] {
			seen[h.ID] = true
			ids = append(ids, h.ID)
		}
	}
	k.docs.TouchMany(ctx, collection, ids)
}

func toFindHits(vhits []domain.VectorHit) []domain.FindHit {
	hits := make([]domain.FindHit, 0, len(vhits))
	for _, h := range vhits {
		hits = append(hits, domain.FindHit{
			Key:     h.ID,
			Summary: h.Summary,
			Tags:    h.Tags,
			Score:   h.Similarity,
		})
	}
	return hits
}

// QueryTags returns documents carrying every tag in filter.
func (k *Keeper) QueryTags(ctx context.Context, collection string, filter domain.TagFilter,
	limit int) ([]domain.Document, error) {
	collection, err := k.collection(collection)
	if err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return nil, fmt.Errorf("%w: empty tag filter", domain.ErrInvalidInput)
	}
	normalized, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	return k.docs.QueryByTags(ctx, collection, normalized, limit)
}

// ListRecent returns documents updated since a time, newest first.
func (k *Keeper) ListRecent(ctx context.Context, collection string, limit int,
	since time.Time) ([]domain.Document, error) {
	collection, err := k.collection(collection)
	if err != nil {
		return nil, err
	}
	return k.docs.ListRecent(ctx, collection, limit, since)
}

// Collections returns collections holding documents.
func (k *Keeper) Collections(ctx context.Context) ([]string, error) {
	return k.docs.ListCollections(ctx)
}

// Status describes a collection.
func (k *Keeper) Status(ctx context.Context, collection string) (*domain.StoreStatus, error) {
	collection, err := k.collection(collection)
	if err != nil {
		return nil, err
	}

	docs, versions, parts, err := k.docs.Count(ctx, collection)
	if err != nil {
		return nil, err
	}
	status := &domain.StoreStatus{
		Collection: collection,
		Documents:  docs,
		Versions:   versions,
		Parts:      parts,
	}

	binding, err := k.activeBinding(ctx, collection)
	if err != nil {
		return nil, err
	}
	if binding != nil {
		status.Binding = binding
		if status.Indexed, err = k.vectors.Count(ctx, binding.IndexName); err != nil {
			return nil, err
		}
	}

	stats, err := k.pending.Stats(ctx)
	if err != nil {
		return nil, err
	}
	status.Pending = *stats
	return status, nil
}

// PendingStatus returns queued work for a document id.
func (k *Keeper) PendingStatus(ctx context.Context, id string) ([]domain.PendingItem, error) {
	return k.pending.GetStatus(ctx, id)
}

// PendingStats summarises the work queue.
func (k *Keeper) PendingStats(ctx context.Context) (*domain.PendingStats, error) {
	return k.pending.Stats(ctx)
}

// ClearPending empties the work queue.
func (k *Keeper) ClearPending(ctx context.Context) (int, error) {
	n, err := k.pending.Clear(ctx)
	if err == nil && n > 0 {
		logger.Info("Cleared %d pending items", n)
	}
	return n, err
}
