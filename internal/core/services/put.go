package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/logger"
)

// Put writes content, or the content of a URI, as the current state of a
// document.
//
// The document store is written first and is authoritative. Index writes
// that fail leave the document stored with Indexed=false.
func (k *Keeper) Put(ctx context.Context, req domain.PutRequest) (*domain.PutResult, error) {
	collection, err := k.collection(req.Collection)
	if err != nil {
		return nil, err
	}
	if (req.Content == "") == (req.URI == "") {
		return nil, fmt.Errorf("%w: exactly one of content and uri is required", domain.ErrInvalidInput)
	}
	requestTags, err := k.normalizeTags(req.Tags)
	if err != nil {
		return nil, err
	}

	content := req.Content
	contentType := req.ContentType
	var fetchedTags map[string]string
	source := domain.SourceInline
	if req.URI != "" {
		fetched, err := k.fetch(ctx, req.URI)
		if err != nil {
			return nil, err
		}
		content = fetched.Content
		if contentType == "" {
			contentType = fetched.ContentType
		}
		if fetchedTags, err = k.normalizeTags(fetched.Tags); err != nil {
			return nil, err
		}
		source = domain.SourceURI
	}

	hash := domain.ContentHash([]byte(content))
	id := req.ID
	if id == "" {
		id = req.URI
		if id == "" {
			id = domain.GeneratedID(hash)
		}
	}
	if err := domain.ValidateID(id); err != nil {
		return nil, err
	}

	logger.Section("Put")
	logger.Debug("Document %s/%s, %d bytes, hash %.12s", collection, id, len(content), hash)

	existing, err := k.docs.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	var existingUser map[string]string
	if existing != nil {
		existingUser = domain.UserTags(existing.Tags)
	}
	merged := domain.MergeTags(existingUser, k.cfg.DefaultTags, k.cfg.EnvironmentTags, fetchedTags, requestTags)

	contentChanged := existing == nil || existing.ContentHash != hash
	if !contentChanged && req.Summary == "" && domain.TagsEqual(existingUser, merged) {
		logger.Debug("Unchanged, nothing written")
		return &domain.PutResult{
			Document: existing,
			Indexed:  k.isIndexed(ctx, collection, id),
		}, nil
	}

	summary, needsSummary := k.summaryFor(req.Summary, content, existing, contentChanged)

	now := k.now().UTC()
	system := map[string]string{
		domain.TagCreated:     now.Format(time.RFC3339),
		domain.TagUpdated:     now.Format(time.RFC3339),
		domain.TagUpdatedDate: now.Format(time.DateOnly),
		domain.TagSource:      source,
	}
	if existing != nil {
		for _, key := range []string{domain.TagCreated, domain.TagSourceURI, domain.TagContentType} {
			if v, ok := existing.Tags[key]; ok {
				system[key] = v
			}
		}
		if v, ok := existing.Tags[domain.TagAnalyzedHash]; ok && !contentChanged {
			system[domain.TagAnalyzedHash] = v
		}
	}
	if req.URI != "" {
		system[domain.TagSourceURI] = req.URI
	} else if contentChanged {
		delete(system, domain.TagSourceURI)
	}
	if contentType != "" {
		system[domain.TagContentType] = contentType
	}

	doc := &domain.Document{
		ID:          id,
		Collection:  collection,
		Summary:     summary,
		Tags:        domain.ApplySystemTags(merged, system),
		ContentHash: hash,
		UpdatedAt:   now,
	}
	upserted, err := k.docs.Upsert(ctx, doc)
	if err != nil {
		return nil, err
	}

	result := &domain.PutResult{
		Document:        upserted.Document,
		Changed:         true,
		ContentChanged:  upserted.ContentChanged,
		ArchivedVersion: upserted.ArchivedVersion,
	}

	if req.Summary != "" {
		if err := k.pending.Complete(ctx, id, collection, domain.TaskSummarize); err != nil {
			logger.Debug("Clearing pending summary of %s: %v", id, err)
		}
	}
	if needsSummary {
		if err := k.enqueueSummary(ctx, upserted.Document, content, contentType); err != nil {
			logger.Warn("Summary of %s/%s not queued: %v", collection, id, err)
		} else {
			result.SummaryPending = true
		}
	}

	if upserted.ContentChanged {
		if existing != nil {
			k.dropParts(ctx, collection, id)
		}
		if upserted.ArchivedVersion > 0 {
			k.archiveEmbedding(ctx, upserted.Previous, upserted.ArchivedVersion)
		}
		indexed, err := k.indexDocument(ctx, upserted.Document, content)
		if err != nil {
			return nil, err
		}
		result.Indexed = indexed
		return result, nil
	}

	result.Indexed = k.updateIndexMetadata(ctx, upserted.Document, existing.Summary != summary)
	if !result.Indexed {
		indexed, err := k.indexDocument(ctx, upserted.Document, content)
		if err != nil {
			return nil, err
		}
		result.Indexed = indexed
	}
	return result, nil
}

// Tag merges tags into the current state without archiving or
// re-embedding. An empty value removes the key.
func (k *Keeper) Tag(ctx context.Context, collection, id string, tags map[string]string) (*domain.Document, error) {
	collection, err := k.target(collection, id)
	if err != nil {
		return nil, err
	}
	normalized, err := k.normalizeTags(tags)
	if err != nil {
		return nil, err
	}

	doc, err := k.docs.Get(ctx, collection, id)
	if err != nil || doc == nil {
		return nil, err
	}

	current := domain.UserTags(doc.Tags)
	merged := domain.MergeTags(current, normalized)
	if domain.TagsEqual(current, merged) {
		return doc, nil
	}

	now := k.now().UTC()
	system := domain.SystemTags(doc.Tags)
	system[domain.TagUpdated] = now.Format(time.RFC3339)
	system[domain.TagUpdatedDate] = now.Format(time.DateOnly)
	doc.Tags = domain.ApplySystemTags(merged, system)

	ok, err := k.docs.UpdateTags(ctx, collection, id, doc.Tags)
	if err != nil || !ok {
		return nil, err
	}
	k.updateIndexMetadata(ctx, doc, false)
	return k.docs.Get(ctx, collection, id)
}

// SetSummary replaces the summary without archiving. A queued summarize
// task for the document is dropped.
func (k *Keeper) SetSummary(ctx context.Context, collection, id, summary string) (*domain.Document, error) {
	collection, err := k.target(collection, id)
	if err != nil {
		return nil, err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, fmt.Errorf("%w: empty summary", domain.ErrInvalidInput)
	}

	ok, err := k.docs.UpdateSummary(ctx, collection, id, summary)
	if err != nil || !ok {
		return nil, err
	}
	if err := k.pending.Complete(ctx, id, collection, domain.TaskSummarize); err != nil {
		logger.Debug("Clearing pending summary of %s: %v", id, err)
	}

	doc, err := k.docs.Get(ctx, collection, id)
	if err != nil || doc == nil {
		return doc, err
	}
	k.updateIndexMetadata(ctx, doc, true)
	return doc, nil
}

// Delete removes a document with its history, parts, index entries and
// queued work. Returns false when nothing existed.
func (k *Keeper) Delete(ctx context.Context, collection, id string) (bool, error) {
	collection, err := k.target(collection, id)
	if err != nil {
		return false, err
	}

	existed, err := k.docs.Delete(ctx, collection, id, true)
	if err != nil {
		return false, err
	}
	k.forEachBinding(ctx, collection, "deleting index entries", func(index string) error {
		_, err := k.vectors.Delete(ctx, index, id, true)
		return err
	})
	if _, err := k.pending.DeleteFor(ctx, id, collection); err != nil {
		logger.Warn("Dropping queued work for %s: %v", id, err)
	}

	logger.Debug("Deleted %s/%s (existed=%t)", collection, id, existed)
	return existed, nil
}

func (k *Keeper) normalizeTags(tags map[string]string) (map[string]string, error) {
	normalized, filtered, err := domain.NormalizeUserTags(tags)
	if err != nil {
		return nil, err
	}
	if len(filtered) > 0 {
		logger.Warn("Ignoring system tags set by caller: %s", strings.Join(filtered, ", "))
	}
	return normalized, nil
}

// summaryFor picks the stored summary and whether a summarize task is
// needed.
func (k *Keeper) summaryFor(explicit, content string, existing *domain.Document,
	contentChanged bool) (string, bool) {
	switch {
	case explicit != "":
		return explicit, false
	case !contentChanged && existing != nil:
		return existing.Summary, false
	case len(content) <= k.cfg.MaxSummaryLength:
		return content, false
	default:
		return placeholderSummary(content, k.cfg.MaxSummaryLength), k.providers.HasSummarizer()
	}
}

func (k *Keeper) enqueueSummary(ctx context.Context, doc *domain.Document, content, contentType string) error {
	meta := map[string]string{domain.MetaContentHash: doc.ContentHash}
	if contentType != "" {
		meta[domain.MetaContentType] = contentType
	}
	return k.pending.Enqueue(ctx, domain.PendingItem{
		ID:         doc.ID,
		Collection: doc.Collection,
		TaskType:   domain.TaskSummarize,
		Content:    content,
		Metadata:   meta,
		QueuedAt:   k.now().UTC(),
	})
}

func (k *Keeper) fetch(ctx context.Context, uri string) (*driven.FetchedDocument, error) {
	if k.fetcher == nil || !k.fetcher.Supports(uri) {
		return nil, fmt.Errorf("%w: %s", domain.ErrFetcherUnavailable, uri)
	}
	fetched, err := k.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", uri, err)
	}
	if strings.TrimSpace(fetched.Content) != "" {
		return fetched, nil
	}

	if k.describer == nil || fetched.Path == "" {
		return nil, fmt.Errorf("%w: %s has no text content", domain.ErrInvalidInput, uri)
	}
	description, err := k.describer.Describe(ctx, fetched.Path, fetched.ContentType)
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", uri, err)
	}
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: %s (%s) cannot be described", domain.ErrUnsupportedType, uri, fetched.ContentType)
	}
	fetched.Content = description
	return fetched, nil
}

// dropParts removes parts whose content no longer matches the document.
func (k *Keeper) dropParts(ctx context.Context, collection, id string) {
	n, err := k.docs.DeleteParts(ctx, collection, id)
	if err != nil {
		logger.Warn("Dropping stale parts of %s: %v", id, err)
		return
	}
	if n == 0 {
		return
	}
	keys := partKeys(id, n)
	k.forEachBinding(ctx, collection, "dropping part entries", func(index string) error {
		_, err := k.vectors.DeleteEntries(ctx, index, keys)
		return err
	})
}

// archiveEmbedding copies the embedding of the replaced state to its
// version key, so history stays searchable without re-embedding.
func (k *Keeper) archiveEmbedding(ctx context.Context, previous *domain.Document, version int) {
	if previous == nil {
		return
	}
	k.forEachBinding(ctx, previous.Collection, "archiving embedding", func(index string) error {
		vec, err := k.vectors.GetEmbedding(ctx, index, previous.ID)
		if err != nil || vec == nil {
			return err
		}
		return k.vectors.UpsertVersion(ctx, index, previous.ID, version, domain.VectorEntry{
			Embedding: vec,
			Summary:   previous.Summary,
			Tags:      previous.Tags,
		})
	})
}

// updateIndexMetadata copies summary and tags to the bare entry in every
// index. Returns whether any index holds the entry.
func (k *Keeper) updateIndexMetadata(ctx context.Context, doc *domain.Document, summaryChanged bool) bool {
	found := false
	k.forEachBinding(ctx, doc.Collection, "updating index metadata", func(index string) error {
		ok, err := k.vectors.UpdateTags(ctx, index, doc.ID, doc.Tags)
		if err != nil || !ok {
			return err
		}
		found = true
		if summaryChanged {
			_, err = k.vectors.UpdateSummary(ctx, index, doc.ID, doc.Summary)
		}
		return err
	})
	return found
}

func (k *Keeper) isIndexed(ctx context.Context, collection, id string) bool {
	binding, err := k.activeBinding(ctx, collection)
	if err != nil || binding == nil {
		return false
	}
	ok, err := k.vectors.Exists(ctx, binding.IndexName, id)
	return err == nil && ok
}

