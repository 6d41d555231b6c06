package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/logger"
)

// Get returns the current state of a document and records the access.
func (k *Keeper) Get(ctx context.Context, collection, id string) (*domain.Document, error) {
	collection, err := k.target(collection, id)
	if err != nil {
		return nil, err
	}
	doc, err := k.docs.Get(ctx, collection, id)
	if err != nil || doc == nil {
		return nil, err
	}
	k.docs.Touch(ctx, collection, id)
	return doc, nil
}

// Exists reports whether a current state exists.
func (k *Keeper) Exists(ctx context.Context, collection, id string) (bool, error) {
	collection, err := k.target(collection, id)
	if err != nil {
		return false, err
	}
	return k.docs.Exists(ctx, collection, id)
}

// ListVersions returns archived versions, newest first.
func (k *Keeper) ListVersions(ctx context.Context, collection, id string, limit int) ([]domain.Version, error) {
	collection, err := k.target(collection, id)
	if err != nil {
		return nil, err
	}
	return k.docs.ListVersions(ctx, collection, id, limit)
}

// GetVersion returns the state at offset, 0 being current.
func (k *Keeper) GetVersion(ctx context.Context, collection, id string, offset int) (*domain.Version, error) {
	collection, err := k.target(collection, id)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative version offset", domain.ErrInvalidInput)
	}
	return k.docs.GetVersion(ctx, collection, id, offset)
}

// VersionNav returns the offsets adjacent to offset.
func (k *Keeper) VersionNav(ctx context.Context, collection, id string, offset int) (*domain.VersionNav, error) {
	collection, err := k.target(collection, id)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative version offset", domain.ErrInvalidInput)
	}
	return k.docs.VersionNav(ctx, collection, id, offset)
}

// ListParts returns the parts of a document.
func (k *Keeper) ListParts(ctx context.Context, collection, id string) ([]domain.Part, error) {
	collection, err := k.target(collection, id)
	if err != nil {
		return nil, err
	}
	return k.docs.ListParts(ctx, collection, id)
}

// GetPart returns one part.
func (k *Keeper) GetPart(ctx context.Context, collection, id string, partNum int) (*domain.Part, error) {
	collection, err := k.target(collection, id)
	if err != nil {
		return nil, err
	}
	if partNum < 1 {
		return nil, fmt.Errorf("%w: part numbers start at 1", domain.ErrInvalidInput)
	}
	return k.docs.GetPart(ctx, collection, id, partNum)
}

// Revert promotes the newest archived version to current. Its archived
// embedding moves back to the bare key. With no history the document is
// deleted and nil is returned.
func (k *Keeper) Revert(ctx context.Context, collection, id string) (*domain.Document, error) {
	collection, err := k.target(collection, id)
	if err != nil {
		return nil, err
	}

	exists, err := k.docs.Exists(ctx, collection, id)
	if err != nil || !exists {
		return nil, err
	}
	count, err := k.docs.CountVersions(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		logger.Debug("No history for %s/%s, deleting", collection, id)
		_, err := k.Delete(ctx, collection, id)
		return nil, err
	}

	parts, err := k.docs.ListParts(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	// version is whatever the store promoted inside its transaction.
	restored, version, err := k.docs.RestoreLatestVersion(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if restored == nil {
		// History removed concurrently.
		k.forEachBinding(ctx, collection, "deleting index entries", func(index string) error {
			_, err := k.vectors.Delete(ctx, index, id, true)
			return err
		})
		return nil, nil
	}

	stale := partKeys(id, len(parts))
	versionKey := domain.VersionKey(id, version)
	reembed := false
	k.forEachBinding(ctx, collection, "restoring index entry", func(index string) error {
		entries, err := k.vectors.GetEntriesFull(ctx, index, []string{versionKey})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			reembed = true
			if _, err := k.vectors.Delete(ctx, index, id, false); err != nil {
				return err
			}
		} else {
			err = k.vectors.Upsert(ctx, index, domain.VectorEntry{
				ID:        id,
				Embedding: entries[0].Embedding,
				Summary:   restored.Summary,
				Tags:      restored.Tags,
			})
			if err != nil {
				return err
			}
		}
		_, err = k.vectors.DeleteEntries(ctx, index, append(stale, versionKey))
		return err
	})
	if reembed {
		if _, err := k.indexDocument(ctx, restored, restored.Summary); err != nil {
			logger.Warn("Re-embedding %s after revert: %v", id, err)
		}
	}

	logger.Info("Reverted %s/%s to version %d", collection, id, version)
	return restored, nil
}

// Move extracts states of one document into another and carries their
// embeddings along. Returns nil when the source does not exist.
func (k *Keeper) Move(ctx context.Context, req domain.MoveRequest) (*domain.MoveResult, error) {
	collection, err := k.target(req.Collection, req.Source)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateID(req.Target); err != nil {
		return nil, err
	}
	if req.Source == req.Target {
		return nil, fmt.Errorf("%w: source and target are the same document", domain.ErrInvalidInput)
	}
	filter, err := req.Tags.Normalize()
	if err != nil {
		return nil, err
	}

	res, err := k.docs.ExtractVersions(ctx, collection, req.Source, req.Target, filter, req.OnlyCurrent)
	if err != nil || res == nil {
		return nil, err
	}
	if res.Extracted == 0 {
		target, err := k.docs.Get(ctx, collection, req.Target)
		if err != nil {
			return nil, err
		}
		return &domain.MoveResult{Target: target, Source: res.Source}, nil
	}

	k.forEachBinding(ctx, collection, "moving index entries", func(index string) error {
		return k.moveEntries(ctx, index, req.Source, req.Target, res)
	})
	if res.Source == nil {
		if _, err := k.pending.DeleteFor(ctx, req.Source, collection); err != nil {
			logger.Warn("Dropping queued work for %s: %v", req.Source, err)
		}
	}

	logger.Info("Moved %d states of %s/%s into %s", res.Extracted, collection, req.Source, req.Target)
	return &domain.MoveResult{
		Target:      res.Target,
		Source:      res.Source,
		Extracted:   res.Extracted,
		BaseVersion: res.BaseVersion,
	}, nil
}

// moveEntries rekeys the vector entries of moved states in one index.
func (k *Keeper) moveEntries(ctx context.Context, index, source, target string, res *driven.ExtractResult) error {
	sourceKey := func(version int) string {
		if version == 0 {
			return source
		}
		return domain.VersionKey(source, version)
	}

	var keys []string
	for _, m := range res.Moves {
		keys = append(keys, sourceKey(m.From))
	}
	if res.TargetArchived > 0 {
		keys = append(keys, target)
	}
	if res.SourcePromoted > 0 {
		keys = append(keys, sourceKey(res.SourcePromoted))
	}

	entries, err := k.vectors.GetEntriesFull(ctx, index, keys)
	if err != nil {
		return err
	}
	byKey := make(map[string]domain.VectorEntry, len(entries))
	for _, e := range entries {
		byKey[e.ID] = e
	}

	var puts []domain.VectorEntry
	if e, ok := byKey[target]; ok && res.TargetArchived > 0 {
		puts = append(puts, domain.VersionEntry(target, res.TargetArchived, stateEntry(e)))
	}
	for _, m := range res.Moves {
		e, ok := byKey[sourceKey(m.From)]
		if !ok {
			continue
		}
		if m.To == 0 {
			puts = append(puts, domain.VectorEntry{
				ID:        target,
				Embedding: e.Embedding,
				Summary:   res.Target.Summary,
				Tags:      res.Target.Tags,
			})
			continue
		}
		puts = append(puts, domain.VersionEntry(target, m.To, stateEntry(e)))
	}
	if e, ok := byKey[sourceKey(res.SourcePromoted)]; ok && res.SourcePromoted > 0 && res.Source != nil {
		puts = append(puts, domain.VectorEntry{
			ID:        source,
			Embedding: e.Embedding,
			Summary:   res.Source.Summary,
			Tags:      res.Source.Tags,
		})
	}

	deletes := append(keys, partKeys(source, res.SourcePartsDropped)...)
	deletes = append(deletes, partKeys(target, res.TargetPartsDropped)...)
	if _, err := k.vectors.DeleteEntries(ctx, index, deletes); err != nil {
		return err
	}
	if len(puts) == 0 {
		return nil
	}
	return k.vectors.UpsertBatch(ctx, index, puts)
}

// stateEntry strips the derived-key tags of e so it can be rekeyed.
func stateEntry(e domain.VectorEntry) domain.VectorEntry {
	tags := domain.CloneTags(e.Tags)
	delete(tags, domain.TagBaseID)
	delete(tags, domain.TagVersion)
	delete(tags, domain.TagPartNum)
	e.Tags = tags
	return e
}
