package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// docState is one state of a document's history; from is its version
// number, zero for the current state.
type docState struct {
	from int
	v    domain.Version
}

// ExtractVersions partitions the history of source and moves the matching
// states into target, all in one immediate transaction.
//
// Matching states keep their oldest-first order. All but the newest are
// appended to target's history with fresh sequential numbers; the newest
// becomes target's current state (target's own current state is archived
// first). If source's current state moved, its newest remaining version is
// promoted, or source is deleted when nothing remains.
func (s *documentStore) ExtractVersions(ctx context.Context, collection, source, target string,
	filter domain.TagFilter, onlyCurrent bool) (*driven.ExtractResult, error) {
	if source == target {
		return nil, fmt.Errorf("%w: source and target are the same document", domain.ErrInvalidInput)
	}

	var result *driven.ExtractResult
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		result = nil
		src, err := getDocument(ctx, tx, collection, source)
		if err != nil || src == nil {
			return err
		}

		versions, err := listVersions(ctx, tx, collection, source, false, 0)
		if err != nil {
			return err
		}
		all := make([]docState, 0, len(versions)+1)
		for _, v := range versions {
			all = append(all, docState{from: v.Version, v: v})
		}
		all = append(all, docState{from: 0, v: src.AsVersion(0, src.UpdatedAt)})

		var selected, remaining []docState
		for _, st := range all {
			var match bool
			if onlyCurrent {
				match = st.from == 0
			} else {
				match = filter.Matches(st.v.Tags)
			}
			if match {
				selected = append(selected, st)
			} else {
				remaining = append(remaining, st)
			}
		}

		res := &driven.ExtractResult{Source: src}
		if len(selected) == 0 {
			result = res
			return nil
		}

		if err := s.installTarget(ctx, tx, collection, target, selected, res); err != nil {
			return err
		}
		if err := s.trimSource(ctx, tx, src, selected, remaining, res); err != nil {
			return err
		}

		res.Extracted = len(selected)
		result = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("extracting versions: %w", err)
	}
	return result, nil
}

func (s *documentStore) installTarget(ctx context.Context, tx *sql.Tx, collection, target string,
	selected []docState, res *driven.ExtractResult) error {
	tgt, err := getDocument(ctx, tx, collection, target)
	if err != nil {
		return err
	}
	next, err := nextVersion(ctx, tx, collection, target)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	createdAt := selected[0].v.CreatedAt
	if tgt != nil {
		if err := insertVersion(ctx, tx, tgt.AsVersion(next, tgt.UpdatedAt)); err != nil {
			return err
		}
		res.TargetArchived = next
		next++
		createdAt = tgt.CreatedAt

		dropped, err := deleteParts(ctx, tx, collection, target)
		if err != nil {
			return err
		}
		res.TargetPartsDropped = dropped
	}

	res.BaseVersion = next
	for _, st := range selected[:len(selected)-1] {
		v := st.v
		v.ID = target
		v.Version = next
		if err := insertVersion(ctx, tx, v); err != nil {
			return err
		}
		res.Moves = append(res.Moves, driven.VersionMove{From: st.from, To: next})
		next++
	}

	newest := selected[len(selected)-1]
	doc := &domain.Document{
		ID:          target,
		Collection:  collection,
		Summary:     newest.v.Summary,
		Tags:        domain.CloneTags(newest.v.Tags),
		ContentHash: newest.v.ContentHash,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
		AccessedAt:  now,
	}
	if err := writeDocument(ctx, tx, doc, next-1); err != nil {
		return err
	}
	res.Moves = append(res.Moves, driven.VersionMove{From: newest.from, To: 0})
	res.Target = doc
	return nil
}

func (s *documentStore) trimSource(ctx context.Context, tx *sql.Tx, src *domain.Document,
	selected, remaining []docState, res *driven.ExtractResult) error {
	currentMoved := false
	for _, st := range selected {
		if st.from == 0 {
			currentMoved = true
			continue
		}
		if err := deleteVersion(ctx, tx, src.Collection, src.ID, st.from); err != nil {
			return err
		}
	}
	if !currentMoved {
		res.Source = src
		return nil
	}

	dropped, err := deleteParts(ctx, tx, src.Collection, src.ID)
	if err != nil {
		return err
	}
	res.SourcePartsDropped = dropped

	if len(remaining) == 0 {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM documents WHERE collection = ? AND id = ?", src.Collection, src.ID); err != nil {
			return fmt.Errorf("deleting source: %w", err)
		}
		res.Source = nil
		return nil
	}

	promote := remaining[len(remaining)-1]
	now := time.Now().UTC()
	doc := &domain.Document{
		ID:          src.ID,
		Collection:  src.Collection,
		Summary:     promote.v.Summary,
		Tags:        domain.CloneTags(promote.v.Tags),
		ContentHash: promote.v.ContentHash,
		CreatedAt:   src.CreatedAt,
		UpdatedAt:   now,
		AccessedAt:  now,
	}
	if err := writeDocument(ctx, tx, doc, 0); err != nil {
		return err
	}
	if err := deleteVersion(ctx, tx, src.Collection, src.ID, promote.from); err != nil {
		return err
	}
	res.SourcePromoted = promote.from
	res.Source = doc
	return nil
}

func deleteVersion(ctx context.Context, q queryer, collection, id string, version int) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM document_versions WHERE collection = ? AND id = ? AND version = ?
	`, collection, id, version)
	if err != nil {
		return fmt.Errorf("deleting version %d: %w", version, err)
	}
	return nil
}
