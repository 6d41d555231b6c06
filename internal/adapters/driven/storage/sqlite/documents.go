package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/logger"
)

// inClauseBatch bounds the number of placeholders per IN (...) query.
const inClauseBatch = 500

const documentColumns = `id, collection, summary, tags, content_hash, created_at, updated_at, accessed_at`

// documentStore implements driven.DocumentStore.
type documentStore struct {
	db *database
}

var _ driven.DocumentStore = (*documentStore)(nil)

// Upsert installs doc as current, archiving the previous state on content change.
func (s *documentStore) Upsert(ctx context.Context, doc *domain.Document) (*driven.UpsertResult, error) {
	var result *driven.UpsertResult
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getDocument(ctx, tx, doc.Collection, doc.ID)
		if err != nil {
			return err
		}

		stored := doc.Clone()
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = time.Now().UTC()
		}
		if stored.AccessedAt.IsZero() {
			stored.AccessedAt = stored.UpdatedAt
		}

		result = &driven.UpsertResult{Previous: existing}
		archived := 0
		switch {
		case existing == nil:
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = stored.UpdatedAt
			}
			result.ContentChanged = true
		case existing.ContentHash != doc.ContentHash:
			stored.CreatedAt = existing.CreatedAt
			next, err := nextVersion(ctx, tx, doc.Collection, doc.ID)
			if err != nil {
				return err
			}
			if err := insertVersion(ctx, tx, existing.AsVersion(next, existing.UpdatedAt)); err != nil {
				return err
			}
			archived = next
			result.ContentChanged = true
			result.ArchivedVersion = next
		default:
			stored.CreatedAt = existing.CreatedAt
		}

		if err := writeDocument(ctx, tx, stored, archived); err != nil {
			return err
		}
		result.Document = stored
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upserting document: %w", err)
	}
	return result, nil
}

// Get retrieves the current state of a document.
func (s *documentStore) Get(ctx context.Context, collection, id string) (*domain.Document, error) {
	doc, err := getDocument(ctx, s.db.db, collection, id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

// GetMany retrieves current states keyed by id.
func (s *documentStore) GetMany(ctx context.Context, collection string, ids []string) (map[string]*domain.Document, error) {
	out := make(map[string]*domain.Document, len(ids))
	for start := 0; start < len(ids); start += inClauseBatch {
		end := min(start+inClauseBatch, len(ids))
		batch := ids[start:end]

		args := make([]any, 0, len(batch)+1)
		args = append(args, collection)
		for _, id := range batch {
			args = append(args, id)
		}

		rows, err := s.db.db.QueryContext(ctx, `
			SELECT `+documentColumns+` FROM documents
			WHERE collection = ? AND id IN (`+placeholders(len(batch))+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("querying documents: %w", err)
		}
		docs, err := scanDocuments(rows)
		if err != nil {
			return nil, err
		}
		for i := range docs {
			out[docs[i].ID] = &docs[i]
		}
	}
	return out, nil
}

// Exists reports whether a current state exists.
func (s *documentStore) Exists(ctx context.Context, collection, id string) (bool, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE collection = ? AND id = ?", collection, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking document: %w", err)
	}
	return n > 0, nil
}

// UpdateSummary replaces the summary in place.
func (s *documentStore) UpdateSummary(ctx context.Context, collection, id, summary string) (bool, error) {
	res, err := s.db.exec(ctx, `
		UPDATE documents SET summary = ?, updated_at = ? WHERE collection = ? AND id = ?
	`, summary, formatTime(time.Now()), collection, id)
	if err != nil {
		return false, fmt.Errorf("updating summary: %w", err)
	}
	return affected(res), nil
}

// UpdateTags replaces the tags in place.
func (s *documentStore) UpdateTags(ctx context.Context, collection, id string, tags map[string]string) (bool, error) {
	encoded, err := encodeTags(tags)
	if err != nil {
		return false, err
	}
	res, err := s.db.exec(ctx, `
		UPDATE documents SET tags = ?, updated_at = ? WHERE collection = ? AND id = ?
	`, encoded, formatTime(time.Now()), collection, id)
	if err != nil {
		return false, fmt.Errorf("updating tags: %w", err)
	}
	return affected(res), nil
}

// Touch updates access time. It does not retry and never fails the caller.
func (s *documentStore) Touch(ctx context.Context, collection, id string) {
	s.TouchMany(ctx, collection, []string{id})
}

// TouchMany updates access time for several documents.
func (s *documentStore) TouchMany(ctx context.Context, collection string, ids []string) {
	if len(ids) == 0 {
		return
	}
	now := formatTime(time.Now())
	for start := 0; start < len(ids); start += inClauseBatch {
		batch := ids[start:min(start+inClauseBatch, len(ids))]
		args := make([]any, 0, len(batch)+2)
		args = append(args, now, collection)
		for _, id := range batch {
			args = append(args, id)
		}
		_, err := s.db.db.ExecContext(ctx, `
			UPDATE documents SET accessed_at = ? WHERE collection = ? AND id IN (`+placeholders(len(batch))+`)
		`, args...)
		if err != nil {
			logger.Debug("touch skipped for %d documents in %s: %v", len(batch), collection, err)
			return
		}
	}
}

// Delete removes a document and optionally its history and parts.
func (s *documentStore) Delete(ctx context.Context, collection, id string, deleteVersions bool) (bool, error) {
	var existed bool
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, id)
		if err != nil {
			return err
		}
		existed = affected(res)
		if !deleteVersions {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM document_versions WHERE collection = ? AND id = ?", collection, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM document_parts WHERE collection = ? AND id = ?", collection, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("deleting document: %w", err)
	}
	return existed, nil
}

// RestoreLatestVersion promotes the newest version to current.
func (s *documentStore) RestoreLatestVersion(ctx context.Context, collection, id string) (*domain.Document, int, error) {
	var restored *domain.Document
	var version int
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		restored, version = nil, 0
		current, err := getDocument(ctx, tx, collection, id)
		if err != nil {
			return err
		}

		versions, err := listVersions(ctx, tx, collection, id, true, 1)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM document_parts WHERE collection = ? AND id = ?", collection, id); err != nil {
			return err
		}
		if len(versions) == 0 {
			_, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, id)
			return err
		}

		latest := versions[0]
		now := time.Now().UTC()
		doc := &domain.Document{
			ID:          id,
			Collection:  collection,
			Summary:     latest.Summary,
			Tags:        latest.Tags,
			ContentHash: latest.ContentHash,
			CreatedAt:   latest.CreatedAt,
			UpdatedAt:   now,
			AccessedAt:  now,
		}
		if current != nil {
			doc.CreatedAt = current.CreatedAt
		}
		if err := writeDocument(ctx, tx, doc, latest.Version); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM document_versions WHERE collection = ? AND id = ? AND version = ?
		`, collection, id, latest.Version); err != nil {
			return err
		}
		restored, version = doc, latest.Version
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("restoring version: %w", err)
	}
	return restored, version, nil
}

// ListVersions returns archived versions, newest first. limit <= 0 returns all.
func (s *documentStore) ListVersions(ctx context.Context, collection, id string, limit int) ([]domain.Version, error) {
	versions, err := listVersions(ctx, s.db.db, collection, id, true, limit)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return versions, nil
}

// GetVersion returns the state at offset.
func (s *documentStore) GetVersion(ctx context.Context, collection, id string, offset int) (*domain.Version, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative version offset", domain.ErrInvalidInput)
	}
	if offset == 0 {
		doc, err := s.Get(ctx, collection, id)
		if err != nil || doc == nil {
			return nil, err
		}
		v := doc.AsVersion(0, doc.UpdatedAt)
		return &v, nil
	}

	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, collection, version, summary, tags, content_hash, created_at
		FROM document_versions WHERE collection = ? AND id = ?
		ORDER BY version DESC LIMIT 1 OFFSET ?
	`, collection, id, offset-1)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting version: %w", err)
	}
	return v, nil
}

// VersionNav returns neighbouring offsets. Prev is older, Next is newer.
func (s *documentStore) VersionNav(ctx context.Context, collection, id string, offset int) (*domain.VersionNav, error) {
	exists, err := s.Exists(ctx, collection, id)
	if err != nil || !exists {
		return nil, err
	}
	count, err := s.CountVersions(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > count {
		return nil, nil
	}

	nav := &domain.VersionNav{Offset: offset}
	if offset < count {
		prev := offset + 1
		nav.Prev = &prev
	}
	if offset > 0 {
		next := offset - 1
		nav.Next = &next
	}
	return nav, nil
}

// CountVersions returns the number of archived versions.
func (s *documentStore) CountVersions(ctx context.Context, collection, id string) (int, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM document_versions WHERE collection = ? AND id = ?", collection, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting versions: %w", err)
	}
	return n, nil
}

// ListIDs returns every current document id.
func (s *documentStore) ListIDs(ctx context.Context, collection string) ([]string, error) {
	return queryStrings(ctx, s.db.db,
		"SELECT id FROM documents WHERE collection = ? ORDER BY id", collection)
}

// DerivedKeys returns version and part keys that should exist in the index.
func (s *documentStore) DerivedKeys(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, version, 'v' FROM document_versions WHERE collection = ?
		UNION ALL
		SELECT id, part_num, 'p' FROM document_parts WHERE collection = ?
	`, collection, collection)
	if err != nil {
		return nil, fmt.Errorf("querying derived keys: %w", err)
	}
	defer rows.Close()

	var keys []string //nolint:prealloc // size unknown from query
	for rows.Next() {
		var id, kind string
		var n int
		if err := rows.Scan(&id, &n, &kind); err != nil {
			return nil, fmt.Errorf("scanning derived key: %w", err)
		}
		if kind == "v" {
			keys = append(keys, domain.VersionKey(id, n))
		} else {
			keys = append(keys, domain.PartKey(id, n))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating derived keys: %w", err)
	}
	return keys, nil
}

// ListRecent returns documents updated at or after since, newest first.
func (s *documentStore) ListRecent(ctx context.Context, collection string, limit int,
	since time.Time) ([]domain.Document, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE collection = ? AND updated_at >= ?
		ORDER BY updated_at DESC LIMIT ?
	`, collection, formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent documents: %w", err)
	}
	return scanDocuments(rows)
}

// QueryByTags returns documents carrying every tag in filter, newest first.
func (s *documentStore) QueryByTags(ctx context.Context, collection string, filter domain.TagFilter,
	limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = -1
	}

	var where strings.Builder
	args := []any{collection}
	for _, key := range filter.Keys() {
		if value := filter[key]; value != "" {
			where.WriteString(" AND EXISTS (SELECT 1 FROM json_each(documents.tags) t WHERE t.key = ? AND t.value = ?)")
			args = append(args, key, value)
		} else {
			where.WriteString(" AND EXISTS (SELECT 1 FROM json_each(documents.tags) t WHERE t.key = ?)")
			args = append(args, key)
		}
	}
	args = append(args, limit)

	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE collection = ?`+where.String()+`
		ORDER BY updated_at DESC LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents by tags: %w", err)
	}
	return scanDocuments(rows)
}

// ListCollections returns collections holding documents.
func (s *documentStore) ListCollections(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, s.db.db, "SELECT DISTINCT collection FROM documents ORDER BY collection")
}

// Count returns document, version and part counts.
func (s *documentStore) Count(ctx context.Context, collection string) (docs, versions, parts int, err error) {
	err = s.db.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents WHERE collection = ?),
			(SELECT COUNT(*) FROM document_versions WHERE collection = ?),
			(SELECT COUNT(*) FROM document_parts WHERE collection = ?)
	`, collection, collection, collection).Scan(&docs, &versions, &parts)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("counting documents: %w", err)
	}
	return docs, versions, parts, nil
}

// ==================== Helper Functions ====================

func getDocument(ctx context.Context, q queryer, collection, id string) (*domain.Document, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE collection = ? AND id = ?
	`, collection, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, err
}

// writeDocument inserts or replaces the current row. maxVersion raises the
// high-water version mark; it never lowers it.
func writeDocument(ctx context.Context, q queryer, doc *domain.Document, maxVersion int) error {
	tags, err := encodeTags(doc.Tags)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO documents (id, collection, summary, tags, content_hash, created_at, updated_at, accessed_at, max_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, collection) DO UPDATE SET
			summary = excluded.summary,
			tags = excluded.tags,
			content_hash = excluded.content_hash,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			accessed_at = excluded.accessed_at,
			max_version = MAX(documents.max_version, excluded.max_version)
	`, doc.ID, doc.Collection, doc.Summary, tags, doc.ContentHash,
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt), formatTime(doc.AccessedAt), maxVersion)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// nextVersion returns one past the highest number ever assigned to id.
func nextVersion(ctx context.Context, q queryer, collection, id string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT max_version FROM documents WHERE collection = ? AND id = ?), 0),
			COALESCE((SELECT MAX(version) FROM document_versions WHERE collection = ? AND id = ?), 0)
		)
	`, collection, id, collection, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("getting next version: %w", err)
	}
	return n + 1, nil
}

func insertVersion(ctx context.Context, q queryer, v domain.Version) error {
	tags, err := encodeTags(v.Tags)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO document_versions (id, collection, version, summary, tags, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.Collection, v.Version, v.Summary, tags, v.ContentHash, formatTime(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("archiving version %d: %w", v.Version, err)
	}
	return nil
}

func listVersions(ctx context.Context, q queryer, collection, id string, newestFirst bool,
	limit int) ([]domain.Version, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, collection, version, summary, tags, content_hash, created_at
		FROM document_versions WHERE collection = ? AND id = ?
		ORDER BY version `+order+` LIMIT ?
	`, collection, id, limit)
	if err != nil {
		return nil, fmt.Errorf("querying versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.Version //nolint:prealloc // size unknown from query
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating versions: %w", err)
	}
	return versions, nil
}

func scanDocument(row scanner) (*domain.Document, error) {
	var doc domain.Document
	var tags, created, updated, accessed string
	if err := row.Scan(&doc.ID, &doc.Collection, &doc.Summary, &tags, &doc.ContentHash,
		&created, &updated, &accessed); err != nil {
		return nil, err
	}

	var err error
	if doc.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	if doc.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if doc.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if doc.AccessedAt, err = parseTime(accessed); err != nil {
		return nil, err
	}
	return &doc, nil
}

func scanDocuments(rows *sql.Rows) ([]domain.Document, error) {
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

func scanVersion(row scanner) (*domain.Version, error) {
	var v domain.Version
	var tags, created string
	if err := row.Scan(&v.ID, &v.Collection, &v.Version, &v.Summary, &tags, &v.ContentHash, &created); err != nil {
		return nil, err
	}
	var err error
	if v.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &v, nil
}

func queryStrings(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	var out []string //nolint:prealloc // size unknown from query
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func affected(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}
