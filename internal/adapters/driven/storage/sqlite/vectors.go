package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/viant/vec/search"

	"github.com/custodia-labs/keep/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// Verify interface compliance.
var _ driven.VectorIndex = (*VectorIndex)(nil)

// VectorIndex is an embedded vector store in vectors.db. Queries scan the
// collection and rank by cosine distance; summaries are indexed with FTS5
// for the full-text fallback.
type VectorIndex struct {
	db *database
}

// NewVectorIndex opens (creating if needed) vectors.db in dataDir.
func NewVectorIndex(dataDir string, opts Options) (*VectorIndex, error) {
	if dataDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dataDir = dir
	}
	db, err := openDatabase(context.Background(), filepath.Join(dataDir, VectorsFile), migrations.Vectors(),
		[]string{"vector_collections", "vector_entries"}, opts.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", VectorsFile, err)
	}
	return &VectorIndex{db: db}, nil
}

// Close closes vectors.db.
func (v *VectorIndex) Close() error {
	return v.db.close()
}

// Upsert inserts or replaces one entry.
func (v *VectorIndex) Upsert(ctx context.Context, collection string, entry domain.VectorEntry) error {
	return v.UpsertBatch(ctx, collection, []domain.VectorEntry{entry})
}

// UpsertVersion stores an archived version under id@v{version}.
func (v *VectorIndex) UpsertVersion(ctx context.Context, collection, id string, version int,
	entry domain.VectorEntry) error {
	return v.Upsert(ctx, collection, domain.VersionEntry(id, version, entry))
}

// UpsertPart stores a part under id@p{partNum}.
func (v *VectorIndex) UpsertPart(ctx context.Context, collection, id string, partNum int,
	entry domain.VectorEntry) error {
	return v.Upsert(ctx, collection, domain.PartEntry(id, partNum, entry))
}

// UpsertBatch writes entries in one transaction. The first write to a
// collection fixes its dimension.
func (v *VectorIndex) UpsertBatch(ctx context.Context, collection string, entries []domain.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	dim := len(entries[0].Embedding)
	if dim == 0 {
		return fmt.Errorf("%w: empty embedding for %s", domain.ErrInvalidInput, entries[0].ID)
	}
	for _, e := range entries {
		if len(e.Embedding) != dim {
			return fmt.Errorf("%w: batch mixes dimensions %d and %d", domain.ErrDimensionMismatch,
				dim, len(e.Embedding))
		}
	}

	err := v.db.withTx(ctx, func(tx *sql.Tx) error {
		established, err := collectionDimension(ctx, tx, collection)
		if err != nil {
			return err
		}
		switch {
		case established == 0:
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO vector_collections (name, dimension, created_at) VALUES (?, ?, ?)",
				collection, dim, formatTime(time.Now())); err != nil {
				return fmt.Errorf("creating collection: %w", err)
			}
		case established != dim:
			return fmt.Errorf("%w: collection %s has dimension %d, got %d", domain.ErrDimensionMismatch,
				collection, established, dim)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO vector_entries
				(collection, key, base_id, kind, embedding, magnitude, summary, tags, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(collection, key) DO UPDATE SET
				base_id = excluded.base_id,
				kind = excluded.kind,
				embedding = excluded.embedding,
				magnitude = excluded.magnitude,
				summary = excluded.summary,
				tags = excluded.tags,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}
		defer stmt.Close()

		now := formatTime(time.Now())
		for _, e := range entries {
			tags, err := encodeTags(e.Tags)
			if err != nil {
				return err
			}
			base, kind, _ := domain.ParseKey(e.ID)
			mag := search.Float32s(e.Embedding).Magnitude()
			if _, err := stmt.ExecContext(ctx, collection, e.ID, base, kind.String(),
				float32SliceToBytes(e.Embedding), float64(mag), e.Summary, tags, now); err != nil {
				return fmt.Errorf("saving entry %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upserting vectors: %w", err)
	}
	return nil
}

// Get returns an entry without its embedding.
func (v *VectorIndex) Get(ctx context.Context, collection, key string) (*domain.VectorEntry, error) {
	var e domain.VectorEntry
	var tags string
	err := v.db.db.QueryRowContext(ctx,
		"SELECT key, summary, tags FROM vector_entries WHERE collection = ? AND key = ?",
		collection, key).Scan(&e.ID, &e.Summary, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting vector entry: %w", err)
	}
	if e.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEmbedding returns the stored embedding of key.
func (v *VectorIndex) GetEmbedding(ctx context.Context, collection, key string) ([]float32, error) {
	var blob []byte
	err := v.db.db.QueryRowContext(ctx,
		"SELECT embedding FROM vector_entries WHERE collection = ? AND key = ?",
		collection, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting embedding: %w", err)
	}
	return bytesToFloat32Slice(blob), nil
}

// GetEntriesFull returns the entries for keys, embeddings included.
func (v *VectorIndex) GetEntriesFull(ctx context.Context, collection string, keys []string) ([]domain.VectorEntry, error) {
	var out []domain.VectorEntry
	for start := 0; start < len(keys); start += inClauseBatch {
		batch := keys[start:min(start+inClauseBatch, len(keys))]
		args := make([]any, 0, len(batch)+1)
		args = append(args, collection)
		for _, k := range batch {
			args = append(args, k)
		}
		rows, err := v.db.db.QueryContext(ctx,
			"SELECT key, embedding, summary, tags FROM vector_entries WHERE collection = ? AND key IN ("+
				placeholders(len(batch))+") ORDER BY key", args...)
		if err != nil {
			return nil, fmt.Errorf("querying vector entries: %w", err)
		}
		for rows.Next() {
			var e domain.VectorEntry
			var blob []byte
			var tags string
			if err := rows.Scan(&e.ID, &blob, &e.Summary, &tags); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning vector entry: %w", err)
			}
			e.Embedding = bytesToFloat32Slice(blob)
			if e.Tags, err = decodeTags(tags); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterating vector entries: %w", err)
		}
	}
	return out, nil
}

// Exists reports whether key is present.
func (v *VectorIndex) Exists(ctx context.Context, collection, key string) (bool, error) {
	var n int
	err := v.db.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vector_entries WHERE collection = ? AND key = ?", collection, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking vector entry: %w", err)
	}
	return n > 0, nil
}

// Delete removes id and, with cascade, its version and part entries.
func (v *VectorIndex) Delete(ctx context.Context, collection, id string, cascade bool) (int, error) {
	query := "DELETE FROM vector_entries WHERE collection = ? AND key = ?"
	if cascade {
		query = "DELETE FROM vector_entries WHERE collection = ? AND (key = ? OR base_id = ?)"
	}
	args := []any{collection, id}
	if cascade {
		args = append(args, id)
	}
	res, err := v.db.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting vector entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteEntries removes the given keys.
func (v *VectorIndex) DeleteEntries(ctx context.Context, collection string, keys []string) (int, error) {
	total := 0
	for start := 0; start < len(keys); start += inClauseBatch {
		batch := keys[start:min(start+inClauseBatch, len(keys))]
		args := make([]any, 0, len(batch)+1)
		args = append(args, collection)
		for _, k := range batch {
			args = append(args, k)
		}
		res, err := v.db.exec(ctx,
			"DELETE FROM vector_entries WHERE collection = ? AND key IN ("+placeholders(len(batch))+")", args...)
		if err != nil {
			return total, fmt.Errorf("deleting vector entries: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// UpdateSummary replaces the summary of key.
func (v *VectorIndex) UpdateSummary(ctx context.Context, collection, key, summary string) (bool, error) {
	res, err := v.db.exec(ctx,
		"UPDATE vector_entries SET summary = ?, updated_at = ? WHERE collection = ? AND key = ?",
		summary, formatTime(time.Now()), collection, key)
	if err != nil {
		return false, fmt.Errorf("updating vector summary: %w", err)
	}
	return affected(res), nil
}

// UpdateTags replaces the tags of key.
func (v *VectorIndex) UpdateTags(ctx context.Context, collection, key string, tags map[string]string) (bool, error) {
	encoded, err := encodeTags(tags)
	if err != nil {
		return false, err
	}
	res, err := v.db.exec(ctx,
		"UPDATE vector_entries SET tags = ?, updated_at = ? WHERE collection = ? AND key = ?",
		encoded, formatTime(time.Now()), collection, key)
	if err != nil {
		return false, fmt.Errorf("updating vector tags: %w", err)
	}
	return affected(res), nil
}

// QueryEmbedding ranks every entry in the collection by cosine distance.
func (v *VectorIndex) QueryEmbedding(ctx context.Context, collection string, vec []float32, limit int,
	filter domain.TagFilter) ([]domain.VectorHit, error) {
	if limit <= 0 || len(vec) == 0 {
		return nil, nil
	}
	dim, err := v.Dimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, nil
	}
	if dim != len(vec) {
		return nil, fmt.Errorf("%w: collection %s has dimension %d, query has %d",
			domain.ErrDimensionMismatch, collection, dim, len(vec))
	}

	query := search.Float32s(vec)
	qmag := query.Magnitude()

	rows, err := v.db.db.QueryContext(ctx,
		"SELECT key, embedding, magnitude, summary, tags FROM vector_entries WHERE collection = ?", collection)
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	defer rows.Close()

	var hits []domain.VectorHit
	for rows.Next() {
		var hit domain.VectorHit
		var blob []byte
		var mag float64
		var tags string
		if err := rows.Scan(&hit.ID, &blob, &mag, &hit.Summary, &tags); err != nil {
			return nil, fmt.Errorf("scanning vector: %w", err)
		}
		if hit.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		if !filter.Matches(hit.Tags) {
			continue
		}
		hit.Distance = cosineDistance(query, qmag, bytesToFloat32Slice(blob), float32(mag))
		hit.Similarity = domain.Similarity(hit.Distance)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vectors: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// cosineDistance treats a zero vector as orthogonal to everything. The
// stored magnitude only short-circuits that case: the magnitude-taking
// variant of search.Float32s is exported on arm64 alone.
func cosineDistance(query search.Float32s, qmag float32, vec []float32, mag float32) float64 {
	if qmag == 0 || mag == 0 {
		return 1
	}
	return float64(query.CosineDistance(vec))
}

// QueryMetadata returns entries whose tags match filter, newest first.
func (v *VectorIndex) QueryMetadata(ctx context.Context, collection string, filter domain.TagFilter,
	limit int) ([]domain.VectorHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	where, args := tagClauses("tags", filter)
	args = append([]any{collection}, args...)
	args = append(args, limit)
	rows, err := v.db.db.QueryContext(ctx,
		"SELECT key, summary, tags FROM vector_entries WHERE collection = ?"+where+
			" ORDER BY updated_at DESC, key LIMIT ?", args...)
	if err != nil {
		return nil, fmt.Errorf("querying vector metadata: %w", err)
	}
	return scanHits(rows, nil)
}

// QueryFulltext matches text against summaries with FTS5. Terms are
// quoted and OR-ed, so query syntax in user input is inert.
func (v *VectorIndex) QueryFulltext(ctx context.Context, collection, text string, limit int,
	filter domain.TagFilter) ([]domain.VectorHit, error) {
	match := ftsQuery(text)
	if match == "" || limit <= 0 {
		return nil, nil
	}
	where, args := tagClauses("e.tags", filter)
	args = append([]any{match, collection}, args...)
	args = append(args, limit)
	rows, err := v.db.db.QueryContext(ctx, `
		SELECT e.key, e.summary, e.tags, bm25(vector_fts) AS rank
		FROM vector_fts JOIN vector_entries e ON e.entry_id = vector_fts.rowid
		WHERE vector_fts MATCH ? AND e.collection = ?`+where+`
		ORDER BY rank, e.key LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("full-text query: %w", err)
	}
	return scanHits(rows, func(rank float64) float64 {
		// bm25 is negative; larger magnitude is a better match.
		s := -rank
		if s < 0 {
			s = 0
		}
		return s / (1 + s)
	})
}

// ListIDs returns every key in the collection.
func (v *VectorIndex) ListIDs(ctx context.Context, collection string) ([]string, error) {
	return queryStrings(ctx, v.db.db,
		"SELECT key FROM vector_entries WHERE collection = ? ORDER BY key", collection)
}

// FindMissingIDs returns the ids with no entry.
func (v *VectorIndex) FindMissingIDs(ctx context.Context, collection string, ids []string) ([]string, error) {
	var missing []string
	for start := 0; start < len(ids); start += inClauseBatch {
		batch := ids[start:min(start+inClauseBatch, len(ids))]
		args := make([]any, 0, len(batch)+1)
		args = append(args, collection)
		for _, id := range batch {
			args = append(args, id)
		}
		found, err := queryStrings(ctx, v.db.db,
			"SELECT key FROM vector_entries WHERE collection = ? AND key IN ("+placeholders(len(batch))+")",
			args...)
		if err != nil {
			return nil, err
		}
		present := make(map[string]struct{}, len(found))
		for _, k := range found {
			present[k] = struct{}{}
		}
		for _, id := range batch {
			if _, ok := present[id]; !ok {
				missing = append(missing, id)
			}
		}
	}
	return missing, nil
}

// Dimension returns the collection's established dimension, or zero.
func (v *VectorIndex) Dimension(ctx context.Context, collection string) (int, error) {
	return collectionDimension(ctx, v.db.db, collection)
}

// ListCollections returns all vector collections.
func (v *VectorIndex) ListCollections(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, v.db.db, "SELECT name FROM vector_collections ORDER BY name")
}

// DeleteCollection drops a collection and its entries.
func (v *VectorIndex) DeleteCollection(ctx context.Context, collection string) error {
	err := v.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM vector_entries WHERE collection = ?", collection); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM vector_collections WHERE name = ?", collection)
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting vector collection: %w", err)
	}
	return nil
}

// Count returns the number of entries in the collection.
func (v *VectorIndex) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := v.db.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vector_entries WHERE collection = ?", collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting vectors: %w", err)
	}
	return n, nil
}

func collectionDimension(ctx context.Context, q queryer, collection string) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, "SELECT dimension FROM vector_collections WHERE name = ?", collection).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading collection dimension: %w", err)
	}
	return dim, nil
}

// tagClauses renders a filter as AND-ed json_extract conditions on column.
// An empty filter value only requires the key to exist.
func tagClauses(column string, filter domain.TagFilter) (string, []any) {
	var b strings.Builder
	var args []any
	for _, k := range filter.Keys() {
		path := `$."` + strings.ReplaceAll(k, `"`, `\"`) + `"`
		if filter[k] == "" {
			b.WriteString(" AND json_type(" + column + ", ?) IS NOT NULL")
			args = append(args, path)
			continue
		}
		b.WriteString(" AND json_extract(" + column + ", ?) = ?")
		args = append(args, path, filter[k])
	}
	return b.String(), args
}

// ftsQuery turns free text into an FTS5 expression of quoted terms.
func ftsQuery(text string) string {
	terms := strings.FieldsFunc(text, func(r rune) bool {
		return !(r == '_' || r == '-' || r == '\'' || isWordRune(r))
	})
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.Trim(t, "-'")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func isWordRune(r rune) bool {
	return r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127
}

// scanHits reads (key, summary, tags[, rank]) rows. With score set, a
// fourth rank column is read and mapped to a similarity.
func scanHits(rows *sql.Rows, score func(float64) float64) ([]domain.VectorHit, error) {
	defer rows.Close()
	var hits []domain.VectorHit
	for rows.Next() {
		var hit domain.VectorHit
		var tags string
		var rank float64
		dest := []any{&hit.ID, &hit.Summary, &tags}
		if score != nil {
			dest = append(dest, &rank)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		var err error
		if hit.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		if score != nil {
			hit.Similarity = score(rank)
		} else {
			hit.Similarity = 1
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hits: %w", err)
	}
	return hits, nil
}
