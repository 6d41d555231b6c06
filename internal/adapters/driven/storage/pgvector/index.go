// Package pgvector implements the vector index on PostgreSQL with the
// pgvector extension, for stores shared between machines.
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS keep_vector_collections (
  name TEXT PRIMARY KEY,
  dimension INT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS keep_vectors (
  collection TEXT NOT NULL REFERENCES keep_vector_collections(name) ON DELETE CASCADE,
  key TEXT NOT NULL,
  base_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  embedding VECTOR NOT NULL,
  summary TEXT NOT NULL DEFAULT '',
  tags JSONB NOT NULL DEFAULT '{}'::jsonb,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (collection, key)
);

CREATE INDEX IF NOT EXISTS keep_vectors_base_idx ON keep_vectors (collection, base_id);
CREATE INDEX IF NOT EXISTS keep_vectors_tags_idx ON keep_vectors USING GIN (tags);
`

// Index is a driven.VectorIndex backed by a pgx connection pool.
type Index struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and ensures the schema exists.
func New(ctx context.Context, databaseURL string) (*Index, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	// The vector type must exist before AfterConnect can register it.
	boot, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	_, err = boot.Exec(ctx, schema)
	boot.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	return &Index{pool: pool}, nil
}

// Close releases the pool.
func (x *Index) Close() error {
	x.pool.Close()
	return nil
}

// Upsert inserts or replaces one entry.
func (x *Index) Upsert(ctx context.Context, collection string, entry domain.VectorEntry) error {
	return x.UpsertBatch(ctx, collection, []domain.VectorEntry{entry})
}

// UpsertVersion stores an archived version under id@v{version}.
func (x *Index) UpsertVersion(ctx context.Context, collection, id string, version int, entry domain.VectorEntry) error {
	return x.Upsert(ctx, collection, domain.VersionEntry(id, version, entry))
}

// UpsertPart stores a part under id@p{partNum}.
func (x *Index) UpsertPart(ctx context.Context, collection, id string, partNum int, entry domain.VectorEntry) error {
	return x.Upsert(ctx, collection, domain.PartEntry(id, partNum, entry))
}

// UpsertBatch writes entries in one transaction.
func (x *Index) UpsertBatch(ctx context.Context, collection string, entries []domain.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	dim := len(entries[0].Embedding)
	if dim == 0 {
		return fmt.Errorf("%w: empty embedding for %s", domain.ErrInvalidInput, entries[0].ID)
	}
	for _, e := range entries {
		if len(e.Embedding) != dim {
			return fmt.Errorf("%w: batch mixes dimensions %d and %d", domain.ErrDimensionMismatch, dim, len(e.Embedding))
		}
	}

	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO keep_vector_collections (name, dimension) VALUES ($1, $2)
ON CONFLICT (name) DO NOTHING`, collection, dim); err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}
	var established int
	if err := tx.QueryRow(ctx,
		"SELECT dimension FROM keep_vector_collections WHERE name = $1 FOR SHARE", collection).Scan(&established); err != nil {
		return fmt.Errorf("reading collection dimension: %w", err)
	}
	if established != dim {
		return fmt.Errorf("%w: collection %s has dimension %d, got %d", domain.ErrDimensionMismatch,
			collection, established, dim)
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		tags, err := encodeTags(e.Tags)
		if err != nil {
			return err
		}
		base, kind, _ := domain.ParseKey(e.ID)
		batch.Queue(`
INSERT INTO keep_vectors (collection, key, base_id, kind, embedding, summary, tags, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
ON CONFLICT (collection, key) DO UPDATE SET
  base_id = EXCLUDED.base_id, kind = EXCLUDED.kind, embedding = EXCLUDED.embedding,
  summary = EXCLUDED.summary, tags = EXCLUDED.tags, updated_at = NOW()`,
			collection, e.ID, base, kind.String(), pgv.NewVector(e.Embedding), e.Summary, tags)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("saving vectors: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing vectors: %w", err)
	}
	return nil
}

// Get returns an entry without its embedding.
func (x *Index) Get(ctx context.Context, collection, key string) (*domain.VectorEntry, error) {
	var e domain.VectorEntry
	var tags []byte
	err := x.pool.QueryRow(ctx,
		"SELECT key, summary, tags FROM keep_vectors WHERE collection = $1 AND key = $2",
		collection, key).Scan(&e.ID, &e.Summary, &tags)
	if errors.Is(err, pgx.ErrNoRows) {
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
func (x *Index) GetEmbedding(ctx context.Context, collection, key string) ([]float32, error) {
	var vec pgv.Vector
	err := x.pool.QueryRow(ctx,
		"SELECT embedding FROM keep_vectors WHERE collection = $1 AND key = $2",
		collection, key).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting embedding: %w", err)
	}
	return vec.Slice(), nil
}

// GetEntriesFull returns entries with embeddings, ordered by key.
func (x *Index) GetEntriesFull(ctx context.Context, collection string, keys []string) ([]domain.VectorEntry, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := x.pool.Query(ctx, `
SELECT key, embedding, summary, tags FROM keep_vectors
WHERE collection = $1 AND key = ANY($2) ORDER BY key`, collection, keys)
	if err != nil {
		return nil, fmt.Errorf("querying vector entries: %w", err)
	}
	defer rows.Close()

	var out []domain.VectorEntry
	for rows.Next() {
		var e domain.VectorEntry
		var vec pgv.Vector
		var tags []byte
		if err := rows.Scan(&e.ID, &vec, &e.Summary, &tags); err != nil {
			return nil, fmt.Errorf("scanning vector entry: %w", err)
		}
		e.Embedding = vec.Slice()
		if e.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Exists reports whether key is present.
func (x *Index) Exists(ctx context.Context, collection, key string) (bool, error) {
	var ok bool
	err := x.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM keep_vectors WHERE collection = $1 AND key = $2)",
		collection, key).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("checking vector entry: %w", err)
	}
	return ok, nil
}

// Delete removes id and, with cascade, its derived entries.
func (x *Index) Delete(ctx context.Context, collection, id string, cascade bool) (int, error) {
	query := "DELETE FROM keep_vectors WHERE collection = $1 AND key = $2"
	if cascade {
		query = "DELETE FROM keep_vectors WHERE collection = $1 AND (key = $2 OR base_id = $2)"
	}
	tag, err := x.pool.Exec(ctx, query, collection, id)
	if err != nil {
		return 0, fmt.Errorf("deleting vector entry: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteEntries removes the given keys.
func (x *Index) DeleteEntries(ctx context.Context, collection string, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tag, err := x.pool.Exec(ctx, "DELETE FROM keep_vectors WHERE collection = $1 AND key = ANY($2)", collection, keys)
	if err != nil {
		return 0, fmt.Errorf("deleting vector entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpdateSummary replaces the summary of key.
func (x *Index) UpdateSummary(ctx context.Context, collection, key, summary string) (bool, error) {
	tag, err := x.pool.Exec(ctx,
		"UPDATE keep_vectors SET summary = $3, updated_at = NOW() WHERE collection = $1 AND key = $2",
		collection, key, summary)
	if err != nil {
		return false, fmt.Errorf("updating vector summary: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateTags replaces the tags of key.
func (x *Index) UpdateTags(ctx context.Context, collection, key string, tags map[string]string) (bool, error) {
	encoded, err := encodeTags(tags)
	if err != nil {
		return false, err
	}
	tag, err := x.pool.Exec(ctx,
		"UPDATE keep_vectors SET tags = $3, updated_at = NOW() WHERE collection = $1 AND key = $2",
		collection, key, encoded)
	if err != nil {
		return false, fmt.Errorf("updating vector tags: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// QueryEmbedding orders entries by cosine distance (the <=> operator).
func (x *Index) QueryEmbedding(ctx context.Context, collection string, vec []float32, limit int,
	filter domain.TagFilter) ([]domain.VectorHit, error) {
	if limit <= 0 || len(vec) == 0 {
		return nil, nil
	}
	dim, err := x.Dimension(ctx, collection)
	if err != nil || dim == 0 {
		return nil, err
	}
	if dim != len(vec) {
		return nil, fmt.Errorf("%w: collection %s has dimension %d, query has %d",
			domain.ErrDimensionMismatch, collection, dim, len(vec))
	}

	args := []any{pgv.NewVector(vec), collection}
	query := `
SELECT key, summary, tags, (embedding <=> $1) AS distance
FROM keep_vectors WHERE collection = $2`
	query, args = appendTagFilter(query, args, filter)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1, key LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := x.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var hits []domain.VectorHit
	for rows.Next() {
		var hit domain.VectorHit
		var tags []byte
		var distance *float64
		if err := rows.Scan(&hit.ID, &hit.Summary, &tags, &distance); err != nil {
			return nil, fmt.Errorf("scanning vector hit: %w", err)
		}
		if hit.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		// NaN/NULL distances come from zero vectors.
		hit.Distance = 1
		if distance != nil && *distance == *distance {
			hit.Distance = *distance
		}
		hit.Similarity = domain.Similarity(hit.Distance)
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// QueryMetadata returns entries whose tags match filter, newest first.
func (x *Index) QueryMetadata(ctx context.Context, collection string, filter domain.TagFilter,
	limit int) ([]domain.VectorHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	args := []any{collection}
	query := "SELECT key, summary, tags, 1.0::float8 FROM keep_vectors WHERE collection = $1"
	query, args = appendTagFilter(query, args, filter)
	query += fmt.Sprintf(" ORDER BY updated_at DESC, key LIMIT $%d", len(args)+1)
	args = append(args, limit)
	return x.queryHits(ctx, query, args)
}

// QueryFulltext ranks summaries with ts_rank over OR-ed query terms.
func (x *Index) QueryFulltext(ctx context.Context, collection, text string, limit int,
	filter domain.TagFilter) ([]domain.VectorHit, error) {
	tsq := tsQuery(text)
	if tsq == "" || limit <= 0 {
		return nil, nil
	}
	args := []any{tsq, collection}
	query := `
SELECT key, summary, tags, ts_rank(to_tsvector('simple', summary), to_tsquery('simple', $1)) AS rank
FROM keep_vectors
WHERE to_tsvector('simple', summary) @@ to_tsquery('simple', $1) AND collection = $2`
	query, args = appendTagFilter(query, args, filter)
	query += fmt.Sprintf(" ORDER BY rank DESC, key LIMIT $%d", len(args)+1)
	args = append(args, limit)

	hits, err := x.queryHits(ctx, query, args)
	for i := range hits {
		r := hits[i].Similarity
		hits[i].Similarity = r / (1 + r)
	}
	return hits, err
}

// queryHits scans (key, summary, tags, score) rows; score lands in Similarity.
func (x *Index) queryHits(ctx context.Context, query string, args []any) ([]domain.VectorHit, error) {
	rows, err := x.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var hits []domain.VectorHit
	for rows.Next() {
		var hit domain.VectorHit
		var tags []byte
		var score float64
		if err := rows.Scan(&hit.ID, &hit.Summary, &tags, &score); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		if hit.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		hit.Similarity = score
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// ListIDs returns every key in the collection.
func (x *Index) ListIDs(ctx context.Context, collection string) ([]string, error) {
	return x.strings(ctx, "SELECT key FROM keep_vectors WHERE collection = $1 ORDER BY key", collection)
}

// FindMissingIDs returns the ids with no entry, in input order.
func (x *Index) FindMissingIDs(ctx context.Context, collection string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := x.strings(ctx,
		"SELECT key FROM keep_vectors WHERE collection = $1 AND key = ANY($2)", collection, ids)
	if err != nil {
		return nil, err
	}
	present := make(map[string]struct{}, len(found))
	for _, k := range found {
		present[k] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Dimension returns the established dimension, or zero.
func (x *Index) Dimension(ctx context.Context, collection string) (int, error) {
	var dim int
	err := x.pool.QueryRow(ctx,
		"SELECT dimension FROM keep_vector_collections WHERE name = $1", collection).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading collection dimension: %w", err)
	}
	return dim, nil
}

// ListCollections returns all collections.
func (x *Index) ListCollections(ctx context.Context) ([]string, error) {
	return x.strings(ctx, "SELECT name FROM keep_vector_collections ORDER BY name")
}

// DeleteCollection drops a collection; entries cascade.
func (x *Index) DeleteCollection(ctx context.Context, collection string) error {
	if _, err := x.pool.Exec(ctx, "DELETE FROM keep_vector_collections WHERE name = $1", collection); err != nil {
		return fmt.Errorf("deleting vector collection: %w", err)
	}
	return nil
}

// Count returns the number of entries.
func (x *Index) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := x.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM keep_vectors WHERE collection = $1", collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting vectors: %w", err)
	}
	return n, nil
}

func (x *Index) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := x.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}
	return out, nil
}

// appendTagFilter adds JSONB containment for exact values and key
// existence for empty ones.
func appendTagFilter(query string, args []any, filter domain.TagFilter) (string, []any) {
	exact := map[string]string{}
	for _, k := range filter.Keys() {
		if v := filter[k]; v != "" {
			exact[k] = v
			continue
		}
		args = append(args, k)
		query += fmt.Sprintf(" AND jsonb_exists(tags, $%d)", len(args))
	}
	if len(exact) > 0 {
		b, _ := json.Marshal(exact)
		args = append(args, string(b))
		query += fmt.Sprintf(" AND tags @> $%d::jsonb", len(args))
	}
	return query, args
}

// tsQuery builds an OR query of alphanumeric terms, safe for to_tsquery.
func tsQuery(text string) string {
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(terms, " | ")
}

func encodeTags(tags map[string]string) (string, error) {
	if len(tags) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshalling tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(b []byte) (map[string]string, error) {
	tags := map[string]string{}
	if len(b) == 0 {
		return tags, nil
	}
	if err := json.Unmarshal(b, &tags); err != nil {
		return nil, fmt.Errorf("unmarshalling tags: %w", err)
	}
	return tags, nil
}
