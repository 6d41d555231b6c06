package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/keep/internal/core/domain"
)

// Bindings returns index bindings for a collection, active first.
func (s *documentStore) Bindings(ctx context.Context, collection string) ([]domain.IndexBinding, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT collection, index_name, provider, model, dimension, state, updated_at
		FROM index_bindings WHERE collection = ?
		ORDER BY CASE state WHEN 'active' THEN 0 ELSE 1 END, updated_at DESC
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying index bindings: %w", err)
	}
	defer rows.Close()

	var bindings []domain.IndexBinding //nolint:prealloc // size unknown from query
	for rows.Next() {
		var b domain.IndexBinding
		var state, updated string
		if err := rows.Scan(&b.Collection, &b.IndexName, &b.Identity.Provider, &b.Identity.Model,
			&b.Identity.Dimension, &state, &updated); err != nil {
			return nil, fmt.Errorf("scanning index binding: %w", err)
		}
		b.State = domain.BindingState(state)
		if b.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating index bindings: %w", err)
	}
	return bindings, nil
}

// SaveBinding inserts or replaces a binding.
func (s *documentStore) SaveBinding(ctx context.Context, b domain.IndexBinding) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now()
	}
	_, err := s.db.exec(ctx, `
		INSERT INTO index_bindings (collection, index_name, provider, model, dimension, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, index_name) DO UPDATE SET
			provider = excluded.provider,
			model = excluded.model,
			dimension = excluded.dimension,
			state = excluded.state,
			updated_at = excluded.updated_at
	`, b.Collection, b.IndexName, b.Identity.Provider, b.Identity.Model, b.Identity.Dimension,
		string(b.State), formatTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving index binding: %w", err)
	}
	return nil
}

// DeleteBinding removes a binding.
func (s *documentStore) DeleteBinding(ctx context.Context, collection, indexName string) error {
	_, err := s.db.exec(ctx,
		"DELETE FROM index_bindings WHERE collection = ? AND index_name = ?", collection, indexName)
	if err != nil {
		return fmt.Errorf("deleting index binding: %w", err)
	}
	return nil
}
