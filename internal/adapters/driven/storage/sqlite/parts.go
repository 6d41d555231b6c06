package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/keep/internal/core/domain"
)

// ReplaceParts atomically replaces all parts of a document.
// Parts with a zero PartNum are numbered by position, starting at 1.
func (s *documentStore) ReplaceParts(ctx context.Context, collection, id string, parts []domain.Part) error {
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := deleteParts(ctx, tx, collection, id); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO document_parts (id, collection, part_num, summary, content, tags, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i, p := range parts {
			num := p.PartNum
			if num == 0 {
				num = i + 1
			}
			tags, err := encodeTags(p.Tags)
			if err != nil {
				return err
			}
			created := p.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := stmt.ExecContext(ctx, id, collection, num, p.Summary, p.Content, tags,
				formatTime(created)); err != nil {
				return fmt.Errorf("saving part %d: %w", num, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing parts: %w", err)
	}
	return nil
}

// ListParts returns parts ordered by part number.
func (s *documentStore) ListParts(ctx context.Context, collection, id string) ([]domain.Part, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, collection, part_num, summary, content, tags, created_at
		FROM document_parts WHERE collection = ? AND id = ?
		ORDER BY part_num
	`, collection, id)
	if err != nil {
		return nil, fmt.Errorf("querying parts: %w", err)
	}
	defer rows.Close()

	var parts []domain.Part //nolint:prealloc // size unknown from query
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating parts: %w", err)
	}
	return parts, nil
}

// GetPart returns one part, or nil.
func (s *documentStore) GetPart(ctx context.Context, collection, id string, partNum int) (*domain.Part, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, collection, part_num, summary, content, tags, created_at
		FROM document_parts WHERE collection = ? AND id = ? AND part_num = ?
	`, collection, id, partNum)
	p, err := scanPart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting part: %w", err)
	}
	return p, nil
}

// DeleteParts removes all parts of a document.
func (s *documentStore) DeleteParts(ctx context.Context, collection, id string) (int, error) {
	var n int
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = deleteParts(ctx, tx, collection, id)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deleting parts: %w", err)
	}
	return n, nil
}

func deleteParts(ctx context.Context, q queryer, collection, id string) (int, error) {
	res, err := q.ExecContext(ctx, "DELETE FROM document_parts WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		return 0, fmt.Errorf("deleting parts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanPart(row scanner) (*domain.Part, error) {
	var p domain.Part
	var tags, created string
	if err := row.Scan(&p.ID, &p.Collection, &p.PartNum, &p.Summary, &p.Content, &tags, &created); err != nil {
		return nil, err
	}
	var err error
	if p.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &p, nil
}
