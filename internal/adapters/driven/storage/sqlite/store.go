package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/custodia-labs/keep/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// File names inside the store directory.
const (
	DocumentsFile = "documents.db"
	PendingFile   = "pending.db"
	VectorsFile   = "vectors.db"
)

// Options configures the SQLite stores.
type Options struct {
	// BusyTimeout bounds how long writes retry under cross-process contention.
	BusyTimeout time.Duration
}

// Store owns documents.db and pending.db and provides access to the
// DocumentStore and PendingQueue interfaces through wrapper types.
type Store struct {
	dir       string
	documents *database
	pending   *database
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// DefaultDir returns ~/.keep.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".keep"), nil
}

// NewStore opens (creating if needed) the store files in dataDir.
// If dataDir is empty, defaults to ~/.keep.
func NewStore(dataDir string, opts Options) (*Store, error) {
	if dataDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dataDir = dir
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	ctx := context.Background()
	docs, err := openDatabase(ctx, filepath.Join(dataDir, DocumentsFile), migrations.Documents(),
		[]string{"documents", "document_versions", "document_parts", "index_bindings"}, opts.BusyTimeout)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", DocumentsFile, err)
	}

	pending, err := openDatabase(ctx, filepath.Join(dataDir, PendingFile), migrations.Pending(),
		[]string{"pending_work"}, opts.BusyTimeout)
	if err != nil {
		docs.close()
		return nil, fmt.Errorf("opening %s: %w", PendingFile, err)
	}

	return &Store{dir: dataDir, documents: docs, pending: pending}, nil
}

// Close closes both databases.
func (s *Store) Close() error {
	perr := s.pending.close()
	if err := s.documents.close(); err != nil {
		return err
	}
	return perr
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// DocumentStore returns a DocumentStore interface backed by this store.
func (s *Store) DocumentStore() driven.DocumentStore {
	return &documentStore{db: s.documents}
}

// PendingQueue returns a PendingQueue interface backed by this store.
func (s *Store) PendingQueue() driven.PendingQueue {
	return &pendingQueue{db: s.pending}
}
