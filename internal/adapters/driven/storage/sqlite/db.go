package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	msqlite "modernc.org/sqlite" // SQLite driver
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/logger"
)

// DefaultBusyTimeout bounds how long writes retry under contention.
const DefaultBusyTimeout = 30 * time.Second

// maxDriverBusyWait caps the driver-level wait of a single attempt; retry owns
// the overall bound.
const maxDriverBusyWait = time.Second

// dsn returns the connection string applied to every pooled connection.
// _txlock=immediate makes BeginTx issue BEGIN IMMEDIATE, taking the write lock
// before the first read.
func dsn(path string, busyTimeout time.Duration) string {
	wait := min(busyTimeout, maxDriverBusyWait)
	return fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)"+
		"&_pragma=foreign_keys(1)&_txlock=immediate", path, wait.Milliseconds())
}

// database wraps one SQLite file.
type database struct {
	db          *sql.DB
	path        string
	busyTimeout time.Duration
}

// openDatabase opens path, verifies its integrity and applies migrations.
// A corrupt file is preserved as path.corrupt-<timestamp>, its readable rows
// of tables are copied into a fresh file, and opening is retried once.
func openDatabase(ctx context.Context, path string, migrations fs.FS, tables []string,
	busyTimeout time.Duration) (*database, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}

	d, err := tryOpen(ctx, path, migrations, busyTimeout)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, domain.ErrStoreCorrupt) {
		return nil, err
	}

	logger.With(logger.Fields{"path": path}).Warnf("store failed integrity check, recovering: %v", err)
	if rerr := recoverDatabase(ctx, path, migrations, tables, busyTimeout); rerr != nil {
		return nil, fmt.Errorf("%w: recovery failed: %w", domain.ErrStoreCorrupt, rerr)
	}

	d, err = tryOpen(ctx, path, migrations, busyTimeout)
	if err != nil {
		return nil, fmt.Errorf("reopening recovered store: %w", err)
	}
	return d, nil
}

func tryOpen(ctx context.Context, path string, migrations fs.FS, busyTimeout time.Duration) (*database, error) {
	db, err := sql.Open("sqlite", dsn(path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	d := &database{db: db, path: path, busyTimeout: busyTimeout}
	if err := d.checkIntegrity(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := d.migrate(ctx, migrations); err != nil {
		db.Close()
		if isCorrupt(err) {
			return nil, fmt.Errorf("%w: %w", domain.ErrStoreCorrupt, err)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return d, nil
}

// checkIntegrity runs PRAGMA quick_check and maps failures to ErrStoreCorrupt.
func (d *database) checkIntegrity(ctx context.Context) error {
	rows, err := d.db.QueryContext(ctx, "PRAGMA quick_check")
	if err != nil {
		if isCorrupt(err) {
			return fmt.Errorf("%w: %w", domain.ErrStoreCorrupt, err)
		}
		return fmt.Errorf("checking integrity: %w", err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrStoreCorrupt, err)
		}
		if msg != "ok" {
			problems = append(problems, msg)
		}
	}
	if err := rows.Err(); err != nil {
		if isCorrupt(err) {
			return fmt.Errorf("%w: %w", domain.ErrStoreCorrupt, err)
		}
		return fmt.Errorf("checking integrity: %w", err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrStoreCorrupt, strings.Join(problems, "; "))
	}
	return nil
}

// migrate applies pending NNN_name.up.sql files. The version counter is read
// and bumped inside the same immediate transaction as the migration, so
// processes racing through startup apply each migration exactly once.
func (d *database) migrate(ctx context.Context, migrations fs.FS) error {
	_, err := d.exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		content, err := fs.ReadFile(migrations, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		err = d.withTx(ctx, func(tx *sql.Tx) error {
			var current int
			row := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
			if err := row.Scan(&current); err != nil {
				return fmt.Errorf("getting current version: %w", err)
			}
			if version <= current {
				return nil
			}
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return fmt.Errorf("executing migration %s: %w", name, err)
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				version, formatTime(time.Now()))
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// schemaVersion returns the highest applied migration.
func (d *database) schemaVersion(ctx context.Context) (int, error) {
	var v int
	err := d.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

// retry runs fn until it succeeds, fails with a non-busy error, or the busy
// timeout elapses. fn must be safe to run more than once.
func (d *database) retry(ctx context.Context, fn func() error) error {
	deadline := time.Now().Add(d.busyTimeout)
	backoff := 25 * time.Millisecond
	for {
		err := fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s: %w", domain.ErrStoreBusy, d.busyTimeout, err)
		}
		logger.Debug("sqlite busy on %s, retrying in %s", filepath.Base(d.path), backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

// withTx runs fn in an immediate transaction with busy retry.
func (d *database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return d.retry(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	})
}

// exec runs a single statement with busy retry.
func (d *database) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := d.retry(ctx, func() error {
		var err error
		res, err = d.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (d *database) close() error {
	return d.db.Close()
}

func sqliteCode(err error) int {
	var se *msqlite.Error
	if errors.As(err, &se) {
		return se.Code() & 0xff
	}
	return 0
}

func isBusy(err error) bool {
	code := sqliteCode(err)
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func isCorrupt(err error) bool {
	code := sqliteCode(err)
	if code == sqlite3.SQLITE_CORRUPT || code == sqlite3.SQLITE_NOTADB {
		return true
	}
	// Errors raised while a pooled connection applies its pragmas are not
	// always surfaced as *sqlite.Error.
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "disk image is malformed")
}

// recoverDatabase moves the corrupt file aside and salvages what it can.
func recoverDatabase(ctx context.Context, path string, migrations fs.FS, tables []string,
	busyTimeout time.Duration) error {
	corruptPath := path + ".corrupt-" + time.Now().UTC().Format("20060102T150405Z")
	if err := os.Rename(path, corruptPath); err != nil {
		return fmt.Errorf("preserving corrupt file: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(path + suffix); err == nil {
			if err := os.Rename(path+suffix, corruptPath+suffix); err != nil {
				return fmt.Errorf("preserving corrupt %s file: %w", suffix, err)
			}
		}
	}

	fresh, err := tryOpen(ctx, path, migrations, busyTimeout)
	if err != nil {
		return fmt.Errorf("creating fresh store: %w", err)
	}
	defer fresh.close()

	old, err := sql.Open("sqlite", corruptPath)
	if err != nil {
		logger.Warn("corrupt store %s is unreadable, starting empty: %v", corruptPath, err)
		return nil
	}
	defer old.Close()

	for _, table := range tables {
		n, err := copyRows(ctx, old, fresh.db, table)
		entry := logger.With(logger.Fields{"table": table, "rows": n, "preserved": corruptPath})
		if err != nil {
			entry.Warnf("partial recovery: %v", err)
			continue
		}
		entry.Warn("recovered rows from corrupt store")
	}
	return nil
}

// copyRows copies every readable row of table. Rows read before an error are kept.
func copyRows(ctx context.Context, from, to *sql.DB, table string) (int, error) {
	rows, err := from.QueryContext(ctx, "SELECT * FROM "+table) //nolint:gosec // fixed table names
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("reading %s columns: %w", table, err)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	insert := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders)

	tx, err := to.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	copied := 0
	var readErr error
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			readErr = err
			break
		}
		if _, err := tx.ExecContext(ctx, insert, values...); err != nil {
			readErr = err
			break
		}
		copied++
	}
	if readErr == nil {
		readErr = rows.Err()
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing recovered rows: %w", err)
	}
	return copied, readErr
}
