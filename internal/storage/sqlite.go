package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"os"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/tiercache/tiercache/internal/keys"
	"github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	expires    INTEGER NOT NULL,
	created_at INTEGER NOT NULL
)`

// SQLiteStore is the large durable tier, backed by an embedded SQLite
// database. The database is opened and its schema ensured lazily on first
// use, and the open handle is reused for the lifetime of the store. Open
// failures are sticky: the store surfaces them instead of degrading to
// another medium, leaving any fallback decision to the orchestration layer.
type SQLiteStore struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	db      *sql.DB
	openErr error
}

// NewSQLiteStore creates a store for the database at path. Nothing touches
// the filesystem until the first operation.
func NewSQLiteStore(path string, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{
		path: path,
		log:  logger.With("component", "sqlitestore"),
	}
}

func (s *SQLiteStore) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if s.openErr != nil {
		return nil, s.openErr
	}

	dsn := s.path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err == nil {
		err = db.PingContext(ctx)
	}
	if err == nil {
		_, err = db.ExecContext(ctx, createEntriesTable)
	}
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		s.openErr = errors.Wrap(err, errors.CodeDatabaseUnavailable, errors.CategoryStorage,
			"failed to open cache database "+s.path).WithComponent("sqlitestore")
		return nil, s.openErr
	}

	s.db = db
	return db, nil
}

// Get returns the stored entry, or (nil, nil) when the key is absent. Row
// decoding failures are logged and reported as a miss; only database
// availability failures are returned.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*types.Entry, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var entry types.Entry
	row := db.QueryRowContext(ctx,
		`SELECT data, expires, created_at FROM cache_entries WHERE key = ?`, key)
	if err := row.Scan(&entry.Data, &entry.Expires, &entry.CreatedAt); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		s.log.Warn("failed to read cache row, treating as miss", "key", key, "error", err)
		return nil, nil
	}
	return &entry, nil
}

// Set stores the entry under key, replacing any previous row.
func (s *SQLiteStore) Set(ctx context.Context, key string, entry *types.Entry) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, data, expires, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires = excluded.expires,
		 created_at = excluded.created_at`,
		key, []byte(entry.Data), entry.Expires, entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageWrite, errors.CategoryStorage,
			"failed to write cache row").WithComponent("sqlitestore").WithOperation("set")
	}
	return nil
}

// Remove deletes the row for key. Absent keys are not an error.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return errors.Wrap(err, errors.CodeStorageWrite, errors.CategoryStorage,
			"failed to delete cache row").WithComponent("sqlitestore").WithOperation("remove")
	}
	return nil
}

// Clear removes every row this store owns.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return errors.Wrap(err, errors.CodeStorageWrite, errors.CategoryStorage,
			"failed to clear cache rows").WithComponent("sqlitestore").WithOperation("clear")
	}
	return nil
}

// Keys lists stored keys matching the glob pattern. Matching happens in Go
// so the glob semantics stay identical across every tier.
func (s *SQLiteStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT key FROM cache_entries`)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageRead, errors.CategoryStorage,
			"failed to list cache keys").WithComponent("sqlitestore").WithOperation("keys")
	}
	defer func() { _ = rows.Close() }()

	var all []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, errors.CodeStorageRead, errors.CategoryStorage,
				"failed to scan cache key").WithComponent("sqlitestore").WithOperation("keys")
		}
		all = append(all, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageRead, errors.CategoryStorage,
			"failed to iterate cache keys").WithComponent("sqlitestore").WithOperation("keys")
	}

	return keys.Filter(pattern, all)
}

// Close releases the database handle if one was opened.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DeleteDatabase closes the handle and removes the database files. This is
// a teardown capability outside the common strategy contract; a later
// operation lazily recreates the database.
func (s *SQLiteStore) DeleteDatabase(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	s.openErr = nil

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, errors.CodeStorageWrite, errors.CategoryStorage,
				"failed to delete cache database").WithComponent("sqlitestore")
		}
	}
	return nil
}
