package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tiercache/tiercache/internal/keys"
	"github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

const (
	// DefaultFilePrefix namespaces this store's keys inside the document so
	// the on-disk schema stays stable for consumers relying on durability.
	DefaultFilePrefix = "tiercache_"

	// DefaultFileQuota is the byte budget for the serialized document,
	// mirroring the single-digit-megabyte budget of small browser storage.
	DefaultFileQuota = 5 * 1024 * 1024

	storeFileName = "store.json"
)

// FileStoreConfig configures the file-backed tier.
type FileStoreConfig struct {
	// Directory holds the store document. Created if missing.
	Directory string
	// Prefix is prepended to every physical key. Defaults to
	// DefaultFilePrefix.
	Prefix string
	// Quota is the maximum serialized document size in bytes. Defaults to
	// DefaultFileQuota.
	Quota int64
}

// FileStore is the small durable tier: every entry lives in one JSON
// document on disk. Keys are physically prefixed so unrelated data sharing
// the document is never clobbered, and the whole document is subject to a
// byte quota. Writes rewrite the document atomically (temp file + rename).
type FileStore struct {
	mu     sync.Mutex
	path   string
	prefix string
	quota  int64
	log    *slog.Logger

	loaded  bool
	entries map[string]*types.Entry
}

// NewFileStore creates a file store rooted at cfg.Directory. The document
// itself is read lazily on first use.
func NewFileStore(cfg FileStoreConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.Directory == "" {
		return nil, errors.New(errors.CodeInvalidConfig, errors.CategoryConfiguration,
			"file store directory is required").WithComponent("filestore")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultFilePrefix
	}
	if cfg.Quota <= 0 {
		cfg.Quota = DefaultFileQuota
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Directory, 0o750); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageWrite, errors.CategoryStorage,
			"failed to create file store directory").WithComponent("filestore")
	}

	return &FileStore{
		path:    filepath.Join(cfg.Directory, cfg.Prefix+storeFileName),
		prefix:  cfg.Prefix,
		quota:   cfg.Quota,
		log:     logger.With("component", "filestore"),
		entries: make(map[string]*types.Entry),
	}, nil
}

// Get returns the stored entry, or (nil, nil) when the key is absent. Read
// failures of the underlying document are logged and reported as a miss.
func (f *FileStore) Get(_ context.Context, key string) (*types.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.load()
	entry, ok := f.entries[f.prefix+key]
	if !ok {
		return nil, nil
	}
	return entry.Clone(), nil
}

// Set stores the entry under key and rewrites the document. A write that
// would push the serialized document over the quota fails with a
// QUOTA_EXCEEDED error and leaves the store unchanged.
func (f *FileStore) Set(_ context.Context, key string, entry *types.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.load()
	physical := f.prefix + key
	previous, existed := f.entries[physical]
	f.entries[physical] = entry.Clone()

	if err := f.flush(); err != nil {
		// Roll back so the in-memory view matches the document on disk.
		if existed {
			f.entries[physical] = previous
		} else {
			delete(f.entries, physical)
		}
		return err
	}
	return nil
}

// Remove deletes the entry for key. Absent keys are not an error.
func (f *FileStore) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.load()
	physical := f.prefix + key
	if _, ok := f.entries[physical]; !ok {
		return nil
	}
	delete(f.entries, physical)
	return f.flush()
}

// Clear removes every entry this store owns.
func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loaded = true
	f.entries = make(map[string]*types.Entry)
	return f.flush()
}

// Keys lists stored logical keys matching the glob pattern.
func (f *FileStore) Keys(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	f.load()
	all := make([]string, 0, len(f.entries))
	for physical := range f.entries {
		all = append(all, strings.TrimPrefix(physical, f.prefix))
	}
	f.mu.Unlock()

	return keys.Filter(pattern, all)
}

// load reads the document from disk once. A missing document starts the
// store empty; a malformed one is logged and treated as empty, since read
// failures must surface as misses rather than aborting lookups.
func (f *FileStore) load() {
	if f.loaded {
		return
	}
	f.loaded = true

	raw, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.Warn("failed to read store document, starting empty",
				"path", f.path, "error", err)
		}
		return
	}

	var entries map[string]*types.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		f.log.Warn("store document is malformed, starting empty",
			"path", f.path, "error", err)
		return
	}
	f.entries = entries
}

func (f *FileStore) flush() error {
	raw, err := json.Marshal(f.entries)
	if err != nil {
		return errors.Wrap(err, errors.CodeEncoding, errors.CategoryStorage,
			"failed to encode store document").WithComponent("filestore")
	}

	if int64(len(raw)) > f.quota {
		return errors.New(errors.CodeQuotaExceeded, errors.CategoryStorage,
			fmt.Sprintf("document size %d exceeds quota %d; use the sqlite tier for larger payloads",
				len(raw), f.quota)).WithComponent("filestore")
	}

	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o640); err != nil {
		return errors.Wrap(err, errors.CodeStorageWrite, errors.CategoryStorage,
			"failed to write store document").WithComponent("filestore")
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, errors.CodeStorageWrite, errors.CategoryStorage,
			"failed to replace store document").WithComponent("filestore")
	}
	return nil
}
