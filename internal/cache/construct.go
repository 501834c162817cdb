package cache

import (
	"log/slog"

	"github.com/tiercache/tiercache/internal/config"
	"github.com/tiercache/tiercache/internal/storage"
	"github.com/tiercache/tiercache/pkg/types"
)

// NewFromConfiguration builds a Service with the three concrete storage
// strategies described by cfg. Callers needing fakes construct New
// directly.
func NewFromConfiguration(cfg *config.Configuration, logger *slog.Logger, rec Recorder) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	memory := storage.NewMemoryStore()

	file, err := storage.NewFileStore(storage.FileStoreConfig{
		Directory: cfg.Cache.File.Directory,
		Prefix:    cfg.Cache.File.Prefix,
		Quota:     cfg.FileQuotaBytes(),
	}, logger)
	if err != nil {
		return nil, err
	}

	sqlite := storage.NewSQLiteStore(cfg.Cache.SQLite.Path, logger)

	return New(memory, file, sqlite, Options{
		DefaultTTL:   cfg.Cache.DefaultTTL,
		DefaultTier:  types.Tier(cfg.Cache.DefaultTier),
		PersistOnSet: cfg.Cache.PersistOnSet,
		Logger:       logger,
		Recorder:     rec,
	}), nil
}
