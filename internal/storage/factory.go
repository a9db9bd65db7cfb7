package storage

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
	"github.com/ternarybob/venari/internal/storage/file"
	"github.com/ternarybob/venari/internal/storage/memory"
	"github.com/ternarybob/venari/internal/storage/sqlite"
)

// NewFromConfig builds the configured JobStorage backend. The hybrid
// backend pairs the memory cache with the configured durable store
// (sqlite unless a file path is the only one set).
func NewFromConfig(cfg common.StorageConfig, logger arbor.ILogger) (interfaces.JobStorage, error) {
	switch cfg.Backend {
	case "sqlite":
		return sqlite.NewJobStorage(cfg.SQLite.Path, logger)
	case "file":
		return file.NewStorage(cfg.File.Path, file.Format(cfg.File.Format), logger)
	case "memory":
		return memory.NewCache(cacheOptions(cfg.Cache), logger), nil
	case "hybrid":
		durable, err := durableForHybrid(cfg, logger)
		if err != nil {
			return nil, err
		}
		cache := memory.NewCache(cacheOptions(cfg.Cache), logger)
		return NewHybrid(cache, durable, logger), nil
	}
	return nil, models.ValidationError("unknown storage backend %q", cfg.Backend)
}

func durableForHybrid(cfg common.StorageConfig, logger arbor.ILogger) (interfaces.JobStorage, error) {
	if cfg.SQLite.Path != "" {
		return sqlite.NewJobStorage(cfg.SQLite.Path, logger)
	}
	if cfg.File.Path != "" {
		return file.NewStorage(cfg.File.Path, file.Format(cfg.File.Format), logger)
	}
	return nil, models.ValidationError("hybrid storage backend requires a sqlite or file path")
}

func cacheOptions(cfg common.CacheConfig) memory.Options {
	return memory.Options{
		MaxSize:      cfg.MaxSize,
		Policy:       cfg.Policy,
		TTL:          cfg.TTL,
		SweepEnabled: cfg.SweepEnabled,
	}
}
