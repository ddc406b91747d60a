// Package storage selects and constructs record store providers.
package storage

import (
	"fmt"

	"github.com/kberan/marksmith/internal/bookmarks"
	"github.com/kberan/marksmith/internal/config"
	"github.com/kberan/marksmith/internal/storage/memory"
	"github.com/kberan/marksmith/internal/storage/sqlite"
)

// Provider bundles the record store and enrichment queue behind one handle so
// the rest of the pipeline does not care where records live.
type Provider interface {
	Bookmarks() bookmarks.Store
	Queue() bookmarks.Queue
	Close() error
}

// Open constructs the provider named by the configuration. The postgres
// provider is constructed separately because it needs a live pool; Open
// covers the local providers.
func Open(cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		p, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}
