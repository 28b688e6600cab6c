// Package storage selects and opens the configured RequestStore.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Thejas-AM/consuma-api/internal/core/ports"
	"github.com/Thejas-AM/consuma-api/internal/pkg/config"
	"github.com/Thejas-AM/consuma-api/internal/storage/memory"
	"github.com/Thejas-AM/consuma-api/internal/storage/sqldb"
)

// Re-export the store contract for callers that only deal with storage.
type (
	RequestStore = ports.RequestStore
	ListOptions  = ports.ListOptions
)

// Open returns the store described by cfg.
func Open(ctx context.Context, cfg config.StorageConfig) (RequestStore, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "", "sqlite":
		path := cfg.SQLite.Path
		if path == "" {
			path = "./data/requests.db"
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		return sqldb.NewSQLite(ctx, path)
	case "postgres":
		return sqldb.New(ctx, sqldb.Config{Driver: "postgres", DSN: cfg.Database.DSN})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
