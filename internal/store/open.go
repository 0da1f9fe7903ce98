package store

import (
	"context"
	"fmt"

	"github.com/cronnarc/cronguard/internal/config"
)

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.Store) (Store, error) {
	switch cfg.Driver {
	case "json":
		return NewJSONStore(cfg.Path)
	case "sqlite", "":
		return NewSQLiteStore(cfg.Path)
	case "postgres":
		return NewPostgresStore(ctx, PostgresConfig{
			URL:          cfg.DSN,
			MaxConns:     cfg.MaxConns,
			QueryTimeout: cfg.QueryTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
