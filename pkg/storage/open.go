package storage

import (
	"context"
	"fmt"

	"github.com/uhyunpark/minimarket/params"
)

// Open builds the store selected by STORE_BACKEND.
func Open(ctx context.Context, cfg params.Storage) (Store, error) {
	switch cfg.Backend {
	case params.BackendMemory, "":
		return NewMemStore(), nil
	case params.BackendPebble:
		return NewPebbleStore(cfg.PebblePath)
	case params.BackendPostgres:
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
