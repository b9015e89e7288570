package store

import (
	"context"
	"fmt"

	"github.com/dunamismax/sepiatone/internal/config"
)

// Store is what the binaries need: jobs plus usage accounting.
type Store interface {
	JobStore
	UsageStore
}

// Open builds the store selected by cfg.Kind. The returned close function is
// never nil.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, func(), error) {
	switch cfg.Kind {
	case "", "memory":
		return NewMemoryJobStore(), func() {}, nil
	case "postgres":
		pg, err := NewPostgresJobStore(ctx, cfg.DSN)
		if err != nil {
			return nil, func() {}, err
		}
		return pg, func() { _ = pg.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}
