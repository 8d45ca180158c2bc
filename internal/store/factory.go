package store

import (
	"context"
	"fmt"

	mydb "github.com/TimurManjosov/flagship-webdemo/internal/db"
	"github.com/rs/zerolog"
)

// Options selects and configures a backend for NewStore.
type Options struct {
	Type     string // "memory", "file" or "postgres"
	FlagFile string
	DSN      string
	Logger   zerolog.Logger
}

// NewStore creates a new store based on opts.Type.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		if opts.FlagFile == "" {
			return nil, fmt.Errorf("file store requires a flag file")
		}
		return NewFileStore(opts.FlagFile, opts.Logger), nil
	case "postgres":
		pool, err := mydb.NewPool(ctx, opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		return NewPostgresStore(pool, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", opts.Type)
	}
}
