// Package store loads the flag definitions served by the local flag service.
package store

import (
	"context"

	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
)

// Store defines the read side of flag persistence.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// GetAllFlags retrieves all flags for the given environment.
	// Returns an empty slice if no flags are found.
	GetAllFlags(ctx context.Context, env string) ([]flagmodel.Flag, error)

	// Close releases any resources held by the store.
	// After Close is called, the store should not be used.
	Close() error
}

// Watcher is implemented by stores that can report changes to their contents.
// Watch calls onChange after every change until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}
