package store

import (
	"context"
	"sync"
	"time"

	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It is used by tests and by the flag service when no backend is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	flags map[string]flagmodel.Flag // env/key -> Flag
	subs  []func()
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags: make(map[string]flagmodel.Flag),
	}
}

func memKey(env, key string) string { return env + "/" + key }

// GetAllFlags retrieves all flags for the given environment.
func (m *MemoryStore) GetAllFlags(_ context.Context, env string) ([]flagmodel.Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]flagmodel.Flag, 0, len(m.flags))
	for _, flag := range m.flags {
		if flag.Env == env {
			result = append(result, flag)
		}
	}
	return result, nil
}

// UpsertFlag creates or replaces a flag and bumps its version.
func (m *MemoryStore) UpsertFlag(_ context.Context, flag flagmodel.Flag) error {
	m.mu.Lock()
	k := memKey(flag.Env, flag.Key)
	if prev, ok := m.flags[k]; ok {
		flag.Version = prev.Version + 1
	} else {
		flag.Version = 1
	}
	flag.UpdatedAt = time.Now().UTC()
	m.flags[k] = flag
	subs := append([]func(){}, m.subs...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
	return nil
}

// DeleteFlag removes a flag. Missing flags are not an error.
func (m *MemoryStore) DeleteFlag(_ context.Context, key, env string) error {
	m.mu.Lock()
	_, existed := m.flags[memKey(env, key)]
	delete(m.flags, memKey(env, key))
	subs := append([]func(){}, m.subs...)
	m.mu.Unlock()

	if existed {
		for _, fn := range subs {
			fn()
		}
	}
	return nil
}

// Watch registers onChange for every upsert and delete. The callback is
// dropped when ctx is done.
func (m *MemoryStore) Watch(ctx context.Context, onChange func()) error {
	var once sync.Once
	active := make(chan struct{})
	fn := func() {
		select {
		case <-active:
		default:
			onChange()
		}
	}
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		once.Do(func() { close(active) })
	}()
	return nil
}

// Close is a no-op for MemoryStore as there are no resources to release.
func (m *MemoryStore) Close() error {
	return nil
}
