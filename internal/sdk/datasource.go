package sdk

import (
	"context"
	"sync"
)

// DataSource keeps a Store up to date in the background.
type DataSource interface {
	// Start begins delivering updates. ready is closed once the first attempt
	// has succeeded or failed permanently.
	Start(ready chan<- struct{})
	// Close stops the background work and waits for it to exit.
	Close() error
}

// DataSourceFactory builds a data source bound to a store.
type DataSourceFactory func(cfg Config, sdkKey string, store Store) (DataSource, error)

// worker runs one background loop with a cancellable context.
type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startWorker(fn func(ctx context.Context)) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		fn(ctx)
	}()
	return w
}

func (w *worker) stop() {
	if w == nil {
		return
	}
	w.once.Do(w.cancel)
	<-w.done
}

// signalOnce closes ready at most once.
type signalOnce struct {
	once  sync.Once
	ready chan<- struct{}
}

func (s *signalOnce) fire() {
	s.once.Do(func() { close(s.ready) })
}

// nullDataSource never fetches anything. Used in offline mode.
type nullDataSource struct{}

func (nullDataSource) Start(ready chan<- struct{}) { close(ready) }
func (nullDataSource) Close() error                { return nil }
