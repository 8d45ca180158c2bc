package snapshot

import (
	"sync"
)

type subCh = chan string // carries new ETags

type broadcaster struct {
	mu   sync.Mutex
	subs map[subCh]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[subCh]struct{})}
}

// subscribe registers a listener and returns its channel and an unsubscribe func.
func (b *broadcaster) subscribe() (<-chan string, func()) {
	ch := make(subCh, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// publish notifies all listeners (non-blocking).
func (b *broadcaster) publish(etag string) {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- etag:
		default: // if client is slow, skip instead of blocking
		}
	}
	b.mu.Unlock()
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
