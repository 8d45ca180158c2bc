// Package snapshot holds the flag service's current snapshot and fans out
// ETag changes to SSE subscribers.
package snapshot

import (
	"sync/atomic"

	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
	"github.com/TimurManjosov/flagship-webdemo/internal/telemetry"
)

// Holder is the atomically swapped snapshot of one environment.
type Holder struct {
	current atomic.Pointer[flagmodel.Snapshot]
	notify  *broadcaster
}

func NewHolder() *Holder {
	return &Holder{notify: newBroadcaster()}
}

// Load returns the current snapshot, or an empty one before the first Update.
func (h *Holder) Load() *flagmodel.Snapshot {
	if s := h.current.Load(); s != nil {
		return s
	}
	return flagmodel.BuildSnapshot(nil, "")
}

// Update swaps in s and notifies subscribers when the ETag changed.
func (h *Holder) Update(s *flagmodel.Snapshot) {
	prev := h.current.Swap(s)
	telemetry.SnapshotFlags.Set(float64(len(s.Flags)))
	if prev == nil || prev.ETag != s.ETag {
		h.notify.publish(s.ETag)
	}
}

// Subscribe registers a listener for new ETags. Call the returned func to unsubscribe.
func (h *Holder) Subscribe() (<-chan string, func()) {
	return h.notify.subscribe()
}
