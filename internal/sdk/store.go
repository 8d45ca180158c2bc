package sdk

import (
	"sync/atomic"

	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
	"github.com/TimurManjosov/flagship-webdemo/internal/telemetry"
)

// Store is the local flag cache data sources write into. Reads are lock-free.
type Store interface {
	// Init replaces the whole flag set and marks the store initialized.
	Init(snap *flagmodel.Snapshot, source string)
	// ETag of the current snapshot, "" before the first Init.
	ETag() string
	Initialized() bool
}

type flagStore struct {
	current     atomic.Pointer[flagmodel.Snapshot]
	initialized atomic.Bool
}

func newFlagStore() *flagStore {
	return &flagStore{}
}

func (s *flagStore) Init(snap *flagmodel.Snapshot, source string) {
	if snap == nil {
		return
	}
	if snap.Flags == nil {
		snap.Flags = map[string]flagmodel.Flag{}
	}
	s.current.Store(snap)
	s.initialized.Store(true)
	telemetry.DataSourceUpdates.WithLabelValues(source).Inc()
}

func (s *flagStore) Snapshot() *flagmodel.Snapshot {
	return s.current.Load()
}

func (s *flagStore) ETag() string {
	if snap := s.current.Load(); snap != nil {
		return snap.ETag
	}
	return ""
}

func (s *flagStore) Initialized() bool {
	return s.initialized.Load()
}

func emptySnapshot() *flagmodel.Snapshot {
	return flagmodel.BuildSnapshot(nil, "")
}
