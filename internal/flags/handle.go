package flags

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagship-webdemo/internal/evalctx"
	"github.com/TimurManjosov/flagship-webdemo/internal/reason"
	"github.com/TimurManjosov/flagship-webdemo/internal/telemetry"
)

// Handle exposes flag evaluation to request handlers. Evaluation never fails:
// every problem resolves to the caller's default. A nil *Handle behaves like a
// handle that never initializes.
type Handle struct {
	engine   Engine
	log      zerolog.Logger
	degraded zerolog.Logger // sampled

	state   atomic.Int32
	workers atomic.Int32

	expectWorkers bool
	staleOnce     sync.Once
}

func newHandle(engine Engine, log zerolog.Logger, expectWorkers bool) *Handle {
	h := &Handle{
		engine:        engine,
		log:           log,
		degraded:      log.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Second}),
		expectWorkers: expectWorkers,
	}
	h.state.Store(int32(Uninitialized))
	return h
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	if h == nil {
		return Uninitialized
	}
	return State(h.state.Load())
}

// transition moves the handle to `to` when that is a valid step from the
// current state. It reports whether the move happened.
func (h *Handle) transition(to State) bool {
	for {
		from := State(h.state.Load())
		if !from.ValidTransition(to) {
			return false
		}
		if h.state.CompareAndSwap(int32(from), int32(to)) {
			h.log.Debug().Stringer("from", from).Stringer("to", to).Msg("flag client state changed")
			telemetry.SetClientState(to.String(), stateNames())
			return true
		}
	}
}

// IsInitialized reports whether the handle has flag data. Once true it stays
// true until the handle is closed.
func (h *Handle) IsInitialized() bool {
	if h == nil {
		return false
	}
	switch h.State() {
	case Ready:
		return true
	case Initializing:
		if h.engine.Initialized() {
			h.transition(Ready)
			return h.State() == Ready
		}
	}
	return false
}

// Variation returns the flag's boolean value for ctx, or def.
func (h *Handle) Variation(flagKey string, ctx evalctx.Context, def bool) bool {
	v, _ := h.VariationDetail(flagKey, ctx, def)
	return v
}

// VariationDetail is Variation plus the reason the value was chosen.
func (h *Handle) VariationDetail(flagKey string, ctx evalctx.Context, def bool) (value bool, r reason.Reason) {
	if !h.IsInitialized() {
		r = reason.Error(reason.ErrorClientNotReady)
		if h != nil {
			h.logDegraded(&EvaluationDegraded{FlagKey: flagKey, Reason: r})
		}
		return def, r
	}
	h.warnIfStale()

	defer func() {
		if p := recover(); p != nil {
			value, r = def, reason.Error(reason.ErrorException)
			h.logDegraded(&EvaluationDegraded{FlagKey: flagKey, Reason: r, Err: fmt.Errorf("panic: %v", p)})
		}
	}()

	v, r, err := h.engine.BoolVariationDetail(flagKey, ctx, def)
	if err != nil {
		if r.Kind == "" {
			r = reason.Error(reason.ErrorException)
		}
		h.logDegraded(&EvaluationDegraded{FlagKey: flagKey, Reason: r, Err: err})
		return def, r
	}
	return v, r
}

func (h *Handle) logDegraded(e *EvaluationDegraded) {
	h.degraded.Warn().
		Str("flag", e.FlagKey).
		Str("reason", e.Reason.String()).
		Err(e.Err).
		Msg("flag evaluation degraded to default")
}

// warnIfStale logs once when a multi-worker process evaluates flags without
// any worker having restarted the update channel successfully.
func (h *Handle) warnIfStale() {
	if !h.expectWorkers || h.workers.Load() > 0 {
		return
	}
	h.staleOnce.Do(func() {
		h.log.Warn().Msg("flags evaluated before OnWorkerStart; serving cached values without a restarted update channel")
	})
}
