package flags

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagship-webdemo/internal/evalctx"
	"github.com/TimurManjosov/flagship-webdemo/internal/reason"
)

// fakeEngine is a scriptable Engine.
type fakeEngine struct {
	initialized atomic.Bool
	value       bool
	evalErr     error
	panicOnEval bool
	postforkErr error
	closeErr    error
	closeDelay  time.Duration

	postforks atomic.Int32
	closes    atomic.Int32
}

func (f *fakeEngine) Initialized() bool { return f.initialized.Load() }

func (f *fakeEngine) BoolVariation(key string, ctx evalctx.Context, def bool) (bool, error) {
	v, _, err := f.BoolVariationDetail(key, ctx, def)
	return v, err
}

func (f *fakeEngine) BoolVariationDetail(_ string, _ evalctx.Context, def bool) (bool, reason.Reason, error) {
	if f.panicOnEval {
		panic("boom")
	}
	if f.evalErr != nil {
		return def, reason.Error(reason.ErrorFlagNotFound), f.evalErr
	}
	return f.value, reason.Fallthrough(false), nil
}

func (f *fakeEngine) Postfork() error {
	f.postforks.Add(1)
	return f.postforkErr
}

func (f *fakeEngine) Close() error {
	f.closes.Add(1)
	time.Sleep(f.closeDelay)
	f.initialized.Store(false)
	return f.closeErr
}

func factoryFor(e *fakeEngine) EngineFactory {
	return func(string) (Engine, error) { return e, nil }
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestInitialize_BlankKey(t *testing.T) {
	m := NewManager(factoryFor(&fakeEngine{}))
	for _, key := range []string{"", "   "} {
		_, err := m.Initialize(key)
		var ce *ConfigurationError
		if !errors.As(err, &ce) {
			t.Fatalf("Initialize(%q): expected *ConfigurationError, got %v", key, err)
		}
		if ce.Field != "SDK_KEY" {
			t.Errorf("Expected field SDK_KEY, got %s", ce.Field)
		}
	}
}

func TestInitialize_FactoryErrorIsConfigurationError(t *testing.T) {
	m := NewManager(func(string) (Engine, error) { return nil, errors.New("bad config") })
	_, err := m.Initialize("key")
	if !IsConfigurationError(err) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestInitialize_OnlyOneLiveHandle(t *testing.T) {
	m := NewManager(factoryFor(&fakeEngine{}))
	h, err := m.Initialize("key")
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := m.Initialize("key"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("Expected ErrAlreadyInitialized, got %v", err)
	}

	_ = m.Shutdown(h)
	if _, err := m.Initialize("key"); err != nil {
		t.Errorf("Expected Initialize after Shutdown to succeed, got %v", err)
	}
}

func TestHandle_DefaultUntilReady(t *testing.T) {
	e := &fakeEngine{value: true}
	m := NewManager(factoryFor(e))
	h, _ := m.Initialize("key")

	if h.State() != Initializing {
		t.Fatalf("Expected INITIALIZING, got %s", h.State())
	}
	for _, def := range []bool{true, false} {
		v, r := h.VariationDetail("web-banner", evalctx.New("u"), def)
		if v != def {
			t.Errorf("Expected default %v before ready, got %v", def, v)
		}
		if r.ErrorKind != reason.ErrorClientNotReady {
			t.Errorf("Expected CLIENT_NOT_READY, got %s", r)
		}
	}

	e.initialized.Store(true)
	if !h.IsInitialized() {
		t.Fatal("Expected handle to be initialized")
	}
	if h.State() != Ready {
		t.Errorf("Expected READY, got %s", h.State())
	}
	if !h.Variation("web-banner", evalctx.New("u"), false) {
		t.Error("Expected engine value once ready")
	}
}

func TestHandle_IsInitializedMonotonic(t *testing.T) {
	e := &fakeEngine{}
	e.initialized.Store(true)
	h, _ := NewManager(factoryFor(e)).Initialize("key")

	if !h.IsInitialized() {
		t.Fatal("Expected initialized")
	}
	e.initialized.Store(false)
	if !h.IsInitialized() {
		t.Error("Expected IsInitialized to stay true once observed")
	}
}

func TestHandle_ClosedReturnsDefault(t *testing.T) {
	e := &fakeEngine{value: true}
	e.initialized.Store(true)
	m := NewManager(factoryFor(e))
	h, _ := m.Initialize("key")
	_ = h.IsInitialized()

	if err := m.Shutdown(h); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if h.State() != Closed || h.IsInitialized() {
		t.Errorf("Expected CLOSED and not initialized, got %s", h.State())
	}
	if v := h.Variation("web-banner", evalctx.New("u"), false); v {
		t.Error("Expected default after close")
	}
}

func TestHandle_EngineErrorsDegrade(t *testing.T) {
	buf := &syncBuffer{}
	e := &fakeEngine{value: true, evalErr: errors.New("flag missing")}
	e.initialized.Store(true)
	h, _ := NewManager(factoryFor(e), WithLogger(zerolog.New(buf))).Initialize("key")

	v, r := h.VariationDetail("missing", evalctx.New("u"), false)
	if v {
		t.Error("Expected default on engine error")
	}
	if r.ErrorKind != reason.ErrorFlagNotFound {
		t.Errorf("Expected engine reason to pass through, got %s", r)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("Expected a warn log for degraded evaluation, got %s", buf.String())
	}
}

func TestHandle_EnginePanicDegrades(t *testing.T) {
	e := &fakeEngine{panicOnEval: true}
	e.initialized.Store(true)
	h, _ := NewManager(factoryFor(e)).Initialize("key")

	v, r := h.VariationDetail("web-banner", evalctx.New("u"), true)
	if !v || r.ErrorKind != reason.ErrorException {
		t.Errorf("Expected default true with EXCEPTION, got %v %s", v, r)
	}
}

func TestNilHandle(t *testing.T) {
	var h *Handle
	if h.IsInitialized() {
		t.Error("Expected nil handle to be uninitialized")
	}
	if !h.Variation("web-banner", evalctx.New("u"), true) {
		t.Error("Expected nil handle to return default")
	}
	if h.State() != Uninitialized {
		t.Errorf("Expected UNINITIALIZED, got %s", h.State())
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	e := &fakeEngine{}
	m := NewManager(factoryFor(e))
	h, _ := m.Initialize("key")

	if err := m.Shutdown(h); err != nil {
		t.Fatalf("First shutdown failed: %v", err)
	}
	if err := m.Shutdown(h); err != nil {
		t.Errorf("Second shutdown failed: %v", err)
	}
	if e.closes.Load() != 1 {
		t.Errorf("Expected engine closed once, got %d", e.closes.Load())
	}
	if err := m.Shutdown(nil); err != nil {
		t.Errorf("Shutdown(nil) failed: %v", err)
	}
}

func TestShutdown_ErrorIsReturnedNotFatal(t *testing.T) {
	e := &fakeEngine{closeErr: errors.New("flush failed")}
	m := NewManager(factoryFor(e))
	h, _ := m.Initialize("key")

	err := m.Shutdown(h)
	var se *ShutdownError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *ShutdownError, got %v", err)
	}
	if h.State() != Closed {
		t.Errorf("Expected CLOSED even after failed close, got %s", h.State())
	}
}

func TestShutdown_Bounded(t *testing.T) {
	e := &fakeEngine{closeDelay: time.Second}
	m := NewManager(factoryFor(e), WithShutdownTimeout(20*time.Millisecond))
	h, _ := m.Initialize("key")

	start := time.Now()
	err := m.Shutdown(h)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Shutdown took %s, expected it to be bounded", elapsed)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestOnWorkerStart(t *testing.T) {
	e := &fakeEngine{}
	m := NewManager(factoryFor(e))
	_, _ = m.Initialize("key")

	for w := 0; w < 3; w++ {
		if err := m.OnWorkerStart(w); err != nil {
			t.Fatalf("OnWorkerStart(%d) failed: %v", w, err)
		}
	}
	if e.postforks.Load() != 3 {
		t.Errorf("Expected 3 postforks, got %d", e.postforks.Load())
	}
}

func TestOnWorkerStart_FailureLoggedNotFatal(t *testing.T) {
	buf := &syncBuffer{}
	e := &fakeEngine{value: true, postforkErr: errors.New("dial failed")}
	e.initialized.Store(true)
	m := NewManager(factoryFor(e), WithLogger(zerolog.New(buf)))
	h, _ := m.Initialize("key")

	err := m.OnWorkerStart(1)
	var pe *PostforkError
	if !errors.As(err, &pe) || pe.Worker != 1 {
		t.Fatalf("Expected *PostforkError for worker 1, got %v", err)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Errorf("Expected error-level log, got %s", buf.String())
	}
	if !h.Variation("web-banner", evalctx.New("u"), false) {
		t.Error("Expected worker to keep serving cached values after failed postfork")
	}
}

func TestOnWorkerStart_WithoutHandle(t *testing.T) {
	m := NewManager(factoryFor(&fakeEngine{}))
	var pe *PostforkError
	if err := m.OnWorkerStart(0); !errors.As(err, &pe) || !errors.Is(err, ErrHandleClosed) {
		t.Errorf("Expected PostforkError wrapping ErrHandleClosed, got %v", err)
	}
}

func TestWorkerStartNeverCalled_ServesCachedAndWarnsOnce(t *testing.T) {
	buf := &syncBuffer{}
	e := &fakeEngine{value: true}
	e.initialized.Store(true)
	m := NewManager(factoryFor(e), WithLogger(zerolog.New(buf)), WithWorkers())
	h, _ := m.Initialize("key")

	for i := 0; i < 3; i++ {
		if !h.Variation("web-banner", evalctx.New("u"), false) {
			t.Fatal("Expected cached value without worker start")
		}
	}
	if n := strings.Count(buf.String(), "before OnWorkerStart"); n != 1 {
		t.Errorf("Expected one stale warning, got %d: %s", n, buf.String())
	}
}

func TestWorkerStartFailed_StillWarnsStale(t *testing.T) {
	buf := &syncBuffer{}
	e := &fakeEngine{value: true, postforkErr: errors.New("dial failed")}
	e.initialized.Store(true)
	m := NewManager(factoryFor(e), WithLogger(zerolog.New(buf)), WithWorkers())
	h, _ := m.Initialize("key")

	_ = m.OnWorkerStart(1)
	_ = m.OnWorkerStart(2)
	h.Variation("web-banner", evalctx.New("u"), false)

	if n := strings.Count(buf.String(), "before OnWorkerStart"); n != 1 {
		t.Errorf("Expected stale warning after failed worker starts, got %d: %s", n, buf.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	h, _ := NewManager(factoryFor(&fakeEngine{})).Initialize("key")
	ctx := NewContext(context.Background(), h)
	if FromContext(ctx) != h {
		t.Error("Expected FromContext to return the stored handle")
	}
	if FromContext(context.Background()) != nil {
		t.Error("Expected nil handle from empty context")
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Uninitialized, Initializing, true},
		{Initializing, Ready, true},
		{Ready, Closed, true},
		{Ready, Initializing, false},
		{Closed, Ready, false},
		{Closed, Closed, false},
	}
	for _, tt := range tests {
		if got := tt.from.ValidTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
