// Package flags owns the flag client's process lifecycle: one handle per
// process, restarted per worker and closed exactly once.
package flags

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultShutdownTimeout bounds Shutdown when WithShutdownTimeout is not given.
const DefaultShutdownTimeout = 5 * time.Second

// Manager hands out the single live Handle of the process.
type Manager struct {
	factory         EngineFactory
	log             zerolog.Logger
	shutdownTimeout time.Duration
	expectWorkers   bool

	mu      sync.Mutex
	current *Handle
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for lifecycle events and degraded evaluations.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithShutdownTimeout bounds how long Shutdown waits for the engine to close.
func WithShutdownTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.shutdownTimeout = d
		}
	}
}

// WithWorkers declares that handles are shared by worker goroutines that call
// OnWorkerStart before serving.
func WithWorkers() Option {
	return func(m *Manager) { m.expectWorkers = true }
}

// NewManager returns a Manager that builds engines with factory.
func NewManager(factory EngineFactory, opts ...Option) *Manager {
	m := &Manager{
		factory:         factory,
		log:             zerolog.Nop(),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With().Str("component", "flags").Logger()
	return m
}

// Initialize creates the process's handle. It does not wait for flag data:
// the handle reports IsInitialized false until the engine has it.
func (m *Manager) Initialize(sdkKey string) (*Handle, error) {
	if strings.TrimSpace(sdkKey) == "" {
		return nil, &ConfigurationError{Field: "SDK_KEY", Message: "is required"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.State() != Closed {
		return nil, ErrAlreadyInitialized
	}

	engine, err := m.factory(sdkKey)
	if err != nil {
		return nil, &ConfigurationError{Field: "SDK_KEY", Message: "flag client could not be created", Err: err}
	}

	h := newHandle(engine, m.log, m.expectWorkers)
	h.transition(Initializing)
	m.current = h
	m.log.Info().Msg("flag client initializing")
	return h, nil
}

// Handle returns the live handle, or nil.
func (m *Manager) Handle() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// OnWorkerStart runs the worker-start hook on the live handle.
func (m *Manager) OnWorkerStart(worker int) error {
	return m.ReinitializeAfterFork(m.Handle(), worker)
}

// ReinitializeAfterFork restarts h's background update channel for a worker.
// Failures are logged at error level and returned as *PostforkError; the
// worker keeps serving the values already cached.
func (m *Manager) ReinitializeAfterFork(h *Handle, worker int) (err error) {
	if h == nil || h.State() == Closed {
		err = &PostforkError{Worker: worker, Err: ErrHandleClosed}
		m.log.Error().Err(err).Int("worker", worker).Msg("flag client reinitialization failed")
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			err = &PostforkError{Worker: worker, Err: fmt.Errorf("panic: %v", p)}
		}
		if err != nil {
			m.log.Error().Err(err).Int("worker", worker).Msg("flag client reinitialization failed")
		}
	}()

	if perr := h.engine.Postfork(); perr != nil {
		return &PostforkError{Worker: worker, Err: perr}
	}
	h.workers.Add(1)
	m.log.Debug().Int("worker", worker).Msg("flag client reinitialized for worker")
	return nil
}

// Shutdown closes h. It is idempotent and never waits longer than the
// shutdown timeout. A failure is logged and returned as *ShutdownError.
func (m *Manager) Shutdown(h *Handle) error {
	if h == nil || !h.transition(Closed) {
		return nil
	}

	m.mu.Lock()
	if m.current == h {
		m.current = nil
	}
	m.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("panic: %v", p)
			}
		}()
		done <- h.engine.Close()
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(m.shutdownTimeout):
		err = fmt.Errorf("close did not finish within %s: %w", m.shutdownTimeout, context.DeadlineExceeded)
	}
	if err != nil {
		serr := &ShutdownError{Err: err}
		m.log.Error().Err(serr).Msg("flag client shutdown failed")
		return serr
	}
	m.log.Info().Msg("flag client closed")
	return nil
}

// IsConfigurationError reports whether err is a startup configuration error.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
