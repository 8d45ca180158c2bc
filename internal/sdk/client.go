// Package sdk is the flag client embedded in applications. It keeps a local copy
// of the flag snapshot in sync with the flag service (streaming, polling or a
// local file) and evaluates flags in process.
package sdk

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/TimurManjosov/flagship-webdemo/internal/engine"
	"github.com/TimurManjosov/flagship-webdemo/internal/evalctx"
	"github.com/TimurManjosov/flagship-webdemo/internal/reason"
	"github.com/TimurManjosov/flagship-webdemo/internal/telemetry"
	"github.com/rs/zerolog"
)

var (
	ErrMissingSDKKey  = errors.New("sdk key is required")
	ErrClientClosed   = errors.New("client is closed")
	ErrNotInitialized = errors.New("client has not been initialized")
	ErrFlagNotFound   = errors.New("unknown flag key")
)

// EvaluationError carries the reason of a failed evaluation.
type EvaluationError struct {
	FlagKey string
	Reason  reason.Reason
	Err     error
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluate %q: %s: %v", e.FlagKey, e.Reason, e.Err)
	}
	return fmt.Sprintf("evaluate %q: %s", e.FlagKey, e.Reason)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// FlagState is one entry of AllFlags.
type FlagState struct {
	Key     string        `json:"key"`
	On      bool          `json:"on"`
	Value   any           `json:"value,omitempty"`
	Variant string        `json:"variant,omitempty"`
	Reason  reason.Reason `json:"reason"`
}

// Client evaluates flags against a locally cached snapshot. All methods are
// safe for concurrent use.
type Client struct {
	sdkKey string
	cfg    Config
	log    zerolog.Logger
	store  *flagStore

	mu     sync.Mutex // serializes Postfork and Close
	source DataSource
	events atomic.Pointer[eventProcessor]

	closed atomic.Bool
}

// New starts a client in the background and returns immediately. Use
// Initialized to learn when the first snapshot has arrived.
func New(sdkKey string, cfg Config) (*Client, error) {
	if sdkKey == "" {
		return nil, ErrMissingSDKKey
	}
	cfg = cfg.withDefaults()

	c := &Client{
		sdkKey: sdkKey,
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "sdk").Logger(),
		store:  newFlagStore(),
	}
	if cfg.Offline {
		c.store.Init(emptySnapshot(), "offline")
	}
	if err := c.start(); err != nil {
		return nil, err
	}
	c.log.Info().
		Bool("offline", cfg.Offline).
		Bool("stream", cfg.Stream).
		Str("flag_file", cfg.FlagFile).
		Msg("flag client starting")
	return c, nil
}

func (c *Client) dataSourceFactory() DataSourceFactory {
	switch {
	case c.cfg.DataSource != nil:
		return c.cfg.DataSource
	case c.cfg.Offline:
		return func(Config, string, Store) (DataSource, error) { return nullDataSource{}, nil }
	case c.cfg.FlagFile != "":
		return FileDataSource
	case c.cfg.Stream:
		return StreamingDataSource
	default:
		return PollingDataSource
	}
}

// start builds and starts a data source and event processor. Caller holds mu
// or owns c exclusively.
func (c *Client) start() error {
	src, err := c.dataSourceFactory()(c.cfg, c.sdkKey, c.store)
	if err != nil {
		return fmt.Errorf("create data source: %w", err)
	}
	if c.cfg.SendEvents && !c.cfg.Offline {
		ep := newEventProcessor(c.cfg, c.sdkKey)
		ep.Start()
		c.events.Store(ep)
	} else {
		c.events.Store(nil)
	}
	c.source = src

	ready := make(chan struct{})
	src.Start(ready)
	go func() {
		<-ready
		if c.store.Initialized() {
			c.log.Info().Msg("flag client initialized")
		} else if !c.closed.Load() {
			c.log.Warn().Msg("flag client data source stopped before initialization")
		}
	}()
	return nil
}

// stop closes the data source and event processor. Caller holds mu.
func (c *Client) stop() {
	if c.source != nil {
		if err := c.source.Close(); err != nil {
			c.log.Warn().Err(err).Msg("failed to close data source")
		}
	}
	if ep := c.events.Load(); ep != nil {
		_ = ep.Close()
	}
}

// Initialized reports whether a snapshot has been received. False after Close.
func (c *Client) Initialized() bool {
	return !c.closed.Load() && c.store.Initialized()
}

// BoolVariation returns whether the flag is on for ctx, or def on failure.
func (c *Client) BoolVariation(key string, ctx evalctx.Context, def bool) (bool, error) {
	v, _, err := c.BoolVariationDetail(key, ctx, def)
	return v, err
}

// BoolVariationDetail is BoolVariation plus the evaluation reason.
func (c *Client) BoolVariationDetail(key string, ctx evalctx.Context, def bool) (bool, reason.Reason, error) {
	res, err := c.evaluate(key, ctx, def)
	if err != nil {
		return def, res.Reason, err
	}
	return res.On, res.Reason, nil
}

// JSONVariation returns the flag's value (its variant or flag config) for ctx.
// def is returned on failure and when the flag carries no value.
func (c *Client) JSONVariation(key string, ctx evalctx.Context, def any) (any, error) {
	res, err := c.evaluate(key, ctx, def)
	if err != nil || res.Value == nil {
		return def, err
	}
	return res.Value, nil
}

// AllFlags evaluates every known flag for ctx, sorted by key. Returns nil
// before initialization.
func (c *Client) AllFlags(ctx evalctx.Context) []FlagState {
	if !c.Initialized() {
		return nil
	}
	snap := c.store.Snapshot()
	out := make([]FlagState, 0, len(snap.Flags))
	for key := range snap.Flags {
		flag := snap.Flags[key]
		res := engine.Evaluate(&flag, ctx, snap.RolloutSalt)
		out = append(out, FlagState{
			Key:     key,
			On:      res.On,
			Value:   res.Value,
			Variant: res.Variant,
			Reason:  res.Reason,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (c *Client) evaluate(key string, ctx evalctx.Context, def any) (res engine.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = engine.Result{Reason: reason.Error(reason.ErrorException)}
			err = &EvaluationError{FlagKey: key, Reason: res.Reason, Err: fmt.Errorf("panic: %v", r)}
		}
		telemetry.FlagEvaluations.WithLabelValues(string(res.Reason.Kind)).Inc()
	}()

	if c.closed.Load() {
		res.Reason = reason.Error(reason.ErrorClientNotReady)
		return res, &EvaluationError{FlagKey: key, Reason: res.Reason, Err: ErrClientClosed}
	}
	if !c.store.Initialized() {
		res.Reason = reason.Error(reason.ErrorClientNotReady)
		return res, &EvaluationError{FlagKey: key, Reason: res.Reason, Err: ErrNotInitialized}
	}

	snap := c.store.Snapshot()
	flag, ok := snap.Get(key)
	if !ok {
		res.Reason = reason.Error(reason.ErrorFlagNotFound)
		c.recordEvent(evaluationEvent{FlagKey: key, Value: def, Default: def, Unknown: true})
		return res, &EvaluationError{FlagKey: key, Reason: res.Reason, Err: ErrFlagNotFound}
	}

	res = engine.Evaluate(flag, ctx, snap.RolloutSalt)
	if res.Reason.IsError() {
		c.recordEvent(evaluationEvent{FlagKey: key, Value: def, Default: def})
		return res, &EvaluationError{FlagKey: key, Reason: res.Reason}
	}
	c.recordEvent(evaluationEvent{FlagKey: key, Variant: res.Variant, Value: res.On, Default: def})
	return res, nil
}

func (c *Client) recordEvent(ev evaluationEvent) {
	if ep := c.events.Load(); ep != nil {
		ep.record(ev)
	}
}

// Postfork replaces the background data source and event processor with fresh
// ones that own new connections. The cached flags stay in place, so a client
// that was initialized stays initialized.
func (c *Client) Postfork() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.stop()
	if err := c.start(); err != nil {
		c.source = nil
		c.events.Store(nil)
		return fmt.Errorf("postfork: %w", err)
	}
	c.log.Debug().Msg("flag client restarted background work")
	return nil
}

// Flush sends pending analytics events now.
func (c *Client) Flush() {
	if ep := c.events.Load(); ep != nil {
		ep.flush()
	}
}

// Close stops background work and flushes pending events. Safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop()
	c.log.Info().Msg("flag client closed")
	return nil
}
