// Package devserver is a small flag service for local development and tests.
// It serves snapshots, an SSE change stream and an analytics sink to the SDK.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/TimurManjosov/flagship-webdemo/internal/auth"
	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
	"github.com/TimurManjosov/flagship-webdemo/internal/snapshot"
	"github.com/TimurManjosov/flagship-webdemo/internal/store"
	"github.com/TimurManjosov/flagship-webdemo/internal/telemetry"
	"github.com/TimurManjosov/flagship-webdemo/internal/validation"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 25 * time.Second

type Server struct {
	store     store.Store
	env       string
	keyHashes []string
	keys      *auth.KeyRing
	salt      string
	log       zerolog.Logger
	snap      *snapshot.Holder

	eventsReceived atomic.Int64
	heartbeat      time.Duration
}

// Option customizes a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

// WithHashedKeys also accepts SDK keys whose bcrypt hashes are given.
func WithHashedKeys(hashes ...string) Option {
	return func(s *Server) { s.keyHashes = append(s.keyHashes, hashes...) }
}

// WithHeartbeat overrides the SSE heartbeat interval.
func WithHeartbeat(d time.Duration) Option { return func(s *Server) { s.heartbeat = d } }

func NewServer(st store.Store, env, sdkKey, salt string, opts ...Option) *Server {
	s := &Server{
		store:     st,
		env:       env,
		salt:      salt,
		log:       zerolog.Nop(),
		snap:      snapshot.NewHolder(),
		heartbeat: heartbeatInterval,
	}
	for _, o := range opts {
		o(s)
	}
	s.keys = auth.NewKeyRing([]string{sdkKey}, s.keyHashes)
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(hlog.NewHandler(s.log), hlog.RequestIDHandler("request_id", "X-Request-Id"))
	r.Use(telemetry.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authSDK)

		// streaming has no timeout
		r.Get("/flags/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(5 * time.Second))
			r.Get("/flags/snapshot", s.handleSnapshot)
			r.Post("/events", s.handleEvents)
		})
	})
	return r
}

// Snapshot returns the snapshot currently served.
func (s *Server) Snapshot() *flagmodel.Snapshot { return s.snap.Load() }

// EventsReceived is the number of summary events accepted so far.
func (s *Server) EventsReceived() int64 { return s.eventsReceived.Load() }

// RebuildSnapshot loads flags for the environment and swaps the atomic snapshot.
func (s *Server) RebuildSnapshot(ctx context.Context) error {
	flags, err := s.store.GetAllFlags(ctx, s.env)
	if err != nil {
		return err
	}
	// one bad row keeps the previous snapshot
	for _, f := range flags {
		if err := validation.ValidateFlag(f).Err(); err != nil {
			return fmt.Errorf("flag %q: %w", f.Key, err)
		}
	}
	snap := flagmodel.BuildSnapshot(flags, s.salt)
	s.snap.Update(snap)
	s.log.Info().Int("flags", len(snap.Flags)).Str("etag", snap.ETag).Msg("snapshot rebuilt")
	return nil
}

// Watch rebuilds the snapshot whenever the store reports a change. Stores that
// cannot report changes are served as loaded.
func (s *Server) Watch(ctx context.Context) error {
	w, ok := s.store.(store.Watcher)
	if !ok {
		return nil
	}
	return w.Watch(ctx, func() {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.RebuildSnapshot(rctx); err != nil {
			s.log.Error().Err(err).Msg("snapshot rebuild failed")
		}
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, req *http.Request) {
	snap := s.snap.Load()
	if inm := req.Header.Get("If-None-Match"); inm != "" && inm == snap.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", snap.ETag)
	_ = json.NewEncoder(w).Encode(snap)
}

// ---- middleware ----

func (s *Server) authSDK(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if got == "" {
			UnauthorizedError(w, r, "missing bearer token")
			return
		}
		if !s.keys.Allow(got) {
			ForbiddenError(w, r, "invalid SDK key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
