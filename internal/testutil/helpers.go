// Package testutil starts a real flag service for tests that need one.
package testutil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TimurManjosov/flagship-webdemo/internal/devserver"
	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
	"github.com/TimurManjosov/flagship-webdemo/internal/store"
)

// Env is the flag environment served by NewFlagService.
const Env = "test"

// FlagService is a devserver on an httptest listener backed by a memory store.
type FlagService struct {
	*httptest.Server
	Dev   *devserver.Server
	Store *store.MemoryStore
}

// NewFlagService starts a flag service that accepts sdkKey and serves flags.
// Store changes are picked up live; everything stops at test cleanup.
func NewFlagService(t *testing.T, sdkKey string, flags ...flagmodel.Flag) *FlagService {
	t.Helper()
	st := store.NewMemoryStore()
	if err := SeedFlags(context.Background(), st, flags...); err != nil {
		t.Fatalf("SeedFlags failed: %v", err)
	}

	dev := devserver.NewServer(st, Env, sdkKey, "salt")
	if err := dev.RebuildSnapshot(context.Background()); err != nil {
		t.Fatalf("RebuildSnapshot failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := dev.Watch(ctx); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	ts := httptest.NewServer(dev.Router())
	t.Cleanup(ts.Close)
	return &FlagService{Server: ts, Dev: dev, Store: st}
}

// Upsert writes f into the service's environment.
func (s *FlagService) Upsert(t *testing.T, f flagmodel.Flag) {
	t.Helper()
	f.Env = Env
	if err := s.Store.UpsertFlag(context.Background(), f); err != nil {
		t.Fatalf("UpsertFlag failed: %v", err)
	}
}

// SeedFlags populates the store with test flags in Env.
func SeedFlags(ctx context.Context, st *store.MemoryStore, flags ...flagmodel.Flag) error {
	for _, f := range flags {
		f.Env = Env
		if err := st.UpsertFlag(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
