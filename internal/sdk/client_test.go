package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/TimurManjosov/flagship-webdemo/internal/evalctx"
	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
	"github.com/TimurManjosov/flagship-webdemo/internal/reason"
	"github.com/TimurManjosov/flagship-webdemo/internal/telemetry"
	"github.com/TimurManjosov/flagship-webdemo/internal/testutil"
)

const testKey = "sdk-test-key"

func startFlagService(t *testing.T, flags ...flagmodel.Flag) *testutil.FlagService {
	t.Helper()
	return testutil.NewFlagService(t, testKey, flags...)
}

func testConfig(baseURI string) Config {
	cfg := DefaultConfig()
	cfg.BaseURI = baseURI
	cfg.PollInterval = 20 * time.Millisecond
	cfg.InitialReconnectDelay = 10 * time.Millisecond
	cfg.FlushInterval = time.Hour
	return cfg
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timeout waiting for %s", what)
}

var banner = flagmodel.Flag{Key: "web-banner", Enabled: true, Rollout: 100}

func TestNew_MissingKey(t *testing.T) {
	_, err := New("", DefaultConfig())
	if !errors.Is(err, ErrMissingSDKKey) {
		t.Errorf("Expected ErrMissingSDKKey, got %v", err)
	}
}

func TestPolling_InitializesAndEvaluates(t *testing.T) {
	svc := startFlagService(t, banner)
	cfg := testConfig(svc.URL)
	cfg.Stream = false
	cfg.SendEvents = false

	c, err := New(testKey, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	waitUntil(t, "initialization", c.Initialized)

	on, r, err := c.BoolVariationDetail("web-banner", evalctx.New("user-1"), false)
	if err != nil {
		t.Fatalf("BoolVariationDetail failed: %v", err)
	}
	if !on {
		t.Error("Expected web-banner to be on")
	}
	if r.Kind != reason.KindFallthrough {
		t.Errorf("Expected FALLTHROUGH, got %s", r)
	}

	on, r, err = c.BoolVariationDetail("missing", evalctx.New("user-1"), true)
	if !errors.Is(err, ErrFlagNotFound) {
		t.Errorf("Expected ErrFlagNotFound, got %v", err)
	}
	if !on || r.ErrorKind != reason.ErrorFlagNotFound {
		t.Errorf("Expected default true with FLAG_NOT_FOUND, got %v %s", on, r)
	}
}

func TestPolling_PicksUpChanges(t *testing.T) {
	svc := startFlagService(t, banner)
	cfg := testConfig(svc.URL)
	cfg.Stream = false
	cfg.SendEvents = false

	c, _ := New(testKey, cfg)
	defer c.Close()
	waitUntil(t, "initialization", c.Initialized)

	off := banner
	off.Enabled = false
	off.Env = "test"
	_ = svc.Store.UpsertFlag(context.Background(), off)

	waitUntil(t, "flag turned off", func() bool {
		on, _ := c.BoolVariation("web-banner", evalctx.New("user-1"), true)
		return !on
	})
}

func TestStreaming_InitializesAndFollowsUpdates(t *testing.T) {
	svc := startFlagService(t, banner)
	cfg := testConfig(svc.URL)
	cfg.SendEvents = false

	c, err := New(testKey, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()
	waitUntil(t, "initialization", c.Initialized)

	_ = svc.Store.UpsertFlag(context.Background(), flagmodel.Flag{Key: "late-flag", Enabled: true, Rollout: 100, Env: "test"})
	waitUntil(t, "late-flag to arrive", func() bool {
		on, err := c.BoolVariation("late-flag", evalctx.New("user-1"), false)
		return err == nil && on
	})
}

func TestNotInitialized_ReturnsDefault(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	cfg := testConfig(ts.URL)
	cfg.Stream = false
	cfg.SendEvents = false
	c, _ := New(testKey, cfg)
	defer c.Close()

	time.Sleep(50 * time.Millisecond)
	if c.Initialized() {
		t.Fatal("Expected client to stay uninitialized")
	}
	on, r, err := c.BoolVariationDetail("web-banner", evalctx.New("user-1"), true)
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
	if !on || r.ErrorKind != reason.ErrorClientNotReady {
		t.Errorf("Expected default true with CLIENT_NOT_READY, got %v %s", on, r)
	}
}

func TestInvalidKey_NeverInitializes(t *testing.T) {
	svc := startFlagService(t, banner)
	for _, stream := range []bool{false, true} {
		cfg := testConfig(svc.URL)
		cfg.Stream = stream
		cfg.SendEvents = false
		c, _ := New("wrong-key", cfg)

		time.Sleep(80 * time.Millisecond)
		if c.Initialized() {
			t.Errorf("stream=%v: expected rejected key to leave client uninitialized", stream)
		}
		_ = c.Close()
	}
}

func TestOffline_AlwaysDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Offline = true
	c, err := New(testKey, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if !c.Initialized() {
		t.Error("Expected offline client to report initialized")
	}
	on, err := c.BoolVariation("web-banner", evalctx.New("user-1"), true)
	if !on || !errors.Is(err, ErrFlagNotFound) {
		t.Errorf("Expected default true and ErrFlagNotFound, got %v %v", on, err)
	}
}

func TestEvaluationMetrics_NotKeyedByFlag(t *testing.T) {
	telemetry.FlagEvaluations.Reset()
	cfg := DefaultConfig()
	cfg.Offline = true
	c, err := New(testKey, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	for i := 0; i < 100; i++ {
		_, _ = c.BoolVariation(fmt.Sprintf("junk-%d", i), evalctx.New("user-1"), false)
	}
	if n := promtestutil.CollectAndCount(telemetry.FlagEvaluations); n != 1 {
		t.Errorf("Expected 1 series, got %d", n)
	}
	if got := promtestutil.ToFloat64(telemetry.FlagEvaluations.WithLabelValues(string(reason.KindError))); got != 100 {
		t.Errorf("Expected 100 error evaluations, got %v", got)
	}
}

func TestFileDataSource_LoadsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.yaml")
	write := func(enabled string) {
		data := "flags:\n  - key: web-banner\n    enabled: " + enabled + "\n    rollout: 100\n"
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("true")

	cfg := DefaultConfig()
	cfg.FlagFile = path
	cfg.SendEvents = false
	c, err := New(testKey, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()
	waitUntil(t, "initialization", c.Initialized)

	if on, _ := c.BoolVariation("web-banner", evalctx.New("u"), false); !on {
		t.Error("Expected web-banner on from file")
	}

	write("false")
	waitUntil(t, "file reload", func() bool {
		on, _ := c.BoolVariation("web-banner", evalctx.New("u"), true)
		return !on
	})
}

func TestJSONVariation(t *testing.T) {
	flag := banner
	flag.Config = map[string]any{"text": "hello"}
	svc := startFlagService(t, flag)
	cfg := testConfig(svc.URL)
	cfg.SendEvents = false

	c, _ := New(testKey, cfg)
	defer c.Close()
	waitUntil(t, "initialization", c.Initialized)

	v, err := c.JSONVariation("web-banner", evalctx.New("u"), nil)
	if err != nil {
		t.Fatalf("JSONVariation failed: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["text"] != "hello" {
		t.Errorf("Expected config map with text=hello, got %#v", v)
	}

	v, _ = c.JSONVariation("missing", evalctx.New("u"), "fallback")
	if v != "fallback" {
		t.Errorf("Expected fallback, got %v", v)
	}
}

func TestAllFlags(t *testing.T) {
	svc := startFlagService(t, banner, flagmodel.Flag{Key: "alpha", Enabled: false})
	cfg := testConfig(svc.URL)
	cfg.SendEvents = false
	c, _ := New(testKey, cfg)
	defer c.Close()
	waitUntil(t, "initialization", c.Initialized)

	states := c.AllFlags(evalctx.New("u"))
	if len(states) != 2 || states[0].Key != "alpha" || states[1].Key != "web-banner" {
		t.Fatalf("Expected [alpha web-banner], got %+v", states)
	}
	if states[0].On || states[0].Reason.Kind != reason.KindOff {
		t.Errorf("Expected alpha off with OFF reason, got %+v", states[0])
	}
}

func TestPostfork_KeepsCacheAndResumes(t *testing.T) {
	svc := startFlagService(t, banner)
	cfg := testConfig(svc.URL)
	cfg.SendEvents = false
	c, _ := New(testKey, cfg)
	defer c.Close()
	waitUntil(t, "initialization", c.Initialized)

	if err := c.Postfork(); err != nil {
		t.Fatalf("Postfork failed: %v", err)
	}
	if !c.Initialized() {
		t.Error("Expected client to stay initialized across Postfork")
	}

	_ = svc.Store.UpsertFlag(context.Background(), flagmodel.Flag{Key: "after-fork", Enabled: true, Rollout: 100, Env: "test"})
	waitUntil(t, "update after postfork", func() bool {
		on, err := c.BoolVariation("after-fork", evalctx.New("u"), false)
		return err == nil && on
	})
}

func TestClose_Idempotent(t *testing.T) {
	svc := startFlagService(t, banner)
	c, _ := New(testKey, testConfig(svc.URL))
	waitUntil(t, "initialization", c.Initialized)

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if c.Initialized() {
		t.Error("Expected Initialized to be false after Close")
	}
	on, r, err := c.BoolVariationDetail("web-banner", evalctx.New("u"), false)
	if on || !errors.Is(err, ErrClientClosed) || r.ErrorKind != reason.ErrorClientNotReady {
		t.Errorf("Expected default with ErrClientClosed, got %v %s %v", on, r, err)
	}
	if err := c.Postfork(); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected Postfork after Close to return ErrClientClosed, got %v", err)
	}
}

func TestEvents_FlushDeliversSummary(t *testing.T) {
	svc := startFlagService(t, banner)
	c, _ := New(testKey, testConfig(svc.URL))
	defer c.Close()
	waitUntil(t, "initialization", c.Initialized)

	for i := 0; i < 3; i++ {
		_, _ = c.BoolVariation("web-banner", evalctx.New("u"), false)
	}
	c.Flush()

	waitUntil(t, "events delivered", func() bool { return svc.Dev.EventsReceived() == 1 })
}

func TestEvents_CloseFlushes(t *testing.T) {
	svc := startFlagService(t, banner)
	c, _ := New(testKey, testConfig(svc.URL))
	waitUntil(t, "initialization", c.Initialized)

	_, _ = c.BoolVariation("web-banner", evalctx.New("u"), false)
	_ = c.Close()

	if got := svc.Dev.EventsReceived(); got != 1 {
		t.Errorf("Expected final flush on Close, got %d events", got)
	}
}
