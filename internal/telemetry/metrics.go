// Package telemetry holds the Prometheus collectors shared by the web app, the
// flag SDK and the local flag service.
package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// FlagEvaluations counts evaluations by reason kind. Flag keys arrive from
	// request paths, so they are not used as labels.
	FlagEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flag_evaluations_total",
			Help: "Flag evaluations served, by reason kind",
		},
		[]string{"reason"},
	)
	// ClientState is 1 for the current lifecycle state of the flag client, 0 otherwise.
	ClientState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flag_client_state",
			Help: "Lifecycle state of the flag client",
		},
		[]string{"state"},
	)
	// DataSourceUpdates counts snapshots applied to the SDK store, by source kind.
	DataSourceUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flag_datasource_updates_total",
			Help: "Flag snapshots applied to the local store",
		},
		[]string{"source"},
	)
	// EventFlushes counts analytics flushes by outcome (ok, error, dropped).
	EventFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flag_event_flushes_total",
			Help: "Analytics event flushes by outcome",
		},
		[]string{"result"},
	)

	SSEClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sse_clients",
		Help: "Number of currently connected SSE clients",
	})
	SnapshotFlags = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snapshot_flags",
		Help: "Number of flags currently in the in-memory snapshot",
	})

	initOnce sync.Once
)

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpReqs, httpDur, FlagEvaluations, ClientState,
			DataSourceUpdates, EventFlushes, SSEClients, SnapshotFlags)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetClientState marks state as the only active lifecycle state.
func SetClientState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		ClientState.WithLabelValues(s).Set(v)
	}
}

// unmatchedRoute labels requests no route pattern matched.
const unmatchedRoute = "unmatched"

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		// the pattern is only complete once routing has finished
		route := unmatchedRoute
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
