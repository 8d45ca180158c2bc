package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TimurManjosov/flagship-webdemo/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const payloadIDHeader = "X-Flagship-Payload-ID"

// evaluationEvent is one evaluation to be summarized.
type evaluationEvent struct {
	FlagKey string
	Variant string
	Value   any
	Default any
	Unknown bool // flag was not found
}

type counterKey struct {
	variant string
	value   string
	unknown bool
}

type flagSummary struct {
	def      any
	counters map[counterKey]int
	values   map[counterKey]any
}

// summaryEvent is the wire format posted to /v1/events.
type summaryEvent struct {
	Kind      string                  `json:"kind"`
	StartDate int64                   `json:"startDate"`
	EndDate   int64                   `json:"endDate"`
	Features  map[string]featureEntry `json:"features"`
}

type featureEntry struct {
	Default  any            `json:"default"`
	Counters []counterEntry `json:"counters"`
}

type counterEntry struct {
	Variant string `json:"variant,omitempty"`
	Value   any    `json:"value"`
	Count   int    `json:"count"`
	Unknown bool   `json:"unknown,omitempty"`
}

// eventProcessor batches evaluation events into per-flag summaries and posts
// them on a ticker.
type eventProcessor struct {
	uri    string
	sdkKey string
	client *http.Client
	log    zerolog.Logger

	queue    chan evaluationEvent
	flushReq chan chan struct{}
	done     chan struct{}

	mu     sync.RWMutex // guards send on queue against close
	closed int32

	interval time.Duration
	start    time.Time
	summary  map[string]*flagSummary
}

func newEventProcessor(cfg Config, sdkKey string) *eventProcessor {
	return &eventProcessor{
		uri:      cfg.EventsURI + eventsPath,
		sdkKey:   sdkKey,
		client:   &http.Client{Timeout: cfg.HTTPTimeout, Transport: newTransport()},
		log:      cfg.Logger.With().Str("component", "events").Logger(),
		queue:    make(chan evaluationEvent, cfg.EventCapacity),
		flushReq: make(chan chan struct{}),
		done:     make(chan struct{}),
		interval: cfg.FlushInterval,
		summary:  make(map[string]*flagSummary),
	}
}

func (p *eventProcessor) Start() {
	go p.worker()
}

// record queues an event without blocking. A full queue drops it.
func (p *eventProcessor) record(ev evaluationEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if atomic.LoadInt32(&p.closed) == 1 {
		return
	}
	select {
	case p.queue <- ev:
	default:
		telemetry.EventFlushes.WithLabelValues("dropped").Inc()
		p.log.Warn().Str("flag", ev.FlagKey).Int("capacity", cap(p.queue)).Msg("event queue full, dropping event")
	}
}

// flush asks the worker to send everything summarized so far and waits for it.
func (p *eventProcessor) flush() {
	if atomic.LoadInt32(&p.closed) == 1 {
		return
	}
	ack := make(chan struct{})
	select {
	case p.flushReq <- ack:
		<-ack
	case <-p.done:
	}
}

// Close drains the queue, sends a final summary and stops the worker. Safe to call twice.
func (p *eventProcessor) Close() error {
	p.mu.Lock()
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		p.mu.Unlock()
		return nil
	}
	close(p.queue)
	p.mu.Unlock()
	<-p.done
	p.client.CloseIdleConnections()
	return nil
}

func (p *eventProcessor) worker() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-p.queue:
			if !ok {
				p.send()
				return
			}
			p.add(ev)
		case ack := <-p.flushReq:
			p.drain()
			p.send()
			close(ack)
		case <-ticker.C:
			p.send()
		}
	}
}

// drain moves everything already queued into the summary.
func (p *eventProcessor) drain() {
	for {
		select {
		case ev, ok := <-p.queue:
			if !ok {
				return
			}
			p.add(ev)
		default:
			return
		}
	}
}

func (p *eventProcessor) add(ev evaluationEvent) {
	if len(p.summary) == 0 {
		p.start = time.Now()
	}
	fs, ok := p.summary[ev.FlagKey]
	if !ok {
		fs = &flagSummary{
			def:      ev.Default,
			counters: make(map[counterKey]int),
			values:   make(map[counterKey]any),
		}
		p.summary[ev.FlagKey] = fs
	}
	valueKey, _ := json.Marshal(ev.Value)
	k := counterKey{variant: ev.Variant, value: string(valueKey), unknown: ev.Unknown}
	fs.counters[k]++
	fs.values[k] = ev.Value
}

// buildPayload turns the current summary into its wire form and resets it.
func (p *eventProcessor) buildPayload() []summaryEvent {
	if len(p.summary) == 0 {
		return nil
	}
	out := summaryEvent{
		Kind:      "summary",
		StartDate: p.start.UnixMilli(),
		EndDate:   time.Now().UnixMilli(),
		Features:  make(map[string]featureEntry, len(p.summary)),
	}
	for key, fs := range p.summary {
		entry := featureEntry{Default: fs.def}
		for k, n := range fs.counters {
			entry.Counters = append(entry.Counters, counterEntry{
				Variant: k.variant,
				Value:   fs.values[k],
				Count:   n,
				Unknown: k.unknown,
			})
		}
		sort.Slice(entry.Counters, func(i, j int) bool {
			a, b := entry.Counters[i], entry.Counters[j]
			if a.Variant != b.Variant {
				return a.Variant < b.Variant
			}
			return fmt.Sprint(a.Value) < fmt.Sprint(b.Value)
		})
		out.Features[key] = entry
	}
	p.summary = make(map[string]*flagSummary)
	return []summaryEvent{out}
}

func (p *eventProcessor) send() {
	payload := p.buildPayload()
	if payload == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to marshal event payload")
		return
	}
	payloadID := uuid.New().String()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Second)
		}
		if lastErr = p.post(body, payloadID); lastErr == nil {
			telemetry.EventFlushes.WithLabelValues("ok").Inc()
			return
		}
		if isUnrecoverable(lastErr) {
			break
		}
	}
	telemetry.EventFlushes.WithLabelValues("error").Inc()
	p.log.Warn().Err(lastErr).Str("payload_id", payloadID).Msg("failed to deliver events")
}

func (p *eventProcessor) post(body []byte, payloadID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.uri, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.sdkKey)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(payloadIDHeader, payloadID)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
