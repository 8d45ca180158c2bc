package sdk

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const maxReconnectDelay = 30 * time.Second

type streamingDataSource struct {
	req       *requester
	streamURI string
	sdkKey    string
	stream    *http.Client
	store     Store
	initDelay time.Duration
	log       zerolog.Logger
	w         *worker
}

// StreamingDataSource subscribes to the flag service's SSE stream and refetches
// the snapshot whenever the advertised ETag differs from the cached one.
func StreamingDataSource(cfg Config, sdkKey string, store Store) (DataSource, error) {
	tr := newTransport()
	return &streamingDataSource{
		req: &requester{
			baseURI: cfg.BaseURI,
			sdkKey:  sdkKey,
			client:  &http.Client{Timeout: cfg.HTTPTimeout, Transport: tr},
		},
		streamURI: cfg.StreamURI,
		sdkKey:    sdkKey,
		// no client timeout: the stream stays open
		stream:    &http.Client{Transport: tr},
		store:     store,
		initDelay: cfg.InitialReconnectDelay,
		log:       cfg.Logger.With().Str("component", "streaming").Logger(),
	}, nil
}

type streamEvent struct {
	name string
	data string
}

func (s *streamingDataSource) Start(ready chan<- struct{}) {
	sig := &signalOnce{ready: ready}
	s.w = startWorker(func(ctx context.Context) {
		defer sig.fire()

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.initDelay
		b.MaxInterval = maxReconnectDelay

		for {
			err := s.connect(ctx, b, sig)
			if ctx.Err() != nil {
				return
			}
			if isUnrecoverable(err) {
				s.log.Error().Err(err).Msg("SDK key rejected; streaming stopped")
				return
			}
			delay := b.NextBackOff()
			if delay == backoff.Stop {
				delay = maxReconnectDelay
			}
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("stream disconnected")

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	})
}

// connect holds one SSE connection open until it fails or ctx ends.
func (s *streamingDataSource) connect(ctx context.Context, b *backoff.ExponentialBackOff, sig *signalOnce) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.streamURI+streamPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.sdkKey)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.stream.Do(req)
	if err != nil {
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	s.log.Debug().Msg("stream connected")

	events := make(chan streamEvent)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readEvents(ctx, resp.Body, events)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err == nil {
				err = io.EOF
			}
			return err
		case ev := <-events:
			if ev.name != "init" && ev.name != "update" {
				continue
			}
			if err := s.apply(ctx, ev.data); err != nil {
				if isUnrecoverable(err) {
					return err
				}
				s.log.Warn().Err(err).Str("event", ev.name).Msg("failed to apply stream event")
				continue
			}
			b.Reset()
			if s.store.Initialized() {
				sig.fire()
			}
		}
	}
}

func (s *streamingDataSource) apply(ctx context.Context, data string) error {
	var payload struct {
		ETag string `json:"etag"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return fmt.Errorf("invalid event payload: %w", err)
	}
	if payload.ETag != "" && payload.ETag == s.store.ETag() {
		return nil
	}
	snap, notModified, err := s.req.fetch(ctx, s.store.ETag())
	if err != nil {
		return err
	}
	if !notModified {
		s.store.Init(snap, "streaming")
		s.log.Debug().Str("etag", snap.ETag).Int("flags", len(snap.Flags)).Msg("snapshot updated")
	}
	return nil
}

// readEvents parses an SSE body into events. Comment lines (heartbeats) are skipped.
func readEvents(ctx context.Context, r io.Reader, out chan<- streamEvent) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	var name string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if name != "" || len(data) > 0 {
				if name == "" {
					name = "message"
				}
				select {
				case out <- streamEvent{name: name, data: strings.Join(data, "\n")}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return io.EOF
}

func (s *streamingDataSource) Close() error {
	s.w.stop()
	s.req.client.CloseIdleConnections()
	return nil
}
