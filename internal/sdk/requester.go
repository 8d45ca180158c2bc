package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/TimurManjosov/flagship-webdemo/internal/flagmodel"
)

const (
	snapshotPath = "/v1/flags/snapshot"
	streamPath   = "/v1/flags/stream"
	eventsPath   = "/v1/events"

	userAgent = "flagship-go-sdk/1.0"
)

// StatusError is a non-success response from the flag service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Code, e.Body)
}

// isUnrecoverable reports errors that retrying cannot fix: a rejected SDK key.
func isUnrecoverable(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden
}

// requester fetches full snapshots with conditional GETs.
type requester struct {
	baseURI string
	sdkKey  string
	client  *http.Client
}

// fetch returns the snapshot, or notModified=true when etag is still current.
func (r *requester) fetch(ctx context.Context, etag string) (*flagmodel.Snapshot, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURI+snapshotPath, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.sdkKey)
	req.Header.Set("User-Agent", userAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil, true, nil
	case http.StatusOK:
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, false, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var snap flagmodel.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.ETag == "" {
		snap.ETag = resp.Header.Get("ETag")
	}
	return &snap, false, nil
}
