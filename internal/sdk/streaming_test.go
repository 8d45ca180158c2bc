package sdk

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestReadEvents(t *testing.T) {
	body := strings.Join([]string{
		"event: init",
		`data: {"etag":"W/\"1\""}`,
		"",
		": ping",
		"",
		"event: update",
		`data: {"etag":"W/\"2\""}`,
		"",
		"data: bare",
		"",
		"",
	}, "\n")

	out := make(chan streamEvent, 8)
	err := readEvents(context.Background(), strings.NewReader(body), out)
	if err == nil {
		t.Fatal("Expected io.EOF at end of body, got nil")
	}
	close(out)

	var got []streamEvent
	for ev := range out {
		got = append(got, ev)
	}
	want := []streamEvent{
		{name: "init", data: `{"etag":"W/\"1\""}`},
		{name: "update", data: `{"etag":"W/\"2\""}`},
		{name: "message", data: "bare"},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(streamEvent{})); diff != "" {
		t.Errorf("readEvents mismatch (-want +got):\n%s", diff)
	}
}

func TestReadEvents_DropsUnterminatedEvent(t *testing.T) {
	body := "event: init\ndata: {}\n\nevent: update\ndata: {\"etag\":\"x\"}\n"

	out := make(chan streamEvent, 4)
	_ = readEvents(context.Background(), strings.NewReader(body), out)
	close(out)

	var got []string
	for ev := range out {
		got = append(got, ev.name)
	}
	if diff := cmp.Diff([]string{"init"}, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestReadEvents_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan streamEvent) // nobody reads
	done := make(chan error, 1)
	go func() {
		done <- readEvents(ctx, strings.NewReader("event: init\ndata: {}\n\n"), out)
	}()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("readEvents did not return after cancel")
	}
}

func TestIsUnrecoverable(t *testing.T) {
	tests := map[int]bool{401: true, 403: true, 404: false, 500: false, 503: false}
	for code, want := range tests {
		if got := isUnrecoverable(&StatusError{Code: code}); got != want {
			t.Errorf("isUnrecoverable(%d) = %v, want %v", code, got, want)
		}
	}
	if isUnrecoverable(context.DeadlineExceeded) {
		t.Error("Expected transport errors to be recoverable")
	}
}
