package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/cafecursor/cafecursor/internal/cards"
	"github.com/cafecursor/cafecursor/internal/changefeed"
)

type frameResult struct {
	frame changefeed.Frame
	err   error
}

func readFrames(decoder *changefeed.Decoder) <-chan frameResult {
	results := make(chan frameResult, 8)
	go func() {
		defer close(results)
		for {
			frame, err := decoder.Next()
			results <- frameResult{frame: frame, err: err}
			if err != nil {
				return
			}
		}
	}()
	return results
}

func nextFrame(t *testing.T, results <-chan frameResult, name string) changefeed.Frame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", name)
		case result, ok := <-results:
			if !ok || result.err != nil {
				t.Fatalf("stream ended before %s frame: %v", name, result.err)
			}
			if result.frame.Name == name {
				return result.frame
			}
		}
	}
}

func TestStreamEmitsCardChangeEvents(t *testing.T) {
	fixture := newAPIFixture(t, fixtureOptions{heartbeat: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, fixture.server.URL+"/cards/stream", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() { _ = response.Body.Close() })
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", response.StatusCode)
	}
	if response.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type %q", response.Header.Get("Content-Type"))
	}

	frames := readFrames(changefeed.NewDecoder(response.Body))
	nextFrame(t, frames, changefeed.EventReady)
	nextFrame(t, frames, changefeed.EventHeartbeat)

	status, body := fixture.do(t, http.MethodPost, "/cards", fixture.token(t, "user-ana"), cardPayload("ana"))
	if status != http.StatusCreated {
		t.Fatalf("expected create to succeed, got %d %+v", status, body)
	}

	frame := nextFrame(t, frames, changefeed.EventCardChange)
	event, err := changefeed.DecodeEvent(frame)
	if err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if event.Type != cards.ChangeInsert || event.Record == nil || event.Record.OwnerID != "user-ana" {
		t.Fatalf("unexpected change event %+v", event)
	}
	if !event.Record.Complete() {
		t.Fatalf("expected inserted record to be complete")
	}
}
