package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/reflection-judge/internal/domain"
)

const eventStream = ": heartbeat\n\n" +
	"data: {\"type\":\"server.connected\",\"properties\":{}}\n\n" +
	"data: {\"type\":\"session.idle\",\"properties\":{\"sessionID\":\"s1\"}}\n\n" +
	"data: not json\n\n" +
	"event: message\n" +
	"data: {\"type\":\"session.error\",\"properties\":{\"sessionID\":\"s1\",\n" +
	"data: \"error\":{\"name\":\"MessageAbortedError\",\"data\":{\"message\":\"Aborted\"}}}}\n\n"

func sseHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/event" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, eventStream)
}

func TestReadSSE(t *testing.T) {
	t.Parallel()

	var payloads []string
	for payload, err := range readSSE(strings.NewReader("data: a\n\n: comment\n\ndata: b\ndata: c\n\ndata: unterminated")) {
		if err != nil {
			t.Fatalf("readSSE failed: %v", err)
		}
		payloads = append(payloads, payload)
	}
	if len(payloads) != 2 || payloads[0] != "a" || payloads[1] != "b\nc" {
		t.Fatalf("unexpected payloads: %q", payloads)
	}
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	c, rec := newTestClient(t, sseHandler)

	var events []domain.Event
	var streamErr error
	for ev, err := range c.Subscribe(context.Background()) {
		if err != nil {
			streamErr = err
			break
		}
		events = append(events, ev)
	}

	if !errors.Is(streamErr, errStreamClosed) {
		t.Fatalf("expected errStreamClosed, got %v", streamErr)
	}
	if req := rec.last(t); req.Directory != "/work/project" {
		t.Fatalf("expected directory on event request, got %q", req.Directory)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	if events[0].Type != domain.EventSessionIdle || events[0].SessionID != "s1" {
		t.Fatalf("unexpected idle event: %+v", events[0])
	}
	if events[1].Type != domain.EventSessionError || events[1].Error == nil || events[1].Error.Name != "MessageAbortedError" {
		t.Fatalf("unexpected error event: %+v", events[1])
	}
}

func TestSubscribeBadStatus(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	for _, err := range c.Subscribe(context.Background()) {
		if !errors.Is(err, ErrHostStatus) {
			t.Fatalf("expected ErrHostStatus, got %v", err)
		}
		return
	}
	t.Fatal("expected an error from the stream")
}

func TestEventsReportsConnection(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, sseHandler)

	var (
		mu     sync.Mutex
		states []bool
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := c.Events(ctx, func(connected bool) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, connected)
	})

	for i, want := range []domain.EventType{domain.EventSessionIdle, domain.EventSessionError} {
		select {
		case ev := <-events:
			if ev.Type != want {
				t.Fatalf("event %d: expected %s, got %s", i, want, ev.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	cancel()
	for range events {
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || !states[0] {
		t.Fatalf("expected a connected notification first, got %v", states)
	}
}
