package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mdtaxnav/navigator/bus"
)

func startEventStream(t *testing.T) (*EventStream, *bus.MemoryBus) {
	t.Helper()

	mbus := bus.NewMemoryBus(bus.DefaultConfig())
	t.Cleanup(func() { mbus.Close() })

	es := NewEventStream(mbus, nil)
	if err := es.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { es.Stop() })
	return es, mbus
}

// connectSSE opens a streaming connection to the handler and returns a
// channel of decoded events.
func connectSSE(t *testing.T, es *EventStream) <-chan bus.Event {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(es.HandleSSE))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	events := make(chan bus.Event, 16)
	go func() {
		defer resp.Body.Close()
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var e bus.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
				continue
			}
			events <- e
		}
	}()

	// Give the handler a moment to register the client before tests
	// publish.
	deadline := time.Now().Add(3 * time.Second)
	for es.clientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sse client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return events
}

func TestEventStreamDeliversLifecycleEvents(t *testing.T) {
	es, mbus := startEventStream(t)
	events := connectSSE(t, es)

	want := bus.Event{
		Type:         bus.EventSubmissionTransmitted,
		SubmissionID: "sub-1",
		ReturnID:     "ret-1",
		Gateway:      "mef",
		Receipt:      "mef-0042",
	}
	if err := bus.PublishEvent(mbus, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-events:
		if got.Type != want.Type || got.SubmissionID != want.SubmissionID || got.Receipt != want.Receipt {
			t.Errorf("event = %+v, want %+v", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received over SSE")
	}
}

func TestEventStreamMultipleSubjects(t *testing.T) {
	es, mbus := startEventStream(t)
	events := connectSSE(t, es)

	published := []bus.EventType{
		bus.EventSubmissionAccepted,
		bus.EventSubmissionDead,
		bus.EventGatewayDegraded,
	}
	for _, typ := range published {
		if err := bus.PublishEvent(mbus, bus.Event{Type: typ, SubmissionID: "sub-1"}); err != nil {
			t.Fatalf("publish %s: %v", typ, err)
		}
	}

	seen := make(map[bus.EventType]bool)
	timeout := time.After(3 * time.Second)
	for len(seen) < len(published) {
		select {
		case e := <-events:
			seen[e.Type] = true
		case <-timeout:
			t.Fatalf("saw %d of %d event types: %v", len(seen), len(published), seen)
		}
	}
}

func TestEventStreamStartStop(t *testing.T) {
	mbus := bus.NewMemoryBus(bus.DefaultConfig())
	defer mbus.Close()

	es := NewEventStream(mbus, nil)
	if err := es.Stop(); err != ErrNotStarted {
		t.Fatalf("stop before start: %v, want ErrNotStarted", err)
	}
	if err := es.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := es.Start(); err != ErrAlreadyStarted {
		t.Fatalf("second start: %v, want ErrAlreadyStarted", err)
	}
	if err := es.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestEventStreamStopDisconnectsClients(t *testing.T) {
	mbus := bus.NewMemoryBus(bus.DefaultConfig())
	defer mbus.Close()

	es := NewEventStream(mbus, nil)
	if err := es.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	events := connectSSE(t, es)
	if err := es.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case _, ok := <-events:
		if ok {
			return // drained a buffered event; channel close follows
		}
	case <-time.After(3 * time.Second):
		t.Fatal("client connection not closed on stop")
	}
}
