package api

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdtaxnav/navigator/bus"
	"github.com/mdtaxnav/navigator/logging"
	"go.uber.org/zap"
)

// DefaultHeartbeatInterval keeps idle SSE connections alive through
// proxies that close quiet streams.
const DefaultHeartbeatInterval = 30 * time.Second

// clientBufferSize is the per-connection event buffer. A client that
// falls this far behind starts dropping events.
const clientBufferSize = 100

// EventStream fans submission lifecycle events from the message bus out
// to connected SSE clients. Dashboards subscribe once and watch
// submissions move through the queue live instead of polling the list
// endpoints.
type EventStream struct {
	mbus   bus.MessageBus
	logger *logging.Logger

	running atomic.Bool
	subs    []bus.Subscription
	wg      sync.WaitGroup
	done    chan struct{}

	clients   map[string]chan []byte
	clientsMu sync.RWMutex
}

// NewEventStream creates a stream over the given bus. Call Start before
// mounting HandleSSE.
func NewEventStream(mbus bus.MessageBus, logger *logging.Logger) *EventStream {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &EventStream{
		mbus:    mbus,
		logger:  logger.WithComponent("api.events"),
		done:    make(chan struct{}),
		clients: make(map[string]chan []byte),
	}
}

// Start subscribes to every lifecycle subject. The memory bus matches
// subjects exactly, so each subject gets its own subscription.
func (es *EventStream) Start() error {
	if !es.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	for _, subject := range bus.LifecycleSubjects() {
		sub, err := es.mbus.Subscribe(subject)
		if err != nil {
			es.stopSubs()
			es.running.Store(false)
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		es.subs = append(es.subs, sub)

		es.wg.Add(1)
		go es.consume(sub)
	}
	return nil
}

// Stop unsubscribes from the bus and disconnects all clients.
func (es *EventStream) Stop() error {
	if !es.running.CompareAndSwap(true, false) {
		return ErrNotStarted
	}
	close(es.done)
	es.stopSubs()
	es.wg.Wait()

	es.clientsMu.Lock()
	for id, ch := range es.clients {
		close(ch)
		delete(es.clients, id)
	}
	es.clientsMu.Unlock()
	return nil
}

func (es *EventStream) stopSubs() {
	for _, sub := range es.subs {
		_ = sub.Unsubscribe()
	}
	es.subs = nil
}

// consume relays one subscription's messages to every connected client.
// Unsubscribe closes the channel, which ends the loop.
func (es *EventStream) consume(sub bus.Subscription) {
	defer es.wg.Done()
	for msg := range sub.Messages() {
		es.broadcast(msg.Data)
	}
}

// broadcast delivers raw event JSON to all clients. Slow clients drop
// events rather than stall the stream.
func (es *EventStream) broadcast(data []byte) {
	es.clientsMu.RLock()
	defer es.clientsMu.RUnlock()

	for _, ch := range es.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

// HandleSSE serves a text/event-stream connection. Each lifecycle event
// arrives as a "data:" line holding the bus.Event JSON.
func (es *EventStream) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Flush headers immediately to establish the stream.
	flusher.Flush()

	clientID := fmt.Sprintf("%p", r)
	clientCh := make(chan []byte, clientBufferSize)

	es.clientsMu.Lock()
	es.clients[clientID] = clientCh
	es.clientsMu.Unlock()

	defer func() {
		es.clientsMu.Lock()
		delete(es.clients, clientID)
		es.clientsMu.Unlock()
	}()

	es.logger.Debug("sse client connected", zap.String("client", clientID))

	ticker := time.NewTicker(DefaultHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-es.done:
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case data, ok := <-clientCh:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// clientCount reports connected clients, for tests.
func (es *EventStream) clientCount() int {
	es.clientsMu.RLock()
	defer es.clientsMu.RUnlock()
	return len(es.clients)
}
