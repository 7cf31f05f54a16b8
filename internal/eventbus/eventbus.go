// Package eventbus implements the live event fan-out of C13: flows,
// findings, and client lifecycle events delivered to authenticated
// subscribers in per-subscriber order. The broadcaster shape generalizes
// the teacher's sseBroker (src/sse.go) from a single concrete event type
// (Capture) to the typed Event envelope the core emits.
package eventbus

import (
	"encoding/json"
	"net/http"
	"sync"
)

// Type identifies the kind of event being broadcast.
type Type string

const (
	TypeHTTPFlow           Type = "http_flow"
	TypeFinding            Type = "finding"
	TypeClientConnected    Type = "client_connected"
	TypeClientDisconnected Type = "client_disconnected"
	TypeTLSHandshakeFailed Type = "tls_handshake_failed"
)

// Event is the broadcast envelope: {event_type, data}.
type Event struct {
	EventType Type `json:"event_type"`
	Data      any  `json:"data"`
}

const subscriberBuffer = 32

// TokenVerifier authenticates a subscription request. Implementations back
// it with whatever bearer-token or API-key scheme the deployment uses.
type TokenVerifier interface {
	Verify(token string) bool
}

// Broker fans events out to subscribers. A send to a subscriber whose
// buffer is full is not retried: the subscriber is dropped so that one
// slow reader cannot stall delivery to the rest.
type Broker struct {
	mu       sync.Mutex
	subs     map[chan Event]struct{}
	verifier TokenVerifier
}

// New constructs a Broker. verifier may be nil, in which case Subscribe
// never rejects a token (useful for internal/unauthenticated wiring).
func New(verifier TokenVerifier) *Broker {
	return &Broker{
		subs:     make(map[chan Event]struct{}),
		verifier: verifier,
	}
}

// Subscribe registers a new subscriber after verifying token, returning the
// channel to read events from and ok=false if authentication failed.
func (b *Broker) Subscribe(token string) (ch chan Event, ok bool) {
	if b.verifier != nil && !b.verifier.Verify(token) {
		return nil, false
	}
	ch = make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, true
}

// Unsubscribe removes and closes a subscriber channel. Safe to call more
// than once for the same channel.
func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Broadcast delivers ev to every current subscriber. Delivery is
// best-effort and per-subscriber: a subscriber whose buffer is full is
// removed rather than blocking the rest. In-order delivery is guaranteed
// per subscriber but not across subscribers.
func (b *Broker) Broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// ServeHTTP implements an SSE transport over Broker: it authenticates via
// the "token" query parameter, then streams events as they are broadcast
// until the client disconnects.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, ok := b.Subscribe(r.URL.Query().Get("token"))
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	defer b.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	enc := json.NewEncoder(&sseWriter{w: w})
	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			w.Write([]byte("data: "))
			if err := enc.Encode(ev); err != nil {
				return
			}
			w.Write([]byte("\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// sseWriter adapts json.Encoder's newline-terminated output onto the
// http.ResponseWriter without introducing an intermediate buffer copy.
type sseWriter struct{ w http.ResponseWriter }

func (s *sseWriter) Write(p []byte) (int, error) { return s.w.Write(p) }
