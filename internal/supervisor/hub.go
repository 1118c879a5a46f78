package supervisor

import (
	"encoding/json"
	"sync"
)

const subscriberBuffer = 256

// Hub fans out JSON-encodable events to every attached subscriber. Unlike
// the teacher's SSEHub, which silently drops one message when a
// subscriber's channel is full, Hub drops the whole subscriber on
// overflow — the client is expected to reconnect and catch up via a
// fresh `attach`, per the control-plane contract.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}
}

// NewHub returns an empty event hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

// Subscribe registers a new subscriber and returns its channel.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Idempotent.
func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// PublishJSON marshals v and fans it out to every subscriber. A
// subscriber whose channel is full is dropped (unsubscribed and closed)
// rather than having this single message silently skipped — a stalled
// consumer reconnects and resumes from a fresh snapshot instead of
// silently missing an unbounded number of events forever.
func (h *Hub) PublishJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- b:
		default:
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Count returns the current subscriber count (for `stats`).
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
