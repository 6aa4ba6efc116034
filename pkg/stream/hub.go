package stream

import (
	"encoding/json"
	"sync"
	"time"
)

// defaultBuffer bounds a subscriber that asked for no explicit buffer.
const defaultBuffer = 32

// Event is one item on the live change feed. Data holds the already
// marshaled payload so the websocket relay and the kafka mirror ship
// identical bytes.
type Event struct {
	Type string          `json:"type"`
	At   string          `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent stamps the event with the current UTC time. A nil payload
// leaves Data empty.
func NewEvent(eventType string, data interface{}) Event {
	evt := Event{Type: eventType, At: time.Now().UTC().Format(time.RFC3339Nano)}
	if data != nil {
		evt.Data, _ = json.Marshal(data)
	}
	return evt
}

// Hub fans mutation events out to websocket subscribers. Delivery is best
// effort: a subscriber that cannot keep up loses events instead of
// blocking the request that published them.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new listener. The returned channel must be handed
// back to Unsubscribe when the listener goes away.
func (h *Hub) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the listener and closes its channel. Calling it
// again with the same channel is a no-op.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; !ok {
		return
	}
	delete(h.subs, ch)
	close(ch)
}

// Publish offers the event to every subscriber without blocking. Full
// subscriber buffers drop the event. The read lock keeps Unsubscribe from
// closing a channel mid-send.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
