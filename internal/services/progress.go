package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Progress event types
const (
	EventState      = "state"
	EventScan       = "scan"
	EventSourceDone = "source"
	EventIdle       = "idle"
	EventAlert      = "alert"
)

// ProgressEvent is one entry on the progress channel
type ProgressEvent struct {
	RunID   string                 `json:"run_id,omitempty"`
	Type    string                 `json:"type"`
	State   string                 `json:"state,omitempty"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Time    time.Time              `json:"time"`
}

// ProgressHub fans out progress events to any number of subscribers. Slow
// subscribers lose events rather than blocking the engine.
type ProgressHub struct {
	mu     sync.RWMutex
	subs   map[string]chan ProgressEvent
	last   *ProgressEvent
	buffer int
}

// NewProgressHub creates a hub with the given per-subscriber buffer
func NewProgressHub(buffer int) *ProgressHub {
	if buffer <= 0 {
		buffer = 64
	}
	return &ProgressHub{
		subs:   make(map[string]chan ProgressEvent),
		buffer: buffer,
	}
}

// Publish sends an event to every subscriber without blocking
func (h *ProgressHub) Publish(ev ProgressEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = &ev
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new subscriber
func (h *ProgressHub) Subscribe() (string, <-chan ProgressEvent) {
	id := uuid.NewString()
	ch := make(chan ProgressEvent, h.buffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel
func (h *ProgressHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Last returns the most recent event, if any
func (h *ProgressHub) Last() (ProgressEvent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return ProgressEvent{}, false
	}
	return *h.last, true
}

// Subscribers returns the current subscriber count
func (h *ProgressHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
