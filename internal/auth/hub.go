package auth

import (
	"sync"
)

// Event kinds the hub can broadcast.
const (
	EventAuthChanged = "auth_changed"
	EventOnline      = "online"
	EventOffline     = "offline"
)

// Event is delivered synchronously to every subscriber of its kind.
type Event struct {
	Kind          string
	Authenticated bool
}

// Handler receives events for the kind it subscribed to.
type Handler func(Event)

// Hub is an explicit subscription registry replacing ambient global
// listeners: consumers register and unregister deterministically.
type Hub struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
}

func NewHub() *Hub {
	return &Hub{handlers: make(map[string]map[int]Handler)}
}

// Subscribe registers fn for events of the given kind and returns an
// unsubscription token.
func (h *Hub) Subscribe(kind string, fn Handler) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	if h.handlers[kind] == nil {
		h.handlers[kind] = make(map[int]Handler)
	}
	h.handlers[kind][h.nextID] = fn
	return h.nextID
}

// Unsubscribe removes a previously registered handler. Unknown tokens are
// ignored.
func (h *Hub) Unsubscribe(token int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.handlers {
		delete(m, token)
	}
}

// Publish delivers ev to every handler subscribed to its kind.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	fns := make([]Handler, 0, len(h.handlers[ev.Kind]))
	for _, fn := range h.handlers[ev.Kind] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
