package httpserver

import (
	"log"
	"sync"

	"github.com/benslamahafedh/samanthaos1/internal/pipeline"
)

// Hub fans pipeline events out to websocket subscribers. Slow subscribers
// drop events rather than stall the pipeline.
type Hub struct {
	mu   sync.Mutex
	subs map[chan pipeline.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan pipeline.Event]struct{})}
}

// Publish delivers an event to every subscriber without blocking.
func (h *Hub) Publish(ev pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("httpserver: dropping event for slow subscriber")
		}
	}
}

func (h *Hub) subscribe() chan pipeline.Event {
	ch := make(chan pipeline.Event, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan pipeline.Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}
