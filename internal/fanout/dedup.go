package fanout

import (
	"sync"

	"chatrelay/internal/envelope"
	"chatrelay/internal/metrics"
)

// Dedup remembers the last N envelope ids it has seen and wraps handlers
// so a redelivered envelope is handled once.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

func NewDedup(size int) *Dedup {
	if size <= 0 {
		size = 1024
	}
	return &Dedup{seen: make(map[string]struct{}, size), ring: make([]string, size)}
}

// First reports whether id has not been seen within the window, and
// records it.
func (d *Dedup) First(id string) bool {
	if id == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return false
	}
	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = id
	d.seen[id] = struct{}{}
	d.next = (d.next + 1) % len(d.ring)
	return true
}

func (d *Dedup) Wrap(h Handler) Handler {
	return func(env envelope.Envelope) {
		if !d.First(env.ID) {
			metrics.FanoutDuplicatesTotal.Inc()
			return
		}
		h(env)
	}
}
