// Package prebuffer implements the Pre-buffer: a bounded per-stream ring
// of recent packet references used by event-triggered recordings. No
// ring-buffer library appears in the retrieved example fleet, so this is a
// small hand-rolled stdlib type — a deliberate, justified component (see
// DESIGN.md). There is exactly one writer (the owning Stream Thread) and
// arbitrarily many readers; readers must not mutate.
package prebuffer

import (
	"sync"
	"time"

	"nvrpipe/pkg/packet"
)

// Entry is a Pre-buffer Entry: a packet reference, its stream descriptor,
// and the monotonic arrival time it was inserted.
type Entry struct {
	Packet     *packet.Packet
	Descriptor *packet.Descriptor
	ArrivedAt  time.Time
}

// Ring is a bounded, overwrite-on-full ring buffer of Entry.
type Ring struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	next     int // insertion cursor
	size     int // number of valid entries
}

// New creates a Ring with the given fixed capacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Add inserts pkt, releasing the evicted entry's packet reference (if the
// ring was full) and taking ownership of a reference to pkt for the
// duration it stays in the ring. Callers pass a Clone, not their own
// working reference.
func (r *Ring) Add(pkt *packet.Packet, desc *packet.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := r.entries[r.next]
	r.entries[r.next] = Entry{Packet: pkt, Descriptor: desc, ArrivedAt: time.Now()}
	r.next = (r.next + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	} else if evicted.Packet != nil {
		evicted.Packet.Release()
	}
}

// Snapshot returns a copy of the ring's current contents in insertion
// order (oldest first), for event-triggered recording consumers. The
// returned packets are not cloned; readers must not call Release on them —
// the ring retains ownership until eviction.
func (r *Ring) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, r.size)
	if r.size < r.capacity {
		out = append(out, r.entries[:r.size]...)
		return out
	}
	// Full ring: oldest entry is at r.next (next write slot).
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

// Len returns the number of valid entries currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Close releases every remaining packet reference the ring owns. Callers
// must not use the Ring afterward.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].Packet != nil {
			r.entries[i].Packet.Release()
			r.entries[i].Packet = nil
		}
	}
	r.size = 0
}
