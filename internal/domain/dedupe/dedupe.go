// Package dedupe remembers recently submitted session IDs so a repeated
// "session completed" trigger is answered without touching the store.
package dedupe

import (
	"context"
	"sync"
)

const defaultMaxSize = 50000

// Deduper records seen session IDs.
type Deduper interface {
	// SeenAndRecord atomically checks whether id was seen and records it if
	// not. It returns true for a repeat.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a submission that could not be accepted (for
	// example on queue backpressure) can be retried.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// ring is a bounded Deduper: once full, recording a new id forgets the
// oldest one. A maxSize <= 0 keeps every id.
type ring struct {
	mu      sync.Mutex
	slots   []string
	next    int
	index   map[string]int
	maxSize int
}

// NewInMemoryDeduper returns a bounded in-memory Deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &ring{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.index = make(map[string]int)
	if d.maxSize > 0 {
		d.slots = make([]string, d.maxSize)
	}
	return d
}

// SeenAndRecord implements Deduper.
func (d *ring) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.index[id]; ok {
		return true
	}
	if d.maxSize <= 0 {
		d.index[id] = -1
		return false
	}

	if old := d.slots[d.next]; old != "" {
		delete(d.index, old)
	}
	d.slots[d.next] = id
	d.index[id] = d.next
	d.next = (d.next + 1) % d.maxSize
	return false
}

// Unrecord implements Deduper.
func (d *ring) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.index[id]
	if !ok {
		return
	}
	delete(d.index, id)
	if slot >= 0 {
		d.slots[slot] = ""
	}
}

// Size implements Deduper.
func (d *ring) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.index))
}
