// Package debounce implements the per-(platform,group,user) message
// coalescer (C2): consecutive events from the same sender within
// delayMs are buffered and flushed as a single DebounceSnapshot.
//
// Cancellation of a pending timer and installation of its replacement
// must be atomic (I3) — otherwise a reset could race a firing timer and
// double-flush. A single table-wide mutex guards both the map and every
// entry's timer/generation, so stop-and-replace and fire-and-delete can
// never interleave.
package debounce

import (
	"sync"
	"time"

	"github.com/stellarlinkco/myclaw/internal/event"
)

// DefaultDelay is the default coalescing window.
const DefaultDelay = 5 * time.Second

// Snapshot is the unit handed to the orchestrator when a debounce
// window elapses.
type Snapshot struct {
	UserKey   string
	Events    []event.ChatEvent
	LastEvent event.ChatEvent
	Count     int
	FirstAt   time.Time
	LastAt    time.Time
}

type pending struct {
	generation uint64
	events     []event.ChatEvent
	firstAt    time.Time
	lastAt     time.Time
	timer      *time.Timer
}

// Table holds one pending entry per user key.
type Table struct {
	delay time.Duration

	mu      sync.Mutex
	entries map[string]*pending
}

// New creates a Table with the given coalescing delay (DefaultDelay if
// delay <= 0).
func New(delay time.Duration) *Table {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Table{delay: delay, entries: make(map[string]*pending)}
}

// Debounce buffers evt under its UserKey, resetting the flush timer.
// onFlush runs exactly once per buffered burst, once the window elapses
// without a new event for the same key.
func (t *Table) Debounce(evt event.ChatEvent, onFlush func(Snapshot)) {
	key := evt.UserKey()

	t.mu.Lock()
	p, ok := t.entries[key]
	if !ok {
		p = &pending{}
		t.entries[key] = p
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	if len(p.events) == 0 {
		p.firstAt = evt.IngestTime
	}
	p.events = append(p.events, evt)
	p.lastAt = evt.IngestTime
	p.generation++
	gen := p.generation
	delay := t.delay
	p.timer = time.AfterFunc(delay, func() {
		t.fire(key, gen, onFlush)
	})
	t.mu.Unlock()
}

func (t *Table) fire(key string, gen uint64, onFlush func(Snapshot)) {
	t.mu.Lock()
	p, ok := t.entries[key]
	if !ok || gen != p.generation {
		// Superseded by a later reset, or already flushed; this firing
		// is stale (I3/P5): at most one onFlush per generation.
		t.mu.Unlock()
		return
	}
	events := p.events
	snap := Snapshot{
		UserKey:   key,
		Events:    events,
		LastEvent: events[len(events)-1],
		Count:     len(events),
		FirstAt:   p.firstAt,
		LastAt:    p.lastAt,
	}
	delete(t.entries, key)
	t.mu.Unlock()

	onFlush(snap)
}

// Shutdown cancels every pending timer without flushing. Buffered events
// are dropped — the conversation log already retained them via the
// preprocessor (§4.2).
func (t *Table) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, p := range t.entries {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(t.entries, key)
	}
}

// PendingCount returns the number of buffered (not yet flushed) keys —
// a debug-surface accessor.
func (t *Table) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
