package routes

import (
	"sync"
)

// Entry is the forwarding descriptor for one PathMatcher.
type Entry struct {
	Target       string `json:"target"`
	ChangeOrigin bool   `json:"changeOrigin"`
	// Secure is nil unless overridden; nil means TLS verification is on.
	Secure *bool `json:"secure,omitempty"`
}

// InsecureSkipVerify reports whether TLS verification against Target is disabled.
func (e Entry) InsecureSkipVerify() bool {
	return e.Secure != nil && !*e.Secure
}

func (e Entry) clone() Entry {
	if e.Secure != nil {
		s := *e.Secure
		e.Secure = &s
	}
	return e
}

// EventType identifies the kind of table mutation.
type EventType int

const (
	EventInstalled EventType = iota
	EventRetargeted
)

func (t EventType) String() string {
	switch t {
	case EventInstalled:
		return "install"
	case EventRetargeted:
		return "retarget"
	default:
		return "unknown"
	}
}

// Event represents a table mutation notification.
type Event struct {
	Type   EventType
	Target string // Populated for Retargeted
	Routes []Route
}

// Route is one key/entry pair of a snapshot.
type Route struct {
	Path  PathMatcher `json:"path"`
	Entry Entry       `json:"entry"`
}

// ActiveTarget reports the first route's target. After a retarget every
// route shares it.
func ActiveTarget(rs []Route) string {
	if len(rs) == 0 {
		return ""
	}
	return rs[0].Entry.Target
}

// ActiveTarget returns the event's target, falling back to the routes it carries.
func (e Event) ActiveTarget() string {
	if e.Target != "" {
		return e.Target
	}
	return ActiveTarget(e.Routes)
}

// Table is the concurrency-safe mapping from PathMatcher to Entry consulted by
// the forwarding layer. Keys keep the order in which they were installed.
type Table struct {
	mu      sync.RWMutex
	order   []PathMatcher
	entries map[PathMatcher]Entry
	subs    map[chan Event]struct{}
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{
		entries: make(map[PathMatcher]Entry),
		subs:    make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel receiving an event for every mutation.
// Sends are non-blocking; slow subscribers miss events.
func (t *Table) Subscribe() <-chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Event, 64)
	t.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (t *Table) Unsubscribe(ch <-chan Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for existing := range t.subs {
		if (<-chan Event)(existing) == ch {
			delete(t.subs, existing)
			close(existing)
			return
		}
	}
}

// publishLocked fans out evt. Callers must hold t.mu.
func (t *Table) publishLocked(evt Event) {
	for ch := range t.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Replace swaps the whole table content for entries, keyed in the given order.
// Keys in order without an entry are skipped.
func (t *Table) Replace(order []PathMatcher, entries map[PathMatcher]Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.order = make([]PathMatcher, 0, len(order))
	t.entries = make(map[PathMatcher]Entry, len(entries))
	for _, k := range order {
		e, ok := entries[k]
		if !ok {
			continue
		}
		if _, dup := t.entries[k]; dup {
			continue
		}
		t.order = append(t.order, k)
		t.entries[k] = e.clone()
	}
	t.publishLocked(Event{Type: EventInstalled, Routes: t.snapshotLocked()})
}

// Get returns the entry for key.
func (t *Table) Get(key PathMatcher) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Keys returns the table keys in installation order.
func (t *Table) Keys() []PathMatcher {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PathMatcher, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Snapshot returns a copy of all routes in installation order.
func (t *Table) Snapshot() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Table) snapshotLocked() []Route {
	out := make([]Route, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, Route{Path: k, Entry: t.entries[k].clone()})
	}
	return out
}

// Retarget applies fn to the entry of every key in keys that exists in the
// table, all within one critical section. When notify is set an
// EventRetargeted carrying target is published. It returns the number of
// entries updated.
func (t *Table) Retarget(keys []PathMatcher, target string, notify bool, fn func(*Entry)) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, k := range keys {
		e, ok := t.entries[k]
		if !ok {
			continue
		}
		fn(&e)
		t.entries[k] = e
		n++
	}
	if notify && n > 0 {
		t.publishLocked(Event{Type: EventRetargeted, Target: target, Routes: t.snapshotLocked()})
	}
	return n
}
