// Package store holds the session-scoped event and user stores.
package store

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
)

type entry struct {
	event *nostr.Event
	seq   uint64 // first insertion order, kept across overwrites
}

// Events is an append-only map from event id to event. There is no delete:
// an id once stored stays for the lifetime of the session.
type Events struct {
	entries *xsync.MapOf[string, entry]
	seq     atomic.Uint64
	version atomic.Uint64

	mu        sync.RWMutex
	observers []func()
}

// NewEvents creates an empty event store
func NewEvents() *Events {
	return &Events{
		entries: xsync.NewMapOf[string, entry](),
	}
}

// Put inserts or overwrites an event by id. Events without content are
// rejected and Put reports false; nothing is mutated in that case.
func (s *Events) Put(event *nostr.Event) bool {
	if event == nil || event.Content == "" || event.ID == "" {
		return false
	}

	s.entries.Compute(event.ID, func(old entry, loaded bool) (entry, bool) {
		if loaded {
			return entry{event: event, seq: old.seq}, false
		}
		return entry{event: event, seq: s.seq.Add(1)}, false
	})
	s.version.Add(1)

	s.notify()
	return true
}

// Get returns the event stored under id
func (s *Events) Get(id string) (*nostr.Event, bool) {
	e, ok := s.entries.Load(id)
	if !ok {
		return nil, false
	}
	return e.event, true
}

// Len returns the number of stored events
func (s *Events) Len() int {
	return s.entries.Size()
}

// Version increases on every accepted Put
func (s *Events) Version() uint64 {
	return s.version.Load()
}

// Snapshot returns every stored event in first-insertion order. The returned
// slice is owned by the caller and does not change with later puts.
func (s *Events) Snapshot() []*nostr.Event {
	entries := make([]entry, 0, s.entries.Size())
	s.entries.Range(func(_ string, e entry) bool {
		entries = append(entries, e)
		return true
	})

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	return lo.Map(entries, func(e entry, _ int) *nostr.Event {
		return e.event
	})
}

// Authors returns the distinct pubkeys of all stored events, in first-seen order
func (s *Events) Authors() []string {
	return lo.Uniq(lo.Map(s.Snapshot(), func(e *nostr.Event, _ int) string {
		return e.PubKey
	}))
}

// Observe registers fn to be called after every accepted Put
func (s *Events) Observe(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Events) notify() {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()

	for _, fn := range observers {
		fn()
	}
}
