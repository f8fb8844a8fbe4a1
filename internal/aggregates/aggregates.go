// Package aggregates tallies likes and zaps received by thread comments.
package aggregates

import (
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapthreads/internal/config"
	"github.com/sandwichfarm/zapthreads/internal/thread"
)

const (
	KindReaction   = nostr.KindReaction
	KindZapReceipt = nostr.KindZap
)

// Counts contains the aggregate data for one event
type Counts struct {
	Replies        int            `json:"replies"`
	Likes          int            `json:"likes"`
	ReactionCounts map[string]int `json:"reactions,omitempty"`
	Zaps           int            `json:"zaps"`
	ZapSats        int64          `json:"zap_sats"`
}

// HasInteractions returns true if the event has any interactions
func (c Counts) HasInteractions() bool {
	return c.Replies > 0 || c.Likes > 0 || c.ZapSats > 0
}

// InteractionScore returns a simple score for sorting by interaction
func (c Counts) InteractionScore() int64 {
	// Weight: 1 point per reply, 1 per like, 0.001 per sat
	return int64(c.Replies+c.Likes) + c.ZapSats/1000
}

// Totals are the thread-wide numbers shown in the header
type Totals struct {
	Comments int   `json:"comments"`
	Likes    int   `json:"likes"`
	Zaps     int   `json:"zaps"`
	ZapSats  int64 `json:"zap_sats"`
}

// Tally accumulates reactions and zap receipts. Disabled features are
// neither counted nor reported.
type Tally struct {
	features config.Features

	mu      sync.RWMutex
	seen    map[string]bool
	byEvent map[string]*Counts
	totals  Totals
}

// NewTally creates an empty tally honoring the feature toggles
func NewTally(features config.Features) *Tally {
	return &Tally{
		features: features,
		seen:     make(map[string]bool),
		byEvent:  make(map[string]*Counts),
	}
}

// Accepts reports whether events of kind are counted
func (t *Tally) Accepts(kind int) bool {
	switch kind {
	case KindReaction:
		return !t.features.DisableLikes
	case KindZapReceipt:
		return !t.features.DisableZaps
	default:
		return false
	}
}

// Add counts an interaction event once. It returns false for duplicates,
// disabled or unusable events.
func (t *Tally) Add(event *nostr.Event) bool {
	if event == nil || !t.Accepts(event.Kind) {
		return false
	}

	var (
		target string
		like   string
		sats   int64
		isLike bool
		isZap  bool
	)
	switch event.Kind {
	case KindReaction:
		r, ok := ParseReaction(event)
		if !ok {
			return false
		}
		target, like, isLike = r.TargetEventID, r.Content, r.IsLike()
		if !isLike {
			like = ""
		}
	case KindZapReceipt:
		info := ParseZap(event)
		target, sats, isZap = info.TargetEventID, info.Amount, true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen[event.ID] {
		return false
	}
	t.seen[event.ID] = true

	c := t.counts(target)
	if isLike {
		c.Likes++
		c.ReactionCounts[like]++
		t.totals.Likes++
	}
	if isZap {
		c.Zaps++
		c.ZapSats += sats
		t.totals.Zaps++
		t.totals.ZapSats += sats
	}
	return true
}

func (t *Tally) counts(id string) *Counts {
	c, ok := t.byEvent[id]
	if !ok {
		c = &Counts{ReactionCounts: make(map[string]int)}
		t.byEvent[id] = c
	}
	return c
}

// For returns the counts for one event
func (t *Tally) For(eventID string) Counts {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.byEvent[eventID]
	if !ok {
		return Counts{}
	}
	out := *c
	out.ReactionCounts = make(map[string]int, len(c.ReactionCounts))
	for k, v := range c.ReactionCounts {
		out.ReactionCounts[k] = v
	}
	return out
}

// Totals returns the thread-wide numbers for a forest of comments
func (t *Tally) Totals(forest thread.Forest) Totals {
	t.mu.RLock()
	totals := t.totals
	t.mu.RUnlock()

	totals.Comments = forest.Len()
	return totals
}

// Annotate returns the counts of every comment in the forest, including
// its number of direct replies
func (t *Tally) Annotate(forest thread.Forest) map[string]Counts {
	out := make(map[string]Counts)
	forest.Walk(func(n *thread.Node, _ int) bool {
		c := t.For(n.Event.ID)
		c.Replies = len(n.Children)
		out[n.Event.ID] = c
		return true
	})
	return out
}
