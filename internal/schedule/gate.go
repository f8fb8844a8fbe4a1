// Package schedule coalesces bursts of store mutations into single recomputations.
package schedule

import (
	"sync"
	"time"

	"github.com/bep/debounce"
)

// Gate fires at most once per quiescence window. Every Request bumps the
// requested version and re-arms the timer; when the timer runs out the fire
// function gets the latest requested version, unless that version was
// already materialized or ready reports there is nothing to work on.
type Gate struct {
	debounced func(func())
	ready     func() bool
	fire      func(version uint64)

	mu           sync.Mutex
	requested    uint64
	materialized uint64
	stopped      bool

	// serializes fire so two windows never overlap
	runMu sync.Mutex
}

// NewGate creates a gate with the given quiescence window. ready may be nil.
func NewGate(window time.Duration, ready func() bool, fire func(version uint64)) *Gate {
	return &Gate{
		debounced: debounce.New(window),
		ready:     ready,
		fire:      fire,
	}
}

// Request records a mutation and re-arms the timer
func (g *Gate) Request() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.requested++
	g.mu.Unlock()

	g.debounced(g.run)
}

// Flush fires immediately if a request is pending
func (g *Gate) Flush() {
	g.run()
}

// Pending reports whether a requested version has not been materialized yet
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requested != g.materialized
}

// Stop drops pending work; requests after Stop are ignored
func (g *Gate) Stop() {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()
}

func (g *Gate) run() {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	g.mu.Lock()
	version := g.requested
	skip := g.stopped || version == g.materialized
	g.mu.Unlock()

	if skip {
		return
	}
	// stays pending so the next request retries
	if g.ready != nil && !g.ready() {
		return
	}

	g.fire(version)

	g.mu.Lock()
	if version > g.materialized {
		g.materialized = version
	}
	g.mu.Unlock()
}
