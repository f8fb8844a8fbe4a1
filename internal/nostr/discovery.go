package nostr

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"

	"github.com/sandwichfarm/zapthreads/internal/ops"
)

// Fetcher queries relays once
type Fetcher interface {
	FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error)
}

// Discovery keeps NIP-65 relay lists of the pubkeys a session talks to
type Discovery struct {
	fetcher Fetcher
	logger  *ops.Logger

	hints   *xsync.MapOf[string, []RelayHint]
	fetched *xsync.MapOf[string, time.Time]
	maxAge  time.Duration
	now     func() time.Time
}

// NewDiscovery creates a discovery instance. Relay lists older than maxAge
// are fetched again; zero keeps them for the life of the process.
func NewDiscovery(fetcher Fetcher, maxAge time.Duration, logger *ops.Logger) *Discovery {
	if logger == nil {
		logger = ops.Default()
	}
	return &Discovery{
		fetcher: fetcher,
		logger:  logger.WithComponent("discovery"),
		hints:   xsync.NewMapOf[string, []RelayHint](),
		fetched: xsync.NewMapOf[string, time.Time](),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Discover fetches the relay lists of pubkeys not seen recently
func (d *Discovery) Discover(ctx context.Context, pubkeys []string, searchRelays []string) error {
	if len(searchRelays) == 0 {
		return fmt.Errorf("no relays provided for discovery")
	}

	stale := lo.Filter(lo.Uniq(pubkeys), func(pk string, _ int) bool {
		if pk == "" {
			return false
		}
		at, ok := d.fetched.Load(pk)
		return !ok || (d.maxAge > 0 && d.now().Sub(at) > d.maxAge)
	})
	if len(stale) == 0 {
		return nil
	}

	events, err := d.fetcher.FetchEvents(ctx, searchRelays, nostr.Filter{
		Kinds:   []int{KindRelayList},
		Authors: stale,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch relay hints: %w", err)
	}

	now := d.now()
	for _, pk := range stale {
		d.fetched.Store(pk, now)
	}

	for _, event := range events {
		hints, err := ParseRelayHints(event)
		if err != nil {
			continue
		}
		d.Remember(event.PubKey, hints)
	}

	d.logger.Debug("relay lists discovered", "pubkeys", len(stale), "events", len(events))
	return nil
}

// Remember stores hints for pubkey unless newer ones are already known
func (d *Discovery) Remember(pubkey string, hints []RelayHint) {
	if len(hints) == 0 {
		return
	}
	d.hints.Compute(pubkey, func(old []RelayHint, loaded bool) ([]RelayHint, bool) {
		if loaded && len(old) > 0 && old[0].Freshness > hints[0].Freshness {
			return old, false
		}
		return hints, false
	})
}

// OutboxRelays returns where a pubkey publishes, falling back to read relays
func (d *Discovery) OutboxRelays(pubkey string) []string {
	return d.relays(pubkey, func(h RelayHint) bool { return h.CanWrite })
}

// InboxRelays returns where a pubkey receives interactions, falling back to write relays
func (d *Discovery) InboxRelays(pubkey string) []string {
	return d.relays(pubkey, func(h RelayHint) bool { return h.CanRead })
}

func (d *Discovery) relays(pubkey string, want func(RelayHint) bool) []string {
	hints, _ := d.hints.Load(pubkey)

	var preferred, fallback []string
	for _, h := range hints {
		if want(h) {
			preferred = append(preferred, h.Relay)
		} else {
			fallback = append(fallback, h.Relay)
		}
	}
	if len(preferred) > 0 {
		return preferred
	}
	return fallback
}

// Inboxes discovers the given pubkeys and returns the union of their inbox relays
func (d *Discovery) Inboxes(ctx context.Context, pubkeys []string, searchRelays []string) []string {
	if err := d.Discover(ctx, pubkeys, searchRelays); err != nil {
		d.logger.Warn("relay discovery failed", "error", err)
	}

	var out []string
	for _, pk := range lo.Uniq(pubkeys) {
		out = append(out, d.InboxRelays(pk)...)
	}
	return lo.Uniq(out)
}
