// Package metadata resolves author profiles (kind 0) for the thread's participants.
package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"github.com/sandwichfarm/zapthreads/internal/ops"
	"github.com/sandwichfarm/zapthreads/internal/store"
)

// Profile is the subset of kind-0 metadata the thread view needs
type Profile struct {
	Pubkey    string `json:"pubkey"`
	Name      string `json:"name"`
	Picture   string `json:"picture"`
	Nip05     string `json:"nip05,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Resolver turns a set of pubkeys into profiles. Pubkeys without a known
// profile are simply absent from the result.
type Resolver interface {
	Resolve(ctx context.Context, pubkeys []string) ([]Profile, error)
}

// Fetcher queries relays for events
type Fetcher interface {
	FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error)
}

// ParseProfile extracts a Profile from a kind-0 event.
// Name priority: display_name > name > nip05.
func ParseProfile(event *nostr.Event) (Profile, bool) {
	if event == nil || event.Kind != nostr.KindProfileMetadata || !gjson.Valid(event.Content) {
		return Profile{}, false
	}

	fields := gjson.GetMany(event.Content, "display_name", "displayName", "name", "nip05", "picture", "image")

	p := Profile{
		Pubkey:    event.PubKey,
		Nip05:     fields[3].String(),
		CreatedAt: int64(event.CreatedAt),
	}
	for _, f := range fields[:4] {
		if s := f.String(); s != "" {
			p.Name = s
			break
		}
	}
	for _, f := range fields[4:] {
		if s := f.String(); s != "" {
			p.Picture = s
			break
		}
	}
	return p, true
}

// RelayResolver fetches kind-0 events from relays, consulting a cache first
type RelayResolver struct {
	fetcher Fetcher
	relays  []string
	cache   Cache
	logger  *ops.Logger
}

// NewRelayResolver creates a resolver. cache may be nil.
func NewRelayResolver(fetcher Fetcher, relays []string, cache Cache, logger *ops.Logger) *RelayResolver {
	if cache == nil {
		cache = NoCache{}
	}
	if logger == nil {
		logger = ops.Default()
	}
	return &RelayResolver{
		fetcher: fetcher,
		relays:  relays,
		cache:   cache,
		logger:  logger.WithComponent("metadata"),
	}
}

// Resolve returns the newest known profile for each pubkey
func (r *RelayResolver) Resolve(ctx context.Context, pubkeys []string) ([]Profile, error) {
	start := time.Now()
	pubkeys = lo.Uniq(lo.Filter(pubkeys, func(pk string, _ int) bool { return pk != "" }))

	profiles := make([]Profile, 0, len(pubkeys))
	misses := make([]string, 0, len(pubkeys))
	for _, pk := range pubkeys {
		p, ok, err := r.cache.Get(ctx, pk)
		if err != nil {
			r.logger.Warn("cache read failed", "pubkey", pk, "error", err)
		}
		r.logger.LogCacheOperation("get", pk, ok)
		if ok {
			profiles = append(profiles, p)
			continue
		}
		misses = append(misses, pk)
	}

	if len(misses) == 0 {
		return profiles, nil
	}

	events, err := r.fetcher.FetchEvents(ctx, r.relays, nostr.Filter{
		Authors: misses,
		Kinds:   []int{nostr.KindProfileMetadata},
	})
	if err != nil {
		err = fmt.Errorf("fetch profiles: %w", err)
		r.logger.LogMetadataFetch(len(misses), 0, time.Since(start), err)
		return profiles, err
	}

	newest := Newest(events)
	for _, pk := range misses {
		p, ok := newest[pk]
		if !ok {
			continue
		}
		if err := r.cache.Set(ctx, p); err != nil {
			r.logger.Warn("cache write failed", "pubkey", pk, "error", err)
		}
		profiles = append(profiles, p)
	}

	r.logger.LogMetadataFetch(len(misses), len(newest), time.Since(start), nil)
	return profiles, nil
}

// Newest keeps the most recent parseable profile per author
func Newest(events []*nostr.Event) map[string]Profile {
	out := make(map[string]Profile)
	for _, evt := range events {
		p, ok := ParseProfile(evt)
		if !ok {
			continue
		}
		if cur, seen := out[p.Pubkey]; seen && cur.CreatedAt >= p.CreatedAt {
			continue
		}
		out[p.Pubkey] = p
	}
	return out
}

// Apply merges resolved profiles into the user store
func Apply(users *store.Users, profiles []Profile) {
	for _, p := range profiles {
		users.MergeProfile(p.Pubkey, p.Name, p.Picture, p.CreatedAt)
	}
}
