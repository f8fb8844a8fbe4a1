package anchor

import (
	"context"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/samber/lo"
)

// Reference is the raw anchor string a session is configured with
type Reference struct {
	raw   string
	naddr bool
}

// ParseReference checks the shape of an anchor reference. Anything that is
// not an naddr or an http(s) URL is a configuration error.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "naddr"):
		return Reference{raw: raw, naddr: true}, nil
	case strings.HasPrefix(raw, "http"):
		return Reference{raw: raw}, nil
	default:
		return Reference{}, fmt.Errorf("%w: %q", ErrUnsupportedReference, raw)
	}
}

// IsAddress returns true for naddr references
func (r Reference) IsAddress() bool {
	return r.naddr
}

func (r Reference) String() string {
	return r.raw
}

// Fetcher runs one-shot relay queries
type Fetcher interface {
	FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error)
}

// Resolve turns a reference into an anchor. URLs are looked up on the relays
// as kind 1 events carrying an "r" tag for the URL; naddr is decoded locally.
func Resolve(ctx context.Context, ref Reference, fetcher Fetcher, relays []string) (Anchor, error) {
	if ref.naddr {
		addr, err := FromNaddr(ref.raw)
		if err != nil {
			return nil, err
		}
		return addr, nil
	}

	if ref.raw == "" {
		return nil, ErrUnsupportedReference
	}

	events, err := fetcher.FetchEvents(ctx, relays, nostr.Filter{
		Kinds: []int{nostr.KindTextNote},
		Tags:  nostr.TagMap{"r": []string{ref.raw}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", ref.raw, err)
	}

	ids := lo.Uniq(lo.Map(events, func(e *nostr.Event, _ int) string {
		return e.ID
	}))

	return RootIDs{IDs: ids}, nil
}
