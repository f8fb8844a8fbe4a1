// Package anchor identifies what a comment thread is about.
package anchor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/samber/lo"

	"github.com/sandwichfarm/zapthreads/internal/thread"
)

var (
	// ErrUnsupportedReference is returned for anchor references that are neither naddr nor http(s)
	ErrUnsupportedReference = errors.New("only NIP-19 naddr and URLs are supported")
	// ErrNoRoot is returned when a URL anchor resolved to no root events
	ErrNoRoot = errors.New("anchor has no root event")
)

// Anchor is either RootIDs or Address. The unexported method closes the set.
type Anchor interface {
	anchor()
	// Filter returns the subscription filter for the given kinds
	Filter(kinds ...int) nostr.Filter
	// RootTag returns the root reference new comments carry
	RootTag() (nostr.Tag, error)
	// Matches reports whether a comment belongs to this thread
	Matches(event *nostr.Event) bool
	String() string
}

// RootIDs anchors a thread to the events that referenced a URL
type RootIDs struct {
	IDs []string
}

// Address anchors a thread to an addressable event, "kind:pubkey:identifier"
type Address struct {
	Value string
}

func (RootIDs) anchor() {}
func (Address) anchor() {}

// Filter returns an "#e" filter over the root ids
func (r RootIDs) Filter(kinds ...int) nostr.Filter {
	return nostr.Filter{
		Kinds: kinds,
		Tags:  nostr.TagMap{"e": append([]string(nil), r.IDs...)},
	}
}

// RootTag returns ["e", <first root id>, "", "root"]
func (r RootIDs) RootTag() (nostr.Tag, error) {
	if len(r.IDs) == 0 {
		return nil, ErrNoRoot
	}
	return nostr.Tag{"e", r.IDs[0], "", "root"}, nil
}

// Matches accepts comments whose explicit root is one of the ids, or which
// have no explicit root but reference one of the ids
func (r RootIDs) Matches(event *nostr.Event) bool {
	refs := thread.ParseRefs(event)
	if refs.Root != "" {
		return refs.RootKind == "e" && lo.Contains(r.IDs, refs.Root)
	}
	return lo.SomeBy(refs.References(), func(id string) bool {
		return lo.Contains(r.IDs, id)
	})
}

func (r RootIDs) String() string {
	return fmt.Sprintf("#e:%s", strings.Join(r.IDs, ","))
}

// Filter returns an "#a" filter over the address
func (a Address) Filter(kinds ...int) nostr.Filter {
	return nostr.Filter{
		Kinds: kinds,
		Tags:  nostr.TagMap{"a": []string{a.Value}},
	}
}

// RootTag returns ["a", <address>, "", "root"]
func (a Address) RootTag() (nostr.Tag, error) {
	return nostr.Tag{"a", a.Value, "", "root"}, nil
}

// Matches accepts comments whose explicit root is the address, or which have
// no explicit root but carry an "a" tag for it
func (a Address) Matches(event *nostr.Event) bool {
	refs := thread.ParseRefs(event)
	if refs.Root != "" {
		return refs.RootKind == "a" && refs.Root == a.Value
	}
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "a" && tag[1] == a.Value {
			return true
		}
	}
	return false
}

func (a Address) String() string {
	return "#a:" + a.Value
}

// FromNaddr decodes a NIP-19 naddr into an Address anchor
func FromNaddr(naddr string) (Address, error) {
	prefix, decoded, err := nip19.Decode(naddr)
	if err != nil {
		return Address{}, fmt.Errorf("failed to decode naddr: %w", err)
	}
	if prefix != "naddr" {
		return Address{}, fmt.Errorf("%w: got %s", ErrUnsupportedReference, prefix)
	}

	pointer, ok := decoded.(nostr.EntityPointer)
	if !ok {
		return Address{}, fmt.Errorf("unexpected naddr payload %T", decoded)
	}

	return Address{Value: fmt.Sprintf("%d:%s:%s", pointer.Kind, pointer.PublicKey, pointer.Identifier)}, nil
}
