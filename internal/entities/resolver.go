// Package entities resolves nostr: references (NIP-19) inside comment text
// against what the session already knows.
package entities

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/sandwichfarm/zapthreads/internal/store"
)

// PortalURL is where resolved entities link to
const PortalURL = "https://njump.me/"

// Entity represents a resolved NIP-19 entity
type Entity struct {
	Type         string // "npub", "nprofile", "note", "nevent", "naddr"
	DisplayName  string // Human-readable name
	Link         string // Portal URL
	OriginalText string // Original nostr: string
}

// Resolver handles NIP-19 entity resolution
type Resolver struct {
	users  *store.Users
	events *store.Events
}

// NewResolver creates a resolver over the session stores. Either may be nil.
func NewResolver(users *store.Users, events *store.Events) *Resolver {
	return &Resolver{
		users:  users,
		events: events,
	}
}

// Regular expression to match nostr: URIs
var nostrEntityRegex = regexp.MustCompile(`nostr:(npub1[a-z0-9]+|nprofile1[a-z0-9]+|note1[a-z0-9]+|nevent1[a-z0-9]+|naddr1[a-z0-9]+)`)

// FindEntities finds all NIP-19 entities in text
func (r *Resolver) FindEntities(text string) []string {
	matches := nostrEntityRegex.FindAllString(text, -1)
	entities := make([]string, len(matches))
	for i, match := range matches {
		entities[i] = strings.TrimPrefix(match, "nostr:")
	}
	return entities
}

// ResolveEntity resolves a single NIP-19 entity
func (r *Resolver) ResolveEntity(nip19Entity string) (*Entity, error) {
	prefix, decoded, err := nip19.Decode(nip19Entity)
	if err != nil {
		return nil, fmt.Errorf("failed to decode NIP-19: %w", err)
	}

	entity := &Entity{
		Type:         prefix,
		Link:         PortalURL + nip19Entity,
		OriginalText: "nostr:" + nip19Entity,
	}

	switch prefix {
	case "npub":
		entity.DisplayName = "@" + r.pubkeyName(decoded.(string), nip19Entity)

	case "nprofile":
		entity.DisplayName = "@" + r.pubkeyName(decoded.(nostr.ProfilePointer).PublicKey, nip19Entity)

	case "note":
		entity.DisplayName = r.noteTitle(decoded.(string))

	case "nevent":
		entity.DisplayName = r.noteTitle(decoded.(nostr.EventPointer).ID)

	case "naddr":
		addr := decoded.(nostr.EntityPointer)
		entity.DisplayName = addr.Identifier
		if entity.DisplayName == "" {
			entity.DisplayName = fmt.Sprintf("Article by %s", truncatePubkey(addr.PublicKey))
		}

	default:
		return nil, fmt.Errorf("unsupported NIP-19 type: %s", prefix)
	}

	return entity, nil
}

// pubkeyName is the known profile name, else the shortened reference
func (r *Resolver) pubkeyName(pubkey, reference string) string {
	if r.users != nil {
		if user, ok := r.users.Get(pubkey); ok && user.Name != "" {
			return user.Name
		}
	}
	return truncatePubkey(reference)
}

// noteTitle previews a comment the session holds
func (r *Resolver) noteTitle(eventID string) string {
	if r.events != nil {
		if event, ok := r.events.Get(eventID); ok {
			line, _, _ := strings.Cut(strings.TrimSpace(event.Content), "\n")
			if line != "" {
				return truncate(line, 40)
			}
		}
	}
	return fmt.Sprintf("Note %s...", truncate(eventID, 8))
}

// ReplaceEntities replaces all NIP-19 entities in text with their resolved forms.
// Entities that fail to decode are kept as written.
func (r *Resolver) ReplaceEntities(text string, formatter func(*Entity) string) string {
	return nostrEntityRegex.ReplaceAllStringFunc(text, func(match string) string {
		entity, err := r.ResolveEntity(strings.TrimPrefix(match, "nostr:"))
		if err != nil {
			return match
		}
		return formatter(entity)
	})
}

// Plain formats an entity as its display name
func Plain(e *Entity) string {
	return e.DisplayName
}

// Markdown formats an entity as a link to the portal
func Markdown(e *Entity) string {
	return fmt.Sprintf("[%s](%s)", escapeBrackets(e.DisplayName), e.Link)
}

func escapeBrackets(s string) string {
	return strings.NewReplacer("[", `\[`, "]", `\]`).Replace(s)
}

func truncatePubkey(pubkey string) string {
	if len(pubkey) <= 16 {
		return pubkey
	}
	return pubkey[:8] + "..." + pubkey[len(pubkey)-8:]
}

func truncate(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen-3] + "..."
}
