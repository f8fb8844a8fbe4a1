package nostr

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// KindRelayList is the NIP-65 relay list metadata kind
const KindRelayList = 10002

// RelayHint is one relay entry of a pubkey's relay list
type RelayHint struct {
	Pubkey    string
	Relay     string
	CanRead   bool // inbox
	CanWrite  bool // outbox
	Freshness int64
}

// ParseRelayHints extracts relay hints from a NIP-65 kind 10002 event
func ParseRelayHints(event *nostr.Event) ([]RelayHint, error) {
	if event.Kind != KindRelayList {
		return nil, fmt.Errorf("expected kind %d, got %d", KindRelayList, event.Kind)
	}

	hints := make([]RelayHint, 0, len(event.Tags))

	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}

		relay := strings.TrimSpace(tag[1])
		if !ValidateRelayURL(relay) {
			continue
		}
		relay = nostr.NormalizeURL(relay)

		hint := RelayHint{
			Pubkey:    event.PubKey,
			Relay:     relay,
			CanRead:   true,
			CanWrite:  true,
			Freshness: int64(event.CreatedAt),
		}

		if len(tag) >= 3 {
			switch strings.ToLower(tag[2]) {
			case "read":
				hint.CanWrite = false
			case "write":
				hint.CanRead = false
			}
		}

		hints = append(hints, hint)
	}

	return hints, nil
}

// ValidateRelayURL performs basic validation on a relay URL
func ValidateRelayURL(url string) bool {
	return nostr.IsValidRelayURL(url)
}
