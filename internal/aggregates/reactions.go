package aggregates

import (
	"github.com/nbd-wtf/go-nostr"
)

// Reaction is a parsed kind 7 event
type Reaction struct {
	TargetEventID string
	Sender        string
	Content       string
}

// IsLike returns false only for an explicit dislike
func (r Reaction) IsLike() bool {
	return r.Content != "-"
}

// ParseReaction extracts the reacted-to event. The last "e" tag is the target.
func ParseReaction(event *nostr.Event) (Reaction, bool) {
	if event == nil || event.Kind != KindReaction {
		return Reaction{}, false
	}

	r := Reaction{Sender: event.PubKey, Content: event.Content}
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "e" && tag[1] != "" {
			r.TargetEventID = tag[1]
		}
	}
	if r.TargetEventID == "" {
		return Reaction{}, false
	}

	// Default like
	if r.Content == "" {
		r.Content = "+"
	}
	return r, true
}
