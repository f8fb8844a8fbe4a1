package thread

import (
	"github.com/nbd-wtf/go-nostr"
)

// Refs holds the thread references carried by a comment's tags
type Refs struct {
	Root     string   // anchor of the whole thread
	RootKind string   // "e" or "a"
	Reply    string   // direct parent comment
	Mentions []string // other referenced events
}

// IsReply returns true if the comment names a parent comment
func (r Refs) IsReply() bool {
	return r.Reply != ""
}

// ParseRefs extracts root and reply references following NIP-10 markers.
// An "e" or "a" tag marked "root" is the root reference; an unmarked "e"
// tag is a legacy root reference; an "e" tag marked "reply" is the parent.
// Malformed tags are skipped, so a broken tag simply means no reference.
func ParseRefs(event *nostr.Event) Refs {
	var refs Refs
	if event == nil {
		return refs
	}

	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[1] == "" {
			continue
		}

		marker := ""
		if len(tag) >= 4 {
			marker = tag[3]
		}

		switch tag[0] {
		case "e":
			switch marker {
			case "root":
				refs.setRoot(tag[1], "e")
			case "reply":
				if refs.Reply == "" {
					refs.Reply = tag[1]
				}
			case "":
				if refs.Root == "" {
					refs.setRoot(tag[1], "e")
				} else {
					refs.Mentions = append(refs.Mentions, tag[1])
				}
			default:
				refs.Mentions = append(refs.Mentions, tag[1])
			}
		case "a":
			if marker == "root" {
				refs.setRoot(tag[1], "a")
			}
		}
	}

	return refs
}

func (r *Refs) setRoot(value, kind string) {
	if r.Root != "" {
		return
	}
	r.Root = value
	r.RootKind = kind
}

// References returns every event id or address the comment points at
func (r Refs) References() []string {
	out := make([]string, 0, 2+len(r.Mentions))
	if r.Root != "" {
		out = append(out, r.Root)
	}
	if r.Reply != "" {
		out = append(out, r.Reply)
	}
	return append(out, r.Mentions...)
}
