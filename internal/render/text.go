// Package render presents a comment forest as text or HTML.
package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/sandwichfarm/zapthreads/internal/aggregates"
	"github.com/sandwichfarm/zapthreads/internal/config"
	"github.com/sandwichfarm/zapthreads/internal/store"
	"github.com/sandwichfarm/zapthreads/internal/thread"
)

// Options control the plain text rendering
type Options struct {
	Indent            string
	MaxDepth          int
	SummaryLength     int
	TruncateIndicator string

	// optional
	Counts   map[string]aggregates.Counts
	Mentions func(content string) string
	Now      func() time.Time
}

// OptionsFrom builds options from the rendering configuration
func OptionsFrom(cfg config.Rendering) Options {
	return Options{
		Indent:        cfg.ThreadIndent,
		MaxDepth:      cfg.MaxThreadDepth,
		SummaryLength: cfg.SummaryLength,
	}
}

func (o Options) withDefaults() Options {
	if o.Indent == "" {
		o.Indent = "  "
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 10
	}
	if o.SummaryLength <= 0 {
		o.SummaryLength = 100
	}
	if o.TruncateIndicator == "" {
		o.TruncateIndicator = "..."
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Text renders the forest as indented plain text, one line per comment
func Text(forest thread.Forest, users map[string]store.User, opts Options) string {
	opts = opts.withDefaults()

	var sb strings.Builder
	if len(forest) == 0 {
		sb.WriteString("No comments yet.\n")
		return sb.String()
	}

	for _, node := range forest {
		renderNode(&sb, node, 0, users, opts)
	}
	return sb.String()
}

func renderNode(sb *strings.Builder, node *thread.Node, depth int, users map[string]store.User, opts Options) {
	if node == nil {
		return
	}

	prefix := strings.Repeat(opts.Indent, depth)
	if depth >= opts.MaxDepth {
		hidden := thread.Forest{node}.Len()
		fmt.Fprintf(sb, "%s… %d additional %s hidden\n", prefix, hidden, plural(hidden, "reply", "replies"))
		return
	}

	author := DisplayName(users[node.Event.PubKey], node.Event.PubKey)
	content := node.Event.Content
	if opts.Mentions != nil {
		content = opts.Mentions(content)
	}
	summary := Summary(content, opts.SummaryLength, opts.TruncateIndicator)
	fmt.Fprintf(sb, "%s- %s: %s (%s)\n", prefix, author, summary, formatTimestamp(node.Event.CreatedAt, opts.Now()))

	if c, ok := opts.Counts[node.Event.ID]; ok {
		if line := Interactions(c); line != "" {
			fmt.Fprintf(sb, "%s  %s\n", prefix, line)
		}
	}

	for _, child := range node.Children {
		renderNode(sb, child, depth+1, users, opts)
	}
}

// Header renders the thread totals, omitting disabled features
func Header(totals aggregates.Totals, features config.Features) string {
	parts := []string{fmt.Sprintf("%d %s", totals.Comments, plural(totals.Comments, "comment", "comments"))}
	if !features.DisableLikes {
		parts = append(parts, fmt.Sprintf("%d %s", totals.Likes, plural(totals.Likes, "like", "likes")))
	}
	if !features.DisableZaps {
		parts = append(parts, aggregates.FormatSats(totals.ZapSats)+" zapped")
	}
	return strings.Join(parts, " · ") + "\n"
}

// Interactions renders the counts of one comment, or "" when there are none
func Interactions(c aggregates.Counts) string {
	var parts []string

	if c.Likes > 0 {
		if len(c.ReactionCounts) > 0 {
			keys := make([]string, 0, len(c.ReactionCounts))
			for emoji := range c.ReactionCounts {
				keys = append(keys, emoji)
			}
			sort.Strings(keys)

			reactionParts := make([]string, 0, len(keys))
			for _, emoji := range keys {
				reactionParts = append(reactionParts, fmt.Sprintf("%s %d", emoji, c.ReactionCounts[emoji]))
			}
			parts = append(parts, fmt.Sprintf("%d likes (%s)", c.Likes, strings.Join(reactionParts, ", ")))
		} else {
			parts = append(parts, fmt.Sprintf("%d likes", c.Likes))
		}
	}

	if c.ZapSats > 0 {
		parts = append(parts, fmt.Sprintf("%s zapped", aggregates.FormatSats(c.ZapSats)))
	}

	return strings.Join(parts, ", ")
}

// DisplayName is the profile name, else a shortened npub
func DisplayName(user store.User, pubkey string) string {
	if user.Name != "" {
		return user.Name
	}
	npub := user.Npub
	if npub == "" {
		if encoded, err := nip19.EncodePublicKey(pubkey); err == nil {
			npub = encoded
		}
	}
	if npub != "" {
		return truncateKey(npub)
	}
	return truncateKey(pubkey)
}

// Summary flattens content to one line of at most limit bytes
func Summary(content string, limit int, indicator string) string {
	plain := strings.Join(strings.Fields(content), " ")
	if len(plain) <= limit {
		return plain
	}
	if limit <= len(indicator) {
		return indicator
	}

	cut := limit - len(indicator)
	// back off to a rune boundary
	for cut > 0 && !utf8RuneStart(plain[cut]) {
		cut--
	}
	return plain[:cut] + indicator
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// truncateKey shortens a pubkey or npub for display
func truncateKey(key string) string {
	if len(key) <= 16 {
		return key
	}
	return key[:8] + "..." + key[len(key)-8:]
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// formatTimestamp formats a Nostr timestamp relative to now
func formatTimestamp(ts nostr.Timestamp, now time.Time) string {
	t := time.Unix(int64(ts), 0)
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return ago(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return ago(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return ago(int(diff.Hours()/24), "day")
	case diff < 30*24*time.Hour:
		return ago(int(diff.Hours()/(24*7)), "week")
	}

	return t.UTC().Format("2006-01-02 15:04")
}

func ago(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
