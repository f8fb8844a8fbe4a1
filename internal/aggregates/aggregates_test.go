package aggregates

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapthreads/internal/config"
	"github.com/sandwichfarm/zapthreads/internal/thread"
)

func reaction(id, target, content string) *nostr.Event {
	return &nostr.Event{
		ID:      id,
		Kind:    KindReaction,
		Content: content,
		Tags:    nostr.Tags{{"e", "root"}, {"e", target}, {"p", "author"}},
	}
}

func zap(id, target, bolt11 string) *nostr.Event {
	return &nostr.Event{
		ID:   id,
		Kind: KindZapReceipt,
		Tags: nostr.Tags{
			{"e", target},
			{"p", "author"},
			{"bolt11", bolt11},
			{"description", `{"pubkey":"sender","content":"great post","tags":[["amount","21000"]]}`},
		},
	}
}

func TestTallyCountsLikes(t *testing.T) {
	tally := NewTally(config.Features{})

	if !tally.Add(reaction("r1", "c1", "+")) {
		t.Fatal("expected reaction to be counted")
	}
	tally.Add(reaction("r2", "c1", ""))
	tally.Add(reaction("r3", "c1", "🤙"))
	tally.Add(reaction("r4", "c1", "-"))

	if tally.Add(reaction("r1", "c1", "+")) {
		t.Error("duplicate reaction must not be counted twice")
	}

	c := tally.For("c1")
	if c.Likes != 3 {
		t.Errorf("Likes = %d, want 3", c.Likes)
	}
	if c.ReactionCounts["+"] != 2 || c.ReactionCounts["🤙"] != 1 {
		t.Errorf("unexpected reaction counts %v", c.ReactionCounts)
	}
	if _, ok := c.ReactionCounts["-"]; ok {
		t.Error("dislikes are not reactions counts")
	}
}

func TestTallyCountsZaps(t *testing.T) {
	tally := NewTally(config.Features{})
	tally.Add(zap("z1", "c1", "lnbc10u1pjexample"))
	tally.Add(zap("z2", "c1", "garbage"))

	c := tally.For("c1")
	if c.Zaps != 2 {
		t.Errorf("Zaps = %d, want 2", c.Zaps)
	}
	// 1000 from bolt11 plus 21 from the request amount fallback
	if c.ZapSats != 1021 {
		t.Errorf("ZapSats = %d, want 1021", c.ZapSats)
	}

	totals := tally.Totals(nil)
	if totals.ZapSats != 1021 || totals.Zaps != 2 {
		t.Errorf("unexpected totals %+v", totals)
	}
}

func TestTallyRespectsToggles(t *testing.T) {
	tally := NewTally(config.Features{DisableLikes: true, DisableZaps: true})

	if tally.Add(reaction("r1", "c1", "+")) {
		t.Error("likes are disabled")
	}
	if tally.Add(zap("z1", "c1", "lnbc10u1")) {
		t.Error("zaps are disabled")
	}
	if tally.Accepts(1) {
		t.Error("notes are never interactions")
	}

	totals := tally.Totals(nil)
	if totals.Likes != 0 || totals.ZapSats != 0 {
		t.Errorf("expected empty totals, got %+v", totals)
	}
}

func TestAnnotate(t *testing.T) {
	root := &nostr.Event{ID: "c1", Kind: 1, Content: "a"}
	child := &nostr.Event{ID: "c2", Kind: 1, Content: "b", Tags: nostr.Tags{{"e", "c1", "", "reply"}}}
	forest := thread.Nest([]*nostr.Event{root, child})

	tally := NewTally(config.Features{})
	tally.Add(reaction("r1", "c2", "+"))

	counts := tally.Annotate(forest)
	if counts["c1"].Replies != 1 {
		t.Errorf("c1 replies = %d, want 1", counts["c1"].Replies)
	}
	if counts["c2"].Likes != 1 || !counts["c2"].HasInteractions() {
		t.Errorf("unexpected c2 counts %+v", counts["c2"])
	}
	if got := tally.Totals(forest).Comments; got != 2 {
		t.Errorf("Comments = %d, want 2", got)
	}
}

func TestParseReactionWithoutTarget(t *testing.T) {
	if _, ok := ParseReaction(&nostr.Event{Kind: KindReaction, Content: "+"}); ok {
		t.Error("reaction without e tag has no target")
	}
}

func TestParseInvoiceAmount(t *testing.T) {
	tests := []struct {
		invoice string
		want    int64
		wantErr bool
	}{
		{"lnbc1m1pexample", 100000, false},
		{"lnbc10u1pexample", 1000, false},
		{"lnbc2500n1pexample", 250, false},
		{"lnbc10000p1pexample", 1, false},
		{"lnbc2pvjluezexample", 0, true},
		{"lnbc1pvjluezexample", 0, true},
		{"LNBC20M1PEXAMPLE", 2000000, false},
		{"lntb5u1pexample", 500, false},
		{"not an invoice", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.invoice, func(t *testing.T) {
			got, err := parseInvoiceAmount(tt.invoice)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseZapRequest(t *testing.T) {
	info := ParseZap(zap("z1", "c1", "lnbc10u1"))
	if info.Sender != "sender" || info.Comment != "great post" {
		t.Errorf("unexpected zap info %+v", info)
	}
	if info.TargetEventID != "c1" || info.TargetPubkey != "author" {
		t.Errorf("unexpected targets %+v", info)
	}
}

func TestFormatSats(t *testing.T) {
	tests := map[int64]string{
		0:       "0 sats",
		21:      "21 sats",
		2100:    "2.1K sats",
		2100000: "2.10M sats",
	}
	for sats, want := range tests {
		if got := FormatSats(sats); got != want {
			t.Errorf("FormatSats(%d) = %q, want %q", sats, got, want)
		}
	}
}
