package authoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandwichfarm/zapthreads/internal/anchor"
	"github.com/sandwichfarm/zapthreads/internal/ops"
	"github.com/sandwichfarm/zapthreads/internal/signer"
	"github.com/sandwichfarm/zapthreads/internal/store"
	"github.com/sandwichfarm/zapthreads/internal/thread"
)

var fixedNow = time.Unix(1700000000, 0)

type denyingSigner struct {
	calls int
}

func (d *denyingSigner) PublicKey(context.Context) (string, error) {
	return "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d", nil
}

func (d *denyingSigner) Sign(context.Context, *nostr.Event) (string, error) {
	d.calls++
	return "", signer.ErrDenied
}

// idCapturingSigner records the event id it was asked to sign
type idCapturingSigner struct {
	signer.Signer
	signedID string
}

func (c *idCapturingSigner) Sign(ctx context.Context, evt *nostr.Event) (string, error) {
	c.signedID = evt.ID
	return c.Signer.Sign(ctx, evt)
}

type recordingPublisher struct {
	events []*nostr.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event *nostr.Event) error {
	p.events = append(p.events, event)
	return p.err
}

func newDeps(a anchor.Anchor) Deps {
	return Deps{
		Events: store.NewEvents(),
		Users:  store.NewUsers(),
		Anchor: a,
		Now:    func() time.Time { return fixedNow },
		Logger: ops.Discard(),
	}
}

func TestWhitespaceDraftIsRejected(t *testing.T) {
	deps := newDeps(anchor.RootIDs{IDs: []string{"root"}})
	done := 0
	deps.OnDone = func(*nostr.Event) { done++ }
	e := NewEditor(deps, "")

	e.SetDraft("   \n\t ")
	event, err := e.Submit(context.Background())

	assert.ErrorIs(t, err, ErrEmpty)
	assert.Nil(t, event)
	assert.Equal(t, Editing, e.State())
	assert.Equal(t, 0, deps.Events.Len())
	assert.Equal(t, 0, done)
	_, ok := deps.Users.Get(store.AnonymousKey)
	assert.False(t, ok, "no identity is created for an empty draft")
}

func TestRootReply(t *testing.T) {
	deps := newDeps(anchor.RootIDs{IDs: []string{"root1", "root2"}})
	var done *nostr.Event
	deps.OnDone = func(evt *nostr.Event) { done = evt }
	e := NewEditor(deps, "")

	e.SetDraft("  hello thread  ")
	event, err := e.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Signed, e.State())
	assert.Equal(t, "", e.Draft())
	assert.Same(t, event, done)

	assert.Equal(t, nostr.KindTextNote, event.Kind)
	assert.Equal(t, "hello thread", event.Content)
	assert.Equal(t, nostr.Timestamp(fixedNow.Unix()), event.CreatedAt)
	assert.Equal(t, nostr.Tags{{"e", "root1", "", "root"}}, event.Tags)
	assert.Equal(t, event.GetID(), event.ID)

	ok, err := event.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)

	stored, found := deps.Events.Get(event.ID)
	require.True(t, found)
	assert.Same(t, event, stored)
}

func TestCommentReplyOnAddress(t *testing.T) {
	deps := newDeps(anchor.Address{Value: "30023:pk:slug"})
	e := NewEditor(deps, "parent")

	e.SetDraft("reply")
	event, err := e.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, nostr.Tags{
		{"a", "30023:pk:slug", "", "root"},
		{"e", "parent", "", "reply"},
	}, event.Tags)
}

func TestAnonymousIdentityIsReused(t *testing.T) {
	deps := newDeps(anchor.RootIDs{IDs: []string{"root"}})

	first := NewEditor(deps, "")
	first.SetDraft("one")
	a, err := first.Submit(context.Background())
	require.NoError(t, err)

	second := NewEditor(deps, a.ID)
	second.SetDraft("two")
	b, err := second.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.PubKey, b.PubKey)
	anon, ok := deps.Users.Get(store.AnonymousKey)
	require.True(t, ok)
	assert.Equal(t, a.PubKey, anon.Pubkey)
}

func TestLoggedInUserSigns(t *testing.T) {
	deps := newDeps(anchor.RootIDs{IDs: []string{"root"}})
	s, err := signer.NewEphemeral()
	require.NoError(t, err)
	pk, _ := s.PublicKey(context.Background())
	deps.Users.Put(&store.User{Pubkey: pk, LoggedIn: true, Signer: s})

	e := NewEditor(deps, "")
	e.SetDraft("signed by me")
	event, err := e.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pk, event.PubKey)
}

func TestSignerDenialKeepsDraft(t *testing.T) {
	deps := newDeps(anchor.RootIDs{IDs: []string{"root"}})
	deny := &denyingSigner{}
	deps.Users.Put(&store.User{Pubkey: "remote", LoggedIn: true, Signer: deny})
	done := 0
	deps.OnDone = func(*nostr.Event) { done++ }
	pub := &recordingPublisher{}
	deps.Publisher = pub

	e := NewEditor(deps, "")
	e.SetDraft("please sign")
	event, err := e.Submit(context.Background())

	assert.Nil(t, event)
	assert.ErrorIs(t, err, ErrSignFailed)
	assert.ErrorIs(t, err, signer.ErrDenied)
	assert.Equal(t, Failed, e.State())
	assert.ErrorIs(t, e.Err(), signer.ErrDenied)
	assert.Equal(t, "please sign", e.Draft())
	assert.Equal(t, 0, deps.Events.Len())
	assert.Equal(t, 0, done)
	assert.Empty(t, pub.events)
	assert.Equal(t, 1, deny.calls)

	e.SetDraft("please sign")
	assert.Equal(t, Editing, e.State())
}

func TestLoggedInWithoutSigner(t *testing.T) {
	deps := newDeps(anchor.RootIDs{IDs: []string{"root"}})
	deps.Users.Put(&store.User{Pubkey: "readonly", LoggedIn: true})

	e := NewEditor(deps, "")
	e.SetDraft("hi")
	_, err := e.Submit(context.Background())

	assert.ErrorIs(t, err, ErrNoSigner)
	assert.Equal(t, Failed, e.State())
	assert.Equal(t, 0, deps.Events.Len())
}

func TestNoAnchorRoot(t *testing.T) {
	deps := newDeps(anchor.RootIDs{})
	e := NewEditor(deps, "")
	e.SetDraft("hi")

	_, err := e.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNoAnchor)
	assert.Equal(t, 0, deps.Events.Len())

	_, err = NewEditor(newDeps(nil), "").Submit(context.Background())
	assert.ErrorIs(t, err, ErrEmpty, "empty check comes first")
}

func TestPublishFailureKeepsSigned(t *testing.T) {
	deps := newDeps(anchor.RootIDs{IDs: []string{"root"}})
	pub := &recordingPublisher{err: errors.New("relays offline")}
	deps.Publisher = pub

	e := NewEditor(deps, "")
	e.SetDraft("hello")
	event, err := e.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Signed, e.State())
	require.Len(t, pub.events, 1)
	assert.Equal(t, event.ID, pub.events[0].ID)
	assert.Equal(t, 1, deps.Events.Len())
}

func TestRoundTripIntoForest(t *testing.T) {
	deps := newDeps(anchor.RootIDs{IDs: []string{"root"}})

	top := NewEditor(deps, "")
	top.SetDraft("top level")
	parent, err := top.Submit(context.Background())
	require.NoError(t, err)

	child := NewEditor(deps, parent.ID)
	child.SetDraft("nested")
	reply, err := child.Submit(context.Background())
	require.NoError(t, err)

	forest := thread.Nest(deps.Events.Snapshot())
	require.Len(t, forest, 1)
	assert.Equal(t, parent.ID, forest[0].Event.ID)
	require.Len(t, forest[0].Children, 1)
	assert.Equal(t, reply.ID, forest[0].Children[0].Event.ID)
}

func TestAnonymousDepsIgnoreLogin(t *testing.T) {
	deps := newDeps(anchor.RootIDs{IDs: []string{"root"}})
	deny := &denyingSigner{}
	deps.Users.Put(&store.User{Pubkey: "operator", LoggedIn: true, Signer: deny})
	deps.Anonymous = true

	e := NewEditor(deps, "")
	e.SetDraft("from the web")
	event, err := e.Submit(context.Background())
	require.NoError(t, err)

	anon, ok := deps.Users.Get(store.AnonymousKey)
	require.True(t, ok)
	assert.Equal(t, anon.Pubkey, event.PubKey)
	assert.Equal(t, 0, deny.calls)
}

func TestEventIDIsDeterministic(t *testing.T) {
	base := func() *nostr.Event {
		return &nostr.Event{
			PubKey:    "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",
			CreatedAt: nostr.Timestamp(fixedNow.Unix()),
			Kind:      nostr.KindTextNote,
			Tags:      nostr.Tags{{"e", "root", "", "root"}},
			Content:   "hello",
		}
	}

	id := base().GetID()
	assert.Equal(t, id, base().GetID(), "same canonical fields give the same id")

	tests := []struct {
		name   string
		mutate func(*nostr.Event)
	}{
		{"content", func(e *nostr.Event) { e.Content = "hello!" }},
		{"created_at", func(e *nostr.Event) { e.CreatedAt++ }},
		{"tag value", func(e *nostr.Event) { e.Tags[0][1] = "other" }},
		{"extra tag", func(e *nostr.Event) { e.Tags = append(e.Tags, nostr.Tag{"e", "parent", "", "reply"}) }},
		{"pubkey", func(e *nostr.Event) { e.PubKey = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798" }},
		{"kind", func(e *nostr.Event) { e.Kind = 7 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := base()
			tt.mutate(evt)
			assert.NotEqual(t, id, evt.GetID())
		})
	}
}

func TestSigningKeepsID(t *testing.T) {
	deps := newDeps(anchor.RootIDs{IDs: []string{"root"}})
	s, err := signer.NewEphemeral()
	require.NoError(t, err)
	pk, _ := s.PublicKey(context.Background())
	capture := &idCapturingSigner{Signer: s}
	deps.Users.Put(&store.User{Pubkey: pk, LoggedIn: true, Signer: capture})

	e := NewEditor(deps, "")
	e.SetDraft("stable id")
	event, err := e.Submit(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, capture.signedID)
	assert.Equal(t, capture.signedID, event.ID)
	assert.Equal(t, event.GetID(), event.ID)
}
