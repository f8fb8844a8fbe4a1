package signer

import (
	"context"
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsignedFor(t *testing.T, pubkey string) *nostr.Event {
	t.Helper()
	evt := &nostr.Event{
		PubKey:    pubkey,
		CreatedAt: nostr.Timestamp(1700000000),
		Kind:      nostr.KindTextNote,
		Tags:      nostr.Tags{{"e", "5c83da77af1dec6d7289834998ad7aafbd9e2191396d75ec3cc27f5a77226f36", "", "root"}},
		Content:   "hello",
	}
	evt.ID = evt.GetID()
	return evt
}

func TestEphemeralSignatureVerifies(t *testing.T) {
	ctx := context.Background()
	s, err := NewEphemeral()
	require.NoError(t, err)

	pubkey, err := s.PublicKey(ctx)
	require.NoError(t, err)
	require.Len(t, pubkey, 64)

	evt := unsignedFor(t, pubkey)
	id := evt.ID

	sig, err := s.Sign(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, id, evt.ID, "signing must not touch the id")

	evt.Sig = sig
	ok, err := evt.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEphemeralKeysDiffer(t *testing.T) {
	a, err := NewEphemeral()
	require.NoError(t, err)
	b, err := NewEphemeral()
	require.NoError(t, err)

	pa, _ := a.PublicKey(context.Background())
	pb, _ := b.PublicKey(context.Background())
	assert.NotEqual(t, pa, pb)
}

func TestFromSecretKeyRejectsGarbage(t *testing.T) {
	_, err := FromSecretKey("not-hex")
	assert.Error(t, err)
}

func TestEphemeralRejectsBadID(t *testing.T) {
	s, err := NewEphemeral()
	require.NoError(t, err)

	_, err = s.Sign(context.Background(), &nostr.Event{ID: "zz"})
	assert.Error(t, err)
}

type fakeRemote struct {
	pubkey  string
	local   *Ephemeral
	deny    error
	tamper  bool
	pkError error
}

func (f *fakeRemote) GetPublicKey(context.Context) (string, error) {
	return f.pubkey, f.pkError
}

func (f *fakeRemote) SignEvent(ctx context.Context, evt *nostr.Event) error {
	if f.deny != nil {
		return f.deny
	}
	if f.tamper {
		evt.Content = "something else"
		evt.ID = evt.GetID()
	}
	sig, err := f.local.Sign(ctx, evt)
	if err != nil {
		return err
	}
	evt.Sig = sig
	return nil
}

func TestBunkerSign(t *testing.T) {
	ctx := context.Background()
	local, err := NewEphemeral()
	require.NoError(t, err)
	pubkey, _ := local.PublicKey(ctx)

	t.Run("signs", func(t *testing.T) {
		b, err := newBunker(ctx, &fakeRemote{pubkey: pubkey, local: local})
		require.NoError(t, err)

		evt := unsignedFor(t, pubkey)
		sig, err := b.Sign(ctx, evt)
		require.NoError(t, err)
		assert.Empty(t, evt.Sig, "caller event must not be modified")

		evt.Sig = sig
		ok, _ := evt.CheckSignature()
		assert.True(t, ok)
	})

	t.Run("denied", func(t *testing.T) {
		b, err := newBunker(ctx, &fakeRemote{pubkey: pubkey, local: local, deny: errors.New("user rejected")})
		require.NoError(t, err)

		_, err = b.Sign(ctx, unsignedFor(t, pubkey))
		assert.ErrorIs(t, err, ErrDenied)
	})

	t.Run("tampered", func(t *testing.T) {
		b, err := newBunker(ctx, &fakeRemote{pubkey: pubkey, local: local, tamper: true})
		require.NoError(t, err)

		_, err = b.Sign(ctx, unsignedFor(t, pubkey))
		assert.ErrorIs(t, err, ErrTampered)
	})

	t.Run("public key refused", func(t *testing.T) {
		_, err := newBunker(ctx, &fakeRemote{pkError: errors.New("no")})
		assert.ErrorIs(t, err, ErrDenied)
	})
}
