package signer

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip46"
)

// remote is the subset of a NIP-46 client the bunker signer needs
type remote interface {
	GetPublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, event *nostr.Event) error
}

// Bunker delegates signing to a NIP-46 remote signer. The user may refuse
// any request, so Sign can fail with ErrDenied.
type Bunker struct {
	client remote
	pubkey string
}

// ConnectBunker connects to a bunker:// URL using the given client secret key.
// An empty clientSecret generates a throwaway one.
func ConnectBunker(ctx context.Context, pool *nostr.SimplePool, bunkerURL, clientSecret string, onAuth func(string)) (*Bunker, error) {
	if clientSecret == "" {
		clientSecret = nostr.GeneratePrivateKey()
	}
	if onAuth == nil {
		onAuth = func(string) {}
	}

	client, err := nip46.ConnectBunker(ctx, clientSecret, bunkerURL, pool, onAuth)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bunker: %w", err)
	}

	return newBunker(ctx, client)
}

func newBunker(ctx context.Context, client remote) (*Bunker, error) {
	pubkey, err := client.GetPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDenied, err)
	}
	if pubkey == "" {
		return nil, ErrDenied
	}

	return &Bunker{client: client, pubkey: pubkey}, nil
}

// PublicKey returns the remote identity's hex public key
func (b *Bunker) PublicKey(context.Context) (string, error) {
	return b.pubkey, nil
}

// Sign asks the remote signer for a signature. The request is a copy so the
// caller's event is never touched; an answer for another id or author is rejected.
func (b *Bunker) Sign(ctx context.Context, unsigned *nostr.Event) (string, error) {
	req := *unsigned
	req.Tags = append(nostr.Tags(nil), unsigned.Tags...)

	if err := b.client.SignEvent(ctx, &req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDenied, err)
	}

	if req.ID != unsigned.ID || req.PubKey != unsigned.PubKey {
		return "", ErrTampered
	}
	if req.Sig == "" {
		return "", ErrDenied
	}

	return req.Sig, nil
}
