// Package signer provides the signing capabilities replies are signed with.
package signer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
)

var (
	// ErrNoSigner is returned when an identity has no signing capability
	ErrNoSigner = errors.New("identity cannot sign")
	// ErrDenied is returned when a remote signer refuses or cancels a request
	ErrDenied = errors.New("signing request denied")
	// ErrTampered is returned when a remote signer answers for a different event
	ErrTampered = errors.New("signer returned a different event")
)

// Signer is a signing capability for one identity. Sign must sign the id the
// event already carries and must not modify the event.
type Signer interface {
	PublicKey(ctx context.Context) (string, error)
	Sign(ctx context.Context, unsigned *nostr.Event) (string, error)
}

// Ephemeral signs with a locally generated key that lives as long as the session
type Ephemeral struct {
	secret *btcec.PrivateKey
	pubkey string
}

// NewEphemeral generates a fresh key pair
func NewEphemeral() (*Ephemeral, error) {
	return FromSecretKey(nostr.GeneratePrivateKey())
}

// FromSecretKey wraps an existing hex secret key
func FromSecretKey(sk string) (*Ephemeral, error) {
	raw, err := hex.DecodeString(sk)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("invalid secret key")
	}

	pubkey, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	secret, _ := btcec.PrivKeyFromBytes(raw)
	return &Ephemeral{secret: secret, pubkey: pubkey}, nil
}

// PublicKey returns the hex public key
func (e *Ephemeral) PublicKey(context.Context) (string, error) {
	return e.pubkey, nil
}

// Sign produces a BIP-340 signature over the event id
func (e *Ephemeral) Sign(_ context.Context, unsigned *nostr.Event) (string, error) {
	id, err := hex.DecodeString(unsigned.ID)
	if err != nil || len(id) != 32 {
		return "", fmt.Errorf("event id is not a 32 byte hex string")
	}

	sig, err := schnorr.Sign(e.secret, id)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}

	return hex.EncodeToString(sig.Serialize()), nil
}
