package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fiatjaf/eventstore"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip77"
)

// ErrNegentropyUnsupported is returned when a relay does not speak NIP-77
var ErrNegentropyUnsupported = fmt.Errorf("relay does not support negentropy")

// SyncTimeout bounds a single negentropy reconciliation
var SyncTimeout = 30 * time.Second

// SyncFrom reconciles the archive with relayURL using NIP-77 negentropy,
// downloading the events matching filter that the archive lacks
func (s *Storage) SyncFrom(ctx context.Context, relayURL string, filter nostr.Filter) error {
	syncCtx, cancel := context.WithTimeout(ctx, SyncTimeout)
	defer cancel()

	wrapper := &eventstore.RelayWrapper{Store: s.store}
	if err := nip77.NegentropySync(syncCtx, wrapper, relayURL, filter, nip77.Down); err != nil {
		if isNegentropyUnsupportedError(err) {
			return fmt.Errorf("%w: %s: %v", ErrNegentropyUnsupported, relayURL, err)
		}
		return fmt.Errorf("negentropy sync with %s failed: %w", relayURL, err)
	}
	return nil
}

// isNegentropyUnsupportedError checks if an error indicates NIP-77 is not supported
func isNegentropyUnsupportedError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"unsupported", "unknown message", "neg-open", "neg-err", "negentropy", "invalid"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
