// Package storage archives accepted thread events in an eventstore and
// exposes them through a read-only khatru relay.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fiatjaf/eventstore"
	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/fiatjaf/eventstore/sqlite3"
	"github.com/fiatjaf/khatru"
	"github.com/hashicorp/go-multierror"
	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapthreads/internal/config"
)

// Storage wraps the archive backend and the relay serving it
type Storage struct {
	relay  *khatru.Relay
	store  eventstore.Store
	config *config.Archive
}

// New creates a new Storage instance with the given configuration
func New(ctx context.Context, cfg *config.Archive) (*Storage, error) {
	s := &Storage{
		config: cfg,
	}

	// Initialize the appropriate backend
	switch cfg.Driver {
	case "", "memory":
		s.store = &slicestore.SliceStore{}
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
		s.store = &sqlite3.SQLite3Backend{DatabaseURL: cfg.SQLitePath}
	default:
		return nil, fmt.Errorf("unsupported archive driver: %s", cfg.Driver)
	}

	if err := s.store.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s archive: %w", cfg.Driver, err)
	}

	s.relay = newRelay(s.store)
	return s, nil
}

func newRelay(store eventstore.Store) *khatru.Relay {
	relay := khatru.NewRelay()
	relay.Info.Name = "zapthreads archive"
	relay.Info.Description = "read-only archive of comment threads"
	relay.Info.Software = "https://github.com/sandwichfarm/zapthreads"

	relay.StoreEvent = append(relay.StoreEvent, store.SaveEvent)
	relay.QueryEvents = append(relay.QueryEvents, store.QueryEvents)
	relay.DeleteEvent = append(relay.DeleteEvent, store.DeleteEvent)

	// events only enter through the session's ingestion boundary
	relay.RejectEvent = append(relay.RejectEvent, func(context.Context, *nostr.Event) (bool, string) {
		return true, "blocked: this archive is read-only"
	})
	return relay
}

// Relay returns the underlying Khatru relay instance
func (s *Storage) Relay() *khatru.Relay {
	return s.relay
}

// StoreEvent stores an event in the archive. Storing a known event is not an error.
func (s *Storage) StoreEvent(ctx context.Context, event *nostr.Event) error {
	if s.relay == nil {
		return fmt.Errorf("relay not initialized")
	}

	// Call all StoreEvent handlers
	for _, handler := range s.relay.StoreEvent {
		if err := handler(ctx, event); err != nil && !errors.Is(err, eventstore.ErrDupEvent) {
			return fmt.Errorf("failed to store event: %w", err)
		}
	}

	return nil
}

// StoreEventBatch stores multiple events and reports every failure
func (s *Storage) StoreEventBatch(ctx context.Context, events []*nostr.Event) error {
	var result error
	for _, event := range events {
		if err := s.StoreEvent(ctx, event); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", event.ID, err))
		}
	}
	return result
}

// EventExists checks if an event already exists in storage
func (s *Storage) EventExists(ctx context.Context, eventID string) (bool, error) {
	events, err := s.QueryEvents(ctx, nostr.Filter{IDs: []string{eventID}, Limit: 1})
	if err != nil {
		return false, err
	}

	return len(events) > 0, nil
}

// DeleteEvent deletes an event from the archive by ID
func (s *Storage) DeleteEvent(ctx context.Context, eventID string) error {
	if s.relay == nil {
		return fmt.Errorf("relay not initialized")
	}

	// Query the event first (Khatru DeleteEvent needs the full event)
	events, err := s.QueryEvents(ctx, nostr.Filter{IDs: []string{eventID}, Limit: 1})
	if err != nil {
		return fmt.Errorf("failed to query event before delete: %w", err)
	}

	if len(events) == 0 {
		return nil // Event doesn't exist, nothing to delete
	}

	for _, handler := range s.relay.DeleteEvent {
		if err := handler(ctx, events[0]); err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
	}

	return nil
}

// QueryEvents queries events from the archive using Nostr filters
func (s *Storage) QueryEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	if s.relay == nil {
		return nil, fmt.Errorf("relay not initialized")
	}

	// Use the first QueryEvents handler (eventstore)
	if len(s.relay.QueryEvents) == 0 {
		return nil, fmt.Errorf("no query handlers configured")
	}

	ch, err := s.relay.QueryEvents[0](ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	// Collect events from channel
	var events []*nostr.Event
	for event := range ch {
		events = append(events, event)
	}

	return events, nil
}

// Driver returns the configured backend name
func (s *Storage) Driver() string {
	if s.config.Driver == "" {
		return "memory"
	}
	return s.config.Driver
}

// CountEvents counts archived events matching the filter
func (s *Storage) CountEvents(ctx context.Context, filter nostr.Filter) (int64, error) {
	if counter, ok := s.store.(eventstore.Counter); ok {
		return counter.CountEvents(ctx, filter)
	}

	var count int64
	err := s.Each(ctx, filter, func(*nostr.Event) error {
		count++
		return nil
	})
	return count, err
}

// pageSize bounds a single archive query while walking it
const pageSize = 500

// Each walks archived events matching the filter, newest first, paging by
// created_at to get past backend query limits
func (s *Storage) Each(ctx context.Context, filter nostr.Filter, fn func(*nostr.Event) error) error {
	seen := make(map[string]struct{})
	page := filter
	page.Limit = pageSize

	for {
		events, err := s.QueryEvents(ctx, page)
		if err != nil {
			return err
		}

		fresh := 0
		oldest := nostr.Timestamp(0)
		for _, event := range events {
			if _, ok := seen[event.ID]; ok {
				continue
			}
			seen[event.ID] = struct{}{}
			fresh++
			if err := fn(event); err != nil {
				return err
			}
			if oldest == 0 || event.CreatedAt < oldest {
				oldest = event.CreatedAt
			}
		}

		// until is inclusive; more than pageSize events in one second end the walk early
		if fresh == 0 || len(events) < pageSize {
			return nil
		}
		until := oldest
		page.Until = &until
	}
}

// Close closes the archive backend
func (s *Storage) Close() error {
	if s.store != nil {
		s.store.Close()
	}
	return nil
}
