package nostr

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapthreads/internal/config"
	"github.com/sandwichfarm/zapthreads/internal/ops"
)

// Client provides a high-level interface for interacting with Nostr relays
type Client struct {
	pool        *nostr.SimplePool
	relayConfig *config.Relays
	logger      *ops.Logger
}

// New creates a new Nostr client with the given configuration
func New(ctx context.Context, relayConfig *config.Relays, logger *ops.Logger) *Client {
	if logger == nil {
		logger = ops.Default()
	}
	return &Client{
		pool:        nostr.NewSimplePool(ctx),
		relayConfig: relayConfig,
		logger:      logger.WithComponent("nostr"),
	}
}

// Pool returns the underlying SimplePool for advanced operations
func (c *Client) Pool() *nostr.SimplePool {
	return c.pool
}

// FetchEvents fetches events from the given relays matching the filter and
// returns once every relay sent EOSE or the timeout passed
func (c *Client) FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error) {
	if len(relays) == 0 {
		return nil, fmt.Errorf("no relays to query")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.GetDefaultTimeout())
	defer cancel()

	events := make([]*nostr.Event, 0)
	seen := make(map[string]bool)
	for relayEvent := range c.pool.SubManyEose(fetchCtx, relays, nostr.Filters{filter}) {
		if relayEvent.Event == nil || seen[relayEvent.Event.ID] {
			continue
		}
		seen[relayEvent.Event.ID] = true
		events = append(events, relayEvent.Event)
	}

	return events, nil
}

// PublishEvent publishes an event to the given relays
func (c *Client) PublishEvent(ctx context.Context, relays []string, event *nostr.Event) error {
	results := c.pool.PublishMany(ctx, relays, *event)

	var lastErr error
	successCount := 0

	for result := range results {
		if result.Error != nil {
			lastErr = result.Error
			c.logger.LogRelayConnection(result.RelayURL, false, result.Error)
		} else {
			successCount++
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("failed to publish to any relay: %w", lastErr)
	}

	return nil
}

// SubscribeEvents subscribes to events matching the filters on the given relays.
// Returns a channel of events that will be closed when the context is cancelled
func (c *Client) SubscribeEvents(ctx context.Context, relays []string, filters nostr.Filters) <-chan *nostr.Event {
	eventChan := make(chan *nostr.Event, 100)

	go func() {
		defer close(eventChan)

		c.logger.Debug("subscribing", "relays", relays, "filters", len(filters))

		eventCount := 0
		for relayEvent := range c.pool.SubMany(ctx, relays, filters) {
			if relayEvent.Event == nil {
				continue
			}
			eventCount++
			if eventCount == 1 && relayEvent.Relay != nil {
				c.logger.Debug("first event received", "relay", relayEvent.Relay.URL)
			}

			select {
			case eventChan <- relayEvent.Event:
			case <-ctx.Done():
				c.logger.Debug("subscription cancelled", "events", eventCount)
				return
			}
		}

		c.logger.Debug("subscription closed", "events", eventCount)
	}()

	return eventChan
}

// Close closes all relay connections
func (c *Client) Close() {
	c.pool.Close("client shutting down")
}

// GetRelays returns the configured relays
func (c *Client) GetRelays() []string {
	if c.relayConfig == nil {
		return []string{}
	}
	return c.relayConfig.URLs
}

// GetDefaultTimeout returns the configured timeout duration
func (c *Client) GetDefaultTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.ConnectTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.ConnectTimeoutMs) * time.Millisecond
}
