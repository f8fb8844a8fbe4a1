package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/sandwichfarm/zapthreads/internal/config"
	"github.com/sandwichfarm/zapthreads/internal/metadata"
	"github.com/sandwichfarm/zapthreads/internal/nostr"
	"github.com/sandwichfarm/zapthreads/internal/ops"
	"github.com/sandwichfarm/zapthreads/internal/session"
	"github.com/sandwichfarm/zapthreads/internal/signer"
	"github.com/sandwichfarm/zapthreads/internal/storage"
)

// runtime bundles everything a command needs around one session
type runtime struct {
	cfg     *config.Config
	logger  *ops.Logger
	client  *nostr.Client
	archive *storage.Storage
	session *session.Session

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newRuntime(ctx context.Context, cfg *config.Config, logger *ops.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	rt.client = nostr.New(ctx, &cfg.Relays, logger)
	rt.closers = append(rt.closers, closerFunc(func() error {
		rt.client.Close()
		return nil
	}))

	cache, err := metadata.NewCache(cfg.Metadata)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize profile cache: %w", err)
	}
	rt.closers = append(rt.closers, cache)

	if cfg.Archive.Enabled {
		rt.archive, err = storage.New(ctx, &cfg.Archive)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		rt.closers = append(rt.closers, rt.archive)
		logger.Info("archive ready", "driver", cfg.Archive.Driver)
	}

	deps := session.Deps{
		Relay:    rt.client,
		Resolver: metadata.NewRelayResolver(rt.client, cfg.Relays.URLs, cache, logger),
		Archive:  rt.archive,
		Bunkers:  rt.dialBunker,
		Logger:   logger,
	}
	if cfg.Relays.Policy.Outbox {
		deps.Inboxes = nostr.NewDiscovery(rt.client, time.Hour, logger)
	}

	rt.session, err = session.New(cfg, deps)
	if err != nil {
		rt.Close()
		return nil, err
	}
	// closed first
	rt.closers = append([]io.Closer{rt.session}, rt.closers...)

	return rt, nil
}

func (rt *runtime) dialBunker(ctx context.Context, bunkerURL string) (signer.Signer, error) {
	b, err := signer.ConnectBunker(ctx, rt.client.Pool(), bunkerURL, rt.cfg.Signer.ClientSecret, func(url string) {
		rt.logger.Warn("bunker requires authorization", "url", url)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Close releases everything in reverse dependency order and reports every failure
func (rt *runtime) Close() error {
	var result error
	for _, c := range rt.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	rt.closers = nil
	return result
}
