// Package session holds the state of one comment thread: the anchor, the
// stores, the schedulers and the relay subscription feeding them.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/samber/lo"

	"github.com/sandwichfarm/zapthreads/internal/aggregates"
	"github.com/sandwichfarm/zapthreads/internal/anchor"
	"github.com/sandwichfarm/zapthreads/internal/authoring"
	"github.com/sandwichfarm/zapthreads/internal/config"
	"github.com/sandwichfarm/zapthreads/internal/metadata"
	"github.com/sandwichfarm/zapthreads/internal/metrics"
	"github.com/sandwichfarm/zapthreads/internal/ops"
	"github.com/sandwichfarm/zapthreads/internal/schedule"
	"github.com/sandwichfarm/zapthreads/internal/signer"
	"github.com/sandwichfarm/zapthreads/internal/storage"
	"github.com/sandwichfarm/zapthreads/internal/store"
	"github.com/sandwichfarm/zapthreads/internal/thread"
)

// ErrClosed is returned by operations on a closed session
var ErrClosed = errors.New("session closed")

// Relay is the transport a session reads from and publishes to
type Relay interface {
	FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error)
	SubscribeEvents(ctx context.Context, relays []string, filters nostr.Filters) <-chan *nostr.Event
	PublishEvent(ctx context.Context, relays []string, event *nostr.Event) error
}

// InboxFinder returns the relays where the given pubkeys read interactions
type InboxFinder interface {
	Inboxes(ctx context.Context, pubkeys []string, searchRelays []string) []string
}

// BunkerDialer connects to a remote signer
type BunkerDialer func(ctx context.Context, bunkerURL string) (signer.Signer, error)

// Deps are the collaborators of a session. Only Relay is required.
type Deps struct {
	Relay    Relay
	Resolver metadata.Resolver
	Archive  *storage.Storage
	Bunkers  BunkerDialer
	Inboxes  InboxFinder
	Logger   *ops.Logger
	Now      func() time.Time
}

// Session is the state container of one thread
type Session struct {
	cfg    *config.Config
	ref    anchor.Reference
	relays []string
	deps   Deps
	logger *ops.Logger

	events *store.Events
	users  *store.Users
	tally  *aggregates.Tally

	anchorMu sync.RWMutex
	anchor   anchor.Anchor

	forest      atomic.Pointer[thread.Forest]
	nestGate    *schedule.Gate
	profileGate *schedule.Gate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a session for the configured anchor. An anchor reference of
// an unsupported shape is a configuration error.
func New(cfg *config.Config, deps Deps) (*Session, error) {
	if deps.Relay == nil {
		return nil, fmt.Errorf("session needs a relay transport")
	}

	ref, err := anchor.ParseReference(cfg.Anchor)
	if err != nil {
		return nil, fmt.Errorf("invalid anchor: %w", err)
	}

	if deps.Logger == nil {
		deps.Logger = ops.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	relays := cfg.Relays.URLs
	if len(relays) == 0 {
		relays = config.DefaultRelays
	}

	if deps.Resolver == nil {
		deps.Resolver = metadata.NewRelayResolver(deps.Relay, relays, nil, deps.Logger)
	}

	s := &Session{
		cfg:    cfg,
		ref:    ref,
		relays: relays,
		deps:   deps,
		logger: deps.Logger.WithComponent("session").WithFields("anchor", ref.String()),
		events: store.NewEvents(),
		users:  store.NewUsers(),
		tally:  aggregates.NewTally(cfg.Features),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	empty := thread.Forest{}
	s.forest.Store(&empty)

	s.nestGate = schedule.NewGate(cfg.Scheduler.NestDebounce(), nil, s.materialize)
	s.profileGate = schedule.NewGate(cfg.Scheduler.ProfileDebounce(), s.hasAuthors, s.resolveProfiles)
	s.events.Observe(func() {
		s.nestGate.Request()
		s.profileGate.Request()
	})

	return s, nil
}

// Start resolves the anchor and subscribes to the thread. A failed
// resolution is logged and leaves the session empty.
func (s *Session) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}

	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	a, err := anchor.Resolve(s.ctx, s.ref, s.deps.Relay, s.relays)
	if err != nil {
		s.logger.Warn("anchor resolution failed", "error", err)
		return nil
	}
	if s.closed.Load() {
		return nil
	}

	s.anchorMu.Lock()
	s.anchor = a
	s.anchorMu.Unlock()
	s.logger.Info("anchor resolved", "anchor", a.String())

	filter, _ := s.Filter()
	s.warm(filter)

	sub := s.deps.Relay.SubscribeEvents(s.ctx, s.relays, nostr.Filters{filter})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for evt := range sub {
			s.Ingest(evt)
		}
	}()

	return nil
}

// Filter returns the subscription filter of the thread, false before the
// anchor is resolved
func (s *Session) Filter() (nostr.Filter, bool) {
	a := s.Anchor()
	if a == nil {
		return nostr.Filter{}, false
	}
	return a.Filter(s.kinds()...), true
}

func (s *Session) kinds() []int {
	kinds := []int{nostr.KindTextNote}
	if s.tally.Accepts(aggregates.KindReaction) {
		kinds = append(kinds, aggregates.KindReaction)
	}
	if s.tally.Accepts(aggregates.KindZapReceipt) {
		kinds = append(kinds, aggregates.KindZapReceipt)
	}
	return kinds
}

// warm loads previously archived events for the thread
func (s *Session) warm(filter nostr.Filter) {
	if s.deps.Archive == nil {
		return
	}

	count := 0
	err := s.deps.Archive.Each(s.ctx, filter, func(evt *nostr.Event) error {
		count++
		s.Ingest(evt)
		return nil
	})
	if err != nil {
		s.logger.Warn("archive query failed", "error", err)
	}
	s.logger.Debug("warmed from archive", "events", count)
}

// Ingest is the boundary every incoming event passes. It returns whether
// the event was accepted.
func (s *Session) Ingest(evt *nostr.Event) bool {
	if evt == nil || s.closed.Load() {
		return false
	}

	accepted, reason := s.admit(evt)
	s.logger.LogIngest(evt.ID, evt.Kind, accepted, reason)
	if !accepted {
		metrics.EventsRejected.WithLabelValues(reason).Inc()
		return false
	}

	metrics.EventsIngested.WithLabelValues(strconv.Itoa(evt.Kind)).Inc()
	s.archive(evt)
	return true
}

func (s *Session) admit(evt *nostr.Event) (bool, string) {
	switch evt.Kind {
	case nostr.KindTextNote:
		if evt.Content == "" {
			return false, metrics.ReasonEmpty
		}
		if !s.verified(evt) {
			return false, metrics.ReasonSignature
		}
		if !s.belongs(evt) {
			return false, metrics.ReasonAnchor
		}
		// a known id overwrites in place
		if !s.events.Put(evt) {
			return false, metrics.ReasonEmpty
		}
		return true, ""

	case aggregates.KindReaction, aggregates.KindZapReceipt:
		if !s.tally.Accepts(evt.Kind) {
			return false, metrics.ReasonKind
		}
		if !s.verified(evt) {
			return false, metrics.ReasonSignature
		}
		if !s.tally.Add(evt) {
			return false, metrics.ReasonDuplicate
		}
		// interactions change the counts shown next to comments
		s.nestGate.Request()
		return true, ""

	default:
		return false, metrics.ReasonKind
	}
}

func (s *Session) verified(evt *nostr.Event) bool {
	if !s.cfg.Ingest.VerifySignatures {
		return true
	}
	ok, err := evt.CheckSignature()
	return err == nil && ok
}

// belongs reports whether a comment is part of this thread: its references
// must touch the active anchor, or, lacking a root reference, it must
// reply to a comment already in the thread
func (s *Session) belongs(evt *nostr.Event) bool {
	a := s.Anchor()
	if a == nil {
		return false
	}
	if a.Matches(evt) {
		return true
	}

	refs := thread.ParseRefs(evt)
	if refs.Root != "" || refs.Reply == "" {
		return false
	}
	_, known := s.events.Get(refs.Reply)
	return known
}

func (s *Session) archive(evt *nostr.Event) {
	if s.deps.Archive == nil {
		return
	}
	if err := s.deps.Archive.StoreEvent(s.ctx, evt); err != nil {
		s.logger.Warn("archive write failed", "event_id", evt.ID, "error", err)
	}
}

func (s *Session) materialize(version uint64) {
	start := time.Now()
	forest := thread.Nest(s.events.Snapshot())
	if s.closed.Load() {
		return
	}

	s.forest.Store(&forest)

	nodes := forest.Len()
	metrics.Recomputations.Inc()
	metrics.ForestNodes.Set(float64(nodes))
	s.logger.LogRecompute(version, nodes, len(forest), time.Since(start))
}

func (s *Session) hasAuthors() bool {
	return s.events.Len() > 0
}

func (s *Session) resolveProfiles(uint64) {
	pubkeys := s.events.Authors()
	if user, ok := s.users.LoggedIn(); ok {
		pubkeys = lo.Uniq(append(pubkeys, user.Pubkey))
	}

	profiles, err := s.deps.Resolver.Resolve(s.ctx, pubkeys)
	if err != nil {
		s.logger.Warn("profile resolution failed", "authors", len(pubkeys), "error", err)
	}
	if s.closed.Load() {
		return
	}
	metadata.Apply(s.users, profiles)
}

// Anchor returns the resolved anchor, or nil before resolution
func (s *Session) Anchor() anchor.Anchor {
	s.anchorMu.RLock()
	defer s.anchorMu.RUnlock()
	return s.anchor
}

// Reference returns the configured anchor reference
func (s *Session) Reference() anchor.Reference {
	return s.ref
}

// Forest returns the last materialized forest
func (s *Session) Forest() thread.Forest {
	return *s.forest.Load()
}

// Events returns the session's event store
func (s *Session) Events() *store.Events {
	return s.events
}

// Users returns a copy of every known user
func (s *Session) Users() map[string]store.User {
	return s.users.All()
}

// UserStore returns the session's user store
func (s *Session) UserStore() *store.Users {
	return s.users
}

// Totals returns the thread totals of the last materialized forest
func (s *Session) Totals() aggregates.Totals {
	return s.tally.Totals(s.Forest())
}

// Counts returns per-comment counts for the last materialized forest
func (s *Session) Counts() map[string]aggregates.Counts {
	return s.tally.Annotate(s.Forest())
}

// Features returns the feature toggles the session runs with
func (s *Session) Features() config.Features {
	return s.cfg.Features
}

// ThreadStats reports the size of the thread for diagnostics
func (s *Session) ThreadStats() ops.ThreadStats {
	forest := s.Forest()
	totals := s.tally.Totals(forest)
	return ops.ThreadStats{
		Anchor:   s.ref.String(),
		Resolved: s.Anchor() != nil,
		Events:   s.events.Len(),
		Nodes:    forest.Len(),
		Roots:    len(forest),
		Authors:  len(s.events.Authors()),
		Version:  s.events.Version(),
		Likes:    totals.Likes,
		Zaps:     totals.Zaps,
		ZapSats:  totals.ZapSats,
	}
}

// Flush materializes pending work immediately
func (s *Session) Flush() {
	s.nestGate.Flush()
	s.profileGate.Flush()
}

// Editor creates an editor replying to replyTo, or to the thread root
func (s *Session) Editor(replyTo string) *authoring.Editor {
	return s.editor(replyTo, false)
}

func (s *Session) editor(replyTo string, anonymous bool) *authoring.Editor {
	deps := authoring.Deps{
		Events:    s.events,
		Users:     s.users,
		Anchor:    s.Anchor(),
		Anonymous: anonymous,
		OnDone:    s.archive,
		Now:       s.deps.Now,
		Logger:    s.deps.Logger,
	}
	if s.cfg.Signer.Publish {
		deps.Publisher = relayPublisher{
			relay:   s.deps.Relay,
			relays:  s.relays,
			events:  s.events,
			inboxes: s.deps.Inboxes,
			logger:  s.logger,
		}
	}
	return authoring.NewEditor(deps, replyTo)
}

// Reply submits content as a reply in one step, signed by the logged-in
// user when there is one
func (s *Session) Reply(ctx context.Context, replyTo, content string) (*nostr.Event, error) {
	return s.reply(ctx, replyTo, content, false)
}

// ReplyAnonymous is Reply signed by the session's anonymous identity even
// while a user is logged in
func (s *Session) ReplyAnonymous(ctx context.Context, replyTo, content string) (*nostr.Event, error) {
	return s.reply(ctx, replyTo, content, true)
}

func (s *Session) reply(ctx context.Context, replyTo, content string, anonymous bool) (*nostr.Event, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	editor := s.editor(replyTo, anonymous)
	editor.SetDraft(content)

	evt, err := editor.Submit(ctx)
	switch {
	case err == nil:
		metrics.RepliesPublished.WithLabelValues("signed").Inc()
	case errors.Is(err, authoring.ErrEmpty):
		metrics.RepliesPublished.WithLabelValues("empty").Inc()
	default:
		metrics.RepliesPublished.WithLabelValues("failed").Inc()
	}
	return evt, err
}

// Login connects a remote signer and makes its identity the session's
// logged-in user, replacing any previous one
func (s *Session) Login(ctx context.Context, bunkerURL string) (*store.User, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if s.deps.Bunkers == nil {
		return nil, fmt.Errorf("remote signing is not configured: %w", signer.ErrNoSigner)
	}

	remote, err := s.deps.Bunkers(ctx, bunkerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect bunker: %w", err)
	}
	pubkey, err := remote.PublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}

	user := &store.User{Pubkey: pubkey}
	if existing, ok := s.users.Get(pubkey); ok {
		copied := *existing
		user = &copied
	}
	user.LoggedIn = true
	user.Signer = remote
	s.users.Put(user)

	s.profileGate.Request()
	s.logger.Info("logged in", "pubkey", pubkey)
	return user, nil
}

// Close cancels the subscription and pending recomputations. Results
// arriving afterwards are discarded.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.nestGate.Stop()
	s.profileGate.Stop()
	s.cancel()
	s.wg.Wait()

	s.logger.Debug("session closed")
	return nil
}

type relayPublisher struct {
	relay   Relay
	relays  []string
	events  *store.Events
	inboxes InboxFinder
	logger  *ops.Logger
}

func (p relayPublisher) Publish(ctx context.Context, evt *nostr.Event) error {
	targets := p.relays
	if p.inboxes != nil {
		extra := p.inboxes.Inboxes(ctx, p.recipients(evt), p.relays)
		targets = lo.Uniq(append(append([]string(nil), p.relays...), extra...))
		p.logger.Debug("publishing to inboxes", "event_id", evt.ID, "relays", len(targets))
	}
	return p.relay.PublishEvent(ctx, targets, evt)
}

// recipients are the authors of the events and addresses a reply points at
func (p relayPublisher) recipients(evt *nostr.Event) []string {
	var pubkeys []string
	for _, tag := range evt.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "e":
			if parent, ok := p.events.Get(tag[1]); ok {
				pubkeys = append(pubkeys, parent.PubKey)
			}
		case "a":
			if parts := strings.SplitN(tag[1], ":", 3); len(parts) == 3 {
				pubkeys = append(pubkeys, parts[1])
			}
		case "p":
			pubkeys = append(pubkeys, tag[1])
		}
	}
	return lo.Without(lo.Uniq(pubkeys), evt.PubKey)
}
