// Package authoring turns a draft into a signed reply inside the thread.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/sandwichfarm/zapthreads/internal/anchor"
	"github.com/sandwichfarm/zapthreads/internal/ops"
	"github.com/sandwichfarm/zapthreads/internal/signer"
	"github.com/sandwichfarm/zapthreads/internal/store"
)

var (
	ErrEmpty      = errors.New("reply is empty")
	ErrNoAnchor   = errors.New("thread has no root to reply to")
	ErrSignFailed = errors.New("signing failed")
	ErrInProgress = errors.New("a submission is already in progress")

	// ErrNoSigner is returned when the chosen identity cannot sign
	ErrNoSigner = signer.ErrNoSigner
)

// State of an editor
type State int

const (
	Editing State = iota
	Submitting
	Signed
	Failed
)

func (s State) String() string {
	switch s {
	case Editing:
		return "editing"
	case Submitting:
		return "submitting"
	case Signed:
		return "signed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Publisher sends a signed reply to relays
type Publisher interface {
	Publish(ctx context.Context, event *nostr.Event) error
}

// Deps are the session collaborators an editor works against
type Deps struct {
	Events *store.Events
	Users  *store.Users
	Anchor anchor.Anchor

	// Anonymous signs with the anonymous identity even when a user is logged in
	Anonymous bool

	// optional
	Publisher Publisher
	OnDone    func(*nostr.Event)
	Now       func() time.Time
	Logger    *ops.Logger
}

// Editor holds one draft reply, either to the thread root or to a comment
type Editor struct {
	deps    Deps
	replyTo string

	mu    sync.Mutex
	state State
	draft string
	err   error
}

// NewEditor creates an editor replying to the comment replyTo, or to the
// thread root when replyTo is empty
func NewEditor(deps Deps, replyTo string) *Editor {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = ops.Default()
	}
	deps.Logger = deps.Logger.WithComponent("authoring")
	return &Editor{deps: deps, replyTo: replyTo}
}

// SetDraft replaces the draft text and returns the editor to Editing
func (e *Editor) SetDraft(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Submitting {
		return
	}
	e.draft = text
	e.state = Editing
	e.err = nil
}

// Draft returns the current draft text
func (e *Editor) Draft() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

// State returns where the editor is in the submission cycle
func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the error of the last failed submission
func (e *Editor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// ReplyTo returns the parent comment id, empty for a root reply
func (e *Editor) ReplyTo() string {
	return e.replyTo
}

// Submit signs the draft and inserts it into the event store. On any
// failure the draft is kept and the store is left untouched.
func (e *Editor) Submit(ctx context.Context) (*nostr.Event, error) {
	e.mu.Lock()
	if e.state == Submitting {
		e.mu.Unlock()
		return nil, ErrInProgress
	}
	content := strings.TrimSpace(e.draft)
	if content == "" {
		e.mu.Unlock()
		return nil, ErrEmpty
	}
	e.state = Submitting
	e.mu.Unlock()

	event, err := e.sign(ctx, content)
	if err != nil {
		e.finish(Failed, err)
		e.deps.Logger.LogReply("", e.replyTo, err)
		return nil, err
	}

	e.deps.Events.Put(event)

	e.mu.Lock()
	e.draft = ""
	e.mu.Unlock()
	e.finish(Signed, nil)
	e.deps.Logger.LogReply(event.ID, e.replyTo, nil)

	if e.deps.Publisher != nil {
		if err := e.deps.Publisher.Publish(ctx, event); err != nil {
			e.deps.Logger.Warn("publish failed", "event_id", event.ID, "error", err)
		}
	}
	if e.deps.OnDone != nil {
		e.deps.OnDone(event)
	}
	return event, nil
}

func (e *Editor) finish(state State, err error) {
	e.mu.Lock()
	e.state = state
	e.err = err
	e.mu.Unlock()
}

func (e *Editor) sign(ctx context.Context, content string) (*nostr.Event, error) {
	if e.deps.Anchor == nil {
		return nil, ErrNoAnchor
	}
	rootTag, err := e.deps.Anchor.RootTag()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAnchor, err)
	}

	user, err := e.identity()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignFailed, err)
	}
	if user.Signer == nil {
		return nil, ErrNoSigner
	}

	pubkey, err := user.Signer.PublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignFailed, err)
	}

	tags := nostr.Tags{rootTag}
	if e.replyTo != "" {
		tags = append(tags, nostr.Tag{"e", e.replyTo, "", "reply"})
	}

	event := &nostr.Event{
		PubKey:    pubkey,
		CreatedAt: nostr.Timestamp(e.deps.Now().Unix()),
		Kind:      nostr.KindTextNote,
		Tags:      tags,
		Content:   content,
	}
	event.ID = event.GetID()

	sig, err := user.Signer.Sign(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignFailed, err)
	}
	event.Sig = sig
	return event, nil
}

// identity is the logged-in user, else the session's anonymous identity
func (e *Editor) identity() (*store.User, error) {
	if !e.deps.Anonymous {
		if user, ok := e.deps.Users.LoggedIn(); ok {
			return user, nil
		}
	}
	return e.deps.Users.Anonymous(NewAnonymousUser)
}

// NewAnonymousUser creates a user backed by a fresh ephemeral key
func NewAnonymousUser() (*store.User, error) {
	s, err := signer.NewEphemeral()
	if err != nil {
		return nil, err
	}
	pubkey, _ := s.PublicKey(context.Background())
	npub, _ := nip19.EncodePublicKey(pubkey)
	return &store.User{
		Pubkey: pubkey,
		Npub:   npub,
		Signer: s,
	}, nil
}
