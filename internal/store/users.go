package store

import (
	"sync"

	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sandwichfarm/zapthreads/internal/signer"
)

// AnonymousKey is the user store key of the session's anonymous identity
const AnonymousKey = "anonymous"

// User is a profile and, when known, a signing capability
type User struct {
	Pubkey    string
	Npub      string
	Name      string
	ImgURL    string
	LoggedIn  bool
	Signer    signer.Signer // nil until the identity can sign
	Timestamp int64         // created_at of the profile event merged last
}

// Users maps author pubkeys to user records
type Users struct {
	users *xsync.MapOf[string, *User]

	anonMu sync.Mutex

	loginMu  sync.Mutex
	loggedIn string // pubkey of the logged-in user
}

// NewUsers creates an empty user store
func NewUsers() *Users {
	return &Users{
		users: xsync.NewMapOf[string, *User](),
	}
}

// Get returns the user stored under key
func (u *Users) Get(key string) (*User, bool) {
	return u.users.Load(key)
}

// Put stores a user record under its pubkey. Storing a logged-in user logs
// out the previous one and drops its signer.
func (u *Users) Put(user *User) {
	if user == nil || user.Pubkey == "" {
		return
	}

	u.loginMu.Lock()
	defer u.loginMu.Unlock()

	switch {
	case user.LoggedIn:
		if u.loggedIn != "" && u.loggedIn != user.Pubkey {
			u.users.Compute(u.loggedIn, func(old *User, loaded bool) (*User, bool) {
				if !loaded {
					return nil, true
				}
				copied := *old
				copied.LoggedIn = false
				copied.Signer = nil
				return &copied, false
			})
		}
		u.loggedIn = user.Pubkey
	case u.loggedIn == user.Pubkey:
		u.loggedIn = ""
	}
	u.users.Store(user.Pubkey, user)
}

// MergeProfile overwrites display fields of the user identified by pubkey.
// Profiles older than the one already merged are ignored, and a known
// signer or login state is never cleared.
func (u *Users) MergeProfile(pubkey, name, imgURL string, timestamp int64) {
	if pubkey == "" {
		return
	}

	u.users.Compute(pubkey, func(old *User, loaded bool) (*User, bool) {
		next := &User{Pubkey: pubkey}
		if loaded {
			if old.Timestamp > timestamp {
				return old, false
			}
			copied := *old
			next = &copied
		}

		next.Name = name
		next.ImgURL = imgURL
		next.Timestamp = timestamp
		if next.Npub == "" {
			if npub, err := nip19.EncodePublicKey(pubkey); err == nil {
				next.Npub = npub
			}
		}
		return next, false
	})
}

// LoggedIn returns the logged-in user, if any
func (u *Users) LoggedIn() (*User, bool) {
	u.loginMu.Lock()
	pubkey := u.loggedIn
	u.loginMu.Unlock()

	if pubkey == "" {
		return nil, false
	}
	user, ok := u.users.Load(pubkey)
	if !ok || !user.LoggedIn {
		return nil, false
	}
	return user, true
}

// Anonymous returns the session's anonymous user, calling create the first
// time only. A failed create leaves no user behind so a later call retries.
func (u *Users) Anonymous(create func() (*User, error)) (*User, error) {
	u.anonMu.Lock()
	defer u.anonMu.Unlock()

	if user, ok := u.users.Load(AnonymousKey); ok {
		return user, nil
	}

	user, err := create()
	if err != nil {
		return nil, err
	}
	u.users.Store(AnonymousKey, user)
	return user, nil
}

// All returns a copy of every user record keyed by store key
func (u *Users) All() map[string]User {
	all := make(map[string]User, u.users.Size())
	u.users.Range(func(key string, user *User) bool {
		all[key] = *user
		return true
	})
	return all
}
