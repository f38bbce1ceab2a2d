// Package identity resolves the session key that names "whose cart this is",
// independent of whether the visitor is a guest or a signed-in account.
package identity

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/coachpo/trolley/internal/storage"
)

const (
	// DefaultStorageKey is where the guest identity persists across visits.
	DefaultStorageKey = "trolley.session.identity"

	accountPrefix = "acct:"
	guestPrefix   = "guest-"
)

// EncodeAccount returns the deterministic session key for an account id. The
// same account always yields the same key.
func EncodeAccount(accountID string) string {
	return accountPrefix + accountID
}

// Kind classifies a session key as "account" or "guest". Anything that does
// not carry the account prefix belongs to a guest session.
func Kind(sessionKey string) string {
	if strings.HasPrefix(sessionKey, accountPrefix) {
		return "account"
	}
	return "guest"
}

// Resolver derives the active session key. It carries explicit state with the
// lifecycle of the application session; there is no package-level identity.
type Resolver struct {
	store      storage.Store
	storageKey string

	mu       sync.Mutex
	account  string
	guest    string
	degraded bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStorageKey overrides the key the guest identity persists under.
func WithStorageKey(key string) Option {
	return func(r *Resolver) {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			r.storageKey = trimmed
		}
	}
}

// New constructs a Resolver over the given durable store. A nil store runs
// the resolver in memory-only mode from the start.
func New(store storage.Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, storageKey: DefaultStorageKey}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if store == nil {
		r.degraded = true
	}
	return r
}

// Identity returns the currently active session key. For guests the identity
// is created and persisted on first use, so a reload before any cart action
// still resolves to the same guest cart.
func (r *Resolver) Identity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account != "" {
		return EncodeAccount(r.account)
	}
	return r.guestLocked()
}

// SetAuthenticatedAccount switches the active identity to the given account,
// or back to the guest identity when accountID is empty. It reports whether
// the active identity changed. The persisted guest identity is never deleted
// or regenerated by a switch in either direction.
func (r *Resolver) SetAuthenticatedAccount(accountID string) bool {
	trimmed := strings.TrimSpace(accountID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account == trimmed {
		return false
	}
	r.account = trimmed
	return true
}

// Account returns the active account id, or empty for a guest session.
func (r *Resolver) Account() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account
}

// GuestIdentity resolves the guest session key regardless of the active
// account, for callers that operate on both identities (e.g. cart migration).
func (r *Resolver) GuestIdentity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.guestLocked()
}

// Degraded reports whether the resolver fell back to an in-memory identity
// because durable storage was unavailable.
func (r *Resolver) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

func (r *Resolver) guestLocked() string {
	if r.guest != "" {
		return r.guest
	}

	if !r.degraded {
		stored, ok, err := r.store.Get(r.storageKey)
		switch {
		case err != nil:
			r.degraded = true
		case ok && strings.TrimSpace(stored) != "":
			r.guest = stored
			return r.guest
		}
	}

	r.guest = guestPrefix + uuid.NewString()
	if !r.degraded {
		if err := r.store.Set(r.storageKey, r.guest); err != nil {
			// Degraded persistence, not a hard failure: the identity stays
			// stable for the lifetime of this process.
			r.degraded = true
		}
	}
	return r.guest
}
