// Package session holds the console's authentication state: the credential,
// the operator profile and the expiry flag.
//
// The Store is an explicit, injected state container. Persistent storage keeps
// {credential, profile} across restarts; transient storage keeps the marker of
// an in-progress expiry episode for the life of the console process only.
// No Store operation returns an error: storage failures are logged and the
// in-memory state stays authoritative.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/storage"
	"github.com/chimerakang/assetconsole/token"
)

// Storage keys.
const (
	DefaultPersistKey = "auth-storage"
	DefaultMarkerKey  = "tokenExpired"
)

// State is a snapshot of the session.
type State struct {
	Credential string
	Profile    *console.UserProfile
	Expired    bool
	Error      string
	Hydrated   bool
}

// Authenticated reports whether a credential is present.
func (s State) Authenticated() bool { return s.Credential != "" }

// persisted is the on-disk layout of the persistent entry.
type persisted struct {
	State struct {
		Token string               `json:"token"`
		User  *console.UserProfile `json:"user"`
	} `json:"state"`
}

// Store is the session state container.
type Store struct {
	persistent storage.Storage
	transient  storage.Storage
	codec      *token.Codec
	logger     *slog.Logger
	persistKey string
	markerKey  string
	opTimeout  time.Duration

	mu        sync.Mutex
	state     State
	hydrated  chan struct{}
	observers map[int]func(State)
	nextID    int
}

var _ console.SessionStore = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger used for storage failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeys overrides the persistent entry and transient marker keys.
func WithKeys(persistKey, markerKey string) Option {
	return func(s *Store) {
		s.persistKey = persistKey
		s.markerKey = markerKey
	}
}

// WithStorageTimeout bounds each storage call. Default: 2 seconds.
func WithStorageTimeout(d time.Duration) Option {
	return func(s *Store) { s.opTimeout = d }
}

// NewStore creates a Store. It starts empty and unhydrated; call Hydrate to
// restore the persisted session.
func NewStore(persistent, transient storage.Storage, codec *token.Codec, opts ...Option) *Store {
	s := &Store{
		persistent: persistent,
		transient:  transient,
		codec:      codec,
		logger:     slog.Default(),
		persistKey: DefaultPersistKey,
		markerKey:  DefaultMarkerKey,
		opTimeout:  2 * time.Second,
		hydrated:   make(chan struct{}),
		observers:  make(map[int]func(State)),
	}
	for _, o := range opts {
		o(s)
	}
	if s.codec == nil {
		s.codec = token.New()
	}
	return s
}

// Hydrate restores {credential, profile} from persistent storage and marks the
// store hydrated. The expiry flag is not restored; CheckExpired re-derives it
// from the transient marker. Calling Hydrate again is a no-op.
func (s *Store) Hydrate(ctx context.Context) {
	s.mu.Lock()
	if s.state.Hydrated {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	var restored persisted
	raw, ok, err := s.persistent.Get(ctx, s.persistKey)
	switch {
	case err != nil:
		s.logger.Warn("session restore failed", "error", err)
	case ok:
		if err := json.Unmarshal([]byte(raw), &restored); err != nil {
			s.logger.Warn("discarding unreadable persisted session", "error", err)
			restored = persisted{}
		}
	}

	s.mu.Lock()
	if s.state.Hydrated {
		s.mu.Unlock()
		return
	}
	// A login that raced hydration wins over the persisted copy.
	if s.state.Credential == "" {
		s.state.Credential = restored.State.Token
		s.state.Profile = restored.State.User
		if s.state.Credential == "" {
			s.state.Profile = nil
		}
	}
	s.state.Hydrated = true
	close(s.hydrated)
	s.mu.Unlock()

	s.notify()
}

// Hydrated returns a channel closed once Hydrate has completed.
func (s *Store) Hydrated() <-chan struct{} { return s.hydrated }

// IsHydrated reports whether Hydrate has completed.
func (s *Store) IsHydrated() bool {
	select {
	case <-s.hydrated:
		return true
	default:
		return false
	}
}

// Login stores a fresh session and clears any prior error and expiry state.
func (s *Store) Login(credential string, profile console.UserProfile) {
	p := profile
	s.mu.Lock()
	s.state.Credential = credential
	s.state.Profile = &p
	s.state.Error = ""
	s.state.Expired = false
	s.mu.Unlock()

	s.deleteMarker()
	s.persist(credential, &p)
	s.notify()
}

// Logout clears the transient marker and resets credential, profile, error and
// expiry flag. It is idempotent.
func (s *Store) Logout() {
	s.deleteMarker()

	s.mu.Lock()
	s.state.Credential = ""
	s.state.Profile = nil
	s.state.Error = ""
	s.state.Expired = false
	s.mu.Unlock()

	ctx, cancel := s.opContext()
	defer cancel()
	if err := s.persistent.Delete(ctx, s.persistKey); err != nil {
		s.logger.Warn("clearing persisted session failed", "error", err)
	}
	s.notify()
}

// SetExpiredFlag sets the expiry flag. Setting it also writes the transient
// marker so a reload inside the same process scope remembers the episode;
// clearing it removes the marker.
func (s *Store) SetExpiredFlag(expired bool) {
	s.mu.Lock()
	s.state.Expired = expired
	s.mu.Unlock()

	if expired {
		ctx, cancel := s.opContext()
		defer cancel()
		if err := s.transient.Set(ctx, s.markerKey, "true"); err != nil {
			s.logger.Warn("writing expiry marker failed", "error", err)
		}
	} else {
		s.deleteMarker()
	}
	s.notify()
}

// CheckExpired flags the session expired when the transient marker is set or
// the current credential is no longer valid, and reports the resulting flag.
// It never clears the flag. Without a credential there is nothing to expire.
func (s *Store) CheckExpired() bool {
	s.mu.Lock()
	credential := s.state.Credential
	already := s.state.Expired
	s.mu.Unlock()

	if credential == "" {
		return already
	}

	expired := s.markerSet() || !s.codec.IsValid(credential)
	if expired {
		s.SetExpiredFlag(true)
		return true
	}
	return already
}

// SetError records a user-visible error from the last login attempt.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.state.Error = msg
	s.mu.Unlock()
	s.notify()
}

// State returns a snapshot of the session.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Credential returns the current credential, or "".
func (s *Store) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Credential
}

// Profile returns a copy of the operator profile, or nil.
func (s *Store) Profile() *console.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Profile == nil {
		return nil
	}
	p := *s.state.Profile
	return &p
}

// Expired reports the expiry flag.
func (s *Store) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Expired
}

// Codec returns the token codec the store validates with.
func (s *Store) Codec() *token.Codec { return s.codec }

// Subscribe registers fn to receive a snapshot after every mutation.
// Observers run on the mutating goroutine, outside the store lock, in
// registration order. The returned function removes the observer.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) snapshot() State {
	st := s.state
	if st.Profile != nil {
		p := *st.Profile
		st.Profile = &p
	}
	return st
}

func (s *Store) notify() {
	s.mu.Lock()
	st := s.snapshot()
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(State), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.observers[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

func (s *Store) persist(credential string, profile *console.UserProfile) {
	var doc persisted
	doc.State.Token = credential
	doc.State.User = profile
	data, err := json.Marshal(doc)
	if err != nil {
		s.logger.Warn("encoding session failed", "error", err)
		return
	}

	ctx, cancel := s.opContext()
	defer cancel()
	if err := s.persistent.Set(ctx, s.persistKey, string(data)); err != nil {
		s.logger.Warn("persisting session failed", "error", err)
	}
}

func (s *Store) markerSet() bool {
	ctx, cancel := s.opContext()
	defer cancel()
	v, ok, err := s.transient.Get(ctx, s.markerKey)
	if err != nil {
		s.logger.Warn("reading expiry marker failed", "error", err)
		return false
	}
	return ok && v == "true"
}

func (s *Store) deleteMarker() {
	ctx, cancel := s.opContext()
	defer cancel()
	if err := s.transient.Delete(ctx, s.markerKey); err != nil {
		s.logger.Warn("clearing expiry marker failed", "error", err)
	}
}

func (s *Store) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}
