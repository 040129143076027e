// Package expiry implements the session expiry state machine.
//
// The Monitor observes the session store's expiry flag. When the flag is
// raised it warns the operator once and schedules a forced sign-out after the
// redirect delay; when the flag drops before that, the pending sign-out is
// cancelled. All expiry signals, whether raised by the transport bridge or
// found by a local check, converge on the store flag, so one episode yields
// exactly one warning and one timer however many callers report it.
package expiry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/audit"
	"github.com/chimerakang/assetconsole/clock"
	"github.com/chimerakang/assetconsole/metrics"
	"github.com/chimerakang/assetconsole/session"
)

// Phase of the expiry state machine.
type Phase int

const (
	// Active means no expiry episode is in progress.
	Active Phase = iota
	// ExpiredPending means the sign-out timer is running.
	ExpiredPending
)

func (p Phase) String() string {
	switch p {
	case Active:
		return "active"
	case ExpiredPending:
		return "expired_pending"
	default:
		return "unknown"
	}
}

// Expiry reasons reported to metrics and audit.
const (
	ReasonLocal  = "local"
	ReasonBridge = "bridge"
)

// DefaultWarning is shown once per episode.
const DefaultWarning = "Your session has expired, please sign in again"

// Monitor drives the expiry episode of one session store.
type Monitor struct {
	store       *session.Store
	nav         console.Navigator
	notifier    console.Notifier
	clock       clock.Clock
	delay       time.Duration
	publicRoute string
	warning     string
	logger      *slog.Logger
	metrics     *metrics.Metrics
	audit       *audit.Logger
	onSignOut   []func()

	mu          sync.Mutex
	started     bool
	unsubscribe func()
	timer       clock.Timer
	scheduled   bool
	warned      bool
	firing      bool
	generation  uint64
	episode     string
	reason      string
}

// Option configures the Monitor.
type Option func(*Monitor)

// WithClock sets the clock used to schedule the sign-out.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithRedirectDelay sets the pause between the warning and the forced
// sign-out. Default: console.DefaultRedirectDelay.
func WithRedirectDelay(d time.Duration) Option {
	return func(m *Monitor) { m.delay = d }
}

// WithPublicRoute sets the route navigated to after sign-out.
func WithPublicRoute(route string) Option {
	return func(m *Monitor) { m.publicRoute = route }
}

// WithWarningMessage replaces DefaultWarning.
func WithWarningMessage(msg string) Option {
	return func(m *Monitor) { m.warning = msg }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMetrics records expiry episodes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// WithAuditLogger records expiry detection and forced sign-out events.
func WithAuditLogger(l *audit.Logger) Option {
	return func(m *Monitor) { m.audit = l }
}

// WithSignOutHook runs fn after every forced sign-out, before navigation.
func WithSignOutHook(fn func()) Option {
	return func(m *Monitor) { m.onSignOut = append(m.onSignOut, fn) }
}

// NewMonitor creates a Monitor. Call Start to begin observing the store.
func NewMonitor(store *session.Store, nav console.Navigator, notifier console.Notifier, opts ...Option) *Monitor {
	m := &Monitor{
		store:       store,
		nav:         nav,
		notifier:    notifier,
		clock:       clock.Real(),
		delay:       console.DefaultRedirectDelay,
		publicRoute: console.RouteLogin,
		warning:     DefaultWarning,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.New(false)
	}
	return m
}

// Start subscribes to the store. If the store is already flagged expired an
// episode begins immediately. Calling Start twice is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	unsubscribe := m.store.Subscribe(m.observe)

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.observe(m.store.State())
}

// Stop unsubscribes from the store and cancels a pending sign-out.
func (m *Monitor) Stop() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.started = false
	m.cancelLocked()
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Expire reports an expiry signal. It raises the store flag; the episode
// itself starts from the resulting store notification.
func (m *Monitor) Expire(reason string) {
	m.mu.Lock()
	if !m.scheduled {
		m.reason = reason
	}
	m.mu.Unlock()

	m.store.SetExpiredFlag(true)
}

// Check runs the store's local expiry check and reports whether the session
// is expired. A valid session resets a stale warning latch so the next
// episode warns again.
func (m *Monitor) Check() bool {
	if m.store.CheckExpired() {
		return true
	}
	m.mu.Lock()
	if !m.scheduled {
		m.warned = false
	}
	m.mu.Unlock()
	return false
}

// Phase returns the current phase.
func (m *Monitor) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scheduled {
		return ExpiredPending
	}
	return Active
}

// EpisodeID returns the identifier of the current or most recent episode.
func (m *Monitor) EpisodeID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.episode
}

func (m *Monitor) observe(st session.State) {
	if !st.Expired {
		m.mu.Lock()
		if !m.firing {
			m.cancelLocked()
		}
		m.mu.Unlock()
		return
	}
	m.enter(st)
}

func (m *Monitor) enter(st session.State) {
	m.mu.Lock()
	if m.scheduled || m.firing {
		m.mu.Unlock()
		return
	}
	reason := m.reason
	if reason == "" {
		reason = ReasonLocal
	}
	m.reason = ""
	warn := !m.warned
	m.warned = true
	m.generation++
	gen := m.generation
	m.episode = uuid.NewString()
	episode := m.episode
	m.scheduled = true
	m.timer = m.clock.AfterFunc(m.delay, func() { m.fire(gen) })
	m.mu.Unlock()

	var userID string
	if st.Profile != nil {
		userID = st.Profile.ID
	}
	m.logger.Info("session expired", "episode", episode, "reason", reason, "user", userID, "redirect_in", m.delay)
	m.metrics.RecordExpiry(reason)
	m.record(audit.Event{Action: "expiry_detected", Episode: episode, UserID: userID, Result: "success", Details: reason})

	if warn && m.notifier != nil {
		m.notifier.Warn(m.warning)
	}
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	if !m.scheduled || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.scheduled = false
	m.timer = nil
	m.firing = true
	episode := m.episode
	m.mu.Unlock()

	var userID string
	if p := m.store.Profile(); p != nil {
		userID = p.ID
	}

	m.store.SetExpiredFlag(false)
	m.store.Logout()

	m.mu.Lock()
	m.firing = false
	m.warned = false
	m.mu.Unlock()

	for _, fn := range m.onSignOut {
		fn()
	}

	m.logger.Info("forced sign-out", "episode", episode, "user", userID, "to", m.publicRoute)
	m.record(audit.Event{Action: "forced_signout", Episode: episode, UserID: userID, Result: "success"})

	if m.nav != nil {
		m.nav.Navigate(m.publicRoute, console.NavigateOptions{Replace: true})
	}
}

// cancelLocked stops a pending sign-out and resets the warning latch.
// Caller holds mu.
func (m *Monitor) cancelLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.scheduled {
		m.logger.Debug("expiry episode cancelled", "episode", m.episode)
	}
	m.scheduled = false
	m.warned = false
	m.reason = ""
}

func (m *Monitor) record(e audit.Event) {
	if m.audit != nil {
		m.audit.Log(e)
	}
}
