// Package guard decides whether a protected console view may render.
//
// Each mounted View waits for the session store to finish hydrating, pauses
// for a short settle delay, then judges the session: no credential means a
// redirect to the public route carrying the requested location; a credential
// means the content renders, even while an expiry episode is under way (the
// expiry monitor owns that redirect). For its whole lifetime a View also
// listens on the signal bridge and reports authorization failures to the
// monitor.
package guard

import (
	"log/slog"
	"sync"
	"time"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/bridge"
	"github.com/chimerakang/assetconsole/clock"
	"github.com/chimerakang/assetconsole/expiry"
	"github.com/chimerakang/assetconsole/metrics"
	"github.com/chimerakang/assetconsole/session"
)

// Status of a mounted view.
type Status int

const (
	// Checking renders a neutral loading indicator.
	Checking Status = iota
	// Content renders the protected view.
	Content
	// Redirect sends the operator to the public route.
	Redirect
)

func (s Status) String() string {
	switch s {
	case Checking:
		return "checking"
	case Content:
		return "content"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Guard mounts views against one session.
type Guard struct {
	store       *session.Store
	monitor     *expiry.Monitor
	bridge      *bridge.Bridge
	clock       clock.Clock
	settle      time.Duration
	publicRoute string
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures the Guard.
type Option func(*Guard)

// WithClock sets the clock used for the settle delay.
func WithClock(c clock.Clock) Option {
	return func(g *Guard) { g.clock = c }
}

// WithSettleDelay sets the pause between hydration and the first check.
// Zero or negative checks immediately. Default: console.DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(g *Guard) { g.settle = d }
}

// WithPublicRoute sets the redirect target for signed-out operators.
func WithPublicRoute(route string) Option {
	return func(g *Guard) { g.publicRoute = route }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithMetrics records guard redirects.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// New creates a Guard. The bridge may be nil.
func New(store *session.Store, monitor *expiry.Monitor, b *bridge.Bridge, opts ...Option) *Guard {
	g := &Guard{
		store:       store,
		monitor:     monitor,
		bridge:      b,
		clock:       clock.Real(),
		settle:      console.DefaultSettleDelay,
		publicRoute: console.RouteLogin,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = metrics.New(false)
	}
	return g
}

// View is one mounted guarded view.
type View struct {
	g        *Guard
	location string
	done     chan struct{}

	mu            sync.Mutex
	status        Status
	unmounted     bool
	settleTimer   clock.Timer
	unsubBridge   func()
	unsubHydrated func()
}

// Mount starts guarding the view at location, the path the operator asked for.
func (g *Guard) Mount(location string) *View {
	v := &View{g: g, location: location, done: make(chan struct{})}

	if g.bridge != nil {
		unsub := g.bridge.Subscribe(v.onAuthFailure)
		v.mu.Lock()
		v.unsubBridge = unsub
		v.mu.Unlock()
	}

	if g.store.IsHydrated() {
		v.startSettle()
		return v
	}

	var once sync.Once
	unsub := g.store.Subscribe(func(st session.State) {
		if st.Hydrated {
			once.Do(func() {
				v.dropHydrationListener()
				v.startSettle()
			})
		}
	})
	v.mu.Lock()
	v.unsubHydrated = unsub
	v.mu.Unlock()

	// Hydration may have completed between the check and the subscription.
	if g.store.IsHydrated() {
		once.Do(func() {
			v.dropHydrationListener()
			v.startSettle()
		})
	}
	return v
}

// Status returns the current rendering status.
func (v *View) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Done is closed once the view leaves Checking or is unmounted.
func (v *View) Done() <-chan struct{} { return v.done }

// Location returns the path the view guards.
func (v *View) Location() string { return v.location }

// RedirectTarget returns the public route and the recorded origin when the
// status is Redirect.
func (v *View) RedirectTarget() (to, from string, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != Redirect {
		return "", "", false
	}
	return v.g.publicRoute, v.location, true
}

// Unmount cancels the settle timer and removes the view's listeners.
// A view unmounted while checking stays in Checking. Safe to call twice.
func (v *View) Unmount() {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	v.unmounted = true
	if v.settleTimer != nil {
		v.settleTimer.Stop()
		v.settleTimer = nil
	}
	unsubs := []func(){v.unsubBridge, v.unsubHydrated}
	v.unsubBridge, v.unsubHydrated = nil, nil
	checking := v.status == Checking
	v.mu.Unlock()

	for _, fn := range unsubs {
		if fn != nil {
			fn()
		}
	}
	if checking {
		close(v.done)
	}
}

func (v *View) onAuthFailure() {
	v.mu.Lock()
	unmounted := v.unmounted
	v.mu.Unlock()
	if unmounted {
		return
	}
	v.g.monitor.Expire(expiry.ReasonBridge)
}

func (v *View) dropHydrationListener() {
	v.mu.Lock()
	unsub := v.unsubHydrated
	v.unsubHydrated = nil
	v.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (v *View) startSettle() {
	if v.g.settle <= 0 {
		v.judge()
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unmounted {
		return
	}
	v.settleTimer = v.g.clock.AfterFunc(v.g.settle, v.judge)
}

func (v *View) judge() {
	v.mu.Lock()
	if v.unmounted || v.status != Checking {
		v.mu.Unlock()
		return
	}
	v.settleTimer = nil
	v.mu.Unlock()

	v.g.monitor.Check()
	hasCredential := v.g.store.Credential() != ""

	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	if hasCredential {
		v.status = Content
	} else {
		v.status = Redirect
	}
	status := v.status
	close(v.done)
	v.mu.Unlock()

	if status == Redirect {
		v.g.metrics.RecordGuardRedirect("no_credential")
		v.g.logger.Debug("guarded view redirected", "path", v.location, "to", v.g.publicRoute)
	}
}
