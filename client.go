// Package console provides the session core of the IT asset administration
// console: a thin client over the asset backend's REST API.
//
// The root package defines the shared types and the Client, which owns the
// operator-facing login and logout flows. Concrete collaborators are injected
// via Option functions:
//
//	client, err := console.NewClient(
//	    console.Config{Endpoint: "https://assets.example.com/api"},
//	    console.WithAuthService(apiClient),
//	    console.WithSessionStore(store),
//	    console.WithNavigator(nav),
//	)
//
// The app package wires a complete console from a Config.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chimerakang/assetconsole/audit"
	"github.com/chimerakang/assetconsole/metrics"
)

// SessionStore is the session state container used by the Client.
// Implementation: session.Store.
type SessionStore interface {
	Login(credential string, profile UserProfile)
	Logout()
	SetError(msg string)
	Credential() string
	Profile() *UserProfile
}

// TokenVerifier verifies the signature of a credential issued at login.
// Implementation: jwks.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Client orchestrates the login and logout flows of the console.
type Client struct {
	config   Config
	logger   *slog.Logger
	auth     AuthService
	store    SessionStore
	nav      Navigator
	notifier Notifier
	verifier TokenVerifier
	devices  DeviceService
	perms    PermissionService
	checks   CheckService
	dicts    DictionaryService
	audit    *audit.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	onLogout []func()
	pending  sync.WaitGroup
}

// Config holds backend and behavior configuration.
type Config struct {
	// Endpoint is the base URL of the asset backend REST API.
	Endpoint string

	// PasswordKey is the pre-shared AES key used to encrypt the login secret.
	PasswordKey string

	// JWKSUrl, when set, enables signature verification of issued credentials.
	JWKSUrl string

	// RedirectDelay is how long the expiry warning stays visible before the
	// forced sign-out. Default: 3 seconds.
	RedirectDelay time.Duration

	// SettleDelay is the pause a guarded view takes after storage hydration
	// before judging the session. Default: 100 ms. Negative disables it.
	SettleDelay time.Duration

	// ExpiryWarnBuffer is the window in which a credential counts as
	// expiring soon. Default: 5 minutes.
	ExpiryWarnBuffer time.Duration

	// DictionaryTTL controls how long dictionaries are cached. Default: 10 minutes.
	DictionaryTTL time.Duration

	// DictionarySize bounds the number of cached dictionaries. Default: 128.
	DictionarySize int

	// PublicRoute is the entry route for signed-out operators. Default: /login.
	PublicRoute string

	// DefaultRoute is where a login lands when no origin was recorded.
	// Default: /devices.
	DefaultRoute string

	// RequestTimeout bounds a single backend call. Default: 15 seconds.
	RequestTimeout time.Duration
}

// Defaults applied by NewClient.
const (
	DefaultRedirectDelay    = 3 * time.Second
	DefaultSettleDelay      = 100 * time.Millisecond
	DefaultExpiryWarnBuffer = 5 * time.Minute
	DefaultDictionaryTTL    = 10 * time.Minute
	DefaultDictionarySize   = 128
	DefaultRequestTimeout   = 15 * time.Second
)

// WithDefaults returns a copy of cfg with unset fields filled in.
func (cfg Config) WithDefaults() Config {
	if cfg.RedirectDelay <= 0 {
		cfg.RedirectDelay = DefaultRedirectDelay
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.ExpiryWarnBuffer <= 0 {
		cfg.ExpiryWarnBuffer = DefaultExpiryWarnBuffer
	}
	if cfg.DictionaryTTL <= 0 {
		cfg.DictionaryTTL = DefaultDictionaryTTL
	}
	if cfg.DictionarySize <= 0 {
		cfg.DictionarySize = DefaultDictionarySize
	}
	if cfg.PublicRoute == "" {
		cfg.PublicRoute = RouteLogin
	}
	if cfg.DefaultRoute == "" {
		cfg.DefaultRoute = RouteDefault
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return cfg
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithAuthService sets the login/logout boundary.
func WithAuthService(a AuthService) Option {
	return func(c *Client) { c.auth = a }
}

// WithSessionStore sets the session state container.
func WithSessionStore(s SessionStore) Option {
	return func(c *Client) { c.store = s }
}

// WithNavigator sets the navigation target for login and logout flows.
func WithNavigator(n Navigator) Option {
	return func(c *Client) { c.nav = n }
}

// WithNotifier sets the user-visible message sink.
func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// WithTokenVerifier enables signature verification of credentials at login.
func WithTokenVerifier(v TokenVerifier) Option {
	return func(c *Client) { c.verifier = v }
}

// WithDeviceService sets the device collaborator.
func WithDeviceService(s DeviceService) Option {
	return func(c *Client) { c.devices = s }
}

// WithPermissionService sets the device permission collaborator.
func WithPermissionService(s PermissionService) Option {
	return func(c *Client) { c.perms = s }
}

// WithCheckService sets the compliance check collaborator.
func WithCheckService(s CheckService) Option {
	return func(c *Client) { c.checks = s }
}

// WithDictionaryService sets the dictionary collaborator, usually a cache.
func WithDictionaryService(s DictionaryService) Option {
	return func(c *Client) { c.dicts = s }
}

// WithAuditLogger records login and logout events.
func WithAuditLogger(l *audit.Logger) Option {
	return func(c *Client) { c.audit = l }
}

// WithMetrics records login and logout counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a new console client with the given configuration and options.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("console: Endpoint is required")
	}

	c := &Client{config: cfg.WithDefaults()}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.New(false)
	}
	return c, nil
}

// Config returns the client configuration with defaults applied.
func (c *Client) Config() Config { return c.config }

// Store returns the session store, or nil if not configured.
func (c *Client) Store() SessionStore { return c.store }

// Devices returns the device service, or nil if not configured.
func (c *Client) Devices() DeviceService { return c.devices }

// Permissions returns the permission service, or nil if not configured.
func (c *Client) Permissions() PermissionService { return c.perms }

// Checks returns the compliance check service, or nil if not configured.
func (c *Client) Checks() CheckService { return c.checks }

// Dictionaries returns the dictionary service, or nil if not configured.
func (c *Client) Dictionaries() DictionaryService { return c.dicts }

// OnLogout registers fn to run after every local session teardown.
func (c *Client) OnLogout(fn func()) {
	c.mu.Lock()
	c.onLogout = append(c.onLogout, fn)
	c.mu.Unlock()
}

// Login signs the operator in and returns the route to continue to:
// from when an origin was recorded, the default route otherwise.
func (c *Client) Login(ctx context.Context, username, password, from string) (string, error) {
	if c.auth == nil || c.store == nil {
		return "", fmt.Errorf("console: auth service and session store are required")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return "", &ValidationError{Field: "username", Message: "required"}
	}
	if password == "" {
		return "", &ValidationError{Field: "password", Message: "required"}
	}

	res, err := c.auth.Login(ctx, username, password)
	if err != nil {
		c.metrics.RecordLogin("failure")
		c.store.SetError(err.Error())
		c.record(ctx, audit.Event{Action: "login", UserID: username, Result: "failure", Error: err.Error()})
		if IsNetwork(err) && c.notifier != nil {
			c.notifier.Error("Network error, please try again later")
		}
		return "", fmt.Errorf("console: login: %w", err)
	}

	if c.verifier != nil {
		if _, err := c.verifier.Verify(ctx, res.Credential); err != nil {
			c.metrics.RecordLogin("rejected")
			c.record(ctx, audit.Event{Action: "login", UserID: username, Result: "denied", Error: err.Error()})
			return "", fmt.Errorf("console: login: credential rejected: %w", err)
		}
	}

	c.store.Login(res.Credential, res.Profile)
	c.metrics.RecordLogin("success")
	c.record(ctx, audit.Event{Action: "login", UserID: res.Profile.ID, Result: "success"})
	c.logger.Info("operator signed in", "user", res.Profile.ID, "admin", res.Profile.IsAdmin())

	return c.Landing(from), nil
}

// Landing returns the route a signed-in operator continues to: from when it
// is a console path other than the public route, the default route otherwise.
func (c *Client) Landing(from string) string {
	// Only same-console paths are honoured; anything else falls back.
	if from == "" || !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || from == c.config.PublicRoute {
		return c.config.DefaultRoute
	}
	return from
}

// Logout tears the local session down immediately and navigates to the public
// route. The backend logout call runs in the background; its outcome does not
// affect the local teardown. Calling Logout without a session is a no-op apart
// from navigation.
func (c *Client) Logout(ctx context.Context) {
	var userID string
	if c.store != nil {
		if p := c.store.Profile(); p != nil {
			userID = p.ID
		}
	}

	if c.auth != nil && c.store != nil && c.store.Credential() != "" {
		// The request must carry the credential, so it is captured before the
		// store is cleared; only its completion is not awaited.
		bg := WithCredential(context.WithoutCancel(ctx), c.store.Credential())
		bg, cancel := context.WithTimeout(bg, c.config.RequestTimeout)
		c.pending.Add(1)
		go func() {
			defer c.pending.Done()
			defer cancel()
			if err := c.auth.Logout(bg); err != nil {
				c.logger.Warn("backend logout failed", "error", err)
			}
		}()
	}

	c.teardown()
	c.metrics.RecordLogout("operator")
	c.record(ctx, audit.Event{Action: "logout", UserID: userID, Result: "success"})

	if c.nav != nil {
		c.nav.Navigate(c.config.PublicRoute, NavigateOptions{Replace: true})
	}
}

func (c *Client) teardown() {
	if c.store != nil {
		c.store.Logout()
	}
	c.mu.Lock()
	hooks := append([]func(){}, c.onLogout...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// HandleForcedLogout runs the logout hooks after an expiry-driven sign-out.
// The expiry monitor has already cleared the store and navigated.
func (c *Client) HandleForcedLogout() {
	c.mu.Lock()
	hooks := append([]func(){}, c.onLogout...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	c.metrics.RecordLogout("expired")
}

func (c *Client) record(ctx context.Context, e audit.Event) {
	if c.audit == nil {
		return
	}
	if e.RequestID == "" {
		e.RequestID = audit.RequestID(ctx)
	}
	c.audit.Log(e)
}

// Close waits for background logout calls and releases resources.
// Any injected service that implements io.Closer will be closed.
func (c *Client) Close() error {
	c.pending.Wait()

	closers := []interface{}{
		c.auth, c.devices, c.perms, c.checks, c.dicts, c.verifier,
	}
	var firstErr error
	seen := make(map[io.Closer]bool)
	for _, svc := range closers {
		if cl, ok := svc.(io.Closer); ok && cl != nil && !seen[cl] {
			seen[cl] = true
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if c.audit != nil {
		if err := c.audit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
