// Package app wires a complete console from configuration: storage, the
// session store, the expiry monitor, the signal bridge, the navigation guard,
// the backend client and the web surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/api"
	"github.com/chimerakang/assetconsole/audit"
	"github.com/chimerakang/assetconsole/bridge"
	"github.com/chimerakang/assetconsole/clock"
	"github.com/chimerakang/assetconsole/dict"
	"github.com/chimerakang/assetconsole/expiry"
	"github.com/chimerakang/assetconsole/guard"
	"github.com/chimerakang/assetconsole/jwks"
	"github.com/chimerakang/assetconsole/metrics"
	"github.com/chimerakang/assetconsole/session"
	"github.com/chimerakang/assetconsole/storage"
	"github.com/chimerakang/assetconsole/token"
	"github.com/chimerakang/assetconsole/web"
)

// Config holds everything needed to run a console.
type Config struct {
	Console console.Config

	// Listen is the address the web surface binds. Default: ":8080".
	Listen string

	// StorageDir keeps the persisted session on disk. Empty keeps it in
	// memory, so a restart signs the operator out.
	StorageDir string

	// RedisAddr keeps the persisted session in Redis instead. It takes
	// precedence over StorageDir.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Metrics enables the Prometheus collectors served at /metrics.
	Metrics bool

	// Audit enables the audit trail of login, logout and expiry events.
	Audit bool

	// AuditBuffer is the audit queue size. Default: 256.
	AuditBuffer int
}

// App is a wired console.
type App struct {
	Config Config

	Store    *session.Store
	Bridge   *bridge.Bridge
	Monitor  *expiry.Monitor
	Guard    *guard.Guard
	API      *api.Client
	Dict     *dict.Cache
	Client   *console.Client
	Flash    *web.Flash
	Nav      *web.Navigator
	Server   *web.Server
	Registry *prometheus.Registry

	logger   *slog.Logger
	closers  []func() error
	shutdown bool
}

// Option configures New.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	clock      clock.Clock
	httpClient *http.Client
	persistent storage.Storage
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock driving expiry checks and timers.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithHTTPClient sets the HTTP client used for backend and JWKS calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithPersistentStorage overrides the persistent storage chosen by Config.
func WithPersistentStorage(s storage.Storage) Option {
	return func(o *options) { o.persistent = s }
}

// New wires a console and restores any persisted session.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	o := &options{logger: slog.Default(), clock: clock.Real()}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.AuditBuffer <= 0 {
		cfg.AuditBuffer = 256
	}
	cfg.Console = cfg.Console.WithDefaults()

	a := &App{Config: cfg, logger: o.logger}

	a.Registry = prometheus.NewRegistry()
	if cfg.Metrics {
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.NewWithRegisterer(cfg.Metrics, a.Registry)

	var auditLog *audit.Logger
	if cfg.Audit {
		auditLog = audit.New(cfg.AuditBuffer, audit.WithSlogHandler(o.logger.With("component", "audit")))
	}

	persistent, err := a.persistentStorage(cfg, o)
	if err != nil {
		return nil, err
	}

	codec := token.New(token.WithNow(o.clock.Now))
	a.Store = session.NewStore(persistent, storage.NewMemory(), codec, session.WithLogger(o.logger))
	a.Bridge = bridge.New()
	a.Flash = web.NewFlash(0)
	a.Nav = web.NewNavigator(cfg.Console.PublicRoute)

	apiOpts := []api.Option{
		api.WithBridge(a.Bridge),
		api.WithCredentials(a.Store.Credential),
		api.WithRecheck(a.Store.CheckExpired),
		api.WithPasswordKey(cfg.Console.PasswordKey),
		api.WithTimeout(cfg.Console.RequestTimeout),
		api.WithLogger(o.logger),
		api.WithMetrics(m),
	}
	if o.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(o.httpClient))
	}
	a.API, err = api.NewClient(cfg.Console.Endpoint, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("console/app: %w", err)
	}

	a.Dict = dict.NewCache(a.API, cfg.Console.DictionaryTTL, cfg.Console.DictionarySize, dict.WithMetrics(m))

	clientOpts := []console.Option{
		console.WithLogger(o.logger),
		console.WithAuthService(a.API),
		console.WithSessionStore(a.Store),
		console.WithNavigator(a.Nav),
		console.WithNotifier(a.Flash),
		console.WithDeviceService(a.API),
		console.WithPermissionService(a.API),
		console.WithCheckService(a.API),
		console.WithDictionaryService(a.Dict),
		console.WithMetrics(m),
	}
	if auditLog != nil {
		clientOpts = append(clientOpts, console.WithAuditLogger(auditLog))
	}
	if cfg.Console.JWKSUrl != "" {
		jwksOpts := []jwks.Option{jwks.WithLogger(o.logger)}
		if o.httpClient != nil {
			jwksOpts = append(jwksOpts, jwks.WithHTTPClient(o.httpClient))
		}
		clientOpts = append(clientOpts, console.WithTokenVerifier(jwks.NewVerifier(cfg.Console.JWKSUrl, jwksOpts...)))
	}
	a.Client, err = console.NewClient(cfg.Console, clientOpts...)
	if err != nil {
		return nil, err
	}
	a.Client.OnLogout(a.Dict.Purge)

	monitorOpts := []expiry.Option{
		expiry.WithClock(o.clock),
		expiry.WithRedirectDelay(cfg.Console.RedirectDelay),
		expiry.WithPublicRoute(cfg.Console.PublicRoute),
		expiry.WithLogger(o.logger),
		expiry.WithMetrics(m),
		expiry.WithSignOutHook(a.Client.HandleForcedLogout),
	}
	if auditLog != nil {
		monitorOpts = append(monitorOpts, expiry.WithAuditLogger(auditLog))
	}
	a.Monitor = expiry.NewMonitor(a.Store, a.Nav, a.Flash, monitorOpts...)

	a.Guard = guard.New(a.Store, a.Monitor, a.Bridge,
		guard.WithClock(o.clock),
		guard.WithSettleDelay(cfg.Console.SettleDelay),
		guard.WithPublicRoute(cfg.Console.PublicRoute),
		guard.WithLogger(o.logger),
		guard.WithMetrics(m),
	)

	a.Server = web.NewServer(a.Client, a.Store, a.Monitor, a.Guard,
		web.WithFlash(a.Flash),
		web.WithNavigator(a.Nav),
		web.WithGatherer(a.Registry),
		web.WithLogger(o.logger),
	)

	a.Monitor.Start()
	a.Store.Hydrate(ctx)

	if p := a.Store.Profile(); p != nil {
		o.logger.Info("session restored", "user", p.ID)
	}
	return a, nil
}

func (a *App) persistentStorage(cfg Config, o *options) (storage.Storage, error) {
	switch {
	case o.persistent != nil:
		return o.persistent, nil
	case cfg.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		r := storage.NewRedis(rdb, storage.WithPrefix(cfg.RedisPrefix))
		a.closers = append(a.closers, r.Close)
		return r, nil
	case cfg.StorageDir != "":
		f, err := storage.NewFile(cfg.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("console/app: %w", err)
		}
		return f, nil
	default:
		return storage.NewMemory(), nil
	}
}

// Run serves the web surface until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.Server.Run(ctx, a.Config.Listen)
}

// Close stops the monitor, waits for background logout calls and releases
// storage connections.
func (a *App) Close() error {
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	a.Monitor.Stop()
	errs := []error{a.Client.Close()}
	for _, fn := range a.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}
