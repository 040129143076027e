// Package web serves the browser-facing console over HTTP.
//
// Pages are JSON documents; rendering is left to the static front end. Every
// page except the login page is mounted behind the navigation guard, so an
// operator without a valid session is redirected to the login page with the
// requested location attached, and an operator whose session expired sees the
// expiry warning before the forced sign-out lands.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/api"
	"github.com/chimerakang/assetconsole/expiry"
	"github.com/chimerakang/assetconsole/guard"
	"github.com/chimerakang/assetconsole/middleware/ginmw"
	"github.com/chimerakang/assetconsole/session"
)

// SessionExpiredMessage is the body message of a page request refused
// because the backend rejected the credential.
const SessionExpiredMessage = "Session expired, please sign in again"

// Server is the console HTTP surface.
type Server struct {
	client   *console.Client
	store    *session.Store
	monitor  *expiry.Monitor
	guard    *guard.Guard
	flash    *Flash
	nav      *Navigator
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	engine *gin.Engine
}

// Option configures the Server.
type Option func(*Server)

// WithFlash sets the notice queue drained by the login page and the
// session poll. It should be the notifier the monitor and client warn to.
func WithFlash(f *Flash) Option {
	return func(s *Server) { s.flash = f }
}

// WithNavigator sets the history tracker the client and monitor navigate.
func WithNavigator(n *Navigator) Option {
	return func(s *Server) { s.nav = n }
}

// WithGatherer sets the registry served at /metrics.
// Default: prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the console HTTP surface.
func NewServer(client *console.Client, store *session.Store, monitor *expiry.Monitor, g *guard.Guard, opts ...Option) *Server {
	s := &Server{
		client:   client,
		store:    store,
		monitor:  monitor,
		guard:    g,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.flash == nil {
		s.flash = NewFlash(0)
	}
	if s.nav == nil {
		s.nav = NewNavigator(client.Config().PublicRoute)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("console listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) routes() *gin.Engine {
	cfg := s.client.Config()

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	r.GET(cfg.PublicRoute, s.loginPage)
	r.POST(cfg.PublicRoute, s.login)
	r.POST("/logout", s.logout)
	r.GET("/api/session", s.session)

	pages := r.Group("/")
	pages.Use(ginmw.Guard(s.guard), s.visit)
	pages.GET("/devices", s.listDevices)
	pages.GET("/devices/:id", s.getDevice)
	pages.GET("/devices/:id/permissions", s.listPermissions)
	pages.POST("/devices/:id/checks", s.runCheck)
	pages.GET("/checks", s.listChecks)
	pages.GET("/dictionaries/:type", s.dictionary)

	admin := pages.Group("/")
	admin.Use(ginmw.RequireAdmin(s.store))
	admin.POST("/devices", s.createDevice)
	admin.PUT("/devices/:id", s.updateDevice)
	admin.DELETE("/devices/:id", s.deleteDevice)
	admin.PUT("/devices/:id/permissions", s.savePermissions)

	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(started),
		)
	}
}

func (s *Server) visit(c *gin.Context) {
	s.nav.Visit(c.Request.URL.RequestURI())
	c.Next()
}

// --- session pages ---

type loginForm struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
	Redirect string `form:"redirect" json:"redirect"`
}

func (s *Server) loginPage(c *gin.Context) {
	from := c.Query(ginmw.RedirectParam)
	if st := s.store.State(); st.Authenticated() && !st.Expired {
		c.Redirect(http.StatusFound, s.client.Landing(from))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"redirect": from,
		"messages": s.flash.Drain(),
	})
}

func (s *Server) login(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "malformed login request"})
		return
	}
	if form.Redirect == "" {
		form.Redirect = c.Query(ginmw.RedirectParam)
	}

	route, err := s.client.Login(c.Request.Context(), form.Username, form.Password, form.Redirect)
	if err != nil {
		var ve *console.ValidationError
		var apiErr *console.APIError
		switch {
		case errors.As(err, &ve):
			c.JSON(http.StatusBadRequest, gin.H{"msg": ve.Error(), "field": ve.Field})
		case console.IsNetwork(err):
			c.JSON(http.StatusBadGateway, gin.H{"msg": api.Message(err)})
		case errors.As(err, &apiErr):
			c.JSON(http.StatusUnauthorized, gin.H{"msg": api.Message(err)})
		default:
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "Sign-in failed"})
		}
		return
	}

	// The redirect below is the navigation; nothing is left pending.
	s.nav.Navigate(route, console.NavigateOptions{})
	s.nav.TakePending()
	c.Redirect(http.StatusSeeOther, route)
}

func (s *Server) logout(c *gin.Context) {
	s.client.Logout(c.Request.Context())
	to, ok := s.nav.TakePending()
	if !ok {
		to = s.client.Config().PublicRoute
	}
	c.Redirect(http.StatusSeeOther, to)
}

// session reports the session for the front end's poll. The poll counts as
// activity: it re-runs the local expiry check, and it hands over any forced
// navigation the monitor performed since the last poll.
func (s *Server) session(c *gin.Context) {
	s.monitor.Check()
	st := s.store.State()

	body := gin.H{
		"authenticated": st.Authenticated(),
		"expired":       st.Expired,
		"expiresSoon":   st.Authenticated() && s.store.Codec().ExpiresSoon(st.Credential, s.client.Config().ExpiryWarnBuffer),
		"phase":         s.monitor.Phase().String(),
		"profile":       st.Profile,
		"messages":      s.flash.Drain(),
	}
	if to, ok := s.nav.TakePending(); ok {
		body["navigate"] = to
	}
	c.JSON(http.StatusOK, body)
}

// --- guarded pages ---

func listOptions(c *gin.Context) console.ListOptions {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("pageSize"))
	return console.ListOptions{Page: page, PageSize: size, Keyword: c.Query("keyword")}
}

// fail maps a backend call error onto the page response.
func (s *Server) fail(c *gin.Context, err error) {
	var ve *console.ValidationError
	var apiErr *console.APIError
	switch {
	case console.IsUnauthorized(err):
		// The bridge has fired; the monitor warns and signs out.
		c.JSON(http.StatusUnauthorized, gin.H{"msg": SessionExpiredMessage})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"msg": ve.Error(), "field": ve.Field})
	case console.IsNetwork(err):
		s.flash.Error(api.Message(err))
		c.JSON(http.StatusBadGateway, gin.H{"msg": api.Message(err)})
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status < http.StatusBadRequest {
			status = http.StatusUnprocessableEntity
		}
		s.flash.Error(api.Message(err))
		c.JSON(status, gin.H{"msg": api.Message(err)})
	default:
		s.logger.Error("page request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"msg": api.Message(err)})
	}
}

func unavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"msg": "service not configured"})
}

func (s *Server) listDevices(c *gin.Context) {
	svc := s.client.Devices()
	if svc == nil {
		unavailable(c)
		return
	}
	page, err := svc.ListDevices(c.Request.Context(), listOptions(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) getDevice(c *gin.Context) {
	svc := s.client.Devices()
	if svc == nil {
		unavailable(c)
		return
	}
	d, err := svc.GetDevice(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) createDevice(c *gin.Context) {
	svc := s.client.Devices()
	if svc == nil {
		unavailable(c)
		return
	}
	var d console.Device
	if err := c.ShouldBindJSON(&d); err != nil {
		s.fail(c, &console.ValidationError{Field: "device", Message: "malformed body"})
		return
	}
	out, err := svc.CreateDevice(c.Request.Context(), &d)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (s *Server) updateDevice(c *gin.Context) {
	svc := s.client.Devices()
	if svc == nil {
		unavailable(c)
		return
	}
	var d console.Device
	if err := c.ShouldBindJSON(&d); err != nil {
		s.fail(c, &console.ValidationError{Field: "device", Message: "malformed body"})
		return
	}
	d.ID = c.Param("id")
	out, err := svc.UpdateDevice(c.Request.Context(), &d)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) deleteDevice(c *gin.Context) {
	svc := s.client.Devices()
	if svc == nil {
		unavailable(c)
		return
	}
	if err := svc.DeleteDevice(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listPermissions(c *gin.Context) {
	svc := s.client.Permissions()
	if svc == nil {
		unavailable(c)
		return
	}
	perms, err := svc.ListPermissions(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, perms)
}

func (s *Server) savePermissions(c *gin.Context) {
	svc := s.client.Permissions()
	if svc == nil {
		unavailable(c)
		return
	}
	var perms []console.DevicePermission
	if err := c.ShouldBindJSON(&perms); err != nil {
		s.fail(c, &console.ValidationError{Field: "permissions", Message: "malformed body"})
		return
	}
	if err := svc.SavePermissions(c.Request.Context(), c.Param("id"), perms); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listChecks(c *gin.Context) {
	svc := s.client.Checks()
	if svc == nil {
		unavailable(c)
		return
	}
	page, err := svc.ListChecks(c.Request.Context(), listOptions(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) runCheck(c *gin.Context) {
	svc := s.client.Checks()
	if svc == nil {
		unavailable(c)
		return
	}
	check, err := svc.RunCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (s *Server) dictionary(c *gin.Context) {
	svc := s.client.Dictionaries()
	if svc == nil {
		unavailable(c)
		return
	}
	entries, err := svc.Dictionary(c.Request.Context(), c.Param("type"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
