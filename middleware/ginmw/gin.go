// Package ginmw provides Gin HTTP middleware for the console.
//
// Guard and RequireAdmin protect the operator-facing pages of the web
// console; Bearer authenticates backend API calls by credential and is what
// the fake backend mounts in front of its routes.
package ginmw

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/guard"
)

// Context keys for storing console data in gin.Context.
const (
	KeyUserID     = "console_user_id"
	KeyClaims     = "console_claims"
	KeyCredential = "console_credential"
	KeyView       = "console_view"
)

// RedirectParam is the query parameter carrying the originally requested
// location to the login page.
const RedirectParam = "redirect"

// AuthOption configures Bearer middleware behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedPaths map[string]bool
}

// WithExcludedPaths sets paths that skip authentication (e.g. the login endpoint).
func WithExcludedPaths(paths ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, p := range paths {
			cfg.excludedPaths[p] = true
		}
	}
}

// Bearer returns Gin middleware that verifies the bearer credential with v.
// On success, it stores the claims in the context (retrievable via GetClaims)
// and in the request context. Responds 401 with the backend envelope if the
// credential is missing or rejected.
func Bearer(v console.TokenVerifier, opts ...AuthOption) gin.HandlerFunc {
	cfg := &authConfig{excludedPaths: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(c *gin.Context) {
		if cfg.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		tokenStr := extractBearerToken(c.Request)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "missing authorization token"})
			return
		}

		claims, err := v.Verify(c.Request.Context(), tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "invalid token"})
			return
		}

		c.Set(KeyClaims, claims)
		c.Set(KeyUserID, claims.Subject)
		c.Set(KeyCredential, tokenStr)

		ctx := console.WithClaims(c.Request.Context(), claims)
		ctx = console.WithCredential(ctx, tokenStr)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// Guard returns Gin middleware that mounts a guarded view for the request.
// It waits for the view to settle, then either serves the page or redirects
// to the public route with the requested location attached. The view is
// unmounted when the handler chain returns.
func Guard(g *guard.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		view := g.Mount(c.Request.URL.RequestURI())
		defer view.Unmount()

		select {
		case <-view.Done():
		case <-c.Request.Context().Done():
			c.AbortWithStatus(http.StatusRequestTimeout)
			return
		}

		switch view.Status() {
		case guard.Content:
			c.Set(KeyView, view)
			c.Next()
		case guard.Redirect:
			to, from, _ := view.RedirectTarget()
			c.Redirect(http.StatusFound, LoginURL(to, from))
			c.Abort()
		default:
			c.AbortWithStatus(http.StatusServiceUnavailable)
		}
	}
}

// RequireAdmin returns Gin middleware that only lets operators with the
// elevated-privilege marker through. Responds 403 otherwise.
func RequireAdmin(store console.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !store.Profile().IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "administrator privileges required"})
			return
		}
		c.Next()
	}
}

// LoginURL builds the public route URL carrying from as the return location.
func LoginURL(publicRoute, from string) string {
	if from == "" {
		return publicRoute
	}
	return publicRoute + "?" + url.Values{RedirectParam: {from}}.Encode()
}

// --- Context helpers ---

// GetUserID returns the authenticated subject from the Gin context.
func GetUserID(c *gin.Context) string {
	v, _ := c.Get(KeyUserID)
	s, _ := v.(string)
	return s
}

// GetClaims returns the full claims from the Gin context.
func GetClaims(c *gin.Context) *console.Claims {
	v, _ := c.Get(KeyClaims)
	cl, _ := v.(*console.Claims)
	return cl
}

// GetCredential returns the bearer credential from the Gin context.
func GetCredential(c *gin.Context) string {
	v, _ := c.Get(KeyCredential)
	s, _ := v.(string)
	return s
}

// GetView returns the guarded view mounted for the request.
func GetView(c *gin.Context) *guard.View {
	v, _ := c.Get(KeyView)
	gv, _ := v.(*guard.View)
	return gv
}

// --- internal helpers ---

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
