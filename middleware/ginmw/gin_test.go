package ginmw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/clock"
	"github.com/chimerakang/assetconsole/expiry"
	"github.com/chimerakang/assetconsole/guard"
	"github.com/chimerakang/assetconsole/session"
	"github.com/chimerakang/assetconsole/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticVerifier map[string]*console.Claims

func (v staticVerifier) Verify(_ context.Context, token string) (*console.Claims, error) {
	if c, ok := v[token]; ok {
		return c, nil
	}
	return nil, errors.New("unknown token")
}

type nopNav struct{}

func (nopNav) Navigate(string, console.NavigateOptions) {}

func newGuard(t *testing.T, settle time.Duration) (*guard.Guard, *session.Store, *clock.Fake) {
	t.Helper()
	c := clock.NewFake(time.Unix(1_700_000_000, 0))
	store := session.NewStore(storage.NewMemory(), storage.NewMemory(), nil)
	store.Hydrate(context.Background())
	mon := expiry.NewMonitor(store, nopNav{}, nil, expiry.WithClock(c))
	mon.Start()
	t.Cleanup(mon.Stop)
	return guard.New(store, mon, nil, guard.WithClock(c), guard.WithSettleDelay(settle)), store, c
}

func TestBearer(t *testing.T) {
	v := staticVerifier{"good": {Subject: "op-1", Name: "Grace"}}

	r := gin.New()
	r.Use(Bearer(v, WithExcludedPaths("/auth/login")))
	r.GET("/devices", func(c *gin.Context) {
		if console.ClaimsFromContext(c.Request.Context()) == nil {
			t.Error("claims missing from request context")
		}
		c.String(http.StatusOK, GetUserID(c)+"|"+GetCredential(c)+"|"+GetClaims(c).Name)
	})
	r.POST("/auth/login", func(c *gin.Context) { c.String(http.StatusOK, "login") })

	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		status int
		body   string
	}{
		{"missing token", http.MethodGet, "/devices", "", http.StatusUnauthorized, ""},
		{"wrong scheme", http.MethodGet, "/devices", "Basic good", http.StatusUnauthorized, ""},
		{"unknown token", http.MethodGet, "/devices", "Bearer bad", http.StatusUnauthorized, ""},
		{"valid token", http.MethodGet, "/devices", "Bearer good", http.StatusOK, "op-1|good|Grace"},
		{"excluded path", http.MethodPost, "/auth/login", "", http.StatusOK, "login"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}

func TestGuardRedirectsWithoutSession(t *testing.T) {
	g, _, _ := newGuard(t, 0)

	r := gin.New()
	r.GET("/devices", Guard(g), func(c *gin.Context) { c.String(http.StatusOK, "devices") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices?page=2", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/login?redirect=%2Fdevices%3Fpage%3D2" {
		t.Errorf("Location = %q", loc)
	}
}

func TestGuardServesWithSession(t *testing.T) {
	g, store, _ := newGuard(t, 0)
	store.Login("cred", console.UserProfile{ID: "op-1"})

	r := gin.New()
	r.GET("/devices", Guard(g), func(c *gin.Context) {
		if GetView(c) == nil {
			t.Error("view missing from context")
		}
		c.String(http.StatusOK, "devices")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices", nil))

	if w.Code != http.StatusOK || w.Body.String() != "devices" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
}

func TestGuardGivesUpWithRequest(t *testing.T) {
	g, _, c := newGuard(t, time.Hour)

	r := gin.New()
	r.GET("/devices", Guard(g), func(c *gin.Context) { c.String(http.StatusOK, "devices") })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices", nil).WithContext(ctx))

	if w.Code != http.StatusRequestTimeout {
		t.Errorf("status = %d, want 408", w.Code)
	}
	if c.Pending() != 0 {
		t.Errorf("settle timer left pending after the request ended")
	}
}

func TestRequireAdmin(t *testing.T) {
	store := session.NewStore(storage.NewMemory(), storage.NewMemory(), nil)

	r := gin.New()
	r.GET("/admin", RequireAdmin(store), func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	serve := func() int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
		return w.Code
	}

	if code := serve(); code != http.StatusForbidden {
		t.Errorf("anonymous: status = %d, want 403", code)
	}
	store.Login("cred", console.UserProfile{ID: "op-1", Type: "1"})
	if code := serve(); code != http.StatusForbidden {
		t.Errorf("operator: status = %d, want 403", code)
	}
	store.Login("cred", console.UserProfile{ID: "op-2", Type: "0"})
	if code := serve(); code != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", code)
	}
}

func TestLoginURL(t *testing.T) {
	if got := LoginURL("/login", ""); got != "/login" {
		t.Errorf("LoginURL without origin = %q", got)
	}
	if got := LoginURL("/login", "/checks"); got != "/login?redirect=%2Fchecks" {
		t.Errorf("LoginURL = %q", got)
	}
}
