package fake_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/api"
	"github.com/chimerakang/assetconsole/bridge"
	"github.com/chimerakang/assetconsole/fake"
	"github.com/chimerakang/assetconsole/jwks"
)

const passwordKey = "0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

var grace = console.UserProfile{ID: "op-1", Name: "Grace", Department: "IT", Type: "0"}

// session signs in against a fresh backend and returns an API client
// carrying the issued credential.
func session(t *testing.T, opts ...fake.Option) (*fake.Backend, *api.Client, *bridge.Bridge) {
	t.Helper()
	opts = append([]fake.Option{
		fake.WithUser("grace", "hunter2", grace),
		fake.WithPasswordKey(passwordKey),
	}, opts...)
	backend := fake.New(opts...)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	var credential string
	b := bridge.New()
	c, err := api.NewClient(srv.URL,
		api.WithHTTPClient(srv.Client()),
		api.WithBridge(b),
		api.WithPasswordKey(passwordKey),
		api.WithCredentials(func() string { return credential }),
	)
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Login(context.Background(), "grace", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Profile.Name != "Grace" {
		t.Errorf("profile = %+v", res.Profile)
	}
	credential = res.Credential
	return backend, c, b
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	backend := fake.New(fake.WithUser("grace", "hunter2", grace), fake.WithPasswordKey(passwordKey))
	srv := httptest.NewServer(backend.Handler())
	defer srv.Close()

	b := bridge.New()
	c, err := api.NewClient(srv.URL, api.WithBridge(b), api.WithPasswordKey(passwordKey))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Login(context.Background(), "grace", "wrong")
	var apiErr *console.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 401 {
		t.Fatalf("Login error = %v, want 401 APIError", err)
	}
	if b.Count() != 0 || backend.Logins() != 0 {
		t.Errorf("bridge = %d, logins = %d", b.Count(), backend.Logins())
	}
}

func TestPlainPasswordRejectedWhenKeyed(t *testing.T) {
	backend := fake.New(fake.WithUser("grace", "hunter2", grace), fake.WithPasswordKey(passwordKey))
	srv := httptest.NewServer(backend.Handler())
	defer srv.Close()

	c, err := api.NewClient(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Login(context.Background(), "grace", "hunter2"); err == nil {
		t.Error("login with an unencrypted secret succeeded")
	}
}

func TestDeviceLifecycle(t *testing.T) {
	_, c, _ := session(t)
	ctx := context.Background()

	created, err := c.CreateDevice(ctx, &console.Device{Name: "pc-001", Owner: "grace"})
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if created.ID == "" {
		t.Fatal("created device has no ID")
	}

	if _, err := c.CreateDevice(ctx, &console.Device{Name: "pc-001"}); err == nil {
		t.Error("duplicate device name accepted")
	} else if api.Message(err) != "device name already in use" {
		t.Errorf("Message = %q", api.Message(err))
	}

	created.Location = "B2-14"
	if _, err := c.UpdateDevice(ctx, created); err != nil {
		t.Fatalf("UpdateDevice: %v", err)
	}
	got, err := c.GetDevice(ctx, created.ID)
	if err != nil || got.Location != "B2-14" {
		t.Fatalf("GetDevice = %+v, %v", got, err)
	}

	page, err := c.ListDevices(ctx, console.ListOptions{Keyword: "PC-"})
	if err != nil || page.Total != 1 {
		t.Fatalf("ListDevices = %+v, %v", page, err)
	}

	if err := c.SavePermissions(ctx, created.ID, []console.DevicePermission{{Kind: "usb", Enabled: true}}); err != nil {
		t.Fatalf("SavePermissions: %v", err)
	}
	perms, err := c.ListPermissions(ctx, created.ID)
	if err != nil || len(perms) != 1 || perms[0].ID == "" || perms[0].DeviceID != created.ID {
		t.Fatalf("ListPermissions = %+v, %v", perms, err)
	}

	check, err := c.RunCheck(ctx, created.ID)
	if err != nil || check.Result != "pass" {
		t.Fatalf("RunCheck = %+v, %v", check, err)
	}
	checks, err := c.ListChecks(ctx, console.ListOptions{})
	if err != nil || checks.Total != 1 {
		t.Fatalf("ListChecks = %+v, %v", checks, err)
	}

	if err := c.DeleteDevice(ctx, created.ID); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}
	if _, err := c.GetDevice(ctx, created.ID); err == nil {
		t.Error("deleted device still readable")
	}
}

func TestPagination(t *testing.T) {
	var opts []fake.Option
	for _, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		opts = append(opts, fake.WithDevice(console.Device{ID: id, Name: "pc-" + id}))
	}
	_, c, _ := session(t, opts...)

	page, err := c.ListDevices(context.Background(), console.ListOptions{Page: 2, PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 || len(page.Items) != 2 || page.Items[0].ID != "d3" {
		t.Errorf("page = %+v", page)
	}

	page, err = c.ListDevices(context.Background(), console.ListOptions{Page: 9, PageSize: 2})
	if err != nil || len(page.Items) != 0 {
		t.Errorf("page past the end = %+v, %v", page, err)
	}
}

func TestDictionarySorted(t *testing.T) {
	_, c, _ := session(t, fake.WithDictionary("device_type",
		console.DictEntry{Value: "2", Label: "Server", Sort: 2},
		console.DictEntry{Value: "1", Label: "Laptop", Sort: 1},
	))

	entries, err := c.Dictionary(context.Background(), "device_type")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Label != "Laptop" {
		t.Errorf("entries = %+v", entries)
	}
	if _, err := c.Dictionary(context.Background(), "unknown"); err == nil {
		t.Error("unknown dictionary returned no error")
	}
}

func TestRevokeRaisesBridge(t *testing.T) {
	backend, c, b := session(t)
	backend.RevokeAll()

	_, err := c.ListDevices(context.Background(), console.ListOptions{})
	if !console.IsUnauthorized(err) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if b.Count() != 1 {
		t.Errorf("bridge raised %d times, want 1", b.Count())
	}
}

func TestLogoutRevokesCredential(t *testing.T) {
	backend, c, b := session(t)

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if backend.Logouts() != 1 {
		t.Errorf("Logouts = %d", backend.Logouts())
	}
	if _, err := c.ListChecks(context.Background(), console.ListOptions{}); !console.IsUnauthorized(err) {
		t.Errorf("request after logout: %v", err)
	}
	if b.Count() != 1 {
		t.Errorf("bridge raised %d times", b.Count())
	}
}

func TestExpiredCredentialRejected(t *testing.T) {
	var now atomic.Int64
	now.Store(1_700_000_000)
	backend, c, b := session(t,
		fake.WithTokenTTL(time.Minute),
		fake.WithNow(func() time.Time { return time.Unix(now.Load(), 0) }),
	)

	now.Add(120)
	if _, err := c.ListDevices(context.Background(), console.ListOptions{}); !console.IsUnauthorized(err) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if b.Count() != 1 || backend.Logins() != 1 {
		t.Errorf("bridge = %d, logins = %d", b.Count(), backend.Logins())
	}
}

func TestRSACredentialsVerifyAgainstJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	backend := fake.New(fake.WithRSAKey(key, "k1"))
	srv := httptest.NewServer(backend.Handler())
	defer srv.Close()

	cred, err := backend.IssueToken(grace)
	if err != nil {
		t.Fatal(err)
	}

	v := jwks.NewVerifier(srv.URL+"/.well-known/jwks.json", jwks.WithHTTPClient(srv.Client()), jwks.WithRequireExpiry())
	claims, err := v.Verify(context.Background(), cred)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "op-1" || claims.Name != "Grace" || claims.Role != "admin" || !claims.HasExpiry() {
		t.Errorf("claims = %+v", claims)
	}
}

func TestNoJWKSForHMAC(t *testing.T) {
	backend := fake.New()
	w := httptest.NewRecorder()
	backend.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/.well-known/jwks.json", nil))
	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
