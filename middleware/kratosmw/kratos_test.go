package kratosmw

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/bridge"
	"github.com/chimerakang/assetconsole/session"
	"github.com/chimerakang/assetconsole/storage"
)

// mockTransport implements transport.Transporter
type mockTransport struct {
	headers map[string]string
	op      string
}

func (m *mockTransport) Kind() transport.Kind { return transport.KindHTTP }
func (m *mockTransport) Endpoint() string { return "mock://test" }
func (m *mockTransport) Operation() string { return m.op }
func (m *mockTransport) RequestHeader() transport.Header { return &mockHeader{headers: m.headers} }
func (m *mockTransport) ReplyHeader() transport.Header { return &mockHeader{headers: make(map[string]string)} }

type mockHeader struct {
	headers map[string]string
}

func (h *mockHeader) Get(key string) string { return h.headers[key] }
func (h *mockHeader) Set(key, value string) { h.headers[key] = value }
func (h *mockHeader) Add(key, value string) { h.headers[key] = value }
func (h *mockHeader) Values(key string) []string { return []string{h.headers[key]} }
func (h *mockHeader) Keys() []string {
	keys := make([]string, 0, len(h.headers))
	for k := range h.headers {
		keys = append(keys, k)
	}
	return keys
}

type staticVerifier map[string]*console.Claims

func (v staticVerifier) Verify(_ context.Context, token string) (*console.Claims, error) {
	if c, ok := v[token]; ok {
		return c, nil
	}
	return nil, stderrors.New("unknown token")
}

var verifier = staticVerifier{
	"admin-cred":    {Subject: "op-1", Role: "admin"},
	"operator-cred": {Subject: "op-2"},
}

func serverCtx(op, auth string) context.Context {
	headers := map[string]string{}
	if auth != "" {
		headers["Authorization"] = auth
	}
	return transport.NewServerContext(context.Background(), &mockTransport{headers: headers, op: op})
}

func ok(context.Context, interface{}) (interface{}, error) { return "ok", nil }

func TestAuth_Success(t *testing.T) {
	var captured context.Context
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		captured = ctx
		return "ok", nil
	}

	_, err := Auth(verifier)(handler)(serverCtx("/devices", "Bearer admin-cred"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims := console.ClaimsFromContext(captured); claims == nil || claims.Subject != "op-1" {
		t.Errorf("claims = %+v", claims)
	}
	if console.CredentialFromContext(captured) != "admin-cred" {
		t.Error("credential missing from context")
	}
}

func TestAuth_Failures(t *testing.T) {
	tests := []struct {
		name string
		auth string
	}{
		{"missing token", ""},
		{"wrong scheme", "Basic admin-cred"},
		{"unknown token", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Auth(verifier)(ok)(serverCtx("/devices", tt.auth), nil)
			if !errors.IsUnauthorized(err) {
				t.Errorf("error = %v, want Unauthorized", err)
			}
		})
	}
}

func TestAuth_ExcludedOperation(t *testing.T) {
	mw := Auth(verifier, WithExcludedOperations("/auth/login"))
	if _, err := mw(ok)(serverCtx("/auth/login", ""), nil); err != nil {
		t.Errorf("excluded operation: %v", err)
	}
}

func TestRequireAdmin(t *testing.T) {
	chain := func(h func(context.Context, interface{}) (interface{}, error)) func(context.Context, interface{}) (interface{}, error) {
		return Auth(verifier)(RequireAdmin()(h))
	}

	if _, err := chain(ok)(serverCtx("/permissions", "Bearer admin-cred"), nil); err != nil {
		t.Errorf("admin: %v", err)
	}
	if _, err := chain(ok)(serverCtx("/permissions", "Bearer operator-cred"), nil); !errors.IsForbidden(err) {
		t.Errorf("operator: error = %v, want Forbidden", err)
	}
	if _, err := RequireAdmin()(ok)(context.Background(), nil); !errors.IsUnauthorized(err) {
		t.Errorf("no claims: error = %v, want Unauthorized", err)
	}
}

func clientCtx(op string) (context.Context, map[string]string) {
	headers := map[string]string{}
	return transport.NewClientContext(context.Background(), &mockTransport{headers: headers, op: op}), headers
}

func loggedIn(credential string) *session.Store {
	store := session.NewStore(storage.NewMemory(), storage.NewMemory(), nil)
	store.Login(credential, console.UserProfile{ID: "op-1"})
	return store
}

func TestCredentials_AttachesBearer(t *testing.T) {
	b := bridge.New()
	rechecks := 0
	mw := Credentials(loggedIn("admin-cred"), b, WithRecheck(func() bool { rechecks++; return false }))

	ctx, headers := clientCtx("/devices")
	if _, err := mw(ok)(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if headers["Authorization"] != "Bearer admin-cred" {
		t.Errorf("Authorization = %q", headers["Authorization"])
	}
	if rechecks != 1 || b.Count() != 0 {
		t.Errorf("rechecks = %d, bridge = %d", rechecks, b.Count())
	}
}

func TestCredentials_UnauthorizedRaisesBridge(t *testing.T) {
	b := bridge.New()
	rejected := func(context.Context, interface{}) (interface{}, error) {
		return nil, errors.Unauthorized("UNAUTHORIZED", "token expired")
	}

	ctx, _ := clientCtx("/devices")
	_, err := Credentials(loggedIn("stale-cred"), b)(rejected)(ctx, nil)
	if !console.IsUnauthorized(err) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if b.Count() != 1 {
		t.Errorf("bridge raised %d times, want 1", b.Count())
	}
}

func TestCredentials_OtherErrorsPassThrough(t *testing.T) {
	b := bridge.New()
	failing := func(context.Context, interface{}) (interface{}, error) {
		return nil, errors.InternalServer("INTERNAL", "database down")
	}

	ctx, _ := clientCtx("/devices")
	_, err := Credentials(loggedIn("admin-cred"), b)(failing)(ctx, nil)
	if !errors.IsInternalServer(err) || console.IsUnauthorized(err) {
		t.Errorf("error = %v", err)
	}
	if b.Count() != 0 {
		t.Error("non-auth error raised the bridge")
	}
}

func TestCredentials_AnonymousOperation(t *testing.T) {
	b := bridge.New()
	rejected := func(context.Context, interface{}) (interface{}, error) {
		return nil, errors.Unauthorized("UNAUTHORIZED", "wrong username or password")
	}

	ctx, headers := clientCtx("/auth/login")
	_, err := Credentials(loggedIn("admin-cred"), b, WithAnonymousOperations("/auth/login"))(rejected)(ctx, nil)
	if !errors.IsUnauthorized(err) || console.IsUnauthorized(err) {
		t.Errorf("error = %v", err)
	}
	if headers["Authorization"] != "" || b.Count() != 0 {
		t.Errorf("anonymous operation carried a credential or raised the bridge")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc": "abc",
		"bearer abc": "abc",
		"Basic abc":  "",
		"":           "",
		"Bearer":     "",
	}
	for in, want := range tests {
		if got := extractBearerToken(in); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
