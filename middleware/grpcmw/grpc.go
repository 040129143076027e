// Package grpcmw provides pure gRPC interceptors for the console.
//
// The client interceptors attach the session credential to outgoing calls
// and raise the signal bridge when the backend answers Unauthenticated, the
// same contract the REST layer in package api keeps. The server interceptors
// verify bearer credentials and are what a gRPC flavour of the asset backend
// (or a test double of it) mounts.
//
// For Kratos-based services, use kratosmw instead.
package grpcmw

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/bridge"
)

// CredentialOption configures the client interceptors.
type CredentialOption func(*credentialConfig)

type credentialConfig struct {
	excludedMethods map[string]bool
	recheck         func() bool
}

// WithAnonymousMethods sets methods that are called without a credential and
// whose Unauthenticated answers never raise the bridge (e.g. the login RPC).
func WithAnonymousMethods(methods ...string) CredentialOption {
	return func(cfg *credentialConfig) {
		for _, m := range methods {
			cfg.excludedMethods[m] = true
		}
	}
}

// WithRecheck sets the local expiry check run before every call, usually
// session.Store.CheckExpired.
func WithRecheck(fn func() bool) CredentialOption {
	return func(cfg *credentialConfig) { cfg.recheck = fn }
}

func newCredentialConfig(opts []CredentialOption) *credentialConfig {
	cfg := &credentialConfig{excludedMethods: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// prepare runs the recheck and attaches the credential for method.
func (cfg *credentialConfig) prepare(ctx context.Context, store console.SessionStore, method string) context.Context {
	if cfg.excludedMethods[method] {
		return ctx
	}
	if cfg.recheck != nil {
		cfg.recheck()
	}
	if cred := store.Credential(); cred != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+cred)
	}
	return ctx
}

// classify turns an Unauthenticated answer into console.ErrUnauthorized,
// raising b once.
func (cfg *credentialConfig) classify(b *bridge.Bridge, method string, err error) error {
	if err == nil || cfg.excludedMethods[method] || status.Code(err) != codes.Unauthenticated {
		return err
	}
	if b != nil {
		b.Raise()
	}
	return fmt.Errorf("%w: %s", console.ErrUnauthorized, status.Convert(err).Message())
}

// UnaryCredentials returns a gRPC unary client interceptor that carries the
// session credential and raises b on authorization failures.
func UnaryCredentials(store console.SessionStore, b *bridge.Bridge, opts ...CredentialOption) grpc.UnaryClientInterceptor {
	cfg := newCredentialConfig(opts)

	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		ctx = cfg.prepare(ctx, store, method)
		return cfg.classify(b, method, invoker(ctx, method, req, reply, cc, callOpts...))
	}
}

// StreamCredentials returns a gRPC stream client interceptor that carries the
// session credential. Only the stream setup is classified.
func StreamCredentials(store console.SessionStore, b *bridge.Bridge, opts ...CredentialOption) grpc.StreamClientInterceptor {
	cfg := newCredentialConfig(opts)

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, callOpts ...grpc.CallOption) (grpc.ClientStream, error) {
		ctx = cfg.prepare(ctx, store, method)
		cs, err := streamer(ctx, desc, cc, method, callOpts...)
		if err != nil {
			return nil, cfg.classify(b, method, err)
		}
		return cs, nil
	}
}

// AuthOption configures the server interceptors.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedMethods map[string]bool
}

// WithExcludedMethods sets gRPC methods that skip authentication.
// Methods should be fully qualified (e.g. "/package.Service/Method").
func WithExcludedMethods(methods ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, m := range methods {
			cfg.excludedMethods[m] = true
		}
	}
}

// UnaryAuth returns a gRPC unary server interceptor that verifies bearer
// credentials. On success, it stores the claims and credential in the context
// via console.WithClaims and console.WithCredential.
func UnaryAuth(v console.TokenVerifier, opts ...AuthOption) grpc.UnaryServerInterceptor {
	cfg := &authConfig{excludedMethods: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if cfg.excludedMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		ctx, err := authenticate(ctx, v)
		if err != nil {
			return nil, err
		}

		return handler(ctx, req)
	}
}

// StreamAuth returns a gRPC stream server interceptor that verifies bearer
// credentials.
func StreamAuth(v console.TokenVerifier, opts ...AuthOption) grpc.StreamServerInterceptor {
	cfg := &authConfig{excludedMethods: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if cfg.excludedMethods[info.FullMethod] {
			return handler(srv, ss)
		}

		ctx, err := authenticate(ss.Context(), v)
		if err != nil {
			return err
		}

		wrapped := &wrappedStream{ServerStream: ss, ctx: ctx}
		return handler(srv, wrapped)
	}
}

// UnaryRequireAdmin returns a gRPC unary server interceptor that only lets
// administrator credentials through. Requires UnaryAuth to run first.
func UnaryRequireAdmin() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		claims := console.ClaimsFromContext(ctx)
		if claims == nil {
			return nil, status.Error(codes.Unauthenticated, "missing credential context")
		}
		if claims.Role != "admin" {
			return nil, status.Error(codes.PermissionDenied, "administrator privileges required")
		}
		return handler(ctx, req)
	}
}

// --- internal helpers ---

func authenticate(ctx context.Context, v console.TokenVerifier) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "missing metadata")
	}

	tokenStr := extractBearerFromMD(md)
	if tokenStr == "" {
		return ctx, status.Error(codes.Unauthenticated, "missing authorization token")
	}

	if v == nil {
		return ctx, status.Error(codes.Internal, "token verifier not configured")
	}

	claims, err := v.Verify(ctx, tokenStr)
	if err != nil {
		return ctx, status.Error(codes.Unauthenticated, "invalid token")
	}

	ctx = console.WithClaims(ctx, claims)
	ctx = console.WithCredential(ctx, tokenStr)

	return ctx, nil
}

func extractBearerFromMD(md metadata.MD) string {
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	parts := strings.SplitN(vals[0], " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// wrappedStream wraps grpc.ServerStream to override Context().
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
