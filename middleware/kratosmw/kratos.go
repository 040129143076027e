// Package kratosmw provides Kratos framework middleware for the console.
//
// Credentials is client middleware for Kratos HTTP or gRPC clients talking to
// the asset backend: it carries the session credential and raises the signal
// bridge on authorization failures. Auth and RequireAdmin are the matching
// server-side middleware. Both work transparently with Kratos HTTP and gRPC
// transports.
package kratosmw

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/bridge"
)

// AuthOption configures Auth middleware behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedOperations map[string]bool
}

// WithExcludedOperations sets operations that skip authentication (e.g. the
// login operation). Operations are matched by transport.Operation() (gRPC
// method or HTTP route pattern).
func WithExcludedOperations(ops ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, op := range ops {
			cfg.excludedOperations[op] = true
		}
	}
}

// Auth returns Kratos middleware that verifies bearer credentials with v.
// On success, it stores the claims and credential in the context (retrievable
// via console.ClaimsFromContext). Returns kratos errors.Unauthorized if the
// credential is missing or invalid.
func Auth(v console.TokenVerifier, opts ...AuthOption) middleware.Middleware {
	cfg := &authConfig{excludedOperations: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			tr, ok := transport.FromServerContext(ctx)
			if !ok {
				return handler(ctx, req)
			}

			if cfg.excludedOperations[tr.Operation()] {
				return handler(ctx, req)
			}

			tokenStr := extractBearerToken(tr.RequestHeader().Get("Authorization"))
			if tokenStr == "" {
				return nil, errors.Unauthorized("UNAUTHORIZED", "missing authorization token")
			}

			if v == nil {
				return nil, errors.InternalServer("INTERNAL", "token verifier not configured")
			}

			claims, err := v.Verify(ctx, tokenStr)
			if err != nil {
				return nil, errors.Unauthorized("UNAUTHORIZED", "invalid token")
			}

			ctx = console.WithClaims(ctx, claims)
			ctx = console.WithCredential(ctx, tokenStr)

			return handler(ctx, req)
		}
	}
}

// RequireAdmin returns Kratos middleware that only lets administrator
// credentials through. Requires Auth middleware to run first.
// Returns kratos errors.Forbidden otherwise.
func RequireAdmin() middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			claims := console.ClaimsFromContext(ctx)
			if claims == nil {
				return nil, errors.Unauthorized("UNAUTHORIZED", "missing credential context")
			}
			if claims.Role != "admin" {
				return nil, errors.Forbidden("FORBIDDEN", "administrator privileges required")
			}
			return handler(ctx, req)
		}
	}
}

// CredentialOption configures Credentials middleware behavior.
type CredentialOption func(*credentialConfig)

type credentialConfig struct {
	anonymous map[string]bool
	recheck   func() bool
}

// WithAnonymousOperations sets operations called without a credential whose
// Unauthorized answers never raise the bridge (e.g. the login operation).
func WithAnonymousOperations(ops ...string) CredentialOption {
	return func(cfg *credentialConfig) {
		for _, op := range ops {
			cfg.anonymous[op] = true
		}
	}
}

// WithRecheck sets the local expiry check run before every call, usually
// session.Store.CheckExpired.
func WithRecheck(fn func() bool) CredentialOption {
	return func(cfg *credentialConfig) { cfg.recheck = fn }
}

// Credentials returns Kratos client middleware that injects the session
// credential into outgoing requests. An Unauthorized answer raises b once and
// is returned as console.ErrUnauthorized.
func Credentials(store console.SessionStore, b *bridge.Bridge, opts ...CredentialOption) middleware.Middleware {
	cfg := &credentialConfig{anonymous: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			tr, ok := transport.FromClientContext(ctx)
			if ok && cfg.anonymous[tr.Operation()] {
				return handler(ctx, req)
			}

			if cfg.recheck != nil {
				cfg.recheck()
			}
			if cred := store.Credential(); ok && cred != "" {
				tr.RequestHeader().Set("Authorization", "Bearer "+cred)
			}

			reply, err := handler(ctx, req)
			if err != nil && errors.IsUnauthorized(err) {
				if b != nil {
					b.Raise()
				}
				return nil, fmt.Errorf("%w: %s", console.ErrUnauthorized, errors.FromError(err).GetMessage())
			}
			return reply, err
		}
	}
}

// --- internal helpers ---

func extractBearerToken(auth string) string {
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
