package console

import "context"

type ctxKey string

const (
	ctxKeyProfile    ctxKey = "console_profile"
	ctxKeyCredential ctxKey = "console_credential"
	ctxKeyClaims     ctxKey = "console_claims"
)

// WithProfile stores the signed-in operator profile in the context.
func WithProfile(ctx context.Context, p *UserProfile) context.Context {
	return context.WithValue(ctx, ctxKeyProfile, p)
}

// ProfileFromContext extracts the operator profile from the context.
func ProfileFromContext(ctx context.Context) *UserProfile {
	v, _ := ctx.Value(ctxKeyProfile).(*UserProfile)
	return v
}

// WithCredential stores the session credential in the context.
func WithCredential(ctx context.Context, credential string) context.Context {
	return context.WithValue(ctx, ctxKeyCredential, credential)
}

// CredentialFromContext extracts the session credential from the context.
func CredentialFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyCredential).(string)
	return v
}

// WithClaims stores decoded credential claims in the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

// ClaimsFromContext extracts decoded credential claims from the context.
func ClaimsFromContext(ctx context.Context) *Claims {
	v, _ := ctx.Value(ctxKeyClaims).(*Claims)
	return v
}
