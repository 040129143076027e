// Package token decodes session credentials and judges their expiry.
//
// The codec never verifies signatures (see package jwks for that) and never
// fails loudly: a malformed credential decodes to nil and is reported invalid.
package token

import (
	"errors"
	"time"

	console "github.com/chimerakang/assetconsole"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpiryBuffer is the window ExpiresSoon uses when none is given.
const DefaultExpiryBuffer = 300 * time.Second

// Codec decodes compact signed credentials.
type Codec struct {
	now    func() time.Time
	parser *jwt.Parser
}

// Option configures the Codec.
type Option func(*Codec)

// WithNow sets the wall clock used for expiry decisions.
func WithNow(fn func() time.Time) Option {
	return func(c *Codec) { c.now = fn }
}

// New creates a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{
		now:    time.Now,
		parser: jwt.NewParser(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Decode returns the claims carried by credential, or nil when the string is
// empty, does not have three segments, or carries an undecodable payload.
func (c *Codec) Decode(credential string) *console.Claims {
	if credential == "" {
		return nil
	}

	m := jwt.MapClaims{}
	_, _, err := c.parser.ParseUnverified(credential, m)
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		// An unknown alg still leaves a decoded payload; anything else does not.
		return nil
	}

	if _, err := m.GetExpirationTime(); err != nil {
		return nil
	}
	return FromMap(m)
}

// IsValid reports whether credential is present, decodable and not past its
// exp claim. A credential without exp never expires.
func (c *Codec) IsValid(credential string) bool {
	claims := c.Decode(credential)
	if claims == nil {
		return false
	}
	if !claims.HasExpiry() {
		return true
	}
	return !(float64(claims.ExpiresAt.Unix()) < c.nowSeconds())
}

// ExpiresSoon reports whether credential expires within buffer from now:
// 0 < exp-now <= buffer. A non-positive buffer selects DefaultExpiryBuffer.
func (c *Codec) ExpiresSoon(credential string, buffer time.Duration) bool {
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	remaining, ok := c.Remaining(credential)
	if !ok {
		return false
	}
	return remaining > 0 && remaining <= buffer
}

// Remaining returns the time left before credential expires. ok is false when
// the credential is malformed or carries no exp claim.
func (c *Codec) Remaining(credential string) (time.Duration, bool) {
	claims := c.Decode(credential)
	if !claims.HasExpiry() {
		return 0, false
	}
	secs := float64(claims.ExpiresAt.Unix()) - c.nowSeconds()
	return time.Duration(secs * float64(time.Second)), true
}

func (c *Codec) nowSeconds() float64 {
	return float64(c.now().UnixMilli()) / 1000
}

var standardClaims = map[string]bool{
	"sub": true, "name": true, "username": true, "role": true,
	"iss": true, "exp": true, "iat": true,
}

// FromMap converts decoded JWT claims. sub, name (or username), role, iss,
// exp and iat map to fields; everything else lands in Extra.
func FromMap(m jwt.MapClaims) *console.Claims {
	c := &console.Claims{Extra: make(map[string]any)}

	if v, ok := m["sub"].(string); ok {
		c.Subject = v
	}
	if v, ok := m["name"].(string); ok {
		c.Name = v
	} else if v, ok := m["username"].(string); ok {
		c.Name = v
	}
	if v, ok := m["role"].(string); ok {
		c.Role = v
	}
	if v, ok := m["iss"].(string); ok {
		c.Issuer = v
	}
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}

	for k, v := range m {
		if !standardClaims[k] {
			c.Extra[k] = v
		}
	}
	return c
}
