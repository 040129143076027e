// Package fake provides an in-memory asset backend for tests and demos.
//
// The Backend speaks the same REST dialect as the real one: a {code, msg,
// data} envelope, an AES-encrypted login secret, signed bearer credentials
// and 401 responses for rejected credentials. Point api.NewClient at
// httptest.NewServer(backend.Handler()) to run the console end to end
// without network dependencies.
package fake

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/middleware/ginmw"
	"github.com/chimerakang/assetconsole/secret"
	"github.com/chimerakang/assetconsole/token"
)

// Option configures the fake backend.
type Option func(*Backend)

type account struct {
	password string
	profile  console.UserProfile
}

// Backend is an in-memory asset backend.
type Backend struct {
	passwordKey string
	hmacKey     []byte
	rsaKey      *rsa.PrivateKey
	kid         string
	ttl         time.Duration
	now         func() time.Time

	mu          sync.RWMutex
	accounts    map[string]*account                   // username → account
	devices     map[string]*console.Device            // deviceID → Device
	permissions map[string][]console.DevicePermission // deviceID → permissions
	checks      []console.ComplianceCheck
	dicts       map[string][]console.DictEntry // type → entries
	revoked     map[string]bool                // credential → revoked
	revokeAll   bool
	logins      int
	logouts     int

	engine *gin.Engine
}

// WithUser adds an operator account.
func WithUser(username, password string, profile console.UserProfile) Option {
	return func(b *Backend) {
		b.accounts[username] = &account{password: password, profile: profile}
	}
}

// WithDevice adds a device.
func WithDevice(d console.Device) Option {
	return func(b *Backend) {
		dev := d
		b.devices[d.ID] = &dev
	}
}

// WithPermissions sets the permissions of a device.
func WithPermissions(deviceID string, perms ...console.DevicePermission) Option {
	return func(b *Backend) { b.permissions[deviceID] = perms }
}

// WithDictionary adds a dictionary.
func WithDictionary(dictType string, entries ...console.DictEntry) Option {
	return func(b *Backend) { b.dicts[dictType] = entries }
}

// WithPasswordKey makes the backend expect the login secret encrypted
// under key.
func WithPasswordKey(key string) Option {
	return func(b *Backend) { b.passwordKey = key }
}

// WithSigningKey sets the HMAC key credentials are signed with.
func WithSigningKey(key []byte) Option {
	return func(b *Backend) { b.hmacKey = key }
}

// WithRSAKey signs credentials with RS256 and publishes the public key at
// /.well-known/jwks.json.
func WithRSAKey(key *rsa.PrivateKey, kid string) Option {
	return func(b *Backend) {
		b.rsaKey = key
		b.kid = kid
	}
}

// WithTokenTTL sets the lifetime of issued credentials. Zero issues
// credentials without an exp claim. Default: 2 hours.
func WithTokenTTL(d time.Duration) Option {
	return func(b *Backend) { b.ttl = d }
}

// WithNow sets the clock used for issuing and validating credentials.
func WithNow(fn func() time.Time) Option {
	return func(b *Backend) { b.now = fn }
}

// New creates a fake backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		hmacKey:     []byte("fake-signing-key"),
		ttl:         2 * time.Hour,
		now:         time.Now,
		accounts:    make(map[string]*account),
		devices:     make(map[string]*console.Device),
		permissions: make(map[string][]console.DevicePermission),
		dicts:       make(map[string][]console.DictEntry),
		revoked:     make(map[string]bool),
	}
	for _, o := range opts {
		o(b)
	}
	b.engine = b.routes()
	return b
}

// Handler returns the HTTP handler serving the backend API.
func (b *Backend) Handler() http.Handler { return b.engine }

// IssueToken signs a credential for profile.
func (b *Backend) IssueToken(profile console.UserProfile) (string, error) {
	now := b.now()
	claims := jwt.MapClaims{
		"sub":  profile.ID,
		"name": profile.Name,
		"iat":  now.Unix(),
		"iss":  "fake-asset-backend",
	}
	if profile.IsAdmin() {
		claims["role"] = "admin"
	}
	if b.ttl > 0 {
		claims["exp"] = now.Add(b.ttl).Unix()
	}

	if b.rsaKey != nil {
		t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		t.Header["kid"] = b.kid
		return t.SignedString(b.rsaKey)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.hmacKey)
}

// Revoke makes the backend reject credential from now on.
func (b *Backend) Revoke(credential string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[credential] = true
}

// RevokeAll makes the backend reject every credential issued so far and
// every one issued later, as if the signing key had been rotated.
func (b *Backend) RevokeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revokeAll = true
}

// Logins returns the number of successful logins.
func (b *Backend) Logins() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.logins
}

// Logouts returns the number of logout calls received.
func (b *Backend) Logouts() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.logouts
}

// Verify implements console.TokenVerifier for the backend's own credentials.
func (b *Backend) Verify(_ context.Context, credential string) (*console.Claims, error) {
	b.mu.RLock()
	rejected := b.revokeAll || b.revoked[credential]
	b.mu.RUnlock()
	if rejected {
		return nil, errors.New("fake: credential revoked")
	}

	parser := jwt.NewParser(jwt.WithTimeFunc(b.now))
	tok, err := parser.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
			if b.rsaKey == nil {
				return nil, errors.New("unexpected signing method")
			}
			return &b.rsaKey.PublicKey, nil
		case *jwt.SigningMethodHMAC:
			if b.rsaKey != nil {
				return nil, errors.New("unexpected signing method")
			}
			return b.hmacKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
	})
	if err != nil {
		return nil, fmt.Errorf("fake: %w", err)
	}
	m, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return nil, errors.New("fake: invalid claims")
	}
	return token.FromMap(m), nil
}

var _ console.TokenVerifier = (*Backend)(nil)

func (b *Backend) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/.well-known/jwks.json", b.jwks)

	api := r.Group("/")
	api.Use(ginmw.Bearer(b, ginmw.WithExcludedPaths("/auth/login")))
	api.POST("/auth/login", b.login)
	api.POST("/auth/logout", b.logout)
	api.GET("/devices", b.listDevices)
	api.POST("/devices", b.createDevice)
	api.GET("/devices/:id", b.getDevice)
	api.PUT("/devices/:id", b.updateDevice)
	api.DELETE("/devices/:id", b.deleteDevice)
	api.GET("/devices/:id/permissions", b.listPermissions)
	api.PUT("/devices/:id/permissions", b.savePermissions)
	api.POST("/devices/:id/checks", b.runCheck)
	api.GET("/checks", b.listChecks)
	api.GET("/dictionaries/:type", b.dictionary)

	return r
}

func reply(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "msg": "success", "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "msg": msg})
}

func (b *Backend) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "malformed login request")
		return
	}

	password := req.Password
	if b.passwordKey != "" {
		plain, err := secret.Decrypt(b.passwordKey, password)
		if err != nil {
			fail(c, http.StatusUnauthorized, "wrong username or password")
			return
		}
		password = plain
	}

	b.mu.Lock()
	acct, found := b.accounts[req.Username]
	if found && acct.password == password {
		b.logins++
	}
	b.mu.Unlock()
	if !found || acct.password != password {
		fail(c, http.StatusUnauthorized, "wrong username or password")
		return
	}

	cred, err := b.IssueToken(acct.profile)
	if err != nil {
		fail(c, http.StatusInternalServerError, "could not issue credential")
		return
	}
	reply(c, gin.H{"token": cred, "user": acct.profile})
}

func (b *Backend) logout(c *gin.Context) {
	cred := ginmw.GetCredential(c)
	b.mu.Lock()
	b.logouts++
	b.revoked[cred] = true
	b.mu.Unlock()
	reply(c, nil)
}

func (b *Backend) listDevices(c *gin.Context) {
	keyword := strings.ToLower(c.Query("keyword"))

	b.mu.RLock()
	var all []console.Device
	for _, d := range b.devices {
		if keyword == "" || strings.Contains(strings.ToLower(d.Name), keyword) || strings.Contains(strings.ToLower(d.Owner), keyword) {
			all = append(all, *d)
		}
	}
	b.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	reply(c, paginate(all, c.Query("page"), c.Query("pageSize")))
}

func (b *Backend) getDevice(c *gin.Context) {
	b.mu.RLock()
	d, found := b.devices[c.Param("id")]
	var out console.Device
	if found {
		out = *d
	}
	b.mu.RUnlock()
	if !found {
		fail(c, http.StatusNotFound, "device not found")
		return
	}
	reply(c, out)
}

func (b *Backend) createDevice(c *gin.Context) {
	var d console.Device
	if err := c.ShouldBindJSON(&d); err != nil || d.Name == "" {
		fail(c, http.StatusBadRequest, "device name is required")
		return
	}
	d.ID = uuid.NewString()
	d.UpdatedAt = b.now().UTC()

	b.mu.Lock()
	for _, existing := range b.devices {
		if existing.Name == d.Name {
			b.mu.Unlock()
			c.JSON(http.StatusOK, gin.H{"code": 1001, "msg": "device name already in use"})
			return
		}
	}
	b.devices[d.ID] = &d
	b.mu.Unlock()
	reply(c, d)
}

func (b *Backend) updateDevice(c *gin.Context) {
	var d console.Device
	if err := c.ShouldBindJSON(&d); err != nil {
		fail(c, http.StatusBadRequest, "malformed device")
		return
	}
	d.ID = c.Param("id")
	d.UpdatedAt = b.now().UTC()

	b.mu.Lock()
	_, found := b.devices[d.ID]
	if found {
		b.devices[d.ID] = &d
	}
	b.mu.Unlock()
	if !found {
		fail(c, http.StatusNotFound, "device not found")
		return
	}
	reply(c, d)
}

func (b *Backend) deleteDevice(c *gin.Context) {
	id := c.Param("id")
	b.mu.Lock()
	_, found := b.devices[id]
	delete(b.devices, id)
	delete(b.permissions, id)
	b.mu.Unlock()
	if !found {
		fail(c, http.StatusNotFound, "device not found")
		return
	}
	reply(c, nil)
}

func (b *Backend) listPermissions(c *gin.Context) {
	id := c.Param("id")
	b.mu.RLock()
	_, found := b.devices[id]
	perms := append([]console.DevicePermission{}, b.permissions[id]...)
	b.mu.RUnlock()
	if !found {
		fail(c, http.StatusNotFound, "device not found")
		return
	}
	reply(c, perms)
}

func (b *Backend) savePermissions(c *gin.Context) {
	id := c.Param("id")
	var perms []console.DevicePermission
	if err := c.ShouldBindJSON(&perms); err != nil {
		fail(c, http.StatusBadRequest, "malformed permissions")
		return
	}
	for i := range perms {
		perms[i].DeviceID = id
		if perms[i].ID == "" {
			perms[i].ID = uuid.NewString()
		}
	}

	b.mu.Lock()
	_, found := b.devices[id]
	if found {
		b.permissions[id] = perms
	}
	b.mu.Unlock()
	if !found {
		fail(c, http.StatusNotFound, "device not found")
		return
	}
	reply(c, nil)
}

func (b *Backend) runCheck(c *gin.Context) {
	id := c.Param("id")
	b.mu.Lock()
	d, found := b.devices[id]
	var check console.ComplianceCheck
	if found {
		check = console.ComplianceCheck{
			ID:        uuid.NewString(),
			DeviceID:  id,
			Item:      "baseline",
			Result:    "pass",
			CheckedAt: b.now().UTC(),
		}
		if d.Owner == "" {
			check.Result = "fail"
			check.Detail = "device has no registered owner"
		}
		b.checks = append(b.checks, check)
	}
	b.mu.Unlock()
	if !found {
		fail(c, http.StatusNotFound, "device not found")
		return
	}
	reply(c, check)
}

func (b *Backend) listChecks(c *gin.Context) {
	b.mu.RLock()
	all := append([]console.ComplianceCheck{}, b.checks...)
	b.mu.RUnlock()
	reply(c, paginate(all, c.Query("page"), c.Query("pageSize")))
}

func (b *Backend) dictionary(c *gin.Context) {
	b.mu.RLock()
	entries, found := b.dicts[c.Param("type")]
	entries = append([]console.DictEntry{}, entries...)
	b.mu.RUnlock()
	if !found {
		fail(c, http.StatusNotFound, "dictionary not found")
		return
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Sort < entries[j].Sort })
	reply(c, entries)
}

func (b *Backend) jwks(c *gin.Context) {
	if b.rsaKey == nil {
		fail(c, http.StatusNotFound, "no signing keys published")
		return
	}
	pub := b.rsaKey.PublicKey
	c.JSON(http.StatusOK, gin.H{"keys": []gin.H{{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": b.kid,
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}})
}

func paginate[T any](all []T, pageParam, sizeParam string) console.Page[T] {
	page, _ := strconv.Atoi(pageParam)
	size, _ := strconv.Atoi(sizeParam)
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	start := (page - 1) * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	items := all[start:end]
	if items == nil {
		items = []T{}
	}
	return console.Page[T]{Items: items, Total: len(all)}
}
