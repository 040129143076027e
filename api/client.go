// Package api is the console's HTTP layer over the asset backend REST API.
//
// Every request re-runs the session's local expiry check, carries the bearer
// credential, and decodes the backend's {code, msg, data} envelope. An
// authorization failure on any endpoint other than the login endpoint raises
// the signal bridge exactly once for that call.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/bridge"
	"github.com/chimerakang/assetconsole/metrics"
)

// Backend endpoints.
const (
	LoginPath  = "/auth/login"
	LogoutPath = "/auth/logout"
)

// Client talks to the asset backend.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	bridge      *bridge.Bridge
	credential  func() string
	recheck     func() bool
	passwordKey string
	timeout     time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// compile-time checks
var (
	_ console.AuthService       = (*Client)(nil)
	_ console.DeviceService     = (*Client)(nil)
	_ console.PermissionService = (*Client)(nil)
	_ console.CheckService      = (*Client)(nil)
	_ console.DictionaryService = (*Client)(nil)
)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBridge sets the bridge raised on authorization failures.
func WithBridge(b *bridge.Bridge) Option {
	return func(cl *Client) { cl.bridge = b }
}

// WithCredentials sets the source of the bearer credential. A credential
// carried by the request context (console.WithCredential) takes precedence.
func WithCredentials(fn func() string) Option {
	return func(cl *Client) { cl.credential = fn }
}

// WithRecheck sets the local expiry check run before every request,
// usually session.Store.CheckExpired.
func WithRecheck(fn func() bool) Option {
	return func(cl *Client) { cl.recheck = fn }
}

// WithPasswordKey sets the pre-shared key the login secret is encrypted
// under. Without it the secret is sent as entered.
func WithPasswordKey(key string) Option {
	return func(cl *Client) { cl.passwordKey = key }
}

// WithTimeout bounds requests whose context has no deadline. Default: 15 seconds.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithMetrics records request outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient creates a Client for the backend at endpoint.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("console/api: invalid endpoint %q", endpoint)
	}

	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{},
		timeout:    console.DefaultRequestTimeout,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New(false)
	}
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// envelope is the backend's response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// call describes one backend request. route is the templated path used as
// the metrics label.
type call struct {
	method string
	path   string
	route  string
	query  url.Values
	body   any
}

func (c *Client) do(ctx context.Context, rc call, out any) error {
	if rc.route == "" {
		rc.route = rc.path
	}
	if c.recheck != nil && rc.path != LoginPath {
		c.recheck()
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	target := c.endpoint + rc.path
	if len(rc.query) > 0 {
		target += "?" + rc.query.Encode()
	}

	var body io.Reader
	if rc.body != nil {
		data, err := json.Marshal(rc.body)
		if err != nil {
			return fmt.Errorf("console/api: encode %s: %w", rc.route, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, rc.method, target, body)
	if err != nil {
		return fmt.Errorf("console/api: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cred := console.CredentialFromContext(ctx)
	if cred == "" && c.credential != nil {
		cred = c.credential()
	}
	if cred != "" {
		req.Header.Set("Authorization", "Bearer "+cred)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRequest(rc.route, "network", time.Since(started).Seconds())
		c.logger.Warn("backend request failed", "method", rc.method, "path", rc.route, "error", err)
		return &console.NetworkError{Op: rc.method + " " + rc.route, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordRequest(rc.route, "network", time.Since(started).Seconds())
		return &console.NetworkError{Op: rc.method + " " + rc.route, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode == http.StatusUnauthorized || (decodeErr == nil && env.Code == http.StatusUnauthorized) {
		c.metrics.RecordRequest(rc.route, "unauthorized", time.Since(started).Seconds())
		if rc.path == LoginPath {
			return &console.APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Msg}
		}
		c.metrics.RecordAuthFailure()
		c.logger.Info("backend rejected credential", "path", rc.route)
		if c.bridge != nil {
			c.bridge.Raise()
		}
		return fmt.Errorf("console/api: %s: %w", rc.route, console.ErrUnauthorized)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.RecordRequest(rc.route, "error", time.Since(started).Seconds())
		apiErr := &console.APIError{Status: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Code, apiErr.Message = env.Code, env.Msg
		}
		return apiErr
	}
	if decodeErr != nil {
		c.metrics.RecordRequest(rc.route, "error", time.Since(started).Seconds())
		return fmt.Errorf("console/api: decode %s: %w", rc.route, decodeErr)
	}
	if env.Code != 0 && env.Code != http.StatusOK {
		c.metrics.RecordRequest(rc.route, "error", time.Since(started).Seconds())
		return &console.APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Msg}
	}

	c.metrics.RecordRequest(rc.route, "ok", time.Since(started).Seconds())
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("console/api: decode %s data: %w", rc.route, err)
	}
	return nil
}

// Message extracts a user-facing message from an error returned by the Client.
func Message(err error) string {
	var apiErr *console.APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case console.IsNetwork(err):
		return "Network error, please try again later"
	case console.IsUnauthorized(err):
		return "Your session has expired, please sign in again"
	default:
		return "Request failed"
	}
}

func listQuery(opts console.ListOptions) url.Values {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", fmt.Sprint(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("pageSize", fmt.Sprint(opts.PageSize))
	}
	if opts.Keyword != "" {
		q.Set("keyword", opts.Keyword)
	}
	return q
}
