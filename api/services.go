package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/secret"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string              `json:"token"`
	User  console.UserProfile `json:"user"`
}

// Login exchanges an identifier and secret for a credential and profile.
// The secret is encrypted under the password key when one is configured.
func (c *Client) Login(ctx context.Context, username, password string) (*console.LoginResult, error) {
	if c.passwordKey != "" {
		enc, err := secret.Encrypt(c.passwordKey, password)
		if err != nil {
			return nil, fmt.Errorf("console/api: encrypt password: %w", err)
		}
		password = enc
	}

	var resp loginResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   LoginPath,
		body:   loginRequest{Username: username, Password: password},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("console/api: empty token in login response")
	}
	return &console.LoginResult{Credential: resp.Token, Profile: resp.User}, nil
}

// Logout tells the backend the credential is no longer in use.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, call{method: http.MethodPost, path: LogoutPath}, nil)
}

// ListDevices returns one page of devices.
func (c *Client) ListDevices(ctx context.Context, opts console.ListOptions) (*console.Page[console.Device], error) {
	var page console.Page[console.Device]
	if err := c.do(ctx, call{method: http.MethodGet, path: "/devices", query: listQuery(opts)}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetDevice returns one device.
func (c *Client) GetDevice(ctx context.Context, id string) (*console.Device, error) {
	var d console.Device
	rc := call{method: http.MethodGet, path: "/devices/" + url.PathEscape(id), route: "/devices/:id"}
	if err := c.do(ctx, rc, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDevice registers a device and returns it as stored.
func (c *Client) CreateDevice(ctx context.Context, d *console.Device) (*console.Device, error) {
	var out console.Device
	if err := c.do(ctx, call{method: http.MethodPost, path: "/devices", body: d}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateDevice replaces a device and returns it as stored.
func (c *Client) UpdateDevice(ctx context.Context, d *console.Device) (*console.Device, error) {
	if d == nil || d.ID == "" {
		return nil, &console.ValidationError{Field: "id", Message: "required"}
	}
	var out console.Device
	rc := call{method: http.MethodPut, path: "/devices/" + url.PathEscape(d.ID), route: "/devices/:id", body: d}
	if err := c.do(ctx, rc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDevice removes a device.
func (c *Client) DeleteDevice(ctx context.Context, id string) error {
	return c.do(ctx, call{method: http.MethodDelete, path: "/devices/" + url.PathEscape(id), route: "/devices/:id"}, nil)
}

// ListPermissions returns the permissions granted to a device.
func (c *Client) ListPermissions(ctx context.Context, deviceID string) ([]console.DevicePermission, error) {
	var perms []console.DevicePermission
	rc := call{method: http.MethodGet, path: "/devices/" + url.PathEscape(deviceID) + "/permissions", route: "/devices/:id/permissions"}
	if err := c.do(ctx, rc, &perms); err != nil {
		return nil, err
	}
	return perms, nil
}

// SavePermissions replaces the permissions granted to a device.
func (c *Client) SavePermissions(ctx context.Context, deviceID string, perms []console.DevicePermission) error {
	rc := call{method: http.MethodPut, path: "/devices/" + url.PathEscape(deviceID) + "/permissions", route: "/devices/:id/permissions", body: perms}
	return c.do(ctx, rc, nil)
}

// ListChecks returns one page of compliance check results.
func (c *Client) ListChecks(ctx context.Context, opts console.ListOptions) (*console.Page[console.ComplianceCheck], error) {
	var page console.Page[console.ComplianceCheck]
	if err := c.do(ctx, call{method: http.MethodGet, path: "/checks", query: listQuery(opts)}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// RunCheck triggers a compliance check of one device.
func (c *Client) RunCheck(ctx context.Context, deviceID string) (*console.ComplianceCheck, error) {
	var check console.ComplianceCheck
	rc := call{method: http.MethodPost, path: "/devices/" + url.PathEscape(deviceID) + "/checks", route: "/devices/:id/checks"}
	if err := c.do(ctx, rc, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// Dictionary returns the entries of one backend dictionary.
func (c *Client) Dictionary(ctx context.Context, dictType string) ([]console.DictEntry, error) {
	var entries []console.DictEntry
	rc := call{method: http.MethodGet, path: "/dictionaries/" + url.PathEscape(dictType), route: "/dictionaries/:type"}
	if err := c.do(ctx, rc, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
