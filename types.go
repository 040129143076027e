package console

import "time"

// Claims represents the payload decoded from a session credential.
// ExpiresAt is zero when the credential carries no exp claim.
type Claims struct {
	Subject   string
	Name      string
	Role      string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
	Extra     map[string]any
}

// HasExpiry reports whether the credential carried an exp claim.
func (c *Claims) HasExpiry() bool {
	return c != nil && !c.ExpiresAt.IsZero()
}

// UserProfile is the operator profile returned by the login boundary.
type UserProfile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Type       string `json:"type"` // "0" or "admin" marks elevated privileges
}

// IsAdmin reports whether the profile carries the elevated-privilege marker.
func (p *UserProfile) IsAdmin() bool {
	if p == nil {
		return false
	}
	return p.Type == "0" || p.Type == "admin"
}

// LoginResult is returned by a successful login call.
type LoginResult struct {
	Credential string
	Profile    UserProfile
}

// Default routes of the console.
const (
	RouteLogin   = "/login"
	RouteDefault = "/devices"
)

// NavigateOptions controls a navigation request.
type NavigateOptions struct {
	// Replace drops the current history entry so the user cannot go back to it.
	Replace bool

	// From is the originally requested location, recorded so the login flow
	// can return the user there.
	From string
}

// Device is a managed workstation or server.
type Device struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`   // dictionary "device_type"
	Status     string    `json:"status"` // dictionary "device_status"
	IP         string    `json:"ip"`
	MAC        string    `json:"mac"`
	Owner      string    `json:"owner"`
	Department string    `json:"department"`
	Location   string    `json:"location"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DevicePermission is a network or security permission granted to a device.
type DevicePermission struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	Kind      string    `json:"kind"` // dictionary "permission_kind"
	Value     string    `json:"value"`
	Enabled   bool      `json:"enabled"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// ComplianceCheck is one periodic security-compliance check result.
type ComplianceCheck struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	Item      string    `json:"item"`
	Result    string    `json:"result"` // pass, fail, pending
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// DictEntry is one value of a backend-managed dictionary.
type DictEntry struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Sort  int    `json:"sort"`
}

// ListOptions holds pagination and filter parameters.
type ListOptions struct {
	Page     int
	PageSize int
	Keyword  string
}

// Page is one page of a paginated result.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}
