package console

import "context"

// Navigator moves the console to another route.
// Implementations: web.Navigator, test recorders.
type Navigator interface {
	Navigate(to string, opts NavigateOptions)
}

// Notifier surfaces user-visible messages.
// Implementations: web.Flash, test recorders.
type Notifier interface {
	// Warn shows a warning, e.g. the one-time session expiry notice.
	Warn(msg string)

	// Error shows a generic failure message at a call site.
	Error(msg string)
}

// AuthService is the login/logout boundary of the backend.
type AuthService interface {
	// Login exchanges an identifier and secret for a credential and profile.
	Login(ctx context.Context, username, password string) (*LoginResult, error)

	// Logout tells the backend the credential is no longer in use.
	Logout(ctx context.Context) error
}

// DeviceService manages devices.
type DeviceService interface {
	ListDevices(ctx context.Context, opts ListOptions) (*Page[Device], error)
	GetDevice(ctx context.Context, id string) (*Device, error)
	CreateDevice(ctx context.Context, d *Device) (*Device, error)
	UpdateDevice(ctx context.Context, d *Device) (*Device, error)
	DeleteDevice(ctx context.Context, id string) error
}

// PermissionService manages per-device permissions.
type PermissionService interface {
	ListPermissions(ctx context.Context, deviceID string) ([]DevicePermission, error)
	SavePermissions(ctx context.Context, deviceID string, perms []DevicePermission) error
}

// CheckService reads and triggers compliance checks.
type CheckService interface {
	ListChecks(ctx context.Context, opts ListOptions) (*Page[ComplianceCheck], error)
	RunCheck(ctx context.Context, deviceID string) (*ComplianceCheck, error)
}

// DictionaryService returns backend dictionaries by type.
type DictionaryService interface {
	Dictionary(ctx context.Context, dictType string) ([]DictEntry, error)
}
