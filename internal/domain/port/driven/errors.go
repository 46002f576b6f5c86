package driven

import "errors"

var (
	// ErrIdentityNotFound is returned when no record exists for a local id.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrNotLinked is returned when an identity exists but carries no usable credentials.
	ErrNotLinked = errors.New("identity not linked")

	// ErrRefreshFailed is returned when exchanging a refresh token did not yield new credentials.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrRefreshDebounced is returned when a refresh was skipped because another
	// attempt for the same credential scope happened inside the debounce window.
	ErrRefreshDebounced = errors.New("token refresh debounced")

	// ErrFlowTimeout is returned when a device authorization session exhausts its poll budget.
	ErrFlowTimeout = errors.New("device authorization timed out")

	// ErrPlatformNotConfigured is returned when platform client credentials are missing.
	ErrPlatformNotConfigured = errors.New("platform client credentials not configured")
)
