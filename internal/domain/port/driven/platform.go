package driven

import (
	"context"

	"github.com/ericfisherdev/streamlink/internal/domain/model"
)

// PlatformClient defines the driven port for the external streaming platform.
// Errors carry a structured kind produced once at the HTTP boundary.
type PlatformClient interface {
	// StartDeviceFlow requests a new device code for the configured scopes.
	StartDeviceFlow(ctx context.Context) (model.DeviceCode, error)

	// PollDeviceToken polls the token endpoint once. Pending and hard
	// errors are reported through the result, not the error return; the
	// error return is reserved for transport-level failures.
	PollDeviceToken(ctx context.Context, deviceCode string) (model.DevicePollResult, error)

	// RefreshToken exchanges a refresh token for a new pair. RefreshToken may
	// be empty in the result when the platform does not rotate it.
	RefreshToken(ctx context.Context, refreshToken string) (model.TokenPair, error)

	// Validate reports whether accessToken is currently accepted.
	Validate(ctx context.Context, accessToken string) (bool, error)

	// GetUser returns the user that owns accessToken.
	GetUser(ctx context.Context, accessToken string) (model.UserInfo, error)

	// GetStream returns the current stream for externalID, or nil when offline.
	GetStream(ctx context.Context, accessToken, externalID string) (*model.StreamInfo, error)

	// IsLive reports whether externalID currently has an active stream.
	IsLive(ctx context.Context, accessToken, externalID string) (bool, error)
}

// LoyaltyClient defines the driven port for the loyalty-points service.
type LoyaltyClient interface {
	// FetchPoints returns points and watch minutes for username on channel
	// using the shared platform-level access token.
	FetchPoints(ctx context.Context, accessToken, channel, username string) (points int, minutes int64, err error)

	// RefreshShared exchanges the shared refresh token for a new pair.
	RefreshShared(ctx context.Context, refreshToken string) (model.TokenPair, error)
}
