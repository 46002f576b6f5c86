package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a device authorization session.
type SessionState string

const (
	SessionPending   SessionState = "pending"
	SessionCompleted SessionState = "completed"
	SessionTimedOut  SessionState = "timed_out"
	SessionCancelled SessionState = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionTimedOut || s == SessionCancelled
}

// DeviceAuthSession is a snapshot of an in-progress linking attempt.
type DeviceAuthSession struct {
	LocalID      uuid.UUID
	DeviceCode   string
	StartedAt    time.Time
	AttemptCount int
	State        SessionState
}

// DeviceCode is the platform response to a device authorization request.
type DeviceCode struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Interval        time.Duration
}

// TokenPair is an access/refresh credential pair issued by the platform.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// PollStatus tags the outcome of a single device-token poll.
type PollStatus int

const (
	// PollPending covers authorization_pending and slow_down: the user has not
	// finished authorizing yet.
	PollPending PollStatus = iota
	// PollSuccess carries an issued token pair.
	PollSuccess
	// PollFailed is a hard error for this attempt (expired, denied, unknown).
	PollFailed
)

// DevicePollResult is the tagged result of polling the device-token endpoint.
type DevicePollResult struct {
	Status PollStatus
	Tokens TokenPair
	// Code is the platform error code for PollPending and PollFailed.
	Code string
	Err  error
}
