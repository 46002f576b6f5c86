package model

import "github.com/google/uuid"

// IdentityRecord is the durable association between a local account and an
// external streaming-platform account plus its credentials.
type IdentityRecord struct {
	LocalID          uuid.UUID
	ExternalID       string
	ExternalUsername string
	AccessToken      string
	RefreshToken     string
	LastKnownLive    bool
	LoyaltyPoints    int
	WatchMinutes     int64
}

// IsLinked reports whether the record carries both an external id and an
// access token.
func (r IdentityRecord) IsLinked() bool {
	return r.ExternalID != "" && r.AccessToken != ""
}

// LinkStatus is the read model returned by a link check.
type LinkStatus struct {
	LocalID          uuid.UUID
	Linked           bool
	ExternalID       string
	ExternalUsername string
	DisplayName      string
	Rank             Rank
	Live             bool
	SessionPending   bool
}

// LoyaltySummary is the stored loyalty view for an identity.
type LoyaltySummary struct {
	Points       int
	WatchMinutes int64
}

// WatchHours returns the watch time in hours.
func (s LoyaltySummary) WatchHours() float64 {
	return float64(s.WatchMinutes) / 60.0
}
