package model

import "strings"

// Rank classifies a platform account for permission assignment.
type Rank string

const (
	RankPartner   Rank = "partner"
	RankAffiliate Rank = "affiliate"
	RankViewer    Rank = "viewer"
)

// RankFromBroadcasterType maps the platform broadcaster type onto a Rank.
// Anything other than partner or affiliate is a viewer.
func RankFromBroadcasterType(broadcasterType string) Rank {
	switch strings.ToLower(strings.TrimSpace(broadcasterType)) {
	case "partner":
		return RankPartner
	case "affiliate":
		return RankAffiliate
	default:
		return RankViewer
	}
}

// UserInfo is the subset of the platform user resource we consume.
type UserInfo struct {
	ID              string
	Login           string
	DisplayName     string
	BroadcasterType string
}

// StreamInfo describes a live stream.
type StreamInfo struct {
	Type        string
	Title       string
	GameName    string
	ViewerCount int
}

// IsLive reports whether the stream row describes an active broadcast.
func (s *StreamInfo) IsLive() bool {
	return s != nil && s.Type != ""
}
