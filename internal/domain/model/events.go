package model

import "github.com/google/uuid"

// EventType names an announcement emitted to the broadcast collaborator.
type EventType string

const (
	EventWentLive     EventType = "went_live"
	EventWentOffline  EventType = "went_offline"
	EventLinked       EventType = "linked"
	EventLinkWaiting  EventType = "link_waiting"
	EventLinkTimedOut EventType = "link_timed_out"
)

// EventPayload carries the data for an announcement. Stream fields are only
// populated for EventWentLive.
type EventPayload struct {
	LocalID          uuid.UUID `json:"local_id"`
	ExternalUsername string    `json:"external_username,omitempty"`
	Title            string    `json:"title,omitempty"`
	Category         string    `json:"category,omitempty"`
	ViewerCount      int       `json:"viewer_count,omitempty"`
	Message          string    `json:"message,omitempty"`
}
