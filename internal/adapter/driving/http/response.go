package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/streamlink/internal/domain/model"
)

// writeJSON writes v with the given status. A marshal failure becomes a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// DeviceCodeResponse tells the user where to authorize the link.
type DeviceCodeResponse struct {
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	IntervalSeconds int    `json:"interval_seconds"`
	Message         string `json:"message"`
}

// LinkStatusResponse is the JSON form of a link check.
type LinkStatusResponse struct {
	LocalID          string `json:"local_id"`
	Linked           bool   `json:"linked"`
	ExternalID       string `json:"external_id,omitempty"`
	ExternalUsername string `json:"external_username,omitempty"`
	DisplayName      string `json:"display_name,omitempty"`
	Rank             string `json:"rank,omitempty"`
	Live             bool   `json:"live"`
	SessionPending   bool   `json:"session_pending"`
}

// LoyaltyResponse is the stored loyalty summary.
type LoyaltyResponse struct {
	Points       int     `json:"points"`
	WatchMinutes int64   `json:"watch_minutes"`
	WatchHours   float64 `json:"watch_hours"`
}

// HealthResponse is the JSON body of the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func toDeviceCodeResponse(code model.DeviceCode) DeviceCodeResponse {
	return DeviceCodeResponse{
		UserCode:        code.UserCode,
		VerificationURI: code.VerificationURI,
		IntervalSeconds: int(code.Interval / time.Second),
		Message:         "Visit " + code.VerificationURI + " and enter code " + code.UserCode,
	}
}

func toLinkStatusResponse(s model.LinkStatus) LinkStatusResponse {
	return LinkStatusResponse{
		LocalID:          s.LocalID.String(),
		Linked:           s.Linked,
		ExternalID:       s.ExternalID,
		ExternalUsername: s.ExternalUsername,
		DisplayName:      s.DisplayName,
		Rank:             string(s.Rank),
		Live:             s.Live,
		SessionPending:   s.SessionPending,
	}
}

func toLoyaltyResponse(s model.LoyaltySummary) LoyaltyResponse {
	return LoyaltyResponse{
		Points:       s.Points,
		WatchMinutes: s.WatchMinutes,
		WatchHours:   s.WatchHours(),
	}
}
