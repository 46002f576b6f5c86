package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ericfisherdev/streamlink/internal/domain/model"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

var _ driven.Broadcaster = (*Webhook)(nil)

// Webhook POSTs announcements as JSON. Stream titles and categories are
// user-controlled, so every free-text field is stripped of markup first.
type Webhook struct {
	url        string
	httpClient *http.Client
	policy     *bluemonday.Policy
}

// NewWebhook creates a Webhook posting to url. A nil httpClient uses a
// client with a 10s timeout.
func NewWebhook(url string, httpClient *http.Client) *Webhook {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{url: url, httpClient: httpClient, policy: bluemonday.StrictPolicy()}
}

// webhookBody is the JSON document sent for each announcement.
type webhookBody struct {
	Event   model.EventType    `json:"event"`
	Content string             `json:"content"`
	Payload model.EventPayload `json:"payload"`
	SentAt  time.Time          `json:"sent_at"`
}

// Broadcast sends one announcement. Any non-2xx status is an error.
func (w *Webhook) Broadcast(ctx context.Context, event model.EventType, payload model.EventPayload) error {
	payload.ExternalUsername = w.clean(payload.ExternalUsername)
	payload.Title = w.clean(payload.Title)
	payload.Category = w.clean(payload.Category)
	payload.Message = w.clean(payload.Message)

	body, err := json.Marshal(webhookBody{
		Event:   event,
		Content: Text(event, payload),
		Payload: payload,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// clean strips all markup. StrictPolicy escapes entities, which JSON
// consumers would show literally, so they are decoded again.
func (w *Webhook) clean(s string) string {
	if s == "" {
		return ""
	}
	return html.UnescapeString(w.policy.Sanitize(s))
}
