// Package streamlabs implements the LoyaltyClient port against the
// Streamlabs loyalty points API.
package streamlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/streamlink/internal/adapter/driven/httpapi"
	"github.com/ericfisherdev/streamlink/internal/domain/model"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.LoyaltyClient = (*Client)(nil)

const defaultBaseURL = "https://streamlabs.com/api/v2.0"

// Client fetches loyalty points with a shared channel-level token. The
// refresh exchange goes through a separately hosted OAuth helper.
type Client struct {
	gateway   *httpapi.Gateway
	baseURL   string
	helperURL string
}

// NewClient creates a Client against the production API. oauthHelper is the
// base URL of the token refresh helper and may be empty, which disables
// RefreshShared.
func NewClient(oauthHelper string) *Client {
	return NewClientWithHTTPClient(nil, defaultBaseURL, oauthHelper)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base
// URLs. Redirects are never followed: the API answers an expired token with
// a redirect to its login page, which is classified as unauthorized.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, oauthHelper string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{
		gateway: httpapi.NewGateway(httpClient,
			httpapi.WithoutRedirects(),
			httpapi.WithStatusKind(http.StatusFound, driven.KindUnauthorized),
		),
		baseURL:   strings.TrimRight(baseURL, "/"),
		helperURL: strings.TrimRight(oauthHelper, "/"),
	}
}

// pointsRow is one user's loyalty entry.
type pointsRow struct {
	Points      int   `json:"points"`
	TimeWatched int64 `json:"time_watched"`
}

// pointsResponse covers both envelope shapes the endpoint returns:
// {"points":{"data":[row]}} and {"data":row}.
type pointsResponse struct {
	Points *struct {
		Data []pointsRow `json:"data"`
	} `json:"points"`
	Data *pointsRow `json:"data"`
}

// FetchPoints returns the points and watch minutes for username on channel.
// A user with no entry yet has zero of both.
func (c *Client) FetchPoints(ctx context.Context, accessToken, channel, username string) (int, int64, error) {
	query := url.Values{
		"username": {strings.ToLower(username)},
		"channel":  {channel},
		"platform": {"twitch"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/points/user_points?"+query.Encode(), nil)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching points: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	data, err := c.gateway.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("fetching points for %s: %w", username, err)
	}

	var resp pointsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, 0, fmt.Errorf("fetching points for %s: %w", username, &driven.APIError{Kind: driven.KindParse, Err: err})
	}

	switch {
	case resp.Points != nil && len(resp.Points.Data) > 0:
		row := resp.Points.Data[0]
		return row.Points, row.TimeWatched, nil
	case resp.Data != nil:
		return resp.Data.Points, resp.Data.TimeWatched, nil
	default:
		return 0, 0, nil
	}
}

// refreshResponse is the OAuth helper's reply. Either token may be absent.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshShared exchanges refreshToken through the OAuth helper.
func (c *Client) RefreshShared(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	if c.helperURL == "" {
		return model.TokenPair{}, errors.New("streamlabs oauth helper not configured")
	}
	if refreshToken == "" {
		return model.TokenPair{}, errors.New("streamlabs refresh token not configured")
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("encoding refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.helperURL+"/token/refresh", bytes.NewReader(body))
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("refreshing shared token: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := c.gateway.Do(req)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("refreshing shared token: %w", err)
	}

	var resp refreshResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return model.TokenPair{}, fmt.Errorf("refreshing shared token: %w", &driven.APIError{Kind: driven.KindParse, Err: err})
	}
	return model.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}
