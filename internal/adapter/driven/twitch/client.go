// Package twitch implements the PlatformClient port against the Twitch
// identity and Helix APIs.
package twitch

import (
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
var _ driven.PlatformClient = (*Client)(nil)

const (
	defaultAuthBaseURL = "https://id.twitch.tv/oauth2"
	defaultAPIBaseURL  = "https://api.twitch.tv/helix"

	deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// DefaultScopes are requested when none are configured.
var DefaultScopes = []string{"user:read:email", "channel:read:subscriptions"}

// Client implements driven.PlatformClient on top of an httpapi.Gateway.
type Client struct {
	gateway      *httpapi.Gateway
	clientID     string
	clientSecret string
	scopes       []string
	authBaseURL  string
	apiBaseURL   string
}

// NewClient creates a Client against the production endpoints.
func NewClient(clientID, clientSecret string, scopes []string) *Client {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &Client{
		gateway:      httpapi.NewGateway(nil),
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       scopes,
		authBaseURL:  defaultAuthBaseURL,
		apiBaseURL:   defaultAPIBaseURL,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base
// URL. Both the identity and API endpoints are rooted at baseURL, which lets
// tests point the client at a single httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, clientID, clientSecret string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	root := strings.TrimRight(u.String(), "/")

	return &Client{
		gateway:      httpapi.NewGateway(httpClient),
		clientID:     clientID,
		clientSecret: clientSecret,
		scopes:       DefaultScopes,
		authBaseURL:  root + "/oauth2",
		apiBaseURL:   root + "/helix",
	}, nil
}

// Configured reports whether client credentials are present.
func (c *Client) Configured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// deviceResponse is the device authorization response body.
type deviceResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	Interval        int    `json:"interval"`
	oauthError
}

// oauthError covers both error shapes the identity endpoints use.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// code returns the machine-readable error code, or "" when none is present.
func (e oauthError) code() string {
	if e.Error != "" && !strings.EqualFold(e.Error, "Bad Request") {
		return strings.ToLower(e.Error)
	}
	return strings.ToLower(strings.TrimSpace(e.Message))
}

// tokenResponse is the token endpoint response body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	oauthError
}

// StartDeviceFlow requests a device code for the configured scopes.
func (c *Client) StartDeviceFlow(ctx context.Context) (model.DeviceCode, error) {
	if c.clientID == "" {
		return model.DeviceCode{}, driven.ErrPlatformNotConfigured
	}

	form := url.Values{
		"client_id": {c.clientID},
		"scopes":    {strings.Join(c.scopes, " ")},
	}

	data, err := c.gateway.Request(ctx, http.MethodPost, c.authBaseURL+"/device", nil, form)
	if err != nil {
		return model.DeviceCode{}, fmt.Errorf("starting device flow: %w", err)
	}

	var resp deviceResponse
	if err := decode(data, &resp); err != nil {
		return model.DeviceCode{}, fmt.Errorf("starting device flow: %w", err)
	}
	if code := resp.code(); code != "" {
		return model.DeviceCode{}, fmt.Errorf("starting device flow: %s: %s", code, resp.ErrorDescription)
	}
	if resp.DeviceCode == "" || resp.VerificationURI == "" {
		return model.DeviceCode{}, fmt.Errorf("starting device flow: %w", parseError("response missing device_code or verification_uri"))
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return model.DeviceCode{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		Interval:        interval,
	}, nil
}

// PollDeviceToken polls the token endpoint with deviceCode once.
func (c *Client) PollDeviceToken(ctx context.Context, deviceCode string) (model.DevicePollResult, error) {
	form := url.Values{
		"client_id":   {c.clientID},
		"device_code": {deviceCode},
		"scopes":      {strings.Join(c.scopes, " ")},
		"grant_type":  {deviceCodeGrantType},
	}

	data, err := c.gateway.Request(ctx, http.MethodPost, c.authBaseURL+"/token", nil, form)
	if err != nil {
		var apiErr *driven.APIError
		if errors.As(err, &apiErr) && apiErr.Body != "" &&
			(apiErr.Kind == driven.KindServerError || apiErr.Kind == driven.KindUnauthorized) {
			var oe oauthError
			if json.Unmarshal([]byte(apiErr.Body), &oe) == nil && oe.code() != "" {
				return pollOutcome(oe.code(), err), nil
			}
		}
		return model.DevicePollResult{}, err
	}

	var resp tokenResponse
	if err := decode(data, &resp); err != nil {
		return model.DevicePollResult{Status: model.PollFailed, Err: err}, nil
	}
	if code := resp.code(); code != "" {
		return pollOutcome(code, fmt.Errorf("token endpoint: %s", code)), nil
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return model.DevicePollResult{Status: model.PollFailed, Err: parseError("token response missing access_token or refresh_token")}, nil
	}

	return model.DevicePollResult{
		Status: model.PollSuccess,
		Tokens: model.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken},
	}, nil
}

// pollOutcome tags an error code as pending or failed.
func pollOutcome(code string, err error) model.DevicePollResult {
	switch code {
	case "authorization_pending", "slow_down":
		return model.DevicePollResult{Status: model.PollPending, Code: code}
	default:
		return model.DevicePollResult{Status: model.PollFailed, Code: code, Err: err}
	}
}

// RefreshToken exchanges refreshToken for a new pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	if !c.Configured() {
		return model.TokenPair{}, driven.ErrPlatformNotConfigured
	}

	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	data, err := c.gateway.Request(ctx, http.MethodPost, c.authBaseURL+"/token", nil, form)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("refreshing token: %w", err)
	}

	var resp tokenResponse
	if err := decode(data, &resp); err != nil {
		return model.TokenPair{}, fmt.Errorf("refreshing token: %w", err)
	}

	return model.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

// validateResponse is the token validation response body.
type validateResponse struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id"`
}

// Validate reports whether accessToken is accepted. A rejected token is
// (false, nil); transport, rate-limit and server failures are returned as errors.
func (c *Client) Validate(ctx context.Context, accessToken string) (bool, error) {
	if accessToken == "" {
		return false, nil
	}

	header := http.Header{"Authorization": {"Bearer " + accessToken}}
	data, err := c.gateway.Request(ctx, http.MethodGet, c.authBaseURL+"/validate", header, nil)
	if err != nil {
		if driven.IsAuthError(err) {
			return false, nil
		}
		return false, fmt.Errorf("validating token: %w", err)
	}

	var resp validateResponse
	if err := decode(data, &resp); err != nil {
		return false, fmt.Errorf("validating token: %w", err)
	}

	return resp.ClientID != "" && resp.UserID != "", nil
}

// usersResponse is the Helix users response body.
type usersResponse struct {
	Data []struct {
		ID              string `json:"id"`
		Login           string `json:"login"`
		DisplayName     string `json:"display_name"`
		BroadcasterType string `json:"broadcaster_type"`
	} `json:"data"`
}

// GetUser returns the user that owns accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (model.UserInfo, error) {
	data, err := c.gateway.Request(ctx, http.MethodGet, c.apiBaseURL+"/users", c.bearer(accessToken), nil)
	if err != nil {
		return model.UserInfo{}, fmt.Errorf("fetching user: %w", err)
	}

	var resp usersResponse
	if err := decode(data, &resp); err != nil {
		return model.UserInfo{}, fmt.Errorf("fetching user: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].ID == "" {
		return model.UserInfo{}, fmt.Errorf("fetching user: %w", parseError("empty users data"))
	}

	u := resp.Data[0]
	return model.UserInfo{
		ID:              u.ID,
		Login:           u.Login,
		DisplayName:     u.DisplayName,
		BroadcasterType: u.BroadcasterType,
	}, nil
}

// streamsResponse is the Helix streams response body.
type streamsResponse struct {
	Data []struct {
		Type        string `json:"type"`
		Title       string `json:"title"`
		GameName    string `json:"game_name"`
		ViewerCount int    `json:"viewer_count"`
	} `json:"data"`
}

// GetStream returns the current stream for externalID, or nil when offline.
func (c *Client) GetStream(ctx context.Context, accessToken, externalID string) (*model.StreamInfo, error) {
	endpoint := c.apiBaseURL + "/streams?user_id=" + url.QueryEscape(externalID)

	data, err := c.gateway.Request(ctx, http.MethodGet, endpoint, c.bearer(accessToken), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching stream for %s: %w", externalID, err)
	}

	var resp streamsResponse
	if err := decode(data, &resp); err != nil {
		return nil, fmt.Errorf("fetching stream for %s: %w", externalID, err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}

	s := resp.Data[0]
	return &model.StreamInfo{
		Type:        s.Type,
		Title:       s.Title,
		GameName:    s.GameName,
		ViewerCount: s.ViewerCount,
	}, nil
}

// IsLive reports whether externalID has a stream row with a non-empty type.
func (c *Client) IsLive(ctx context.Context, accessToken, externalID string) (bool, error) {
	stream, err := c.GetStream(ctx, accessToken, externalID)
	if err != nil {
		return false, err
	}
	return stream.IsLive(), nil
}

// bearer builds the headers for an authenticated Helix call.
func (c *Client) bearer(accessToken string) http.Header {
	return http.Header{
		"Authorization": {"Bearer " + accessToken},
		"Client-Id":     {c.clientID},
	}
}

// decode unmarshals a JSON body, reporting failures as KindParse.
func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &driven.APIError{Kind: driven.KindParse, Err: err}
	}
	return nil
}

// parseError reports an unexpected payload shape.
func parseError(msg string) error {
	return &driven.APIError{Kind: driven.KindParse, Err: errors.New(msg)}
}
