// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Permission backends selectable with STREAMLINK_PERMISSION_BACKEND.
const (
	BackendGroups      = "groups"
	BackendAttachments = "attachments"
)

// Loyalty sources selectable with STREAMLINK_LOYALTY_SOURCE.
const (
	LoyaltySourceCSV = "csv"
	LoyaltySourceAPI = "api"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	TwitchClientID     string
	TwitchClientSecret string
	TwitchScopes       []string
	LiveCheckInterval  time.Duration

	ListenAddr string
	DBPath     string
	// SecretKey encrypts stored tokens when set. Always nil or 32 bytes.
	SecretKey []byte

	PermissionBackend string
	WebhookURL        string

	MetricsInterval time.Duration
	BackupDir       string

	LoyaltySource          string
	LoyaltyPreferStored    bool
	LoyaltyInterval        time.Duration
	StreamlabsChannel      string
	StreamlabsAccessToken  string
	StreamlabsRefreshToken string
	StreamlabsOAuthHelper  string
}

// HasTwitchCredentials reports whether both the client id and secret are set.
// Linking and token refresh are unavailable without them.
func (c *Config) HasTwitchCredentials() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != ""
}

// LoyaltyAPIEnabled reports whether the loyalty poller should run.
func (c *Config) LoyaltyAPIEnabled() bool {
	return c.LoyaltySource == LoyaltySourceAPI
}

// Load reads configuration from STREAMLINK_ environment variables and returns
// a validated Config. Every variable is optional; malformed values fail fast.
func Load() (*Config, error) {
	cfg := &Config{
		TwitchClientID:         os.Getenv("STREAMLINK_TWITCH_CLIENT_ID"),
		TwitchClientSecret:     os.Getenv("STREAMLINK_TWITCH_CLIENT_SECRET"),
		ListenAddr:             stringEnv("STREAMLINK_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:                 stringEnv("STREAMLINK_DB_PATH", "streamlink.db"),
		PermissionBackend:      strings.ToLower(stringEnv("STREAMLINK_PERMISSION_BACKEND", BackendGroups)),
		WebhookURL:             os.Getenv("STREAMLINK_WEBHOOK_URL"),
		BackupDir:              stringEnv("STREAMLINK_BACKUP_DIR", "backups"),
		LoyaltySource:          strings.ToLower(stringEnv("STREAMLINK_LOYALTY_SOURCE", LoyaltySourceCSV)),
		StreamlabsChannel:      os.Getenv("STREAMLINK_STREAMLABS_CHANNEL"),
		StreamlabsAccessToken:  os.Getenv("STREAMLINK_STREAMLABS_ACCESS_TOKEN"),
		StreamlabsRefreshToken: os.Getenv("STREAMLINK_STREAMLABS_REFRESH_TOKEN"),
		StreamlabsOAuthHelper:  os.Getenv("STREAMLINK_STREAMLABS_OAUTH_HELPER"),
	}

	// The bare TWITCH_CLIENT_SECRET is honoured for deployments that
	// already export it for other tools.
	if cfg.TwitchClientSecret == "" {
		cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	}

	cfg.TwitchScopes = []string{"user:read:email", "channel:read:subscriptions"}
	if v, ok := os.LookupEnv("STREAMLINK_TWITCH_SCOPES"); ok && strings.TrimSpace(v) != "" {
		cfg.TwitchScopes = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}

	var err error
	if cfg.LiveCheckInterval, err = durationEnv("STREAMLINK_LIVE_CHECK_INTERVAL", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.MetricsInterval, err = durationEnv("STREAMLINK_METRICS_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.LoyaltyInterval, err = durationEnv("STREAMLINK_LOYALTY_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.LoyaltyPreferStored, err = boolEnv("STREAMLINK_LOYALTY_PREFER_STORED", true); err != nil {
		return nil, err
	}
	if cfg.SecretKey, err = secretKeyEnv("STREAMLINK_SECRET_KEY"); err != nil {
		return nil, err
	}

	switch cfg.PermissionBackend {
	case BackendGroups, BackendAttachments:
	default:
		return nil, fmt.Errorf("STREAMLINK_PERMISSION_BACKEND must be %q or %q, got %q",
			BackendGroups, BackendAttachments, cfg.PermissionBackend)
	}

	switch cfg.LoyaltySource {
	case LoyaltySourceCSV, LoyaltySourceAPI:
	default:
		return nil, fmt.Errorf("STREAMLINK_LOYALTY_SOURCE must be %q or %q, got %q",
			LoyaltySourceCSV, LoyaltySourceAPI, cfg.LoyaltySource)
	}

	return cfg, nil
}

func stringEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, parsed)
	}
	return parsed, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return parsed, nil
}

// secretKeyEnv decodes a hex-encoded 32-byte AES-256 key.
func secretKeyEnv(key string) ([]byte, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil, nil
	}
	decoded, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be hex-encoded: %w", key, err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", key, len(decoded))
	}
	return decoded, nil
}
