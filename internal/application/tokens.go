package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// TokenLifecycle keeps per-identity access tokens valid.
type TokenLifecycle struct {
	client driven.PlatformClient
	creds  *CredentialStore
	gate   *refreshGate
}

// NewTokenLifecycle creates a TokenLifecycle with the standard refresh
// debounce. A nil now uses time.Now.
func NewTokenLifecycle(client driven.PlatformClient, creds *CredentialStore, now Clock) *TokenLifecycle {
	return &TokenLifecycle{
		client: client,
		creds:  creds,
		gate:   newRefreshGate(RefreshDebounce, now),
	}
}

// GetValidAccessToken validates the stored token and refreshes it once when
// the platform rejects it.
func (t *TokenLifecycle) GetValidAccessToken(ctx context.Context, localID uuid.UUID) (string, error) {
	record, ok := t.creds.Get(localID)
	if !ok {
		return "", driven.ErrIdentityNotFound
	}
	if !record.IsLinked() {
		return "", driven.ErrNotLinked
	}

	valid, err := t.client.Validate(ctx, record.AccessToken)
	if err != nil {
		return "", fmt.Errorf("validating token for %s: %w", localID, err)
	}
	if valid {
		return record.AccessToken, nil
	}

	err = t.Refresh(ctx, localID)
	if errors.Is(err, driven.ErrRefreshDebounced) {
		// A refresh just happened elsewhere; use its result if it produced one.
		if current, ok := t.creds.Get(localID); ok && current.AccessToken != record.AccessToken {
			return current.AccessToken, nil
		}
		return "", fmt.Errorf("%w: %w", driven.ErrRefreshFailed, err)
	}
	if err != nil {
		return "", err
	}

	current, ok := t.creds.Get(localID)
	if !ok {
		return "", driven.ErrIdentityNotFound
	}
	return current.AccessToken, nil
}

// Refresh exchanges the stored refresh token for a new pair. Concurrent
// callers for the same identity share one network call, and an attempt
// within RefreshDebounce of the previous one returns
// driven.ErrRefreshDebounced without calling the platform.
func (t *TokenLifecycle) Refresh(ctx context.Context, localID uuid.UUID) error {
	return t.gate.Do(localID.String(), func() error {
		record, ok := t.creds.Get(localID)
		if !ok {
			return driven.ErrIdentityNotFound
		}
		if record.RefreshToken == "" {
			return fmt.Errorf("%w: no refresh token for %s", driven.ErrRefreshFailed, localID)
		}

		pair, err := t.client.RefreshToken(ctx, record.RefreshToken)
		if err != nil {
			slog.Warn("token refresh failed", "local_id", localID, "error", err)
			return fmt.Errorf("%w: %w", driven.ErrRefreshFailed, err)
		}
		if pair.AccessToken == "" {
			return fmt.Errorf("%w: response carried no access token", driven.ErrRefreshFailed)
		}

		if err := t.creds.UpdateTokens(ctx, localID, pair); err != nil {
			return fmt.Errorf("%w: %w", driven.ErrRefreshFailed, err)
		}

		slog.Info("access token refreshed", "local_id", localID)
		return nil
	})
}

// Forget drops refresh bookkeeping for localID.
func (t *TokenLifecycle) Forget(localID uuid.UUID) {
	t.gate.Forget(localID.String())
}
