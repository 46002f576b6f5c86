package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

const sharedScope = "shared"

// SharedToken holds the platform-level credential used by the loyalty poller.
// Refresh follows the same single-flight and debounce rules as per-identity
// refresh.
type SharedToken struct {
	client driven.LoyaltyClient
	gate   *refreshGate

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

// NewSharedToken creates a SharedToken seeded with the configured pair.
func NewSharedToken(client driven.LoyaltyClient, accessToken, refreshToken string, now Clock) *SharedToken {
	return &SharedToken{
		client:       client,
		gate:         newRefreshGate(RefreshDebounce, now),
		accessToken:  accessToken,
		refreshToken: refreshToken,
	}
}

// Token returns the current access token.
func (s *SharedToken) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// Refresh exchanges the shared refresh token for a new pair.
func (s *SharedToken) Refresh(ctx context.Context) error {
	return s.gate.Do(sharedScope, func() error {
		s.mu.RLock()
		refreshToken := s.refreshToken
		s.mu.RUnlock()

		if refreshToken == "" {
			return fmt.Errorf("%w: no shared refresh token configured", driven.ErrRefreshFailed)
		}

		pair, err := s.client.RefreshShared(ctx, refreshToken)
		if err != nil {
			return fmt.Errorf("%w: %w", driven.ErrRefreshFailed, err)
		}
		if pair.AccessToken == "" && pair.RefreshToken == "" {
			return fmt.Errorf("%w: response carried no tokens", driven.ErrRefreshFailed)
		}

		s.mu.Lock()
		if pair.AccessToken != "" {
			s.accessToken = pair.AccessToken
		}
		if pair.RefreshToken != "" {
			s.refreshToken = pair.RefreshToken
		}
		s.mu.Unlock()

		slog.Info("shared loyalty token refreshed")
		return nil
	})
}
