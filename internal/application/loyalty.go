package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// DefaultLoyaltyInterval is the loyalty poll cadence when none is configured.
const DefaultLoyaltyInterval = 30 * time.Second

// LoyaltyPoller periodically pulls loyalty points and watch time for every
// linked identity using the shared platform-level credential.
type LoyaltyPoller struct {
	client       driven.LoyaltyClient
	creds        *CredentialStore
	shared       *SharedToken
	channel      string
	preferStored bool
	interval     time.Duration
}

// NewLoyaltyPoller creates a LoyaltyPoller.
func NewLoyaltyPoller(
	client driven.LoyaltyClient,
	creds *CredentialStore,
	shared *SharedToken,
	channel string,
	preferStored bool,
	interval time.Duration,
) *LoyaltyPoller {
	if interval <= 0 {
		interval = DefaultLoyaltyInterval
	}
	return &LoyaltyPoller{
		client:       client,
		creds:        creds,
		shared:       shared,
		channel:      channel,
		preferStored: preferStored,
		interval:     interval,
	}
}

// Start runs an immediate sweep, then one per interval until ctx is canceled.
func (p *LoyaltyPoller) Start(ctx context.Context) {
	p.Sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("loyalty poller stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep updates loyalty figures for every linked identity.
func (p *LoyaltyPoller) Sweep(ctx context.Context) {
	if p.channel == "" || p.shared.Token() == "" {
		slog.Debug("loyalty sweep skipped, shared credential not configured")
		return
	}

	var updated, failures int
	for _, id := range p.creds.AllLinked() {
		if ctx.Err() != nil {
			return
		}
		if err := p.pollOne(ctx, id); err != nil {
			slog.Warn("loyalty poll failed", "local_id", id, "error", err)
			failures++
			continue
		}
		updated++
	}

	slog.Debug("loyalty sweep complete", "updated", updated, "errors", failures)
}

func (p *LoyaltyPoller) pollOne(ctx context.Context, localID uuid.UUID) error {
	record, ok := p.creds.Get(localID)
	if !ok || record.ExternalUsername == "" {
		return nil
	}

	points, minutes, err := p.client.FetchPoints(ctx, p.shared.Token(), p.channel, record.ExternalUsername)
	if driven.IsAuthError(err) {
		// One refresh and one retry; a debounced refresh still retries with
		// whatever token the concurrent refresh left behind.
		if rerr := p.shared.Refresh(ctx); rerr != nil {
			slog.Debug("shared token refresh", "error", rerr)
		}
		points, minutes, err = p.client.FetchPoints(ctx, p.shared.Token(), p.channel, record.ExternalUsername)
	}
	if err != nil {
		return fmt.Errorf("fetching points for %s: %w", record.ExternalUsername, err)
	}

	return p.creds.UpdateLoyalty(ctx, localID, points, minutes, p.preferStored)
}
