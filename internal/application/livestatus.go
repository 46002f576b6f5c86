package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/streamlink/internal/cache"
	"github.com/ericfisherdev/streamlink/internal/domain/model"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

const (
	// DefaultLiveCheckInterval is the sweep cadence when none is configured.
	DefaultLiveCheckInterval = 120 * time.Second

	// LiveStatusTTL bounds how long an observed live state is reused.
	LiveStatusTTL = 2 * time.Minute
)

// LiveStatusPoller sweeps linked identities and fires hooks only when an
// identity's live state flips.
type LiveStatusPoller struct {
	client      driven.PlatformClient
	creds       *CredentialStore
	tokens      *TokenLifecycle
	permissions driven.PermissionBackend
	broadcaster driven.Broadcaster
	marker      *DisplayMarker
	loop        *PrimaryLoop
	metrics     *Metrics
	liveCache   *cache.TTL[string, bool]
	interval    time.Duration
	now         Clock

	mu        sync.Mutex
	notBefore map[uuid.UUID]time.Time
}

// NewLiveStatusPoller creates a LiveStatusPoller. A nil now uses time.Now.
func NewLiveStatusPoller(
	client driven.PlatformClient,
	creds *CredentialStore,
	tokens *TokenLifecycle,
	permissions driven.PermissionBackend,
	broadcaster driven.Broadcaster,
	marker *DisplayMarker,
	loop *PrimaryLoop,
	metrics *Metrics,
	interval time.Duration,
	now Clock,
) *LiveStatusPoller {
	if interval <= 0 {
		interval = DefaultLiveCheckInterval
	}
	now = now.orNow()
	return &LiveStatusPoller{
		client:      client,
		creds:       creds,
		tokens:      tokens,
		permissions: permissions,
		broadcaster: broadcaster,
		marker:      marker,
		loop:        loop,
		metrics:     metrics,
		liveCache:   cache.NewTTL[string, bool](LiveStatusTTL, now),
		interval:    interval,
		now:         now,
		notBefore:   make(map[uuid.UUID]time.Time),
	}
}

// Start runs an immediate sweep, then one per interval until ctx is canceled.
func (p *LiveStatusPoller) Start(ctx context.Context) {
	p.Sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("live status poller stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep checks every linked identity once. A failure for one identity never
// stops the sweep.
func (p *LiveStatusPoller) Sweep(ctx context.Context) {
	start := time.Now()
	ids := p.creds.AllLinked()

	var failures int
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := p.Check(ctx, id); err != nil {
			failures++
		}
	}

	slog.Debug("live status sweep complete",
		"identities", len(ids),
		"errors", failures,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// Check observes one identity and dispatches a transition if its live state
// changed. It is safe to call concurrently with a sweep: the transition is
// claimed atomically, so hooks fire at most once per edge.
func (p *LiveStatusPoller) Check(ctx context.Context, localID uuid.UUID) error {
	record, ok := p.creds.Get(localID)
	if !ok || !record.IsLinked() {
		return nil
	}

	if until, gated := p.gatedUntil(localID); gated {
		slog.Debug("live check skipped while rate limited", "local_id", localID, "until", until)
		return nil
	}

	live, err := p.liveCache.GetOrCompute(record.ExternalID, func() (bool, error) {
		return p.client.IsLive(ctx, record.AccessToken, record.ExternalID)
	})
	if err != nil {
		p.handleError(ctx, record, err)
		return err
	}

	changed, err := p.creds.SetLive(ctx, localID, live)
	if err != nil {
		// Unlinked between the read and the write.
		if errors.Is(err, driven.ErrIdentityNotFound) {
			return nil
		}
		return err
	}
	if !changed {
		return nil
	}

	if live {
		p.wentLive(ctx, record)
	} else {
		p.wentOffline(ctx, record)
	}
	return nil
}

// Forget drops cached state for an identity that was unlinked.
func (p *LiveStatusPoller) Forget(localID uuid.UUID) {
	p.mu.Lock()
	delete(p.notBefore, localID)
	p.mu.Unlock()
}

func (p *LiveStatusPoller) handleError(ctx context.Context, record model.IdentityRecord, err error) {
	if retryAfter, ok := driven.RetryAfterOf(err); ok {
		p.mu.Lock()
		p.notBefore[record.LocalID] = p.now().Add(retryAfter)
		p.mu.Unlock()
		slog.Warn("live check rate limited", "local_id", record.LocalID, "external_id", record.ExternalID, "retry_after", retryAfter)
		return
	}

	if driven.IsAuthError(err) {
		slog.Info("live check unauthorized, refreshing token", "local_id", record.LocalID)
		if rerr := p.tokens.Refresh(ctx, record.LocalID); rerr != nil && !errors.Is(rerr, driven.ErrRefreshDebounced) {
			slog.Warn("token refresh after live check failed", "local_id", record.LocalID, "error", rerr)
		}
		return
	}

	slog.Warn("live check failed", "local_id", record.LocalID, "external_id", record.ExternalID, "error", err)
}

func (p *LiveStatusPoller) gatedUntil(localID uuid.UUID) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	until, ok := p.notBefore[localID]
	if !ok {
		return time.Time{}, false
	}
	if !p.now().Before(until) {
		delete(p.notBefore, localID)
		return time.Time{}, false
	}
	return until, true
}

func (p *LiveStatusPoller) wentLive(ctx context.Context, record model.IdentityRecord) {
	payload := model.EventPayload{
		LocalID:          record.LocalID,
		ExternalUsername: record.ExternalUsername,
	}

	// Stream metadata always comes from a fresh call.
	stream, err := p.client.GetStream(ctx, record.AccessToken, record.ExternalID)
	if err != nil {
		slog.Warn("fetching stream metadata failed", "local_id", record.LocalID, "error", err)
	} else if stream != nil {
		payload.Title = stream.Title
		payload.Category = stream.GameName
		payload.ViewerCount = stream.ViewerCount
	}

	p.metrics.IncLiveStream()
	slog.Info("identity went live", "local_id", record.LocalID, "username", record.ExternalUsername, "title", payload.Title)

	effectCtx := context.WithoutCancel(ctx)
	p.dispatch(func() {
		if err := p.permissions.ApplyLivePermissions(effectCtx, record.LocalID); err != nil {
			slog.Error("applying live permissions failed", "local_id", record.LocalID, "error", err)
		}
		p.marker.SetLive(record.LocalID)
		if err := p.broadcaster.Broadcast(effectCtx, model.EventWentLive, payload); err != nil {
			slog.Warn("went-live broadcast failed", "local_id", record.LocalID, "error", err)
		}
	})
}

func (p *LiveStatusPoller) wentOffline(ctx context.Context, record model.IdentityRecord) {
	slog.Info("identity went offline", "local_id", record.LocalID, "username", record.ExternalUsername)

	payload := model.EventPayload{
		LocalID:          record.LocalID,
		ExternalUsername: record.ExternalUsername,
	}

	effectCtx := context.WithoutCancel(ctx)
	p.dispatch(func() {
		if err := p.permissions.RemoveLivePermissions(effectCtx, record.LocalID); err != nil {
			slog.Error("removing live permissions failed", "local_id", record.LocalID, "error", err)
		}
		p.marker.Clear(record.LocalID)
		if err := p.broadcaster.Broadcast(effectCtx, model.EventWentOffline, payload); err != nil {
			slog.Warn("went-offline broadcast failed", "local_id", record.LocalID, "error", err)
		}
	})
}

func (p *LiveStatusPoller) dispatch(fn func()) {
	if err := p.loop.Submit(fn); err != nil {
		slog.Warn("dropping live transition effects", "error", err)
	}
}
