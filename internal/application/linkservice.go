package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/streamlink/internal/cache"
	"github.com/ericfisherdev/streamlink/internal/domain/model"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// IdentityInfoTTL bounds how long resolved user info is reused.
const IdentityInfoTTL = 30 * time.Minute

// Compile-time interface satisfaction check.
var _ FlowObserver = (*LinkService)(nil)

// LinkService orchestrates linking, unlinking and status checks. It is the
// FlowObserver for the device flows it starts.
type LinkService struct {
	client       driven.PlatformClient
	creds        *CredentialStore
	tokens       *TokenLifecycle
	registry     *SessionRegistry
	poller       *LiveStatusPoller
	permissions  driven.PermissionBackend
	broadcaster  driven.Broadcaster
	marker       *DisplayMarker
	loop         *PrimaryLoop
	metrics      *Metrics
	identityInfo *cache.TTL[string, model.UserInfo]
	flow         FlowSettings
}

// NewLinkService creates a LinkService with all required dependencies.
func NewLinkService(
	client driven.PlatformClient,
	creds *CredentialStore,
	tokens *TokenLifecycle,
	registry *SessionRegistry,
	poller *LiveStatusPoller,
	permissions driven.PermissionBackend,
	broadcaster driven.Broadcaster,
	marker *DisplayMarker,
	loop *PrimaryLoop,
	metrics *Metrics,
	flow FlowSettings,
) *LinkService {
	flow = flow.withDefaults()
	return &LinkService{
		client:       client,
		creds:        creds,
		tokens:       tokens,
		registry:     registry,
		poller:       poller,
		permissions:  permissions,
		broadcaster:  broadcaster,
		marker:       marker,
		loop:         loop,
		metrics:      metrics,
		identityInfo: cache.NewTTL[string, model.UserInfo](IdentityInfoTTL, flow.Now),
		flow:         flow,
	}
}

// StartLink requests a device code and starts polling for it, replacing any
// session already pending for localID. The flow outlives ctx; it ends on its
// own, on Unlink or Disconnect, or on Shutdown.
func (s *LinkService) StartLink(ctx context.Context, localID uuid.UUID) (model.DeviceCode, error) {
	code, err := s.client.StartDeviceFlow(ctx)
	if err != nil {
		s.metrics.IncFailedLink()
		return model.DeviceCode{}, fmt.Errorf("starting link for %s: %w", localID, err)
	}

	flow := NewDeviceAuthFlow(localID, code, s.client, s.creds, s.registry, s, s.flow)
	s.registry.Register(flow)
	flow.Start(context.WithoutCancel(ctx))

	slog.Info("device flow started", "local_id", localID, "user_code", code.UserCode)
	return code, nil
}

// Unlink cancels any pending session, removes the record and revokes every
// permission derived from the link.
func (s *LinkService) Unlink(ctx context.Context, localID uuid.UUID) error {
	cancelled := s.registry.Cancel(localID)

	record, ok := s.creds.Get(localID)
	if !ok {
		if cancelled {
			return nil
		}
		return driven.ErrIdentityNotFound
	}

	if err := s.creds.Unlink(ctx, localID); err != nil {
		return err
	}
	s.tokens.Forget(localID)
	s.poller.Forget(localID)

	// The record is gone; the revoke must run even if the caller gives up.
	effectCtx := context.WithoutCancel(ctx)
	err := s.loop.Do(effectCtx, func() {
		if record.LastKnownLive {
			if err := s.permissions.RemoveLivePermissions(effectCtx, localID); err != nil {
				slog.Error("removing live permissions failed", "local_id", localID, "error", err)
			}
		}
		if err := s.permissions.Revoke(effectCtx, localID); err != nil {
			slog.Error("revoking permissions failed", "local_id", localID, "error", err)
		}
		s.permissions.Cleanup(localID)
		s.marker.Clear(localID)
	})
	if err != nil {
		return fmt.Errorf("unlinking %s: %w", localID, err)
	}

	slog.Info("identity unlinked", "local_id", localID, "username", record.ExternalUsername)
	return nil
}

// Disconnect handles a local user leaving: any pending session is cancelled
// and session-scoped permission state is dropped. The link itself is kept.
func (s *LinkService) Disconnect(localID uuid.UUID) {
	if s.registry.Cancel(localID) {
		slog.Info("device flow cancelled on disconnect", "local_id", localID)
	}

	if err := s.loop.Submit(func() { s.permissions.Cleanup(localID) }); err != nil {
		slog.Warn("dropping disconnect cleanup", "local_id", localID, "error", err)
	}
}

// Check reports the link state of localID. For linked identities the token
// is validated (and refreshed once if rejected) and user info is resolved
// through the identity-info cache.
func (s *LinkService) Check(ctx context.Context, localID uuid.UUID) (model.LinkStatus, error) {
	status := model.LinkStatus{LocalID: localID}
	if flow, ok := s.registry.Get(localID); ok {
		status.SessionPending = flow.Session().State == model.SessionPending
	}

	record, ok := s.creds.Get(localID)
	if !ok || !record.IsLinked() {
		return status, nil
	}

	status.Linked = true
	status.ExternalID = record.ExternalID
	status.ExternalUsername = record.ExternalUsername
	status.Live = record.LastKnownLive

	token, err := s.tokens.GetValidAccessToken(ctx, localID)
	if err != nil {
		return status, err
	}

	user, err := s.identityInfo.GetOrCompute(record.ExternalID, func() (model.UserInfo, error) {
		return s.client.GetUser(ctx, token)
	})
	if err != nil {
		return status, fmt.Errorf("resolving user for %s: %w", localID, err)
	}

	status.DisplayName = user.DisplayName
	status.Rank = model.RankFromBroadcasterType(user.BroadcasterType)
	return status, nil
}

// Summary returns the stored loyalty figures for localID.
func (s *LinkService) Summary(localID uuid.UUID) (model.LoyaltySummary, error) {
	if !s.creds.IsLinked(localID) {
		if _, ok := s.creds.Get(localID); !ok {
			return model.LoyaltySummary{}, driven.ErrIdentityNotFound
		}
		return model.LoyaltySummary{}, driven.ErrNotLinked
	}
	return s.creds.Loyalty(localID)
}

// Pending reports the session for localID, if one is active.
func (s *LinkService) Pending(localID uuid.UUID) (model.DeviceAuthSession, bool) {
	flow, ok := s.registry.Get(localID)
	if !ok {
		return model.DeviceAuthSession{}, false
	}
	return flow.Session(), true
}

// Shutdown cancels every pending session.
func (s *LinkService) Shutdown() {
	s.registry.CancelAll()
}

// LinkWaiting implements FlowObserver.
func (s *LinkService) LinkWaiting(ctx context.Context, session model.DeviceAuthSession, code model.DeviceCode) {
	s.announce(ctx, model.EventLinkWaiting, model.EventPayload{
		LocalID: session.LocalID,
		Message: fmt.Sprintf("Still waiting for authorization. Visit %s and enter code %s.", code.VerificationURI, code.UserCode),
	})
}

// LinkTimedOut implements FlowObserver.
func (s *LinkService) LinkTimedOut(ctx context.Context, session model.DeviceAuthSession) {
	s.metrics.IncFailedLink()
	s.announce(ctx, model.EventLinkTimedOut, model.EventPayload{
		LocalID: session.LocalID,
		Message: "Authorization was not completed in time. Please try again.",
	})
}

// Linked implements FlowObserver. It assigns the rank, announces the link and
// runs an immediate live check.
func (s *LinkService) Linked(ctx context.Context, localID uuid.UUID, user model.UserInfo) {
	s.metrics.IncSuccessfulLink()
	s.identityInfo.Set(user.ID, user)

	rank := model.RankFromBroadcasterType(user.BroadcasterType)
	effectCtx := context.WithoutCancel(ctx)
	err := s.loop.Submit(func() {
		if err := s.permissions.ApplyRank(effectCtx, localID, rank); err != nil {
			slog.Error("applying rank failed", "local_id", localID, "rank", rank, "error", err)
		}
	})
	if err != nil {
		slog.Warn("dropping rank assignment", "local_id", localID, "error", err)
	}

	s.announce(ctx, model.EventLinked, model.EventPayload{
		LocalID:          localID,
		ExternalUsername: user.Login,
		Message:          fmt.Sprintf("Linked to %s.", user.DisplayName),
	})

	if err := s.poller.Check(ctx, localID); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("live check after link failed", "local_id", localID, "error", err)
	}
}

// announce broadcasts from the primary loop.
func (s *LinkService) announce(ctx context.Context, event model.EventType, payload model.EventPayload) {
	effectCtx := context.WithoutCancel(ctx)
	err := s.loop.Submit(func() {
		if err := s.broadcaster.Broadcast(effectCtx, event, payload); err != nil {
			slog.Warn("broadcast failed", "event", event, "local_id", payload.LocalID, "error", err)
		}
	})
	if err != nil {
		slog.Warn("dropping announcement", "event", event, "error", err)
	}
}
