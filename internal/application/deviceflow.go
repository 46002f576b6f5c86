package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/streamlink/internal/domain/model"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

const (
	// DeviceFlowInterval is the delay between device-token polls.
	DeviceFlowInterval = 5 * time.Second

	// DeviceFlowBudget is the number of polls before a session times out.
	DeviceFlowBudget = 12

	// waitingNoticeEvery spaces the "still waiting" notices, in attempts.
	waitingNoticeEvery = 4
)

// FlowObserver receives the user-facing outcomes of a DeviceAuthFlow.
type FlowObserver interface {
	// LinkWaiting is called periodically while authorization is pending.
	LinkWaiting(ctx context.Context, session model.DeviceAuthSession, code model.DeviceCode)

	// LinkTimedOut is called once when the poll budget runs out and the
	// identity is still unlinked.
	LinkTimedOut(ctx context.Context, session model.DeviceAuthSession)

	// Linked is called once after the credential pair was stored.
	Linked(ctx context.Context, localID uuid.UUID, user model.UserInfo)
}

// FlowSettings tunes a DeviceAuthFlow. Zero values use the defaults.
type FlowSettings struct {
	Interval time.Duration
	Budget   int
	Now      Clock
}

func (s FlowSettings) withDefaults() FlowSettings {
	if s.Interval <= 0 {
		s.Interval = DeviceFlowInterval
	}
	if s.Budget <= 0 {
		s.Budget = DeviceFlowBudget
	}
	s.Now = s.Now.orNow()
	return s
}

// DeviceAuthFlow polls the device-token endpoint for one linking attempt.
// It moves from pending to exactly one of completed, timed out or cancelled.
type DeviceAuthFlow struct {
	client   driven.PlatformClient
	creds    *CredentialStore
	registry *SessionRegistry
	observer FlowObserver
	code     model.DeviceCode
	settings FlowSettings

	done chan struct{}

	mu               sync.Mutex
	session          model.DeviceAuthSession
	cancel           context.CancelFunc
	rateLimitedUntil time.Time
	// issued holds tokens from a successful poll whose user lookup failed,
	// so the next tick retries the lookup instead of re-polling a used code.
	issued *model.TokenPair
}

// NewDeviceAuthFlow creates a pending flow for localID.
func NewDeviceAuthFlow(
	localID uuid.UUID,
	code model.DeviceCode,
	client driven.PlatformClient,
	creds *CredentialStore,
	registry *SessionRegistry,
	observer FlowObserver,
	settings FlowSettings,
) *DeviceAuthFlow {
	settings = settings.withDefaults()
	return &DeviceAuthFlow{
		client:   client,
		creds:    creds,
		registry: registry,
		observer: observer,
		code:     code,
		settings: settings,
		done:     make(chan struct{}),
		session: model.DeviceAuthSession{
			LocalID:    localID,
			DeviceCode: code.DeviceCode,
			StartedAt:  settings.Now(),
			State:      model.SessionPending,
		},
	}
}

// LocalID returns the identity this flow links.
func (f *DeviceAuthFlow) LocalID() uuid.UUID {
	return f.session.LocalID
}

// Code returns the device code shown to the user.
func (f *DeviceAuthFlow) Code() model.DeviceCode {
	return f.code
}

// Session returns a snapshot of the session state.
func (f *DeviceAuthFlow) Session() model.DeviceAuthSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// Err reports why a finished flow did not complete: driven.ErrFlowTimeout
// after the budget ran out, context.Canceled after cancellation, nil otherwise.
func (f *DeviceAuthFlow) Err() error {
	switch f.Session().State {
	case model.SessionTimedOut:
		return driven.ErrFlowTimeout
	case model.SessionCancelled:
		return context.Canceled
	default:
		return nil
	}
}

// Done is closed when the polling goroutine has exited.
func (f *DeviceAuthFlow) Done() <-chan struct{} {
	return f.done
}

// Start launches the polling goroutine. The flow stops when parent is
// canceled, when Cancel is called or when it reaches a terminal state.
func (f *DeviceAuthFlow) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)

	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	go f.run(ctx)
}

// Cancel moves a pending flow to cancelled and stops its goroutine. It waits
// for an in-progress link write to finish, so a cancelled flow never writes
// credentials afterwards.
func (f *DeviceAuthFlow) Cancel() {
	f.mu.Lock()
	if f.session.State == model.SessionPending {
		f.session.State = model.SessionCancelled
	}
	cancel := f.cancel
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (f *DeviceAuthFlow) run(ctx context.Context) {
	defer close(f.done)
	defer f.registry.Deregister(f)
	defer f.Cancel()

	ticker := time.NewTicker(f.settings.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.Cancel()
			slog.Debug("device flow stopped", "local_id", f.LocalID(), "state", f.Session().State)
			return
		case <-ticker.C:
			if f.tick(ctx) {
				return
			}
		}
	}
}

// tick performs one step and reports whether the flow is finished.
func (f *DeviceAuthFlow) tick(ctx context.Context) bool {
	f.mu.Lock()
	if f.session.State != model.SessionPending {
		f.mu.Unlock()
		return true
	}

	if f.session.AttemptCount >= f.settings.Budget {
		f.session.State = model.SessionTimedOut
		snap := f.session
		f.mu.Unlock()

		slog.Info("device flow ended", "local_id", snap.LocalID, "attempts", snap.AttemptCount, "error", driven.ErrFlowTimeout)
		if !f.creds.IsLinked(snap.LocalID) {
			f.observer.LinkTimedOut(ctx, snap)
		}
		return true
	}

	f.session.AttemptCount++
	snap := f.session
	issued := f.issued
	gated := f.settings.Now().Before(f.rateLimitedUntil)
	f.mu.Unlock()

	if issued != nil {
		return f.complete(ctx, *issued)
	}

	if gated {
		slog.Debug("device flow poll skipped while rate limited", "local_id", snap.LocalID, "attempt", snap.AttemptCount)
		return false
	}

	result, err := f.client.PollDeviceToken(ctx, f.code.DeviceCode)
	if err != nil {
		if retryAfter, ok := driven.RetryAfterOf(err); ok {
			f.mu.Lock()
			f.rateLimitedUntil = f.settings.Now().Add(retryAfter)
			f.mu.Unlock()
			slog.Warn("device flow rate limited", "local_id", snap.LocalID, "retry_after", retryAfter)
			return false
		}
		slog.Warn("device token poll failed", "local_id", snap.LocalID, "attempt", snap.AttemptCount, "error", err)
		return false
	}

	switch result.Status {
	case model.PollPending:
		slog.Debug("device authorization pending", "local_id", snap.LocalID, "attempt", snap.AttemptCount, "code", result.Code)
		if snap.AttemptCount%waitingNoticeEvery == 0 {
			f.observer.LinkWaiting(ctx, snap, f.code)
		}
		return false
	case model.PollSuccess:
		return f.complete(ctx, result.Tokens)
	default:
		slog.Warn("device token poll rejected",
			"local_id", snap.LocalID,
			"attempt", snap.AttemptCount,
			"code", result.Code,
			"error", result.Err,
		)
		return false
	}
}

// complete resolves the token owner and links the identity.
func (f *DeviceAuthFlow) complete(ctx context.Context, tokens model.TokenPair) bool {
	user, err := f.client.GetUser(ctx, tokens.AccessToken)
	if err != nil {
		f.mu.Lock()
		f.issued = &tokens
		f.mu.Unlock()
		slog.Warn("resolving linked user failed", "local_id", f.LocalID(), "error", err)
		return false
	}

	f.mu.Lock()
	if f.session.State != model.SessionPending || ctx.Err() != nil {
		f.mu.Unlock()
		return true
	}

	applied, err := f.creds.Link(ctx, f.session.LocalID, user.ID, tokens.AccessToken, tokens.RefreshToken, user.Login)
	if err != nil {
		f.issued = nil
		f.mu.Unlock()
		slog.Error("storing linked identity failed", "local_id", f.LocalID(), "error", err)
		return false
	}
	f.session.State = model.SessionCompleted
	f.issued = nil
	localID := f.session.LocalID
	f.mu.Unlock()

	if !applied {
		slog.Info("identity already linked, ignoring duplicate completion", "local_id", localID)
		return true
	}

	slog.Info("identity linked", "local_id", localID, "external_id", user.ID, "username", user.Login)
	f.observer.Linked(ctx, localID, user)
	return true
}
