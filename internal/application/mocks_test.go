package application_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/streamlink/internal/application"
	"github.com/ericfisherdev/streamlink/internal/domain/model"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// --- Clock ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// --- IdentityStore ---

type memIdentityStore struct {
	mu         sync.Mutex
	records    map[uuid.UUID]model.IdentityRecord
	upserts    int
	failUpsert error
	failDelete error
}

func newMemIdentityStore(records ...model.IdentityRecord) *memIdentityStore {
	s := &memIdentityStore{records: make(map[uuid.UUID]model.IdentityRecord)}
	for _, r := range records {
		s.records[r.LocalID] = r
	}
	return s
}

func (s *memIdentityStore) LoadAll(_ context.Context) ([]model.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.IdentityRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *memIdentityStore) Upsert(ctx context.Context, r model.IdentityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failUpsert != nil {
		return s.failUpsert
	}
	s.records[r.LocalID] = r
	return nil
}

func (s *memIdentityStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failDelete != nil {
		return s.failDelete
	}
	delete(s.records, id)
	return nil
}

func (s *memIdentityStore) get(id uuid.UUID) (model.IdentityRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

func (s *memIdentityStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// --- PlatformClient ---

type fakePlatform struct {
	startFn    func(ctx context.Context) (model.DeviceCode, error)
	pollFn     func(ctx context.Context, attempt int) (model.DevicePollResult, error)
	refreshFn  func(ctx context.Context, refreshToken string) (model.TokenPair, error)
	validateFn func(ctx context.Context, accessToken string) (bool, error)
	getUserFn  func(ctx context.Context, accessToken string) (model.UserInfo, error)
	streamFn   func(ctx context.Context, accessToken, externalID string) (*model.StreamInfo, error)
	isLiveFn   func(ctx context.Context, accessToken, externalID string) (bool, error)

	polls     atomic.Int32
	refreshes atomic.Int32
	validates atomic.Int32
	users     atomic.Int32
	streams   atomic.Int32
	liveCalls atomic.Int32
}

func (f *fakePlatform) StartDeviceFlow(ctx context.Context) (model.DeviceCode, error) {
	if f.startFn != nil {
		return f.startFn(ctx)
	}
	return model.DeviceCode{DeviceCode: "abc123", UserCode: "WXYZ-1234", VerificationURI: "https://www.twitch.tv/activate", Interval: 5 * time.Second}, nil
}

func (f *fakePlatform) PollDeviceToken(ctx context.Context, _ string) (model.DevicePollResult, error) {
	attempt := int(f.polls.Add(1))
	if f.pollFn != nil {
		return f.pollFn(ctx, attempt)
	}
	return model.DevicePollResult{Status: model.PollPending, Code: "authorization_pending"}, nil
}

func (f *fakePlatform) RefreshToken(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	f.refreshes.Add(1)
	if f.refreshFn != nil {
		return f.refreshFn(ctx, refreshToken)
	}
	return model.TokenPair{AccessToken: "refreshed-at", RefreshToken: "refreshed-rt"}, nil
}

func (f *fakePlatform) Validate(ctx context.Context, accessToken string) (bool, error) {
	f.validates.Add(1)
	if f.validateFn != nil {
		return f.validateFn(ctx, accessToken)
	}
	return true, nil
}

func (f *fakePlatform) GetUser(ctx context.Context, accessToken string) (model.UserInfo, error) {
	f.users.Add(1)
	if f.getUserFn != nil {
		return f.getUserFn(ctx, accessToken)
	}
	return model.UserInfo{ID: "42", Login: "Streamer", DisplayName: "Streamer", BroadcasterType: "affiliate"}, nil
}

func (f *fakePlatform) GetStream(ctx context.Context, accessToken, externalID string) (*model.StreamInfo, error) {
	f.streams.Add(1)
	if f.streamFn != nil {
		return f.streamFn(ctx, accessToken, externalID)
	}
	return &model.StreamInfo{Type: "live", Title: "Speedrun", GameName: "Minecraft", ViewerCount: 17}, nil
}

func (f *fakePlatform) IsLive(ctx context.Context, accessToken, externalID string) (bool, error) {
	f.liveCalls.Add(1)
	if f.isLiveFn != nil {
		return f.isLiveFn(ctx, accessToken, externalID)
	}
	return false, nil
}

// --- PermissionBackend ---

type permissionCall struct {
	Op      string
	LocalID uuid.UUID
	Rank    model.Rank
}

type recordingPermissions struct {
	mu    sync.Mutex
	calls []permissionCall
}

func (p *recordingPermissions) record(c permissionCall) {
	p.mu.Lock()
	p.calls = append(p.calls, c)
	p.mu.Unlock()
}

func (p *recordingPermissions) ApplyRank(_ context.Context, id uuid.UUID, rank model.Rank) error {
	p.record(permissionCall{Op: "rank", LocalID: id, Rank: rank})
	return nil
}

func (p *recordingPermissions) ApplyLivePermissions(_ context.Context, id uuid.UUID) error {
	p.record(permissionCall{Op: "live", LocalID: id})
	return nil
}

func (p *recordingPermissions) RemoveLivePermissions(_ context.Context, id uuid.UUID) error {
	p.record(permissionCall{Op: "unlive", LocalID: id})
	return nil
}

func (p *recordingPermissions) Revoke(_ context.Context, id uuid.UUID) error {
	p.record(permissionCall{Op: "revoke", LocalID: id})
	return nil
}

func (p *recordingPermissions) Cleanup(id uuid.UUID) {
	p.record(permissionCall{Op: "cleanup", LocalID: id})
}

func (p *recordingPermissions) count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (p *recordingPermissions) ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.calls))
	for _, c := range p.calls {
		out = append(out, c.Op)
	}
	return out
}

// --- Broadcaster ---

type broadcastCall struct {
	Event   model.EventType
	Payload model.EventPayload
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, event model.EventType, payload model.EventPayload) error {
	b.mu.Lock()
	b.calls = append(b.calls, broadcastCall{Event: event, Payload: payload})
	b.mu.Unlock()
	return nil
}

func (b *recordingBroadcaster) events() []model.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.EventType, 0, len(b.calls))
	for _, c := range b.calls {
		out = append(out, c.Event)
	}
	return out
}

func (b *recordingBroadcaster) last() broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[len(b.calls)-1]
}

// --- FlowObserver ---

type recordingObserver struct {
	waiting  atomic.Int32
	timedOut atomic.Int32
	linked   atomic.Int32
}

func (o *recordingObserver) LinkWaiting(_ context.Context, _ model.DeviceAuthSession, _ model.DeviceCode) {
	o.waiting.Add(1)
}

func (o *recordingObserver) LinkTimedOut(_ context.Context, _ model.DeviceAuthSession) {
	o.timedOut.Add(1)
}

func (o *recordingObserver) Linked(_ context.Context, _ uuid.UUID, _ model.UserInfo) {
	o.linked.Add(1)
}

// --- Harness ---

type harness struct {
	clock       *fakeClock
	store       *memIdentityStore
	platform    *fakePlatform
	creds       *application.CredentialStore
	tokens      *application.TokenLifecycle
	registry    *application.SessionRegistry
	permissions *recordingPermissions
	broadcaster *recordingBroadcaster
	marker      *application.DisplayMarker
	loop        *application.PrimaryLoop
	metrics     *application.Metrics
	poller      *application.LiveStatusPoller
	links       *application.LinkService
}

// newHarness wires the application services around fakes with a running
// primary loop and a 1ms device-flow tick.
func newHarness(t *testing.T, platform *fakePlatform) *harness {
	t.Helper()

	h := &harness{
		clock:       newFakeClock(),
		store:       newMemIdentityStore(),
		platform:    platform,
		registry:    application.NewSessionRegistry(),
		permissions: &recordingPermissions{},
		broadcaster: &recordingBroadcaster{},
		marker:      application.NewDisplayMarker(),
		loop:        application.NewPrimaryLoop(64),
		metrics:     application.NewMetrics(),
	}

	h.creds = application.NewCredentialStore(h.store)
	h.tokens = application.NewTokenLifecycle(platform, h.creds, h.clock.Now)
	h.poller = application.NewLiveStatusPoller(
		platform, h.creds, h.tokens, h.permissions, h.broadcaster,
		h.marker, h.loop, h.metrics, time.Hour, h.clock.Now,
	)
	h.links = application.NewLinkService(
		platform, h.creds, h.tokens, h.registry, h.poller, h.permissions,
		h.broadcaster, h.marker, h.loop, h.metrics,
		application.FlowSettings{Interval: time.Millisecond, Now: h.clock.Now},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go h.loop.Start(ctx)
	t.Cleanup(func() {
		h.links.Shutdown()
		cancel()
	})

	return h
}

// link stores a linked identity directly.
func (h *harness) link(t *testing.T, externalID string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	ok, err := h.creds.Link(context.Background(), id, externalID, "at-"+externalID, "rt-"+externalID, "user"+externalID)
	require.NoError(t, err)
	require.True(t, ok)
	return id
}

// flush waits until everything submitted to the primary loop so far has run.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.loop.Do(ctx, func() {}))
}

var errBoom = errors.New("boom")

func rateLimited(retryAfter time.Duration) error {
	return &driven.APIError{Kind: driven.KindRateLimited, StatusCode: 429, RetryAfter: retryAfter}
}

func unauthorized() error {
	return &driven.APIError{Kind: driven.KindUnauthorized, StatusCode: 401}
}

// --- LoyaltyClient ---

type fakeLoyalty struct {
	fetchFn   func(ctx context.Context, accessToken, channel, username string) (int, int64, error)
	refreshFn func(ctx context.Context, refreshToken string) (model.TokenPair, error)

	fetches   atomic.Int32
	refreshes atomic.Int32
}

func (f *fakeLoyalty) FetchPoints(ctx context.Context, accessToken, channel, username string) (int, int64, error) {
	f.fetches.Add(1)
	if f.fetchFn != nil {
		return f.fetchFn(ctx, accessToken, channel, username)
	}
	return 0, 0, nil
}

func (f *fakeLoyalty) RefreshShared(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	f.refreshes.Add(1)
	if f.refreshFn != nil {
		return f.refreshFn(ctx, refreshToken)
	}
	return model.TokenPair{AccessToken: "shared-at-new", RefreshToken: "shared-rt-new"}, nil
}
