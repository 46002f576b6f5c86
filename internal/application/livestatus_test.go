package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/streamlink/internal/application"
	"github.com/ericfisherdev/streamlink/internal/domain/model"
)

// liveSequence serves the given observations in order, repeating the last.
type liveSequence struct {
	mu   sync.Mutex
	seq  []bool
	next int
}

func (s *liveSequence) IsLive(context.Context, string, string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.seq[min(s.next, len(s.seq)-1)]
	s.next++
	return v, nil
}

func TestLiveStatusPoller_EdgeTriggered(t *testing.T) {
	seq := &liveSequence{seq: []bool{false, true, true, false}}
	platform := &fakePlatform{isLiveFn: seq.IsLive}
	h := newHarness(t, platform)
	id := h.link(t, "42")
	ctx := context.Background()

	for range 4 {
		h.poller.Sweep(ctx)
		h.clock.Advance(application.LiveStatusTTL)
	}
	h.flush(t)

	assert.Equal(t, int32(4), platform.liveCalls.Load())
	assert.Equal(t, []model.EventType{model.EventWentLive, model.EventWentOffline}, h.broadcaster.events())
	assert.Equal(t, []string{"live", "unlive"}, h.permissions.ops())
	assert.Equal(t, int64(1), h.metrics.Snapshot().LiveStreams)
	assert.Empty(t, h.marker.Prefix(id))

	record, _ := h.creds.Get(id)
	assert.False(t, record.LastKnownLive)
}

func TestLiveStatusPoller_WentLiveCarriesStreamMetadata(t *testing.T) {
	platform := &fakePlatform{isLiveFn: func(context.Context, string, string) (bool, error) { return true, nil }}
	h := newHarness(t, platform)
	id := h.link(t, "42")

	require.NoError(t, h.poller.Check(context.Background(), id))
	h.flush(t)

	call := h.broadcaster.last()
	assert.Equal(t, model.EventWentLive, call.Event)
	assert.Equal(t, id, call.Payload.LocalID)
	assert.Equal(t, "user42", call.Payload.ExternalUsername)
	assert.Equal(t, "Speedrun", call.Payload.Title)
	assert.Equal(t, "Minecraft", call.Payload.Category)
	assert.Equal(t, 17, call.Payload.ViewerCount)
	assert.Equal(t, application.LivePrefix, h.marker.Prefix(id))
	assert.Equal(t, int32(1), platform.streams.Load())

	persisted, _ := h.store.get(id)
	assert.True(t, persisted.LastKnownLive)
}

func TestLiveStatusPoller_CachesLiveStatus(t *testing.T) {
	platform := &fakePlatform{isLiveFn: func(context.Context, string, string) (bool, error) { return true, nil }}
	h := newHarness(t, platform)
	id := h.link(t, "42")
	ctx := context.Background()

	require.NoError(t, h.poller.Check(ctx, id))
	assert.Equal(t, int32(1), platform.liveCalls.Load())

	h.clock.Advance(time.Minute)
	require.NoError(t, h.poller.Check(ctx, id))
	assert.Equal(t, int32(1), platform.liveCalls.Load(), "second check within TTL must not call the platform")

	record, _ := h.creds.Get(id)
	assert.True(t, record.LastKnownLive)

	h.clock.Advance(time.Minute)
	require.NoError(t, h.poller.Check(ctx, id))
	assert.Equal(t, int32(2), platform.liveCalls.Load())
}

func TestLiveStatusPoller_RespectsRetryAfter(t *testing.T) {
	calls := 0
	platform := &fakePlatform{
		isLiveFn: func(context.Context, string, string) (bool, error) {
			calls++
			if calls == 1 {
				return false, rateLimited(30 * time.Second)
			}
			return false, nil
		},
	}
	h := newHarness(t, platform)
	id := h.link(t, "42")
	ctx := context.Background()

	err := h.poller.Check(ctx, id)
	require.Error(t, err)

	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.poller.Check(ctx, id))
	h.clock.Advance(19 * time.Second)
	require.NoError(t, h.poller.Check(ctx, id))
	assert.Equal(t, int32(1), platform.liveCalls.Load(), "no attempt before retry-after elapsed")

	h.clock.Advance(time.Second)
	require.NoError(t, h.poller.Check(ctx, id))
	assert.Equal(t, int32(2), platform.liveCalls.Load())
}

func TestLiveStatusPoller_AuthErrorTriggersRefreshAndSweepContinues(t *testing.T) {
	platform := &fakePlatform{
		isLiveFn: func(_ context.Context, _ string, externalID string) (bool, error) {
			if externalID == "1" {
				return false, unauthorized()
			}
			return true, nil
		},
	}
	h := newHarness(t, platform)
	failing := h.link(t, "1")
	healthy := h.link(t, "2")

	h.poller.Sweep(context.Background())
	h.flush(t)

	assert.Equal(t, int32(1), platform.refreshes.Load())
	record, _ := h.creds.Get(failing)
	assert.Equal(t, "refreshed-at", record.AccessToken)

	assert.True(t, h.creds.IsLinked(healthy))
	assert.Equal(t, application.LivePrefix, h.marker.Prefix(healthy))
	assert.Equal(t, []model.EventType{model.EventWentLive}, h.broadcaster.events())
}

func TestLiveStatusPoller_ConcurrentChecksFireOnce(t *testing.T) {
	platform := &fakePlatform{isLiveFn: func(context.Context, string, string) (bool, error) { return true, nil }}
	h := newHarness(t, platform)
	id := h.link(t, "42")

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.poller.Check(context.Background(), id))
		}()
	}
	wg.Wait()
	h.flush(t)

	assert.Equal(t, []model.EventType{model.EventWentLive}, h.broadcaster.events())
	assert.Equal(t, 1, h.permissions.count("live"))
}

func TestLiveStatusPoller_StreamMetadataFailureStillTransitions(t *testing.T) {
	platform := &fakePlatform{
		isLiveFn: func(context.Context, string, string) (bool, error) { return true, nil },
		streamFn: func(context.Context, string, string) (*model.StreamInfo, error) { return nil, errBoom },
	}
	h := newHarness(t, platform)
	id := h.link(t, "42")

	require.NoError(t, h.poller.Check(context.Background(), id))
	h.flush(t)

	call := h.broadcaster.last()
	assert.Equal(t, model.EventWentLive, call.Event)
	assert.Empty(t, call.Payload.Title)
	assert.Equal(t, 1, h.permissions.count("live"))
}

func TestLiveStatusPoller_StartStopsOnCancel(t *testing.T) {
	platform := &fakePlatform{}
	h := newHarness(t, platform)
	h.link(t, "42")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.poller.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return platform.liveCalls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
