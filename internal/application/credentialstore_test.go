package application_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqliteadapter "github.com/ericfisherdev/streamlink/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/streamlink/internal/application"
	"github.com/ericfisherdev/streamlink/internal/domain/model"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

func TestCredentialStore_LinkLowercasesAndPersists(t *testing.T) {
	store := newMemIdentityStore()
	creds := application.NewCredentialStore(store)
	ctx := context.Background()
	id := uuid.New()

	applied, err := creds.Link(ctx, id, "42", "at", "rt", "StreamerName")
	require.NoError(t, err)
	assert.True(t, applied)

	got, ok := creds.Get(id)
	require.True(t, ok)
	assert.True(t, got.IsLinked())
	assert.Equal(t, "streamername", got.ExternalUsername)

	persisted, ok := store.get(id)
	require.True(t, ok)
	assert.Equal(t, got, persisted)
}

func TestCredentialStore_LinkIsIdempotent(t *testing.T) {
	store := newMemIdentityStore()
	creds := application.NewCredentialStore(store)
	ctx := context.Background()
	id := uuid.New()

	_, err := creds.Link(ctx, id, "42", "at", "rt", "first")
	require.NoError(t, err)

	applied, err := creds.Link(ctx, id, "99", "other", "other", "second")
	require.NoError(t, err)
	assert.False(t, applied)

	got, _ := creds.Get(id)
	assert.Equal(t, "42", got.ExternalID)
	assert.Equal(t, "first", got.ExternalUsername)
	assert.Equal(t, 1, store.upsertCount())
}

func TestCredentialStore_ConcurrentLinkAppliesOnce(t *testing.T) {
	store := newMemIdentityStore()
	creds := application.NewCredentialStore(store)
	id := uuid.New()

	var applied atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := creds.Link(context.Background(), id, "42", "at", "rt", "user")
			assert.NoError(t, err)
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, 1, store.upsertCount())
}

func TestCredentialStore_LinkRejectsMissingFields(t *testing.T) {
	creds := application.NewCredentialStore(newMemIdentityStore())

	_, err := creds.Link(context.Background(), uuid.New(), "", "at", "rt", "user")
	assert.Error(t, err)

	_, err = creds.Link(context.Background(), uuid.New(), "42", "", "rt", "user")
	assert.Error(t, err)
}

func TestCredentialStore_PersistFailureKeepsMemory(t *testing.T) {
	store := newMemIdentityStore()
	store.failUpsert = errBoom
	creds := application.NewCredentialStore(store)
	id := uuid.New()

	applied, err := creds.Link(context.Background(), id, "42", "at", "rt", "user")

	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, creds.IsLinked(id))
	_, persisted := store.get(id)
	assert.False(t, persisted)
}

func TestCredentialStore_Unlink(t *testing.T) {
	store := newMemIdentityStore()
	creds := application.NewCredentialStore(store)
	ctx := context.Background()
	id := uuid.New()
	_, err := creds.Link(ctx, id, "42", "at", "rt", "user")
	require.NoError(t, err)

	require.NoError(t, creds.Unlink(ctx, id))

	_, ok := creds.Get(id)
	assert.False(t, ok)
	_, ok = store.get(id)
	assert.False(t, ok)

	assert.ErrorIs(t, creds.Unlink(ctx, id), driven.ErrIdentityNotFound)
}

func TestCredentialStore_UnlinkFailureRemovesNothing(t *testing.T) {
	store := newMemIdentityStore()
	creds := application.NewCredentialStore(store)
	ctx := context.Background()
	id := uuid.New()
	_, err := creds.Link(ctx, id, "42", "at", "rt", "user")
	require.NoError(t, err)

	store.failDelete = errBoom
	err = creds.Unlink(ctx, id)

	require.ErrorIs(t, err, errBoom)
	assert.True(t, creds.IsLinked(id))
	_, ok := store.get(id)
	assert.True(t, ok)
}

func TestCredentialStore_UpdateTokensKeepsRefreshWhenNotRotated(t *testing.T) {
	creds := application.NewCredentialStore(newMemIdentityStore())
	ctx := context.Background()
	id := uuid.New()
	_, err := creds.Link(ctx, id, "42", "at", "rt", "user")
	require.NoError(t, err)

	require.NoError(t, creds.UpdateTokens(ctx, id, model.TokenPair{AccessToken: "at2"}))

	got, _ := creds.Get(id)
	assert.Equal(t, "at2", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)

	require.NoError(t, creds.UpdateAccessToken(ctx, id, "at3"))
	got, _ = creds.Get(id)
	assert.Equal(t, "at3", got.AccessToken)

	assert.ErrorIs(t, creds.UpdateAccessToken(ctx, uuid.New(), "x"), driven.ErrIdentityNotFound)
}

func TestCredentialStore_SetLiveReportsChange(t *testing.T) {
	creds := application.NewCredentialStore(newMemIdentityStore())
	ctx := context.Background()
	id := uuid.New()
	_, err := creds.Link(ctx, id, "42", "at", "rt", "user")
	require.NoError(t, err)

	changed, err := creds.SetLive(ctx, id, false)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = creds.SetLive(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = creds.SetLive(ctx, id, true)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCredentialStore_UpdateLoyalty(t *testing.T) {
	tests := []struct {
		name         string
		preferStored bool
		fetched      int
		fetchedMins  int64
		wantPoints   int
		wantMinutes  int64
	}{
		{name: "prefer stored keeps larger stored", preferStored: true, fetched: 50, fetchedMins: 600, wantPoints: 100, wantMinutes: 600},
		{name: "prefer stored takes larger fetched", preferStored: true, fetched: 150, fetchedMins: 10, wantPoints: 150, wantMinutes: 120},
		{name: "overwrite", preferStored: false, fetched: 50, fetchedMins: 10, wantPoints: 50, wantMinutes: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := application.NewCredentialStore(newMemIdentityStore())
			ctx := context.Background()
			id := uuid.New()
			_, err := creds.Link(ctx, id, "42", "at", "rt", "user")
			require.NoError(t, err)
			require.NoError(t, creds.UpdateLoyalty(ctx, id, 100, 120, false))

			require.NoError(t, creds.UpdateLoyalty(ctx, id, tt.fetched, tt.fetchedMins, tt.preferStored))

			summary, err := creds.Loyalty(id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPoints, summary.Points)
			assert.Equal(t, tt.wantMinutes, summary.WatchMinutes)
		})
	}
}

func TestCredentialStore_ConcurrentPreferStoredKeepsMaximum(t *testing.T) {
	store := newMemIdentityStore()
	creds := application.NewCredentialStore(store)
	ctx := context.Background()
	id := uuid.New()
	_, err := creds.Link(ctx, id, "42", "at", "rt", "user")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, creds.UpdateLoyalty(ctx, id, i, int64(100-i), true))
		}()
	}
	wg.Wait()

	summary, err := creds.Loyalty(id)
	require.NoError(t, err)
	assert.Equal(t, 99, summary.Points)
	assert.Equal(t, int64(100), summary.WatchMinutes)

	persisted, _ := store.get(id)
	assert.Equal(t, 99, persisted.LoyaltyPoints)
	assert.Equal(t, int64(100), persisted.WatchMinutes)
}

func TestCredentialStore_LoadAndAllLinked(t *testing.T) {
	linked := model.IdentityRecord{LocalID: uuid.New(), ExternalID: "42", AccessToken: "at", RefreshToken: "rt", ExternalUsername: "a"}
	imported := model.IdentityRecord{LocalID: uuid.New(), ExternalUsername: "b", LoyaltyPoints: 10}
	creds := application.NewCredentialStore(newMemIdentityStore(linked, imported))

	records, err := creds.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)

	assert.Equal(t, []uuid.UUID{linked.LocalID}, creds.AllLinked())

	_, err = creds.Loyalty(imported.LocalID)
	assert.NoError(t, err)
}

// openIdentityRepo opens a migrated file-backed database for the test.
func openIdentityRepo(t *testing.T) *sqliteadapter.IdentityRepo {
	t.Helper()

	db, err := sqliteadapter.NewDB(context.Background(), filepath.Join(t.TempDir(), "streamlink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqliteadapter.RunMigrations(db.Writer))

	repo, err := sqliteadapter.NewIdentityRepo(db, nil)
	require.NoError(t, err)
	return repo
}

func TestCredentialStore_UpdateTokensPersistsDespiteCancelledContext(t *testing.T) {
	repo := openIdentityRepo(t)
	creds := application.NewCredentialStore(repo)
	id := uuid.New()

	_, err := creds.Link(context.Background(), id, "42", "at-old", "rt-old", "streamer")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, creds.UpdateTokens(ctx, id, model.TokenPair{AccessToken: "at-new", RefreshToken: "rt-new"}))

	records, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "at-new", records[0].AccessToken)
	assert.Equal(t, "rt-new", records[0].RefreshToken)
}

func TestCredentialStore_UnlinkPersistsDespiteCancelledContext(t *testing.T) {
	repo := openIdentityRepo(t)
	creds := application.NewCredentialStore(repo)
	id := uuid.New()

	_, err := creds.Link(context.Background(), id, "42", "at", "rt", "streamer")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, creds.Unlink(ctx, id))

	records, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
	_, ok := creds.Get(id)
	assert.False(t, ok)
}

func TestCredentialStore_SetLivePersistsDespiteCancelledContext(t *testing.T) {
	store := newMemIdentityStore()
	creds := application.NewCredentialStore(store)
	id := uuid.New()

	_, err := creds.Link(context.Background(), id, "42", "at", "rt", "streamer")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	changed, err := creds.SetLive(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, changed)

	persisted, ok := store.get(id)
	require.True(t, ok)
	assert.True(t, persisted.LastKnownLive)
}
