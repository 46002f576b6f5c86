package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/streamlink/internal/domain/model"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// persistTimeout bounds a single durable write. Writes ignore the caller's
// cancellation so storage never falls behind memory.
const persistTimeout = 5 * time.Second

// CredentialStore owns identity records. Reads are served from memory.
// Every mutation updates memory and then persists through the IdentityStore
// while holding writeMu, so persisted writes are serialized in one place.
// A failed persist is logged and memory stays authoritative until the next
// successful write for that identity.
type CredentialStore struct {
	store driven.IdentityStore

	writeMu sync.Mutex

	mu      sync.RWMutex
	records map[uuid.UUID]model.IdentityRecord
}

// NewCredentialStore creates an empty CredentialStore backed by store.
func NewCredentialStore(store driven.IdentityStore) *CredentialStore {
	return &CredentialStore{
		store:   store,
		records: make(map[uuid.UUID]model.IdentityRecord),
	}
}

// Load replaces the in-memory view with every persisted record.
func (s *CredentialStore) Load(ctx context.Context) ([]model.IdentityRecord, error) {
	records, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading identities: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.records = make(map[uuid.UUID]model.IdentityRecord, len(records))
	for _, r := range records {
		s.records[r.LocalID] = r
	}
	s.mu.Unlock()

	return records, nil
}

// Get returns a copy of the record for localID.
func (s *CredentialStore) Get(localID uuid.UUID) (model.IdentityRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[localID]
	return r, ok
}

// IsLinked reports whether localID has a linked record.
func (s *CredentialStore) IsLinked(localID uuid.UUID) bool {
	r, ok := s.Get(localID)
	return ok && r.IsLinked()
}

// Link stores a new credential pair for localID. It is a no-op returning
// false when localID is already linked, so concurrent completions apply
// exactly once. Loyalty figures from an existing unlinked record are kept.
func (s *CredentialStore) Link(ctx context.Context, localID uuid.UUID, externalID, accessToken, refreshToken, username string) (bool, error) {
	if externalID == "" || accessToken == "" {
		return false, errors.New("link requires an external id and an access token")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, ok := s.Get(localID)
	if ok && existing.IsLinked() {
		return false, nil
	}

	record := existing
	record.LocalID = localID
	record.ExternalID = externalID
	record.ExternalUsername = strings.ToLower(username)
	record.AccessToken = accessToken
	record.RefreshToken = refreshToken
	record.LastKnownLive = false

	s.commit(ctx, record)
	return true, nil
}

// UpdateAccessToken replaces the access token for localID.
func (s *CredentialStore) UpdateAccessToken(ctx context.Context, localID uuid.UUID, token string) error {
	return s.update(ctx, localID, func(r *model.IdentityRecord) bool {
		r.AccessToken = token
		return true
	})
}

// UpdateTokens stores a refreshed pair. An empty refresh token keeps the
// current one, since the platform does not always rotate it.
func (s *CredentialStore) UpdateTokens(ctx context.Context, localID uuid.UUID, pair model.TokenPair) error {
	return s.update(ctx, localID, func(r *model.IdentityRecord) bool {
		r.AccessToken = pair.AccessToken
		if pair.RefreshToken != "" {
			r.RefreshToken = pair.RefreshToken
		}
		return true
	})
}

// SetLive records the observed live state and reports whether it changed.
// The compare and the write happen under the writer lock, so for any pair of
// concurrent observers exactly one sees the transition.
func (s *CredentialStore) SetLive(ctx context.Context, localID uuid.UUID, live bool) (bool, error) {
	var changed bool
	err := s.update(ctx, localID, func(r *model.IdentityRecord) bool {
		if r.LastKnownLive == live {
			return false
		}
		r.LastKnownLive = live
		changed = true
		return true
	})
	return changed, err
}

// UpdateLoyalty reconciles fetched loyalty figures into the record. With
// preferStored each field keeps the larger of the stored and fetched value,
// which protects manually imported figures from a stale poll.
func (s *CredentialStore) UpdateLoyalty(ctx context.Context, localID uuid.UUID, points int, minutes int64, preferStored bool) error {
	return s.update(ctx, localID, func(r *model.IdentityRecord) bool {
		newPoints, newMinutes := points, minutes
		if preferStored {
			newPoints = max(r.LoyaltyPoints, points)
			newMinutes = max(r.WatchMinutes, minutes)
		}
		if newPoints == r.LoyaltyPoints && newMinutes == r.WatchMinutes {
			return false
		}
		r.LoyaltyPoints = newPoints
		r.WatchMinutes = newMinutes
		return true
	})
}

// Unlink removes the record from storage and then from memory. If the
// persisted delete fails nothing is removed and the error is returned.
func (s *CredentialStore) Unlink(ctx context.Context, localID uuid.UUID) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.Get(localID); !ok {
		return driven.ErrIdentityNotFound
	}

	persistCtx, cancel := persistContext(ctx)
	defer cancel()

	if err := s.store.Delete(persistCtx, localID); err != nil {
		return fmt.Errorf("deleting identity %s: %w", localID, err)
	}

	s.mu.Lock()
	delete(s.records, localID)
	s.mu.Unlock()

	return nil
}

// AllLinked returns the ids of every linked identity in a stable order.
func (s *CredentialStore) AllLinked() []uuid.UUID {
	s.mu.RLock()
	ids := make([]uuid.UUID, 0, len(s.records))
	for id, r := range s.records {
		if r.IsLinked() {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Loyalty returns the stored loyalty summary for localID.
func (s *CredentialStore) Loyalty(localID uuid.UUID) (model.LoyaltySummary, error) {
	r, ok := s.Get(localID)
	if !ok {
		return model.LoyaltySummary{}, driven.ErrIdentityNotFound
	}
	return model.LoyaltySummary{Points: r.LoyaltyPoints, WatchMinutes: r.WatchMinutes}, nil
}

// update applies mutate to the record for localID and persists it when
// mutate reports a change.
func (s *CredentialStore) update(ctx context.Context, localID uuid.UUID, mutate func(*model.IdentityRecord) bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	record, ok := s.Get(localID)
	if !ok {
		return driven.ErrIdentityNotFound
	}
	if !mutate(&record) {
		return nil
	}

	s.commit(ctx, record)
	return nil
}

// commit publishes record to memory and persists it. Callers hold writeMu.
func (s *CredentialStore) commit(ctx context.Context, record model.IdentityRecord) {
	s.mu.Lock()
	s.records[record.LocalID] = record
	s.mu.Unlock()

	persistCtx, cancel := persistContext(ctx)
	defer cancel()

	if err := s.store.Upsert(persistCtx, record); err != nil {
		slog.Error("persisting identity failed", "local_id", record.LocalID, "error", err)
	}
}

// persistContext keeps ctx's values but not its cancellation.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}
