// Package permission implements the PermissionBackend port. One backend is
// chosen at startup with New; the application never branches on which.
package permission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ericfisherdev/streamlink/internal/domain/model"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// LiveGroup is the secondary group held while an identity is streaming.
const LiveGroup = "twitch-live"

// Compile-time interface satisfaction check.
var _ driven.PermissionBackend = (*GroupBackend)(nil)

// GroupBackend maps ranks onto a persisted primary group and live status
// onto a secondary group.
type GroupBackend struct {
	store driven.GroupStore
}

// NewGroupBackend creates a GroupBackend over store.
func NewGroupBackend(store driven.GroupStore) *GroupBackend {
	return &GroupBackend{store: store}
}

// PrimaryGroup returns the group name for rank.
func PrimaryGroup(rank model.Rank) string {
	switch rank {
	case model.RankPartner, model.RankAffiliate:
		return "twitch-" + string(rank)
	default:
		return "twitch-" + string(model.RankViewer)
	}
}

// ApplyRank sets the identity's primary group. Secondary groups are kept.
func (b *GroupBackend) ApplyRank(ctx context.Context, localID uuid.UUID, rank model.Rank) error {
	group := PrimaryGroup(rank)
	if err := b.store.SetPrimary(ctx, localID, group); err != nil {
		return fmt.Errorf("apply rank %s: %w", rank, err)
	}
	slog.Info("primary group set", "local_id", localID, "group", group)
	return nil
}

// ApplyLivePermissions adds the live secondary group.
func (b *GroupBackend) ApplyLivePermissions(ctx context.Context, localID uuid.UUID) error {
	if err := b.store.AddSecondary(ctx, localID, LiveGroup); err != nil {
		return fmt.Errorf("apply live permissions: %w", err)
	}
	return nil
}

// RemoveLivePermissions drops the live secondary group; the primary group
// is preserved.
func (b *GroupBackend) RemoveLivePermissions(ctx context.Context, localID uuid.UUID) error {
	if err := b.store.RemoveSecondary(ctx, localID, LiveGroup); err != nil {
		return fmt.Errorf("remove live permissions: %w", err)
	}
	return nil
}

// Revoke removes every group membership.
func (b *GroupBackend) Revoke(ctx context.Context, localID uuid.UUID) error {
	if err := b.store.DeleteAll(ctx, localID); err != nil {
		return fmt.Errorf("revoke groups: %w", err)
	}
	slog.Info("groups revoked", "local_id", localID)
	return nil
}

// Cleanup is a no-op: group memberships outlive a session.
func (b *GroupBackend) Cleanup(uuid.UUID) {}
