package driven

import (
	"context"

	"github.com/google/uuid"

	"github.com/ericfisherdev/streamlink/internal/domain/model"
)

// PermissionBackend applies platform-derived permissions to a local identity.
// One implementation is selected at startup; callers never branch on which.
type PermissionBackend interface {
	ApplyRank(ctx context.Context, localID uuid.UUID, rank model.Rank) error
	ApplyLivePermissions(ctx context.Context, localID uuid.UUID) error
	RemoveLivePermissions(ctx context.Context, localID uuid.UUID) error
	// Revoke removes every platform-derived permission, used on unlink.
	Revoke(ctx context.Context, localID uuid.UUID) error
	// Cleanup drops any session-scoped state held for localID.
	Cleanup(localID uuid.UUID)
}

// Broadcaster announces events to connected users.
type Broadcaster interface {
	Broadcast(ctx context.Context, event model.EventType, payload model.EventPayload) error
}

// Backupper writes a point-in-time copy of durable state.
type Backupper interface {
	// Backup writes a snapshot into dir and returns the file path.
	Backup(ctx context.Context, dir string) (string, error)
}
