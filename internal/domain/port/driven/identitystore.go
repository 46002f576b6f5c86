package driven

import (
	"context"

	"github.com/google/uuid"

	"github.com/ericfisherdev/streamlink/internal/domain/model"
)

// IdentityStore defines the driven port for durable identity persistence.
// The application-level CredentialStore owns the in-memory view and is the
// single writer; this port only moves records to and from storage.
type IdentityStore interface {
	// LoadAll returns every persisted identity record.
	LoadAll(ctx context.Context) ([]model.IdentityRecord, error)

	// Upsert inserts or replaces the record keyed by its LocalID.
	Upsert(ctx context.Context, record model.IdentityRecord) error

	// Delete removes the record for localID. Deleting a missing record is not an error.
	Delete(ctx context.Context, localID uuid.UUID) error
}

// GroupStore persists permission group memberships for the group-based
// permission backend.
type GroupStore interface {
	SetPrimary(ctx context.Context, localID uuid.UUID, group string) error
	AddSecondary(ctx context.Context, localID uuid.UUID, group string) error
	RemoveSecondary(ctx context.Context, localID uuid.UUID, group string) error
	Groups(ctx context.Context, localID uuid.UUID) (primary string, secondary []string, err error)
	DeleteAll(ctx context.Context, localID uuid.UUID) error
}
