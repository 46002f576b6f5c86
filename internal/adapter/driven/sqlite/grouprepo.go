package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

const (
	kindPrimary   = "primary"
	kindSecondary = "secondary"
)

// Compile-time interface satisfaction check.
var _ driven.GroupStore = (*GroupRepo)(nil)

// GroupRepo persists permission group memberships. Each identity has at most
// one primary group and any number of secondary groups.
type GroupRepo struct {
	db *DB
}

// NewGroupRepo creates a new GroupRepo.
func NewGroupRepo(db *DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// SetPrimary replaces the identity's primary group.
func (r *GroupRepo) SetPrimary(ctx context.Context, localID uuid.UUID, group string) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set primary: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const clearPrimary = `DELETE FROM identity_groups WHERE local_id = ? AND kind = 'primary'`
	if _, err := tx.ExecContext(ctx, clearPrimary, localID.String()); err != nil {
		return fmt.Errorf("clear primary group for %s: %w", localID, err)
	}

	const insert = `
		INSERT INTO identity_groups (local_id, group_name, kind) VALUES (?, ?, ?)
		ON CONFLICT(local_id, group_name) DO UPDATE SET kind = excluded.kind`
	if _, err := tx.ExecContext(ctx, insert, localID.String(), group, kindPrimary); err != nil {
		return fmt.Errorf("set primary group %q for %s: %w", group, localID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set primary: %w", err)
	}
	return nil
}

// AddSecondary adds a secondary group. Adding an existing group is a no-op.
func (r *GroupRepo) AddSecondary(ctx context.Context, localID uuid.UUID, group string) error {
	const query = `INSERT OR IGNORE INTO identity_groups (local_id, group_name, kind) VALUES (?, ?, ?)`
	if _, err := r.db.Writer.ExecContext(ctx, query, localID.String(), group, kindSecondary); err != nil {
		return fmt.Errorf("add secondary group %q for %s: %w", group, localID, err)
	}
	return nil
}

// RemoveSecondary removes a secondary group if present.
func (r *GroupRepo) RemoveSecondary(ctx context.Context, localID uuid.UUID, group string) error {
	const query = `DELETE FROM identity_groups WHERE local_id = ? AND group_name = ? AND kind = 'secondary'`
	if _, err := r.db.Writer.ExecContext(ctx, query, localID.String(), group); err != nil {
		return fmt.Errorf("remove secondary group %q for %s: %w", group, localID, err)
	}
	return nil
}

// Groups returns the primary group ("" when unset) and the secondary groups
// in name order.
func (r *GroupRepo) Groups(ctx context.Context, localID uuid.UUID) (string, []string, error) {
	const query = `SELECT group_name, kind FROM identity_groups WHERE local_id = ? ORDER BY group_name`

	rows, err := r.db.Reader.QueryContext(ctx, query, localID.String())
	if err != nil {
		return "", nil, fmt.Errorf("list groups for %s: %w", localID, err)
	}
	defer rows.Close()

	var (
		primary   string
		secondary []string
	)
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return "", nil, fmt.Errorf("scan group: %w", err)
		}
		if kind == kindPrimary {
			primary = name
			continue
		}
		secondary = append(secondary, name)
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("iterate groups: %w", err)
	}

	return primary, secondary, nil
}

// DeleteAll removes every group membership of the identity.
func (r *GroupRepo) DeleteAll(ctx context.Context, localID uuid.UUID) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM identity_groups WHERE local_id = ?`, localID.String()); err != nil {
		return fmt.Errorf("delete groups for %s: %w", localID, err)
	}
	return nil
}
