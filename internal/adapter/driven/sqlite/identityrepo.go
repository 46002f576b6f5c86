package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ericfisherdev/streamlink/internal/domain/model"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IdentityStore = (*IdentityRepo)(nil)

// IdentityRepo is the SQLite implementation of the IdentityStore port.
// When constructed with a key, access and refresh tokens are sealed with
// AES-256-GCM before they reach disk.
type IdentityRepo struct {
	db     *DB
	cipher *tokenCipher
}

// NewIdentityRepo creates an IdentityRepo. key must be nil (tokens stored as
// plaintext) or exactly 32 bytes.
func NewIdentityRepo(db *DB, key []byte) (*IdentityRepo, error) {
	c, err := newTokenCipher(key)
	if err != nil {
		return nil, err
	}
	return &IdentityRepo{db: db, cipher: c}, nil
}

// LoadAll returns every persisted identity ordered by local id.
func (r *IdentityRepo) LoadAll(ctx context.Context) ([]model.IdentityRecord, error) {
	const query = `
		SELECT local_id, external_id, external_username, access_token, refresh_token,
		       last_known_live, loyalty_points, watch_minutes
		FROM identities
		ORDER BY local_id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	defer rows.Close()

	var records []model.IdentityRecord
	for rows.Next() {
		var (
			rec           model.IdentityRecord
			localID       string
			access, renew string
			live          int
		)
		if err := rows.Scan(&localID, &rec.ExternalID, &rec.ExternalUsername, &access, &renew,
			&live, &rec.LoyaltyPoints, &rec.WatchMinutes); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}

		rec.LocalID, err = uuid.Parse(localID)
		if err != nil {
			return nil, fmt.Errorf("parse local_id %q: %w", localID, err)
		}
		rec.LastKnownLive = live != 0

		if rec.AccessToken, err = r.cipher.open(access); err != nil {
			return nil, fmt.Errorf("decrypt access token for %s: %w", localID, err)
		}
		if rec.RefreshToken, err = r.cipher.open(renew); err != nil {
			return nil, fmt.Errorf("decrypt refresh token for %s: %w", localID, err)
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}

	return records, nil
}

// Upsert inserts the record or replaces every column of an existing one.
func (r *IdentityRepo) Upsert(ctx context.Context, rec model.IdentityRecord) error {
	access, err := r.cipher.seal(rec.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	renew, err := r.cipher.seal(rec.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	const query = `
		INSERT INTO identities (
			local_id, external_id, external_username, access_token, refresh_token,
			last_known_live, loyalty_points, watch_minutes, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(local_id) DO UPDATE SET
			external_id = excluded.external_id,
			external_username = excluded.external_username,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			last_known_live = excluded.last_known_live,
			loyalty_points = excluded.loyalty_points,
			watch_minutes = excluded.watch_minutes,
			updated_at = CURRENT_TIMESTAMP`

	_, err = r.db.Writer.ExecContext(ctx, query,
		rec.LocalID.String(),
		rec.ExternalID,
		rec.ExternalUsername,
		access,
		renew,
		boolToInt(rec.LastKnownLive),
		rec.LoyaltyPoints,
		rec.WatchMinutes,
	)
	if err != nil {
		return fmt.Errorf("upsert identity %s: %w", rec.LocalID, err)
	}
	return nil
}

// Delete removes the identity and its group memberships in one transaction.
func (r *IdentityRepo) Delete(ctx context.Context, localID uuid.UUID) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete identity: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM identity_groups WHERE local_id = ?`, localID.String()); err != nil {
		return fmt.Errorf("delete groups for %s: %w", localID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM identities WHERE local_id = ?`, localID.String()); err != nil {
		return fmt.Errorf("delete identity %s: %w", localID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete identity %s: %w", localID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
