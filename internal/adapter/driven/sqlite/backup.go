package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Backupper = (*Backup)(nil)

// Backup writes consistent snapshots of the database with VACUUM INTO.
type Backup struct {
	db  *DB
	now func() time.Time
}

// NewBackup creates a Backup. now may be nil.
func NewBackup(db *DB, now func() time.Time) *Backup {
	if now == nil {
		now = time.Now
	}
	return &Backup{db: db, now: now}
}

// Backup writes streamlink-<UTC timestamp>.db into dir and returns its path.
func (b *Backup) Backup(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	name := fmt.Sprintf("streamlink-%s.db", b.now().UTC().Format("20060102T150405Z"))
	dest := filepath.Join(dir, name)

	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("backup %s already exists", dest)
	}

	// VACUUM INTO takes a string literal, not a bound parameter.
	quoted := "'" + strings.ReplaceAll(dest, "'", "''") + "'"
	if _, err := b.db.Writer.ExecContext(ctx, "VACUUM INTO "+quoted); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", dest, err)
	}

	return dest, nil
}
