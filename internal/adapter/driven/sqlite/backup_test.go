package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackup_WritesReadableSnapshot(t *testing.T) {
	ctx := context.Background()
	db, err := NewDB(ctx, filepath.Join(t.TempDir(), "data", "streamlink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, RunMigrations(db.Writer))

	repo, err := NewIdentityRepo(db, nil)
	require.NoError(t, err)
	rec := sampleIdentity()
	require.NoError(t, repo.Upsert(ctx, rec))

	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	dir := filepath.Join(t.TempDir(), "backups")
	path, err := NewBackup(db, func() time.Time { return fixed }).Backup(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "streamlink-20260304T050607Z.db"), path)

	snapshot, err := NewDB(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = snapshot.Close() })

	restored, err := NewIdentityRepo(snapshot, nil)
	require.NoError(t, err)
	got, err := restored.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
}

func TestBackup_RefusesToOverwrite(t *testing.T) {
	ctx := context.Background()
	db, err := NewDB(ctx, filepath.Join(t.TempDir(), "streamlink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fixed := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	backup := NewBackup(db, fixed)
	dir := t.TempDir()

	_, err = backup.Backup(ctx, dir)
	require.NoError(t, err)
	_, err = backup.Backup(ctx, dir)
	assert.Error(t, err)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, RunMigrations(db.Writer))
	assert.Contains(t, db.Path(), "mode=memory")
}
