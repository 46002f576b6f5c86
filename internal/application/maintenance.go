package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// MaintenanceTask periodically reports and resets metrics and writes a
// database backup.
type MaintenanceTask struct {
	metrics   *Metrics
	backupper driven.Backupper
	backupDir string
	interval  time.Duration
}

// DefaultMaintenanceInterval is the report and backup cadence when none is configured.
const DefaultMaintenanceInterval = time.Hour

// NewMaintenanceTask creates a MaintenanceTask. A nil backupper disables backups.
func NewMaintenanceTask(metrics *Metrics, backupper driven.Backupper, backupDir string, interval time.Duration) *MaintenanceTask {
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	return &MaintenanceTask{
		metrics:   metrics,
		backupper: backupper,
		backupDir: backupDir,
		interval:  interval,
	}
}

// Start runs a cycle every interval until ctx is canceled.
func (m *MaintenanceTask) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("maintenance task stopped")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce reports and resets the counters and writes a backup.
func (m *MaintenanceTask) RunOnce(ctx context.Context) MetricsSnapshot {
	snap := m.metrics.Drain()
	slog.Info("metrics report",
		"successful_links", snap.SuccessfulLinks,
		"failed_links", snap.FailedLinks,
		"live_streams", snap.LiveStreams,
		"window", m.interval,
	)

	if m.backupper == nil {
		return snap
	}

	path, err := m.backupper.Backup(ctx, m.backupDir)
	if err != nil {
		slog.Error("backup failed", "dir", m.backupDir, "error", err)
		return snap
	}
	slog.Info("backup written", "path", path)

	return snap
}
