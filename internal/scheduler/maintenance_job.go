package scheduler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/database"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/reliability"
)

// MaintenanceJob performs nightly housekeeping: WAL checkpoints on the
// engine's databases, snapshot uploads of every production artifact, and
// snapshot rotation. Snapshot work is skipped when no object storage is
// configured.
type MaintenanceJob struct {
	databases     map[string]*database.DB
	snapshots     *reliability.ArtifactSnapshotService
	keys          []domain.StrategyKey
	retentionDays int
	log           zerolog.Logger
}

// NewMaintenanceJob creates the nightly maintenance job.
func NewMaintenanceJob(
	databases map[string]*database.DB,
	snapshots *reliability.ArtifactSnapshotService,
	keys []domain.StrategyKey,
	retentionDays int,
	log zerolog.Logger,
) *MaintenanceJob {
	return &MaintenanceJob{
		databases:     databases,
		snapshots:     snapshots,
		keys:          keys,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for the scheduler.
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes one maintenance pass.
func (j *MaintenanceJob) Run() error {
	// WAL checkpoints prevent unbounded log growth on long-running hosts.
	for name, db := range j.databases {
		if _, err := db.Conn().Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
	}

	// Integrity check: a corrupt registry must surface loudly, not on the
	// next promotion.
	for name, db := range j.databases {
		var verdict string
		if err := db.Conn().QueryRow("PRAGMA integrity_check").Scan(&verdict); err != nil {
			return fmt.Errorf("integrity check failed on %s: %w", name, err)
		}
		if verdict != "ok" {
			return fmt.Errorf("database %s failed integrity check: %s", name, verdict)
		}
	}

	if j.snapshots == nil {
		return nil
	}

	ctx := context.Background()
	for _, key := range j.keys {
		if err := j.snapshots.SnapshotProduction(ctx, key); err != nil {
			// Best-effort: a key with no production artifact yet is normal.
			j.log.Debug().Err(err).Str("strategy", key.String()).Msg("Artifact snapshot skipped")
			continue
		}
		if err := j.snapshots.RotateOldSnapshots(ctx, key, j.retentionDays); err != nil {
			j.log.Warn().Err(err).Str("strategy", key.String()).Msg("Snapshot rotation failed")
		}
	}

	return nil
}
