package reliability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

const snapshotPrefix = "artifacts/"

// minSnapshotsToKeep bounds rotation: the newest snapshots survive any
// retention setting.
const minSnapshotsToKeep = 3

// ArtifactSnapshotService mirrors promoted registry artifacts to object
// storage. Uploads happen after promotion and are best-effort: a failed
// snapshot is logged and retried on the next maintenance run, never
// allowed to fail the promotion itself.
type ArtifactSnapshotService struct {
	s3    *S3Client
	store domain.ArtifactStore
	log   zerolog.Logger
}

// SnapshotMetadata describes one uploaded artifact snapshot.
type SnapshotMetadata struct {
	StrategyKey string    `json:"strategy_key"`
	Version     string    `json:"version"`
	SizeBytes   int       `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// SnapshotInfo is one listed snapshot.
type SnapshotInfo struct {
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
	Modified  time.Time `json:"modified"`
}

// NewArtifactSnapshotService creates the snapshot service.
func NewArtifactSnapshotService(s3 *S3Client, store domain.ArtifactStore, log zerolog.Logger) *ArtifactSnapshotService {
	return &ArtifactSnapshotService{
		s3:    s3,
		store: store,
		log:   log.With().Str("service", "artifact_snapshots").Logger(),
	}
}

// SnapshotProduction uploads the current production artifact of a key,
// payload plus a metadata sidecar.
func (s *ArtifactSnapshotService) SnapshotProduction(ctx context.Context, key domain.StrategyKey) error {
	payload, version, err := s.store.LoadProduction(key)
	if err != nil {
		return fmt.Errorf("failed to load production artifact for snapshot: %w", err)
	}

	objectKey := snapshotKey(key, version)
	if err := s.s3.Upload(ctx, objectKey, payload); err != nil {
		return err
	}

	meta := SnapshotMetadata{
		StrategyKey: key.String(),
		Version:     version,
		SizeBytes:   len(payload),
		UploadedAt:  time.Now().UTC(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot metadata: %w", err)
	}
	if err := s.s3.Upload(ctx, objectKey+".meta.json", metaBytes); err != nil {
		return err
	}

	s.log.Info().
		Str("strategy", key.String()).
		Str("version", version).
		Str("object_key", objectKey).
		Msg("Production artifact snapshotted")

	return nil
}

// ListSnapshots lists the snapshots stored for a key, newest first.
func (s *ArtifactSnapshotService) ListSnapshots(ctx context.Context, key domain.StrategyKey) ([]SnapshotInfo, error) {
	objects, err := s.s3.List(ctx, snapshotPrefix+key.String()+"/")
	if err != nil {
		return nil, err
	}

	now := time.Now()
	infos := make([]SnapshotInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil || strings.HasSuffix(*obj.Key, ".meta.json") {
			continue
		}
		info := SnapshotInfo{
			Key:      *obj.Key,
			AgeHours: int64(objectAge(obj, now).Hours()),
		}
		if obj.Size != nil {
			info.SizeBytes = *obj.Size
		}
		if obj.LastModified != nil {
			info.Modified = *obj.LastModified
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Modified.After(infos[j].Modified)
	})
	return infos, nil
}

// RotateOldSnapshots deletes snapshots older than the retention period,
// always keeping the newest few. A retention of zero keeps everything.
func (s *ArtifactSnapshotService) RotateOldSnapshots(ctx context.Context, key domain.StrategyKey, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	snapshots, err := s.ListSnapshots(ctx, key)
	if err != nil {
		return err
	}
	if len(snapshots) <= minSnapshotsToKeep {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, snap := range snapshots {
		if i < minSnapshotsToKeep || !snap.Modified.Before(cutoff) {
			continue
		}
		if err := s.s3.Delete(ctx, snap.Key); err != nil {
			s.log.Error().Err(err).Str("key", snap.Key).Msg("Failed to delete old snapshot")
			continue
		}
		if err := s.s3.Delete(ctx, snap.Key+".meta.json"); err != nil {
			s.log.Warn().Err(err).Str("key", snap.Key).Msg("Failed to delete snapshot metadata")
		}
		deleted++
	}

	s.log.Info().
		Str("strategy", key.String()).
		Int("deleted", deleted).
		Int("remaining", len(snapshots)-deleted).
		Msg("Snapshot rotation completed")

	return nil
}

// snapshotKey builds the object key for one artifact version.
func snapshotKey(key domain.StrategyKey, version string) string {
	return snapshotPrefix + key.String() + "/" + version + ".bin"
}
