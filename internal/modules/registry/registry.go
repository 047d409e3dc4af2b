// Package registry is the versioned model artifact store. Every trained
// artifact (ranking model or allocation policy) is saved under a
// (strategy key, version) pair with its validation metrics; at most one
// version per key carries the production flag. Promotion is atomic both
// on disk (single transaction) and in process (atomic.Pointer cache), so
// concurrent readers observe either the old or the new production
// version, never a partial state.
package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/database"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

// Schema returns the registry DDL.
func Schema() string {
	return `
	CREATE TABLE IF NOT EXISTS artifacts (
		strategy_key  TEXT NOT NULL,
		version       TEXT NOT NULL,
		payload       BLOB NOT NULL,
		metrics       TEXT NOT NULL DEFAULT '{}',
		is_production INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		promoted_at   TEXT,
		PRIMARY KEY (strategy_key, version)
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_production
		ON artifacts(strategy_key) WHERE is_production = 1;
	`
}

// productionEntry is the immutable cache value for one strategy key.
type productionEntry struct {
	payload []byte
	version string
}

// Registry implements domain.ArtifactStore over SQLite.
type Registry struct {
	db    *database.DB
	cache atomic.Pointer[map[string]*productionEntry]
	log   zerolog.Logger
}

// New creates the registry, applying the schema and warming the
// production cache from disk.
func New(db *database.DB, log zerolog.Logger) (*Registry, error) {
	if _, err := db.Conn().Exec(Schema()); err != nil {
		return nil, fmt.Errorf("failed to apply registry schema: %w", err)
	}

	r := &Registry{
		db:  db,
		log: log.With().Str("service", "registry").Logger(),
	}
	if err := r.reloadCache(); err != nil {
		return nil, err
	}
	return r, nil
}

// Save stores a new artifact version. Versions are immutable; saving an
// existing (key, version) pair is an error.
func (r *Registry) Save(key domain.StrategyKey, version string, payload []byte, metrics map[string]float64) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to encode artifact metrics: %w", err)
	}

	_, err = r.db.Conn().Exec(`
		INSERT INTO artifacts (strategy_key, version, payload, metrics, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		key.String(), version, payload, string(metricsJSON), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save artifact %s/%s: %w", key.String(), version, err)
	}

	r.log.Info().
		Str("strategy", key.String()).
		Str("version", version).
		Int("payload_bytes", len(payload)).
		Msg("Artifact version saved")

	return nil
}

// LoadProduction returns the production artifact for a key from the
// in-process cache. ErrNoProductionModel when no version was ever
// promoted.
func (r *Registry) LoadProduction(key domain.StrategyKey) ([]byte, string, error) {
	cache := r.cache.Load()
	if cache != nil {
		if entry, ok := (*cache)[key.String()]; ok {
			return entry.payload, entry.version, nil
		}
	}
	return nil, "", domain.ErrNoProductionModel
}

// Promote flips the production flag to the given version in a single
// transaction, then swaps the cache. A version that was never saved is
// ErrVersionNotFound.
func (r *Registry) Promote(key domain.StrategyKey, version string) error {
	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin promote transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(
		`SELECT COUNT(*) FROM artifacts WHERE strategy_key = ? AND version = ?`,
		key.String(), version,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up artifact version: %w", err)
	}
	if exists == 0 {
		return domain.ErrVersionNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(
		`UPDATE artifacts SET is_production = 0, promoted_at = NULL
		 WHERE strategy_key = ? AND is_production = 1`,
		key.String(),
	); err != nil {
		return fmt.Errorf("failed to demote current production version: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE artifacts SET is_production = 1, promoted_at = ?
		 WHERE strategy_key = ? AND version = ?`,
		now, key.String(), version,
	); err != nil {
		return fmt.Errorf("failed to promote version %s: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit promotion: %w", err)
	}

	if err := r.reloadCache(); err != nil {
		return err
	}

	r.log.Info().
		Str("strategy", key.String()).
		Str("version", version).
		Msg("Artifact version promoted to production")

	return nil
}

// VersionInfo describes one stored artifact version.
type VersionInfo struct {
	Version      string             `json:"version"`
	Metrics      map[string]float64 `json:"metrics"`
	IsProduction bool               `json:"is_production"`
	CreatedAt    time.Time          `json:"created_at"`
	PromotedAt   *time.Time         `json:"promoted_at,omitempty"`
}

// Versions lists all stored versions for a key, newest first.
func (r *Registry) Versions(key domain.StrategyKey) ([]VersionInfo, error) {
	rows, err := r.db.Conn().Query(`
		SELECT version, metrics, is_production, created_at, promoted_at
		FROM artifacts WHERE strategy_key = ?
		ORDER BY created_at DESC, version DESC`,
		key.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifact versions: %w", err)
	}
	defer rows.Close()

	var out []VersionInfo
	for rows.Next() {
		var (
			info        VersionInfo
			metricsJSON string
			isProd      int
			createdAt   string
			promotedAt  sql.NullString
		)
		if err := rows.Scan(&info.Version, &metricsJSON, &isProd, &createdAt, &promotedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact version: %w", err)
		}
		if err := json.Unmarshal([]byte(metricsJSON), &info.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode artifact metrics: %w", err)
		}
		info.IsProduction = isProd == 1
		if info.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse artifact timestamp: %w", err)
		}
		if promotedAt.Valid {
			ts, err := time.Parse(time.RFC3339, promotedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse promotion timestamp: %w", err)
			}
			info.PromotedAt = &ts
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// reloadCache rebuilds the production cache from disk and swaps it in
// whole.
func (r *Registry) reloadCache() error {
	rows, err := r.db.Conn().Query(
		`SELECT strategy_key, version, payload FROM artifacts WHERE is_production = 1`,
	)
	if err != nil {
		return fmt.Errorf("failed to load production artifacts: %w", err)
	}
	defer rows.Close()

	cache := make(map[string]*productionEntry)
	for rows.Next() {
		var (
			keyStr  string
			version string
			payload []byte
		)
		if err := rows.Scan(&keyStr, &version, &payload); err != nil {
			return fmt.Errorf("failed to scan production artifact: %w", err)
		}
		cache[keyStr] = &productionEntry{payload: payload, version: version}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	r.cache.Store(&cache)
	return nil
}

// IsDuplicateVersion reports whether an error from Save indicates the
// (key, version) pair already exists. The modernc driver surfaces
// constraint failures only through the message text.
func IsDuplicateVersion(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE")
}
