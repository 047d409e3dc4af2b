// Package features adapts the materialized feature view to the engine.
// It loads per-ticker-date snapshots from the local SQLite mirror and
// applies the data-quality gates before anything downstream sees a row.
package features

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

// Repository reads feature snapshots from the feature store mirror.
// It implements domain.FeatureProvider. Missing rows are "no data",
// never zero.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new feature snapshot repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("service", "features").Logger(),
	}
}

// OpenHistoryDB opens the feature store mirror with the cgo SQLite driver.
// The mirror is populated through IngestPrices by the ingestion
// collaborator; the engine itself only reads it.
func OpenHistoryDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open feature store mirror: %w", err)
	}
	return db, nil
}

// Schema returns the DDL for the snapshots table. Used by tests and by the
// ingestion collaborator's bootstrap.
func Schema() string {
	return `
	CREATE TABLE IF NOT EXISTS snapshots (
		ticker        TEXT NOT NULL,
		date          INTEGER NOT NULL,
		features      TEXT NOT NULL,
		target_return REAL,
		price         REAL NOT NULL,
		volume        INTEGER NOT NULL,
		PRIMARY KEY (ticker, date)
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_date ON snapshots(date);
	`
}

// GetSnapshots returns all snapshots in [dateRange.Start, dateRange.End)
// for the given universe. An empty universe means all tickers.
func (r *Repository) GetSnapshots(ctx context.Context, dateRange domain.DateRange, universe []string) ([]domain.FeatureSnapshot, error) {
	query := `
		SELECT ticker, date, features, target_return, price, volume
		FROM snapshots
		WHERE date >= ? AND date < ?
	`
	args := []interface{}{dateRange.Start.Unix(), dateRange.End.Unix()}

	if len(universe) > 0 {
		query += " AND ticker IN (" + placeholders(len(universe)) + ")"
		for _, t := range universe {
			args = append(args, t)
		}
	}
	query += " ORDER BY date ASC, ticker ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.FeatureSnapshot
	for rows.Next() {
		var (
			ticker       string
			dateUnix     int64
			featuresJSON string
			targetReturn sql.NullFloat64
			price        float64
			volume       int64
		)
		if err := rows.Scan(&ticker, &dateUnix, &featuresJSON, &targetReturn, &price, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		var features []float64
		if err := json.Unmarshal([]byte(featuresJSON), &features); err != nil {
			// A corrupt feature vector is a data-quality issue, not a batch
			// failure: skip the row and let the quality report count it.
			r.log.Warn().Str("ticker", ticker).Msg("Skipping snapshot with unparseable feature vector")
			continue
		}

		snapshot := domain.FeatureSnapshot{
			Ticker:   ticker,
			Date:     time.Unix(dateUnix, 0).UTC(),
			Features: features,
			Price:    price,
			Volume:   volume,
		}
		if targetReturn.Valid {
			v := targetReturn.Float64
			snapshot.TargetReturn = &v
		}

		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}

	return snapshots, nil
}

// Upsert stores snapshots, replacing existing (ticker, date) rows. Used by
// tests and the ingestion sync job.
func (r *Repository) Upsert(ctx context.Context, snapshots []domain.FeatureSnapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO snapshots (ticker, date, features, target_return, price, volume)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range snapshots {
		featuresJSON, err := json.Marshal(s.Features)
		if err != nil {
			return fmt.Errorf("failed to encode features for %s: %w", s.Ticker, err)
		}

		var target interface{}
		if s.TargetReturn != nil {
			target = *s.TargetReturn
		}

		if _, err := stmt.ExecContext(ctx, s.Ticker, s.Date.Unix(), string(featuresJSON), target, s.Price, s.Volume); err != nil {
			return fmt.Errorf("failed to upsert snapshot %s/%s: %w", s.Ticker, s.Date.Format("2006-01-02"), err)
		}
	}

	return tx.Commit()
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ",?"
	}
	return out
}
