package features

import (
	"context"
	"fmt"
	"time"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/pkg/formulas"
)

// Price-derived feature columns, in vector order.
var DerivedFeatureNames = []string{"rsi_14", "ema_gap_20", "trailing_vol_20"}

const (
	rsiLength    = 14
	emaGapLength = 20
	volWindow    = 20
)

// DeriveRow computes the price-derived feature columns for the most recent
// session in closes. Returns nil when the history is too short for any of
// the indicators.
func DeriveRow(closes []float64) []float64 {
	rsi := formulas.CalculateRSI(closes, rsiLength)
	gap := formulas.EMAGap(closes, emaGapLength)
	if rsi == nil || gap == nil || len(closes) < volWindow+1 {
		return nil
	}

	returns := formulas.CalculateReturns(closes[len(closes)-volWindow-1:])
	return []float64{*rsi, *gap, formulas.StdDev(returns)}
}

// IngestPrices derives feature snapshots from a ticker's close history and
// upserts them into the mirror. Sessions without enough history for the
// indicators are skipped. targetHorizon sessions of forward return become
// the training label; the trailing targetHorizon sessions get no label and
// are usable for scoring only.
func (r *Repository) IngestPrices(ctx context.Context, ticker string, dates []time.Time, closes []float64, volumes []int64, targetHorizon int) (int, error) {
	if len(dates) != len(closes) || len(dates) != len(volumes) {
		return 0, fmt.Errorf("ingest %s: dates/closes/volumes lengths differ (%d/%d/%d)",
			ticker, len(dates), len(closes), len(volumes))
	}
	if targetHorizon <= 0 {
		return 0, fmt.Errorf("ingest %s: target horizon must be positive, got %d", ticker, targetHorizon)
	}

	var snapshots []domain.FeatureSnapshot
	for i := range dates {
		features := DeriveRow(closes[:i+1])
		if features == nil {
			continue
		}

		snapshot := domain.FeatureSnapshot{
			Ticker:       ticker,
			Date:         dates[i],
			Features:     features,
			FeatureNames: DerivedFeatureNames,
			Price:        closes[i],
			Volume:       volumes[i],
		}
		if i+targetHorizon < len(closes) && closes[i] > 0 {
			target := closes[i+targetHorizon]/closes[i] - 1
			snapshot.TargetReturn = &target
		}
		snapshots = append(snapshots, snapshot)
	}

	if len(snapshots) == 0 {
		return 0, nil
	}
	if err := r.Upsert(ctx, snapshots); err != nil {
		return 0, err
	}

	r.log.Debug().
		Str("ticker", ticker).
		Int("sessions", len(dates)).
		Int("snapshots", len(snapshots)).
		Msg("Derived snapshots ingested")

	return len(snapshots), nil
}
