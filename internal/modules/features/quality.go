package features

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

// QualityConfig holds the data-quality gates applied before training or
// scoring. All three thresholds come from the strategy profile.
type QualityConfig struct {
	FeatureWidth     int     // Expected feature vector length for the model version
	PriceFloor       float64 // Exclude illiquid/penny names below this price
	ExtremeMoveBound float64 // |single-period move| above this is treated as bad data
}

// QualityReport counts the rows excluded by each gate. Exclusions are
// absorbed silently; the report is logged, not surfaced.
type QualityReport struct {
	Input           int `json:"input"`
	Kept            int `json:"kept"`
	MissingFeatures int `json:"missing_features"`
	BelowPriceFloor int `json:"below_price_floor"`
	ZeroVolume      int `json:"zero_volume"`
	ExtremeMove     int `json:"extreme_move"`
}

// Excluded returns the total number of dropped rows.
func (r QualityReport) Excluded() int {
	return r.MissingFeatures + r.BelowPriceFloor + r.ZeroVolume + r.ExtremeMove
}

// Filter applies the data-quality gates to a snapshot batch. Rows are
// dropped, never errored: a bad row is a data problem, not a trading
// signal, and must not fail the batch.
func Filter(snapshots []domain.FeatureSnapshot, cfg QualityConfig, log zerolog.Logger) ([]domain.FeatureSnapshot, QualityReport) {
	report := QualityReport{Input: len(snapshots)}
	clean := make([]domain.FeatureSnapshot, 0, len(snapshots))

	for _, s := range snapshots {
		if !s.HasCompleteFeatures(cfg.FeatureWidth) {
			report.MissingFeatures++
			continue
		}
		if s.Price < cfg.PriceFloor {
			report.BelowPriceFloor++
			continue
		}
		if s.Volume == 0 {
			report.ZeroVolume++
			continue
		}
		if s.TargetReturn != nil {
			if tr := *s.TargetReturn; math.IsNaN(tr) || math.Abs(tr) > cfg.ExtremeMoveBound {
				report.ExtremeMove++
				continue
			}
		}

		clean = append(clean, s)
		report.Kept++
	}

	if report.Excluded() > 0 {
		log.Info().
			Int("input", report.Input).
			Int("kept", report.Kept).
			Int("missing_features", report.MissingFeatures).
			Int("below_price_floor", report.BelowPriceFloor).
			Int("zero_volume", report.ZeroVolume).
			Int("extreme_move", report.ExtremeMove).
			Msg("Excluded snapshots failing data-quality gates")
	}

	return clean, report
}
