package features

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/pkg/formulas"
)

// MonitorConfig tunes the drift monitor's windows and trigger.
type MonitorConfig struct {
	BaselineDays int     // Reference window the production model was trained on
	RecentDays   int     // Rolling window compared against the baseline
	Buckets      int     // PSI quantile buckets
	Threshold    float64 // Max per-feature PSI above which retraining is advised
}

// DriftMonitor computes feature-distribution drift from the snapshot
// store: the population stability index of each feature column, recent
// window against baseline window. The worst feature's PSI is the drift
// score. Implements domain.DriftMonitor.
type DriftMonitor struct {
	provider domain.FeatureProvider
	cfg      MonitorConfig
	now      func() time.Time
	log      zerolog.Logger
}

// NewDriftMonitor creates a drift monitor over a feature provider.
func NewDriftMonitor(provider domain.FeatureProvider, cfg MonitorConfig, log zerolog.Logger) *DriftMonitor {
	return &DriftMonitor{
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		log:      log.With().Str("service", "drift_monitor").Logger(),
	}
}

// RetrainRecommended compares the recent feature distribution against the
// baseline. Insufficient history in either window means no recommendation
// rather than an error: a young deployment should not retrain on noise.
func (m *DriftMonitor) RetrainRecommended(ctx context.Context, key domain.StrategyKey) (bool, float64, error) {
	end := m.now().UTC()
	recentStart := end.AddDate(0, 0, -m.cfg.RecentDays)
	baselineStart := recentStart.AddDate(0, 0, -m.cfg.BaselineDays)

	baseline, err := m.provider.GetSnapshots(ctx, domain.DateRange{Start: baselineStart, End: recentStart}, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to load baseline snapshots: %w", err)
	}
	recent, err := m.provider.GetSnapshots(ctx, domain.DateRange{Start: recentStart, End: end}, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to load recent snapshots: %w", err)
	}

	width := 0
	for _, s := range baseline {
		if len(s.Features) > 0 {
			width = len(s.Features)
			break
		}
	}
	if width == 0 || len(recent) < m.cfg.Buckets || len(baseline) < m.cfg.Buckets {
		m.log.Debug().
			Str("strategy", key.String()).
			Int("baseline_rows", len(baseline)).
			Int("recent_rows", len(recent)).
			Msg("Too little history for a drift verdict")
		return false, 0, nil
	}

	worst := 0.0
	worstFeature := -1
	for col := 0; col < width; col++ {
		psi := formulas.PopulationStabilityIndex(column(baseline, col), column(recent, col), m.cfg.Buckets)
		if psi > worst {
			worst = psi
			worstFeature = col
		}
	}

	recommended := worst > m.cfg.Threshold
	event := m.log.Debug()
	if recommended {
		event = m.log.Info()
	}
	event.
		Str("strategy", key.String()).
		Float64("psi", worst).
		Int("feature", worstFeature).
		Float64("threshold", m.cfg.Threshold).
		Bool("retrain_recommended", recommended).
		Msg("Feature drift evaluated")

	return recommended, worst, nil
}

// column extracts one feature column, skipping rows too narrow to have it.
func column(snapshots []domain.FeatureSnapshot, col int) []float64 {
	out := make([]float64, 0, len(snapshots))
	for _, s := range snapshots {
		if col < len(s.Features) {
			out = append(out, s.Features[col])
		}
	}
	return out
}
