package ranking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/config"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/features"
)

// Service owns the ranking model lifecycle for one strategy key: screening
// the universe with the production model, and retraining new versions under
// walk-forward validation. The production model is always resolved through
// the artifact store, never cached across a promotion.
type Service struct {
	provider domain.FeatureProvider
	store    domain.ArtifactStore
	profile  *config.StrategyProfile
	log      zerolog.Logger
}

// NewService creates a new ranking service.
func NewService(provider domain.FeatureProvider, store domain.ArtifactStore, profile *config.StrategyProfile, log zerolog.Logger) *Service {
	return &Service{
		provider: provider,
		store:    store,
		profile:  profile,
		log:      log.With().Str("service", "ranking").Str("strategy", profile.Key().String()).Logger(),
	}
}

// RetrainOutcome reports the result of a retrain run.
type RetrainOutcome struct {
	Accepted bool    `json:"accepted"`
	RankIC   float64 `json:"rank_ic"`
	Version  string  `json:"version,omitempty"`
	Folds    int     `json:"folds"`
}

// Screen scores a snapshot batch for a single as-of date with the current
// production model. Tickers with incomplete feature vectors are excluded
// silently. The returned scores are strictly ordered: predicted return
// descending, ties broken by ticker lexical order, ranks 1..n.
//
// An empty result after filtering is an InsufficientDataError, not an
// empty-but-successful screen: downstream allocation cannot run on nothing.
func (s *Service) Screen(snapshots []domain.FeatureSnapshot) ([]domain.CandidateScore, error) {
	payload, version, err := s.store.LoadProduction(s.profile.Key())
	if err != nil {
		return nil, fmt.Errorf("failed to load production ranking model: %w", err)
	}
	model, err := Decode(payload)
	if err != nil {
		return nil, err
	}

	scores := make([]domain.CandidateScore, 0, len(snapshots))
	excluded := 0
	for _, snap := range snapshots {
		if !snap.HasCompleteFeatures(model.FeatureWidth) {
			excluded++
			continue
		}
		scores = append(scores, domain.CandidateScore{
			Ticker:          snap.Ticker,
			Date:            snap.Date,
			PredictedReturn: model.Predict(snap.Features),
		})
	}

	if excluded > 0 {
		s.log.Debug().Int("excluded", excluded).Msg("Excluded tickers with incomplete feature vectors")
	}

	if len(scores) == 0 {
		return nil, &domain.InsufficientDataError{
			Op:     "ranking.Screen",
			Needed: 1,
			Got:    0,
			Detail: "tickers with complete feature vectors",
		}
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].PredictedReturn != scores[j].PredictedReturn {
			return scores[i].PredictedReturn > scores[j].PredictedReturn
		}
		return scores[i].Ticker < scores[j].Ticker
	})
	for i := range scores {
		scores[i].Rank = i + 1
	}

	s.log.Debug().
		Int("scored", len(scores)).
		Str("model_version", version).
		Msg("Screened candidate batch")

	return scores, nil
}

// Shortlist returns the top-N scores of a screened batch. An empty
// shortlist is an InsufficientDataError.
func Shortlist(scores []domain.CandidateScore, topN int) ([]domain.CandidateScore, error) {
	if len(scores) == 0 || topN <= 0 {
		return nil, &domain.InsufficientDataError{
			Op:     "ranking.Shortlist",
			Needed: 1,
			Got:    0,
			Detail: "ranked candidates",
		}
	}
	if topN > len(scores) {
		topN = len(scores)
	}
	return scores[:topN], nil
}

// Retrain fits a new model version over the window and accepts it only if
// the walk-forward mean rank IC clears the configured floor. On acceptance
// the new version is saved and promoted; on rejection the run returns a
// ValidationFailure and the previous production model stays active.
//
// This is the single entry point the monitoring collaborator's drift signal
// (or the cron schedule) triggers.
func (s *Service) Retrain(ctx context.Context, window domain.DateRange) (*RetrainOutcome, error) {
	scr := s.profile.Screening

	raw, err := s.provider.GetSnapshots(ctx, window, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load training snapshots: %w", err)
	}

	width := featureWidth(raw)
	clean, _ := features.Filter(raw, features.QualityConfig{
		FeatureWidth:     width,
		PriceFloor:       scr.PriceFloor,
		ExtremeMoveBound: scr.ExtremeMoveBound,
	}, s.log)

	// Minimum-history gate runs before any model fit is attempted.
	days := distinctDays(clean)
	if days < scr.MinHistoryDays {
		return nil, &domain.InsufficientDataError{
			Op:     "ranking.Retrain",
			Needed: scr.MinHistoryDays,
			Got:    days,
			Detail: "trading days of clean history",
		}
	}

	report, err := WalkForward(clean, width, scr.RidgeLambda, scr.TrainWindowDays, scr.TestWindowDays)
	if err != nil {
		return nil, err
	}

	if report.MeanRankIC < scr.RankICFloor {
		vf := &domain.ValidationFailure{
			StrategyKey: s.profile.Key(),
			Metric:      "rank_ic",
			Value:       report.MeanRankIC,
			Floor:       scr.RankICFloor,
		}
		s.log.Warn().
			Float64("rank_ic", report.MeanRankIC).
			Float64("floor", scr.RankICFloor).
			Int("folds", len(report.Folds)).
			Msg("New ranking model rejected, previous production model stays active")
		return &RetrainOutcome{Accepted: false, RankIC: report.MeanRankIC, Folds: len(report.Folds)}, vf
	}

	// Accepted: fit the final model on the full window and promote.
	model, err := Fit(clean, width, scr.RidgeLambda)
	if err != nil {
		return nil, err
	}
	payload, err := model.Encode()
	if err != nil {
		return nil, err
	}

	version := time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
	metrics := map[string]float64{
		"rank_ic": report.MeanRankIC,
		"folds":   float64(len(report.Folds)),
	}
	if err := s.store.Save(s.profile.Key(), version, payload, metrics); err != nil {
		return nil, fmt.Errorf("failed to save ranking model: %w", err)
	}
	if err := s.store.Promote(s.profile.Key(), version); err != nil {
		return nil, fmt.Errorf("failed to promote ranking model: %w", err)
	}

	s.log.Info().
		Str("version", version).
		Float64("rank_ic", report.MeanRankIC).
		Int("folds", len(report.Folds)).
		Msg("New ranking model accepted and promoted")

	return &RetrainOutcome{Accepted: true, RankIC: report.MeanRankIC, Version: version, Folds: len(report.Folds)}, nil
}

// featureWidth infers the model's feature width from the first complete
// row. The width is fixed per model version.
func featureWidth(snapshots []domain.FeatureSnapshot) int {
	for _, s := range snapshots {
		if len(s.Features) > 0 {
			return len(s.Features)
		}
	}
	return 0
}

func distinctDays(snapshots []domain.FeatureSnapshot) int {
	seen := make(map[time.Time]bool)
	for _, s := range snapshots {
		seen[s.Date.UTC().Truncate(24*time.Hour)] = true
	}
	return len(seen)
}
