package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/config"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/allocation"
)

// Service owns the allocation policy lifecycle for one strategy key:
// training new versions against the environment and serving targets from
// the production version. Like the ranking service, the production policy
// is always resolved through the artifact store.
type Service struct {
	store   domain.ArtifactStore
	profile *config.StrategyProfile
	log     zerolog.Logger
}

// NewService creates a new policy service.
func NewService(store domain.ArtifactStore, profile *config.StrategyProfile, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		profile: profile,
		log:     log.With().Str("service", "policy").Str("strategy", profile.Key().String()).Logger(),
	}
}

// artifactKey distinguishes policy artifacts from ranking artifacts stored
// under the same strategy key.
func (s *Service) artifactKey() domain.StrategyKey {
	return domain.StrategyKey{
		Strategy:  s.profile.Strategy + "-policy",
		MarketCap: s.profile.MarketCap,
	}
}

// TrainOutcome reports a completed policy training run.
type TrainOutcome struct {
	Version    string  `json:"version"`
	Updates    int     `json:"updates"`
	Steps      int     `json:"steps"`
	MeanReward float64 `json:"mean_reward"`
}

// Train runs a full training pass over the window and promotes the
// resulting agent. A diverged or cancelled run returns without touching
// the production version.
func (s *Service) Train(ctx context.Context, window allocation.PriceWindow, seed int64) (*TrainOutcome, error) {
	env := allocation.NewEnv(window, s.profile)
	trainer := NewTrainer(env, s.profile.RL, seed, s.log)

	report, err := trainer.Run(ctx)
	if err != nil {
		s.log.Warn().Err(err).Int("updates_completed", report.Updates).Msg("Policy training aborted")
		return nil, err
	}

	payload, err := trainer.Agent().Encode()
	if err != nil {
		return nil, err
	}

	version := time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
	metrics := map[string]float64{
		"mean_reward":   report.MeanReward,
		"final_entropy": report.FinalEntropy,
		"steps":         float64(report.Steps),
	}
	if err := s.store.Save(s.artifactKey(), version, payload, metrics); err != nil {
		return nil, fmt.Errorf("failed to save policy: %w", err)
	}
	if err := s.store.Promote(s.artifactKey(), version); err != nil {
		return nil, fmt.Errorf("failed to promote policy: %w", err)
	}

	s.log.Info().
		Str("version", version).
		Int("updates", report.Updates).
		Float64("mean_reward", report.MeanReward).
		Msg("New allocation policy trained and promoted")

	return &TrainOutcome{
		Version:    version,
		Updates:    report.Updates,
		Steps:      report.Steps,
		MeanReward: report.MeanReward,
	}, nil
}

// TargetFor runs production-policy inference for a shortlist: the state is
// evaluated with the stored agent and projected into a target portfolio.
func (s *Service) TargetFor(tickers []string, state []float64, asOf time.Time) (domain.TargetPortfolio, error) {
	payload, version, err := s.store.LoadProduction(s.artifactKey())
	if err != nil {
		return domain.TargetPortfolio{}, fmt.Errorf("failed to load production policy: %w", err)
	}
	agent, err := Decode(payload)
	if err != nil {
		return domain.TargetPortfolio{}, err
	}

	bounds := allocation.Bounds{
		MinPosition:  s.profile.Risk.MinPosition,
		MaxPosition:  s.profile.Risk.MaxPosition,
		CashReserve:  s.profile.Risk.CashReserve,
		MaxPositions: s.profile.Risk.MaxPositions,
	}
	target, err := agent.Target(tickers, state, bounds, asOf)
	if err != nil {
		return domain.TargetPortfolio{}, err
	}

	s.log.Debug().
		Str("policy_version", version).
		Int("positions", len(target.Weights)).
		Msg("Computed target portfolio")

	return target, nil
}
