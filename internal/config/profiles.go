package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

// StrategyProfile is the complete, schema-checked configuration for one
// strategy/market-cap combination. Profiles are passed explicitly into each
// component constructor; there are no global mutable settings.
//
// Every risk-relevant field is required: a zero value fails validation
// rather than silently defaulting.
type StrategyProfile struct {
	Strategy  string `yaml:"strategy"`
	MarketCap string `yaml:"market_cap"`

	Screening ScreeningConfig `yaml:"screening"`
	Risk      RiskConfig      `yaml:"risk"`
	Reward    RewardConfig    `yaml:"reward"`
	RL        RLConfig        `yaml:"rl"`
	Rebalance RebalanceConfig `yaml:"rebalance"`
}

// ScreeningConfig controls the ranking model and its data-quality gates.
type ScreeningConfig struct {
	ShortlistSize    int     `yaml:"shortlist_size"`
	MinHistoryDays   int     `yaml:"min_history_days"`
	TrainWindowDays  int     `yaml:"train_window_days"`
	TestWindowDays   int     `yaml:"test_window_days"`
	RankICFloor      float64 `yaml:"rank_ic_floor"`
	RidgeLambda      float64 `yaml:"ridge_lambda"`
	PriceFloor       float64 `yaml:"price_floor"`        // Exclude penny/illiquid names below this
	ExtremeMoveBound float64 `yaml:"extreme_move_bound"` // |single-period move| above this is bad data
}

// RiskConfig bounds the allocation and cash posture.
type RiskConfig struct {
	MaxPositions    int     `yaml:"max_positions"`
	MinPosition     float64 `yaml:"min_position"` // Minimum non-zero weight
	MaxPosition     float64 `yaml:"max_position"`
	CashReserve     float64 `yaml:"cash_reserve"`     // Invested weight never exceeds 1 - CashReserve
	TransactionCost float64 `yaml:"transaction_cost"` // Fractional cost assumption per unit turnover
}

// RewardConfig weights the competing objectives of the environment reward.
// The values are strategy-specific tuning inputs, never hard-coded.
type RewardConfig struct {
	TurnoverPenalty      float64 `yaml:"turnover_penalty"`
	DrawdownPenalty      float64 `yaml:"drawdown_penalty"`
	DiversificationBonus float64 `yaml:"diversification_bonus"`
}

// RLConfig is the allocation policy's hyperparameter surface.
type RLConfig struct {
	LearningRate    float64 `yaml:"learning_rate"`
	DiscountFactor  float64 `yaml:"discount_factor"`
	GAELambda       float64 `yaml:"gae_lambda"`
	ClipRange       float64 `yaml:"clip_range"`
	EntropyCoef     float64 `yaml:"entropy_coef"`
	RolloutLength   int     `yaml:"rollout_length"`
	EpochsPerUpdate int     `yaml:"epochs_per_update"`
	MiniBatchSize   int     `yaml:"mini_batch_size"`
	Updates         int     `yaml:"updates"`
	EpisodeLength   int     `yaml:"episode_length"` // Trading sessions per training episode
	ActionStdDev    float64 `yaml:"action_std_dev"` // Exploration noise of the Gaussian policy
}

// RebalanceConfig holds the drift thresholds of the decision rule.
type RebalanceConfig struct {
	ScheduledThreshold float64 `yaml:"scheduled_threshold"`
	ImmediateThreshold float64 `yaml:"immediate_threshold"`
}

// Key returns the strategy key this profile configures.
func (p *StrategyProfile) Key() domain.StrategyKey {
	return domain.StrategyKey{Strategy: p.Strategy, MarketCap: p.MarketCap}
}

var validStrategies = map[string]bool{"growth": true, "value": true, "dividend": true}
var validMarketCaps = map[string]bool{"large": true, "mid": true, "small": true}

// Validate checks the profile against its schema. All numeric ranges are
// bounded; required risk parameters have no implicit defaults.
func (p *StrategyProfile) Validate() error {
	if !validStrategies[p.Strategy] {
		return fmt.Errorf("invalid strategy %q (want growth, value or dividend)", p.Strategy)
	}
	if !validMarketCaps[p.MarketCap] {
		return fmt.Errorf("invalid market_cap %q (want large, mid or small)", p.MarketCap)
	}

	s := p.Screening
	if s.ShortlistSize <= 0 {
		return fmt.Errorf("screening.shortlist_size must be positive, got %d", s.ShortlistSize)
	}
	if s.MinHistoryDays <= 0 {
		return fmt.Errorf("screening.min_history_days must be positive, got %d", s.MinHistoryDays)
	}
	if s.TrainWindowDays <= 0 || s.TestWindowDays <= 0 {
		return fmt.Errorf("screening train/test windows must be positive, got %d/%d", s.TrainWindowDays, s.TestWindowDays)
	}
	if s.RankICFloor <= 0 || s.RankICFloor >= 1 {
		return fmt.Errorf("screening.rank_ic_floor must be in (0, 1), got %f", s.RankICFloor)
	}
	if s.RidgeLambda < 0 {
		return fmt.Errorf("screening.ridge_lambda must be non-negative, got %f", s.RidgeLambda)
	}
	if s.PriceFloor <= 0 {
		return fmt.Errorf("screening.price_floor must be positive, got %f", s.PriceFloor)
	}
	if s.ExtremeMoveBound <= 0 || s.ExtremeMoveBound >= 1 {
		return fmt.Errorf("screening.extreme_move_bound must be in (0, 1), got %f", s.ExtremeMoveBound)
	}

	r := p.Risk
	if r.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be positive, got %d", r.MaxPositions)
	}
	if r.MinPosition <= 0 || r.MaxPosition <= 0 || r.MinPosition >= r.MaxPosition {
		return fmt.Errorf("risk position bounds invalid: min %f, max %f", r.MinPosition, r.MaxPosition)
	}
	if r.MaxPosition > 1 {
		return fmt.Errorf("risk.max_position must not exceed 1, got %f", r.MaxPosition)
	}
	if r.CashReserve < 0 || r.CashReserve >= 1 {
		return fmt.Errorf("risk.cash_reserve must be in [0, 1), got %f", r.CashReserve)
	}
	if r.TransactionCost < 0 || r.TransactionCost >= 0.1 {
		return fmt.Errorf("risk.transaction_cost must be in [0, 0.1), got %f", r.TransactionCost)
	}

	w := p.Reward
	if w.TurnoverPenalty < 0 || w.DrawdownPenalty < 0 || w.DiversificationBonus < 0 {
		return fmt.Errorf("reward coefficients must be non-negative")
	}

	rl := p.RL
	if rl.LearningRate <= 0 || rl.LearningRate > 1 {
		return fmt.Errorf("rl.learning_rate must be in (0, 1], got %f", rl.LearningRate)
	}
	if rl.DiscountFactor <= 0 || rl.DiscountFactor > 1 {
		return fmt.Errorf("rl.discount_factor must be in (0, 1], got %f", rl.DiscountFactor)
	}
	if rl.GAELambda < 0 || rl.GAELambda > 1 {
		return fmt.Errorf("rl.gae_lambda must be in [0, 1], got %f", rl.GAELambda)
	}
	if rl.ClipRange <= 0 || rl.ClipRange >= 1 {
		return fmt.Errorf("rl.clip_range must be in (0, 1), got %f", rl.ClipRange)
	}
	if rl.EntropyCoef < 0 {
		return fmt.Errorf("rl.entropy_coef must be non-negative, got %f", rl.EntropyCoef)
	}
	if rl.RolloutLength <= 0 || rl.EpochsPerUpdate <= 0 || rl.MiniBatchSize <= 0 || rl.Updates <= 0 {
		return fmt.Errorf("rl rollout_length, epochs_per_update, mini_batch_size and updates must be positive")
	}
	if rl.EpisodeLength <= 1 {
		return fmt.Errorf("rl.episode_length must exceed 1, got %d", rl.EpisodeLength)
	}
	if rl.ActionStdDev <= 0 {
		return fmt.Errorf("rl.action_std_dev must be positive, got %f", rl.ActionStdDev)
	}

	rb := p.Rebalance
	if rb.ScheduledThreshold <= 0 || rb.ImmediateThreshold <= 0 {
		return fmt.Errorf("rebalance thresholds must be positive, got %f/%f", rb.ScheduledThreshold, rb.ImmediateThreshold)
	}
	if rb.ScheduledThreshold >= rb.ImmediateThreshold {
		return fmt.Errorf("rebalance.scheduled_threshold %f must be below immediate_threshold %f",
			rb.ScheduledThreshold, rb.ImmediateThreshold)
	}

	// Feasibility: the position bounds must admit at least one portfolio
	// that respects the cash reserve.
	if float64(r.MaxPositions)*r.MaxPosition < 1-r.CashReserve-1e-9 {
		// Not fatal: the projection simply cannot invest the full budget.
		// But MinPosition * 1 must not exceed the budget.
		if r.MinPosition > 1-r.CashReserve {
			return fmt.Errorf("risk.min_position %f exceeds investable budget %f", r.MinPosition, 1-r.CashReserve)
		}
	}

	return nil
}

// LoadProfile reads and validates a single strategy profile YAML file.
func LoadProfile(path string) (*StrategyProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	var profile StrategyProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}

	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}

	return &profile, nil
}

// LoadProfiles reads every *.yaml profile in dir, keyed by strategy key.
// A single invalid profile fails the whole load: a partially configured
// strategy surface is worse than none.
func LoadProfiles(dir string) (map[domain.StrategyKey]*StrategyProfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile directory %s: %w", dir, err)
	}

	profiles := make(map[domain.StrategyKey]*StrategyProfile)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		profile, err := LoadProfile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		key := profile.Key()
		if _, exists := profiles[key]; exists {
			return nil, fmt.Errorf("duplicate profile for strategy key %s", key)
		}
		profiles[key] = profile
	}

	return profiles, nil
}
