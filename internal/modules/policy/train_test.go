package policy

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/config"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/allocation"
	"github.com/frankmkratzer/acis-ai-platform-sub002/pkg/logger"
)

func trainProfile() *config.StrategyProfile {
	return &config.StrategyProfile{
		Strategy:  "growth",
		MarketCap: "large",
		Risk: config.RiskConfig{
			MaxPositions: 5, MinPosition: 0.01, MaxPosition: 0.30,
			CashReserve: 0.05, TransactionCost: 0.001,
		},
		Reward: config.RewardConfig{
			TurnoverPenalty:      0.05,
			DrawdownPenalty:      0.2,
			DiversificationBonus: 0.02,
		},
		RL: config.RLConfig{
			LearningRate:    0.01,
			DiscountFactor:  0.99,
			GAELambda:       0.95,
			ClipRange:       0.2,
			EntropyCoef:     0.001,
			RolloutLength:   64,
			EpochsPerUpdate: 2,
			MiniBatchSize:   16,
			Updates:         3,
			EpisodeLength:   20,
			ActionStdDev:    0.1,
		},
	}
}

func trainWindow(seed int64) allocation.PriceWindow {
	rng := rand.New(rand.NewSource(seed))

	slots := 4
	sessions := 150
	tickers := []string{"AAA", "BBB", "CCC", "DDD"}
	predicted := make([]float64, slots)
	level := make([]float64, slots)
	for i := range level {
		predicted[i] = 0.005 * rng.NormFloat64()
		level[i] = 100
	}
	prices := make([][]float64, sessions)
	for t := range prices {
		row := make([]float64, slots)
		for i := range row {
			level[i] *= 1 + 0.008*rng.NormFloat64()
			row[i] = level[i]
		}
		prices[t] = row
	}
	return allocation.PriceWindow{Tickers: tickers, Predicted: predicted, Prices: prices}
}

func TestTrainer_RunCompletesAndReproduces(t *testing.T) {
	profile := trainProfile()
	log := logger.New(logger.Config{Level: "error"})

	run := func() (*TrainReport, *Agent) {
		env := allocation.NewEnv(trainWindow(13), profile)
		trainer := NewTrainer(env, profile.RL, 42, log)
		report, err := trainer.Run(context.Background())
		require.NoError(t, err)
		return report, trainer.Agent()
	}

	report1, agent1 := run()
	report2, agent2 := run()

	assert.Equal(t, 3, report1.Updates)
	assert.Equal(t, 3*64, report1.Steps)
	assert.Equal(t, report1.MeanReward, report2.MeanReward, "same seed and window must reproduce the run")
	assert.Equal(t, agent1.Weights, agent2.Weights)
}

func TestTrainer_ContextCancellation(t *testing.T) {
	profile := trainProfile()
	env := allocation.NewEnv(trainWindow(13), profile)
	trainer := NewTrainer(env, profile.RL, 1, logger.New(logger.Config{Level: "error"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := trainer.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Updates)
}

func TestTrainer_DivergenceDiscardsUpdate(t *testing.T) {
	profile := trainProfile()
	// An absurd learning rate overflows the value parameters within one
	// update's minibatch sequence.
	profile.RL.LearningRate = 1e30
	profile.RL.Updates = 10

	env := allocation.NewEnv(trainWindow(13), profile)
	trainer := NewTrainer(env, profile.RL, 42, logger.New(logger.Config{Level: "error"}))

	_, err := trainer.Run(context.Background())

	var diverged *domain.DivergenceError
	require.ErrorAs(t, err, &diverged)
	assert.True(t, trainer.Agent().finite(), "the live agent keeps the last validated parameters")
}

func TestComputeGAE_EpisodeBoundaryCutsBootstrap(t *testing.T) {
	agent := NewAgent(2, 1, 0.1, 1)
	buffer := []*transition{
		{reward: 1, value: 0.5},
		{reward: 1, value: 0.5, done: true},
		{reward: -1, value: 0.5},
	}

	computeGAE(buffer, agent, 0.9, 0.9)

	// The terminal step bootstraps on nothing.
	assert.InDelta(t, 1-0.5, buffer[1].advantage, 1e-12)
	// The step after the boundary does not see the earlier episode.
	assert.InDelta(t, -1+0.9*0.5-0.5, buffer[2].advantage, 1e-12)
}

func TestNormalizeAdvantages(t *testing.T) {
	buffer := []*transition{
		{advantage: 1}, {advantage: 2}, {advantage: 3}, {advantage: 4},
	}

	normalizeAdvantages(buffer)

	sum := 0.0
	for _, tr := range buffer {
		sum += tr.advantage
	}
	assert.InDelta(t, 0, sum, 1e-12)
	assert.Greater(t, buffer[3].advantage, buffer[0].advantage, "ordering is preserved")
}
