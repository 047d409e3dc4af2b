package allocation

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/config"
)

func envProfile() *config.StrategyProfile {
	return &config.StrategyProfile{
		Strategy:  "growth",
		MarketCap: "large",
		Risk: config.RiskConfig{
			MaxPositions: 10, MinPosition: 0.01, MaxPosition: 0.20,
			CashReserve: 0.05, TransactionCost: 0.001,
		},
		Reward: config.RewardConfig{
			TurnoverPenalty:      0.1,
			DrawdownPenalty:      0.5,
			DiversificationBonus: 0.05,
		},
		RL: config.RLConfig{EpisodeLength: 20},
	}
}

// randomWalkWindow builds an aligned price window from seeded geometric
// random walks.
func randomWalkWindow(sessions, slots int, seed int64) PriceWindow {
	rng := rand.New(rand.NewSource(seed))

	tickers := make([]string, slots)
	predicted := make([]float64, slots)
	prices := make([][]float64, sessions)
	level := make([]float64, slots)
	for i := range tickers {
		tickers[i] = string(rune('A'+i)) + "AA"
		predicted[i] = 0.01 * rng.NormFloat64()
		level[i] = 50 + 10*rng.Float64()
	}
	for t := range prices {
		row := make([]float64, slots)
		for i := range row {
			level[i] *= 1 + 0.01*rng.NormFloat64()
			row[i] = level[i]
		}
		prices[t] = row
	}

	return PriceWindow{Tickers: tickers, Predicted: predicted, Prices: prices}
}

func TestEnv_DeterministicTrajectory(t *testing.T) {
	window := randomWalkWindow(120, 5, 3)

	run := func() ([]float64, []float64) {
		env := NewEnv(window, envProfile())
		state := env.Reset(42)

		actionRNG := rand.New(rand.NewSource(7))
		var rewards []float64
		for {
			action := make([]float64, env.Slots())
			for i := range action {
				action[i] = 0.05 + 0.02*actionRNG.NormFloat64()
			}
			next, reward, _, done := env.Step(action)
			rewards = append(rewards, reward)
			state = next
			if done {
				break
			}
		}
		return state, rewards
	}

	state1, rewards1 := run()
	state2, rewards2 := run()

	assert.Equal(t, rewards1, rewards2, "same seed and window must replay the same trajectory")
	assert.Equal(t, state1, state2)
}

func TestEnv_StateShape(t *testing.T) {
	window := randomWalkWindow(60, 4, 1)
	env := NewEnv(window, envProfile())

	state := env.Reset(1)
	require.Len(t, state, 4*FeaturesPerSlot)

	// Initial weights are zero.
	for i := 0; i < env.Slots(); i++ {
		assert.Equal(t, 0.0, state[i*FeaturesPerSlot+3])
	}
}

func TestEnv_StepProjectsAction(t *testing.T) {
	window := randomWalkWindow(60, 3, 9)
	env := NewEnv(window, envProfile())
	env.Reset(5)

	// A raw action far outside the simplex still produces feasible weights.
	_, _, _, _ = env.Step([]float64{2.0, 2.0, 2.0})

	weights := env.Weights()
	sum := 0.0
	for _, w := range weights {
		assert.LessOrEqual(t, w, 0.20+1e-12)
		sum += w
	}
	assert.LessOrEqual(t, sum, 0.95+1e-9)
}

func TestEnv_DeadTickerWeightForcedToZero(t *testing.T) {
	window := randomWalkWindow(60, 3, 11)
	// Slot 2's history ends at session 10.
	for s := 10; s < window.Sessions(); s++ {
		window.Prices[s][2] = 0
	}

	profile := envProfile()
	profile.RL.EpisodeLength = 40
	env := NewEnv(window, profile)
	env.Reset(0)

	for step := 0; step < 30; step++ {
		_, reward, _, done := env.Step([]float64{0.10, 0.10, 0.10})
		require.False(t, math.IsNaN(reward), "dead ticker must not poison the reward")
		if done {
			break
		}
	}

	assert.Equal(t, 0.0, env.Weights()[2], "exhausted ticker's weight stays forced to zero")
}

func TestEnv_RewardComponentsMatchTotal(t *testing.T) {
	window := randomWalkWindow(80, 4, 21)
	env := NewEnv(window, envProfile())
	env.Reset(13)

	_, reward, comps, _ := env.Step([]float64{0.05, 0.05, 0.05, 0.05})

	assert.InDelta(t, comps.Total(), reward, 1e-12)
	assert.GreaterOrEqual(t, comps.TurnoverPenalty, 0.0)
	assert.Greater(t, comps.DiversificationBonus, 0.0, "four active positions earn a diversification bonus")
}
