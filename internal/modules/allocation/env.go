package allocation

import (
	"math"
	"math/rand"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/config"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/pkg/formulas"
)

// FeaturesPerSlot is the per-ticker width of the environment state:
// predicted return, trailing return, trailing volatility, current weight.
const FeaturesPerSlot = 4

// trailingVolWindow is the session count of the rolling volatility feature.
const trailingVolWindow = 20

// drawdownWindow bounds the "recent peak-to-trough" reward term.
const drawdownWindow = 20

// PriceWindow is one historical slice served to the environment: aligned
// daily closes for every shortlist slot plus the ranking model's predicted
// returns at the window start. Prices[t][i] is slot i's close at session t;
// a non-positive value means the ticker's history is exhausted from that
// session on.
type PriceWindow struct {
	Tickers   []string
	Predicted []float64
	Prices    [][]float64
}

// Sessions returns the number of tradable sessions in the window.
func (w PriceWindow) Sessions() int {
	return len(w.Prices)
}

// Env is the allocation environment: a deterministic simulator of
// sequential portfolio decisions over a historical window. All mutable
// cursor state is explicit on the struct, so one PriceWindow can back many
// concurrent Env instances safely.
type Env struct {
	window  PriceWindow
	bounds  Bounds
	reward  config.RewardConfig
	txCost  float64
	horizon int // Episode length in sessions

	// Cursor state, reset per episode.
	step        int
	start       int
	weights     []float64
	dead        []bool // Ticker history exhausted; weight forced to zero
	equity      []float64
	stepReturns []float64
}

// NewEnv creates an environment over one historical window. The reward
// coefficients and risk bounds come from the strategy profile; nothing is
// hard-coded.
func NewEnv(window PriceWindow, profile *config.StrategyProfile) *Env {
	return &Env{
		window: window,
		bounds: Bounds{
			MinPosition:  profile.Risk.MinPosition,
			MaxPosition:  profile.Risk.MaxPosition,
			CashReserve:  profile.Risk.CashReserve,
			MaxPositions: profile.Risk.MaxPositions,
		},
		reward:  profile.Reward,
		txCost:  profile.Risk.TransactionCost,
		horizon: profile.RL.EpisodeLength,
	}
}

// Slots returns the shortlist size of the environment.
func (e *Env) Slots() int {
	return len(e.window.Tickers)
}

// StateSize returns the flattened state vector length.
func (e *Env) StateSize() int {
	return e.Slots() * FeaturesPerSlot
}

// Bounds returns the feasibility constraints the environment projects
// actions onto.
func (e *Env) Bounds() Bounds {
	return e.bounds
}

// Reset starts a new episode. The seed fully determines the episode's
// start offset, so a (seed, window) pair always replays the exact same
// trajectory. Returns the initial state.
func (e *Env) Reset(seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))

	maxStart := e.window.Sessions() - e.horizon - 1
	if maxStart < 0 {
		maxStart = 0
	}
	e.start = 0
	if maxStart > 0 {
		e.start = rng.Intn(maxStart + 1)
	}

	e.step = 0
	e.weights = make([]float64, e.Slots())
	e.dead = make([]bool, e.Slots())
	e.equity = []float64{1.0}
	e.stepReturns = nil

	e.refreshDead()

	return e.state()
}

// Step applies one action: the raw vector is projected onto the feasible
// simplex, the portfolio advances one session at historical prices, and
// the shaped reward is computed. Returns the next state, the scalar
// reward, its components and whether the episode ended.
func (e *Env) Step(action []float64) ([]float64, float64, domain.RewardComponents, bool) {
	projected := ProjectWeights(action, e.bounds)
	for i := range projected {
		if e.dead[i] {
			projected[i] = 0
		}
	}

	turnover := 0.0
	for i := range projected {
		turnover += math.Abs(projected[i] - e.weights[i])
	}

	// Advance one session at historical prices.
	t := e.start + e.step
	portReturn := 0.0
	for i, w := range projected {
		if w == 0 {
			continue
		}
		r := e.sessionReturn(i, t)
		portReturn += w * r
	}
	netReturn := portReturn - e.txCost*turnover

	e.weights = projected
	e.stepReturns = append(e.stepReturns, netReturn)
	e.equity = append(e.equity, e.equity[len(e.equity)-1]*(1+netReturn))
	e.step++
	e.refreshDead()

	comps := e.rewardComponents(turnover)

	done := e.step >= e.horizon || e.start+e.step >= e.window.Sessions()-1

	return e.state(), comps.Total(), comps, done
}

// Weights returns a copy of the current simulated portfolio weights.
func (e *Env) Weights() []float64 {
	out := make([]float64, len(e.weights))
	copy(out, e.weights)
	return out
}

// rewardComponents shapes the step reward:
//
//	sharpe_delta − turnover_penalty·Σ|Δw| − drawdown_penalty·recentDD + diversification_bonus·f(active)
//
// Each component is stored pre-weighted so RewardComponents.Total matches
// the training reward exactly.
func (e *Env) rewardComponents(turnover float64) domain.RewardComponents {
	n := len(e.stepReturns)
	sharpeAfter := formulas.SharpeRatio(e.stepReturns)
	sharpeBefore := 0.0
	if n > 1 {
		sharpeBefore = formulas.SharpeRatio(e.stepReturns[:n-1])
	}

	tail := e.equity
	if len(tail) > drawdownWindow {
		tail = tail[len(tail)-drawdownWindow:]
	}
	recentDD := formulas.MaxDrawdown(tail)

	active := 0
	for _, w := range e.weights {
		if w > 0 {
			active++
		}
	}
	diversification := 0.0
	if e.bounds.MaxPositions > 0 {
		diversification = math.Min(1, float64(active)/float64(e.bounds.MaxPositions))
	}

	return domain.RewardComponents{
		SharpeDelta:          sharpeAfter - sharpeBefore,
		TurnoverPenalty:      e.reward.TurnoverPenalty * turnover,
		DrawdownPenalty:      e.reward.DrawdownPenalty * math.Max(0, recentDD),
		DiversificationBonus: e.reward.DiversificationBonus * diversification,
	}
}

// sessionReturn is slot i's simple return from session t to t+1. Exhausted
// history contributes zero.
func (e *Env) sessionReturn(i, t int) float64 {
	if t+1 >= e.window.Sessions() {
		return 0
	}
	p0 := e.window.Prices[t][i]
	p1 := e.window.Prices[t+1][i]
	if p0 <= 0 || p1 <= 0 {
		return 0
	}
	return (p1 - p0) / p0
}

// refreshDead forces the weight of tickers with exhausted price history to
// zero for the remaining steps. This is a data condition, not an
// episode-ending fault.
func (e *Env) refreshDead() {
	t := e.start + e.step
	if t >= e.window.Sessions() {
		return
	}
	for i := range e.dead {
		if e.dead[i] {
			continue
		}
		if e.window.Prices[t][i] <= 0 {
			e.dead[i] = true
			e.weights[i] = 0
		}
	}
}

// state builds the flattened state vector: per slot, the predicted return,
// the trailing one-session return, the trailing volatility and the current
// weight.
func (e *Env) state() []float64 {
	t := e.start + e.step
	state := make([]float64, 0, e.StateSize())

	for i := range e.window.Tickers {
		predicted := 0.0
		if i < len(e.window.Predicted) {
			predicted = e.window.Predicted[i]
		}

		lastReturn := 0.0
		if t > 0 {
			lastReturn = e.sessionReturn(i, t-1)
		}

		state = append(state, predicted, lastReturn, e.trailingVol(i, t), e.weights[i])
	}

	return state
}

// trailingVol is the per-session volatility of slot i's returns over the
// last trailingVolWindow sessions ending at t.
func (e *Env) trailingVol(i, t int) float64 {
	lo := t - trailingVolWindow
	if lo < 0 {
		lo = 0
	}
	var returns []float64
	for s := lo; s < t; s++ {
		returns = append(returns, e.sessionReturn(i, s))
	}
	if len(returns) < 2 {
		return 0
	}
	return formulas.StdDev(returns)
}
