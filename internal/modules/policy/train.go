package policy

import (
	"context"
	"math"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/config"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/allocation"
)

// transition is one step of collected experience.
type transition struct {
	state     []float64
	action    []float64
	logProb   float64
	reward    float64
	value     float64
	done      bool
	advantage float64
	ret       float64
}

// TrainReport summarizes a completed training run.
type TrainReport struct {
	Updates       int     `json:"updates"`
	Steps         int     `json:"steps"`
	MeanReward    float64 `json:"mean_reward"`
	FinalEntropy  float64 `json:"final_entropy"`
	MeanValueLoss float64 `json:"mean_value_loss"`
}

// Trainer runs clipped-objective policy-gradient training of an Agent
// against the allocation environment. Updates are applied copy-and-swap: a
// diverged update is discarded whole and the run aborts with a
// DivergenceError, leaving the last validated parameters intact.
type Trainer struct {
	env   *allocation.Env
	cfg   config.RLConfig
	agent *Agent
	rng   *rand.Rand
	log   zerolog.Logger
}

// NewTrainer creates a trainer over one environment. The seed fixes both
// the episode sampling and the exploration noise, so a (seed, window,
// config) triple reproduces the run exactly.
func NewTrainer(env *allocation.Env, cfg config.RLConfig, seed int64, log zerolog.Logger) *Trainer {
	return &Trainer{
		env:   env,
		cfg:   cfg,
		agent: NewAgent(env.StateSize(), env.Slots(), cfg.ActionStdDev, seed),
		rng:   rand.New(rand.NewSource(seed)),
		log:   log.With().Str("service", "policy_trainer").Logger(),
	}
}

// Agent returns the current (last validated) agent.
func (t *Trainer) Agent() *Agent {
	return t.agent
}

// Run executes the configured number of updates. Context cancellation is
// honored between updates; partial progress up to the last completed
// update is kept.
func (t *Trainer) Run(ctx context.Context) (*TrainReport, error) {
	report := &TrainReport{}
	rewardSum := 0.0
	valueLossSum := 0.0

	for update := 0; update < t.cfg.Updates; update++ {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		buffer, err := t.collect(update)
		if err != nil {
			return report, err
		}
		computeGAE(buffer, t.agent, t.cfg.DiscountFactor, t.cfg.GAELambda)
		normalizeAdvantages(buffer)

		for _, tr := range buffer {
			if !finite(tr.advantage) {
				return report, &domain.DivergenceError{Quantity: "advantage", Step: report.Steps}
			}
			rewardSum += tr.reward
		}

		candidate := t.agent.Clone()
		valueLoss := t.optimize(candidate, buffer)
		if !finite(valueLoss) || !candidate.finite() {
			// Discard the candidate whole; t.agent keeps the last good
			// parameters.
			return report, &domain.DivergenceError{Quantity: "loss", Step: report.Steps}
		}
		t.agent = candidate

		report.Updates = update + 1
		report.Steps += len(buffer)
		valueLossSum += valueLoss

		if (update+1)%10 == 0 || update == t.cfg.Updates-1 {
			t.log.Debug().
				Int("update", update+1).
				Float64("mean_reward", rewardSum/float64(report.Steps)).
				Float64("value_loss", valueLoss).
				Float64("entropy", t.agent.Entropy()).
				Msg("Policy update applied")
		}
	}

	if report.Steps > 0 {
		report.MeanReward = rewardSum / float64(report.Steps)
		report.MeanValueLoss = valueLossSum / float64(report.Updates)
	}
	report.FinalEntropy = t.agent.Entropy()

	return report, nil
}

// collect gathers one rollout of experience with the current agent.
func (t *Trainer) collect(update int) ([]*transition, error) {
	buffer := make([]*transition, 0, t.cfg.RolloutLength)

	// Episode seeds are derived from the run seed and update index so the
	// whole run replays deterministically.
	state := t.env.Reset(t.rng.Int63())
	for step := 0; step < t.cfg.RolloutLength; step++ {
		action, logProb := t.agent.Sample(state, t.rng)
		next, reward, _, done := t.env.Step(action)
		if !finite(reward) {
			return nil, &domain.DivergenceError{Quantity: "reward", Step: update*t.cfg.RolloutLength + step}
		}

		buffer = append(buffer, &transition{
			state:   state,
			action:  action,
			logProb: logProb,
			reward:  reward,
			value:   t.agent.Value(state),
			done:    done,
		})

		if done {
			next = t.env.Reset(t.rng.Int63())
		}
		state = next
	}

	return buffer, nil
}

// computeGAE fills advantages and returns via generalized advantage
// estimation over the buffer. Episode boundaries cut the bootstrap.
func computeGAE(buffer []*transition, agent *Agent, gamma, lambda float64) {
	gae := 0.0
	for i := len(buffer) - 1; i >= 0; i-- {
		tr := buffer[i]

		nextValue := 0.0
		if !tr.done {
			if i+1 < len(buffer) {
				nextValue = buffer[i+1].value
			} else {
				nextValue = tr.value // Truncated rollout bootstraps on itself
			}
		}

		delta := tr.reward + gamma*nextValue - tr.value
		if tr.done {
			gae = delta
		} else {
			gae = delta + gamma*lambda*gae
		}
		tr.advantage = gae
		tr.ret = gae + tr.value
	}
}

// normalizeAdvantages centers and scales advantages across the buffer.
func normalizeAdvantages(buffer []*transition) {
	if len(buffer) < 2 {
		return
	}
	mean := 0.0
	for _, tr := range buffer {
		mean += tr.advantage
	}
	mean /= float64(len(buffer))

	variance := 0.0
	for _, tr := range buffer {
		d := tr.advantage - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(buffer)))
	if std < 1e-8 {
		return
	}
	for _, tr := range buffer {
		tr.advantage = (tr.advantage - mean) / std
	}
}

// optimize runs the configured epochs of minibatch ascent on the clipped
// surrogate plus entropy bonus, and descent on the squared value error.
// Returns the mean value loss of the final epoch.
func (t *Trainer) optimize(agent *Agent, buffer []*transition) float64 {
	lr := t.cfg.LearningRate
	clip := t.cfg.ClipRange

	order := make([]int, len(buffer))
	for i := range order {
		order[i] = i
	}

	valueLoss := 0.0
	for epoch := 0; epoch < t.cfg.EpochsPerUpdate; epoch++ {
		t.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		valueLoss = 0.0

		for lo := 0; lo < len(order); lo += t.cfg.MiniBatchSize {
			hi := lo + t.cfg.MiniBatchSize
			if hi > len(order) {
				hi = len(order)
			}
			batch := order[lo:hi]
			valueLoss += t.applyMiniBatch(agent, buffer, batch, lr, clip)
		}
		valueLoss /= float64(len(buffer))
	}

	return valueLoss
}

// applyMiniBatch accumulates gradients over one minibatch and applies a
// single SGD step. Returns the batch's summed value loss.
func (t *Trainer) applyMiniBatch(agent *Agent, buffer []*transition, batch []int, lr, clip float64) float64 {
	n := float64(len(batch))

	gradW := make([][]float64, agent.ActionSize)
	for i := range gradW {
		gradW[i] = make([]float64, agent.StateSize)
	}
	gradB := make([]float64, agent.ActionSize)
	gradLogStd := make([]float64, agent.ActionSize)
	gradVW := make([]float64, agent.StateSize)
	gradVB := 0.0
	lossSum := 0.0

	for _, idx := range batch {
		tr := buffer[idx]

		newLogProb := agent.LogProb(tr.state, tr.action)
		ratio := math.Exp(newLogProb - tr.logProb)

		// The clipped branch has zero gradient: skip samples where the
		// ratio has left the trust region in the advantage's direction.
		clipped := (tr.advantage > 0 && ratio > 1+clip) || (tr.advantage < 0 && ratio < 1-clip)
		if !clipped {
			mean := agent.Mean(tr.state)
			coef := ratio * tr.advantage / n
			for i := 0; i < agent.ActionSize; i++ {
				std := math.Exp(agent.LogStd[i])
				z := (tr.action[i] - mean[i]) / std
				dMean := coef * z / std
				for j, s := range tr.state {
					gradW[i][j] += dMean * s
				}
				gradB[i] += dMean
				gradLogStd[i] += coef * (z*z - 1)
			}
		}

		// Entropy bonus gradient is constant in logStd.
		for i := range gradLogStd {
			gradLogStd[i] += t.cfg.EntropyCoef / n
		}

		// Value baseline: squared-error descent.
		value := agent.Value(tr.state)
		err := value - tr.ret
		lossSum += err * err
		for j, s := range tr.state {
			gradVW[j] -= 2 * err * s / n
		}
		gradVB -= 2 * err / n
	}

	for i := 0; i < agent.ActionSize; i++ {
		for j := 0; j < agent.StateSize; j++ {
			agent.Weights[i][j] += lr * gradW[i][j]
		}
		agent.Biases[i] += lr * gradB[i]
		agent.LogStd[i] += lr * gradLogStd[i]
	}
	for j := 0; j < agent.StateSize; j++ {
		agent.ValueW[j] += lr * gradVW[j]
	}
	agent.ValueB += lr * gradVB

	return lossSum
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
