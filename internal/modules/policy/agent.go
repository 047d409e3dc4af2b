// Package policy implements the allocation agent: a linear-Gaussian actor
// with a linear value baseline, trained by clipped-objective policy
// gradient against the allocation environment. The parameter count is kept
// deliberately small; the agent's job is sizing a shortlist, not deep
// representation learning.
package policy

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/allocation"
)

const halfLog2Pi = 0.9189385332046727 // 0.5 * ln(2π)

// Agent is the allocation policy. The actor maps the flattened environment
// state to a Gaussian over raw weight actions: mean = W·s + b per slot,
// with a learned per-slot log standard deviation. The critic is a linear
// value baseline over the same state.
//
// All fields are exported for msgpack round-tripping; treat a decoded
// Agent as read-only during inference.
type Agent struct {
	StateSize  int         `msgpack:"state_size"`
	ActionSize int         `msgpack:"action_size"`
	Weights    [][]float64 `msgpack:"weights"` // ActionSize rows of StateSize
	Biases     []float64   `msgpack:"biases"`
	LogStd     []float64   `msgpack:"log_std"`
	ValueW     []float64   `msgpack:"value_w"`
	ValueB     float64     `msgpack:"value_b"`
}

// NewAgent creates an untrained agent with small deterministic initial
// weights. The same seed always yields the same initialization.
func NewAgent(stateSize, actionSize int, initialStd float64, seed int64) *Agent {
	rng := rand.New(rand.NewSource(seed))

	agent := &Agent{
		StateSize:  stateSize,
		ActionSize: actionSize,
		Weights:    make([][]float64, actionSize),
		Biases:     make([]float64, actionSize),
		LogStd:     make([]float64, actionSize),
		ValueW:     make([]float64, stateSize),
	}
	scale := 0.01
	for i := range agent.Weights {
		row := make([]float64, stateSize)
		for j := range row {
			row[j] = scale * rng.NormFloat64()
		}
		agent.Weights[i] = row
		agent.LogStd[i] = math.Log(initialStd)
	}
	for j := range agent.ValueW {
		agent.ValueW[j] = scale * rng.NormFloat64()
	}

	return agent
}

// Mean returns the deterministic action (the Gaussian mean) for a state.
// This is the inference path; exploration noise is a training-only concern.
func (a *Agent) Mean(state []float64) []float64 {
	mean := make([]float64, a.ActionSize)
	for i := range mean {
		m := a.Biases[i]
		row := a.Weights[i]
		for j, s := range state {
			m += row[j] * s
		}
		mean[i] = m
	}
	return mean
}

// Sample draws an action from the policy distribution and returns it with
// its log-probability under the current parameters.
func (a *Agent) Sample(state []float64, rng *rand.Rand) (action []float64, logProb float64) {
	mean := a.Mean(state)
	action = make([]float64, a.ActionSize)
	for i := range action {
		std := math.Exp(a.LogStd[i])
		action[i] = mean[i] + std*rng.NormFloat64()
	}
	return action, a.LogProb(state, action)
}

// LogProb is the log-density of an action under the policy's diagonal
// Gaussian at the given state.
func (a *Agent) LogProb(state, action []float64) float64 {
	mean := a.Mean(state)
	lp := 0.0
	for i := range action {
		std := math.Exp(a.LogStd[i])
		z := (action[i] - mean[i]) / std
		lp += -0.5*z*z - a.LogStd[i] - halfLog2Pi
	}
	return lp
}

// Value is the critic's state-value estimate.
func (a *Agent) Value(state []float64) float64 {
	v := a.ValueB
	for j, s := range state {
		v += a.ValueW[j] * s
	}
	return v
}

// Entropy is the differential entropy of the policy distribution. It
// depends only on the learned log standard deviations.
func (a *Agent) Entropy() float64 {
	h := 0.0
	for _, ls := range a.LogStd {
		h += ls + halfLog2Pi + 0.5
	}
	return h
}

// Target runs inference for one shortlist: the deterministic action is
// projected onto the feasible simplex and assembled into a target
// portfolio. Identical state and bounds always produce the identical
// target.
func (a *Agent) Target(tickers []string, state []float64, bounds allocation.Bounds, asOf time.Time) (domain.TargetPortfolio, error) {
	if len(state) != a.StateSize {
		return domain.TargetPortfolio{}, fmt.Errorf("state size %d does not match policy input %d", len(state), a.StateSize)
	}
	if len(tickers) != a.ActionSize {
		return domain.TargetPortfolio{}, fmt.Errorf("shortlist size %d does not match policy output %d", len(tickers), a.ActionSize)
	}

	weights := allocation.ProjectWeights(a.Mean(state), bounds)
	target := allocation.TargetFromWeights(tickers, weights, asOf)
	if err := allocation.CheckTargetInvariants(target, bounds); err != nil {
		return domain.TargetPortfolio{}, err
	}
	return target, nil
}

// Clone deep-copies the agent. Training mutates a clone and swaps it in
// only after the update is validated, so a diverged update never corrupts
// the live parameters.
func (a *Agent) Clone() *Agent {
	clone := &Agent{
		StateSize:  a.StateSize,
		ActionSize: a.ActionSize,
		Weights:    make([][]float64, len(a.Weights)),
		Biases:     append([]float64(nil), a.Biases...),
		LogStd:     append([]float64(nil), a.LogStd...),
		ValueW:     append([]float64(nil), a.ValueW...),
		ValueB:     a.ValueB,
	}
	for i, row := range a.Weights {
		clone.Weights[i] = append([]float64(nil), row...)
	}
	return clone
}

// finite reports whether every parameter of the agent is a finite number.
func (a *Agent) finite() bool {
	check := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	for _, row := range a.Weights {
		for _, v := range row {
			if !check(v) {
				return false
			}
		}
	}
	for _, v := range a.Biases {
		if !check(v) {
			return false
		}
	}
	for _, v := range a.LogStd {
		if !check(v) {
			return false
		}
	}
	for _, v := range a.ValueW {
		if !check(v) {
			return false
		}
	}
	return check(a.ValueB)
}

// Encode serializes the agent for the artifact store.
func (a *Agent) Encode() ([]byte, error) {
	payload, err := msgpack.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	return payload, nil
}

// Decode restores an agent from an artifact payload.
func Decode(payload []byte) (*Agent, error) {
	var agent Agent
	if err := msgpack.Unmarshal(payload, &agent); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	if agent.StateSize <= 0 || agent.ActionSize <= 0 || len(agent.Weights) != agent.ActionSize {
		return nil, fmt.Errorf("decoded policy has inconsistent dimensions")
	}
	return &agent, nil
}
