// Package allocation implements the sequential-decision environment the
// allocation policy trains against: a deterministic, replayable simulation
// of portfolio decisions over historical windows, plus the simplex
// projection that maps raw policy actions onto feasible weight vectors.
package allocation

import (
	"math"
	"sort"
	"time"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

// Bounds holds the feasibility constraints of a weight vector. All values
// come from the strategy profile's risk section.
type Bounds struct {
	MinPosition  float64
	MaxPosition  float64
	CashReserve  float64
	MaxPositions int
}

// ProjectWeights maps a raw action vector onto the feasible simplex:
//
//  1. entries below MinPosition become zero (no position),
//  2. remaining entries are clipped to [MinPosition, MaxPosition],
//  3. at most MaxPositions entries stay non-zero (largest kept, ties by
//     lower index for determinism),
//  4. if the invested sum exceeds 1-CashReserve it is scaled down
//     proportionally; entries pushed below MinPosition by the scaling are
//     dropped and the budget re-checked.
//
// The function is pure and deterministic: identical inputs always yield
// identical feasible weights. It never scales a weight above MaxPosition
// and never returns a sum above 1-CashReserve (within 1e-9).
func ProjectWeights(raw []float64, b Bounds) []float64 {
	n := len(raw)
	weights := make([]float64, n)

	for i, w := range raw {
		switch {
		case w < b.MinPosition || math.IsNaN(w):
			weights[i] = 0
		case w > b.MaxPosition:
			weights[i] = b.MaxPosition
		default:
			weights[i] = w
		}
	}

	// Position-count cap: keep the largest entries.
	if b.MaxPositions > 0 {
		active := make([]int, 0, n)
		for i, w := range weights {
			if w > 0 {
				active = append(active, i)
			}
		}
		if len(active) > b.MaxPositions {
			sort.SliceStable(active, func(a, c int) bool {
				if weights[active[a]] != weights[active[c]] {
					return weights[active[a]] > weights[active[c]]
				}
				return active[a] < active[c]
			})
			for _, idx := range active[b.MaxPositions:] {
				weights[idx] = 0
			}
		}
	}

	// Budget cap: proportional scale-down, re-dropping entries that fall
	// below the minimum. Each pass either terminates or zeroes at least
	// one entry, so the loop is bounded by n.
	budget := 1 - b.CashReserve
	for iter := 0; iter <= n; iter++ {
		sum := 0.0
		for _, w := range weights {
			sum += w
		}
		if sum <= budget+1e-12 {
			break
		}

		scale := budget / sum
		dropped := false
		for i, w := range weights {
			if w == 0 {
				continue
			}
			scaled := w * scale
			if scaled < b.MinPosition {
				weights[i] = 0
				dropped = true
			} else {
				weights[i] = scaled
			}
		}
		if !dropped {
			break
		}
	}

	return weights
}

// TargetFromWeights assembles a TargetPortfolio from a projected weight
// vector. The residual cash weight closes the sum to exactly 1.
func TargetFromWeights(tickers []string, weights []float64, asOf time.Time) domain.TargetPortfolio {
	target := domain.TargetPortfolio{
		AsOf:    asOf,
		Weights: make(map[string]float64, len(tickers)),
	}

	invested := 0.0
	for i, ticker := range tickers {
		if i < len(weights) && weights[i] > 0 {
			target.Weights[ticker] = weights[i]
			invested += weights[i]
		}
	}
	target.ResidualCashWeight = 1 - invested

	return target
}

// CheckTargetInvariants verifies the TargetPortfolio contract: weights plus
// residual cash sum to 1 within epsilon, every weight sits inside the
// position bounds, and the position count respects the cap. A violation is
// a programming bug surfaced as a ConstraintViolation, never silently
// repaired.
func CheckTargetInvariants(target domain.TargetPortfolio, b Bounds) error {
	const epsilon = 1e-6

	sum := target.ResidualCashWeight
	for ticker, w := range target.Weights {
		if w < b.MinPosition-epsilon || w > b.MaxPosition+epsilon {
			return &domain.ConstraintViolation{
				Invariant: "position bounds",
				Detail:    ticker + " weight outside [min_position, max_position]",
			}
		}
		sum += w
	}
	if math.Abs(sum-1) > epsilon {
		return &domain.ConstraintViolation{
			Invariant: "weight sum",
			Detail:    "weights plus residual cash do not sum to 1",
		}
	}
	if b.MaxPositions > 0 && len(target.Weights) > b.MaxPositions {
		return &domain.ConstraintViolation{
			Invariant: "max positions",
			Detail:    "non-zero weight count exceeds max_positions",
		}
	}

	return nil
}
