package allocation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBounds() Bounds {
	return Bounds{
		MinPosition:  0.01,
		MaxPosition:  0.10,
		CashReserve:  0.05,
		MaxPositions: 20,
	}
}

func weightSum(weights []float64) float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	return sum
}

func TestProjectWeights_ConcentratedActionGetsClipped(t *testing.T) {
	// Two oversized entries against bounds [0.01, 0.10]: both must be
	// clipped to the per-position cap and the invested sum must respect
	// the cash reserve.
	raw := []float64{0.9, 0.9}
	b := testBounds()

	weights := ProjectWeights(raw, b)

	assert.Equal(t, []float64{0.10, 0.10}, weights)
	assert.LessOrEqual(t, weightSum(weights), 1-b.CashReserve+1e-9)
}

func TestProjectWeights_DropsBelowMinimum(t *testing.T) {
	weights := ProjectWeights([]float64{0.005, 0.05, 0.0, -0.2}, testBounds())

	assert.Equal(t, 0.0, weights[0])
	assert.Equal(t, 0.05, weights[1])
	assert.Equal(t, 0.0, weights[2])
	assert.Equal(t, 0.0, weights[3])
}

func TestProjectWeights_MaxPositionsKeepsLargest(t *testing.T) {
	b := testBounds()
	b.MaxPositions = 2

	weights := ProjectWeights([]float64{0.03, 0.08, 0.05, 0.08}, b)

	// The two largest survive; the 0.08 tie resolves to the lower index.
	assert.Equal(t, 0.0, weights[0])
	assert.Equal(t, 0.08, weights[1])
	assert.Equal(t, 0.0, weights[2])
	assert.Equal(t, 0.08, weights[3])
}

func TestProjectWeights_BudgetScaleDown(t *testing.T) {
	b := testBounds()

	// 12 entries at the cap would invest 1.20; the budget is 0.95.
	raw := make([]float64, 12)
	for i := range raw {
		raw[i] = 0.10
	}

	weights := ProjectWeights(raw, b)

	assert.InDelta(t, 1-b.CashReserve, weightSum(weights), 1e-9)
	for i, w := range weights {
		assert.GreaterOrEqual(t, w, b.MinPosition, "entry %d", i)
		assert.LessOrEqual(t, w, b.MaxPosition+1e-12, "entry %d", i)
	}
}

func TestProjectWeights_ScaleDownDropsSubMinimumEntries(t *testing.T) {
	b := Bounds{MinPosition: 0.10, MaxPosition: 0.60, CashReserve: 0.05, MaxPositions: 10}

	// Scaling 0.60+0.60+0.11 to the 0.95 budget pushes the small entry
	// under the minimum; it must be dropped and the budget re-checked.
	weights := ProjectWeights([]float64{0.60, 0.60, 0.11}, b)

	assert.Equal(t, 0.0, weights[2])
	assert.LessOrEqual(t, weightSum(weights), 1-b.CashReserve+1e-9)
}

func TestProjectWeights_Deterministic(t *testing.T) {
	raw := []float64{0.04, 0.09, 0.02, 0.11, 0.005}
	b := testBounds()

	first := ProjectWeights(raw, b)
	second := ProjectWeights(raw, b)

	assert.Equal(t, first, second)
}

func TestTargetFromWeights_ResidualCashClosesToOne(t *testing.T) {
	asOf := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	target := TargetFromWeights([]string{"AAPL", "MSFT", "ZERO"}, []float64{0.06, 0.04, 0}, asOf)

	assert.Len(t, target.Weights, 2)
	assert.InDelta(t, 0.90, target.ResidualCashWeight, 1e-12)
	assert.NotContains(t, target.Weights, "ZERO")

	require.NoError(t, CheckTargetInvariants(target, testBounds()))
}

func TestCheckTargetInvariants_Violations(t *testing.T) {
	asOf := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	b := testBounds()

	t.Run("weight above max", func(t *testing.T) {
		target := TargetFromWeights([]string{"AAPL"}, []float64{0.20}, asOf)
		assert.Error(t, CheckTargetInvariants(target, b))
	})

	t.Run("sum not one", func(t *testing.T) {
		target := TargetFromWeights([]string{"AAPL"}, []float64{0.05}, asOf)
		target.ResidualCashWeight = 0.5
		assert.Error(t, CheckTargetInvariants(target, b))
	})

	t.Run("too many positions", func(t *testing.T) {
		capped := b
		capped.MaxPositions = 1
		target := TargetFromWeights([]string{"AAPL", "MSFT"}, []float64{0.05, 0.05}, asOf)
		assert.Error(t, CheckTargetInvariants(target, capped))
	})
}
