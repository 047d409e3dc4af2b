package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateReturns(t *testing.T) {
	prices := []float64{100, 110, 99}
	returns := CalculateReturns(prices)

	assert.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-9)
	assert.InDelta(t, -0.10, returns[1], 1e-9)
}

func TestCalculateReturns_TooShort(t *testing.T) {
	assert.Empty(t, CalculateReturns([]float64{100}))
	assert.Empty(t, CalculateReturns(nil))
}

func TestSharpeRatio_FlatSeries(t *testing.T) {
	// No variance means no risk-adjusted information
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.01, 0.01, 0.01}))
}

func TestSharpeRatio_PositiveDrift(t *testing.T) {
	returns := []float64{0.01, 0.02, -0.005, 0.015, 0.01}
	sharpe := SharpeRatio(returns)
	assert.Greater(t, sharpe, 0.0)
}

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name     string
		equity   []float64
		expected float64
	}{
		{
			name:     "monotonic rise has no drawdown",
			equity:   []float64{100, 105, 110, 120},
			expected: 0.0,
		},
		{
			name:     "single trough",
			equity:   []float64{100, 120, 90, 110},
			expected: 0.25, // 120 -> 90
		},
		{
			name:     "empty series",
			equity:   []float64{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, MaxDrawdown(tt.equity), 1e-9)
		})
	}
}

func TestSpearmanCorrelation_PerfectMonotonic(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{10, 100, 1000, 10000, 100000} // monotonic but nonlinear

	assert.InDelta(t, 1.0, SpearmanCorrelation(x, y), 1e-9)
}

func TestSpearmanCorrelation_Inverse(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{8, 6, 4, 2}

	assert.InDelta(t, -1.0, SpearmanCorrelation(x, y), 1e-9)
}

func TestSpearmanCorrelation_Ties(t *testing.T) {
	// Tied values must receive their average rank; the result stays in [-1, 1]
	x := []float64{1, 2, 2, 3}
	y := []float64{1, 2, 3, 4}

	rho := SpearmanCorrelation(x, y)
	assert.True(t, rho > 0.9 && rho <= 1.0, "got %f", rho)
}

func TestSpearmanCorrelation_LengthMismatch(t *testing.T) {
	assert.Equal(t, 0.0, SpearmanCorrelation([]float64{1, 2}, []float64{1}))
}

func TestPopulationStabilityIndex_SameDistribution(t *testing.T) {
	data := make([]float64, 500)
	for i := range data {
		data[i] = float64(i % 50)
	}

	psi := PopulationStabilityIndex(data, data, 10)
	assert.InDelta(t, 0.0, psi, 1e-6)
}

func TestPopulationStabilityIndex_ShiftedDistribution(t *testing.T) {
	expected := make([]float64, 500)
	actual := make([]float64, 500)
	for i := range expected {
		expected[i] = float64(i % 50)
		actual[i] = float64(i%50) + 40 // heavy shift
	}

	psi := PopulationStabilityIndex(expected, actual, 10)
	assert.Greater(t, psi, 0.2, "shifted distribution should exceed the conventional drift threshold")
}

func TestAnnualizedVolatility(t *testing.T) {
	returns := []float64{0.01, -0.01, 0.02, -0.02}
	vol := AnnualizedVolatility(returns)
	assert.InDelta(t, StdDev(returns)*math.Sqrt(252), vol, 1e-12)
}

func TestCalculateRSI_InsufficientData(t *testing.T) {
	assert.Nil(t, CalculateRSI([]float64{1, 2, 3}, 14))
}

func TestCalculateEMA_FallbackToSMA(t *testing.T) {
	closes := []float64{10, 20, 30}
	ema := CalculateEMA(closes, 200)
	assert.NotNil(t, ema)
	assert.InDelta(t, 20.0, *ema, 1e-9)
}
