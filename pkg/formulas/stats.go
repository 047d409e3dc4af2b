// Package formulas provides pure numeric helpers shared by the ranking,
// allocation and rebalancing modules. Everything in this package is
// stateless: same inputs, same outputs.
package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualization base for daily series.
const TradingDaysPerYear = 252.0

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// CalculateReturns converts prices to simple periodic returns.
// Returns[i] = (Price[i+1] - Price[i]) / Price[i]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// AnnualizedVolatility calculates annualized volatility from daily returns.
// Formula: StdDev of daily returns × sqrt(252)
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}
	return StdDev(dailyReturns) * math.Sqrt(TradingDaysPerYear)
}

// SharpeRatio calculates the annualized Sharpe ratio of a daily return
// series against a zero risk-free rate. Returns 0 when the series has no
// variance (flat equity curve carries no risk-adjusted information).
func SharpeRatio(dailyReturns []float64) float64 {
	if len(dailyReturns) < 2 {
		return 0
	}

	sd := StdDev(dailyReturns)
	if sd == 0 {
		return 0
	}

	return Mean(dailyReturns) / sd * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdown calculates the maximum peak-to-trough decline of an equity
// curve, expressed as a positive fraction (0.25 = 25% drawdown).
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}

	peak := equity[0]
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// SpearmanCorrelation calculates the Spearman rank correlation between two
// series. This is the acceptance metric for the ranking model: only the
// relative ordering of predictions matters downstream, so Pearson
// correlation on ranks is the right measure, not MSE.
//
// Ties receive their average rank (fractional ranking), matching the
// standard definition.
func SpearmanCorrelation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}

	rx := fractionalRanks(x)
	ry := fractionalRanks(y)

	return stat.Correlation(rx, ry, nil)
}

// fractionalRanks converts values to ranks, averaging ranks across ties.
func fractionalRanks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return values[idx[a]] < values[idx[b]]
	})

	ranks := make([]float64, n)
	i := 0
	for i < n {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		// Average rank for the tie group [i, j]
		avg := float64(i+j)/2.0 + 1.0
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	return ranks
}

// PopulationStabilityIndex calculates the PSI between an expected (training)
// and actual (live) distribution of a single feature. Values above ~0.2
// conventionally indicate meaningful drift. Bucket edges are derived from
// the expected distribution's quantiles so the measure is scale-free.
func PopulationStabilityIndex(expected, actual []float64, buckets int) float64 {
	if len(expected) == 0 || len(actual) == 0 || buckets < 2 {
		return 0
	}

	sortedExp := append([]float64(nil), expected...)
	sort.Float64s(sortedExp)

	// Bucket edges at equal-frequency quantiles of the expected series.
	edges := make([]float64, buckets-1)
	for i := 1; i < buckets; i++ {
		edges[i-1] = stat.Quantile(float64(i)/float64(buckets), stat.Empirical, sortedExp, nil)
	}

	expCounts := bucketCounts(expected, edges)
	actCounts := bucketCounts(actual, edges)

	psi := 0.0
	for b := 0; b < buckets; b++ {
		// Floor proportions to avoid log(0) on empty buckets.
		pe := math.Max(float64(expCounts[b])/float64(len(expected)), 1e-6)
		pa := math.Max(float64(actCounts[b])/float64(len(actual)), 1e-6)
		psi += (pa - pe) * math.Log(pa/pe)
	}

	return psi
}

func bucketCounts(values []float64, edges []float64) []int {
	counts := make([]int, len(edges)+1)
	for _, v := range values {
		b := sort.SearchFloat64s(edges, v)
		counts[b]++
	}
	return counts
}
