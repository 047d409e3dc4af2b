// Package rebalancing compares current holdings against the target
// portfolio, decides whether to act, and converts the decision into an
// executable order batch under strict cash and sequencing invariants.
package rebalancing

import (
	"math"
	"time"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

// Decision is the outcome of one drift evaluation.
type Decision string

const (
	NoAction  Decision = "NO_ACTION"
	Scheduled Decision = "SCHEDULED" // Deferred to the next eligible window
	Immediate Decision = "IMMEDIATE"
)

// Thresholds holds the drift levels of the decision rule, from the
// strategy profile's rebalance section.
type Thresholds struct {
	Scheduled float64
	Immediate float64
}

// ComputeDrift builds the per-ticker signed weight deviations of the
// current portfolio against the target. The deviation is current minus
// target, so a positive value means overweight. Aggregate drift is the sum
// of absolute deviations halved, which counts each unit of misallocated
// weight once rather than twice.
func ComputeDrift(state domain.PortfolioState, target domain.TargetPortfolio, prices map[string]float64, asOf time.Time) domain.DriftReport {
	current := state.Weights(prices)

	report := domain.DriftReport{
		AsOf:           asOf,
		PerTickerDrift: make(map[string]float64),
	}

	for ticker, w := range current {
		report.PerTickerDrift[ticker] = w - target.Weights[ticker]
	}
	for ticker, w := range target.Weights {
		if _, seen := report.PerTickerDrift[ticker]; !seen {
			report.PerTickerDrift[ticker] = -w
		}
	}

	sum := 0.0
	for _, dev := range report.PerTickerDrift {
		sum += math.Abs(dev)
	}
	report.AggregateDrift = sum / 2

	return report
}

// Decide applies the threshold rule to a drift report. The immediate
// threshold wins when both are exceeded.
func Decide(report domain.DriftReport, t Thresholds) Decision {
	switch {
	case report.AggregateDrift > t.Immediate:
		return Immediate
	case report.AggregateDrift > t.Scheduled:
		return Scheduled
	default:
		return NoAction
	}
}
