package rebalancing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

func TestComputeDrift(t *testing.T) {
	state := domain.PortfolioState{
		Positions: map[string]domain.Position{
			"AAPL": {Shares: 100, CostBasis: 120},
		},
		Cash: 5000,
	}
	target := domain.TargetPortfolio{
		Weights:            map[string]float64{"AAPL": 0.6, "MSFT": 0.3},
		ResidualCashWeight: 0.1,
	}
	prices := map[string]float64{"AAPL": 150, "MSFT": 300}

	report := ComputeDrift(state, target, prices, time.Now())

	// AAPL sits at 0.75 current vs 0.60 target; MSFT is unheld.
	assert.InDelta(t, 0.15, report.PerTickerDrift["AAPL"], 1e-9)
	assert.InDelta(t, -0.30, report.PerTickerDrift["MSFT"], 1e-9)
	assert.InDelta(t, 0.225, report.AggregateDrift, 1e-9)
}

func TestComputeDrift_AtTargetIsZero(t *testing.T) {
	state := domain.PortfolioState{
		Positions: map[string]domain.Position{"AAPL": {Shares: 60}},
		Cash:      4000,
	}
	target := domain.TargetPortfolio{
		Weights:            map[string]float64{"AAPL": 0.6},
		ResidualCashWeight: 0.4,
	}
	prices := map[string]float64{"AAPL": 100}

	report := ComputeDrift(state, target, prices, time.Now())
	assert.InDelta(t, 0, report.AggregateDrift, 1e-9)
}

func TestDecide(t *testing.T) {
	thresholds := Thresholds{Scheduled: 0.05, Immediate: 0.15}

	tests := []struct {
		name  string
		drift float64
		want  Decision
	}{
		{"below scheduled", 0.03, NoAction},
		{"at scheduled boundary", 0.05, NoAction},
		{"between thresholds", 0.08, Scheduled},
		{"at immediate boundary", 0.15, Scheduled},
		{"above immediate", 0.20, Immediate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := domain.DriftReport{AggregateDrift: tt.drift}
			assert.Equal(t, tt.want, Decide(report, thresholds))
		})
	}
}
