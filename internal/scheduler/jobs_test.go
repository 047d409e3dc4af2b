package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/ranking"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/rebalancing"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/training"
	"github.com/frankmkratzer/acis-ai-platform-sub002/pkg/logger"
)

type fakeMonitor struct {
	recommend map[domain.StrategyKey]bool
	err       error
}

func (f *fakeMonitor) RetrainRecommended(_ context.Context, key domain.StrategyKey) (bool, float64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	return f.recommend[key], 0.3, nil
}

type fakeRetrainer struct {
	calls   chan domain.DateRange
	outcome *ranking.RetrainOutcome
	err     error
}

func (f *fakeRetrainer) Retrain(_ context.Context, window domain.DateRange) (*ranking.RetrainOutcome, error) {
	f.calls <- window
	return f.outcome, f.err
}

func TestRetrainCheckJob_LaunchesRunOnDrift(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	key := domain.StrategyKey{Strategy: "growth", MarketCap: "large"}
	quiet := domain.StrategyKey{Strategy: "value", MarketCap: "mid"}

	drifted := &fakeRetrainer{
		calls:   make(chan domain.DateRange, 1),
		outcome: &ranking.RetrainOutcome{Accepted: true, RankIC: 0.11},
	}
	stable := &fakeRetrainer{calls: make(chan domain.DateRange, 1)}

	coordinator := training.NewCoordinator(log)
	job := NewRetrainCheckJob(
		&fakeMonitor{recommend: map[domain.StrategyKey]bool{key: true}},
		map[domain.StrategyKey]Retrainer{key: drifted, quiet: stable},
		coordinator,
		365,
		log,
	)

	require.NoError(t, job.Run())

	select {
	case window := <-drifted.calls:
		assert.InDelta(t, 365, window.End.Sub(window.Start).Hours()/24, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("drifted key never retrained")
	}
	select {
	case <-stable.calls:
		t.Fatal("stable key must not retrain")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRetrainCheckJob_ActiveRunSkipped(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	key := domain.StrategyKey{Strategy: "growth", MarketCap: "large"}

	retrainer := &fakeRetrainer{calls: make(chan domain.DateRange, 2), outcome: &ranking.RetrainOutcome{}}
	coordinator := training.NewCoordinator(log)

	// Occupy the key with a long-lived run.
	release := make(chan struct{})
	_, err := coordinator.Start(context.Background(), key, "policy", func(ctx context.Context, _ chan<- training.Progress) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.NoError(t, err)
	defer close(release)

	job := NewRetrainCheckJob(
		&fakeMonitor{recommend: map[domain.StrategyKey]bool{key: true}},
		map[domain.StrategyKey]Retrainer{key: retrainer},
		coordinator,
		365,
		log,
	)

	require.NoError(t, job.Run(), "an occupied key is skipped without error")
	select {
	case <-retrainer.calls:
		t.Fatal("retrain must not start while a run is active")
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeSource struct {
	accounts []AccountRebalance
	err      error
}

func (f *fakeSource) PendingRebalances(context.Context) ([]AccountRebalance, error) {
	return f.accounts, f.err
}

type fakeRebalancer struct {
	executed []string
	inWindow []bool
	err      error
}

func (f *fakeRebalancer) Execute(_ context.Context, accountID string, state domain.PortfolioState, _ domain.TargetPortfolio, _ map[string]float64, inWindow bool) (*rebalancing.ExecuteResult, error) {
	f.executed = append(f.executed, accountID)
	f.inWindow = append(f.inWindow, inWindow)
	if f.err != nil {
		return nil, f.err
	}
	return &rebalancing.ExecuteResult{NewState: state}, nil
}

func TestRebalanceWindowJob_ExecutesAllAccountsInWindow(t *testing.T) {
	source := &fakeSource{accounts: []AccountRebalance{
		{AccountID: "acct-1"},
		{AccountID: "acct-2"},
	}}
	rebalancer := &fakeRebalancer{}
	job := NewRebalanceWindowJob(source, rebalancer, logger.New(logger.Config{Level: "error"}))

	require.NoError(t, job.Run())

	assert.Equal(t, []string{"acct-1", "acct-2"}, rebalancer.executed)
	assert.Equal(t, []bool{true, true}, rebalancer.inWindow, "scheduled window treats SCHEDULED as actionable")
}

func TestPendingQueue_LastDeferralPerAccountWins(t *testing.T) {
	queue := NewPendingQueue()
	queue.Defer(AccountRebalance{AccountID: "acct-1", Prices: map[string]float64{"AAPL": 150}})
	queue.Defer(AccountRebalance{AccountID: "acct-2"})
	queue.Defer(AccountRebalance{AccountID: "acct-1", Prices: map[string]float64{"AAPL": 152}})
	require.Equal(t, 2, queue.Len())

	accounts, err := queue.PendingRebalances(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	for _, acct := range accounts {
		if acct.AccountID == "acct-1" {
			assert.Equal(t, 152.0, acct.Prices["AAPL"], "newer deferral replaces the older one")
		}
	}

	accounts, err = queue.PendingRebalances(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts, "drain empties the queue")
}

func TestRebalanceWindowJob_AccountFailureDoesNotStopWindow(t *testing.T) {
	source := &fakeSource{accounts: []AccountRebalance{
		{AccountID: "acct-1"},
		{AccountID: "acct-2"},
	}}
	rebalancer := &fakeRebalancer{err: errors.New("venue down")}
	job := NewRebalanceWindowJob(source, rebalancer, logger.New(logger.Config{Level: "error"}))

	require.NoError(t, job.Run())
	assert.Len(t, rebalancer.executed, 2)
}
