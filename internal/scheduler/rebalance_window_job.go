package scheduler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/rebalancing"
)

// AccountRebalance is everything one account needs for a rebalance cycle.
type AccountRebalance struct {
	AccountID string
	State     domain.PortfolioState
	Target    domain.TargetPortfolio
	Prices    map[string]float64
}

// PortfolioSource supplies the accounts eligible for the scheduled
// window, each with its current state, latest target and quotes.
type PortfolioSource interface {
	PendingRebalances(ctx context.Context) ([]AccountRebalance, error)
}

// Rebalancer executes one account's cycle inside the eligible window.
type Rebalancer interface {
	Execute(ctx context.Context, accountID string, state domain.PortfolioState, target domain.TargetPortfolio, prices map[string]float64, inWindow bool) (*rebalancing.ExecuteResult, error)
}

// RebalanceWindowJob runs the scheduled rebalance window: every eligible
// account gets one cycle with SCHEDULED decisions treated as actionable.
// Per-account failures are logged and do not stop the window.
type RebalanceWindowJob struct {
	source     PortfolioSource
	rebalancer Rebalancer
	log        zerolog.Logger
}

// NewRebalanceWindowJob creates the scheduled rebalance window job.
func NewRebalanceWindowJob(source PortfolioSource, rebalancer Rebalancer, log zerolog.Logger) *RebalanceWindowJob {
	return &RebalanceWindowJob{
		source:     source,
		rebalancer: rebalancer,
		log:        log.With().Str("job", "rebalance_window").Logger(),
	}
}

// Name returns the job name for the scheduler.
func (j *RebalanceWindowJob) Name() string {
	return "rebalance_window"
}

// Run executes one scheduled rebalance window.
func (j *RebalanceWindowJob) Run() error {
	ctx := context.Background()

	accounts, err := j.source.PendingRebalances(ctx)
	if err != nil {
		return err
	}

	executed := 0
	for _, acct := range accounts {
		result, err := j.rebalancer.Execute(ctx, acct.AccountID, acct.State, acct.Target, acct.Prices, true)

		var partial *domain.ExecutionPartialFailure
		switch {
		case errors.As(err, &partial):
			j.log.Warn().
				Str("account_id", acct.AccountID).
				Str("batch_id", partial.BatchID).
				Msg("Scheduled rebalance partially filled")
			executed++
		case err != nil:
			j.log.Error().Err(err).Str("account_id", acct.AccountID).Msg("Scheduled rebalance failed")
		case len(result.Orders) > 0:
			executed++
		}
	}

	j.log.Info().
		Int("accounts", len(accounts)).
		Int("executed", executed).
		Msg("Scheduled rebalance window completed")

	return nil
}
