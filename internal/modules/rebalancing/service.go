package rebalancing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/config"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

// CycleState tracks one rebalance cycle through its lifecycle.
type CycleState string

const (
	StateEvaluate        CycleState = "EVALUATE"
	StateOrdersGenerated CycleState = "ORDERS_GENERATED"
	StateClosed          CycleState = "CLOSED"
)

// CycleResult is the full record of one rebalance cycle: the drift that
// was measured, the decision it produced, and the orders (if any) the
// decision generated.
type CycleResult struct {
	CycleID  string                  `json:"cycle_id"`
	State    CycleState              `json:"state"`
	Decision Decision                `json:"decision"`
	Drift    domain.DriftReport      `json:"drift"`
	Orders   []domain.RebalanceOrder `json:"orders,omitempty"`
}

// ExecuteResult extends a cycle with execution outcomes and the portfolio
// state after fills were applied.
type ExecuteResult struct {
	CycleResult
	Results  []domain.OrderResult  `json:"results,omitempty"`
	NewState domain.PortfolioState `json:"new_state"`
}

// Service runs rebalance cycles. Cycles for the same account serialize on
// a per-account mutex so concurrent requests cannot race duplicate order
// batches; different accounts proceed independently.
type Service struct {
	exec    domain.ExecutionClient
	profile *config.StrategyProfile
	log     zerolog.Logger

	mu       sync.Mutex
	accounts map[string]*sync.Mutex
}

// NewService creates a new rebalancing service.
func NewService(exec domain.ExecutionClient, profile *config.StrategyProfile, log zerolog.Logger) *Service {
	return &Service{
		exec:     exec,
		profile:  profile,
		log:      log.With().Str("service", "rebalancing").Logger(),
		accounts: make(map[string]*sync.Mutex),
	}
}

func (s *Service) accountLock(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.accounts[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.accounts[accountID] = lock
	}
	return lock
}

func (s *Service) thresholds() Thresholds {
	return Thresholds{
		Scheduled: s.profile.Rebalance.ScheduledThreshold,
		Immediate: s.profile.Rebalance.ImmediateThreshold,
	}
}

// Check runs the evaluation half of a cycle: drift, decision, and order
// generation for actionable decisions. No orders are submitted. When
// inWindow is true a SCHEDULED decision is treated as actionable (the
// caller is inside the eligible rebalance window); otherwise it defers.
func (s *Service) Check(accountID string, state domain.PortfolioState, target domain.TargetPortfolio, prices map[string]float64, inWindow bool) (*CycleResult, error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	return s.evaluate(accountID, state, target, prices, inWindow)
}

func (s *Service) evaluate(accountID string, state domain.PortfolioState, target domain.TargetPortfolio, prices map[string]float64, inWindow bool) (*CycleResult, error) {
	result := &CycleResult{
		CycleID: uuid.NewString(),
		State:   StateEvaluate,
		Drift:   ComputeDrift(state, target, prices, time.Now().UTC()),
	}
	result.Decision = Decide(result.Drift, s.thresholds())

	log := s.log.With().
		Str("account_id", accountID).
		Str("cycle_id", result.CycleID).
		Float64("aggregate_drift", result.Drift.AggregateDrift).
		Logger()

	actionable := result.Decision == Immediate || (result.Decision == Scheduled && inWindow)
	if !actionable {
		result.State = StateClosed
		log.Debug().Str("decision", string(result.Decision)).Msg("Rebalance cycle closed without orders")
		return result, nil
	}

	orders, err := GenerateOrders(state, target, prices)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rebalance orders: %w", err)
	}
	result.Orders = orders
	result.State = StateOrdersGenerated

	log.Info().
		Str("decision", string(result.Decision)).
		Int("orders", len(orders)).
		Msg("Rebalance orders generated")

	return result, nil
}

// Execute runs a full cycle: evaluate, generate, submit to the execution
// collaborator, and apply fills. A batch that does not fill completely is
// reported as an ExecutionPartialFailure alongside the state the fills
// actually produced; nothing is retried. The next cycle re-evaluates
// drift from that state.
func (s *Service) Execute(ctx context.Context, accountID string, state domain.PortfolioState, target domain.TargetPortfolio, prices map[string]float64, inWindow bool) (*ExecuteResult, error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	cycle, err := s.evaluate(accountID, state, target, prices, inWindow)
	if err != nil {
		return nil, err
	}

	result := &ExecuteResult{CycleResult: *cycle, NewState: state}
	if cycle.State != StateOrdersGenerated || len(cycle.Orders) == 0 {
		result.State = StateClosed
		return result, nil
	}

	results, err := s.exec.SubmitBatch(ctx, cycle.CycleID, cycle.Orders)
	if err != nil {
		return nil, fmt.Errorf("failed to submit order batch %s: %w", cycle.CycleID, err)
	}
	result.Results = results
	result.NewState = ApplyFills(state, results)
	result.State = StateClosed

	incomplete := 0
	for _, r := range results {
		if r.Status != domain.OrderFilled {
			incomplete++
		}
	}
	if incomplete > 0 {
		s.log.Warn().
			Str("account_id", accountID).
			Str("cycle_id", cycle.CycleID).
			Int("incomplete", incomplete).
			Msg("Order batch partially filled")
		return result, &domain.ExecutionPartialFailure{BatchID: cycle.CycleID, Results: results}
	}

	s.log.Info().
		Str("account_id", accountID).
		Str("cycle_id", cycle.CycleID).
		Int("orders", len(results)).
		Msg("Order batch fully executed")

	return result, nil
}
