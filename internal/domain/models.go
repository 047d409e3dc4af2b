// Package domain contains the pure core types and collaborator contracts of
// the decision engine. Nothing in this package touches infrastructure: no
// database handles, no HTTP, no logging. Modules depend on domain, never the
// other way around.
package domain

import "time"

// FeatureSnapshot is one row of the materialized feature view: a fixed-width
// numeric feature vector for a (ticker, date) pair, plus the forward return
// label used only at training time. Immutable once produced.
type FeatureSnapshot struct {
	Ticker       string    `json:"ticker"`
	Date         time.Time `json:"date"`
	Features     []float64 `json:"features"`
	FeatureNames []string  `json:"feature_names,omitempty"`
	TargetReturn *float64  `json:"target_return,omitempty"` // Nil outside of training windows
	Price        float64   `json:"price"`
	Volume       int64     `json:"volume"`
}

// HasCompleteFeatures reports whether the feature vector has the expected
// width and contains no NaN/Inf entries. Rows failing this check are
// excluded from scoring, never errored.
func (s FeatureSnapshot) HasCompleteFeatures(width int) bool {
	if len(s.Features) != width {
		return false
	}
	for _, f := range s.Features {
		if f != f || f > maxFinite || f < -maxFinite {
			return false
		}
	}
	return true
}

const maxFinite = 1.7976931348623157e308

// CandidateScore is the ranking model's output for one ticker on one date.
// Scores are ephemeral: derived during an inference call and not persisted
// beyond it. Ranks are strictly ordered by predicted return descending,
// ties broken by ticker lexical order.
type CandidateScore struct {
	Ticker          string    `json:"ticker"`
	Date            time.Time `json:"date"`
	PredictedReturn float64   `json:"predicted_return"`
	Rank            int       `json:"rank"`
}

// Position is a single holding inside a PortfolioState.
type Position struct {
	Shares    int64   `json:"shares"`
	CostBasis float64 `json:"cost_basis"`
}

// PortfolioState is the current holdings and cash of one account. It is
// owned by the account/session requesting a rebalance and mutated only by
// applying an executed order batch.
type PortfolioState struct {
	AsOf      time.Time           `json:"as_of"`
	Positions map[string]Position `json:"positions"`
	Cash      float64             `json:"cash"`
}

// Value returns the total portfolio value (positions at the supplied prices
// plus cash). Tickers with no price contribute nothing.
func (p PortfolioState) Value(prices map[string]float64) float64 {
	total := p.Cash
	for ticker, pos := range p.Positions {
		if price, ok := prices[ticker]; ok {
			total += float64(pos.Shares) * price
		}
	}
	return total
}

// Weights converts the portfolio to ticker weights at the supplied prices.
// Returns nil when the portfolio has no value.
func (p PortfolioState) Weights(prices map[string]float64) map[string]float64 {
	total := p.Value(prices)
	if total <= 0 {
		return nil
	}

	weights := make(map[string]float64, len(p.Positions))
	for ticker, pos := range p.Positions {
		if price, ok := prices[ticker]; ok {
			weights[ticker] = float64(pos.Shares) * price / total
		}
	}
	return weights
}

// Clone returns a deep copy. Rebalance cycles work on copies so concurrent
// requests for different accounts never share mutable state.
func (p PortfolioState) Clone() PortfolioState {
	positions := make(map[string]Position, len(p.Positions))
	for k, v := range p.Positions {
		positions[k] = v
	}
	return PortfolioState{AsOf: p.AsOf, Positions: positions, Cash: p.Cash}
}

// TargetPortfolio is the allocation policy's output: desired weights over
// the shortlist plus the residual cash weight. Invariant: the weights plus
// ResidualCashWeight sum to 1 within epsilon, every weight respects the
// configured per-position bounds, and the number of non-zero weights does
// not exceed the configured maximum.
type TargetPortfolio struct {
	AsOf               time.Time          `json:"as_of"`
	Weights            map[string]float64 `json:"weights"`
	ResidualCashWeight float64            `json:"residual_cash_weight"`
}

// RewardComponents breaks a simulated step's reward into its competing
// objectives. Produced once per step, consumed by the training loop only.
type RewardComponents struct {
	SharpeDelta          float64 `json:"sharpe_delta"`
	TurnoverPenalty      float64 `json:"turnover_penalty"`
	DrawdownPenalty      float64 `json:"drawdown_penalty"`
	DiversificationBonus float64 `json:"diversification_bonus"`
}

// Total combines the components into the scalar training reward.
func (r RewardComponents) Total() float64 {
	return r.SharpeDelta - r.TurnoverPenalty - r.DrawdownPenalty + r.DiversificationBonus
}

// DriftReport is the per-cycle comparison of current holdings against the
// target portfolio. Recomputed on every rebalance check; never persisted
// independently of the decision it informed.
type DriftReport struct {
	AsOf           time.Time          `json:"as_of"`
	PerTickerDrift map[string]float64 `json:"per_ticker_drift"` // Signed weight deviation (current - target)
	AggregateDrift float64            `json:"aggregate_drift"`  // Sum of absolute deviations / 2
}

// OrderAction is the direction of a rebalance order.
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// RebalanceOrder is one executable instruction in an order batch. Orders
// are never mutated once emitted; a failed execution produces a new order
// on the next cycle, not a retry of the same object.
type RebalanceOrder struct {
	Ticker         string      `json:"ticker"`
	Action         OrderAction `json:"action"`
	Shares         int64       `json:"shares"` // Always non-negative; direction carried by Action
	EstimatedPrice float64     `json:"estimated_price"`
	SequenceIndex  int         `json:"sequence_index"` // SELLs sequence before BUYs
}

// EstimatedValue returns the order's notional at the estimated price.
func (o RebalanceOrder) EstimatedValue() float64 {
	return float64(o.Shares) * o.EstimatedPrice
}

// OrderStatus is the execution collaborator's verdict on one order.
type OrderStatus string

const (
	OrderFilled  OrderStatus = "FILLED"
	OrderPartial OrderStatus = "PARTIAL"
	OrderFailed  OrderStatus = "FAILED"
)

// OrderResult reports the outcome of a submitted order. The engine only
// records outcomes; it never retries failed orders itself.
type OrderResult struct {
	Order      RebalanceOrder `json:"order"`
	Status     OrderStatus    `json:"status"`
	FillPrice  float64        `json:"fill_price"`
	FillShares int64          `json:"fill_shares"`
}

// DateRange is a half-open [Start, End) window of trading dates.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// StrategyKey identifies one strategy/market-cap combination. Each key owns
// its own configuration profile, model versions and training slot.
type StrategyKey struct {
	Strategy  string `json:"strategy"`   // growth, value, dividend
	MarketCap string `json:"market_cap"` // large, mid, small
}

// String renders the key in its canonical "strategy/market_cap" form.
func (k StrategyKey) String() string {
	return k.Strategy + "/" + k.MarketCap
}
