package rebalancing

import (
	"math"
	"sort"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

// GenerateOrders converts the gap between current holdings and the target
// portfolio into an executable order batch:
//
//   - per-ticker share delta = round((target_weight - current_weight) ×
//     portfolio_value / price), whole shares, zero deltas emit nothing;
//   - all SELLs sequence before all BUYs so sold proceeds are available
//     when the buys execute, same-side ties ordered by ticker;
//   - total estimated BUY notional is capped at cash plus sequenced SELL
//     proceeds; an infeasible batch scales BUY quantities down
//     proportionally instead of failing.
//
// The function is pure over its inputs and idempotent: a portfolio already
// at target yields an empty batch. Tickers with no quoted price cannot be
// traded and emit no order; the next cycle re-evaluates them.
func GenerateOrders(state domain.PortfolioState, target domain.TargetPortfolio, prices map[string]float64) ([]domain.RebalanceOrder, error) {
	value := state.Value(prices)
	if value <= 0 {
		return nil, nil
	}
	current := state.Weights(prices)

	tickers := make(map[string]bool, len(current)+len(target.Weights))
	for t := range current {
		tickers[t] = true
	}
	for t := range target.Weights {
		tickers[t] = true
	}

	var sells, buys []domain.RebalanceOrder
	for ticker := range tickers {
		price, ok := prices[ticker]
		if !ok || price <= 0 {
			continue
		}

		delta := int64(math.Round((target.Weights[ticker] - current[ticker]) * value / price))
		if delta == 0 {
			continue
		}

		if delta < 0 {
			shares := -delta
			if held := state.Positions[ticker].Shares; shares > held {
				shares = held
			}
			if shares == 0 {
				continue
			}
			sells = append(sells, domain.RebalanceOrder{
				Ticker:         ticker,
				Action:         domain.ActionSell,
				Shares:         shares,
				EstimatedPrice: price,
			})
		} else {
			buys = append(buys, domain.RebalanceOrder{
				Ticker:         ticker,
				Action:         domain.ActionBuy,
				Shares:         delta,
				EstimatedPrice: price,
			})
		}
	}

	sort.Slice(sells, func(i, j int) bool { return sells[i].Ticker < sells[j].Ticker })
	sort.Slice(buys, func(i, j int) bool { return buys[i].Ticker < buys[j].Ticker })

	// Cash constraint: buys spend at most cash plus the sell proceeds
	// sequenced ahead of them.
	available := state.Cash
	for _, o := range sells {
		available += o.EstimatedValue()
	}
	totalBuy := 0.0
	for _, o := range buys {
		totalBuy += o.EstimatedValue()
	}
	if totalBuy > available {
		scale := available / totalBuy
		scaled := buys[:0]
		for _, o := range buys {
			o.Shares = int64(math.Floor(float64(o.Shares) * scale))
			if o.Shares > 0 {
				scaled = append(scaled, o)
			}
		}
		buys = scaled
	}

	orders := make([]domain.RebalanceOrder, 0, len(sells)+len(buys))
	orders = append(orders, sells...)
	orders = append(orders, buys...)
	for i := range orders {
		orders[i].SequenceIndex = i
	}

	if err := checkBatchInvariants(state, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// checkBatchInvariants verifies the emitted batch's contract: positive
// share counts, SELLs strictly before BUYs, no oversells, and the BUY
// notional within the post-SELL cash budget. A violation is a programming
// bug surfaced as a ConstraintViolation.
func checkBatchInvariants(state domain.PortfolioState, orders []domain.RebalanceOrder) error {
	available := state.Cash
	seenBuy := false

	for _, o := range orders {
		if o.Shares <= 0 {
			return &domain.ConstraintViolation{
				Invariant: "positive shares",
				Detail:    "order for " + o.Ticker + " has non-positive share count",
			}
		}
		switch o.Action {
		case domain.ActionSell:
			if seenBuy {
				return &domain.ConstraintViolation{
					Invariant: "sell before buy",
					Detail:    "SELL for " + o.Ticker + " sequenced after a BUY",
				}
			}
			if o.Shares > state.Positions[o.Ticker].Shares {
				return &domain.ConstraintViolation{
					Invariant: "no oversell",
					Detail:    "SELL for " + o.Ticker + " exceeds held shares",
				}
			}
			available += o.EstimatedValue()
		case domain.ActionBuy:
			seenBuy = true
			available -= o.EstimatedValue()
			if available < -1e-6 {
				return &domain.ConstraintViolation{
					Invariant: "cash constraint",
					Detail:    "BUY notional exceeds cash plus sequenced sell proceeds",
				}
			}
		}
	}
	return nil
}

// ApplyFills advances a portfolio state by an executed batch's results.
// Partial fills apply their filled quantity; failed orders leave the state
// untouched. The returned state is a new value; the input is not mutated.
func ApplyFills(state domain.PortfolioState, results []domain.OrderResult) domain.PortfolioState {
	next := state.Clone()

	for _, r := range results {
		if r.FillShares <= 0 {
			continue
		}
		pos := next.Positions[r.Order.Ticker]

		switch r.Order.Action {
		case domain.ActionBuy:
			cost := float64(r.FillShares) * r.FillPrice
			totalShares := pos.Shares + r.FillShares
			if totalShares > 0 {
				pos.CostBasis = (float64(pos.Shares)*pos.CostBasis + cost) / float64(totalShares)
			}
			pos.Shares = totalShares
			next.Cash -= cost
			next.Positions[r.Order.Ticker] = pos
		case domain.ActionSell:
			fill := r.FillShares
			if fill > pos.Shares {
				fill = pos.Shares
			}
			pos.Shares -= fill
			next.Cash += float64(fill) * r.FillPrice
			if pos.Shares == 0 {
				delete(next.Positions, r.Order.Ticker)
			} else {
				next.Positions[r.Order.Ticker] = pos
			}
		}
	}

	return next
}
