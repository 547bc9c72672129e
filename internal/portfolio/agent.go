// Package portfolio sizes trades against the account. The agent is a pure
// function over a snapshot of account, positions and the proposed trade; it
// never issues orders itself.
package portfolio

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// rebalanceTolerance lets positions drift 10% over the single-position cap
// before a trim is suggested.
const rebalanceTolerance = 1.1

// Config carries the allocation limits.
type Config struct {
	MaxSinglePositionPct float64 // Max share of equity in one position
	MinCashRatio         float64 // Cash floor never allocated
	MaxTotalStockPct     float64 // Max share of equity across all positions
}

// RebalanceOrder is a sell of an existing position that must execute before
// the primary buy.
type RebalanceOrder struct {
	AssetID  string  `json:"asset_id"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Reason   string  `json:"reason"`
}

// AllocationPlan is the sized, executable version of a proposal.
type AllocationPlan struct {
	AssetID         string           `json:"asset_id"`
	Side            string           `json:"side"`
	Quantity        float64          `json:"quantity"` // Always >= 0
	EstimatedAmount float64          `json:"estimated_amount"`
	PositionPct     float64          `json:"position_pct"` // Share of equity
	StopLoss        float64          `json:"stop_loss,omitempty"`
	TakeProfit      float64          `json:"take_profit,omitempty"`
	Rationale       string           `json:"rationale"`
	Rebalance       []RebalanceOrder `json:"rebalance,omitempty"`
}

// Request is the input snapshot for one allocation.
type Request struct {
	AssetID         string
	Market          domain.Market
	Side            string // "buy" or "sell"
	EntryPrice      float64
	RiskScore       float64 // [0, 10]
	PositionSizePct float64 // Equity share the proposal targets, percent; 0 means no target
	StopLoss        float64
	TakeProfit      float64
	Account         domain.AccountSnapshot
	Positions       []*domain.Position
}

// Agent computes allocations.
type Agent struct {
	cfg Config
	log zerolog.Logger
}

// New creates a portfolio agent.
func New(cfg Config, log zerolog.Logger) *Agent {
	return &Agent{cfg: cfg, log: log.With().Str("component", "portfolio").Logger()}
}

// riskFactor scales the single-position cap down as risk grows.
func riskFactor(riskScore float64) float64 {
	switch {
	case riskScore <= 3:
		return 1.0
	case riskScore <= 6:
		return 0.7
	default:
		return 0.5
	}
}

// CalculateAllocation sizes the trade. A zero-quantity plan with a
// diagnostic rationale is a normal outcome, not an error.
func (a *Agent) CalculateAllocation(req Request) *AllocationPlan {
	if req.Side == "sell" {
		return a.sellPlan(req)
	}
	return a.buyPlan(req)
}

func (a *Agent) sellPlan(req Request) *AllocationPlan {
	plan := &AllocationPlan{AssetID: req.AssetID, Side: "sell", Rationale: "no position to sell"}
	for _, p := range req.Positions {
		if p.AssetID == req.AssetID {
			plan.Quantity = p.Quantity
			plan.EstimatedAmount = p.Quantity * req.EntryPrice
			if req.Account.TotalEquity > 0 {
				plan.PositionPct = plan.EstimatedAmount / req.Account.TotalEquity * 100
			}
			plan.Rationale = fmt.Sprintf("selling full position of %.8g units", p.Quantity)
			return plan
		}
	}
	return plan
}

func (a *Agent) buyPlan(req Request) *AllocationPlan {
	plan := &AllocationPlan{
		AssetID:    req.AssetID,
		Side:       "buy",
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}
	equity := req.Account.TotalEquity
	if equity <= 0 || req.EntryPrice <= 0 {
		plan.Rationale = "no equity or invalid entry price"
		return plan
	}

	stockValue := 0.0
	var existing *domain.Position
	for _, p := range req.Positions {
		stockValue += p.MarketValue()
		if p.AssetID == req.AssetID {
			existing = p
		}
	}

	availableForTrade := req.Account.AvailableCash - equity*a.cfg.MinCashRatio
	if availableForTrade <= 0 {
		plan.Rationale = fmt.Sprintf(
			"no room to buy: cash %.0f is inside the %.0f%% floor",
			req.Account.AvailableCash, a.cfg.MinCashRatio*100)
		return plan
	}

	maxPositionValue := equity * a.cfg.MaxSinglePositionPct * riskFactor(req.RiskScore)
	if existing != nil {
		maxPositionValue -= existing.MarketValue()
		if maxPositionValue <= 0 {
			plan.Rationale = fmt.Sprintf(
				"position already at risk-adjusted cap (%.0f held)", existing.MarketValue())
			return plan
		}
	}

	positionValue := math.Min(availableForTrade, maxPositionValue)
	// The proposal's sizing target binds too; the risk limits only ever
	// shrink it.
	if req.PositionSizePct > 0 {
		positionValue = math.Min(positionValue, equity*req.PositionSizePct/100)
	}
	quantity := buyQuantity(req.Market, positionValue, req.EntryPrice)
	if quantity <= 0 {
		plan.Rationale = fmt.Sprintf("budget %.0f below one unit at %.0f", positionValue, req.EntryPrice)
		return plan
	}

	// If the projected stock total breaches the cap, trim the worst
	// performers first to make room; whatever trimming cannot cover comes
	// out of the new buy so the cap holds after execution.
	projected := stockValue + quantity*req.EntryPrice
	if excess := projected - equity*a.cfg.MaxTotalStockPct; excess > 0 {
		plan.Rebalance = trimWorstFirst(req.Positions, req.AssetID, excess)
		trimmed := 0.0
		for _, o := range plan.Rebalance {
			trimmed += o.Quantity * o.Price
		}
		if shortfall := excess - trimmed; shortfall > 0 {
			quantity = buyQuantity(req.Market, quantity*req.EntryPrice-shortfall, req.EntryPrice)
			if quantity <= 0 {
				plan.Rebalance = nil
				plan.Rationale = "total stock cap reached and nothing to trim"
				return plan
			}
		}
	}

	plan.Quantity = quantity
	plan.EstimatedAmount = quantity * req.EntryPrice
	plan.PositionPct = plan.EstimatedAmount / equity * 100
	plan.Rationale = fmt.Sprintf("allocating %.0f (%.1f%% of equity, risk factor %.1f)",
		plan.EstimatedAmount, plan.PositionPct, riskFactor(req.RiskScore))
	return plan
}

// trimWorstFirst ranks positions by unrealized P&L ascending and produces
// partial sells covering the excess.
func trimWorstFirst(positions []*domain.Position, skipAsset string, excess float64) []RebalanceOrder {
	ranked := make([]*domain.Position, 0, len(positions))
	for _, p := range positions {
		if p.AssetID != skipAsset && p.CurrentPrice > 0 {
			ranked = append(ranked, p)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].UnrealizedPLPct() < ranked[j].UnrealizedPLPct()
	})

	var orders []RebalanceOrder
	remaining := excess
	for _, p := range ranked {
		if remaining <= 0 {
			break
		}
		sellValue := math.Min(remaining, p.MarketValue())
		qty := sellQuantity(p.Market, sellValue, p.CurrentPrice, p.Quantity)
		if qty <= 0 {
			continue
		}
		orders = append(orders, RebalanceOrder{
			AssetID:  p.AssetID,
			Quantity: qty,
			Price:    p.CurrentPrice,
			Reason:   fmt.Sprintf("freeing %.0f for new position (P&L %+.1f%%)", qty*p.CurrentPrice, p.UnrealizedPLPct()),
		})
		remaining -= qty * p.CurrentPrice
	}
	return orders
}

// SuggestRebalancing trims every position whose weight exceeds the
// single-position cap by more than the tolerance band.
func (a *Agent) SuggestRebalancing(account domain.AccountSnapshot, positions []*domain.Position) []RebalanceOrder {
	equity := account.TotalEquity
	if equity <= 0 {
		return nil
	}
	limit := a.cfg.MaxSinglePositionPct * rebalanceTolerance

	var orders []RebalanceOrder
	for _, p := range positions {
		weight := p.MarketValue() / equity
		if weight <= limit || p.CurrentPrice <= 0 {
			continue
		}
		excessValue := (weight - a.cfg.MaxSinglePositionPct) * equity
		qty := sellQuantity(p.Market, excessValue, p.CurrentPrice, p.Quantity)
		if qty <= 0 {
			continue
		}
		orders = append(orders, RebalanceOrder{
			AssetID:  p.AssetID,
			Quantity: qty,
			Price:    p.CurrentPrice,
			Reason:   fmt.Sprintf("weight %.1f%% exceeds cap %.1f%%", weight*100, a.cfg.MaxSinglePositionPct*100),
		})
	}
	return orders
}

func buyQuantity(market domain.Market, budget, price float64) float64 {
	if market == domain.MarketCrypto {
		return math.Trunc(budget/price*1e8) / 1e8
	}
	return math.Floor(budget / price)
}

func sellQuantity(market domain.Market, value, price, held float64) float64 {
	var qty float64
	if market == domain.MarketCrypto {
		qty = math.Trunc(value/price*1e8) / 1e8
	} else {
		qty = math.Ceil(value / price)
	}
	return math.Min(qty, held)
}
