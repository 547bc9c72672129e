package portfolio

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

func defaultAgent() *Agent {
	return New(Config{
		MaxSinglePositionPct: 0.15,
		MinCashRatio:         0.20,
		MaxTotalStockPct:     0.80,
	}, zerolog.Nop())
}

func freshAccount(equity float64) domain.AccountSnapshot {
	return domain.AccountSnapshot{TotalEquity: equity, AvailableCash: equity}
}

func TestFreshBuyAllocation(t *testing.T) {
	// Equity 10M, no positions, entry 50,000, low risk: the cap is the
	// single-position limit 15% = 1.5M → 30 shares.
	a := defaultAgent()
	plan := a.CalculateAllocation(Request{
		AssetID: "A", Market: domain.MarketStock, Side: "buy",
		EntryPrice: 50_000, RiskScore: 3,
		Account: freshAccount(10_000_000),
	})
	assert.Equal(t, 30.0, plan.Quantity)
	assert.Equal(t, 1_500_000.0, plan.EstimatedAmount)
	assert.InDelta(t, 15.0, plan.PositionPct, 1e-9)
	assert.Empty(t, plan.Rebalance)
}

func TestProposalSizeTargetBindsBelowRiskCap(t *testing.T) {
	// Equity 10M, entry 50,000, low risk, proposal targets 10% of equity:
	// the 1M target binds below the 1.5M single-position cap → 20 shares.
	a := defaultAgent()
	plan := a.CalculateAllocation(Request{
		AssetID: "A", Market: domain.MarketStock, Side: "buy",
		EntryPrice: 50_000, RiskScore: 3, PositionSizePct: 10,
		Account: freshAccount(10_000_000),
	})
	assert.Equal(t, 20.0, plan.Quantity)
	assert.Equal(t, 1_000_000.0, plan.EstimatedAmount)
	assert.InDelta(t, 10.0, plan.PositionPct, 1e-9)

	// A target above the risk cap does not widen it.
	plan = a.CalculateAllocation(Request{
		AssetID: "A", Market: domain.MarketStock, Side: "buy",
		EntryPrice: 50_000, RiskScore: 3, PositionSizePct: 40,
		Account: freshAccount(10_000_000),
	})
	assert.Equal(t, 30.0, plan.Quantity, "15% single-position cap still binds")
}

func TestRiskFactorShrinksCap(t *testing.T) {
	a := defaultAgent()
	base := Request{
		AssetID: "A", Market: domain.MarketStock, Side: "buy",
		EntryPrice: 50_000, Account: freshAccount(10_000_000),
	}

	base.RiskScore = 3
	assert.Equal(t, 30.0, a.CalculateAllocation(base).Quantity)

	base.RiskScore = 5 // factor 0.7 → 1.05M → 21 shares
	assert.Equal(t, 21.0, a.CalculateAllocation(base).Quantity)

	base.RiskScore = 8 // factor 0.5 → 750k → 15 shares
	assert.Equal(t, 15.0, a.CalculateAllocation(base).Quantity)
}

func TestCashFloorBlocksBuy(t *testing.T) {
	a := defaultAgent()
	// All cash is inside the 20% floor.
	plan := a.CalculateAllocation(Request{
		AssetID: "A", Market: domain.MarketStock, Side: "buy", EntryPrice: 50_000,
		Account: domain.AccountSnapshot{TotalEquity: 10_000_000, AvailableCash: 1_500_000},
	})
	assert.Zero(t, plan.Quantity)
	assert.NotEmpty(t, plan.Rationale)
}

func TestExistingPositionAtCapBlocksAdd(t *testing.T) {
	a := defaultAgent()
	held := []*domain.Position{{
		AssetID: "A", Market: domain.MarketStock,
		Quantity: 30, AvgCost: 50_000, CurrentPrice: 50_000,
	}}
	plan := a.CalculateAllocation(Request{
		AssetID: "A", Market: domain.MarketStock, Side: "buy",
		EntryPrice: 50_000, RiskScore: 3,
		Account:   domain.AccountSnapshot{TotalEquity: 10_000_000, AvailableCash: 8_500_000},
		Positions: held,
	})
	assert.Zero(t, plan.Quantity, "1.5M held equals the 15% cap")
	assert.Contains(t, plan.Rationale, "cap")
}

func TestHeldAtLossAddsUpToCap(t *testing.T) {
	// Scenario: held at avg 60,000, now 50,000 (-16.7%). Buy consensus adds
	// up to the risk-adjusted cap minus the current market value.
	a := defaultAgent()
	held := []*domain.Position{{
		AssetID: "B", Market: domain.MarketStock,
		Quantity: 10, AvgCost: 60_000, CurrentPrice: 50_000,
	}}
	plan := a.CalculateAllocation(Request{
		AssetID: "B", Market: domain.MarketStock, Side: "buy",
		EntryPrice: 50_000, RiskScore: 3,
		Account:   domain.AccountSnapshot{TotalEquity: 10_000_000, AvailableCash: 9_500_000},
		Positions: held,
	})
	// Cap 1.5M − held 500k = 1M → 20 shares.
	assert.Equal(t, 20.0, plan.Quantity)
}

func TestTotalStockCapTriggersRebalance(t *testing.T) {
	a := New(Config{MaxSinglePositionPct: 0.15, MinCashRatio: 0.20, MaxTotalStockPct: 0.70}, zerolog.Nop())
	positions := []*domain.Position{
		{AssetID: "LOSER", Market: domain.MarketStock, Quantity: 100, AvgCost: 40_000, CurrentPrice: 35_000},
		{AssetID: "WINNER", Market: domain.MarketStock, Quantity: 70, AvgCost: 30_000, CurrentPrice: 50_000},
	}
	// Stock 7M of 10M equity sits at the 70% cap. Cash allows a 1M buy
	// (14 × 70,000 = 980k), projecting 7.98M: the 980k excess must come out
	// of the worst performer before the buy.
	plan := a.CalculateAllocation(Request{
		AssetID: "NEW", Market: domain.MarketStock, Side: "buy",
		EntryPrice: 70_000, RiskScore: 3,
		Account:   domain.AccountSnapshot{TotalEquity: 10_000_000, AvailableCash: 3_000_000},
		Positions: positions,
	})
	assert.Equal(t, 14.0, plan.Quantity)
	require.NotEmpty(t, plan.Rebalance)
	assert.Equal(t, "LOSER", plan.Rebalance[0].AssetID, "worst P&L sells first")
	assert.Equal(t, 28.0, plan.Rebalance[0].Quantity, "980k excess at 35,000 a share")

	// Post-trade invariant: stock total stays at or under the cap.
	total := 7_000_000.0 + plan.EstimatedAmount
	for _, o := range plan.Rebalance {
		total -= o.Quantity * o.Price
	}
	assert.LessOrEqual(t, total, 10_000_000.0*0.70)
}

func TestSellPlanIsFullPosition(t *testing.T) {
	a := defaultAgent()
	held := []*domain.Position{{AssetID: "A", Market: domain.MarketStock, Quantity: 25, AvgCost: 50_000, CurrentPrice: 52_000}}

	plan := a.CalculateAllocation(Request{
		AssetID: "A", Side: "sell", EntryPrice: 52_000,
		Account: freshAccount(10_000_000), Positions: held,
	})
	assert.Equal(t, 25.0, plan.Quantity)

	plan = a.CalculateAllocation(Request{AssetID: "MISSING", Side: "sell", EntryPrice: 52_000,
		Account: freshAccount(10_000_000)})
	assert.Zero(t, plan.Quantity)
}

func TestSuggestRebalancingToleranceBand(t *testing.T) {
	a := defaultAgent()
	account := freshAccount(10_000_000)

	// 16% weight is inside the 15% × 1.1 = 16.5% band: no trim.
	inside := []*domain.Position{{AssetID: "A", Market: domain.MarketStock, Quantity: 32, AvgCost: 50_000, CurrentPrice: 50_000}}
	assert.Empty(t, a.SuggestRebalancing(account, inside))

	// 20% weight exceeds the band: trim back to the 15% cap.
	outside := []*domain.Position{{AssetID: "A", Market: domain.MarketStock, Quantity: 40, AvgCost: 50_000, CurrentPrice: 50_000}}
	orders := a.SuggestRebalancing(account, outside)
	require.Len(t, orders, 1)
	// Excess (20% − 15%) × 10M = 500k → 10 shares.
	assert.Equal(t, 10.0, orders[0].Quantity)
}

func TestRiskFactorBoundaries(t *testing.T) {
	assert.Equal(t, 1.0, riskFactor(0))
	assert.Equal(t, 1.0, riskFactor(3))
	assert.Equal(t, 0.7, riskFactor(4))
	assert.Equal(t, 0.7, riskFactor(6))
	assert.Equal(t, 0.5, riskFactor(7))
	assert.Equal(t, 0.5, riskFactor(10))
}
