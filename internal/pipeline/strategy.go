package pipeline

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// strategy supplies the per-domain knobs: which second analysis runs
// (fundamental for stocks, market for crypto), the stop/take-profit bases,
// the risk-score parameters and the quantity arithmetic.
type strategy interface {
	Market() domain.Market
	SecondAgent() domain.AgentKind
	// StopTakeProfit returns (stopLossPct, takeProfitPct) for a risk score
	// in [0, 1]; both grow with risk.
	StopTakeProfit(riskScore float64) (float64, float64)
	// RiskBase and ChangeDivisor parameterize the risk-score formula.
	RiskBase() float64
	ChangeDivisor() float64
	// BuyQuantity converts a KRW budget at a price into an orderable
	// quantity: whole shares for stocks, fractional units for crypto.
	BuyQuantity(budget, price float64) float64
	// ReduceQuantity returns the quantity sold for a half reduce.
	ReduceQuantity(held float64) float64
}

type stockStrategy struct{}

func (stockStrategy) Market() domain.Market         { return domain.MarketStock }
func (stockStrategy) SecondAgent() domain.AgentKind { return domain.AgentFundamental }
func (stockStrategy) RiskBase() float64             { return 0.3 }
func (stockStrategy) ChangeDivisor() float64        { return 15 }

func (stockStrategy) StopTakeProfit(riskScore float64) (float64, float64) {
	return 5 * (1 + riskScore), 8 * (1 + riskScore)
}

func (stockStrategy) BuyQuantity(budget, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return math.Floor(budget / price)
}

func (stockStrategy) ReduceQuantity(held float64) float64 {
	return math.Max(1, math.Floor(held/2))
}

type cryptoStrategy struct{}

func (cryptoStrategy) Market() domain.Market         { return domain.MarketCrypto }
func (cryptoStrategy) SecondAgent() domain.AgentKind { return domain.AgentMarket }
func (cryptoStrategy) RiskBase() float64             { return 0.4 }
func (cryptoStrategy) ChangeDivisor() float64        { return 20 }

func (cryptoStrategy) StopTakeProfit(riskScore float64) (float64, float64) {
	return 8 * (1 + riskScore), 12 * (1 + riskScore)
}

func (cryptoStrategy) BuyQuantity(budget, price float64) float64 {
	if price <= 0 {
		return 0
	}
	// Exchanges accept 8 decimal places; truncate, never round up past the
	// budget.
	q := decimal.NewFromFloat(budget).Div(decimal.NewFromFloat(price)).Truncate(8)
	f, _ := q.Float64()
	return f
}

func (cryptoStrategy) ReduceQuantity(held float64) float64 {
	q := decimal.NewFromFloat(held).Div(decimal.NewFromInt(2)).Truncate(8)
	f, _ := q.Float64()
	return f
}

func strategyFor(market domain.Market) strategy {
	if market == domain.MarketCrypto {
		return cryptoStrategy{}
	}
	return stockStrategy{}
}
