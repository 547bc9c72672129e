package order

import (
	"math"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// tickBand maps a price floor to the KRX tick size that applies from it.
// Bands change rarely; keeping them in one table routes every limit price
// through the same rule.
type tickBand struct {
	floor float64
	tick  float64
}

var krxTickBands = []tickBand{
	{500_000, 1000},
	{200_000, 500},
	{50_000, 100},
	{20_000, 50},
	{5_000, 10},
	{2_000, 5},
	{0, 1},
}

func tickSize(price float64) float64 {
	for _, b := range krxTickBands {
		if price >= b.floor {
			return b.tick
		}
	}
	return 1
}

// RoundToTick snaps a limit price onto a valid KRX tick. Buys round up and
// sells round down, so the rounded order stays competitive but valid.
// Idempotent: rounding a rounded price returns it unchanged. Crypto prices
// pass through untouched.
func RoundToTick(market domain.Market, price float64, side string) float64 {
	if market == domain.MarketCrypto || price <= 0 {
		return price
	}
	tick := tickSize(price)
	if side == "sell" {
		return math.Floor(price/tick) * tick
	}
	return math.Ceil(price/tick) * tick
}
