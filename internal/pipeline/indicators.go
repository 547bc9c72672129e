package pipeline

import (
	"math"

	talib "github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

const (
	rsiPeriod     = 14
	smaShort      = 5
	smaLong       = 20
	tradingDaysYr = 252
)

// indicatorSet holds the numeric inputs every scoring table reads. All
// fields are computed once during data collection; zero values mean "not
// enough history".
type indicatorSet struct {
	RSI         float64
	SMAShort    float64
	SMALong     float64
	GoldenCross bool
	DeadCross   bool
	Bullish     bool
	Bearish     bool
	VolumeRatio float64 // Last volume over its long SMA
	BidAskRatio float64
	Volatility  float64 // Annualized stddev of daily log returns
	ChangePct   float64
	Price       float64
}

func (in indicatorSet) asMap() map[string]float64 {
	m := map[string]float64{
		"rsi":           in.RSI,
		"sma_short":     in.SMAShort,
		"sma_long":      in.SMALong,
		"volume_ratio":  in.VolumeRatio,
		"bid_ask_ratio": in.BidAskRatio,
		"volatility":    in.Volatility,
		"change_pct":    in.ChangePct,
		"price":         in.Price,
	}
	if in.GoldenCross {
		m["golden_cross"] = 1
	}
	if in.DeadCross {
		m["dead_cross"] = 1
	}
	return m
}

// computeIndicators derives the indicator set from oldest-first candles plus
// the live quote and book.
func computeIndicators(closes, volumes []float64, price, changePct, bidAskRatio float64) indicatorSet {
	in := indicatorSet{
		Price:       price,
		ChangePct:   changePct,
		BidAskRatio: bidAskRatio,
		VolumeRatio: 1,
	}

	if len(closes) > rsiPeriod {
		rsi := talib.Rsi(closes, rsiPeriod)
		in.RSI = rsi[len(rsi)-1]
	}

	if len(closes) >= smaLong+1 {
		short := talib.Sma(closes, smaShort)
		long := talib.Sma(closes, smaLong)
		last, prev := len(closes)-1, len(closes)-2

		in.SMAShort = short[last]
		in.SMALong = long[last]
		in.GoldenCross = short[prev] <= long[prev] && short[last] > long[last]
		in.DeadCross = short[prev] >= long[prev] && short[last] < long[last]
		in.Bullish = short[last] > long[last] && price > long[last]
		in.Bearish = short[last] < long[last] && price < long[last]
	}

	if len(volumes) >= smaLong {
		volSMA := talib.Sma(volumes, smaLong)
		if avg := volSMA[len(volSMA)-1]; avg > 0 {
			in.VolumeRatio = volumes[len(volumes)-1] / avg
		}
	}

	in.Volatility = annualizedVolatility(closes)
	return in
}

// annualizedVolatility is the stddev of daily log returns scaled to a year.
func annualizedVolatility(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(tradingDaysYr)
}
