package pipeline

import (
	"math"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

const (
	confidenceFloor = 0.30
	confidenceCeil  = 0.95
)

func clampConfidence(c float64) float64 {
	return math.Min(confidenceCeil, math.Max(confidenceFloor, c))
}

// detectedSignal is an indicator-derived observation used to fine-tune the
// base technical signal. Strength is 2 for strong, 1 for weak; direction +1
// bullish, -1 bearish.
type detectedSignal struct {
	Name      string
	Strength  int
	Direction int
}

// technicalScore accumulates the canonical integer score over the indicator
// set and returns the score plus the detected-signal list.
func technicalScore(in indicatorSet) (int, []detectedSignal) {
	score := 0
	var detected []detectedSignal
	note := func(name string, strength, direction int) {
		detected = append(detected, detectedSignal{Name: name, Strength: strength, Direction: direction})
	}

	switch {
	case in.RSI > 0 && in.RSI < 30:
		score += 2
		note("rsi_oversold", 2, +1)
	case in.RSI > 0 && in.RSI < 40:
		score++
		note("rsi_low", 1, +1)
	case in.RSI > 70:
		score -= 2
		note("rsi_overbought", 2, -1)
	case in.RSI > 60:
		score--
		note("rsi_high", 1, -1)
	}

	if in.Bullish {
		score++
		note("uptrend", 1, +1)
	} else if in.Bearish {
		score--
		note("downtrend", 1, -1)
	}

	if in.GoldenCross {
		score += 2
		note("golden_cross", 2, +1)
	} else if in.DeadCross {
		score -= 2
		note("dead_cross", 2, -1)
	}

	if in.BidAskRatio > 1.3 {
		score++
		note("bid_pressure", 1, +1)
	} else if in.BidAskRatio > 0 && in.BidAskRatio < 0.7 {
		score--
		note("ask_pressure", 1, -1)
	}

	if in.VolumeRatio > 2 {
		score++
		note("volume_surge", 1, +1)
	}

	return score, detected
}

// scoreToSignal maps an integer score onto the signal scale.
func scoreToSignal(score int) domain.Signal {
	switch {
	case score >= 4:
		return domain.SignalStrongBuy
	case score >= 2:
		return domain.SignalBuy
	case score <= -4:
		return domain.SignalStrongSell
	case score <= -2:
		return domain.SignalSell
	default:
		return domain.SignalHold
	}
}

// adjustSignal applies the detected-signal list to the base signal. Agreeing
// strong evidence upgrades one notch; disagreeing evidence never flips the
// direction, it downgrades to hold.
func adjustSignal(base domain.Signal, detected []detectedSignal) domain.Signal {
	bull, bear := 0, 0
	for _, d := range detected {
		if d.Direction > 0 {
			bull += d.Strength
		} else {
			bear += d.Strength
		}
	}

	switch {
	case base == domain.SignalBuy || base == domain.SignalStrongBuy:
		if bear > bull {
			return domain.SignalHold
		}
		if base == domain.SignalBuy && bull-bear >= 4 {
			return domain.SignalStrongBuy
		}
	case base == domain.SignalSell || base == domain.SignalStrongSell:
		if bull > bear {
			return domain.SignalHold
		}
		if base == domain.SignalSell && bear-bull >= 4 {
			return domain.SignalStrongSell
		}
	}
	return base
}

// technicalConfidence grows with the magnitude of the evidence.
func technicalConfidence(score int) float64 {
	return math.Min(0.9, 0.5+0.05*math.Abs(float64(score)))
}

// fundamentalScore implements the valuation table for stocks. Returns the
// score and how many data points were available.
func fundamentalScore(per, pbr, eps float64) (float64, int) {
	score := 0.0
	points := 0

	if per > 0 {
		points++
		switch {
		case per < 8:
			score += 2.5
		case per < 10:
			score += 2
		case per < 15:
			score++
		case per > 50:
			score -= 2
		case per > 30:
			score--
		}
	}

	if pbr > 0 {
		points++
		switch {
		case pbr < 0.5:
			score += 2
		case pbr < 0.7:
			score += 1.5
		case pbr < 1:
			score += 0.5
		case pbr > 5:
			score -= 2
		case pbr > 3:
			score--
		}
	}

	if eps != 0 {
		points++
		if eps > 0 {
			score += 0.5
		} else {
			score--
		}
	}

	return score, points
}

// fundamentalConfidence rewards data availability and evidence magnitude.
func fundamentalConfidence(score float64, points int) float64 {
	if points > 3 {
		points = 3
	}
	return math.Min(0.9, 0.5+0.1*float64(points)+0.05*math.Abs(score))
}

func fundamentalSignal(score float64) domain.Signal {
	switch {
	case score >= 4:
		return domain.SignalStrongBuy
	case score >= 2:
		return domain.SignalBuy
	case score <= -4:
		return domain.SignalStrongSell
	case score <= -2:
		return domain.SignalSell
	default:
		return domain.SignalHold
	}
}

// marketScore is the crypto replacement for fundamental analysis: momentum,
// volatility regime and volume.
func marketScore(in indicatorSet) int {
	score := 0
	switch {
	case in.ChangePct > 5:
		score += 2
	case in.ChangePct > 2:
		score++
	case in.ChangePct < -5:
		score -= 2
	case in.ChangePct < -2:
		score--
	}

	if in.Volatility > 0 {
		if in.Volatility < 0.5 {
			score++
		} else if in.Volatility > 1.5 {
			score--
		}
	}

	if in.VolumeRatio > 2 {
		score++
	}
	return score
}

// sentimentScore reads crowd mood from momentum, the 52-week range position
// and volume. Deliberately coarse; sentiment is the weakest voter.
func sentimentScore(in indicatorSet, high52, low52 float64) int {
	score := 0
	switch {
	case in.ChangePct > 7:
		score += 2
	case in.ChangePct > 3:
		score++
	case in.ChangePct < -7:
		score -= 2
	case in.ChangePct < -3:
		score--
	}

	if high52 > low52 && low52 > 0 {
		pos := (in.Price - low52) / (high52 - low52)
		if pos > 0.85 {
			score++
		} else if pos < 0.15 {
			score--
		}
	}

	if in.VolumeRatio > 2 {
		if in.ChangePct >= 0 {
			score++
		} else {
			score--
		}
	}
	return score
}

// riskScore implements the canonical formula: domain base, capped momentum
// contribution, and a disagreement penalty over the non-risk analyses.
func riskScore(strat strategy, changePct float64, analyses []domain.AnalysisResult) float64 {
	score := strat.RiskBase()
	score += math.Min(math.Abs(changePct)/strat.ChangeDivisor(), 0.3)

	distinct := make(map[domain.Signal]struct{})
	for _, a := range analyses {
		if a.Agent == domain.AgentRisk {
			continue
		}
		distinct[a.Signal] = struct{}{}
	}
	if len(distinct) > 1 {
		score += 0.1 * float64(len(distinct)-1)
	}

	return math.Min(1, math.Max(0, score))
}

// consensus combines analysis results into one signal and confidence.
// Votes are confidence-weighted; ties resolve to hold; the aggregate
// confidence is the clamped mean.
func consensus(analyses []domain.AnalysisResult) (domain.Signal, float64) {
	if len(analyses) == 0 {
		return domain.SignalHold, confidenceFloor
	}

	buy, sell, confSum := 0.0, 0.0, 0.0
	for _, a := range analyses {
		buy += a.Confidence * a.Signal.BuyScore()
		sell += a.Confidence * a.Signal.SellScore()
		confSum += a.Confidence
	}
	confidence := clampConfidence(confSum / float64(len(analyses)))

	switch {
	case buy > sell:
		if buy-sell >= 1.5 {
			return domain.SignalStrongBuy, confidence
		}
		return domain.SignalBuy, confidence
	case sell > buy:
		if sell-buy >= 1.5 {
			return domain.SignalStrongSell, confidence
		}
		return domain.SignalSell, confidence
	default:
		return domain.SignalHold, confidence
	}
}
