package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

func TestTechnicalScoreTable(t *testing.T) {
	cases := []struct {
		name string
		in   indicatorSet
		want int
	}{
		{"deep oversold", indicatorSet{RSI: 25, VolumeRatio: 1, BidAskRatio: 1}, 2},
		{"mild oversold", indicatorSet{RSI: 35, VolumeRatio: 1, BidAskRatio: 1}, 1},
		{"overbought", indicatorSet{RSI: 75, VolumeRatio: 1, BidAskRatio: 1}, -2},
		{"mildly high", indicatorSet{RSI: 65, VolumeRatio: 1, BidAskRatio: 1}, -1},
		{"golden cross in uptrend", indicatorSet{RSI: 50, GoldenCross: true, Bullish: true, VolumeRatio: 1, BidAskRatio: 1}, 3},
		{"dead cross in downtrend", indicatorSet{RSI: 50, DeadCross: true, Bearish: true, VolumeRatio: 1, BidAskRatio: 1}, -3},
		{"bid pressure with volume", indicatorSet{RSI: 50, BidAskRatio: 1.5, VolumeRatio: 2.5}, 2},
		{"ask pressure", indicatorSet{RSI: 50, BidAskRatio: 0.5, VolumeRatio: 1}, -1},
		{"everything bullish", indicatorSet{RSI: 25, GoldenCross: true, Bullish: true, BidAskRatio: 1.5, VolumeRatio: 2.5}, 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, _ := technicalScore(tc.in)
			assert.Equal(t, tc.want, score)
		})
	}
}

func TestScoreToSignalBoundaries(t *testing.T) {
	assert.Equal(t, domain.SignalStrongBuy, scoreToSignal(4))
	assert.Equal(t, domain.SignalBuy, scoreToSignal(2))
	assert.Equal(t, domain.SignalBuy, scoreToSignal(3))
	assert.Equal(t, domain.SignalHold, scoreToSignal(1))
	assert.Equal(t, domain.SignalHold, scoreToSignal(0))
	assert.Equal(t, domain.SignalHold, scoreToSignal(-1))
	assert.Equal(t, domain.SignalSell, scoreToSignal(-2))
	assert.Equal(t, domain.SignalStrongSell, scoreToSignal(-4))
}

func TestAdjustSignalNeverFlipsDirection(t *testing.T) {
	bearish := []detectedSignal{{Name: "dead_cross", Strength: 2, Direction: -1}, {Name: "rsi_overbought", Strength: 2, Direction: -1}}
	bullish := []detectedSignal{{Name: "golden_cross", Strength: 2, Direction: 1}, {Name: "rsi_oversold", Strength: 2, Direction: 1}}

	// Disagreeing evidence downgrades to hold, never crosses to the other side.
	assert.Equal(t, domain.SignalHold, adjustSignal(domain.SignalBuy, bearish))
	assert.Equal(t, domain.SignalHold, adjustSignal(domain.SignalSell, bullish))

	// Agreeing strong evidence upgrades one notch.
	assert.Equal(t, domain.SignalStrongBuy, adjustSignal(domain.SignalBuy, bullish))
	assert.Equal(t, domain.SignalStrongSell, adjustSignal(domain.SignalSell, bearish))

	// Hold is never upgraded.
	assert.Equal(t, domain.SignalHold, adjustSignal(domain.SignalHold, bullish))
}

func TestFundamentalScoreTable(t *testing.T) {
	score, points := fundamentalScore(6, 0.4, 1200)
	assert.Equal(t, 5.0, score) // 2.5 + 2 + 0.5
	assert.Equal(t, 3, points)
	assert.Equal(t, domain.SignalStrongBuy, fundamentalSignal(score))

	score, points = fundamentalScore(60, 6, -300)
	assert.Equal(t, -5.0, score)
	assert.Equal(t, 3, points)
	assert.Equal(t, domain.SignalStrongSell, fundamentalSignal(score))

	// Missing data contributes no points and no score.
	score, points = fundamentalScore(0, 0, 0)
	assert.Zero(t, score)
	assert.Zero(t, points)
	assert.Equal(t, domain.SignalHold, fundamentalSignal(score))
}

func TestFundamentalConfidenceCaps(t *testing.T) {
	assert.InDelta(t, 0.5, fundamentalConfidence(0, 0), 1e-9)
	assert.InDelta(t, 0.9, fundamentalConfidence(5, 3), 1e-9) // 0.5+0.3+0.25 capped
	assert.InDelta(t, 0.85, fundamentalConfidence(1, 3), 1e-9)
}

func TestRiskScoreFormula(t *testing.T) {
	agree := []domain.AnalysisResult{
		{Agent: domain.AgentTechnical, Signal: domain.SignalBuy},
		{Agent: domain.AgentFundamental, Signal: domain.SignalBuy},
		{Agent: domain.AgentSentiment, Signal: domain.SignalBuy},
	}
	disagree := []domain.AnalysisResult{
		{Agent: domain.AgentTechnical, Signal: domain.SignalBuy},
		{Agent: domain.AgentFundamental, Signal: domain.SignalSell},
		{Agent: domain.AgentSentiment, Signal: domain.SignalHold},
	}

	// Stock base 0.3, quiet day, full agreement.
	assert.InDelta(t, 0.3, riskScore(stockStrategy{}, 0, agree), 1e-9)

	// Momentum contribution caps at 0.3 regardless of the move size.
	assert.InDelta(t, 0.6, riskScore(stockStrategy{}, 30, agree), 1e-9)
	assert.InDelta(t, 0.6, riskScore(stockStrategy{}, 300, agree), 1e-9)

	// Three distinct signals add 0.2.
	assert.InDelta(t, 0.5, riskScore(stockStrategy{}, 0, disagree), 1e-9)

	// Crypto base is higher and the divisor larger.
	assert.InDelta(t, 0.4+0.25, riskScore(cryptoStrategy{}, 5, agree), 1e-9)

	// Never exceeds 1.
	assert.LessOrEqual(t, riskScore(cryptoStrategy{}, 100, disagree), 1.0)

	// The risk result itself is excluded from the disagreement count.
	withRisk := append(append([]domain.AnalysisResult(nil), agree...),
		domain.AnalysisResult{Agent: domain.AgentRisk, Signal: domain.SignalHold})
	assert.InDelta(t, 0.3, riskScore(stockStrategy{}, 0, withRisk), 1e-9)
}

func TestConsensusTieIsHold(t *testing.T) {
	tied := []domain.AnalysisResult{
		{Signal: domain.SignalBuy, Confidence: 0.6},
		{Signal: domain.SignalSell, Confidence: 0.6},
	}
	signal, conf := consensus(tied)
	assert.Equal(t, domain.SignalHold, signal)
	assert.InDelta(t, 0.6, conf, 1e-9)
}

func TestConsensusWeighting(t *testing.T) {
	// A confident strong-buy outweighs a hesitant sell.
	results := []domain.AnalysisResult{
		{Signal: domain.SignalStrongBuy, Confidence: 0.9},
		{Signal: domain.SignalSell, Confidence: 0.3},
		{Signal: domain.SignalHold, Confidence: 0.5},
	}
	signal, _ := consensus(results)
	assert.Equal(t, domain.SignalStrongBuy, signal) // 1.8 vs 0.3

	// A slim margin yields plain buy.
	results = []domain.AnalysisResult{
		{Signal: domain.SignalBuy, Confidence: 0.7},
		{Signal: domain.SignalHold, Confidence: 0.5},
	}
	signal, _ = consensus(results)
	assert.Equal(t, domain.SignalBuy, signal)
}

func TestConsensusConfidenceClamped(t *testing.T) {
	low := []domain.AnalysisResult{{Signal: domain.SignalHold, Confidence: 0.1}}
	_, conf := consensus(low)
	assert.Equal(t, 0.30, conf)

	high := []domain.AnalysisResult{{Signal: domain.SignalBuy, Confidence: 0.99}}
	_, conf = consensus(high)
	assert.Equal(t, 0.95, conf)
}

func TestQuantityArithmetic(t *testing.T) {
	// Stocks trade whole shares.
	assert.Equal(t, 20.0, stockStrategy{}.BuyQuantity(1_000_000, 50_000))
	assert.Equal(t, 14.0, stockStrategy{}.BuyQuantity(1_000_000, 70_000))
	assert.Equal(t, 0.0, stockStrategy{}.BuyQuantity(1_000_000, 0))

	// Reduce sells half, at least one share.
	assert.Equal(t, 5.0, stockStrategy{}.ReduceQuantity(10))
	assert.Equal(t, 5.0, stockStrategy{}.ReduceQuantity(11))
	assert.Equal(t, 1.0, stockStrategy{}.ReduceQuantity(1))

	// Crypto is fractional, truncated to 8 decimals.
	assert.InDelta(t, 0.01923076, cryptoStrategy{}.BuyQuantity(1_000_000, 52_000_000), 1e-9)
	assert.InDelta(t, 0.005, cryptoStrategy{}.ReduceQuantity(0.01), 1e-9)
}

func TestStopTakeProfitGrowWithRisk(t *testing.T) {
	stopLow, tpLow := stockStrategy{}.StopTakeProfit(0)
	stopHigh, tpHigh := stockStrategy{}.StopTakeProfit(1)
	assert.Equal(t, 5.0, stopLow)
	assert.Equal(t, 8.0, tpLow)
	assert.Greater(t, stopHigh, stopLow)
	assert.Greater(t, tpHigh, tpLow)

	cStop, cTP := cryptoStrategy{}.StopTakeProfit(0)
	assert.Equal(t, 8.0, cStop)
	assert.Equal(t, 12.0, cTP)
}

func TestAnnualizedVolatility(t *testing.T) {
	flat := []float64{100, 100, 100, 100}
	assert.Zero(t, annualizedVolatility(flat))

	moving := []float64{100, 102, 99, 103, 101}
	assert.Greater(t, annualizedVolatility(moving), 0.0)

	assert.Zero(t, annualizedVolatility([]float64{100}))
}
