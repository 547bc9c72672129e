// Package order executes sized trades against an exchange client. Large
// orders split into three sub-orders with a pause between them; every
// failure path yields a rejected OrderResult, never an error.
package order

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

const (
	// splitThreshold is the quantity above which an order is divided.
	defaultSplitThreshold = 100.0
	splitParts            = 3
	splitPause            = 1500 * time.Millisecond

	// orderDeadline bounds one order submission including its rate-limit
	// wait.
	orderDeadline = 30 * time.Second
)

// Config holds order agent settings.
type Config struct {
	SplitThreshold float64
}

// Agent wraps exchange order operations.
type Agent struct {
	cfg    Config
	client domain.ExchangeClient
	log    zerolog.Logger
}

// New creates an order agent over the given exchange.
func New(cfg Config, client domain.ExchangeClient, log zerolog.Logger) *Agent {
	if cfg.SplitThreshold <= 0 {
		cfg.SplitThreshold = defaultSplitThreshold
	}
	return &Agent{
		cfg:    cfg,
		client: client,
		log:    log.With().Str("component", "order").Logger(),
	}
}

// ExecuteOrder runs the request, optionally splitting it. The returned
// result is never nil and this method never returns an error: failures are
// reported as status rejected with a message.
func (a *Agent) ExecuteOrder(ctx context.Context, req domain.OrderRequest, split bool) *domain.OrderResult {
	req.Price = RoundToTick(a.client.Market(), req.Price, req.Side)

	if !split || req.Quantity <= a.cfg.SplitThreshold {
		return a.executeSingle(ctx, req)
	}
	return a.executeSplit(ctx, req)
}

// executeSplit divides into ⌊q/3⌋, ⌊q/3⌋ and the remainder, spaced to
// soften market impact, then aggregates fills into one volume-weighted
// result.
func (a *Agent) executeSplit(ctx context.Context, req domain.OrderRequest) *domain.OrderResult {
	part := float64(int64(req.Quantity / splitParts))
	quantities := []float64{part, part, req.Quantity - 2*part}

	aggregate := &domain.OrderResult{
		AssetID:      req.AssetID,
		Side:         req.Side,
		RequestedQty: req.Quantity,
		ExecutedAt:   time.Now(),
	}

	notional := 0.0
loop:
	for i, qty := range quantities {
		if qty <= 0 {
			continue
		}
		if i > 0 {
			select {
			case <-time.After(splitPause):
			case <-ctx.Done():
				a.log.Warn().Str("asset", req.AssetID).Msg("Split execution interrupted")
				break loop
			}
		}

		sub := req
		sub.Quantity = qty
		result := a.executeSingle(ctx, sub)
		if result.FilledQuantity > 0 {
			aggregate.FilledQuantity += result.FilledQuantity
			notional += result.FilledQuantity * result.AvgPrice
			aggregate.OrderID = result.OrderID
		}
		if result.Status == domain.OrderRejected {
			aggregate.Message = result.Message
		}

		a.log.Info().Str("asset", req.AssetID).Int("part", i+1).
			Float64("qty", qty).Str("status", string(result.Status)).Msg("Split sub-order")
	}

	if aggregate.FilledQuantity > 0 {
		aggregate.AvgPrice = notional / aggregate.FilledQuantity
	}
	switch {
	case aggregate.FilledQuantity >= req.Quantity:
		aggregate.Status = domain.OrderFilled
	case aggregate.FilledQuantity > 0:
		aggregate.Status = domain.OrderPartial
	default:
		aggregate.Status = domain.OrderRejected
	}
	return aggregate
}

// executeSingle submits one order under the per-order deadline. Exchange
// errors become a rejected result.
func (a *Agent) executeSingle(ctx context.Context, req domain.OrderRequest) *domain.OrderResult {
	callCtx, cancel := context.WithTimeout(ctx, orderDeadline)
	defer cancel()

	var result *domain.OrderResult
	var err error
	if req.Side == "sell" {
		result, err = a.client.PlaceSell(callCtx, req)
	} else {
		result, err = a.client.PlaceBuy(callCtx, req)
	}
	if err != nil {
		a.log.Warn().Err(err).Str("asset", req.AssetID).Str("side", req.Side).Msg("Order rejected")
		return &domain.OrderResult{
			AssetID:      req.AssetID,
			Side:         req.Side,
			Status:       domain.OrderRejected,
			RequestedQty: req.Quantity,
			Message:      err.Error(),
			ExecutedAt:   time.Now(),
		}
	}
	return result
}
