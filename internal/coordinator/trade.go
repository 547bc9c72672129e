package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/daehwan-kim/stockpilot/internal/domain"
	"github.com/daehwan-kim/stockpilot/internal/portfolio"
	"github.com/daehwan-kim/stockpilot/internal/store"
)

// executeTradeHook adapts the pipeline callback onto OnTradeApproved.
func (c *Coordinator) executeTradeHook(ctx context.Context, sess *domain.Session, quantityOverride float64) (string, error) {
	if sess.Proposal == nil {
		return "", fmt.Errorf("%w: session has no proposal", domain.ErrBusinessRule)
	}
	return c.OnTradeApproved(ctx, sess.Proposal, quantityOverride, sess.ID)
}

// OnTradeApproved sizes and executes an approved proposal. Gate outcomes
// (inactive mode, daily limit, market closed) are reported as the result
// string, not as errors: the session completes either way.
func (c *Coordinator) OnTradeApproved(ctx context.Context, proposal *domain.TradeProposal, quantityOverride float64, sessionID string) (string, error) {
	c.mu.Lock()
	mode := c.mode
	daily := c.dailyTrades
	c.mu.Unlock()

	if mode != ModeActive {
		c.logActivity("trade for %s skipped: mode is %s", proposal.AssetID, mode)
		return fmt.Sprintf("skipped: trading mode is %s", mode), nil
	}
	if daily >= c.cfg.MaxDailyTrades {
		c.DispatchAlert(domain.Alert{
			ID:        uuid.NewString(),
			Kind:      domain.AlertDailyLimitReached,
			Title:     "Daily trade limit reached",
			Message:   fmt.Sprintf("%d of %d trades used today", daily, c.cfg.MaxDailyTrades),
			CreatedAt: time.Now(),
		})
		c.logActivity("trade for %s skipped: daily limit %d reached", proposal.AssetID, c.cfg.MaxDailyTrades)
		return fmt.Sprintf("skipped: daily trade limit %d reached", c.cfg.MaxDailyTrades), nil
	}

	if !c.cal.IsMarketOpen(ctx, proposal.Market, time.Now()) {
		return c.enqueue(ctx, proposal, quantityOverride)
	}

	return c.execute(ctx, proposal, quantityOverride, sessionID)
}

// enqueue defers an approved trade until its market opens.
func (c *Coordinator) enqueue(ctx context.Context, proposal *domain.TradeProposal, quantityOverride float64) (string, error) {
	qt := &domain.QueuedTrade{
		ID:       uuid.NewString(),
		Proposal: *proposal,
		Quantity: quantityOverride,
		Status:   domain.QueuePending,
		Reason:   fmt.Sprintf("%s market closed", proposal.Market),
		QueuedAt: time.Now(),
	}
	if err := c.store.Queue.Enqueue(ctx, qt); err != nil {
		return "", fmt.Errorf("queue trade: %w", err)
	}
	c.logActivity("trade for %s queued until market open", proposal.AssetID)
	c.log.Info().Str("asset", proposal.AssetID).Str("queue_id", qt.ID).Msg("Trade queued, market closed")
	return fmt.Sprintf("queued (%s): %s market is closed", qt.ID, proposal.Market), nil
}

// execute runs the portfolio allocation, any rebalance sells, the primary
// order, and the resulting book keeping.
func (c *Coordinator) execute(ctx context.Context, proposal *domain.TradeProposal, quantityOverride float64, sessionID string) (string, error) {
	agent, ok := c.orders[proposal.Market]
	if !ok {
		return "", fmt.Errorf("%w: no order agent for market %s", domain.ErrConfiguration, proposal.Market)
	}

	c.refreshAccount(ctx)
	positions, err := c.store.Positions.List(ctx)
	if err != nil {
		return "", fmt.Errorf("position list: %w", err)
	}

	side := "sell"
	if proposal.Action.IsBuyClass() {
		side = "buy"
	}

	quantity := proposal.Quantity
	var rebalance []portfolio.RebalanceOrder
	if proposal.Action.IsBuyClass() {
		c.mu.Lock()
		account := c.account
		c.mu.Unlock()
		plan := c.allocator.CalculateAllocation(portfolio.Request{
			AssetID:         proposal.AssetID,
			Market:          proposal.Market,
			Side:            "buy",
			EntryPrice:      proposal.EntryPrice,
			RiskScore:       proposal.RiskScore,
			PositionSizePct: proposal.PositionSizePct,
			StopLoss:        proposal.StopLoss,
			TakeProfit:      proposal.TakeProfit,
			Account:         account,
			Positions:       positions,
		})
		quantity = plan.Quantity
		rebalance = plan.Rebalance
		if quantity <= 0 {
			c.logActivity("allocation for %s is zero: %s", proposal.AssetID, plan.Rationale)
			return fmt.Sprintf("not executed: %s", plan.Rationale), nil
		}
	}
	if quantityOverride > 0 {
		quantity = quantityOverride
	}
	if quantity <= 0 {
		return "not executed: nothing to trade", nil
	}

	// Rebalance sells free room before the primary order commits it.
	for _, rb := range rebalance {
		result := agent.ExecuteOrder(ctx, domain.OrderRequest{
			AssetID:   rb.AssetID,
			Side:      "sell",
			Quantity:  rb.Quantity,
			OrderType: domain.OrderTypeMarket,
			SessionID: sessionID,
		}, true)
		c.settle(ctx, result, sessionID)
		c.logActivity("rebalance sell %s x%.8g: %s", rb.AssetID, rb.Quantity, result.Status)
	}

	result := agent.ExecuteOrder(ctx, domain.OrderRequest{
		AssetID:   proposal.AssetID,
		Side:      side,
		Quantity:  quantity,
		Price:     proposal.EntryPrice,
		OrderType: domain.OrderTypeLimit,
		SessionID: sessionID,
	}, true)

	c.settle(ctx, result, sessionID)
	if result.FilledQuantity > 0 && side == "buy" {
		c.adoptPosition(ctx, proposal, result, sessionID)
	}

	c.logActivity("%s %s x%.8g @ %.0f: %s", side, proposal.AssetID, quantity, result.AvgPrice, result.Status)
	if result.Status == domain.OrderRejected {
		return fmt.Sprintf("order rejected: %s", result.Message), nil
	}
	return fmt.Sprintf("%s %s: filled %.8g of %.8g at avg %.0f",
		side, proposal.AssetID, result.FilledQuantity, quantity, result.AvgPrice), nil
}

// settle records a finished order in the ledger, bumps the daily counter
// and applies sell-side position updates.
func (c *Coordinator) settle(ctx context.Context, result *domain.OrderResult, sessionID string) {
	if result.FilledQuantity <= 0 {
		return
	}

	trade := &domain.Trade{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		AssetID:      result.AssetID,
		Side:         result.Side,
		OrderType:    string(domain.OrderTypeLimit),
		ExecPrice:    result.AvgPrice,
		ReqQuantity:  result.RequestedQty,
		ExecQuantity: result.FilledQuantity,
		Total:        result.FilledQuantity * result.AvgPrice,
		State:        result.Status,
		OrderID:      result.OrderID,
		ExecutedAt:   result.ExecutedAt,
	}
	if err := c.store.Trades.Record(ctx, trade); err != nil {
		c.log.Error().Err(err).Str("asset", result.AssetID).Msg("Trade record failed")
	}

	c.mu.Lock()
	c.dailyTrades++
	c.mu.Unlock()

	if result.Side == "sell" {
		c.reducePosition(ctx, result.AssetID, result.FilledQuantity)
	}

	if c.notifier != nil {
		c.notifier.Push(domain.Event{Kind: domain.EventTradeExecuted, Payload: trade})
	}
}

// adoptPosition merges a buy fill into the position book and hands the
// result to the risk monitor. Repeat buys average the cost.
func (c *Coordinator) adoptPosition(ctx context.Context, proposal *domain.TradeProposal, result *domain.OrderResult, sessionID string) {
	now := time.Now()
	pos, err := c.store.Positions.Get(ctx, proposal.AssetID)
	switch {
	case err == nil:
		total := pos.Quantity + result.FilledQuantity
		pos.AvgCost = (pos.Quantity*pos.AvgCost + result.FilledQuantity*result.AvgPrice) / total
		pos.Quantity = total
		pos.CurrentPrice = result.AvgPrice
		pos.UpdatedAt = now
	case err == store.ErrNotFound:
		pos = &domain.Position{
			AssetID:      proposal.AssetID,
			Name:         proposal.AssetName,
			Market:       proposal.Market,
			Quantity:     result.FilledQuantity,
			AvgCost:      result.AvgPrice,
			CurrentPrice: result.AvgPrice,
			StopLoss:     proposal.StopLoss,
			TakeProfit:   proposal.TakeProfit,
			StopMode:     c.cfg.StopLossMode,
			Status:       domain.PositionFilled,
			RiskScore:    proposal.RiskScore,
			SessionID:    sessionID,
			OpenedAt:     now,
			UpdatedAt:    now,
		}
	default:
		c.log.Error().Err(err).Str("asset", proposal.AssetID).Msg("Position lookup failed")
		return
	}

	if err := c.store.Positions.Upsert(ctx, pos); err != nil {
		c.log.Error().Err(err).Str("asset", pos.AssetID).Msg("Position save failed")
		return
	}
	c.monitor.AddPosition(pos)
}

// reducePosition shrinks or removes a position after a sell fill.
func (c *Coordinator) reducePosition(ctx context.Context, assetID string, sold float64) {
	pos, err := c.store.Positions.Get(ctx, assetID)
	if err != nil {
		if err != store.ErrNotFound {
			c.log.Error().Err(err).Str("asset", assetID).Msg("Position lookup failed")
		}
		return
	}

	pos.Quantity -= sold
	if pos.Quantity <= 1e-9 {
		if err := c.store.Positions.Delete(ctx, assetID); err != nil {
			c.log.Error().Err(err).Str("asset", assetID).Msg("Position delete failed")
		}
		c.monitor.RemovePosition(assetID)
		c.logActivity("position %s closed", assetID)
		return
	}
	pos.UpdatedAt = time.Now()
	if err := c.store.Positions.Upsert(ctx, pos); err != nil {
		c.log.Error().Err(err).Str("asset", assetID).Msg("Position save failed")
	}
	c.monitor.AddPosition(pos)
}

// DrainQueue executes queued trades whose market has opened, oldest first.
func (c *Coordinator) DrainQueue(ctx context.Context) {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	if mode != ModeActive {
		return
	}

	pending, err := c.store.Queue.Pending(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Queue list failed")
		return
	}
	for _, qt := range pending {
		if !c.cal.IsMarketOpen(ctx, qt.Proposal.Market, time.Now()) {
			continue
		}
		if err := c.store.Queue.SetStatus(ctx, qt.ID, domain.QueueProcessing); err != nil {
			c.log.Warn().Err(err).Str("queue_id", qt.ID).Msg("Queue status update failed")
			continue
		}
		outcome, err := c.execute(ctx, &qt.Proposal, qt.Quantity, "")
		status := domain.QueueCompleted
		if err != nil {
			status = domain.QueueFailed
			c.log.Error().Err(err).Str("queue_id", qt.ID).Msg("Queued trade failed")
		}
		if err := c.store.Queue.SetStatus(ctx, qt.ID, status); err != nil {
			c.log.Warn().Err(err).Str("queue_id", qt.ID).Msg("Queue status update failed")
		}
		c.logActivity("queued trade %s: %s", qt.ID, outcome)
	}
}

// onWatch routes watch/avoid resolutions into the persistent watch list.
func (c *Coordinator) onWatch(ctx context.Context, sess *domain.Session) {
	if sess.Proposal == nil {
		return
	}
	p := sess.Proposal

	signal := p.Signal
	if signal == "" {
		signal = domain.SignalHold
	}

	entry := &domain.WatchedAsset{
		AssetID:      p.AssetID,
		Name:         p.AssetName,
		Market:       p.Market,
		Signal:       signal,
		Confidence:   p.Confidence,
		CurrentPrice: p.EntryPrice,
		TargetEntry:  p.EntryPrice,
		StopLoss:     p.StopLoss,
		TakeProfit:   p.TakeProfit,
		Summary:      fmt.Sprintf("resolved to %s", p.Action),
		Status:       domain.WatchActive,
		AddedAt:      time.Now(),
	}
	if err := c.store.Watchlist.Upsert(ctx, entry); err != nil {
		c.log.Warn().Err(err).Str("asset", p.AssetID).Msg("Watchlist save failed")
	}
	c.logActivity("%s added to watch list (%s)", p.AssetID, p.Action)
}
