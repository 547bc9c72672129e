package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/daehwan-kim/stockpilot/internal/domain"
	"github.com/daehwan-kim/stockpilot/internal/risk"
	"github.com/daehwan-kim/stockpilot/internal/store"
)

// HandleAlertAction applies a user response to a pending alert. Resolving
// the alert and acting on it happen together; an unknown action is an error
// and leaves the alert pending.
func (c *Coordinator) HandleAlertAction(ctx context.Context, alertID string, action domain.AlertAction, data map[string]float64) error {
	switch action {
	case domain.AlertActionResume, domain.AlertActionClosePosition, domain.AlertActionAdjustStopLoss,
		domain.AlertActionExecuteStopLoss, domain.AlertActionExecuteTakeProfit, domain.AlertActionHold:
	default:
		return fmt.Errorf("%w: unknown alert action %q", domain.ErrBusinessRule, action)
	}

	alert, err := c.monitor.ResolveAlert(alertID)
	if err != nil {
		return err
	}
	c.logActivity("alert %s resolved with %s", alert.Title, action)

	switch action {
	case domain.AlertActionResume:
		c.Resume()
		c.monitor.Resume()
		return nil
	case domain.AlertActionClosePosition,
		domain.AlertActionExecuteStopLoss,
		domain.AlertActionExecuteTakeProfit:
		return c.closePosition(ctx, alert.AssetID)
	case domain.AlertActionAdjustStopLoss:
		stop, ok := data["stop_loss"]
		if !ok || stop <= 0 {
			return fmt.Errorf("%w: adjust_stop_loss requires a positive stop_loss value", domain.ErrBusinessRule)
		}
		return c.adjustStopLoss(ctx, alert.AssetID, stop)
	default: // hold
		return nil
	}
}

// closePosition market-sells the full position and removes it from the book
// and the monitor.
func (c *Coordinator) closePosition(ctx context.Context, assetID string) error {
	pos, err := c.store.Positions.Get(ctx, assetID)
	if err != nil {
		if err == store.ErrNotFound {
			return fmt.Errorf("%w: no position for %s", domain.ErrBusinessRule, assetID)
		}
		return err
	}
	agent, ok := c.orders[pos.Market]
	if !ok {
		return fmt.Errorf("%w: no order agent for market %s", domain.ErrConfiguration, pos.Market)
	}

	result := agent.ExecuteOrder(ctx, domain.OrderRequest{
		AssetID:   assetID,
		Side:      "sell",
		Quantity:  pos.Quantity,
		OrderType: domain.OrderTypeMarket,
		SessionID: pos.SessionID,
	}, true)

	c.settle(ctx, result, pos.SessionID)
	c.logActivity("close %s x%.8g: %s", assetID, pos.Quantity, result.Status)
	if result.Status == domain.OrderRejected {
		return fmt.Errorf("close position %s: %s", assetID, result.Message)
	}
	return nil
}

// adjustStopLoss mutates the stop in both the persisted position and the
// monitor's watch entry.
func (c *Coordinator) adjustStopLoss(ctx context.Context, assetID string, stopLoss float64) error {
	pos, err := c.store.Positions.Get(ctx, assetID)
	if err != nil {
		if err == store.ErrNotFound {
			return fmt.Errorf("%w: no position for %s", domain.ErrBusinessRule, assetID)
		}
		return err
	}
	pos.StopLoss = stopLoss
	if err := c.store.Positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("save stop-loss: %w", err)
	}
	if err := c.monitor.AdjustStopLoss(assetID, stopLoss); err != nil {
		c.log.Warn().Err(err).Str("asset", assetID).Msg("Monitor stop adjust failed")
	}
	c.logActivity("stop-loss on %s moved to %.0f", assetID, stopLoss)
	return nil
}

// AutoExecute is the monitor's callback for auto stop/TP exits. The sell
// flows through the coordinator so counters and the book stay consistent.
func (c *Coordinator) AutoExecute(ctx context.Context, entry risk.WatchEntry, kind domain.AlertKind) {
	c.logActivity("auto %s on %s", kind, entry.AssetID)
	if err := c.closePosition(ctx, entry.AssetID); err != nil {
		c.log.Error().Err(err).Str("asset", entry.AssetID).Msg("Auto exit failed")
		c.DispatchAlert(domain.Alert{
			ID:        uuid.NewString(),
			Kind:      domain.AlertOrderFailed,
			AssetID:   entry.AssetID,
			Title:     fmt.Sprintf("Auto exit failed for %s", entry.AssetID),
			Message:   err.Error(),
			CreatedAt: time.Now(),
		})
	}
}
