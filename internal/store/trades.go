package store

import (
	"context"
	"fmt"

	"github.com/daehwan-kim/stockpilot/internal/database"
	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// TradeRepository appends to and reads from the immutable trade ledger.
type TradeRepository struct {
	db *database.DB
}

// Record appends one executed trade. The ledger is append-only; records are
// never updated or deleted.
func (r *TradeRepository) Record(ctx context.Context, t *domain.Trade) error {
	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO trades (id, session_id, asset_id, side, order_type, req_price,
			exec_price, req_quantity, exec_quantity, fee, total, state, order_id, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.AssetID, t.Side, t.OrderType, t.ReqPrice,
		t.ExecPrice, t.ReqQuantity, t.ExecQuantity, t.Fee, t.Total,
		t.State, t.OrderID, fmtTime(t.ExecutedAt))
	if err != nil {
		return fmt.Errorf("recording trade %s: %w", t.ID, err)
	}
	return nil
}

// List returns the most recent trades, newest first.
func (r *TradeRepository) List(ctx context.Context, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, session_id, asset_id, side, order_type, req_price, exec_price,
			req_quantity, exec_quantity, fee, total, state, order_id, executed_at
		FROM trades ORDER BY executed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing trades: %w", err)
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var executedAt string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.AssetID, &t.Side, &t.OrderType,
			&t.ReqPrice, &t.ExecPrice, &t.ReqQuantity, &t.ExecQuantity, &t.Fee,
			&t.Total, &t.State, &t.OrderID, &executedAt); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		t.ExecutedAt = parseTime(executedAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// CountSince returns how many trades executed at or after the given cutoff.
// The coordinator uses it to restore the daily counter after a restart.
func (r *TradeRepository) CountSince(ctx context.Context, cutoff string) (int, error) {
	var n int
	err := r.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE executed_at >= ?`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting trades: %w", err)
	}
	return n, nil
}
