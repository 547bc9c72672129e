package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/daehwan-kim/stockpilot/internal/database"
	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// PositionRepository persists coordinator-owned positions, one row per asset.
type PositionRepository struct {
	db *database.DB
}

const positionColumns = `asset_id, name, market, quantity, avg_cost, current_price,
	stop_loss, take_profit, stop_mode, status, risk_score, session_id, opened_at, updated_at`

// Upsert inserts or replaces the position for its asset.
func (r *PositionRepository) Upsert(ctx context.Context, p *domain.Position) error {
	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			name = excluded.name,
			quantity = excluded.quantity,
			avg_cost = excluded.avg_cost,
			current_price = excluded.current_price,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			stop_mode = excluded.stop_mode,
			status = excluded.status,
			risk_score = excluded.risk_score,
			session_id = excluded.session_id,
			updated_at = excluded.updated_at`,
		p.AssetID, p.Name, p.Market, p.Quantity, p.AvgCost, p.CurrentPrice,
		p.StopLoss, p.TakeProfit, p.StopMode, p.Status, p.RiskScore, p.SessionID,
		fmtTime(p.OpenedAt), fmtTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting position %s: %w", p.AssetID, err)
	}
	return nil
}

// Get returns the position for assetID, or ErrNotFound.
func (r *PositionRepository) Get(ctx context.Context, assetID string) (*domain.Position, error) {
	row := r.db.Conn().QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE asset_id = ?`, assetID)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading position %s: %w", assetID, err)
	}
	return p, nil
}

// List returns all positions ordered by open time.
func (r *PositionRepository) List(ctx context.Context) ([]*domain.Position, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("listing positions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes the position for assetID. Removing an absent position is
// not an error.
func (r *PositionRepository) Delete(ctx context.Context, assetID string) error {
	if _, err := r.db.Conn().ExecContext(ctx,
		`DELETE FROM positions WHERE asset_id = ?`, assetID); err != nil {
		return fmt.Errorf("deleting position %s: %w", assetID, err)
	}
	return nil
}

// UpdatePrice refreshes only the mark price.
func (r *PositionRepository) UpdatePrice(ctx context.Context, assetID string, price float64) error {
	if _, err := r.db.Conn().ExecContext(ctx,
		`UPDATE positions SET current_price = ?, updated_at = CURRENT_TIMESTAMP WHERE asset_id = ?`,
		price, assetID); err != nil {
		return fmt.Errorf("updating price for %s: %w", assetID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var p domain.Position
	var openedAt, updatedAt string
	if err := row.Scan(&p.AssetID, &p.Name, &p.Market, &p.Quantity, &p.AvgCost,
		&p.CurrentPrice, &p.StopLoss, &p.TakeProfit, &p.StopMode, &p.Status,
		&p.RiskScore, &p.SessionID, &openedAt, &updatedAt); err != nil {
		return nil, err
	}
	p.OpenedAt = parseTime(openedAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}
