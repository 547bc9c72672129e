package store

import (
	"context"
	"fmt"

	"github.com/daehwan-kim/stockpilot/internal/database"
	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// WatchRepository persists watch-list entries written by the pipeline when a
// session resolves to watch or avoid.
type WatchRepository struct {
	db *database.DB
}

const watchColumns = `asset_id, name, market, signal, confidence, current_price,
	target_entry, stop_loss, take_profit, summary, status, added_at`

// Upsert inserts or replaces the entry for its asset.
func (r *WatchRepository) Upsert(ctx context.Context, w *domain.WatchedAsset) error {
	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO watched_assets (`+watchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			signal = excluded.signal,
			confidence = excluded.confidence,
			current_price = excluded.current_price,
			target_entry = excluded.target_entry,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			summary = excluded.summary,
			status = excluded.status`,
		w.AssetID, w.Name, w.Market, w.Signal, w.Confidence, w.CurrentPrice,
		w.TargetEntry, w.StopLoss, w.TakeProfit, w.Summary, w.Status, fmtTime(w.AddedAt))
	if err != nil {
		return fmt.Errorf("upserting watched asset %s: %w", w.AssetID, err)
	}
	return nil
}

// ListActive returns entries still being watched.
func (r *WatchRepository) ListActive(ctx context.Context) ([]*domain.WatchedAsset, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		`SELECT `+watchColumns+` FROM watched_assets WHERE status = ? ORDER BY added_at DESC`,
		domain.WatchActive)
	if err != nil {
		return nil, fmt.Errorf("listing watched assets: %w", err)
	}
	defer rows.Close()

	var out []*domain.WatchedAsset
	for rows.Next() {
		var w domain.WatchedAsset
		var addedAt string
		if err := rows.Scan(&w.AssetID, &w.Name, &w.Market, &w.Signal, &w.Confidence,
			&w.CurrentPrice, &w.TargetEntry, &w.StopLoss, &w.TakeProfit, &w.Summary,
			&w.Status, &addedAt); err != nil {
			return nil, fmt.Errorf("scanning watched asset: %w", err)
		}
		w.AddedAt = parseTime(addedAt)
		out = append(out, &w)
	}
	return out, rows.Err()
}

// SetStatus moves an entry through its lifecycle.
func (r *WatchRepository) SetStatus(ctx context.Context, assetID string, status domain.WatchStatus) error {
	res, err := r.db.Conn().ExecContext(ctx,
		`UPDATE watched_assets SET status = ? WHERE asset_id = ?`, status, assetID)
	if err != nil {
		return fmt.Errorf("updating watched asset %s: %w", assetID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
