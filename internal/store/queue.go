package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/daehwan-kim/stockpilot/internal/database"
	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// QueueRepository persists trades deferred because their market was closed.
// Drain order is strictly FIFO by queue time.
type QueueRepository struct {
	db *database.DB
}

// Enqueue stores a deferred trade.
func (r *QueueRepository) Enqueue(ctx context.Context, qt *domain.QueuedTrade) error {
	payload, err := json.Marshal(qt)
	if err != nil {
		return fmt.Errorf("encoding queued trade %s: %w", qt.ID, err)
	}
	_, err = r.db.Conn().ExecContext(ctx, `
		INSERT INTO queued_trades (id, status, reason, payload, queued_at)
		VALUES (?, ?, ?, ?, ?)`,
		qt.ID, qt.Status, qt.Reason, payload, fmtTime(qt.QueuedAt))
	if err != nil {
		return fmt.Errorf("enqueueing trade %s: %w", qt.ID, err)
	}
	return nil
}

// Pending returns queued trades in FIFO order.
func (r *QueueRepository) Pending(ctx context.Context) ([]*domain.QueuedTrade, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		`SELECT payload FROM queued_trades WHERE status = ? ORDER BY queued_at`,
		domain.QueuePending)
	if err != nil {
		return nil, fmt.Errorf("listing queued trades: %w", err)
	}
	defer rows.Close()

	var out []*domain.QueuedTrade
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning queued trade: %w", err)
		}
		var qt domain.QueuedTrade
		if err := json.Unmarshal(payload, &qt); err != nil {
			return nil, fmt.Errorf("decoding queued trade: %w", err)
		}
		out = append(out, &qt)
	}
	return out, rows.Err()
}

// SetStatus moves a queued trade through its lifecycle and stamps the
// processing time for terminal states.
func (r *QueueRepository) SetStatus(ctx context.Context, id string, status domain.QueueStatus) error {
	var processedAt interface{}
	switch status {
	case domain.QueueCompleted, domain.QueueFailed, domain.QueueCancelled:
		processedAt = fmtTime(time.Now())
	}
	res, err := r.db.Conn().ExecContext(ctx,
		`UPDATE queued_trades SET status = ?, processed_at = ? WHERE id = ?`,
		status, processedAt, id)
	if err != nil {
		return fmt.Errorf("updating queued trade %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one queued trade by id.
func (r *QueueRepository) Get(ctx context.Context, id string) (*domain.QueuedTrade, error) {
	var payload []byte
	var status string
	err := r.db.Conn().QueryRowContext(ctx,
		`SELECT payload, status FROM queued_trades WHERE id = ?`, id).Scan(&payload, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading queued trade %s: %w", id, err)
	}
	var qt domain.QueuedTrade
	if err := json.Unmarshal(payload, &qt); err != nil {
		return nil, fmt.Errorf("decoding queued trade %s: %w", id, err)
	}
	qt.Status = domain.QueueStatus(status)
	return &qt, nil
}
