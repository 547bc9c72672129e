package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/daehwan-kim/stockpilot/internal/database"
	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// SessionRepository persists pipeline sessions. The full session (analyses,
// proposal, reasoning log) is a JSON blob; the indexed columns exist for
// queries only. Writes happen on every stage transition, so a crash resumes
// with the last completed stage.
type SessionRepository struct {
	db *database.DB
}

// Save inserts or replaces a session snapshot.
func (r *SessionRepository) Save(ctx context.Context, s *domain.Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", s.ID, err)
	}
	_, err = r.db.Conn().ExecContext(ctx, `
		INSERT INTO sessions (id, asset_id, market, stage, approval, reanalysis_count, error, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			approval = excluded.approval,
			reanalysis_count = excluded.reanalysis_count,
			error = excluded.error,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		s.ID, s.AssetID, s.Market, s.Stage, s.Approval, s.ReanalysisCount,
		s.Error, payload, fmtTime(s.CreatedAt), fmtTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving session %s: %w", s.ID, err)
	}
	return nil
}

// Get returns the session by id, or ErrNotFound.
func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	var payload []byte
	err := r.db.Conn().QueryRowContext(ctx,
		`SELECT payload FROM sessions WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}

	var s domain.Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &s, nil
}

// ListRecent returns the newest sessions, newest first.
func (r *SessionRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Conn().QueryContext(ctx,
		`SELECT payload FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		var s domain.Session
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("decoding session: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
