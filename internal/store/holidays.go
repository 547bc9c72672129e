package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/daehwan-kim/stockpilot/internal/database"
	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// HolidayRepository persists the fetched exchange holiday table.
type HolidayRepository struct {
	db *database.DB
}

// UpsertHolidays stores a batch of holidays in one transaction.
func (r *HolidayRepository) UpsertHolidays(ctx context.Context, holidays []domain.Holiday) error {
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO holidays (date, day_of_week, name, year)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				day_of_week = excluded.day_of_week,
				name = excluded.name,
				year = excluded.year`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, h := range holidays {
			if _, err := stmt.ExecContext(ctx, h.Date, h.DayOfWeek, h.Name, h.Year); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upserting holidays: %w", err)
	}
	return nil
}

// ListHolidays returns the stored holidays for a year.
func (r *HolidayRepository) ListHolidays(ctx context.Context, year int) ([]domain.Holiday, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		`SELECT date, day_of_week, name, year FROM holidays WHERE year = ? ORDER BY date`, year)
	if err != nil {
		return nil, fmt.Errorf("listing holidays: %w", err)
	}
	defer rows.Close()

	var out []domain.Holiday
	for rows.Next() {
		var h domain.Holiday
		if err := rows.Scan(&h.Date, &h.DayOfWeek, &h.Name, &h.Year); err != nil {
			return nil, fmt.Errorf("scanning holiday: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
