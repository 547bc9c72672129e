// Package store holds the sqlite repositories for persisted trading state:
// positions, trades, sessions, the deferred-trade queue, the watch list and
// the holiday table. Repositories take the shared database wrappers and are
// safe for concurrent use.
package store

import (
	"time"

	"github.com/daehwan-kim/stockpilot/internal/database"
)

// Store bundles every repository over the two state databases.
type Store struct {
	Positions *PositionRepository
	Trades    *TradeRepository
	Sessions  *SessionRepository
	Queue     *QueueRepository
	Watchlist *WatchRepository
	Holidays  *HolidayRepository
}

// New wires all repositories. ledger holds the immutable trade records,
// state holds everything mutable.
func New(ledger, state *database.DB) *Store {
	return &Store{
		Positions: &PositionRepository{db: state},
		Trades:    &TradeRepository{db: ledger},
		Sessions:  &SessionRepository{db: state},
		Queue:     &QueueRepository{db: state},
		Watchlist: &WatchRepository{db: state},
		Holidays:  &HolidayRepository{db: state},
	}
}

const timeLayout = "2006-01-02 15:04:05"

// fmtTime renders a timestamp the way sqlite's CURRENT_TIMESTAMP does, so
// stored and defaulted values compare consistently.
func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
