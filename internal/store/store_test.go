package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daehwan-kim/stockpilot/internal/database"
	"github.com/daehwan-kim/stockpilot/internal/domain"
)

var memCounter int

func newTestStore(t *testing.T) *Store {
	t.Helper()
	memCounter++

	open := func(name string) *database.DB {
		db, err := database.New(database.Config{
			Path: fmt.Sprintf("file:storetest%d%s?mode=memory&cache=shared", memCounter, name),
			Name: name,
		})
		require.NoError(t, err)
		require.NoError(t, db.Migrate())
		t.Cleanup(func() { db.Close() })
		return db
	}
	return New(open("ledger"), open("state"))
}

func TestPositionUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &domain.Position{
		AssetID: "005930", Name: "Samsung Electronics", Market: domain.MarketStock,
		Quantity: 10, AvgCost: 70000, CurrentPrice: 71000,
		StopLoss: 66500, TakeProfit: 75600,
		StopMode: domain.StopLossUserApproval, Status: domain.PositionFilled,
		RiskScore: 3.5, OpenedAt: time.Now(),
	}
	require.NoError(t, s.Positions.Upsert(ctx, p))

	got, err := s.Positions.Get(ctx, "005930")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.Quantity)
	assert.Equal(t, domain.StopLossUserApproval, got.StopMode)
	assert.InDelta(t, 1.43, got.UnrealizedPLPct(), 0.01)

	// Merge: second upsert replaces quantity and cost.
	p.Quantity = 15
	p.AvgCost = 70500
	require.NoError(t, s.Positions.Upsert(ctx, p))

	got, err = s.Positions.Get(ctx, "005930")
	require.NoError(t, err)
	assert.Equal(t, 15.0, got.Quantity)

	list, err := s.Positions.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1, "one row per asset")

	require.NoError(t, s.Positions.Delete(ctx, "005930"))
	_, err = s.Positions.Get(ctx, "005930")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTradeLedgerAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Trades.Record(ctx, &domain.Trade{
			ID: uuid.NewString(), AssetID: "005930", Side: "buy", OrderType: "limit",
			ReqPrice: 70000, ExecPrice: 70000, ReqQuantity: 5, ExecQuantity: 5,
			Total: 350000, State: domain.OrderFilled,
			ExecutedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	trades, err := s.Trades.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	n, err := s.Trades.CountSince(ctx, "2000-01-01 00:00:00")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSessionRoundTripPreservesPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &domain.Session{
		ID: uuid.NewString(), AssetID: "KRW-BTC", Market: domain.MarketCrypto,
		Stage: domain.StageApproval, AwaitingApproval: true,
		Analyses: []domain.AnalysisResult{
			{Agent: domain.AgentTechnical, Signal: domain.SignalBuy, Confidence: 0.7},
		},
		Proposal:     &domain.TradeProposal{AssetID: "KRW-BTC", Action: domain.ActionBuy, Quantity: 0.01},
		ReasoningLog: []string{"collected data", "technical: buy"},
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.Sessions.Save(ctx, sess))

	got, err := s.Sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageApproval, got.Stage)
	assert.True(t, got.AwaitingApproval)
	require.NotNil(t, got.Proposal)
	assert.Equal(t, domain.ActionBuy, got.Proposal.Action)
	assert.Len(t, got.Analyses, 1)
	assert.Len(t, got.ReasoningLog, 2)

	// Stage transition overwrites in place.
	sess.Stage = domain.StageComplete
	sess.AwaitingApproval = false
	require.NoError(t, s.Sessions.Save(ctx, sess))
	got, err = s.Sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageComplete, got.Stage)
}

func TestQueueFIFOAndLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	var ids []string
	for i := 0; i < 3; i++ {
		qt := &domain.QueuedTrade{
			ID:       uuid.NewString(),
			Proposal: domain.TradeProposal{AssetID: fmt.Sprintf("asset-%d", i), Action: domain.ActionBuy},
			Status:   domain.QueuePending,
			Reason:   "market closed",
			QueuedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.Queue.Enqueue(ctx, qt))
		ids = append(ids, qt.ID)
	}

	pending, err := s.Queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "asset-0", pending[0].Proposal.AssetID, "FIFO by queue time")
	assert.Equal(t, "asset-2", pending[2].Proposal.AssetID)

	require.NoError(t, s.Queue.SetStatus(ctx, ids[0], domain.QueueCompleted))
	pending, err = s.Queue.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	got, err := s.Queue.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.QueueCompleted, got.Status)

	assert.ErrorIs(t, s.Queue.SetStatus(ctx, "missing", domain.QueueCancelled), ErrNotFound)
}

func TestWatchlistLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := &domain.WatchedAsset{
		AssetID: "035720", Name: "Kakao", Market: domain.MarketStock,
		Signal: domain.SignalHold, Confidence: 0.55, CurrentPrice: 41000,
		TargetEntry: 39000, Status: domain.WatchActive, AddedAt: time.Now(),
	}
	require.NoError(t, s.Watchlist.Upsert(ctx, w))

	active, err := s.Watchlist.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 39000.0, active[0].TargetEntry)

	require.NoError(t, s.Watchlist.SetStatus(ctx, "035720", domain.WatchConverted))
	active, err = s.Watchlist.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestHolidayUpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := []domain.Holiday{
		{Date: "2026-01-01", DayOfWeek: "Thursday", Name: "New Year", Year: 2026},
		{Date: "2026-03-01", DayOfWeek: "Sunday", Name: "Independence Movement Day", Year: 2026},
	}
	require.NoError(t, s.Holidays.UpsertHolidays(ctx, batch))
	require.NoError(t, s.Holidays.UpsertHolidays(ctx, batch))

	got, err := s.Holidays.ListHolidays(ctx, 2026)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "2026-01-01", got[0].Date)
}
