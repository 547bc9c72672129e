package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daehwan-kim/stockpilot/internal/calendar"
	"github.com/daehwan-kim/stockpilot/internal/coordinator"
	"github.com/daehwan-kim/stockpilot/internal/database"
	"github.com/daehwan-kim/stockpilot/internal/domain"
	"github.com/daehwan-kim/stockpilot/internal/notify"
	"github.com/daehwan-kim/stockpilot/internal/pipeline"
	"github.com/daehwan-kim/stockpilot/internal/portfolio"
	"github.com/daehwan-kim/stockpilot/internal/risk"
	"github.com/daehwan-kim/stockpilot/internal/store"
)

// flatExchange serves a flat market: every quote succeeds, every order
// fills at the request price.
type flatExchange struct{ market domain.Market }

func (e *flatExchange) GetAsset(_ context.Context, assetID string) (*domain.AssetInfo, error) {
	return &domain.AssetInfo{AssetID: assetID, Name: "Test Asset", Price: 50_000}, nil
}

func (e *flatExchange) GetOrderbook(_ context.Context, assetID string) (*domain.Orderbook, error) {
	return &domain.Orderbook{AssetID: assetID, BidTotal: 100, AskTotal: 100}, nil
}

func (e *flatExchange) GetChart(_ context.Context, _ string, days int) ([]domain.Candle, error) {
	candles := make([]domain.Candle, days)
	for i := range candles {
		candles[i] = domain.Candle{
			Date: time.Now().AddDate(0, 0, i-days), Open: 50_000, High: 50_500,
			Low: 49_500, Close: 50_000, Volume: 1000,
		}
	}
	return candles, nil
}

func (e *flatExchange) GetCashBalance(context.Context) (*domain.CashBalance, error) {
	return &domain.CashBalance{Cash: 10_000_000, OrderableCash: 10_000_000}, nil
}

func (e *flatExchange) GetAccountBalance(context.Context) (*domain.AccountBalance, error) {
	return &domain.AccountBalance{TotalEquity: 10_000_000, Cash: 10_000_000}, nil
}

func (e *flatExchange) GetPendingOrders(context.Context) ([]domain.PendingOrder, error) {
	return nil, nil
}

func (e *flatExchange) GetFilledOrders(context.Context) ([]domain.FilledOrder, error) {
	return nil, nil
}

func (e *flatExchange) PlaceBuy(_ context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return &domain.OrderResult{
		OrderID: "ord", AssetID: req.AssetID, Side: req.Side, Status: domain.OrderFilled,
		RequestedQty: req.Quantity, FilledQuantity: req.Quantity, AvgPrice: req.Price,
		ExecutedAt: time.Now(),
	}, nil
}

func (e *flatExchange) PlaceSell(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return e.PlaceBuy(ctx, req)
}

func (e *flatExchange) ModifyOrder(context.Context, string, float64, float64) (*domain.OrderResult, error) {
	return nil, domain.ErrOrderNotFound
}

func (e *flatExchange) CancelOrder(context.Context, string) error { return nil }

func (e *flatExchange) Market() domain.Market { return e.market }

var memCounter int

func newTestServer(t *testing.T) *Server {
	t.Helper()
	memCounter++

	open := func(name string) *database.DB {
		db, err := database.New(database.Config{
			Path: fmt.Sprintf("file:srvtest%d%s?mode=memory&cache=shared", memCounter, name),
			Name: name,
		})
		require.NoError(t, err)
		require.NoError(t, db.Migrate())
		t.Cleanup(func() { db.Close() })
		return db
	}
	ledger, state := open("ledger"), open("state")
	st := store.New(ledger, state)

	clients := map[domain.Market]domain.ExchangeClient{
		domain.MarketCrypto: &flatExchange{market: domain.MarketCrypto},
	}
	hub := notify.NewHub(zerolog.Nop())
	t.Cleanup(hub.Close)
	cal := calendar.New(calendar.Config{}, st.Holidays, zerolog.Nop())
	allocator := portfolio.New(portfolio.Config{
		MaxSinglePositionPct: 0.15, MinCashRatio: 0.20, MaxTotalStockPct: 0.80,
	}, zerolog.Nop())

	var coord *coordinator.Coordinator
	monitor := risk.New(risk.Config{SuddenMoveThresholdPct: 10},
		func(ctx context.Context, assetID string) (float64, error) { return 50_000, nil },
		func(a domain.Alert) { coord.DispatchAlert(a) },
		func(ctx context.Context, e risk.WatchEntry, k domain.AlertKind) { coord.AutoExecute(ctx, e, k) },
		zerolog.Nop())
	coord = coordinator.New(coordinator.Config{MaxDailyTrades: 10, StopLossMode: domain.StopLossUserApproval},
		clients, allocator, monitor, st, cal, hub, zerolog.Nop())

	runner := pipeline.New(pipeline.Config{MaxConcurrent: 2, SlotTimeout: 5 * time.Second, PositionSizePct: 10},
		clients, nil, st.Sessions, hub, coord.Hooks(), zerolog.Nop())
	coord.AttachRunner(runner)

	require.NoError(t, coord.Start(context.Background()))
	t.Cleanup(coord.Stop)

	return New(Config{Port: 0, Coord: coord, Store: st, Hub: hub,
		Databases: []*database.DB{ledger, state}, Log: zerolog.Nop()})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStartAnalysisValidatesMarket(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/analysis",
		map[string]string{"market": "bonds", "asset_id": "X"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartAnalysisAndFetchSession(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/analysis",
		map[string]string{"market": "crypto", "asset_id": "KRW-BTC"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	sessionID := created["session_id"]
	require.NotEmpty(t, sessionID)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/analysis/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, sessionID, sess.ID)
	assert.Equal(t, "KRW-BTC", sess.AssetID)
}

func TestUnknownSessionIs404(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/analysis/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApproveOutsideApprovalWindowIs400(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/analysis",
		map[string]string{"market": "crypto", "asset_id": "KRW-ETH"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// A flat market resolves to hold almost immediately; approving a
	// session that is not suspended is a client error either way.
	require.Eventually(t, func() bool {
		rec := doJSON(t, s.Handler(), http.MethodGet, "/api/analysis/"+created["session_id"], nil)
		var sess domain.Session
		if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
			return false
		}
		return sess.Stage == domain.StageComplete
	}, 10*time.Second, 50*time.Millisecond)

	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/analysis/"+created["session_id"]+"/approve", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStateAndPauseResume(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state coordinator.StateView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, coordinator.ModeActive, state.Mode)

	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/state/pause",
		map[string]string{"reason": "lunch"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, coordinator.ModePaused, s.coord.Mode())

	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/state/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, coordinator.ModeActive, s.coord.Mode())
}

func TestListEndpointsReturnJSON(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/api/positions", "/api/trades", "/api/watchlist", "/api/sessions", "/api/alerts"} {
		rec := doJSON(t, s.Handler(), http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestHealthReportsDatabases(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	dbs, ok := health["databases"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", dbs["ledger"])
	assert.Equal(t, "ok", dbs["state"])
}
