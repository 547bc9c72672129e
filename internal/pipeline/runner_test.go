package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daehwan-kim/stockpilot/internal/database"
	"github.com/daehwan-kim/stockpilot/internal/domain"
	"github.com/daehwan-kim/stockpilot/internal/store"
)

// mockExchange is a deterministic ExchangeClient for pipeline tests.
type mockExchange struct {
	mu      sync.Mutex
	asset   domain.AssetInfo
	candles []domain.Candle
	book    domain.Orderbook
	cash    domain.CashBalance
	balance domain.AccountBalance
	market  domain.Market
}

func (m *mockExchange) GetAsset(ctx context.Context, assetID string) (*domain.AssetInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.asset
	return &a, nil
}

func (m *mockExchange) GetOrderbook(ctx context.Context, assetID string) (*domain.Orderbook, error) {
	b := m.book
	return &b, nil
}

func (m *mockExchange) GetChart(ctx context.Context, assetID string, days int) ([]domain.Candle, error) {
	return m.candles, nil
}

func (m *mockExchange) GetCashBalance(ctx context.Context) (*domain.CashBalance, error) {
	c := m.cash
	return &c, nil
}

func (m *mockExchange) GetAccountBalance(ctx context.Context) (*domain.AccountBalance, error) {
	b := m.balance
	return &b, nil
}

func (m *mockExchange) GetPendingOrders(ctx context.Context) ([]domain.PendingOrder, error) {
	return nil, nil
}

func (m *mockExchange) GetFilledOrders(ctx context.Context) ([]domain.FilledOrder, error) {
	return nil, nil
}

func (m *mockExchange) PlaceBuy(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return &domain.OrderResult{Status: domain.OrderFilled}, nil
}

func (m *mockExchange) PlaceSell(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return &domain.OrderResult{Status: domain.OrderFilled}, nil
}

func (m *mockExchange) ModifyOrder(ctx context.Context, orderID string, price, quantity float64) (*domain.OrderResult, error) {
	return nil, domain.ErrOrderNotFound
}

func (m *mockExchange) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (m *mockExchange) Market() domain.Market { return m.market }

// buyableExchange returns a mock whose fundamentals force a buy consensus.
func buyableExchange() *mockExchange {
	candles := make([]domain.Candle, 60)
	price := 70000.0
	for i := range candles {
		candles[i] = domain.Candle{Close: price, Volume: 1_000_000}
		price *= 1.0002
	}
	return &mockExchange{
		market: domain.MarketStock,
		asset: domain.AssetInfo{
			AssetID: "005930", Name: "Samsung Electronics", Price: 70000,
			ChangePct: 0.5, PER: 6, PBR: 0.4, EPS: 5000,
			High52w: 90000, Low52w: 50000,
		},
		candles: candles,
		book:    domain.Orderbook{BidTotal: 100, AskTotal: 100},
		cash:    domain.CashBalance{Cash: 10_000_000, OrderableCash: 10_000_000},
	}
}

func newTestRunner(t *testing.T, ex *mockExchange, hooks Hooks) *Runner {
	t.Helper()
	r := New(Config{MaxConcurrent: 2, SlotTimeout: 5 * time.Second, PositionSizePct: 10},
		map[domain.Market]domain.ExchangeClient{domain.MarketStock: ex},
		nil, nil, nil, hooks, zerolog.Nop())
	t.Cleanup(r.Stop)
	return r
}

func waitForStage(t *testing.T, r *Runner, id string, stage domain.Stage) *domain.Session {
	t.Helper()
	var got *domain.Session
	require.Eventually(t, func() bool {
		s, err := r.GetStatus(id)
		if err != nil {
			return false
		}
		got = s
		return s.Stage == stage
	}, 5*time.Second, 10*time.Millisecond, "session never reached stage %s", stage)
	return got
}

func TestApprovalResumesIntoSingleExecution(t *testing.T) {
	var executions int32
	hooks := Hooks{
		ExecuteTrade: func(ctx context.Context, sess *domain.Session, override float64) (string, error) {
			atomic.AddInt32(&executions, 1)
			return "filled", nil
		},
	}
	r := newTestRunner(t, buyableExchange(), hooks)

	id, err := r.StartAnalysis(domain.MarketStock, "005930", "")
	require.NoError(t, err)

	sess := waitForStage(t, r, id, domain.StageApproval)
	assert.True(t, sess.AwaitingApproval)
	require.NotNil(t, sess.Proposal)
	assert.Equal(t, domain.ActionBuy, sess.Proposal.Action)
	assert.Equal(t, 14.0, sess.Proposal.Quantity, "floor(1,000,000 / 70,000)")
	assert.Len(t, sess.Analyses, 4, "three voters plus risk")

	// The proposal carries the consensus the action was resolved from.
	assert.Contains(t, []domain.Signal{domain.SignalBuy, domain.SignalStrongBuy}, sess.Proposal.Signal)
	assert.Greater(t, sess.Proposal.Confidence, 0.0)

	require.NoError(t, r.Approve(id, 0))
	sess = waitForStage(t, r, id, domain.StageComplete)
	assert.Equal(t, int32(1), atomic.LoadInt32(&executions), "exactly one execution")
	assert.Equal(t, domain.ApprovalApproved, sess.Approval)
	assert.Empty(t, sess.Error)
}

func TestRejectResetsAndReanalyzes(t *testing.T) {
	r := newTestRunner(t, buyableExchange(), Hooks{})

	id, err := r.StartAnalysis(domain.MarketStock, "005930", "")
	require.NoError(t, err)
	waitForStage(t, r, id, domain.StageApproval)

	require.NoError(t, r.Reject(id, "wait for earnings"))

	// The pipeline walks back through the stages and suspends again.
	var sess *domain.Session
	require.Eventually(t, func() bool {
		s, err := r.GetStatus(id)
		if err != nil {
			return false
		}
		sess = s
		return s.Stage == domain.StageApproval && s.ReanalysisCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, sess.ReanalysisCount)
	assert.Equal(t, "wait for earnings", sess.UserFeedback)
	assert.Len(t, sess.Analyses, 4, "prior results cleared, fresh results present")
	assert.True(t, sess.AwaitingApproval)
}

func TestCancelBeforeSynthesisMarksCancelled(t *testing.T) {
	r := newTestRunner(t, buyableExchange(), Hooks{})

	id, err := r.StartAnalysis(domain.MarketStock, "005930", "")
	require.NoError(t, err)
	waitForStage(t, r, id, domain.StageApproval)

	require.NoError(t, r.Cancel(id))
	sess := waitForStage(t, r, id, domain.StageComplete)
	assert.True(t, sess.Cancelled)
}

func TestHeldPositionResolvesToAdd(t *testing.T) {
	ex := buyableExchange()
	// Held at a loss: buy consensus on a held position resolves to add.
	ex.balance = domain.AccountBalance{
		Holdings: []domain.Holding{{AssetID: "005930", Quantity: 10, AvgCost: 84000, CurrentPrice: 70000}},
	}
	r := newTestRunner(t, ex, Hooks{})

	id, err := r.StartAnalysis(domain.MarketStock, "005930", "")
	require.NoError(t, err)
	sess := waitForStage(t, r, id, domain.StageApproval)
	require.NotNil(t, sess.Proposal)
	assert.Equal(t, domain.ActionAdd, sess.Proposal.Action)
}

func TestUnknownMarketRejected(t *testing.T) {
	r := newTestRunner(t, buyableExchange(), Hooks{})
	_, err := r.StartAnalysis(domain.MarketCrypto, "KRW-BTC", "")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestDoubleApproveRejected(t *testing.T) {
	block := make(chan struct{})
	hooks := Hooks{
		ExecuteTrade: func(ctx context.Context, sess *domain.Session, override float64) (string, error) {
			<-block
			return "filled", nil
		},
	}
	r := newTestRunner(t, buyableExchange(), hooks)

	id, err := r.StartAnalysis(domain.MarketStock, "005930", "")
	require.NoError(t, err)
	waitForStage(t, r, id, domain.StageApproval)

	require.NoError(t, r.Approve(id, 0))
	err = r.Approve(id, 0)
	assert.Error(t, err, "second decision on a resolved session must fail")
	close(block)
}

func TestFinishedSessionsAreEvicted(t *testing.T) {
	r := newTestRunner(t, buyableExchange(), Hooks{})

	for i := 0; i < maxFinishedSessions+10; i++ {
		id := fmt.Sprintf("done-%d", i)
		r.mu.Lock()
		r.sessions[id] = &sessionState{sess: &domain.Session{ID: id, Stage: domain.StageComplete}}
		r.mu.Unlock()
		r.retire(id)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Len(t, r.sessions, maxFinishedSessions)
	_, evicted := r.sessions["done-0"]
	assert.False(t, evicted, "oldest finished session must be dropped")
	_, kept := r.sessions[fmt.Sprintf("done-%d", maxFinishedSessions+9)]
	assert.True(t, kept)
}

func TestEvictedSessionServedFromRepository(t *testing.T) {
	db, err := database.New(database.Config{
		Path: "file:pipeevict?mode=memory&cache=shared", Name: "state",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	st := store.New(db, db)

	r := New(Config{MaxConcurrent: 2, SlotTimeout: 5 * time.Second, PositionSizePct: 10},
		map[domain.Market]domain.ExchangeClient{domain.MarketStock: buyableExchange()},
		nil, st.Sessions, nil, Hooks{}, zerolog.Nop())
	t.Cleanup(r.Stop)

	// Persisted but no longer in the in-memory map, as after eviction.
	require.NoError(t, st.Sessions.Save(context.Background(), &domain.Session{
		ID: "gone", AssetID: "005930", Market: domain.MarketStock,
		Stage: domain.StageComplete, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	sess, err := r.GetStatus("gone")
	require.NoError(t, err)
	assert.Equal(t, "gone", sess.ID)
	assert.Equal(t, domain.StageComplete, sess.Stage)

	_, err = r.GetStatus("never-existed")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
