package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

func TestTickSizeBands(t *testing.T) {
	cases := map[float64]float64{
		1_500:     1,
		2_000:     5,
		4_900:     5,
		5_000:     10,
		19_990:    10,
		20_000:    50,
		49_950:    50,
		50_000:    100,
		199_900:   100,
		200_000:   500,
		499_500:   500,
		500_000:   1000,
		1_000_000: 1000,
	}
	for price, want := range cases {
		assert.Equal(t, want, tickSize(price), "price %v", price)
	}
}

func TestRoundToTickDirection(t *testing.T) {
	// Buys round up, sells round down.
	assert.Equal(t, 50_100.0, RoundToTick(domain.MarketStock, 50_050, "buy"))
	assert.Equal(t, 50_000.0, RoundToTick(domain.MarketStock, 50_050, "sell"))
	assert.Equal(t, 2_005.0, RoundToTick(domain.MarketStock, 2_001, "buy"))
	assert.Equal(t, 2_000.0, RoundToTick(domain.MarketStock, 2_001, "sell"))
}

func TestRoundToTickIdempotent(t *testing.T) {
	for _, price := range []float64{1_234, 7_777, 23_456, 67_890, 234_567, 876_543} {
		for _, side := range []string{"buy", "sell"} {
			once := RoundToTick(domain.MarketStock, price, side)
			twice := RoundToTick(domain.MarketStock, once, side)
			assert.Equal(t, once, twice, "price %v side %s", price, side)
		}
	}
}

func TestCryptoPricesPassThrough(t *testing.T) {
	assert.Equal(t, 52_123_456.78, RoundToTick(domain.MarketCrypto, 52_123_456.78, "buy"))
}

// orderRecorder implements domain.ExchangeClient recording placed orders.
type orderRecorder struct {
	mu     sync.Mutex
	orders []domain.OrderRequest
	times  []time.Time
	fail   error
	price  float64 // Fill price; falls back to the request price when zero
	market domain.Market
}

func (o *orderRecorder) place(req domain.OrderRequest) (*domain.OrderResult, error) {
	o.mu.Lock()
	o.orders = append(o.orders, req)
	o.times = append(o.times, time.Now())
	o.mu.Unlock()
	if o.fail != nil {
		return nil, o.fail
	}
	price := o.price
	if price == 0 {
		price = req.Price
	}
	return &domain.OrderResult{
		OrderID: "ord", AssetID: req.AssetID, Side: req.Side,
		Status: domain.OrderFilled, RequestedQty: req.Quantity,
		FilledQuantity: req.Quantity, AvgPrice: price, ExecutedAt: time.Now(),
	}, nil
}

func (o *orderRecorder) PlaceBuy(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return o.place(req)
}

func (o *orderRecorder) PlaceSell(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return o.place(req)
}

func (o *orderRecorder) GetAsset(context.Context, string) (*domain.AssetInfo, error) { return nil, nil }
func (o *orderRecorder) GetOrderbook(context.Context, string) (*domain.Orderbook, error) {
	return nil, nil
}
func (o *orderRecorder) GetChart(context.Context, string, int) ([]domain.Candle, error) {
	return nil, nil
}
func (o *orderRecorder) GetCashBalance(context.Context) (*domain.CashBalance, error) {
	return nil, nil
}
func (o *orderRecorder) GetAccountBalance(context.Context) (*domain.AccountBalance, error) {
	return nil, nil
}
func (o *orderRecorder) GetPendingOrders(context.Context) ([]domain.PendingOrder, error) {
	return nil, nil
}
func (o *orderRecorder) GetFilledOrders(context.Context) ([]domain.FilledOrder, error) {
	return nil, nil
}
func (o *orderRecorder) ModifyOrder(context.Context, string, float64, float64) (*domain.OrderResult, error) {
	return nil, domain.ErrOrderNotFound
}
func (o *orderRecorder) CancelOrder(context.Context, string) error { return nil }
func (o *orderRecorder) Market() domain.Market                     { return o.market }

func TestSmallOrderIsNotSplit(t *testing.T) {
	rec := &orderRecorder{market: domain.MarketStock}
	a := New(Config{SplitThreshold: 100}, rec, zerolog.Nop())

	result := a.ExecuteOrder(context.Background(), domain.OrderRequest{
		AssetID: "A", Side: "buy", Quantity: 20, Price: 50_000, OrderType: domain.OrderTypeLimit,
	}, true)

	assert.Equal(t, domain.OrderFilled, result.Status)
	assert.Equal(t, 20.0, result.FilledQuantity)
	assert.Len(t, rec.orders, 1)
}

func TestSplitExecutionArithmetic(t *testing.T) {
	rec := &orderRecorder{market: domain.MarketStock}
	a := New(Config{SplitThreshold: 100}, rec, zerolog.Nop())

	start := time.Now()
	result := a.ExecuteOrder(context.Background(), domain.OrderRequest{
		AssetID: "A", Side: "buy", Quantity: 300, Price: 10_000, OrderType: domain.OrderTypeLimit,
	}, true)

	require.Len(t, rec.orders, 3)
	assert.Equal(t, 100.0, rec.orders[0].Quantity)
	assert.Equal(t, 100.0, rec.orders[1].Quantity)
	assert.Equal(t, 100.0, rec.orders[2].Quantity)
	assert.Equal(t, domain.OrderFilled, result.Status)
	assert.Equal(t, 300.0, result.FilledQuantity)
	assert.Equal(t, 10_000.0, result.AvgPrice)

	// Two pauses of ~1.5 s between three sub-orders.
	assert.GreaterOrEqual(t, time.Since(start), 2800*time.Millisecond)
	assert.GreaterOrEqual(t, rec.times[1].Sub(rec.times[0]), 1400*time.Millisecond)
}

func TestSplitRemainderGoesLast(t *testing.T) {
	rec := &orderRecorder{market: domain.MarketStock}
	a := New(Config{SplitThreshold: 100}, rec, zerolog.Nop())

	a.ExecuteOrder(context.Background(), domain.OrderRequest{
		AssetID: "A", Side: "buy", Quantity: 305, Price: 10_000, OrderType: domain.OrderTypeLimit,
	}, true)

	require.Len(t, rec.orders, 3)
	assert.Equal(t, 101.0, rec.orders[0].Quantity)
	assert.Equal(t, 101.0, rec.orders[1].Quantity)
	assert.Equal(t, 103.0, rec.orders[2].Quantity)
}

func TestFailureYieldsRejectedResultNotError(t *testing.T) {
	rec := &orderRecorder{market: domain.MarketStock, fail: domain.ErrInsufficientBalance}
	a := New(Config{}, rec, zerolog.Nop())

	result := a.ExecuteOrder(context.Background(), domain.OrderRequest{
		AssetID: "A", Side: "buy", Quantity: 10, Price: 50_000, OrderType: domain.OrderTypeLimit,
	}, true)

	require.NotNil(t, result)
	assert.Equal(t, domain.OrderRejected, result.Status)
	assert.Zero(t, result.FilledQuantity)
	assert.NotEmpty(t, result.Message)
}

func TestLimitPriceRoundedBeforeSubmission(t *testing.T) {
	rec := &orderRecorder{market: domain.MarketStock}
	a := New(Config{}, rec, zerolog.Nop())

	a.ExecuteOrder(context.Background(), domain.OrderRequest{
		AssetID: "A", Side: "buy", Quantity: 5, Price: 50_050, OrderType: domain.OrderTypeLimit,
	}, true)

	require.Len(t, rec.orders, 1)
	assert.Equal(t, 50_100.0, rec.orders[0].Price)
}
