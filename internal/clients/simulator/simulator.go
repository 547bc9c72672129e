// Package simulator is an in-memory domain.ExchangeClient for paper trading
// and tests. Prices follow a seeded random walk around configured bases, so a
// fixed seed gives reproducible sessions. Orders fill immediately against the
// simulated book and mutate the simulated account.
package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// Config seeds the simulated exchange.
type Config struct {
	Market     domain.Market
	Cash       float64
	BasePrices map[string]float64 // assetID → starting price
	Seed       int64
}

// Client simulates an exchange. Safe for concurrent use.
type Client struct {
	market domain.Market

	mu       sync.Mutex
	rng      *rand.Rand
	cash     float64
	prices   map[string]float64
	bases    map[string]float64
	holdings map[string]*domain.Holding
	fills    []domain.FilledOrder
	log      zerolog.Logger
}

var _ domain.ExchangeClient = (*Client)(nil)

// New creates a simulated exchange.
func New(cfg Config, log zerolog.Logger) *Client {
	prices := make(map[string]float64, len(cfg.BasePrices))
	bases := make(map[string]float64, len(cfg.BasePrices))
	for id, p := range cfg.BasePrices {
		prices[id] = p
		bases[id] = p
	}
	return &Client{
		market:   cfg.Market,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		cash:     cfg.Cash,
		prices:   prices,
		bases:    bases,
		holdings: make(map[string]*domain.Holding),
		log:      log.With().Str("component", "simulator").Logger(),
	}
}

// Market returns the asset domain this client simulates.
func (c *Client) Market() domain.Market { return c.market }

// SetPrice pins an asset's price. Tests use it to trigger stop-loss and
// sudden-move paths deterministically.
func (c *Client) SetPrice(assetID string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[assetID] = price
	if _, ok := c.bases[assetID]; !ok {
		c.bases[assetID] = price
	}
}

// step advances the walk for one asset by up to ±0.5%.
func (c *Client) step(assetID string) float64 {
	p, ok := c.prices[assetID]
	if !ok {
		return 0
	}
	p *= 1 + (c.rng.Float64()-0.5)*0.01
	c.prices[assetID] = p
	return p
}

func (c *Client) GetAsset(ctx context.Context, assetID string) (*domain.AssetInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price := c.step(assetID)
	if price == 0 {
		return nil, domain.NewClientError(domain.ErrInvalidAsset, "get_asset", 0, "unknown asset "+assetID)
	}
	base := c.bases[assetID]
	return &domain.AssetInfo{
		AssetID:   assetID,
		Name:      assetID,
		Price:     price,
		ChangePct: (price/base - 1) * 100,
		Volume:    1_000_000 * (0.5 + c.rng.Float64()),
		AvgVolume: 1_000_000,
		High52w:   base * 1.4,
		Low52w:    base * 0.7,
		PER:       12 + 8*c.rng.Float64(),
		PBR:       0.8 + c.rng.Float64(),
		EPS:       base / 12,
	}, nil
}

func (c *Client) GetOrderbook(ctx context.Context, assetID string) (*domain.Orderbook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price, ok := c.prices[assetID]
	if !ok {
		return nil, domain.NewClientError(domain.ErrInvalidAsset, "get_orderbook", 0, "unknown asset "+assetID)
	}

	ob := &domain.Orderbook{AssetID: assetID}
	for i := 1; i <= 5; i++ {
		bidQty := 100 + 400*c.rng.Float64()
		askQty := 100 + 400*c.rng.Float64()
		ob.Bids = append(ob.Bids, domain.OrderbookLevel{Price: price * (1 - 0.001*float64(i)), Quantity: bidQty})
		ob.Asks = append(ob.Asks, domain.OrderbookLevel{Price: price * (1 + 0.001*float64(i)), Quantity: askQty})
		ob.BidTotal += bidQty
		ob.AskTotal += askQty
	}
	return ob, nil
}

func (c *Client) GetChart(ctx context.Context, assetID string, days int) ([]domain.Candle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price, ok := c.prices[assetID]
	if !ok {
		return nil, domain.NewClientError(domain.ErrInvalidAsset, "get_chart", 0, "unknown asset "+assetID)
	}

	// Walk backwards from today so the last candle closes at the live price.
	candles := make([]domain.Candle, days)
	p := price
	now := time.Now().Truncate(24 * time.Hour)
	for i := days - 1; i >= 0; i-- {
		open := p * (1 + (c.rng.Float64()-0.5)*0.02)
		candles[i] = domain.Candle{
			Date:   now.AddDate(0, 0, i-days+1),
			Open:   open,
			High:   math.Max(open, p) * 1.01,
			Low:    math.Min(open, p) * 0.99,
			Close:  p,
			Volume: 1_000_000 * (0.5 + c.rng.Float64()),
		}
		p = open
	}
	return candles, nil
}

func (c *Client) GetCashBalance(ctx context.Context) (*domain.CashBalance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &domain.CashBalance{Cash: c.cash, OrderableCash: c.cash}, nil
}

func (c *Client) GetAccountBalance(ctx context.Context) (*domain.AccountBalance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ab := &domain.AccountBalance{Cash: c.cash}
	for _, h := range c.holdings {
		snap := *h
		snap.CurrentPrice = c.prices[h.AssetID]
		ab.Holdings = append(ab.Holdings, snap)
		ab.StockValue += snap.Quantity * snap.CurrentPrice
	}
	ab.TotalEquity = ab.Cash + ab.StockValue
	return ab, nil
}

func (c *Client) GetPendingOrders(ctx context.Context) ([]domain.PendingOrder, error) {
	// Fills are immediate, nothing ever rests in the book.
	return nil, nil
}

func (c *Client) GetFilledOrders(ctx context.Context) ([]domain.FilledOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.FilledOrder, len(c.fills))
	copy(out, c.fills)
	return out, nil
}

func (c *Client) PlaceBuy(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price := c.fillPrice(req)
	if price == 0 {
		return nil, domain.NewClientError(domain.ErrInvalidAsset, "place_buy", 0, "unknown asset "+req.AssetID)
	}
	cost := price * req.Quantity
	if cost > c.cash {
		return nil, domain.NewClientError(domain.ErrInsufficientBalance, "place_buy", 0,
			fmt.Sprintf("need %.0f, have %.0f", cost, c.cash))
	}

	c.cash -= cost
	h, ok := c.holdings[req.AssetID]
	if !ok {
		h = &domain.Holding{AssetID: req.AssetID, Name: req.AssetID}
		c.holdings[req.AssetID] = h
	}
	total := h.AvgCost*h.Quantity + cost
	h.Quantity += req.Quantity
	h.AvgCost = total / h.Quantity

	return c.recordFill(req, price), nil
}

func (c *Client) PlaceSell(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	price := c.fillPrice(req)
	if price == 0 {
		return nil, domain.NewClientError(domain.ErrInvalidAsset, "place_sell", 0, "unknown asset "+req.AssetID)
	}
	h, ok := c.holdings[req.AssetID]
	if !ok || h.Quantity < req.Quantity {
		return nil, domain.NewClientError(domain.ErrInsufficientBalance, "place_sell", 0, "not enough quantity held")
	}

	h.Quantity -= req.Quantity
	if h.Quantity <= 0 {
		delete(c.holdings, req.AssetID)
	}
	c.cash += price * req.Quantity

	return c.recordFill(req, price), nil
}

// fillPrice executes at the limit when given, otherwise at the live price.
func (c *Client) fillPrice(req domain.OrderRequest) float64 {
	live, ok := c.prices[req.AssetID]
	if !ok {
		return 0
	}
	if req.OrderType == domain.OrderTypeLimit && req.Price > 0 {
		return req.Price
	}
	return live
}

func (c *Client) recordFill(req domain.OrderRequest, price float64) *domain.OrderResult {
	id := uuid.NewString()
	c.fills = append(c.fills, domain.FilledOrder{
		OrderID:    id,
		AssetID:    req.AssetID,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      price,
		ExecutedAt: time.Now(),
	})
	c.log.Debug().Str("asset", req.AssetID).Str("side", req.Side).
		Float64("qty", req.Quantity).Float64("price", price).Msg("Simulated fill")
	return &domain.OrderResult{
		OrderID:        id,
		AssetID:        req.AssetID,
		Side:           req.Side,
		Status:         domain.OrderFilled,
		RequestedQty:   req.Quantity,
		FilledQuantity: req.Quantity,
		AvgPrice:       price,
		ExecutedAt:     time.Now(),
	}
}

func (c *Client) ModifyOrder(ctx context.Context, orderID string, price, quantity float64) (*domain.OrderResult, error) {
	return nil, domain.NewClientError(domain.ErrOrderNotFound, "modify_order", 0, "simulated fills are immediate")
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return domain.NewClientError(domain.ErrOrderNotFound, "cancel_order", 0, "simulated fills are immediate")
}
