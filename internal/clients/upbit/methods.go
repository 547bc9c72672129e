package upbit

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// GetAsset returns the quote snapshot for a KRW market ("KRW-BTC").
// Fundamental fields stay zero; crypto assets have no filings.
func (c *Client) GetAsset(ctx context.Context, assetID string) (*domain.AssetInfo, error) {
	return cachedQuery(ctx, c, "stock_info:"+assetID, func() (*domain.AssetInfo, error) {
		tickers, err := c.fetchTickers(ctx, "get_asset", []string{assetID})
		if err != nil {
			return nil, err
		}
		t := tickers[0]
		return &domain.AssetInfo{
			AssetID:   assetID,
			Name:      currencyOf(assetID),
			Price:     t.TradePrice,
			ChangePct: t.SignedChangeRate * 100,
			Volume:    t.AccTradeVolume,
			High52w:   t.Highest52wPrice,
			Low52w:    t.Lowest52wPrice,
			MarketCap: t.AccTradePrice,
		}, nil
	})
}

// GetOrderbook returns the current depth snapshot.
func (c *Client) GetOrderbook(ctx context.Context, assetID string) (*domain.Orderbook, error) {
	return cachedQuery(ctx, c, "orderbook:"+assetID, func() (*domain.Orderbook, error) {
		params := url.Values{"markets": {assetID}}
		var out []orderbookDTO
		if err := c.call(ctx, "get_orderbook", "GET", "/v1/orderbook", params, false, &out); err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, domain.NewClientError(domain.ErrInvalidAsset, "get_orderbook", 0, "no orderbook for "+assetID)
		}

		ob := &domain.Orderbook{
			AssetID:  assetID,
			BidTotal: out[0].TotalBidSize,
			AskTotal: out[0].TotalAskSize,
		}
		for _, u := range out[0].Units {
			ob.Bids = append(ob.Bids, domain.OrderbookLevel{Price: u.BidPrice, Quantity: u.BidSize})
			ob.Asks = append(ob.Asks, domain.OrderbookLevel{Price: u.AskPrice, Quantity: u.AskSize})
		}
		return ob, nil
	})
}

type chartResult struct {
	Candles []domain.Candle `msgpack:"candles"`
}

// GetChart returns up to days daily candles, oldest first.
func (c *Client) GetChart(ctx context.Context, assetID string, days int) ([]domain.Candle, error) {
	key := fmt.Sprintf("daily_chart:%s:%d", assetID, days)
	result, err := cachedQuery(ctx, c, key, func() (*chartResult, error) {
		count := days
		if count > 200 {
			count = 200
		}
		params := url.Values{
			"market": {assetID},
			"count":  {fmt.Sprintf("%d", count)},
		}
		var out []candleDTO
		if err := c.call(ctx, "get_chart", "GET", "/v1/candles/days", params, false, &out); err != nil {
			return nil, err
		}

		candles := make([]domain.Candle, 0, len(out))
		for _, bar := range out {
			candles = append(candles, domain.Candle{
				Date:   bar.date(),
				Open:   bar.OpeningPrice,
				High:   bar.HighPrice,
				Low:    bar.LowPrice,
				Close:  bar.TradePrice,
				Volume: bar.CandleAccVolume,
			})
		}
		// Upstream returns newest first; flip to oldest first for indicators.
		for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
			candles[i], candles[j] = candles[j], candles[i]
		}
		return &chartResult{Candles: candles}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.Candles, nil
}

func (c *Client) fetchAccounts(ctx context.Context, op string) ([]accountDTO, error) {
	var out []accountDTO
	if err := c.call(ctx, op, "GET", "/v1/accounts", nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCashBalance returns the free KRW balance.
func (c *Client) GetCashBalance(ctx context.Context) (*domain.CashBalance, error) {
	return cachedQuery(ctx, c, "cash_balance:upbit", func() (*domain.CashBalance, error) {
		accounts, err := c.fetchAccounts(ctx, "get_cash_balance")
		if err != nil {
			return nil, err
		}
		for _, a := range accounts {
			if a.isCash() {
				free, _ := a.Balance.Float64()
				locked, _ := a.Locked.Float64()
				return &domain.CashBalance{Cash: free + locked, OrderableCash: free}, nil
			}
		}
		return &domain.CashBalance{}, nil
	})
}

// GetAccountBalance derives equity and holdings from the balance lines plus
// one batched ticker lookup for every held market.
func (c *Client) GetAccountBalance(ctx context.Context) (*domain.AccountBalance, error) {
	return cachedQuery(ctx, c, "account_balance:upbit", func() (*domain.AccountBalance, error) {
		accounts, err := c.fetchAccounts(ctx, "get_account_balance")
		if err != nil {
			return nil, err
		}

		ab := &domain.AccountBalance{}
		var markets []string
		held := make([]accountDTO, 0, len(accounts))
		for _, a := range accounts {
			if a.isCash() {
				free, _ := a.Balance.Float64()
				locked, _ := a.Locked.Float64()
				ab.Cash = free + locked
				continue
			}
			if a.Balance.Add(a.Locked).IsZero() {
				continue
			}
			held = append(held, a)
			markets = append(markets, a.marketID())
		}

		prices := make(map[string]float64, len(markets))
		if len(markets) > 0 {
			tickers, err := c.fetchTickers(ctx, "get_account_balance", markets)
			if err != nil {
				return nil, err
			}
			for _, t := range tickers {
				prices[t.Market] = t.TradePrice
			}
		}

		for _, a := range held {
			qty, _ := a.Balance.Add(a.Locked).Float64()
			avgCost, _ := a.AvgBuyPrice.Float64()
			price := prices[a.marketID()]
			ab.Holdings = append(ab.Holdings, domain.Holding{
				AssetID:      a.marketID(),
				Name:         a.Currency,
				Quantity:     qty,
				AvgCost:      avgCost,
				CurrentPrice: price,
			})
			ab.StockValue += qty * price
		}
		ab.TotalEquity = ab.Cash + ab.StockValue
		return ab, nil
	})
}

type pendingOrdersResult struct {
	Orders []domain.PendingOrder `msgpack:"orders"`
}

// GetPendingOrders returns orders still waiting in the book.
func (c *Client) GetPendingOrders(ctx context.Context) ([]domain.PendingOrder, error) {
	result, err := cachedQuery(ctx, c, "pending_orders:upbit", func() (*pendingOrdersResult, error) {
		params := url.Values{"state": {"wait"}}
		var out []orderDTO
		if err := c.call(ctx, "get_pending_orders", "GET", "/v1/orders", params, true, &out); err != nil {
			return nil, err
		}
		res := &pendingOrdersResult{}
		for _, o := range out {
			qty, _ := o.RemainingVolume.Float64()
			price, _ := o.Price.Float64()
			res.Orders = append(res.Orders, domain.PendingOrder{
				OrderID:  o.UUID,
				AssetID:  o.Market,
				Side:     o.domainSide(),
				Quantity: qty,
				Price:    price,
			})
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return result.Orders, nil
}

type filledOrdersResult struct {
	Orders []domain.FilledOrder `msgpack:"orders"`
}

// GetFilledOrders returns completed orders.
func (c *Client) GetFilledOrders(ctx context.Context) ([]domain.FilledOrder, error) {
	result, err := cachedQuery(ctx, c, "filled_orders:upbit", func() (*filledOrdersResult, error) {
		params := url.Values{"state": {"done"}}
		var out []orderDTO
		if err := c.call(ctx, "get_filled_orders", "GET", "/v1/orders", params, true, &out); err != nil {
			return nil, err
		}
		res := &filledOrdersResult{}
		for _, o := range out {
			qty, _ := o.ExecutedVolume.Float64()
			price, _ := o.Price.Float64()
			res.Orders = append(res.Orders, domain.FilledOrder{
				OrderID:    o.UUID,
				AssetID:    o.Market,
				Side:       o.domainSide(),
				Quantity:   qty,
				Price:      price,
				ExecutedAt: o.createdAt(),
			})
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return result.Orders, nil
}

// PlaceBuy submits a bid order.
func (c *Client) PlaceBuy(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return c.placeOrder(ctx, "place_buy", "bid", req)
}

// PlaceSell submits an ask order.
func (c *Client) PlaceSell(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return c.placeOrder(ctx, "place_sell", "ask", req)
}

func (c *Client) placeOrder(ctx context.Context, op, side string, req domain.OrderRequest) (*domain.OrderResult, error) {
	qty := decimal.NewFromFloat(req.Quantity)
	price := decimal.NewFromFloat(req.Price)

	params := url.Values{
		"market": {req.AssetID},
		"side":   {side},
	}
	switch {
	case req.OrderType == domain.OrderTypeMarket && side == "bid":
		// Market buys are notional-denominated on this exchange.
		params.Set("ord_type", "price")
		params.Set("price", price.Mul(qty).String())
	case req.OrderType == domain.OrderTypeMarket:
		params.Set("ord_type", "market")
		params.Set("volume", qty.String())
	default:
		params.Set("ord_type", "limit")
		params.Set("volume", qty.String())
		params.Set("price", price.String())
	}

	var out orderDTO
	if err := c.call(ctx, op, "POST", "/v1/orders", params, true, &out); err != nil {
		return nil, err
	}

	c.cache.InvalidateAccount(ctx)

	// Accepted limit orders are reported as filled at the limit; the order
	// agent reconciles against actual fills on the next account refresh.
	return &domain.OrderResult{
		OrderID:        out.UUID,
		AssetID:        req.AssetID,
		Side:           req.Side,
		Status:         domain.OrderFilled,
		RequestedQty:   req.Quantity,
		FilledQuantity: req.Quantity,
		AvgPrice:       req.Price,
		ExecutedAt:     time.Now(),
	}, nil
}

// ModifyOrder replaces a pending order: the exchange has no amend, so the
// original is cancelled and a fresh limit order placed at the new terms.
func (c *Client) ModifyOrder(ctx context.Context, orderID string, price, quantity float64) (*domain.OrderResult, error) {
	params := url.Values{"uuid": {orderID}}
	var cancelled orderDTO
	if err := c.call(ctx, "modify_order", "DELETE", "/v1/order", params, true, &cancelled); err != nil {
		return nil, err
	}

	req := domain.OrderRequest{
		AssetID:   cancelled.Market,
		Side:      cancelled.domainSide(),
		Quantity:  quantity,
		Price:     price,
		OrderType: domain.OrderTypeLimit,
	}
	side := "bid"
	if req.Side == "sell" {
		side = "ask"
	}
	return c.placeOrder(ctx, "modify_order", side, req)
}

// CancelOrder cancels a pending order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	params := url.Values{"uuid": {orderID}}
	var out orderDTO
	if err := c.call(ctx, "cancel_order", "DELETE", "/v1/order", params, true, &out); err != nil {
		return err
	}
	c.cache.InvalidateAccount(ctx)
	return nil
}
