package kiwoom

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// GetAsset returns the quote snapshot for a stock code.
func (c *Client) GetAsset(ctx context.Context, assetID string) (*domain.AssetInfo, error) {
	return cachedQuery(ctx, c, "stock_info:"+assetID, func() (*domain.AssetInfo, error) {
		var out stockInfoResponse
		if err := c.call(ctx, "get_asset", "ka10001", map[string]string{"stk_cd": assetID}, &out); err != nil {
			return nil, err
		}
		return &domain.AssetInfo{
			AssetID:   assetID,
			Name:      out.Name,
			Price:     out.Price.Float(),
			ChangePct: out.ChangeRate.Float(),
			Volume:    out.Volume.Float(),
			AvgVolume: out.AvgVolume.Float(),
			High52w:   out.High52w.Float(),
			Low52w:    out.Low52w.Float(),
			PER:       out.PER.Float(),
			PBR:       out.PBR.Float(),
			EPS:       out.EPS.Float(),
			MarketCap: out.MarketCap.Float(),
		}, nil
	})
}

// GetOrderbook returns the current depth snapshot.
func (c *Client) GetOrderbook(ctx context.Context, assetID string) (*domain.Orderbook, error) {
	return cachedQuery(ctx, c, "orderbook:"+assetID, func() (*domain.Orderbook, error) {
		var out orderbookResponse
		if err := c.call(ctx, "get_orderbook", "ka10004", map[string]string{"stk_cd": assetID}, &out); err != nil {
			return nil, err
		}
		ob := &domain.Orderbook{
			AssetID:  assetID,
			BidTotal: out.BidTotal.Float(),
			AskTotal: out.AskTotal.Float(),
		}
		for _, lvl := range out.Bids {
			ob.Bids = append(ob.Bids, domain.OrderbookLevel{Price: lvl.Price.Float(), Quantity: lvl.Quantity.Float()})
		}
		for _, lvl := range out.Asks {
			ob.Asks = append(ob.Asks, domain.OrderbookLevel{Price: lvl.Price.Float(), Quantity: lvl.Quantity.Float()})
		}
		return ob, nil
	})
}

// chartResult wraps the slice so the cache codec has a struct to encode.
type chartResult struct {
	Candles []domain.Candle `msgpack:"candles"`
}

// GetChart returns up to days daily candles, oldest first.
func (c *Client) GetChart(ctx context.Context, assetID string, days int) ([]domain.Candle, error) {
	key := fmt.Sprintf("daily_chart:%s:%d", assetID, days)
	result, err := cachedQuery(ctx, c, key, func() (*chartResult, error) {
		var out chartResponse
		body := map[string]string{
			"stk_cd":       assetID,
			"base_dt":      time.Now().Format("20060102"),
			"upd_stkpc_tp": "1",
		}
		if err := c.call(ctx, "get_chart", "ka10081", body, &out); err != nil {
			return nil, err
		}
		candles := make([]domain.Candle, 0, len(out.Bars))
		for _, bar := range out.Bars {
			candles = append(candles, domain.Candle{
				Date:   bar.date(),
				Open:   bar.Open.Float(),
				High:   bar.High.Float(),
				Low:    bar.Low.Float(),
				Close:  bar.Close.Float(),
				Volume: bar.Volume.Float(),
			})
		}
		// Upstream returns newest first; flip to oldest first for indicators.
		for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
			candles[i], candles[j] = candles[j], candles[i]
		}
		if len(candles) > days {
			candles = candles[len(candles)-days:]
		}
		return &chartResult{Candles: candles}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.Candles, nil
}

// GetCashBalance returns orderable cash.
func (c *Client) GetCashBalance(ctx context.Context) (*domain.CashBalance, error) {
	return cachedQuery(ctx, c, "cash_balance:"+c.cfg.AccountNo, func() (*domain.CashBalance, error) {
		var out cashBalanceResponse
		if err := c.call(ctx, "get_cash_balance", "kt00001", map[string]string{"qry_tp": "2"}, &out); err != nil {
			return nil, err
		}
		return &domain.CashBalance{
			Cash:          out.Cash.Float(),
			OrderableCash: out.OrderableCash.Float(),
		}, nil
	})
}

// GetAccountBalance returns equity, cash and all holdings.
func (c *Client) GetAccountBalance(ctx context.Context) (*domain.AccountBalance, error) {
	return cachedQuery(ctx, c, "account_balance:"+c.cfg.AccountNo, func() (*domain.AccountBalance, error) {
		var out accountBalanceResponse
		if err := c.call(ctx, "get_account_balance", "kt00018", map[string]string{"qry_tp": "1"}, &out); err != nil {
			return nil, err
		}
		ab := &domain.AccountBalance{
			TotalEquity: out.TotalEquity.Float(),
			Cash:        out.Cash.Float(),
			StockValue:  out.StockValue.Float(),
		}
		for _, h := range out.Holdings {
			ab.Holdings = append(ab.Holdings, domain.Holding{
				AssetID:      h.Code,
				Name:         h.Name,
				Quantity:     h.Quantity.Float(),
				AvgCost:      h.AvgCost.Float(),
				CurrentPrice: h.CurrentPrice.Float(),
			})
		}
		return ab, nil
	})
}

// pendingOrdersResult wraps the slice for the cache codec.
type pendingOrdersResult struct {
	Orders []domain.PendingOrder `msgpack:"orders"`
}

// GetPendingOrders returns unfilled orders.
func (c *Client) GetPendingOrders(ctx context.Context) ([]domain.PendingOrder, error) {
	result, err := cachedQuery(ctx, c, "pending_orders:"+c.cfg.AccountNo, func() (*pendingOrdersResult, error) {
		var out pendingOrdersResponse
		if err := c.call(ctx, "get_pending_orders", "ka10075", map[string]string{"all_stk_tp": "0"}, &out); err != nil {
			return nil, err
		}
		res := &pendingOrdersResult{}
		for _, o := range out.Orders {
			res.Orders = append(res.Orders, domain.PendingOrder{
				OrderID:  o.OrderID,
				AssetID:  o.Code,
				Side:     normalizeSide(o.Side),
				Quantity: o.Quantity.Float(),
				Price:    o.Price.Float(),
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

// GetFilledOrders returns today's executions.
func (c *Client) GetFilledOrders(ctx context.Context) ([]domain.FilledOrder, error) {
	result, err := cachedQuery(ctx, c, "filled_orders:"+c.cfg.AccountNo, func() (*filledOrdersResult, error) {
		var out filledOrdersResponse
		if err := c.call(ctx, "get_filled_orders", "ka10076", map[string]string{"qry_tp": "1"}, &out); err != nil {
			return nil, err
		}
		res := &filledOrdersResult{}
		for _, o := range out.Orders {
			res.Orders = append(res.Orders, domain.FilledOrder{
				OrderID:    o.OrderID,
				AssetID:    o.Code,
				Side:       normalizeSide(o.Side),
				Quantity:   o.Quantity.Float(),
				Price:      o.Price.Float(),
				ExecutedAt: parseExecTime(o.ExecutedAt),
			})
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return result.Orders, nil
}

// PlaceBuy submits a buy order and invalidates the account cache classes.
func (c *Client) PlaceBuy(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return c.placeOrder(ctx, "place_buy", "kt10000", req)
}

// PlaceSell submits a sell order and invalidates the account cache classes.
func (c *Client) PlaceSell(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return c.placeOrder(ctx, "place_sell", "kt10001", req)
}

func (c *Client) placeOrder(ctx context.Context, op, apiID string, req domain.OrderRequest) (*domain.OrderResult, error) {
	tradeType := "0" // Limit
	price := strconv.FormatFloat(req.Price, 'f', -1, 64)
	if req.OrderType == domain.OrderTypeMarket {
		tradeType = "3"
		price = ""
	}

	var out orderResponse
	body := map[string]string{
		"dmst_stex_tp": "KRX",
		"stk_cd":       req.AssetID,
		"ord_qty":      strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		"ord_uv":       price,
		"trde_tp":      tradeType,
	}
	if err := c.call(ctx, op, apiID, body, &out); err != nil {
		return nil, err
	}

	c.cache.InvalidateAccount(ctx)

	// The broker acknowledges synchronously and fills asynchronously; the
	// order agent treats an accepted limit order as filled at the limit.
	return &domain.OrderResult{
		OrderID:        out.OrderID,
		AssetID:        req.AssetID,
		Side:           req.Side,
		Status:         domain.OrderFilled,
		RequestedQty:   req.Quantity,
		FilledQuantity: req.Quantity,
		AvgPrice:       req.Price,
		ExecutedAt:     time.Now(),
	}, nil
}

// ModifyOrder changes price/quantity of a pending order.
func (c *Client) ModifyOrder(ctx context.Context, orderID string, price, quantity float64) (*domain.OrderResult, error) {
	var out orderResponse
	body := map[string]string{
		"dmst_stex_tp": "KRX",
		"orig_ord_no":  orderID,
		"mdfy_qty":     strconv.FormatFloat(quantity, 'f', -1, 64),
		"mdfy_uv":      strconv.FormatFloat(price, 'f', -1, 64),
	}
	if err := c.call(ctx, "modify_order", "kt10002", body, &out); err != nil {
		return nil, err
	}
	c.cache.InvalidateAccount(ctx)
	return &domain.OrderResult{
		OrderID:      out.OrderID,
		Status:       domain.OrderPending,
		RequestedQty: quantity,
		AvgPrice:     price,
		ExecutedAt:   time.Now(),
	}, nil
}

// CancelOrder cancels a pending order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	var out orderResponse
	body := map[string]string{
		"dmst_stex_tp": "KRX",
		"orig_ord_no":  orderID,
		"cncl_qty":     "0", // 0 cancels the full remaining quantity
	}
	if err := c.call(ctx, "cancel_order", "kt10003", body, &out); err != nil {
		return err
	}
	c.cache.InvalidateAccount(ctx)
	return nil
}

func parseExecTime(hhmmss string) time.Time {
	t, err := time.Parse("150405", hhmmss)
	if err != nil {
		return time.Now()
	}
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location())
}
