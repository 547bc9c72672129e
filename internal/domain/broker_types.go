package domain

import "time"

// AssetInfo is the quote snapshot returned by an exchange client.
type AssetInfo struct {
	AssetID     string  `json:"asset_id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	ChangePct   float64 `json:"change_pct"` // 24h (crypto) or day (stock) change, percent
	Volume      float64 `json:"volume"`
	AvgVolume   float64 `json:"avg_volume,omitempty"` // Trailing average for volume-ratio scoring
	High52w     float64 `json:"high_52w,omitempty"`
	Low52w      float64 `json:"low_52w,omitempty"`
	PER         float64 `json:"per,omitempty"`
	PBR         float64 `json:"pbr,omitempty"`
	EPS         float64 `json:"eps,omitempty"`
	MarketCap   float64 `json:"market_cap,omitempty"`
}

// Candle is one bar of a chart.
type Candle struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// OrderbookLevel is one price level of an order book side.
type OrderbookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Orderbook is a depth snapshot.
type Orderbook struct {
	AssetID  string           `json:"asset_id"`
	Bids     []OrderbookLevel `json:"bids"` // Best first
	Asks     []OrderbookLevel `json:"asks"` // Best first
	BidTotal float64          `json:"bid_total"`
	AskTotal float64          `json:"ask_total"`
}

// BidAskRatio returns total bid quantity over total ask quantity.
// Returns 1 when the ask side is empty so scoring stays neutral.
func (ob *Orderbook) BidAskRatio() float64 {
	if ob.AskTotal <= 0 {
		return 1
	}
	return ob.BidTotal / ob.AskTotal
}

// CashBalance is the orderable cash in the account.
type CashBalance struct {
	Cash          float64 `json:"cash"`
	OrderableCash float64 `json:"orderable_cash"`
}

// Holding is one position as reported by the upstream account.
type Holding struct {
	AssetID      string  `json:"asset_id"`
	Name         string  `json:"name"`
	Quantity     float64 `json:"quantity"`
	AvgCost      float64 `json:"avg_cost"`
	CurrentPrice float64 `json:"current_price"`
}

// AccountBalance is the full account snapshot from upstream.
type AccountBalance struct {
	TotalEquity   float64   `json:"total_equity"`
	Cash          float64   `json:"cash"`
	StockValue    float64   `json:"stock_value"`
	Holdings      []Holding `json:"holdings"`
}

// Holding returns the holding for assetID, or nil when not held.
func (ab *AccountBalance) Holding(assetID string) *Holding {
	for i := range ab.Holdings {
		if ab.Holdings[i].AssetID == assetID {
			return &ab.Holdings[i]
		}
	}
	return nil
}

// PendingOrder is an unfilled upstream order.
type PendingOrder struct {
	OrderID  string  `json:"order_id"`
	AssetID  string  `json:"asset_id"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// FilledOrder is an executed upstream order.
type FilledOrder struct {
	OrderID    string    `json:"order_id"`
	AssetID    string    `json:"asset_id"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	ExecutedAt time.Time `json:"executed_at"`
}

// OrderType selects limit or market execution.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderRequest is a typed order submission.
type OrderRequest struct {
	AssetID   string    `json:"asset_id"`
	Side      string    `json:"side"` // "buy" or "sell"
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"` // Ignored for market orders
	OrderType OrderType `json:"order_type"`
	SessionID string    `json:"session_id,omitempty"`
}

// OrderStatus is the execution state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPartial   OrderStatus = "partial"
	OrderFilled    OrderStatus = "filled"
	OrderRejected  OrderStatus = "rejected"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderResult is the outcome of an order submission. The order agent always
// returns one of these, never an error.
type OrderResult struct {
	OrderID        string      `json:"order_id,omitempty"`
	AssetID        string      `json:"asset_id"`
	Side           string      `json:"side"`
	Status         OrderStatus `json:"status"`
	RequestedQty   float64     `json:"requested_qty"`
	FilledQuantity float64     `json:"filled_quantity"`
	AvgPrice       float64     `json:"avg_price"`
	Message        string      `json:"message,omitempty"`
	ExecutedAt     time.Time   `json:"executed_at"`
}
