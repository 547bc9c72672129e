package upbit

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// apiError is the exchange's error envelope on non-2xx responses.
type apiError struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

type tickerDTO struct {
	Market           string  `json:"market"`
	TradePrice       float64 `json:"trade_price"`
	SignedChangeRate float64 `json:"signed_change_rate"`
	AccTradeVolume   float64 `json:"acc_trade_volume_24h"`
	Highest52wPrice  float64 `json:"highest_52_week_price"`
	Lowest52wPrice   float64 `json:"lowest_52_week_price"`
	AccTradePrice    float64 `json:"acc_trade_price_24h"`
}

type orderbookUnitDTO struct {
	AskPrice float64 `json:"ask_price"`
	BidPrice float64 `json:"bid_price"`
	AskSize  float64 `json:"ask_size"`
	BidSize  float64 `json:"bid_size"`
}

type orderbookDTO struct {
	Market       string             `json:"market"`
	TotalAskSize float64            `json:"total_ask_size"`
	TotalBidSize float64            `json:"total_bid_size"`
	Units        []orderbookUnitDTO `json:"orderbook_units"`
}

type candleDTO struct {
	CandleDateTimeUTC string  `json:"candle_date_time_utc"`
	OpeningPrice      float64 `json:"opening_price"`
	HighPrice         float64 `json:"high_price"`
	LowPrice          float64 `json:"low_price"`
	TradePrice        float64 `json:"trade_price"`
	CandleAccVolume   float64 `json:"candle_acc_trade_volume"`
}

func (c candleDTO) date() time.Time {
	t, err := time.Parse("2006-01-02T15:04:05", c.CandleDateTimeUTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// accountDTO is one balance line. Quantities arrive as decimal strings; they
// stay decimal until the domain boundary.
type accountDTO struct {
	Currency     string          `json:"currency"`
	Balance      decimal.Decimal `json:"balance"`
	Locked       decimal.Decimal `json:"locked"`
	AvgBuyPrice  decimal.Decimal `json:"avg_buy_price"`
	UnitCurrency string          `json:"unit_currency"`
}

func (a accountDTO) isCash() bool { return a.Currency == "KRW" }

// marketID maps a currency to its KRW market identifier ("BTC" → "KRW-BTC").
func (a accountDTO) marketID() string { return "KRW-" + a.Currency }

type orderDTO struct {
	UUID            string          `json:"uuid"`
	Market          string          `json:"market"`
	Side            string          `json:"side"` // bid | ask
	State           string          `json:"state"`
	Price           decimal.Decimal `json:"price"`
	Volume          decimal.Decimal `json:"volume"`
	ExecutedVolume  decimal.Decimal `json:"executed_volume"`
	RemainingVolume decimal.Decimal `json:"remaining_volume"`
	PaidFee         decimal.Decimal `json:"paid_fee"`
	CreatedAt       string          `json:"created_at"`
}

func (o orderDTO) domainSide() string {
	if o.Side == "ask" {
		return "sell"
	}
	return "buy"
}

func (o orderDTO) createdAt() time.Time {
	t, err := time.Parse(time.RFC3339, o.CreatedAt)
	if err != nil {
		return time.Now()
	}
	return t
}

// currencyOf extracts the currency from a market identifier ("KRW-BTC" → "BTC").
func currencyOf(market string) string {
	if i := strings.IndexByte(market, '-'); i >= 0 {
		return market[i+1:]
	}
	return market
}
