package kiwoom

import (
	"strconv"
	"strings"
	"time"
)

// responseEnvelope is implemented by every upstream response DTO.
type responseEnvelope interface {
	Code() int
	Msg() string
}

// baseResponse carries the upstream return code and message.
type baseResponse struct {
	ReturnCode int    `json:"return_code"`
	ReturnMsg  string `json:"return_msg"`
}

func (r *baseResponse) Code() int   { return r.ReturnCode }
func (r *baseResponse) Msg() string { return r.ReturnMsg }

// won parses the broker's signed, zero-padded numeric strings ("+0071000",
// "-00012.50", "71000") into a float.
type won string

func (w won) Float() float64 {
	s := strings.TrimLeft(string(w), "+0")
	if s == "" || s == "-" {
		return 0
	}
	neg := false
	if strings.HasPrefix(string(w), "-") {
		neg = true
		s = strings.TrimLeft(string(w)[1:], "0")
		if s == "" {
			return 0
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if neg {
		return -v
	}
	return v
}

type stockInfoResponse struct {
	baseResponse
	StockCode  string `json:"stk_cd"`
	Name       string `json:"stk_nm"`
	Price      won    `json:"cur_prc"`
	ChangeRate won    `json:"flu_rt"`
	Volume     won    `json:"trde_qty"`
	AvgVolume  won    `json:"avg_trde_qty"`
	High52w    won    `json:"oyr_hgst"`
	Low52w     won    `json:"oyr_lwst"`
	PER        won    `json:"per"`
	PBR        won    `json:"pbr"`
	EPS        won    `json:"eps"`
	MarketCap  won    `json:"mac"`
}

type orderbookLevelDTO struct {
	Price    won `json:"sel_bid"`
	Quantity won `json:"req_qty"`
}

type orderbookResponse struct {
	baseResponse
	Bids     []orderbookLevelDTO `json:"buy_lvls"`
	Asks     []orderbookLevelDTO `json:"sel_lvls"`
	BidTotal won                 `json:"tot_buy_req"`
	AskTotal won                 `json:"tot_sel_req"`
}

type chartBarDTO struct {
	Date   string `json:"dt"` // YYYYMMDD
	Open   won    `json:"open_pric"`
	High   won    `json:"high_pric"`
	Low    won    `json:"low_pric"`
	Close  won    `json:"cur_prc"`
	Volume won    `json:"trde_qty"`
}

func (b chartBarDTO) date() time.Time {
	t, err := time.Parse("20060102", b.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

type chartResponse struct {
	baseResponse
	Bars []chartBarDTO `json:"stk_dt_pole_chart_qry"`
}

type cashBalanceResponse struct {
	baseResponse
	Cash          won `json:"entr"`
	OrderableCash won `json:"ord_alow_amt"`
}

type holdingDTO struct {
	Code         string `json:"stk_cd"`
	Name         string `json:"stk_nm"`
	Quantity     won    `json:"rmnd_qty"`
	AvgCost      won    `json:"pur_pric"`
	CurrentPrice won    `json:"cur_prc"`
}

type accountBalanceResponse struct {
	baseResponse
	TotalEquity won          `json:"tot_est_amt"`
	Cash        won          `json:"entr"`
	StockValue  won          `json:"tot_pur_amt"`
	Holdings    []holdingDTO `json:"acnt_evlt_remn_indv_tot"`
}

type pendingOrderDTO struct {
	OrderID  string `json:"ord_no"`
	Code     string `json:"stk_cd"`
	Side     string `json:"io_tp_nm"`
	Quantity won    `json:"ord_qty"`
	Price    won    `json:"ord_pric"`
}

type pendingOrdersResponse struct {
	baseResponse
	Orders []pendingOrderDTO `json:"oso"`
}

type filledOrderDTO struct {
	OrderID    string `json:"ord_no"`
	Code       string `json:"stk_cd"`
	Side       string `json:"io_tp_nm"`
	Quantity   won    `json:"cntr_qty"`
	Price      won    `json:"cntr_pric"`
	ExecutedAt string `json:"cntr_tm"` // HHMMSS
}

type filledOrdersResponse struct {
	baseResponse
	Orders []filledOrderDTO `json:"cntr"`
}

type orderResponse struct {
	baseResponse
	OrderID string `json:"ord_no"`
}

// normalizeSide maps the broker's order-direction labels to buy/sell.
func normalizeSide(s string) string {
	if strings.Contains(s, "매도") || strings.EqualFold(s, "sell") {
		return "sell"
	}
	return "buy"
}
