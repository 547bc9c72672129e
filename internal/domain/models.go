// Package domain provides core domain models and types.
package domain

import "time"

// Market identifies the asset domain a session or client operates on.
type Market string

const (
	MarketStock  Market = "stock"  // KRX-listed equities, integer share quantities
	MarketCrypto Market = "crypto" // KRW crypto pairs, fractional quantities
)

// Signal is the directional opinion produced by an analysis agent.
type Signal string

const (
	SignalStrongBuy  Signal = "strong_buy"
	SignalBuy        Signal = "buy"
	SignalHold       Signal = "hold"
	SignalSell       Signal = "sell"
	SignalStrongSell Signal = "strong_sell"
)

// BuyScore returns the buy weight of the signal for consensus voting.
// Strong signals count double.
func (s Signal) BuyScore() float64 {
	switch s {
	case SignalStrongBuy:
		return 2
	case SignalBuy:
		return 1
	}
	return 0
}

// SellScore returns the sell weight of the signal for consensus voting.
func (s Signal) SellScore() float64 {
	switch s {
	case SignalStrongSell:
		return 2
	case SignalSell:
		return 1
	}
	return 0
}

// TradeAction is the executable decision derived from a consensus signal and
// the current position state.
type TradeAction string

const (
	ActionBuy    TradeAction = "buy"
	ActionSell   TradeAction = "sell"
	ActionHold   TradeAction = "hold"
	ActionAdd    TradeAction = "add"
	ActionReduce TradeAction = "reduce"
	ActionWatch  TradeAction = "watch"
	ActionAvoid  TradeAction = "avoid"
)

// IsBuyClass reports whether the action results in a buy order.
func (a TradeAction) IsBuyClass() bool {
	return a == ActionBuy || a == ActionAdd
}

// IsSellClass reports whether the action results in a sell order.
func (a TradeAction) IsSellClass() bool {
	return a == ActionSell || a == ActionReduce
}

// AgentKind identifies the analysis agent that produced a result.
type AgentKind string

const (
	AgentTechnical   AgentKind = "technical"
	AgentFundamental AgentKind = "fundamental"
	AgentMarket      AgentKind = "market"
	AgentSentiment   AgentKind = "sentiment"
	AgentRisk        AgentKind = "risk"
)

// AnalysisResult is one agent's output for a session. Immutable once written.
type AnalysisResult struct {
	Agent      AgentKind          `json:"agent"`
	Signal     Signal             `json:"signal"`
	Confidence float64            `json:"confidence"` // [0, 1]
	Summary    string             `json:"summary"`
	Reasoning  string             `json:"reasoning"`
	KeyFactors []string           `json:"key_factors,omitempty"` // At most 5
	Indicators map[string]float64 `json:"indicators,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// TradeProposal is the pipeline's synthesis output, pending user approval.
type TradeProposal struct {
	AssetID         string           `json:"asset_id"`
	AssetName       string           `json:"asset_name,omitempty"`
	Market          Market           `json:"market"`
	Action          TradeAction      `json:"action"`
	Signal          Signal           `json:"signal"`     // Consensus the action was resolved from
	Confidence      float64          `json:"confidence"` // [0, 1]
	Quantity        float64          `json:"quantity"`
	EntryPrice      float64          `json:"entry_price"`
	StopLoss        float64          `json:"stop_loss,omitempty"`
	TakeProfit      float64          `json:"take_profit,omitempty"`
	RiskScore       float64          `json:"risk_score"` // [0, 10]
	PositionSizePct float64          `json:"position_size_pct"`
	Rationale       string           `json:"rationale"`
	BullCase        string           `json:"bull_case,omitempty"`
	BearCase        string           `json:"bear_case,omitempty"`
	Analyses        []AnalysisResult `json:"analyses"`
}

// PositionStatus tracks the lifecycle of a position.
type PositionStatus string

const (
	PositionPending PositionStatus = "pending"
	PositionPartial PositionStatus = "partial"
	PositionFilled  PositionStatus = "filled"
	PositionClosing PositionStatus = "closing"
	PositionClosed  PositionStatus = "closed"
)

// StopLossMode selects how a triggered stop-loss is handled.
type StopLossMode string

const (
	StopLossUserApproval StopLossMode = "user_approval"
	StopLossAuto         StopLossMode = "auto"
)

// Position is a holding owned by the coordinator. At most one exists per
// asset. Unrealized P&L is derived, never stored.
type Position struct {
	AssetID      string         `json:"asset_id"`
	Name         string         `json:"name,omitempty"`
	Market       Market         `json:"market"`
	Quantity     float64        `json:"quantity"` // Always > 0
	AvgCost      float64        `json:"avg_cost"`
	CurrentPrice float64        `json:"current_price"`
	StopLoss     float64        `json:"stop_loss,omitempty"`   // 0 = unset; otherwise < entry price
	TakeProfit   float64        `json:"take_profit,omitempty"` // 0 = unset; otherwise > entry price
	StopMode     StopLossMode   `json:"stop_mode"`
	Status       PositionStatus `json:"status"`
	RiskScore    float64        `json:"risk_score"`
	SessionID    string         `json:"session_id,omitempty"`
	OpenedAt     time.Time      `json:"opened_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// MarketValue returns the position's current market value.
func (p *Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// UnrealizedPLPct returns the unrealized profit/loss as a percentage of cost.
func (p *Position) UnrealizedPLPct() float64 {
	if p.AvgCost <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.AvgCost) / p.AvgCost * 100
}

// Stage is the pipeline stage of a session. Stages advance monotonically
// except for the re-analyze edge that resets to StageDataCollection.
type Stage string

const (
	StageDataCollection   Stage = "data_collection"
	StageParallelAnalysis Stage = "parallel_analysis"
	StageRiskAssessment   Stage = "risk_assessment"
	StageSynthesis        Stage = "synthesis"
	StageApproval         Stage = "approval"
	StageExecution        Stage = "execution"
	StageComplete         Stage = "complete"
)

// stageOrder assigns each stage its index in the walk.
var stageOrder = map[Stage]int{
	StageDataCollection:   0,
	StageParallelAnalysis: 1,
	StageRiskAssessment:   2,
	StageSynthesis:        3,
	StageApproval:         4,
	StageExecution:        5,
	StageComplete:         6,
}

// Before reports whether s comes before other in the stage walk.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

// ApprovalStatus is the user's verdict on a proposal.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Session owns the in-flight state of one pipeline run for one asset.
type Session struct {
	ID               string           `json:"id"`
	AssetID          string           `json:"asset_id"`
	AssetName        string           `json:"asset_name,omitempty"`
	Market           Market           `json:"market"`
	Query            string           `json:"query,omitempty"`
	Stage            Stage            `json:"stage"`
	Proposal         *TradeProposal   `json:"proposal,omitempty"`
	Analyses         []AnalysisResult `json:"analyses"`
	Approval         ApprovalStatus   `json:"approval,omitempty"`
	AwaitingApproval bool             `json:"awaiting_approval"`
	ReanalysisCount  int              `json:"reanalysis_count"`
	ReasoningLog     []string         `json:"reasoning_log"`
	UserFeedback     string           `json:"user_feedback,omitempty"`
	Error            string           `json:"error,omitempty"`
	Cancelled        bool             `json:"cancelled,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// QueueStatus tracks a deferred trade through the market-closed queue.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
)

// QueuedTrade is an approved proposal deferred because its market is closed.
type QueuedTrade struct {
	ID          string        `json:"id"`
	Proposal    TradeProposal `json:"proposal"`
	Quantity    float64       `json:"quantity,omitempty"` // Optional user override
	Status      QueueStatus   `json:"status"`
	Reason      string        `json:"reason"`
	QueuedAt    time.Time     `json:"queued_at"`
	ProcessedAt time.Time     `json:"processed_at,omitempty"`
}

// WatchStatus tracks a watch-list entry.
type WatchStatus string

const (
	WatchActive    WatchStatus = "active"
	WatchTriggered WatchStatus = "triggered"
	WatchRemoved   WatchStatus = "removed"
	WatchConverted WatchStatus = "converted"
)

// WatchedAsset is an asset the pipeline recommended watch or avoid on.
type WatchedAsset struct {
	AssetID      string      `json:"asset_id"`
	Name         string      `json:"name,omitempty"`
	Market       Market      `json:"market"`
	Signal       Signal      `json:"signal"`
	Confidence   float64     `json:"confidence"`
	CurrentPrice float64     `json:"current_price"`
	TargetEntry  float64     `json:"target_entry,omitempty"`
	StopLoss     float64     `json:"stop_loss,omitempty"`
	TakeProfit   float64     `json:"take_profit,omitempty"`
	Summary      string      `json:"summary,omitempty"`
	Status       WatchStatus `json:"status"`
	AddedAt      time.Time   `json:"added_at"`
}

// AlertKind classifies alerts raised by the risk monitor and coordinator.
type AlertKind string

const (
	AlertStopLossTriggered   AlertKind = "stop_loss_triggered"
	AlertTakeProfitTriggered AlertKind = "take_profit_triggered"
	AlertSuddenMoveUp        AlertKind = "sudden_move_up"
	AlertSuddenMoveDown      AlertKind = "sudden_move_down"
	AlertOrderFailed         AlertKind = "order_failed"
	AlertTradingPaused       AlertKind = "trading_paused"
	AlertTradingResumed      AlertKind = "trading_resumed"
	AlertDailyLimitReached   AlertKind = "daily_limit_reached"
)

// AlertAction is a user response to an actionable alert.
type AlertAction string

const (
	AlertActionResume            AlertAction = "resume"
	AlertActionClosePosition     AlertAction = "close_position"
	AlertActionAdjustStopLoss    AlertAction = "adjust_stop_loss"
	AlertActionExecuteStopLoss   AlertAction = "execute_stop_loss"
	AlertActionExecuteTakeProfit AlertAction = "execute_take_profit"
	AlertActionHold              AlertAction = "hold"
)

// Alert is created by the risk monitor or coordinator and dispatched to the
// user through the notifier.
type Alert struct {
	ID             string             `json:"id"`
	Kind           AlertKind          `json:"kind"`
	AssetID        string             `json:"asset_id,omitempty"`
	Title          string             `json:"title"`
	Message        string             `json:"message"`
	Payload        map[string]float64 `json:"payload,omitempty"`
	ActionRequired bool               `json:"action_required"`
	Options        []AlertAction      `json:"options,omitempty"`
	Acknowledged   bool               `json:"acknowledged"`
	Resolved       bool               `json:"resolved"`
	CreatedAt      time.Time          `json:"created_at"`
}

// AccountSnapshot is a point-in-time view of the trading account.
// Refreshed on demand; never cached longer than a few seconds.
type AccountSnapshot struct {
	TotalEquity     float64   `json:"total_equity"`
	AvailableCash   float64   `json:"available_cash"`
	TotalStockValue float64   `json:"total_stock_value"`
	CashRatio       float64   `json:"cash_ratio"`
	StockRatio      float64   `json:"stock_ratio"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// Trade is a persisted execution record.
type Trade struct {
	ID           string      `json:"id"`
	SessionID    string      `json:"session_id,omitempty"`
	AssetID      string      `json:"asset_id"`
	Side         string      `json:"side"` // "buy" or "sell"
	OrderType    string      `json:"order_type"`
	ReqPrice     float64     `json:"requested_price"`
	ExecPrice    float64     `json:"executed_price"`
	ReqQuantity  float64     `json:"requested_quantity"`
	ExecQuantity float64     `json:"executed_quantity"`
	Fee          float64     `json:"fee"`
	Total        float64     `json:"total"`
	State        OrderStatus `json:"state"`
	OrderID      string      `json:"order_id,omitempty"` // Upstream order id
	ExecutedAt   time.Time   `json:"executed_at"`
}

// Holiday is one entry of the KRX holiday table.
type Holiday struct {
	Date      string `json:"date"` // YYYY-MM-DD
	DayOfWeek string `json:"day_of_week"`
	Name      string `json:"name"`
	Year      int    `json:"year"`
}
