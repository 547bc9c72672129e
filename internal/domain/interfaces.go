package domain

import "context"

// ExchangeClient is the unified typed facade over an upstream exchange.
// All market data and order flow funnels through this interface; the pipeline
// and coordinator never touch vendor transports directly.
type ExchangeClient interface {
	// Market data operations
	GetAsset(ctx context.Context, assetID string) (*AssetInfo, error)
	GetOrderbook(ctx context.Context, assetID string) (*Orderbook, error)
	GetChart(ctx context.Context, assetID string, days int) ([]Candle, error)

	// Account operations
	GetCashBalance(ctx context.Context) (*CashBalance, error)
	GetAccountBalance(ctx context.Context) (*AccountBalance, error)
	GetPendingOrders(ctx context.Context) ([]PendingOrder, error)
	GetFilledOrders(ctx context.Context) ([]FilledOrder, error)

	// Order operations
	PlaceBuy(ctx context.Context, req OrderRequest) (*OrderResult, error)
	PlaceSell(ctx context.Context, req OrderRequest) (*OrderResult, error)
	ModifyOrder(ctx context.Context, orderID string, price, quantity float64) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error

	// Market returns the asset domain this client serves.
	Market() Market
}

// Role is a chat message role for the reasoner.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one (role, content) pair sent to the reasoner.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Reasoner generates free-text analysis narration. Its output is advisory
// only; signals and confidences are always computed from numeric indicators.
type Reasoner interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// EventKind classifies notifier events.
type EventKind string

const (
	EventSessionUpdated EventKind = "session_updated"
	EventAlertRaised    EventKind = "alert_raised"
	EventTradeExecuted  EventKind = "trade_executed"
	EventStateChanged   EventKind = "state_changed"
)

// Event is a best-effort notification pushed to connected clients.
type Event struct {
	Kind    EventKind   `json:"kind"`
	Payload interface{} `json:"payload"`
}

// Notifier fans out events to connected clients. Push never blocks the
// caller and never returns an error; delivery is best effort.
type Notifier interface {
	Push(event Event)
}
