// Package coordinator owns the trading lifecycle: the mode state machine,
// the position book, daily trade limits, the deferred-trade queue and the
// glue between pipeline, portfolio sizing, order execution and risk
// monitoring. Every mutating entry point serializes on one mutex so the
// position book and counters stay authoritative.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/daehwan-kim/stockpilot/internal/calendar"
	"github.com/daehwan-kim/stockpilot/internal/domain"
	"github.com/daehwan-kim/stockpilot/internal/order"
	"github.com/daehwan-kim/stockpilot/internal/pipeline"
	"github.com/daehwan-kim/stockpilot/internal/portfolio"
	"github.com/daehwan-kim/stockpilot/internal/risk"
	"github.com/daehwan-kim/stockpilot/internal/store"
)

const defaultActivityLogSize = 200

// Mode is the coordinator's trading mode.
type Mode string

const (
	ModeStopped Mode = "stopped"
	ModeActive  Mode = "active"
	ModePaused  Mode = "paused"
)

// Config holds coordinator settings.
type Config struct {
	MaxDailyTrades  int
	StopLossMode    domain.StopLossMode
	ActivityLogSize int
}

// ActivityEntry is one line of the rolling activity log.
type ActivityEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// StateView is a read-only snapshot of the trading state for the UI.
type StateView struct {
	Mode           Mode                   `json:"mode"`
	Account        domain.AccountSnapshot `json:"account"`
	Positions      []*domain.Position     `json:"positions"`
	DailyTrades    int                    `json:"daily_trades"`
	MaxDailyTrades int                    `json:"max_daily_trades"`
	PendingAlerts  []domain.Alert         `json:"pending_alerts"`
	QueuedTrades   []*domain.QueuedTrade  `json:"queued_trades"`
	Activity       []ActivityEntry        `json:"activity"`
}

// Coordinator wires the subsystems together.
type Coordinator struct {
	cfg       Config
	clients   map[domain.Market]domain.ExchangeClient
	orders    map[domain.Market]*order.Agent
	allocator *portfolio.Agent
	monitor   *risk.Monitor
	runner    *pipeline.Runner
	store     *store.Store
	cal       *calendar.Service
	notifier  domain.Notifier
	log       zerolog.Logger
	cron      *cron.Cron

	mu          sync.Mutex
	mode        Mode
	account     domain.AccountSnapshot
	dailyTrades int
	activity    []ActivityEntry
}

// New creates a stopped coordinator. The pipeline runner is attached
// separately because its hooks point back here.
func New(cfg Config, clients map[domain.Market]domain.ExchangeClient,
	allocator *portfolio.Agent, monitor *risk.Monitor, st *store.Store,
	cal *calendar.Service, notifier domain.Notifier, log zerolog.Logger) *Coordinator {
	if cfg.ActivityLogSize <= 0 {
		cfg.ActivityLogSize = defaultActivityLogSize
	}
	c := &Coordinator{
		cfg:       cfg,
		clients:   clients,
		orders:    make(map[domain.Market]*order.Agent),
		allocator: allocator,
		monitor:   monitor,
		store:     st,
		cal:       cal,
		notifier:  notifier,
		log:       log.With().Str("component", "coordinator").Logger(),
		mode:      ModeStopped,
		cron:      cron.New(cron.WithLocation(calendar.KST)),
	}
	for market, client := range clients {
		c.orders[market] = order.New(order.Config{}, client, log)
	}
	return c
}

// AttachRunner hands the coordinator its pipeline runner. Must be called
// before Start.
func (c *Coordinator) AttachRunner(r *pipeline.Runner) {
	c.runner = r
}

// Hooks returns the pipeline callbacks bound to this coordinator.
func (c *Coordinator) Hooks() pipeline.Hooks {
	return pipeline.Hooks{
		ExecuteTrade: c.executeTradeHook,
		OnWatch:      c.onWatch,
	}
}

// Start refreshes the account snapshot, restores the watch list into the
// risk monitor, starts the monitor loop and the scheduled jobs.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.mode != ModeStopped {
		c.mu.Unlock()
		return fmt.Errorf("%w: coordinator already running", domain.ErrBusinessRule)
	}
	c.mode = ModeActive
	c.mu.Unlock()

	c.refreshAccount(ctx)
	c.restoreDailyCounter(ctx)

	positions, err := c.store.Positions.List(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Position restore failed")
	}
	for _, p := range positions {
		c.monitor.AddPosition(p)
	}

	c.monitor.Start(ctx)

	// Midnight KST resets the daily counter; the per-minute sweep drains
	// queued trades once their market opens.
	if _, err := c.cron.AddFunc("0 0 * * *", c.resetDailyCounter); err != nil {
		return fmt.Errorf("schedule daily reset: %w", err)
	}
	if _, err := c.cron.AddFunc("* * * * *", func() { c.DrainQueue(ctx) }); err != nil {
		return fmt.Errorf("schedule queue drain: %w", err)
	}
	c.cron.Start()

	c.logActivity("trading started with %d positions restored", len(positions))
	c.pushState()
	c.log.Info().Int("positions", len(positions)).Msg("Coordinator started")
	return nil
}

// Stop tears down the monitor, scheduled jobs and all pipeline sessions.
// In-flight orders complete on their own; the upstream already has them.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.mode == ModeStopped {
		c.mu.Unlock()
		return
	}
	c.mode = ModeStopped
	c.mu.Unlock()

	c.cron.Stop()
	c.monitor.Stop()
	if c.runner != nil {
		c.runner.Stop()
	}
	c.logActivity("trading stopped")
	c.pushState()
	c.log.Info().Msg("Coordinator stopped")
}

// Pause suspends new executions without tearing anything down.
func (c *Coordinator) Pause(reason string) {
	c.mu.Lock()
	if c.mode != ModeActive {
		c.mu.Unlock()
		return
	}
	c.mode = ModePaused
	c.mu.Unlock()

	c.monitor.Pause(reason)
	c.logActivity("trading paused: %s", reason)
	c.pushState()
}

// Resume re-enables executions and the risk monitor.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	if c.mode != ModePaused {
		c.mu.Unlock()
		return
	}
	c.mode = ModeActive
	c.mu.Unlock()

	c.monitor.Resume()
	c.logActivity("trading resumed")
	c.pushState()
}

// Mode returns the current trading mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// State assembles the UI snapshot.
func (c *Coordinator) State(ctx context.Context) *StateView {
	positions, err := c.store.Positions.List(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Position list failed")
	}
	queued, err := c.store.Queue.Pending(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Queue list failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return &StateView{
		Mode:           c.mode,
		Account:        c.account,
		Positions:      positions,
		DailyTrades:    c.dailyTrades,
		MaxDailyTrades: c.cfg.MaxDailyTrades,
		PendingAlerts:  c.monitor.PendingAlerts(),
		QueuedTrades:   queued,
		Activity:       append([]ActivityEntry(nil), c.activity...),
	}
}

// Session control delegates to the pipeline runner.

func (c *Coordinator) StartAnalysis(market domain.Market, assetID, query string) (string, error) {
	return c.runner.StartAnalysis(market, assetID, query)
}

func (c *Coordinator) GetSession(sessionID string) (*domain.Session, error) {
	return c.runner.GetStatus(sessionID)
}

func (c *Coordinator) ApproveSession(sessionID string, quantity float64) error {
	return c.runner.Approve(sessionID, quantity)
}

func (c *Coordinator) RejectSession(sessionID, feedback string) error {
	return c.runner.Reject(sessionID, feedback)
}

func (c *Coordinator) CancelSession(sessionID string) error {
	return c.runner.Cancel(sessionID)
}

// DispatchAlert is the monitor's alert sender: fan out to clients and the
// activity log.
func (c *Coordinator) DispatchAlert(alert domain.Alert) {
	c.logActivity("alert: %s", alert.Title)
	if c.notifier != nil {
		c.notifier.Push(domain.Event{Kind: domain.EventAlertRaised, Payload: alert})
	}
}

// refreshAccount pulls a fresh snapshot from the primary (stock) client,
// falling back to any client when only one market is configured.
func (c *Coordinator) refreshAccount(ctx context.Context) {
	client, ok := c.clients[domain.MarketStock]
	if !ok {
		for _, cl := range c.clients {
			client = cl
			break
		}
	}
	if client == nil {
		return
	}
	balance, err := client.GetAccountBalance(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Account refresh failed")
		return
	}
	snap := domain.AccountSnapshot{
		TotalEquity:     balance.TotalEquity,
		AvailableCash:   balance.Cash,
		TotalStockValue: balance.StockValue,
		FetchedAt:       time.Now(),
	}
	if balance.TotalEquity > 0 {
		snap.CashRatio = balance.Cash / balance.TotalEquity
		snap.StockRatio = balance.StockValue / balance.TotalEquity
	}
	c.mu.Lock()
	c.account = snap
	c.mu.Unlock()
}

// restoreDailyCounter recovers today's trade count from the ledger so a
// restart cannot reset the daily limit.
func (c *Coordinator) restoreDailyCounter(ctx context.Context) {
	midnight := time.Now().In(calendar.KST)
	midnight = time.Date(midnight.Year(), midnight.Month(), midnight.Day(), 0, 0, 0, 0, calendar.KST)
	count, err := c.store.Trades.CountSince(ctx, midnight.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		c.log.Warn().Err(err).Msg("Daily counter restore failed")
		return
	}
	c.mu.Lock()
	c.dailyTrades = count
	c.mu.Unlock()
}

func (c *Coordinator) resetDailyCounter() {
	c.mu.Lock()
	c.dailyTrades = 0
	c.mu.Unlock()
	c.logActivity("daily trade counter reset")
	c.log.Info().Msg("Daily trade counter reset")
}

// logActivity appends to the rolling activity log.
func (c *Coordinator) logActivity(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activity = append(c.activity, ActivityEntry{At: time.Now(), Message: fmt.Sprintf(format, args...)})
	if len(c.activity) > c.cfg.ActivityLogSize {
		c.activity = c.activity[len(c.activity)-c.cfg.ActivityLogSize:]
	}
}

func (c *Coordinator) pushState() {
	if c.notifier == nil {
		return
	}
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	c.notifier.Push(domain.Event{Kind: domain.EventStateChanged, Payload: map[string]string{"mode": string(mode)}})
}
