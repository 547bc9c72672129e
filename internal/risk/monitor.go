// Package risk watches open positions for stop-loss, take-profit and
// sudden-move conditions. The monitor never places orders itself: auto
// executions flow back through a callback so the position book and trade
// counters stay authoritative in one place.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

const defaultTickInterval = time.Second

// Mode is the monitor's lifecycle state.
type Mode string

const (
	ModeStopped Mode = "stopped"
	ModeActive  Mode = "active"
	ModePaused  Mode = "paused"
)

// WatchEntry is one monitored position.
type WatchEntry struct {
	AssetID    string              `json:"asset_id"`
	Market     domain.Market       `json:"market"`
	EntryPrice float64             `json:"entry_price"`
	Quantity   float64             `json:"quantity"`
	StopLoss   float64             `json:"stop_loss"`
	TakeProfit float64             `json:"take_profit"`
	StopMode   domain.StopLossMode `json:"stop_mode"`
	LastPrice  float64             `json:"last_price"`

	// triggered latches after a stop/TP fires so a standing breach does not
	// re-fire every tick. Re-armed when the stop is adjusted.
	triggered bool
}

// PriceFetcher returns the current price of an asset.
type PriceFetcher func(ctx context.Context, assetID string) (float64, error)

// AlertSender delivers an alert asynchronously; it must not block.
type AlertSender func(alert domain.Alert)

// AutoExecutor closes or reduces a position when a stop/TP fires in auto
// mode. Supplied by the coordinator.
type AutoExecutor func(ctx context.Context, entry WatchEntry, kind domain.AlertKind)

// Config holds monitor settings.
type Config struct {
	TickInterval           time.Duration
	SuddenMoveThresholdPct float64
}

// Monitor runs the per-second watch loop over all entries.
type Monitor struct {
	cfg     Config
	fetch   PriceFetcher
	send    AlertSender
	execute AutoExecutor
	log     zerolog.Logger

	mu      sync.Mutex
	mode    Mode
	entries map[string]*WatchEntry
	pending map[string]*domain.Alert
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped monitor.
func New(cfg Config, fetch PriceFetcher, send AlertSender, execute AutoExecutor, log zerolog.Logger) *Monitor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	return &Monitor{
		cfg:     cfg,
		fetch:   fetch,
		send:    send,
		execute: execute,
		log:     log.With().Str("component", "risk").Logger(),
		mode:    ModeStopped,
		entries: make(map[string]*WatchEntry),
		pending: make(map[string]*domain.Alert),
	}
}

// Start launches the watch loop. Idempotent while running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mode = ModeActive
	go m.loop(loopCtx)
	m.log.Info().Dur("tick", m.cfg.TickInterval).Msg("Risk monitor started")
}

// Stop cancels the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mode = ModeStopped
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	m.log.Info().Msg("Risk monitor stopped")
}

// Mode returns the current lifecycle mode.
func (m *Monitor) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Pause suspends evaluation and raises a trading-paused alert.
func (m *Monitor) Pause(reason string) {
	m.mu.Lock()
	if m.mode != ModeActive {
		m.mu.Unlock()
		return
	}
	m.mode = ModePaused
	m.mu.Unlock()

	m.log.Warn().Str("reason", reason).Msg("Risk monitoring paused")
	m.raise(domain.Alert{
		Kind:    domain.AlertTradingPaused,
		Title:   "Trading paused",
		Message: reason,
	})
}

// Resume re-enables evaluation and raises a trading-resumed alert.
func (m *Monitor) Resume() {
	m.mu.Lock()
	if m.mode != ModePaused {
		m.mu.Unlock()
		return
	}
	m.mode = ModeActive
	m.mu.Unlock()

	m.log.Info().Msg("Risk monitoring resumed")
	m.raise(domain.Alert{
		Kind:    domain.AlertTradingResumed,
		Title:   "Trading resumed",
		Message: "monitoring re-enabled",
	})
}

// AddPosition registers a position for watching, replacing any previous
// entry for the same asset.
func (m *Monitor) AddPosition(pos *domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[pos.AssetID] = &WatchEntry{
		AssetID:    pos.AssetID,
		Market:     pos.Market,
		EntryPrice: pos.AvgCost,
		Quantity:   pos.Quantity,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		StopMode:   pos.StopMode,
		LastPrice:  pos.CurrentPrice,
	}
	m.log.Info().Str("asset", pos.AssetID).
		Float64("stop_loss", pos.StopLoss).Float64("take_profit", pos.TakeProfit).
		Msg("Watching position")
}

// RemovePosition drops the watch entry for an asset, if any.
func (m *Monitor) RemovePosition(assetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[assetID]; ok {
		delete(m.entries, assetID)
		m.log.Info().Str("asset", assetID).Msg("Stopped watching position")
	}
}

// AdjustStopLoss mutates the stop of a watched asset.
func (m *Monitor) AdjustStopLoss(assetID string, stopLoss float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[assetID]
	if !ok {
		return fmt.Errorf("no watch entry for %s: %w", assetID, domain.ErrInvalidAsset)
	}
	entry.StopLoss = stopLoss
	entry.triggered = false
	return nil
}

// Entries returns a snapshot of the current watch entries.
func (m *Monitor) Entries() []WatchEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WatchEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out
}

// PendingAlerts returns unresolved alerts, newest last.
func (m *Monitor) PendingAlerts() []domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Alert, 0, len(m.pending))
	for _, a := range m.pending {
		out = append(out, *a)
	}
	return out
}

// ResolveAlert marks a pending alert acknowledged and resolved. It returns
// the alert so the caller can act on its payload.
func (m *Monitor) ResolveAlert(id string) (*domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.pending[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, domain.ErrOrderNotFound)
	}
	alert.Acknowledged = true
	alert.Resolved = true
	delete(m.pending, id)
	return alert, nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick evaluates every watch entry once. A failure on one entry is logged
// and the rest of the tick continues.
func (m *Monitor) tick(ctx context.Context) {
	m.mu.Lock()
	if m.mode != ModeActive {
		m.mu.Unlock()
		return
	}
	snapshot := make([]*WatchEntry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e)
	}
	m.mu.Unlock()

	for _, entry := range snapshot {
		m.evaluate(ctx, entry)
		m.mu.Lock()
		paused := m.mode != ModeActive
		m.mu.Unlock()
		if paused {
			return
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context, entry *WatchEntry) {
	price, err := m.fetch(ctx, entry.AssetID)
	if err != nil || price <= 0 {
		if err != nil {
			m.log.Warn().Err(err).Str("asset", entry.AssetID).Msg("Price fetch failed, skipping tick")
		}
		return
	}

	m.mu.Lock()
	last := entry.LastPrice
	entry.LastPrice = price
	m.mu.Unlock()

	if last > 0 {
		movePct := (price - last) / last * 100
		if math.Abs(movePct) >= m.cfg.SuddenMoveThresholdPct {
			m.suddenMove(entry, price, movePct)
			return
		}
	}

	m.mu.Lock()
	triggered := entry.triggered
	m.mu.Unlock()
	if triggered {
		return
	}

	switch {
	case entry.StopLoss > 0 && price <= entry.StopLoss:
		m.trigger(ctx, entry, price, domain.AlertStopLossTriggered)
	case entry.TakeProfit > 0 && price >= entry.TakeProfit:
		m.trigger(ctx, entry, price, domain.AlertTakeProfitTriggered)
	}
}

// suddenMove pauses the monitor; stop/TP is not evaluated on this tick so a
// bad print cannot auto-liquidate a position.
func (m *Monitor) suddenMove(entry *WatchEntry, price, movePct float64) {
	kind := domain.AlertSuddenMoveUp
	if movePct < 0 {
		kind = domain.AlertSuddenMoveDown
	}

	m.mu.Lock()
	m.mode = ModePaused
	m.mu.Unlock()

	m.log.Warn().Str("asset", entry.AssetID).Float64("move_pct", movePct).
		Msg("Sudden move detected, pausing monitor")
	m.raise(domain.Alert{
		Kind:    kind,
		AssetID: entry.AssetID,
		Title:   fmt.Sprintf("Sudden move on %s", entry.AssetID),
		Message: fmt.Sprintf("price moved %+.1f%% in one tick to %.0f", movePct, price),
		Payload: map[string]float64{
			"price":    price,
			"move_pct": movePct,
		},
		ActionRequired: true,
		Options:        []domain.AlertAction{domain.AlertActionResume, domain.AlertActionClosePosition, domain.AlertActionHold},
	})
}

func (m *Monitor) trigger(ctx context.Context, entry *WatchEntry, price float64, kind domain.AlertKind) {
	m.mu.Lock()
	entry.triggered = true
	m.mu.Unlock()

	if entry.StopMode == domain.StopLossAuto {
		m.log.Info().Str("asset", entry.AssetID).Str("kind", string(kind)).
			Float64("price", price).Msg("Auto-executing exit")
		if m.execute != nil {
			m.execute(ctx, *entry, kind)
		}
		return
	}

	var title string
	var options []domain.AlertAction
	switch kind {
	case domain.AlertStopLossTriggered:
		title = fmt.Sprintf("Stop-loss hit on %s", entry.AssetID)
		options = []domain.AlertAction{domain.AlertActionExecuteStopLoss, domain.AlertActionAdjustStopLoss, domain.AlertActionHold}
	default:
		title = fmt.Sprintf("Take-profit hit on %s", entry.AssetID)
		options = []domain.AlertAction{domain.AlertActionExecuteTakeProfit, domain.AlertActionHold}
	}
	m.raise(domain.Alert{
		Kind:    kind,
		AssetID: entry.AssetID,
		Title:   title,
		Message: fmt.Sprintf("price %.0f crossed level (stop %.0f, target %.0f)", price, entry.StopLoss, entry.TakeProfit),
		Payload: map[string]float64{
			"price":       price,
			"stop_loss":   entry.StopLoss,
			"take_profit": entry.TakeProfit,
		},
		ActionRequired: true,
		Options:        options,
	})
}

// raise stamps, records and dispatches an alert.
func (m *Monitor) raise(alert domain.Alert) {
	alert.ID = uuid.NewString()
	alert.CreatedAt = time.Now()

	m.mu.Lock()
	stored := alert
	m.pending[alert.ID] = &stored
	m.mu.Unlock()

	if m.send != nil {
		m.send(alert)
	}
}
