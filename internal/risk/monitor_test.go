package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (r *alertRecorder) send(a domain.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *alertRecorder) kinds() []domain.AlertKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AlertKind, len(r.alerts))
	for i, a := range r.alerts {
		out[i] = a.Kind
	}
	return out
}

type priceFeed struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (f *priceFeed) set(asset string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = price
}

func (f *priceFeed) fetch(_ context.Context, asset string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prices[asset], nil
}

type exitRecorder struct {
	mu    sync.Mutex
	calls []domain.AlertKind
}

func (e *exitRecorder) execute(_ context.Context, _ WatchEntry, kind domain.AlertKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, kind)
}

func watchedPosition(mode domain.StopLossMode) *domain.Position {
	return &domain.Position{
		AssetID: "A", Market: domain.MarketStock,
		Quantity: 20, AvgCost: 50_000, CurrentPrice: 50_000,
		StopLoss: 46_000, TakeProfit: 54_000, StopMode: mode,
	}
}

func newTestMonitor(feed *priceFeed, rec *alertRecorder, exits *exitRecorder) *Monitor {
	m := New(Config{SuddenMoveThresholdPct: 10}, feed.fetch, rec.send, exits.execute, zerolog.Nop())
	m.mode = ModeActive
	return m
}

func TestSuddenMovePausesAndSkipsStopEvaluation(t *testing.T) {
	feed := &priceFeed{prices: map[string]float64{"A": 50_000}}
	rec := &alertRecorder{}
	exits := &exitRecorder{}
	m := newTestMonitor(feed, rec, exits)
	m.AddPosition(watchedPosition(domain.StopLossAuto))

	// +11% in one tick: sudden-move-up fires and the monitor pauses. The
	// stop is below, so without the pause nothing would have executed
	// anyway; the point is that evaluation short-circuits.
	feed.set("A", 55_500)
	m.tick(context.Background())

	require.Equal(t, []domain.AlertKind{domain.AlertSuddenMoveUp}, rec.kinds())
	assert.Equal(t, ModePaused, m.Mode())
	assert.Empty(t, exits.calls, "take-profit must not auto-execute on the sudden-move tick")

	// Paused monitor ignores further ticks.
	feed.set("A", 40_000)
	m.tick(context.Background())
	assert.Len(t, rec.kinds(), 1)

	// Resume returns to active and announces it.
	m.Resume()
	assert.Equal(t, ModeActive, m.Mode())
	assert.Equal(t, domain.AlertTradingResumed, rec.kinds()[1])
}

func TestSuddenMoveThresholdIsInclusive(t *testing.T) {
	feed := &priceFeed{prices: map[string]float64{"A": 50_000}}
	rec := &alertRecorder{}
	m := newTestMonitor(feed, rec, &exitRecorder{})
	m.AddPosition(watchedPosition(domain.StopLossUserApproval))

	// Exactly -10.0% fires.
	feed.set("A", 45_000)
	m.tick(context.Background())
	require.Equal(t, []domain.AlertKind{domain.AlertSuddenMoveDown}, rec.kinds())
}

func TestMoveBelowThresholdDoesNotPause(t *testing.T) {
	feed := &priceFeed{prices: map[string]float64{"A": 50_000}}
	rec := &alertRecorder{}
	m := newTestMonitor(feed, rec, &exitRecorder{})
	m.AddPosition(watchedPosition(domain.StopLossUserApproval))

	feed.set("A", 52_000) // +4%
	m.tick(context.Background())
	assert.Empty(t, rec.kinds())
	assert.Equal(t, ModeActive, m.Mode())
}

func TestStopLossUserApprovalRaisesActionableAlert(t *testing.T) {
	feed := &priceFeed{prices: map[string]float64{"A": 50_000}}
	rec := &alertRecorder{}
	exits := &exitRecorder{}
	m := newTestMonitor(feed, rec, exits)
	m.AddPosition(watchedPosition(domain.StopLossUserApproval))

	feed.set("A", 47_500) // -5%: below the sudden-move bar
	m.tick(context.Background())
	feed.set("A", 45_800) // under the 46,000 stop
	m.tick(context.Background())

	// A standing breach does not re-fire on later ticks.
	m.tick(context.Background())
	require.Len(t, rec.alerts, 1)
	alert := rec.alerts[0]
	assert.Equal(t, domain.AlertStopLossTriggered, alert.Kind)
	assert.True(t, alert.ActionRequired)
	assert.Contains(t, alert.Options, domain.AlertActionExecuteStopLoss)
	assert.Contains(t, alert.Options, domain.AlertActionAdjustStopLoss)
	assert.Empty(t, exits.calls)

	pending := m.PendingAlerts()
	require.Len(t, pending, 1)
	resolved, err := m.ResolveAlert(pending[0].ID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Empty(t, m.PendingAlerts())
}

func TestStopLossAutoModeExecutes(t *testing.T) {
	feed := &priceFeed{prices: map[string]float64{"A": 50_000}}
	rec := &alertRecorder{}
	exits := &exitRecorder{}
	m := newTestMonitor(feed, rec, exits)
	m.AddPosition(watchedPosition(domain.StopLossAuto))

	feed.set("A", 47_500)
	m.tick(context.Background())
	feed.set("A", 45_800)
	m.tick(context.Background())

	require.Equal(t, []domain.AlertKind{domain.AlertStopLossTriggered}, exits.calls)
	assert.Empty(t, rec.kinds(), "auto mode executes without an alert")
}

func TestTakeProfitTriggers(t *testing.T) {
	feed := &priceFeed{prices: map[string]float64{"A": 50_000}}
	rec := &alertRecorder{}
	m := newTestMonitor(feed, rec, &exitRecorder{})
	m.AddPosition(watchedPosition(domain.StopLossUserApproval))

	feed.set("A", 52_500) // +5%
	m.tick(context.Background())
	feed.set("A", 54_100) // over the 54,000 target, +3% tick
	m.tick(context.Background())

	require.Len(t, rec.alerts, 1)
	assert.Equal(t, domain.AlertTakeProfitTriggered, rec.alerts[0].Kind)
	assert.Contains(t, rec.alerts[0].Options, domain.AlertActionExecuteTakeProfit)
}

func TestAddThenRemoveRestoresPriorState(t *testing.T) {
	feed := &priceFeed{prices: map[string]float64{"A": 50_000}}
	rec := &alertRecorder{}
	m := newTestMonitor(feed, rec, &exitRecorder{})

	before := len(m.Entries())
	m.AddPosition(watchedPosition(domain.StopLossUserApproval))
	require.Len(t, m.Entries(), before+1)
	m.RemovePosition("A")
	assert.Len(t, m.Entries(), before)

	// A tick after removal observes nothing.
	feed.set("A", 10_000)
	m.tick(context.Background())
	assert.Empty(t, rec.kinds())
}

func TestAdjustStopLoss(t *testing.T) {
	feed := &priceFeed{prices: map[string]float64{"A": 50_000}}
	m := newTestMonitor(feed, &alertRecorder{}, &exitRecorder{})
	m.AddPosition(watchedPosition(domain.StopLossUserApproval))

	require.NoError(t, m.AdjustStopLoss("A", 48_000))
	assert.Equal(t, 48_000.0, m.Entries()[0].StopLoss)
	assert.Error(t, m.AdjustStopLoss("MISSING", 1))
}

func TestPauseRaisesAlertAndStartStop(t *testing.T) {
	feed := &priceFeed{prices: map[string]float64{"A": 50_000}}
	rec := &alertRecorder{}
	m := New(Config{TickInterval: 10 * time.Millisecond, SuddenMoveThresholdPct: 10},
		feed.fetch, rec.send, nil, zerolog.Nop())

	m.Start(context.Background())
	assert.Equal(t, ModeActive, m.Mode())

	m.Pause("daily limit reached")
	require.NotEmpty(t, rec.kinds())
	assert.Equal(t, domain.AlertTradingPaused, rec.kinds()[0])

	m.Stop()
	assert.Equal(t, ModeStopped, m.Mode())
}
