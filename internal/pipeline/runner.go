// Package pipeline runs the staged analysis state machine: data collection,
// three parallel analyses, risk assessment, synthesis, the approval
// interrupt, and execution. One goroutine per session; a process-wide slot
// semaphore bounds concurrent sessions.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/daehwan-kim/stockpilot/internal/domain"
	"github.com/daehwan-kim/stockpilot/internal/store"
)

const chartDays = 60

// Config holds pipeline settings.
type Config struct {
	MaxConcurrent   int
	SlotTimeout     time.Duration
	PositionSizePct float64 // Equity share targeted by a fresh buy, percent
}

// Hooks are the coordinator-owned callbacks the pipeline delegates to.
// ExecuteTrade runs the approved proposal and returns a short human-readable
// outcome; OnWatch routes watch/avoid resolutions into the watch list.
type Hooks struct {
	ExecuteTrade func(ctx context.Context, sess *domain.Session, quantityOverride float64) (string, error)
	OnWatch      func(ctx context.Context, sess *domain.Session)
}

type decision struct {
	approval domain.ApprovalStatus
	quantity float64
	feedback string
}

// sessionState pairs the persisted session with its run-side machinery.
// pending holds an accepted but not yet consumed decision; wake signals the
// run goroutine. Accepting a decision and clearing AwaitingApproval happen
// under one mutex hold, so a second decision always errors.
type sessionState struct {
	mu      sync.Mutex
	sess    *domain.Session
	pending *decision
	wake    chan struct{}
	cancel  context.CancelFunc

	// Collected market data, alive for the duration of the run only.
	asset      *domain.AssetInfo
	indicators indicatorSet
	heldQty    float64
	heldCost   float64
}

// Runner owns all in-flight sessions.
type Runner struct {
	cfg      Config
	clients  map[domain.Market]domain.ExchangeClient
	reasoner domain.Reasoner
	repo     *store.SessionRepository
	notifier domain.Notifier
	hooks    Hooks
	slots    *semaphore.Weighted
	log      zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionState
	finished []string // Terminal session ids, oldest first

	rootCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a pipeline runner.
func New(cfg Config, clients map[domain.Market]domain.ExchangeClient, reasoner domain.Reasoner,
	repo *store.SessionRepository, notifier domain.Notifier, hooks Hooks, log zerolog.Logger) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.SlotTimeout <= 0 {
		cfg.SlotTimeout = 60 * time.Second
	}
	if cfg.PositionSizePct <= 0 {
		cfg.PositionSizePct = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:      cfg,
		clients:  clients,
		reasoner: reasoner,
		repo:     repo,
		notifier: notifier,
		hooks:    hooks,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:      log.With().Str("component", "pipeline").Logger(),
		sessions: make(map[string]*sessionState),
		rootCtx:  ctx,
		stop:     cancel,
	}
}

// Stop cancels every in-flight session and waits for their goroutines.
func (r *Runner) Stop() {
	r.stop()
	r.wg.Wait()
}

// StartAnalysis creates a session and launches its pipeline goroutine.
func (r *Runner) StartAnalysis(market domain.Market, assetID, query string) (string, error) {
	if _, ok := r.clients[market]; !ok {
		return "", fmt.Errorf("%w: no exchange client for market %s", domain.ErrConfiguration, market)
	}
	if assetID == "" {
		return "", fmt.Errorf("%w: asset id is required", domain.ErrConfiguration)
	}

	now := time.Now()
	st := &sessionState{
		sess: &domain.Session{
			ID:        uuid.NewString(),
			AssetID:   assetID,
			Market:    market,
			Query:     query,
			Stage:     domain.StageDataCollection,
			CreatedAt: now,
			UpdatedAt: now,
		},
		wake: make(chan struct{}, 1),
	}

	r.mu.Lock()
	r.sessions[st.sess.ID] = st
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(st)

	r.log.Info().Str("session", st.sess.ID).Str("asset", assetID).Str("market", string(market)).
		Msg("Analysis session started")
	return st.sess.ID, nil
}

// GetStatus returns a snapshot copy of the session. Evicted sessions are
// served from the repository.
func (r *Runner) GetStatus(sessionID string) (*domain.Session, error) {
	st, err := r.state(sessionID)
	if err != nil {
		if r.repo != nil {
			return r.repo.Get(context.Background(), sessionID)
		}
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	snap := *st.sess
	snap.Analyses = append([]domain.AnalysisResult(nil), st.sess.Analyses...)
	snap.ReasoningLog = append([]string(nil), st.sess.ReasoningLog...)
	return &snap, nil
}

// Approve resumes a suspended session into execution. quantity > 0 overrides
// the proposal quantity.
func (r *Runner) Approve(sessionID string, quantity float64) error {
	return r.decide(sessionID, decision{approval: domain.ApprovalApproved, quantity: quantity})
}

// Reject sends the session back through re-analysis with optional feedback.
func (r *Runner) Reject(sessionID, feedback string) error {
	return r.decide(sessionID, decision{approval: domain.ApprovalRejected, feedback: feedback})
}

// Cancel aborts a session. Allowed at any stage before execution.
func (r *Runner) Cancel(sessionID string) error {
	st, err := r.state(sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	if st.sess.Stage == domain.StageExecution || st.sess.Stage == domain.StageComplete {
		st.mu.Unlock()
		return fmt.Errorf("%w: session %s is past the point of cancellation", domain.ErrBusinessRule, sessionID)
	}
	st.sess.Cancelled = true
	cancel := st.cancel
	st.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// maxFinishedSessions bounds the in-memory map; the repository keeps the
// full history, so evicted sessions are still readable.
const maxFinishedSessions = 50

// retire marks a session terminal and evicts the oldest finished ones
// beyond the retention cap.
func (r *Runner) retire(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, sessionID)
	for len(r.finished) > maxFinishedSessions {
		delete(r.sessions, r.finished[0])
		r.finished = r.finished[1:]
	}
}

func (r *Runner) state(sessionID string) (*sessionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return st, nil
}

func (r *Runner) decide(sessionID string, d decision) error {
	st, err := r.state(sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.sess.AwaitingApproval || st.pending != nil {
		return fmt.Errorf("%w: session %s is not awaiting approval", domain.ErrBusinessRule, sessionID)
	}
	st.pending = &d
	st.sess.AwaitingApproval = false
	st.sess.Approval = d.approval
	select {
	case st.wake <- struct{}{}:
	default:
	}
	return nil
}

// logf appends to the session reasoning log under the session mutex.
func (r *Runner) logf(st *sessionState, format string, args ...interface{}) {
	st.mu.Lock()
	st.sess.ReasoningLog = append(st.sess.ReasoningLog, fmt.Sprintf(format, args...))
	st.mu.Unlock()
}

// transition moves the session to a stage, persists and notifies.
func (r *Runner) transition(ctx context.Context, st *sessionState, stage domain.Stage) {
	st.mu.Lock()
	st.sess.Stage = stage
	st.sess.UpdatedAt = time.Now()
	snap := *st.sess
	st.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.Save(ctx, &snap); err != nil {
			r.log.Warn().Err(err).Str("session", snap.ID).Msg("Session save failed")
		}
	}
	if r.notifier != nil {
		r.notifier.Push(domain.Event{Kind: domain.EventSessionUpdated, Payload: &snap})
	}
}

// fail terminates the session with an error reason.
func (r *Runner) fail(ctx context.Context, st *sessionState, reason string) {
	st.mu.Lock()
	st.sess.Error = reason
	st.mu.Unlock()
	r.logf(st, "[ERROR] %s", reason)
	r.transition(ctx, st, domain.StageComplete)
}

func (r *Runner) run(st *sessionState) {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(r.rootCtx)
	defer cancel()
	st.mu.Lock()
	st.cancel = cancel
	sessionID := st.sess.ID
	market := st.sess.Market
	st.mu.Unlock()
	defer r.retire(sessionID)

	slotCtx, slotCancel := context.WithTimeout(ctx, r.cfg.SlotTimeout)
	err := r.slots.Acquire(slotCtx, 1)
	slotCancel()
	if err != nil {
		r.fail(ctx, st, "no analysis slot available within deadline")
		return
	}
	defer r.slots.Release(1)

	client := r.clients[market]
	strat := strategyFor(market)

	for {
		if err := r.collectData(ctx, st, client); err != nil {
			if ctx.Err() != nil {
				r.markCancelled(st)
				return
			}
			r.fail(ctx, st, fmt.Sprintf("data collection failed: %v", err))
			return
		}

		r.transition(ctx, st, domain.StageParallelAnalysis)
		r.runParallelAnalyses(ctx, st, strat)
		if ctx.Err() != nil {
			r.markCancelled(st)
			return
		}

		r.transition(ctx, st, domain.StageRiskAssessment)
		r.runRiskAssessment(ctx, st, strat)

		r.transition(ctx, st, domain.StageSynthesis)
		proposal, err := r.synthesize(ctx, st, strat, client)
		if err != nil {
			r.fail(ctx, st, fmt.Sprintf("synthesis failed: %v", err))
			return
		}

		// Non-executable resolutions complete without an approval round.
		switch proposal.Action {
		case domain.ActionWatch, domain.ActionAvoid:
			if r.hooks.OnWatch != nil {
				r.hooks.OnWatch(ctx, r.snapshot(st))
			}
			r.logf(st, "resolved to %s, added to watch routing", proposal.Action)
			r.transition(ctx, st, domain.StageComplete)
			return
		case domain.ActionHold:
			r.logf(st, "resolved to hold, no order required")
			r.transition(ctx, st, domain.StageComplete)
			return
		}

		st.mu.Lock()
		st.sess.AwaitingApproval = true
		st.sess.Approval = domain.ApprovalPending
		st.mu.Unlock()
		r.transition(ctx, st, domain.StageApproval)
		r.logf(st, "proposal published: %s %.8g @ %.0f, awaiting approval",
			proposal.Action, proposal.Quantity, proposal.EntryPrice)

		var d decision
		for {
			st.mu.Lock()
			if st.pending != nil {
				d = *st.pending
				st.pending = nil
				st.mu.Unlock()
				break
			}
			st.mu.Unlock()
			select {
			case <-st.wake:
			case <-ctx.Done():
				r.markCancelled(st)
				return
			}
		}

		if d.approval == domain.ApprovalRejected {
			r.reanalyze(ctx, st, d.feedback)
			continue
		}

		r.transition(ctx, st, domain.StageExecution)
		if r.hooks.ExecuteTrade != nil {
			outcome, err := r.hooks.ExecuteTrade(ctx, r.snapshot(st), d.quantity)
			if err != nil {
				r.logf(st, "[ERROR] execution failed: %v", err)
			} else {
				r.logf(st, "execution: %s", outcome)
			}
		}
		r.transition(ctx, st, domain.StageComplete)
		r.log.Info().Str("session", sessionID).Msg("Session complete")
		return
	}
}

func (r *Runner) markCancelled(st *sessionState) {
	st.mu.Lock()
	st.sess.Cancelled = true
	st.mu.Unlock()
	r.logf(st, "session cancelled")
	r.transition(context.Background(), st, domain.StageComplete)
}

// reanalyze resets the session to data collection, clearing all prior
// results and recording the user's feedback.
func (r *Runner) reanalyze(ctx context.Context, st *sessionState, feedback string) {
	st.mu.Lock()
	st.sess.ReanalysisCount++
	st.sess.Analyses = nil
	st.sess.Proposal = nil
	st.sess.Approval = ""
	st.sess.UserFeedback = feedback
	count := st.sess.ReanalysisCount
	st.mu.Unlock()

	if feedback != "" {
		r.logf(st, "rejected with feedback: %s", feedback)
	}
	r.logf(st, "re-analysis %d starting", count)
	r.transition(ctx, st, domain.StageDataCollection)
}

// snapshot returns a consistent copy for handing outside the runner.
func (r *Runner) snapshot(st *sessionState) *domain.Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	snap := *st.sess
	snap.Analyses = append([]domain.AnalysisResult(nil), st.sess.Analyses...)
	return &snap
}

func (r *Runner) collectData(ctx context.Context, st *sessionState, client domain.ExchangeClient) error {
	st.mu.Lock()
	assetID := st.sess.AssetID
	st.mu.Unlock()

	asset, err := client.GetAsset(ctx, assetID)
	if err != nil {
		return fmt.Errorf("quote: %w", err)
	}
	chart, err := client.GetChart(ctx, assetID, chartDays)
	if err != nil {
		return fmt.Errorf("chart: %w", err)
	}
	book, err := client.GetOrderbook(ctx, assetID)
	if err != nil {
		return fmt.Errorf("orderbook: %w", err)
	}

	heldQty, heldCost := 0.0, 0.0
	if balance, err := client.GetAccountBalance(ctx); err != nil {
		r.logf(st, "[ERROR] account lookup failed, assuming no position: %v", err)
	} else if h := balance.Holding(assetID); h != nil {
		heldQty, heldCost = h.Quantity, h.AvgCost
	}

	closes := make([]float64, len(chart))
	volumes := make([]float64, len(chart))
	for i, c := range chart {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	st.mu.Lock()
	st.asset = asset
	st.indicators = computeIndicators(closes, volumes, asset.Price, asset.ChangePct, book.BidAskRatio())
	st.heldQty = heldQty
	st.heldCost = heldCost
	st.sess.AssetName = asset.Name
	st.mu.Unlock()

	r.logf(st, "collected %d candles, price %.0f, change %+.2f%%", len(chart), asset.Price, asset.ChangePct)
	return nil
}

// runParallelAnalyses fans out the three analyses and joins them. A failure
// in any one is logged and the rest proceed.
func (r *Runner) runParallelAnalyses(ctx context.Context, st *sessionState, strat strategy) {
	type job struct {
		agent domain.AgentKind
		fn    func(context.Context, *sessionState, strategy) (domain.AnalysisResult, error)
	}
	jobs := []job{
		{domain.AgentTechnical, r.analyzeTechnical},
		{strat.SecondAgent(), r.analyzeSecond},
		{domain.AgentSentiment, r.analyzeSentiment},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			result, err := j.fn(gctx, st, strat)
			if err != nil {
				r.logf(st, "[ERROR] %s analysis failed: %v", j.agent, err)
				return nil // Other analyses continue
			}
			st.mu.Lock()
			st.sess.Analyses = append(st.sess.Analyses, result)
			st.mu.Unlock()
			r.logf(st, "%s: %s (%.0f%%)", j.agent, result.Signal, result.Confidence*100)
			return nil
		})
	}
	_ = g.Wait()
}

// narrate asks the reasoner for advisory text. Failures degrade to a stub;
// the numeric decision is already made.
func (r *Runner) narrate(ctx context.Context, st *sessionState, prompt string) string {
	if r.reasoner == nil {
		return "narration disabled"
	}
	st.mu.Lock()
	asset := st.sess.AssetID
	query := st.sess.Query
	st.mu.Unlock()

	messages := []domain.Message{
		{Role: domain.RoleSystem, Content: "You are a trading analyst. Answer in at most three sentences."},
		{Role: domain.RoleUser, Content: fmt.Sprintf("Asset %s. %s %s", asset, prompt, query)},
	}
	text, err := r.reasoner.Generate(ctx, messages)
	if err != nil {
		r.log.Debug().Err(err).Msg("Reasoner narration failed")
		return "narration unavailable"
	}
	return text
}

func (r *Runner) analyzeTechnical(ctx context.Context, st *sessionState, _ strategy) (domain.AnalysisResult, error) {
	st.mu.Lock()
	in := st.indicators
	st.mu.Unlock()

	score, detected := technicalScore(in)
	signal := adjustSignal(scoreToSignal(score), detected)

	factors := make([]string, 0, 5)
	for _, d := range detected {
		if len(factors) == 5 {
			break
		}
		factors = append(factors, d.Name)
	}

	return domain.AnalysisResult{
		Agent:      domain.AgentTechnical,
		Signal:     signal,
		Confidence: technicalConfidence(score),
		Summary:    fmt.Sprintf("technical score %+d → %s", score, signal),
		Reasoning:  r.narrate(ctx, st, fmt.Sprintf("Technical read: RSI %.1f, SMA5 %.0f vs SMA20 %.0f.", in.RSI, in.SMAShort, in.SMALong)),
		KeyFactors: factors,
		Indicators: in.asMap(),
		CreatedAt:  time.Now(),
	}, nil
}

// analyzeSecond is fundamental analysis for stocks, market analysis for
// crypto.
func (r *Runner) analyzeSecond(ctx context.Context, st *sessionState, strat strategy) (domain.AnalysisResult, error) {
	st.mu.Lock()
	asset := st.asset
	in := st.indicators
	st.mu.Unlock()
	if asset == nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: no asset data in session", domain.ErrConfiguration)
	}

	if strat.SecondAgent() == domain.AgentFundamental {
		score, points := fundamentalScore(asset.PER, asset.PBR, asset.EPS)
		return domain.AnalysisResult{
			Agent:      domain.AgentFundamental,
			Signal:     fundamentalSignal(score),
			Confidence: fundamentalConfidence(score, points),
			Summary:    fmt.Sprintf("valuation score %+.1f over %d data points", score, points),
			Reasoning:  r.narrate(ctx, st, fmt.Sprintf("Valuation: PER %.1f, PBR %.2f, EPS %.0f.", asset.PER, asset.PBR, asset.EPS)),
			Indicators: map[string]float64{"per": asset.PER, "pbr": asset.PBR, "eps": asset.EPS},
			CreatedAt:  time.Now(),
		}, nil
	}

	score := marketScore(in)
	return domain.AnalysisResult{
		Agent:      domain.AgentMarket,
		Signal:     scoreToSignal(score),
		Confidence: math.Min(0.85, 0.5+0.05*math.Abs(float64(score))),
		Summary:    fmt.Sprintf("market score %+d", score),
		Reasoning:  r.narrate(ctx, st, fmt.Sprintf("Market regime: 24h change %+.1f%%, volatility %.2f.", in.ChangePct, in.Volatility)),
		Indicators: map[string]float64{"change_pct": in.ChangePct, "volatility": in.Volatility, "volume_ratio": in.VolumeRatio},
		CreatedAt:  time.Now(),
	}, nil
}

func (r *Runner) analyzeSentiment(ctx context.Context, st *sessionState, _ strategy) (domain.AnalysisResult, error) {
	st.mu.Lock()
	asset := st.asset
	in := st.indicators
	st.mu.Unlock()
	if asset == nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: no asset data in session", domain.ErrConfiguration)
	}

	score := sentimentScore(in, asset.High52w, asset.Low52w)
	return domain.AnalysisResult{
		Agent:      domain.AgentSentiment,
		Signal:     scoreToSignal(score),
		Confidence: math.Min(0.75, 0.45+0.05*math.Abs(float64(score))),
		Summary:    fmt.Sprintf("sentiment score %+d", score),
		Reasoning:  r.narrate(ctx, st, fmt.Sprintf("Crowd mood: momentum %+.1f%%, volume ratio %.1fx.", in.ChangePct, in.VolumeRatio)),
		Indicators: map[string]float64{"change_pct": in.ChangePct, "volume_ratio": in.VolumeRatio},
		CreatedAt:  time.Now(),
	}, nil
}

// runRiskAssessment reads the prior results sequentially and appends the
// risk AnalysisResult with the suggested stop/TP offsets.
func (r *Runner) runRiskAssessment(ctx context.Context, st *sessionState, strat strategy) {
	st.mu.Lock()
	analyses := append([]domain.AnalysisResult(nil), st.sess.Analyses...)
	in := st.indicators
	st.mu.Unlock()

	score := riskScore(strat, in.ChangePct, analyses)
	stopPct, tpPct := strat.StopTakeProfit(score)

	result := domain.AnalysisResult{
		Agent:      domain.AgentRisk,
		Signal:     domain.SignalHold, // Risk never votes a direction
		Confidence: clampConfidence(1 - score/2),
		Summary:    fmt.Sprintf("risk %.2f, stop -%.1f%%, take-profit +%.1f%%", score, stopPct, tpPct),
		Reasoning:  r.narrate(ctx, st, fmt.Sprintf("Risk: score %.2f, annualized volatility %.2f.", score, in.Volatility)),
		Indicators: map[string]float64{
			"risk_score":      score,
			"stop_loss_pct":   stopPct,
			"take_profit_pct": tpPct,
			"volatility":      in.Volatility,
		},
		CreatedAt: time.Now(),
	}

	st.mu.Lock()
	st.sess.Analyses = append(st.sess.Analyses, result)
	st.mu.Unlock()
	r.logf(st, "risk: %.2f", score)
}

// synthesize builds the consensus, resolves the action against the current
// position, sizes the trade and publishes the proposal.
func (r *Runner) synthesize(ctx context.Context, st *sessionState, strat strategy, client domain.ExchangeClient) (*domain.TradeProposal, error) {
	st.mu.Lock()
	analyses := append([]domain.AnalysisResult(nil), st.sess.Analyses...)
	asset := st.asset
	heldQty, heldCost := st.heldQty, st.heldCost
	assetID := st.sess.AssetID
	st.mu.Unlock()
	if asset == nil {
		return nil, fmt.Errorf("%w: no asset data in session", domain.ErrConfiguration)
	}

	// Risk abstains from the directional vote.
	var voters []domain.AnalysisResult
	risk := 0.0
	stopPct, tpPct := strat.StopTakeProfit(0)
	for _, a := range analyses {
		if a.Agent == domain.AgentRisk {
			risk = a.Indicators["risk_score"]
			stopPct = a.Indicators["stop_loss_pct"]
			tpPct = a.Indicators["take_profit_pct"]
			continue
		}
		voters = append(voters, a)
	}

	signal, confidence := consensus(voters)

	held := heldQty > 0
	pnlPct := 0.0
	if held && heldCost > 0 {
		pnlPct = (asset.Price - heldCost) / heldCost * 100
	}
	action := domain.ResolveAction(signal, held, pnlPct)

	quantity := 0.0
	entry := asset.Price
	switch {
	case action.IsBuyClass():
		balance, err := client.GetCashBalance(ctx)
		if err != nil {
			return nil, fmt.Errorf("cash balance: %w", err)
		}
		budget := balance.OrderableCash * r.cfg.PositionSizePct / 100
		quantity = strat.BuyQuantity(budget, entry)
	case action == domain.ActionSell:
		quantity = heldQty
	case action == domain.ActionReduce:
		quantity = strat.ReduceQuantity(heldQty)
	}

	proposal := &domain.TradeProposal{
		AssetID:         assetID,
		AssetName:       asset.Name,
		Market:          strat.Market(),
		Action:          action,
		Signal:          signal,
		Confidence:      confidence,
		Quantity:        quantity,
		EntryPrice:      entry,
		StopLoss:        entry * (1 - stopPct/100),
		TakeProfit:      entry * (1 + tpPct/100),
		RiskScore:       risk * 10,
		PositionSizePct: r.cfg.PositionSizePct,
		Rationale: r.narrate(ctx, st, fmt.Sprintf(
			"Consensus %s at %.0f%% confidence resolved to %s (held: %v, P&L %+.1f%%). Summarize the case.",
			signal, confidence*100, action, held, pnlPct)),
		Analyses: analyses,
	}

	st.mu.Lock()
	st.sess.Proposal = proposal
	st.mu.Unlock()
	r.logf(st, "consensus %s (%.0f%%) → %s, qty %.8g", signal, confidence*100, action, quantity)
	return proposal, nil
}
