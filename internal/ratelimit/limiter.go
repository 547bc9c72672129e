// Package ratelimit enforces the upstream request budget with two
// independent token buckets, one for query operations and one for orders.
// Beyond the bucket tokens, a minimum inter-request spacing is enforced per
// kind even when tokens are available, so bursts never reach the upstream.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

// Kind selects the bucket an operation draws from.
type Kind int

const (
	// KindQuery is for market-data and account reads.
	KindQuery Kind = iota
	// KindOrder is for order placement, modification and cancellation.
	KindOrder
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	if k == KindOrder {
		return "order"
	}
	return "query"
}

// opKinds classifies operation ids to a bucket. Unknown ids default to the
// query bucket. The table is part of the exchange-client contract.
var opKinds = map[string]Kind{
	"get_asset":           KindQuery,
	"get_orderbook":       KindQuery,
	"get_chart":           KindQuery,
	"get_cash_balance":    KindQuery,
	"get_account_balance": KindQuery,
	"get_pending_orders":  KindQuery,
	"get_filled_orders":   KindQuery,
	"get_stock_list":      KindQuery,
	"get_holidays":        KindQuery,
	"place_buy":           KindOrder,
	"place_sell":          KindOrder,
	"modify_order":        KindOrder,
	"cancel_order":        KindOrder,
}

// ClassifyOp returns the bucket kind for an operation id.
func ClassifyOp(opID string) Kind {
	if kind, ok := opKinds[opID]; ok {
		return kind
	}
	return KindQuery
}

// Config holds limiter settings.
type Config struct {
	QueryPerSec int           // Bucket capacity and refill rate for queries
	OrderPerSec int           // Bucket capacity and refill rate for orders
	MinInterval time.Duration // Minimum spacing between requests of one kind
}

// Stats are cumulative counters per kind.
type Stats struct {
	QueryRequests int64         `json:"query_requests"`
	OrderRequests int64         `json:"order_requests"`
	QueryWait     time.Duration `json:"query_wait"`
	OrderWait     time.Duration `json:"order_wait"`
}

type bucket struct {
	limiter     *rate.Limiter
	minInterval time.Duration

	mu       sync.Mutex
	last     time.Time // Reserved time of the most recent request
	requests int64
	waited   time.Duration
}

// Limiter is the two-bucket rate limiter.
type Limiter struct {
	query *bucket
	order *bucket
	log   zerolog.Logger
}

// New creates a limiter from config. Zero or negative rates fall back to 5/s
// and a zero MinInterval disables spacing.
func New(cfg Config, log zerolog.Logger) *Limiter {
	if cfg.QueryPerSec <= 0 {
		cfg.QueryPerSec = 5
	}
	if cfg.OrderPerSec <= 0 {
		cfg.OrderPerSec = 5
	}
	return &Limiter{
		query: &bucket{
			limiter:     rate.NewLimiter(rate.Limit(cfg.QueryPerSec), cfg.QueryPerSec),
			minInterval: cfg.MinInterval,
		},
		order: &bucket{
			limiter:     rate.NewLimiter(rate.Limit(cfg.OrderPerSec), cfg.OrderPerSec),
			minInterval: cfg.MinInterval,
		},
		log: log.With().Str("component", "ratelimit").Logger(),
	}
}

func (l *Limiter) bucketFor(kind Kind) *bucket {
	if kind == KindOrder {
		return l.order
	}
	return l.query
}

// Acquire blocks until a token is available and the minimum spacing since the
// previous request of the same kind has elapsed, then consumes the token.
// Context cancellation or deadline miss yields ErrRateLimitExceeded.
func (l *Limiter) Acquire(ctx context.Context, kind Kind) error {
	b := l.bucketFor(kind)
	start := time.Now()

	if err := b.limiter.Wait(ctx); err != nil {
		return domain.NewClientError(domain.ErrRateLimitExceeded, "acquire_"+kind.String(), 0,
			"wait deadline exceeded before token was available")
	}

	// Reserve the next slot under the mutex, sleep unlocked.
	b.mu.Lock()
	now := time.Now()
	target := now
	if !b.last.IsZero() {
		if earliest := b.last.Add(b.minInterval); earliest.After(now) {
			target = earliest
		}
	}
	b.last = target
	b.mu.Unlock()

	if wait := time.Until(target); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return domain.NewClientError(domain.ErrRateLimitExceeded, "acquire_"+kind.String(), 0,
				"wait deadline exceeded during spacing delay")
		}
	}

	b.mu.Lock()
	b.requests++
	b.waited += time.Since(start)
	b.mu.Unlock()

	return nil
}

// Stats returns cumulative request counts and wait time per kind.
func (l *Limiter) Stats() Stats {
	var s Stats
	l.query.mu.Lock()
	s.QueryRequests = l.query.requests
	s.QueryWait = l.query.waited
	l.query.mu.Unlock()
	l.order.mu.Lock()
	s.OrderRequests = l.order.requests
	s.OrderWait = l.order.waited
	l.order.mu.Unlock()
	return s
}
