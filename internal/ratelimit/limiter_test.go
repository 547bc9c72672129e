package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

func testLimiter(minInterval time.Duration) *Limiter {
	return New(Config{QueryPerSec: 5, OrderPerSec: 5, MinInterval: minInterval}, zerolog.Nop())
}

func TestClassifyOp(t *testing.T) {
	assert.Equal(t, KindQuery, ClassifyOp("get_asset"))
	assert.Equal(t, KindQuery, ClassifyOp("get_cash_balance"))
	assert.Equal(t, KindOrder, ClassifyOp("place_buy"))
	assert.Equal(t, KindOrder, ClassifyOp("cancel_order"))
	// Unknown ids default to the query bucket
	assert.Equal(t, KindQuery, ClassifyOp("some_future_op"))
}

func TestAcquireEnforcesMinInterval(t *testing.T) {
	l := testLimiter(50 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, KindQuery))
	start := time.Now()
	require.NoError(t, l.Acquire(ctx, KindQuery))
	require.NoError(t, l.Acquire(ctx, KindQuery))
	elapsed := time.Since(start)

	// Two follow-up acquires must be spaced at least ~2x the interval apart
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestBucketsAreIndependent(t *testing.T) {
	l := testLimiter(80 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, KindQuery))

	// An order acquire right after a query acquire does not wait for the
	// query bucket's spacing.
	start := time.Now()
	require.NoError(t, l.Acquire(ctx, KindOrder))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestAcquireDeadline(t *testing.T) {
	l := testLimiter(200 * time.Millisecond)

	require.NoError(t, l.Acquire(context.Background(), KindOrder))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, KindOrder)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimitExceeded))
}

func TestStatsCounters(t *testing.T) {
	l := testLimiter(0)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, KindQuery))
	require.NoError(t, l.Acquire(ctx, KindQuery))
	require.NoError(t, l.Acquire(ctx, KindOrder))

	stats := l.Stats()
	assert.Equal(t, int64(2), stats.QueryRequests)
	assert.Equal(t, int64(1), stats.OrderRequests)
}
