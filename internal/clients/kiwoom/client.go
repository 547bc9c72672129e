// Package kiwoom implements the Korean-broker side of domain.ExchangeClient.
// Every call funnels through the rate limiter and the tiered cache; order
// calls invalidate the account cache classes on success.
package kiwoom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/daehwan-kim/stockpilot/internal/cache"
	"github.com/daehwan-kim/stockpilot/internal/domain"
	"github.com/daehwan-kim/stockpilot/internal/ratelimit"
)

// Upstream return codes. The numeric mapping is stable; see errorKind.
const (
	codeOK                  = 0
	codeInvalidAsset        = 4000
	codeInsufficientBalance = 4001
	codeOrderNotFound       = 4002
	codeMarketClosed        = 4010
	codeAuthExpired         = 8001
	codeAuthInvalid         = 8002
	codeRateLimit           = 9001
)

const (
	retryMax = 3
	// retryBase doubles per attempt: 1s, 2s, 4s.
	retryBase = time.Second
)

// Config holds broker client settings.
type Config struct {
	AppKey    string
	AppSecret string
	AccountNo string
	BaseURL   string
}

// Client is the typed facade over the broker REST API.
type Client struct {
	cfg     Config
	http    *resty.Client
	tokens  *tokenManager
	limiter *ratelimit.Limiter
	cache   *cache.Cache
	log     zerolog.Logger
}

var _ domain.ExchangeClient = (*Client)(nil)

// New creates a broker client.
func New(cfg Config, limiter *ratelimit.Limiter, tiered *cache.Cache, log zerolog.Logger) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json;charset=UTF-8")

	clientLog := log.With().Str("component", "kiwoom").Logger()
	return &Client{
		cfg:     cfg,
		http:    http,
		tokens:  newTokenManager(cfg.AppKey, cfg.AppSecret, http, clientLog),
		limiter: limiter,
		cache:   tiered,
		log:     clientLog,
	}
}

// Market returns the asset domain this client serves.
func (c *Client) Market() domain.Market {
	return domain.MarketStock
}

// errorKind maps an upstream return code to the failure taxonomy.
func errorKind(code int) error {
	switch code {
	case codeInvalidAsset:
		return domain.ErrInvalidAsset
	case codeInsufficientBalance:
		return domain.ErrInsufficientBalance
	case codeOrderNotFound:
		return domain.ErrOrderNotFound
	case codeMarketClosed:
		return domain.ErrMarketClosed
	case codeAuthExpired, codeAuthInvalid:
		return domain.ErrAuthentication
	case codeRateLimit:
		return domain.ErrRateLimitExceeded
	default:
		return domain.ErrTransientUpstream
	}
}

// call executes one upstream request: rate-limit slot, bearer token, POST,
// envelope decode. Rate-limit and transient errors retry with the 1s/2s/4s
// ladder; an authentication error forces one token refresh then one retry.
func (c *Client) call(ctx context.Context, op, apiID string, body interface{}, out responseEnvelope) error {
	if err := c.limiter.Acquire(ctx, ratelimit.ClassifyOp(op)); err != nil {
		return err
	}

	authRetried := false
	var lastErr error
	for attempt := 0; attempt <= retryMax; attempt++ {
		if attempt > 0 {
			backoff := retryBase << uint(attempt-1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return domain.NewClientError(domain.ErrTransientUpstream, op, 0, ctx.Err().Error())
			}
		}

		err := c.doOnce(ctx, op, apiID, body, out)
		if err == nil {
			return nil
		}

		if errors.Is(err, domain.ErrAuthentication) && !authRetried {
			// One forced refresh, then one retry. Does not consume the
			// transient retry budget.
			c.tokens.Invalidate()
			authRetried = true
			attempt--
			lastErr = err
			continue
		}
		if !domain.IsRetryable(err) {
			return err
		}
		lastErr = err
		c.log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("Retryable upstream error")
	}

	if errors.Is(lastErr, domain.ErrRateLimitExceeded) {
		return lastErr
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, op, apiID string, body interface{}, out responseEnvelope) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("authorization", "Bearer "+token).
		SetHeader("api-id", apiID).
		SetResult(out)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Post("/api/dostk/" + apiID)
	if err != nil {
		return domain.NewClientError(domain.ErrTransientUpstream, op, 0, err.Error())
	}
	if resp.StatusCode() >= 500 {
		return domain.NewClientError(domain.ErrTransientUpstream, op, resp.StatusCode(),
			fmt.Sprintf("upstream returned status %d", resp.StatusCode()))
	}
	if resp.StatusCode() == 429 {
		return domain.NewClientError(domain.ErrRateLimitExceeded, op, 429, "upstream rate limit")
	}

	if code := out.Code(); code != codeOK {
		return domain.NewClientError(errorKind(code), op, code, out.Msg())
	}
	return nil
}

// cachedQuery wraps a query op in cache read-through: a fresh cache hit
// skips the upstream entirely.
func cachedQuery[T any](ctx context.Context, c *Client, key string, fetch func() (*T, error)) (*T, error) {
	var cached T
	if ok, err := c.cache.Get(ctx, key, &cached); err == nil && ok {
		return &cached, nil
	}

	value, err := fetch()
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, value, 0); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("Cache write failed")
	}
	return value, nil
}
