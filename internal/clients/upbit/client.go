// Package upbit implements the crypto side of domain.ExchangeClient. The
// exchange has no account-number concept: cash is the KRW balance line and
// holdings are every non-KRW balance, so the account views are derived from
// the balances endpoint plus ticker lookups.
package upbit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/daehwan-kim/stockpilot/internal/cache"
	"github.com/daehwan-kim/stockpilot/internal/domain"
	"github.com/daehwan-kim/stockpilot/internal/ratelimit"
)

const (
	retryMax  = 3
	retryBase = time.Second
)

// Config holds crypto exchange client settings.
type Config struct {
	AccessKey string
	SecretKey string
	BaseURL   string
}

// Client is the typed facade over the crypto exchange REST API.
type Client struct {
	cfg     Config
	http    *resty.Client
	sign    signer
	limiter *ratelimit.Limiter
	cache   *cache.Cache
	log     zerolog.Logger
}

var _ domain.ExchangeClient = (*Client)(nil)

// New creates a crypto exchange client.
func New(cfg Config, limiter *ratelimit.Limiter, tiered *cache.Cache, log zerolog.Logger) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		cfg:     cfg,
		http:    http,
		sign:    signer{accessKey: cfg.AccessKey, secretKey: cfg.SecretKey},
		limiter: limiter,
		cache:   tiered,
		log:     log.With().Str("component", "upbit").Logger(),
	}
}

// Market returns the asset domain this client serves.
func (c *Client) Market() domain.Market {
	return domain.MarketCrypto
}

// mapError translates an HTTP status and error envelope into the failure
// taxonomy. Credentials are static keys, so authentication errors here are
// terminal rather than refreshable.
func mapError(op string, status int, apiErr apiError) error {
	name := apiErr.Error.Name
	msg := apiErr.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("upstream returned status %d", status)
	}

	switch {
	case status == 401 || strings.HasPrefix(name, "jwt_") || name == "invalid_access_key":
		return domain.NewClientError(domain.ErrAuthentication, op, status, msg)
	case status == 429 || name == "too_many_requests":
		return domain.NewClientError(domain.ErrRateLimitExceeded, op, status, msg)
	case strings.HasPrefix(name, "insufficient_funds"):
		return domain.NewClientError(domain.ErrInsufficientBalance, op, status, msg)
	case name == "order_not_found":
		return domain.NewClientError(domain.ErrOrderNotFound, op, status, msg)
	case name == "market_does_not_exist" || name == "invalid_market":
		return domain.NewClientError(domain.ErrInvalidAsset, op, status, msg)
	case status >= 400 && status < 500:
		return domain.NewClientError(domain.ErrBusinessRule, op, status, msg)
	default:
		return domain.NewClientError(domain.ErrTransientUpstream, op, status, msg)
	}
}

// call executes one upstream request with the shared retry ladder. Query ops
// are unauthenticated; authed requests carry the signed JWT over the encoded
// parameters.
func (c *Client) call(ctx context.Context, op, method, path string, params url.Values, authed bool, out interface{}) error {
	if err := c.limiter.Acquire(ctx, ratelimit.ClassifyOp(op)); err != nil {
		return err
	}

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

		err := c.doOnce(ctx, op, method, path, params, authed, out)
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return err
		}
		lastErr = err
		c.log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("Retryable upstream error")
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, op, method, path string, params url.Values, authed bool, out interface{}) error {
	query := ""
	if params != nil {
		query = params.Encode()
	}

	req := c.http.R().SetContext(ctx)
	if authed {
		req.SetHeader("Authorization", "Bearer "+c.sign.token(query))
	}
	if query != "" {
		req.SetQueryString(query)
	}
	if out != nil {
		req.SetResult(out)
	}

	var apiErr apiError
	req.SetError(&apiErr)

	var resp *resty.Response
	var err error
	switch method {
	case "POST":
		resp, err = req.Post(path)
	case "DELETE":
		resp, err = req.Delete(path)
	default:
		resp, err = req.Get(path)
	}
	if err != nil {
		return domain.NewClientError(domain.ErrTransientUpstream, op, 0, err.Error())
	}
	if resp.IsError() {
		return mapError(op, resp.StatusCode(), apiErr)
	}
	return nil
}

// cachedQuery wraps a query op in cache read-through.
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

func (c *Client) fetchTickers(ctx context.Context, op string, markets []string) ([]tickerDTO, error) {
	params := url.Values{"markets": {strings.Join(markets, ",")}}
	var out []tickerDTO
	if err := c.call(ctx, op, "GET", "/v1/ticker", params, false, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.NewClientError(domain.ErrInvalidAsset, op, 0, "no ticker for "+strings.Join(markets, ","))
	}
	return out, nil
}
