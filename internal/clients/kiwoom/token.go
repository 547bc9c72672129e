package kiwoom

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/daehwan-kim/stockpilot/internal/domain"
)

const (
	// tokenSafetyMargin forces a refresh when the token is within this
	// window of expiry.
	tokenSafetyMargin = 5 * time.Minute

	tokenMaxRetries = 3
)

type tokenResponse struct {
	AccessToken string `json:"token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_dt,string"`
	ReturnCode  int    `json:"return_code"`
	ReturnMsg   string `json:"return_msg"`
}

// tokenManager holds the OAuth access token and refreshes it when absent or
// near expiry. A mutex serializes acquisition so at most one refresh is in
// flight; concurrent callers converge on the same refresh.
type tokenManager struct {
	appKey    string
	appSecret string
	http      *resty.Client
	log       zerolog.Logger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func newTokenManager(appKey, appSecret string, http *resty.Client, log zerolog.Logger) *tokenManager {
	return &tokenManager{
		appKey:    appKey,
		appSecret: appSecret,
		http:      http,
		log:       log.With().Str("component", "kiwoom-token").Logger(),
	}
}

// Token returns a valid bearer token, refreshing if needed.
func (tm *tokenManager) Token(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.accessToken != "" && time.Until(tm.expiresAt) > tokenSafetyMargin {
		return tm.accessToken, nil
	}
	if err := tm.refreshLocked(ctx); err != nil {
		return "", err
	}
	return tm.accessToken, nil
}

// Invalidate drops the cached token so the next call refreshes. Used after
// an upstream authentication error.
func (tm *tokenManager) Invalidate() {
	tm.mu.Lock()
	tm.accessToken = ""
	tm.mu.Unlock()
}

// refreshLocked requests a fresh token. Rate-limit responses during issuance
// get exponential backoff with jitter up to tokenMaxRetries attempts.
func (tm *tokenManager) refreshLocked(ctx context.Context) error {
	if tm.appKey == "" || tm.appSecret == "" {
		return domain.NewClientError(domain.ErrConfiguration, "token_refresh", 0, "missing broker credentials")
	}

	var lastErr error
	for attempt := 0; attempt < tokenMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return domain.NewClientError(domain.ErrTransientUpstream, "token_refresh", 0, ctx.Err().Error())
			}
		}

		var out tokenResponse
		resp, err := tm.http.R().
			SetContext(ctx).
			SetBody(map[string]string{
				"grant_type": "client_credentials",
				"appkey":     tm.appKey,
				"secretkey":  tm.appSecret,
			}).
			SetResult(&out).
			Post("/oauth2/token")
		if err != nil {
			lastErr = domain.NewClientError(domain.ErrTransientUpstream, "token_refresh", 0, err.Error())
			continue
		}

		if resp.StatusCode() == 429 || out.ReturnCode == codeRateLimit {
			lastErr = domain.NewClientError(domain.ErrRateLimitExceeded, "token_refresh", out.ReturnCode, out.ReturnMsg)
			tm.log.Warn().Int("attempt", attempt+1).Msg("Rate limited during token issuance, backing off")
			continue
		}
		if resp.IsError() || out.AccessToken == "" {
			return domain.NewClientError(domain.ErrAuthentication, "token_refresh", out.ReturnCode,
				fmt.Sprintf("token issuance failed: status %d %s", resp.StatusCode(), out.ReturnMsg))
		}

		tm.accessToken = out.AccessToken
		lifetime := time.Duration(out.ExpiresIn) * time.Second
		if lifetime <= 0 {
			lifetime = 24 * time.Hour
		}
		tm.expiresAt = time.Now().Add(lifetime)
		tm.log.Debug().Time("expires_at", tm.expiresAt).Msg("Access token refreshed")
		return nil
	}

	return lastErr
}
