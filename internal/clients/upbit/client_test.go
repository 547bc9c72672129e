package upbit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daehwan-kim/stockpilot/internal/cache"
	"github.com/daehwan-kim/stockpilot/internal/domain"
	"github.com/daehwan-kim/stockpilot/internal/ratelimit"
)

func TestSignerTokenVerifies(t *testing.T) {
	s := signer{accessKey: "ak", secretKey: "sk"}
	token := s.token("state=wait")

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims jwtClaims
	require.NoError(t, json.Unmarshal(payload, &claims))
	assert.Equal(t, "ak", claims.AccessKey)
	assert.NotEmpty(t, claims.Nonce)
	assert.Equal(t, "SHA512", claims.QueryHashAlg)
	assert.Len(t, claims.QueryHash, 128)

	mac := hmac.New(sha256.New, []byte("sk"))
	mac.Write([]byte(parts[0] + "." + parts[1]))
	want := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, parts[2])
}

func TestSignerTokenOmitsHashWithoutQuery(t *testing.T) {
	s := signer{accessKey: "ak", secretKey: "sk"}
	parts := strings.Split(s.token(""), ".")
	require.Len(t, parts, 3)

	payload, _ := base64.RawURLEncoding.DecodeString(parts[1])
	var claims jwtClaims
	require.NoError(t, json.Unmarshal(payload, &claims))
	assert.Empty(t, claims.QueryHash)
	assert.Empty(t, claims.QueryHashAlg)
}

func TestMapError(t *testing.T) {
	withName := func(name string) apiError {
		var e apiError
		e.Error.Name = name
		return e
	}

	assert.True(t, errors.Is(mapError("op", 401, apiError{}), domain.ErrAuthentication))
	assert.True(t, errors.Is(mapError("op", 400, withName("jwt_verification")), domain.ErrAuthentication))
	assert.True(t, errors.Is(mapError("op", 429, apiError{}), domain.ErrRateLimitExceeded))
	assert.True(t, errors.Is(mapError("op", 400, withName("insufficient_funds_bid")), domain.ErrInsufficientBalance))
	assert.True(t, errors.Is(mapError("op", 404, withName("order_not_found")), domain.ErrOrderNotFound))
	assert.True(t, errors.Is(mapError("op", 400, withName("market_does_not_exist")), domain.ErrInvalidAsset))
	assert.True(t, errors.Is(mapError("op", 400, withName("under_min_total_bid")), domain.ErrBusinessRule))
	assert.True(t, errors.Is(mapError("op", 503, apiError{}), domain.ErrTransientUpstream))
}

func TestCurrencyMapping(t *testing.T) {
	assert.Equal(t, "BTC", currencyOf("KRW-BTC"))
	assert.Equal(t, "KRW-ETH", accountDTO{Currency: "ETH"}.marketID())
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tiered := cache.New(cache.Config{L1MaxSize: 100, DefaultTTL: time.Minute}, zerolog.Nop())
	limiter := ratelimit.New(ratelimit.Config{QueryPerSec: 100, OrderPerSec: 100}, zerolog.Nop())
	return New(Config{AccessKey: "ak", SecretKey: "sk", BaseURL: server.URL}, limiter, tiered, zerolog.Nop())
}

func TestGetAssetConvertsTicker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ticker", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "KRW-BTC", r.URL.Query().Get("markets"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]interface{}{{
			"market":               "KRW-BTC",
			"trade_price":          52000000.0,
			"signed_change_rate":   -0.0312,
			"acc_trade_volume_24h": 1820.5,
		}})
	})

	c := newTestClient(t, mux)
	info, err := c.GetAsset(context.Background(), "KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, 52000000.0, info.Price)
	assert.InDelta(t, -3.12, info.ChangePct, 0.001)
	assert.Equal(t, "BTC", info.Name)
	assert.Zero(t, info.PER)
}

func TestMarketBuyIsNotionalDenominated(t *testing.T) {
	var gotOrdType, gotPrice, gotVolume string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotOrdType = r.Form.Get("ord_type")
		gotPrice = r.Form.Get("price")
		gotVolume = r.Form.Get("volume")
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"uuid": "ord-1", "side": "bid", "state": "wait"})
	})

	c := newTestClient(t, mux)
	result, err := c.PlaceBuy(context.Background(), domain.OrderRequest{
		AssetID: "KRW-BTC", Side: "buy", Quantity: 0.005, Price: 52000000, OrderType: domain.OrderTypeMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", result.OrderID)
	assert.Equal(t, "price", gotOrdType)
	assert.Equal(t, "260000", gotPrice)
	assert.Empty(t, gotVolume)
}

func TestAccountBalanceDerivedFromBalances(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]string{
			{"currency": "KRW", "balance": "1500000", "locked": "0", "avg_buy_price": "0"},
			{"currency": "BTC", "balance": "0.01", "locked": "0", "avg_buy_price": "50000000"},
			{"currency": "XRP", "balance": "0", "locked": "0", "avg_buy_price": "800"},
		})
	})
	mux.HandleFunc("/v1/ticker", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "KRW-BTC", r.URL.Query().Get("markets"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]interface{}{{"market": "KRW-BTC", "trade_price": 52000000.0}})
	})

	c := newTestClient(t, mux)
	ab, err := c.GetAccountBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1500000.0, ab.Cash)
	require.Len(t, ab.Holdings, 1, "zero balances must be skipped")
	assert.Equal(t, "KRW-BTC", ab.Holdings[0].AssetID)
	assert.InDelta(t, 520000.0, ab.StockValue, 0.01)
	assert.InDelta(t, 2020000.0, ab.TotalEquity, 0.01)
}
