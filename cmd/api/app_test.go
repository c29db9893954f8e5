package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trade-settlement-engine/config"
	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testApp runs the fully wired engine on in-memory storage and miniredis,
// exercising the router, middleware, services and Redis stores end to end.
type testApp struct {
	app    *app
	server *httptest.Server
	redis  *miniredis.Miniredis
	tokens *service.JWTTokenService
	admin  string
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
}

type balanceView struct {
	Currency  string          `json:"currency"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Driver = "memory"
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = port
	cfg.Events.Driver = "redis"
	cfg.JWT.Secret = "test-jwt-secret-key-32bytes!!"
	cfg.Engine.ReferencePrices = map[string]string{"BTC/GBP": "40000"}

	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	ta := &testApp{
		app:    a,
		server: httptest.NewServer(a.handler),
		redis:  mr,
		tokens: service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer),
	}
	ta.admin = ta.token(t, uuid.New(), domain.UserRoleAdmin)
	t.Cleanup(func() {
		ta.server.Close()
		a.close()
	})
	return ta
}

func (a *testApp) token(t *testing.T, userID uuid.UUID, role domain.UserRole) string {
	t.Helper()
	tok, _, err := a.tokens.Generate(userID, role)
	require.NoError(t, err)
	return tok
}

func (a *testApp) user(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	return id, a.token(t, id, domain.UserRoleUser)
}

func (a *testApp) do(t *testing.T, method, path, token string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (a *testApp) deposit(t *testing.T, userID uuid.UUID, currency, amount string) {
	t.Helper()
	status, env := a.do(t, http.MethodPost, "/api/v1/admin/wallets/deposit", a.admin, map[string]string{
		"user_id":  userID.String(),
		"currency": currency,
		"amount":   amount,
	})
	require.Equal(t, http.StatusCreated, status, env.ErrorCode)
}

func (a *testApp) balance(t *testing.T, token, currency string) balanceView {
	t.Helper()
	status, env := a.do(t, http.MethodGet, "/api/v1/wallets/balances", token, nil)
	require.Equal(t, http.StatusOK, status)
	var balances []balanceView
	require.NoError(t, json.Unmarshal(env.Data, &balances))
	for _, b := range balances {
		if b.Currency == currency {
			return b
		}
	}
	return balanceView{Currency: currency}
}

func (a *testApp) sellOffer(t *testing.T, token, available string) string {
	t.Helper()
	status, env := a.do(t, http.MethodPost, "/api/v1/offers", token, map[string]any{
		"crypto_currency":  "BTC",
		"fiat_currency":    "GBP",
		"price_type":       "fixed",
		"price_value":      "45000",
		"min_amount":       "0",
		"max_amount":       "0",
		"available_amount": available,
		"payment_methods":  []string{"bank_transfer"},
	})
	require.Equal(t, http.StatusCreated, status, env.ErrorCode)
	var offer struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &offer))
	return offer.ID
}

func (a *testApp) openTrade(t *testing.T, token, offerID, amount string, headers ...string) (int, envelope) {
	t.Helper()
	return a.do(t, http.MethodPost, "/api/v1/trades", token, map[string]string{
		"sell_order_id":  offerID,
		"crypto_amount":  amount,
		"payment_method": "bank_transfer",
	}, headers...)
}

func tradeID(t *testing.T, env envelope) string {
	t.Helper()
	var created struct {
		TradeID string `json:"trade_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	return created.TradeID
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

func TestApp_HealthCheck(t *testing.T) {
	a := newTestApp(t)

	resp, err := http.Get(a.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	deps, ok := body["dependencies"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, deps, "memory")
	assert.Contains(t, deps, "redis")
}

func TestApp_RejectsMissingToken(t *testing.T) {
	a := newTestApp(t)

	status, env := a.do(t, http.MethodGet, "/api/v1/wallets/balances", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, env.Success)
	assert.Equal(t, "AUTH_001", env.ErrorCode)

	_, token := a.user(t)
	status, env = a.do(t, http.MethodPost, "/api/v1/admin/wallets/deposit", token, map[string]string{
		"user_id": uuid.NewString(), "currency": "BTC", "amount": "1",
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.False(t, env.Success)
}

func TestApp_EscrowTradeLifecycle(t *testing.T) {
	a := newTestApp(t)
	sellerID, seller := a.user(t)
	_, buyer := a.user(t)

	a.deposit(t, sellerID, "BTC", "1")
	offerID := a.sellOffer(t, seller, "1")

	status, env := a.openTrade(t, buyer, offerID, "0.1")
	require.Equal(t, http.StatusCreated, status, env.ErrorCode)
	id := tradeID(t, env)

	sb := a.balance(t, seller, "BTC")
	assertDecimal(t, "0.9", sb.Available, "seller available after escrow")
	assertDecimal(t, "0.1", sb.Locked, "seller locked after escrow")
	assertDecimal(t, "1", sb.Total, "seller total unchanged by escrow")

	// Release before the buyer claims payment is not allowed.
	status, env = a.do(t, http.MethodPost, "/api/v1/trades/"+id+"/release", seller, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "TRD_001", env.ErrorCode)

	status, _ = a.do(t, http.MethodPost, "/api/v1/trades/"+id+"/claim-payment", buyer, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = a.do(t, http.MethodPost, "/api/v1/trades/"+id+"/release", seller, nil)
	require.Equal(t, http.StatusOK, status, env.ErrorCode)
	var trade domain.Trade
	require.NoError(t, json.Unmarshal(env.Data, &trade))
	assert.Equal(t, domain.TradeStatusReleased, trade.Status)
	assertDecimal(t, "0.0005", trade.FeeAmount, "trade fee")

	sb = a.balance(t, seller, "BTC")
	assertDecimal(t, "0.9", sb.Available, "seller available after release")
	assertDecimal(t, "0", sb.Locked, "seller locked after release")
	bb := a.balance(t, buyer, "BTC")
	assertDecimal(t, "0.0995", bb.Available, "buyer receives escrow less fee")

	status, env = a.do(t, http.MethodGet, "/api/v1/wallets/entries?currency=BTC&reference_type=TRADE", buyer, nil)
	require.Equal(t, http.StatusOK, status)
	var entries struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	assert.Equal(t, int64(1), entries.Total)
}

func TestApp_CancelReturnsEscrowToOffer(t *testing.T) {
	a := newTestApp(t)
	sellerID, seller := a.user(t)
	_, buyer := a.user(t)

	a.deposit(t, sellerID, "BTC", "0.5")
	offerID := a.sellOffer(t, seller, "0.5")

	status, env := a.openTrade(t, buyer, offerID, "0.5")
	require.Equal(t, http.StatusCreated, status, env.ErrorCode)
	id := tradeID(t, env)

	status, env = a.openTrade(t, buyer, offerID, "0.1")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "TRD_002", env.ErrorCode)

	status, env = a.do(t, http.MethodPost, "/api/v1/trades/"+id+"/cancel", seller, nil)
	assert.Equal(t, http.StatusForbidden, status, env.ErrorCode)

	status, _ = a.do(t, http.MethodPost, "/api/v1/trades/"+id+"/cancel", buyer, nil)
	require.Equal(t, http.StatusOK, status)

	sb := a.balance(t, seller, "BTC")
	assertDecimal(t, "0.5", sb.Available, "seller available after cancel")
	assertDecimal(t, "0", sb.Locked, "seller locked after cancel")

	status, env = a.do(t, http.MethodGet, "/api/v1/offers/"+offerID, buyer, nil)
	require.Equal(t, http.StatusOK, status)
	var offer domain.Offer
	require.NoError(t, json.Unmarshal(env.Data, &offer))
	assertDecimal(t, "0.5", offer.AvailableAmount, "offer restored")
}

func TestApp_DisputeResolvedForBuyer(t *testing.T) {
	a := newTestApp(t)
	sellerID, seller := a.user(t)
	_, buyer := a.user(t)

	a.deposit(t, sellerID, "BTC", "1")
	offerID := a.sellOffer(t, seller, "1")
	status, env := a.openTrade(t, buyer, offerID, "0.2")
	require.Equal(t, http.StatusCreated, status, env.ErrorCode)
	id := tradeID(t, env)

	status, _ = a.do(t, http.MethodPost, "/api/v1/trades/"+id+"/claim-payment", buyer, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = a.do(t, http.MethodPost, "/api/v1/trades/"+id+"/dispute", buyer, map[string]string{
		"reason": "seller is not releasing after payment",
	})
	require.Equal(t, http.StatusCreated, status, env.ErrorCode)
	var dispute domain.Dispute
	require.NoError(t, json.Unmarshal(env.Data, &dispute))
	assert.Equal(t, domain.DisputeStatusOpen, dispute.Status)

	status, env = a.do(t, http.MethodPost, "/api/v1/trades/"+id+"/release", seller, nil)
	assert.Equal(t, http.StatusConflict, status, "disputed trades cannot be released")

	status, _ = a.do(t, http.MethodGet, "/api/v1/disputes/"+dispute.ID.String(), seller, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = a.do(t, http.MethodPost, "/api/v1/admin/disputes/"+dispute.ID.String()+"/resolve", a.admin, map[string]string{
		"winner":     "buyer",
		"resolution": "payment proof verified",
	})
	require.Equal(t, http.StatusOK, status, env.ErrorCode)
	require.NoError(t, json.Unmarshal(env.Data, &dispute))
	assert.Equal(t, domain.DisputeStatusResolved, dispute.Status)
	assert.True(t, dispute.FeeCharged)
	assert.Equal(t, "BTC", dispute.FeeCurrency, "seller has no fiat, fee taken in crypto")
	assertDecimal(t, "0.00011111", dispute.FeeAmount, "5 GBP at 45000")

	assertDecimal(t, "0.2", a.balance(t, buyer, "BTC").Available, "buyer awarded full escrow")
	sb := a.balance(t, seller, "BTC")
	assertDecimal(t, "0", sb.Locked, "seller escrow settled")
	assertDecimal(t, "0.79988889", sb.Available, "seller pays the fee from available crypto")
}

func TestApp_TradeIdempotencyKey(t *testing.T) {
	a := newTestApp(t)
	sellerID, seller := a.user(t)
	_, buyer := a.user(t)

	a.deposit(t, sellerID, "BTC", "1")
	offerID := a.sellOffer(t, seller, "1")

	status, first := a.openTrade(t, buyer, offerID, "0.1", "Idempotency-Key", "order-42")
	require.Equal(t, http.StatusCreated, status, first.ErrorCode)
	status, second := a.openTrade(t, buyer, offerID, "0.1", "Idempotency-Key", "order-42")
	require.Equal(t, http.StatusCreated, status, second.ErrorCode)

	assert.Equal(t, tradeID(t, first), tradeID(t, second))
	assertDecimal(t, "0.1", a.balance(t, seller, "BTC").Locked, "escrow locked once")
}

func TestApp_QuoteSellAndExecute(t *testing.T) {
	a := newTestApp(t)
	userID, token := a.user(t)
	a.deposit(t, userID, "BTC", "0.01")

	status, env := a.do(t, http.MethodPost, "/api/v1/quotes", token, map[string]any{
		"side":          "sell",
		"currency":      "BTC",
		"fiat_currency": "GBP",
		"amount":        "0.01",
	})
	require.Equal(t, http.StatusCreated, status, env.ErrorCode)
	var quote struct {
		QuoteID     string          `json:"quote_id"`
		LockedPrice decimal.Decimal `json:"locked_price"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &quote))
	assertDecimal(t, "39000", quote.LockedPrice, "sell spread applied")

	status, env = a.do(t, http.MethodPost, "/api/v1/quotes/"+quote.QuoteID+"/execute", token, nil)
	require.Equal(t, http.StatusOK, status, env.ErrorCode)
	var exec struct {
		FiatAmount decimal.Decimal `json:"fiat_amount"`
		FeeAmount  decimal.Decimal `json:"fee_amount"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &exec))
	assertDecimal(t, "3.9", exec.FeeAmount, "quote fee")
	assertDecimal(t, "386.1", exec.FiatAmount, "fiat settlement")

	assertDecimal(t, "0", a.balance(t, token, "BTC").Available, "crypto sold")
	assertDecimal(t, "386.1", a.balance(t, token, "GBP").Available, "fiat credited")

	status, env = a.do(t, http.MethodPost, "/api/v1/quotes/"+quote.QuoteID+"/execute", token, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "QTE_002", env.ErrorCode)
}

func TestApp_SchedulerRunOnce(t *testing.T) {
	a := newTestApp(t)
	assert.ElementsMatch(t, []string{"quote_expiry_sweep", "trade_timeouts"}, a.app.scheduler.Jobs())
	assert.NoError(t, a.app.scheduler.RunOnce(context.Background()))
}

// TestApp_ConcurrentTradesNeverOversell fires more trades at one offer than
// it can fill. Exactly the fillable number must succeed and the seller's
// escrow must match the offer's size.
func TestApp_ConcurrentTradesNeverOversell(t *testing.T) {
	a := newTestApp(t)
	sellerID, seller := a.user(t)
	a.deposit(t, sellerID, "BTC", "1")
	offerID := a.sellOffer(t, seller, "1")

	const buyers = 20
	tokens := make([]string, buyers)
	for i := range tokens {
		_, tokens[i] = a.user(t)
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		exhausted atomic.Int64
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			status, env := a.openTrade(t, token, offerID, "0.1")
			switch {
			case status == http.StatusCreated:
				succeeded.Add(1)
			case env.ErrorCode == "TRD_002":
				exhausted.Add(1)
			}
		}(tokens[i])
	}
	wg.Wait()

	assert.Equal(t, int64(10), succeeded.Load())
	assert.Equal(t, int64(buyers-10), exhausted.Load())

	sb := a.balance(t, seller, "BTC")
	assertDecimal(t, "0", sb.Available, "seller available")
	assertDecimal(t, "1", sb.Locked, "seller locked")

	status, env := a.do(t, http.MethodGet, "/api/v1/offers/"+offerID, seller, nil)
	require.Equal(t, http.StatusOK, status)
	var offer domain.Offer
	require.NoError(t, json.Unmarshal(env.Data, &offer))
	assert.True(t, offer.AvailableAmount.IsZero(), fmt.Sprintf("offer available %s", offer.AvailableAmount))
}

func TestNewApp_UnknownStorageDriver(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Driver = "sqlite"
	cfg.Redis.Enabled = false

	_, err = newApp(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestNewPublisher_FallsBackToLogWithoutRedis(t *testing.T) {
	pub, closeFn := newPublisher(config.EventsConfig{Driver: "redis", Channel: "trade-events"}, nil, zerolog.Nop())
	defer closeFn()
	require.NotNil(t, pub)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, pub.Publish(ctx, &domain.TradeEvent{TradeID: uuid.New(), Type: domain.EventTradeCreated}))
}
