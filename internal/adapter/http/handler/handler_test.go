package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trade-settlement-engine/internal/adapter/http/middleware"
	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/internal/core/ports/mocks"
	"trade-settlement-engine/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newTestContext builds a gin context as JWTAuth would leave it.
func newTestContext(method, path string, body interface{}, user *domain.Principal, id string) (*gin.Context, *httptest.ResponseRecorder) {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	if user != nil {
		c.Set(middleware.CtxUserID, user.UserID)
		c.Set(middleware.CtxRole, user.Role)
	}
	if id != "" {
		c.Params = gin.Params{{Key: "id", Value: id}}
	}
	return c, w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, w.Code)
	resp := decode(t, w)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, code, resp["error_code"])
}

func user() *domain.Principal {
	return &domain.Principal{UserID: uuid.New(), Role: domain.UserRoleUser}
}

// --- Quote Handler Tests ---

func TestQuoteCreate_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockQuoteService(ctrl)
	h := NewQuoteHandler(svc)
	caller := user()
	expires := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	quoteID := uuid.New()

	svc.EXPECT().CreateQuote(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.CreateQuoteRequest) (*domain.Quote, error) {
			assert.Equal(t, caller.UserID, req.UserID)
			assert.Equal(t, domain.QuoteSideSell, req.Side)
			assert.True(t, req.Amount.Equal(dec("0.1")))
			assert.True(t, req.Instant)
			return &domain.Quote{
				ID: quoteID, UserID: caller.UserID, Side: req.Side, Currency: "BTC", FiatCurrency: "GBP",
				CryptoAmount: req.Amount, LockedPrice: dec("48750"), ExpiresAt: expires, Status: domain.QuoteStatusActive,
			}, nil
		})

	c, w := newTestContext(http.MethodPost, "/api/v1/quotes", map[string]interface{}{
		"side": "sell", "currency": "BTC", "fiat_currency": "GBP", "amount": "0.1", "instant": true,
	}, caller, "")
	h.Create(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	resp := decode(t, w)
	assert.Equal(t, true, resp["success"])
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, quoteID.String(), data["quote_id"])
	assert.Equal(t, "48750", data["locked_price"])
	assert.Equal(t, expires.Format(time.RFC3339), data["expires_at"])
}

func TestQuoteCreate_ValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewQuoteHandler(mocks.NewMockQuoteService(ctrl))

	bodies := []map[string]interface{}{
		{"side": "hold", "currency": "BTC", "fiat_currency": "GBP", "amount": "0.1"},
		{"side": "sell", "currency": "BITCOIN", "fiat_currency": "GBP", "amount": "0.1"},
		{"side": "sell", "currency": "BTC", "fiat_currency": "GBP", "amount": "1e3"},
		{"side": "sell", "currency": "BTC", "fiat_currency": "GBP"},
	}
	for _, body := range bodies {
		c, w := newTestContext(http.MethodPost, "/api/v1/quotes", body, user(), "")
		h.Create(c)
		assertErrorCode(t, w, http.StatusBadRequest, "GEN_002")
	}
}

func TestQuoteCreate_Unauthenticated(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewQuoteHandler(mocks.NewMockQuoteService(ctrl))
	c, w := newTestContext(http.MethodPost, "/api/v1/quotes", nil, nil, "")
	h.Create(c)

	assertErrorCode(t, w, http.StatusUnauthorized, "AUTH_003")
}

func TestQuoteExecute_Expired(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockQuoteService(ctrl)
	h := NewQuoteHandler(svc)
	caller := user()
	quoteID := uuid.New()

	svc.EXPECT().ExecuteQuote(gomock.Any(), caller.UserID, quoteID).Return(nil, apperror.ErrQuoteExpired())

	c, w := newTestContext(http.MethodPost, "/api/v1/quotes/"+quoteID.String()+"/execute", nil, caller, quoteID.String())
	h.Execute(c)

	assertErrorCode(t, w, http.StatusGone, apperror.CodeQuoteExpired)
}

func TestQuoteExecute_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockQuoteService(ctrl)
	h := NewQuoteHandler(svc)
	caller := user()
	q := &domain.Quote{ID: uuid.New(), Side: domain.QuoteSideSell, Status: domain.QuoteStatusExecuted}

	svc.EXPECT().ExecuteQuote(gomock.Any(), caller.UserID, q.ID).Return(&ports.QuoteExecution{
		Quote: q, CryptoAmount: dec("0.1"), FiatAmount: dec("4826.25"), FeeAmount: dec("48.75"),
	}, nil)

	c, w := newTestContext(http.MethodPost, "/", nil, caller, q.ID.String())
	h.Execute(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "4826.25", data["fiat_amount"])
	assert.Equal(t, "48.75", data["fee_amount"])
	assert.Equal(t, "executed", data["status"])
}

func TestQuoteGet_InvalidID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewQuoteHandler(mocks.NewMockQuoteService(ctrl))
	c, w := newTestContext(http.MethodGet, "/api/v1/quotes/abc", nil, user(), "abc")
	h.Get(c)

	assertErrorCode(t, w, http.StatusBadRequest, "GEN_002")
}

// --- Offer Handler Tests ---

func TestOfferCreate_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockOfferService(ctrl)
	h := NewOfferHandler(svc)
	caller := user()

	svc.EXPECT().CreateOffer(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.CreateOfferRequest) (*domain.Offer, error) {
			assert.Equal(t, caller.UserID, req.SellerID)
			assert.Equal(t, domain.PriceTypeFloating, req.PriceType)
			assert.True(t, req.PriceValue.Equal(dec("-1.5")))
			assert.True(t, req.MaxAmount.Equal(dec("5000")))
			assert.Equal(t, []string{"bank_transfer", "faster_payments"}, req.PaymentMethods)
			return &domain.Offer{ID: uuid.New(), SellerID: caller.UserID, Status: domain.OfferStatusActive}, nil
		})

	c, w := newTestContext(http.MethodPost, "/api/v1/offers", map[string]interface{}{
		"crypto_currency": "BTC", "fiat_currency": "GBP", "price_type": "floating", "price_value": "-1.5",
		"min_amount": "100", "max_amount": "5000", "available_amount": "1",
		"payment_methods": []string{"bank_transfer", "faster_payments"},
	}, caller, "")
	h.Create(c)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestOfferList_FiltersBySeller(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockOfferService(ctrl)
	h := NewOfferHandler(svc)
	seller := uuid.New()

	svc.EXPECT().ListOffers(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, params ports.OfferListParams) ([]domain.Offer, int64, error) {
			require.NotNil(t, params.SellerID)
			assert.Equal(t, seller, *params.SellerID)
			assert.Equal(t, "BTC", params.CryptoCurrency)
			assert.Equal(t, 2, params.Page)
			return []domain.Offer{{ID: uuid.New()}}, 21, nil
		})

	c, w := newTestContext(http.MethodGet, "/api/v1/offers?crypto_currency=BTC&page=2&seller_id="+seller.String(), nil, user(), "")
	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(21), data["total"])
	assert.Equal(t, float64(2), data["total_pages"])
	assert.Len(t, data["items"], 1)
}

func TestOfferBoost_UnknownTier(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewOfferHandler(mocks.NewMockOfferService(ctrl))
	id := uuid.NewString()
	c, w := newTestContext(http.MethodPost, "/api/v1/offers/"+id+"/boost", map[string]string{"tier": "2h"}, user(), id)
	h.Boost(c)

	assertErrorCode(t, w, http.StatusBadRequest, "GEN_002")
}

func TestOfferBoost_InsufficientFunds(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockOfferService(ctrl)
	h := NewOfferHandler(svc)
	caller := user()
	id := uuid.New()

	svc.EXPECT().BoostOffer(gomock.Any(), caller.UserID, id, domain.BoostTier24h).Return(nil, apperror.ErrInsufficientFunds())

	c, w := newTestContext(http.MethodPost, "/", map[string]string{"tier": "24h"}, caller, id.String())
	h.Boost(c)

	assertErrorCode(t, w, http.StatusPaymentRequired, apperror.CodeInsufficientFunds)
}

// --- Trade Handler Tests ---

func TestTradeCreate_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockTradeService(ctrl)
	h := NewTradeHandler(svc)
	caller := user()
	offerID := uuid.New()
	tradeID := uuid.New()

	svc.EXPECT().CreateTrade(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.CreateTradeRequest) (*domain.Trade, error) {
			assert.Equal(t, caller.UserID, req.BuyerID)
			assert.Equal(t, offerID, req.SellOrderID)
			assert.True(t, req.CryptoAmount.Equal(dec("0.5")))
			assert.Equal(t, "retry-42", req.ClientReference)
			return &domain.Trade{ID: tradeID, Status: domain.TradeStatusEscrowed, FiatAmount: dec("22500"), FiatCurrency: "GBP"}, nil
		})

	c, w := newTestContext(http.MethodPost, "/api/v1/trades", map[string]string{
		"sell_order_id":  offerID.String(),
		"crypto_amount":  "0.5",
		"payment_method": "bank_transfer",
	}, caller, "")
	c.Request.Header.Set(HeaderIdempotencyKey, "retry-42")
	h.Create(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, tradeID.String(), data["trade_id"])
	assert.Equal(t, "escrowed", data["status"])
	assert.Equal(t, "22500", data["fiat_amount"])
}

func TestTradeCreate_BodyReferenceWins(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockTradeService(ctrl)
	h := NewTradeHandler(svc)

	svc.EXPECT().CreateTrade(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.CreateTradeRequest) (*domain.Trade, error) {
			assert.Equal(t, "body-ref", req.ClientReference)
			return &domain.Trade{ID: uuid.New(), Status: domain.TradeStatusEscrowed}, nil
		})

	c, w := newTestContext(http.MethodPost, "/api/v1/trades", map[string]string{
		"sell_order_id":    uuid.NewString(),
		"crypto_amount":    "0.5",
		"payment_method":   "bank_transfer",
		"client_reference": "body-ref",
	}, user(), "")
	c.Request.Header.Set(HeaderIdempotencyKey, "header-ref")
	h.Create(c)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestTradeCreate_OfferExhausted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockTradeService(ctrl)
	h := NewTradeHandler(svc)
	svc.EXPECT().CreateTrade(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrOfferExhausted())

	c, w := newTestContext(http.MethodPost, "/api/v1/trades", map[string]string{
		"sell_order_id":  uuid.NewString(),
		"crypto_amount":  "5",
		"payment_method": "bank_transfer",
	}, user(), "")
	h.Create(c)

	assertErrorCode(t, w, http.StatusConflict, apperror.CodeOfferExhausted)
}

func TestTradeCreate_ValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewTradeHandler(mocks.NewMockTradeService(ctrl))

	c, w := newTestContext(http.MethodPost, "/api/v1/trades", `{"sell_order_id":`, user(), "")
	h.Create(c)
	assertErrorCode(t, w, http.StatusBadRequest, "GEN_002")

	c, w = newTestContext(http.MethodPost, "/api/v1/trades", map[string]string{
		"sell_order_id":        uuid.NewString(),
		"crypto_amount":        "0.5",
		"payment_method":       "bank_transfer",
		"buyer_wallet_address": "bad address!",
	}, user(), "")
	h.Create(c)
	assertErrorCode(t, w, http.StatusBadRequest, "GEN_002")
}

func TestTradeTransitions(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockTradeService(ctrl)
	h := NewTradeHandler(svc)
	caller := user()
	id := uuid.New()

	svc.EXPECT().ClaimPayment(gomock.Any(), caller.UserID, id).Return(&domain.Trade{ID: id, Status: domain.TradeStatusPaymentClaimed}, nil)
	svc.EXPECT().ConfirmRelease(gomock.Any(), caller.UserID, id).Return(nil, apperror.ErrInvalidState("trade is not awaiting release"))
	svc.EXPECT().CancelTrade(gomock.Any(), caller.UserID, id).Return(nil, apperror.ErrForbidden())

	c, w := newTestContext(http.MethodPost, "/", nil, caller, id.String())
	h.ClaimPayment(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "payment_claimed", decode(t, w)["data"].(map[string]interface{})["status"])

	c, w = newTestContext(http.MethodPost, "/", nil, caller, id.String())
	h.Release(c)
	assertErrorCode(t, w, http.StatusConflict, apperror.CodeInvalidState)

	c, w = newTestContext(http.MethodPost, "/", nil, caller, id.String())
	h.Cancel(c)
	assertErrorCode(t, w, http.StatusForbidden, "AUTH_005")
}

func TestTradeRaiseDispute(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockTradeService(ctrl)
	h := NewTradeHandler(svc)
	caller := user()
	id := uuid.New()

	svc.EXPECT().RaiseDispute(gomock.Any(), ports.RaiseDisputeRequest{
		UserID: caller.UserID, TradeID: id, Reason: "seller unresponsive",
	}).Return(&domain.Dispute{ID: uuid.New(), TradeID: id, Status: domain.DisputeStatusOpen}, nil)

	c, w := newTestContext(http.MethodPost, "/", map[string]string{"reason": "  seller unresponsive "}, caller, id.String())
	h.RaiseDispute(c)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestTradeList_StatusFilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockTradeService(ctrl)
	h := NewTradeHandler(svc)
	caller := user()

	svc.EXPECT().ListTrades(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, params ports.TradeListParams) ([]domain.Trade, int64, error) {
			assert.Equal(t, caller.UserID, params.UserID)
			require.NotNil(t, params.Status)
			assert.Equal(t, domain.TradeStatusDisputed, *params.Status)
			return nil, 0, nil
		})

	c, w := newTestContext(http.MethodGet, "/api/v1/trades?status=disputed", nil, caller, "")
	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, []interface{}{}, data["items"])

	c, w = newTestContext(http.MethodGet, "/api/v1/trades?status=open", nil, caller, "")
	h.List(c)
	assertErrorCode(t, w, http.StatusBadRequest, "GEN_002")
}

func TestTradeGet_PassesPrincipal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockTradeService(ctrl)
	h := NewTradeHandler(svc)
	admin := &domain.Principal{UserID: uuid.New(), Role: domain.UserRoleAdmin}
	id := uuid.New()

	svc.EXPECT().GetTrade(gomock.Any(), *admin, id).Return(&domain.Trade{ID: id}, nil)

	c, w := newTestContext(http.MethodGet, "/", nil, admin, id.String())
	h.Get(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

// --- Dispute Handler Tests ---

func TestDisputeResolve(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockDisputeService(ctrl)
	h := NewDisputeHandler(svc)
	admin := &domain.Principal{UserID: uuid.New(), Role: domain.UserRoleAdmin}
	id := uuid.New()

	svc.EXPECT().ResolveDispute(gomock.Any(), ports.ResolveDisputeRequest{
		DisputeID: id, AdminID: admin.UserID, Winner: domain.RoleBuyer, Resolution: "payment verified",
	}).Return(&domain.Dispute{ID: id, Status: domain.DisputeStatusResolved, Winner: domain.RoleBuyer}, nil)

	c, w := newTestContext(http.MethodPost, "/", map[string]string{"winner": "buyer", "resolution": "payment verified"}, admin, id.String())
	h.Resolve(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "resolved", decode(t, w)["data"].(map[string]interface{})["status"])
}

func TestDisputeResolve_MissingDetails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockDisputeService(ctrl)
	h := NewDisputeHandler(svc)
	id := uuid.New()

	svc.EXPECT().ResolveDispute(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrMissingResolutionDetails())

	c, w := newTestContext(http.MethodPost, "/", map[string]string{}, &domain.Principal{UserID: uuid.New(), Role: domain.UserRoleAdmin}, id.String())
	h.Resolve(c)

	assertErrorCode(t, w, http.StatusBadRequest, apperror.CodeMissingResolutionDetails)
}

func TestDisputeList(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockDisputeService(ctrl)
	h := NewDisputeHandler(svc)

	svc.EXPECT().ListDisputes(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, params ports.DisputeListParams) ([]domain.Dispute, int64, error) {
			require.NotNil(t, params.Status)
			assert.Equal(t, domain.DisputeStatusOpen, *params.Status)
			return []domain.Dispute{{ID: uuid.New()}}, 1, nil
		})

	c, w := newTestContext(http.MethodGet, "/api/v1/admin/disputes?status=open", nil, user(), "")
	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDisputeGet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockDisputeService(ctrl)
	h := NewDisputeHandler(svc)
	id := uuid.New()
	svc.EXPECT().GetDispute(gomock.Any(), gomock.Any(), id).Return(nil, apperror.ErrDisputeNotFound())

	c, w := newTestContext(http.MethodGet, "/", nil, user(), id.String())
	h.Get(c)

	assertErrorCode(t, w, http.StatusNotFound, apperror.CodeDisputeNotFound)
}

// --- Wallet Handler Tests ---

func TestWalletBalances_Empty(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)
	caller := user()
	svc.EXPECT().ListBalances(gomock.Any(), caller.UserID).Return(nil, nil)

	c, w := newTestContext(http.MethodGet, "/api/v1/wallets/balances", nil, caller, "")
	h.Balances(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decode(t, w)["data"])
}

func TestWalletBalances_ShowsTotal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)
	caller := user()
	svc.EXPECT().ListBalances(gomock.Any(), caller.UserID).Return([]domain.Balance{
		{UserID: caller.UserID, Currency: "BTC", Available: dec("0.5"), Locked: dec("0.25")},
	}, nil)

	c, w := newTestContext(http.MethodGet, "/api/v1/wallets/balances", nil, caller, "")
	h.Balances(c)

	require.Equal(t, http.StatusOK, w.Code)
	items, ok := decode(t, w)["data"].([]interface{})
	require.True(t, ok)
	require.Len(t, items, 1)
	b := items[0].(map[string]interface{})
	assert.Equal(t, "BTC", b["currency"])
	assert.Equal(t, "0.75", b["total"])
	assert.Equal(t, "0.5", b["available"])
	assert.Equal(t, "0.25", b["locked"])
	assert.NotContains(t, b, "user_id")
}

func TestWalletEntries_ReferenceFilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)
	caller := user()

	svc.EXPECT().ListEntries(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, params ports.LedgerEntryListParams) ([]domain.LedgerEntry, int64, error) {
			assert.Equal(t, caller.UserID, params.UserID)
			require.NotNil(t, params.ReferenceType)
			assert.Equal(t, domain.ReferenceTrade, *params.ReferenceType)
			assert.Equal(t, "BTC", params.Currency)
			return []domain.LedgerEntry{{ID: "01HZX"}}, 1, nil
		})

	c, w := newTestContext(http.MethodGet, "/api/v1/wallets/entries?reference_type=TRADE&currency=BTC", nil, caller, "")
	h.Entries(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWalletWithdraw_InsufficientFunds(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)
	caller := user()

	svc.EXPECT().Withdraw(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.WithdrawRequest) (*domain.Balance, error) {
			assert.Equal(t, caller.UserID, req.UserID)
			assert.True(t, req.Amount.Equal(dec("2")))
			return nil, apperror.ErrInsufficientFunds()
		})

	c, w := newTestContext(http.MethodPost, "/api/v1/wallets/withdraw", map[string]string{
		"currency": "BTC", "amount": "2", "address": "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh",
	}, caller, "")
	h.Withdraw(c)

	assertErrorCode(t, w, http.StatusPaymentRequired, apperror.CodeInsufficientFunds)
}

func TestWalletDeposit_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)
	admin := &domain.Principal{UserID: uuid.New(), Role: domain.UserRoleAdmin}
	target := uuid.New()

	svc.EXPECT().Deposit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.DepositRequest) (*domain.Balance, error) {
			assert.Equal(t, admin.UserID, req.AdminID)
			assert.Equal(t, target, req.UserID)
			assert.Equal(t, "bank-ref-1", req.Reference)
			return &domain.Balance{UserID: target, Currency: "GBP", Available: req.Amount}, nil
		})

	c, w := newTestContext(http.MethodPost, "/api/v1/admin/wallets/deposit", map[string]string{
		"user_id": target.String(), "currency": "GBP", "amount": "250.00", "reference": "bank-ref-1",
	}, admin, "")
	h.Deposit(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "250", data["total"])
}

// --- Router Tests ---

func newTestRouter(t *testing.T, ctrl *gomock.Controller) (*gin.Engine, *mocks.MockTokenService, *mocks.MockTradeService, *mocks.MockWalletService) {
	t.Helper()
	tokens := mocks.NewMockTokenService(ctrl)
	trades := mocks.NewMockTradeService(ctrl)
	wallets := mocks.NewMockWalletService(ctrl)
	r := SetupRouter(RouterDeps{
		QuoteSvc:   mocks.NewMockQuoteService(ctrl),
		OfferSvc:   mocks.NewMockOfferService(ctrl),
		TradeSvc:   trades,
		DisputeSvc: mocks.NewMockDisputeService(ctrl),
		WalletSvc:  wallets,
		TokenSvc:   tokens,
		Logger:     zerolog.Nop(),
	})
	return r, tokens, trades, wallets
}

func TestRouter_RequiresToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	r, _, _, _ := newTestRouter(t, ctrl)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil))

	assertErrorCode(t, w, http.StatusUnauthorized, "AUTH_001")
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
}

func TestRouter_AdminRoutesRejectUsers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	r, tokens, _, _ := newTestRouter(t, ctrl)
	tokens.EXPECT().Validate("user-token").Return(&ports.TokenClaims{UserID: uuid.New(), Role: domain.UserRoleUser}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/wallets/deposit", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer user-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assertErrorCode(t, w, http.StatusForbidden, "AUTH_005")
}

func TestRouter_AuthenticatedRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	r, tokens, trades, _ := newTestRouter(t, ctrl)
	caller := uuid.New()
	tradeID := uuid.New()
	tokens.EXPECT().Validate("good").Return(&ports.TokenClaims{UserID: caller, Role: domain.UserRoleUser}, nil)
	trades.EXPECT().GetTrade(gomock.Any(), domain.Principal{UserID: caller, Role: domain.UserRoleUser}, tradeID).
		Return(&domain.Trade{ID: tradeID, Status: domain.TradeStatusEscrowed}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trades/"+tradeID.String(), nil)
	req.Header.Set("Authorization", "Bearer good")
	req.Header.Set(middleware.HeaderRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "req-1", resp["request_id"])
	assert.Equal(t, tradeID.String(), resp["data"].(map[string]interface{})["id"])
}

// --- Health Check Test ---

func TestHealthCheck(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck()(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestHealthCheck_Degraded(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pg := mocks.NewMockHealthChecker(ctrl)
	pg.EXPECT().Ping(gomock.Any()).Return(errors.New("connection refused"))
	pg.EXPECT().Name().Return("postgresql").AnyTimes()
	rd := mocks.NewMockHealthChecker(ctrl)
	rd.EXPECT().Ping(gomock.Any()).Return(nil)
	rd.EXPECT().Name().Return("redis").AnyTimes()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck(pg, rd)(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "degraded", resp["status"])
	deps := resp["dependencies"].(map[string]interface{})
	assert.Equal(t, "unhealthy", deps["postgresql"].(map[string]interface{})["status"])
	assert.Equal(t, "healthy", deps["redis"].(map[string]interface{})["status"])
}

func TestSwaggerUI(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger", nil)

	SwaggerUI(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "/swagger/spec")
}

func TestSwaggerSpec(t *testing.T) {
	SetSwaggerSpec(nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger/spec", nil)
	SwaggerSpec(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	SetSwaggerSpec([]byte("openapi: '3.0.3'\ninfo:\n  title: Test"))
	defer SetSwaggerSpec(nil)
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger/spec", nil)
	SwaggerSpec(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "openapi")
}
