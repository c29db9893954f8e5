package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"trade-settlement-engine/internal/adapter/storage/memory"
	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var platformID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// testClock is a settable clock shared by every service of an engine.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// staticPrices is a PriceSource backed by a map keyed "BTC/GBP".
type staticPrices map[string]decimal.Decimal

func (p staticPrices) ReferencePrice(_ context.Context, currency, fiat string) (decimal.Decimal, error) {
	price, ok := p[strings.ToUpper(currency)+"/"+strings.ToUpper(fiat)]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s/%s", currency, fiat)
	}
	return price, nil
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TradeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev *domain.TradeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *ev)
	return nil
}

func (p *recordingPublisher) Types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// testEngine wires every service over one memory store.
type testEngine struct {
	store     *memory.Store
	balances  *memory.BalanceRepo
	entries   *memory.LedgerEntryRepo
	quoteRepo *memory.QuoteRepo
	offerRepo *memory.OfferRepo
	tradeRepo *memory.TradeRepo
	events    *memory.TradeEventRepo
	publisher *recordingPublisher
	clock     *testClock
	fees      *FeeSchedule
	settings  Settings

	ledger   *LedgerServiceImpl
	quotes   *QuoteServiceImpl
	offers   *OfferServiceImpl
	trades   *TradeServiceImpl
	disputes *DisputeServiceImpl
	wallets  *WalletServiceImpl
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	log := newTestLogger()
	s := memory.NewStore()
	e := &testEngine{
		store:     s,
		balances:  memory.NewBalanceRepo(s),
		entries:   memory.NewLedgerEntryRepo(s),
		quoteRepo: memory.NewQuoteRepo(s),
		offerRepo: memory.NewOfferRepo(s),
		tradeRepo: memory.NewTradeRepo(s),
		events:    memory.NewTradeEventRepo(s),
		publisher: &recordingPublisher{},
		clock:     &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		fees:      DefaultFeeSchedule(platformID),
		settings:  DefaultSettings(),
	}
	e.settings.AutoReleaseAfter = 24 * time.Hour
	prices := staticPrices{"BTC/GBP": dec("50000"), "ETH/GBP": dec("2500")}
	disputeRepo := memory.NewDisputeRepo(s)

	e.ledger = NewLedgerService(e.balances, e.entries, log)
	e.quotes = NewQuoteService(e.quoteRepo, e.ledger, prices, s, e.fees, e.settings, log)
	e.quotes.now = e.clock.Now
	e.offers = NewOfferService(e.offerRepo, e.ledger, s, e.fees, e.settings, log)
	e.offers.now = e.clock.Now
	e.trades = NewTradeService(TradeServiceDeps{
		Trades:     e.tradeRepo,
		Offers:     e.offerRepo,
		Disputes:   disputeRepo,
		Events:     e.events,
		IdempRepo:  memory.NewIdempotencyRepo(s),
		Ledger:     e.ledger,
		Prices:     prices,
		Publisher:  e.publisher,
		Transactor: s,
		Fees:       e.fees,
		Settings:   e.settings,
		Log:        log,
	})
	e.trades.now = e.clock.Now
	e.disputes = NewDisputeService(disputeRepo, e.tradeRepo, e.offerRepo, e.events, e.ledger, e.publisher, s, e.fees, e.settings, log)
	e.disputes.now = e.clock.Now
	e.wallets = NewWalletService(e.balances, e.entries, e.ledger, s, e.fees, e.settings, log)
	return e
}

func newTestLogger() zerolog.Logger {
	return zerolog.Nop()
}

func (e *testEngine) fund(t *testing.T, userID uuid.UUID, currency, amount string) {
	t.Helper()
	_, err := e.wallets.Deposit(context.Background(), ports.DepositRequest{
		AdminID:  uuid.New(),
		UserID:   userID,
		Currency: currency,
		Amount:   dec(amount),
	})
	require.NoError(t, err)
}

// balance returns (available, locked); a missing row is zero.
func (e *testEngine) balance(t *testing.T, userID uuid.UUID, currency string) (decimal.Decimal, decimal.Decimal) {
	t.Helper()
	b, err := e.balances.Get(context.Background(), userID, currency)
	require.NoError(t, err)
	if b == nil {
		return decimal.Zero, decimal.Zero
	}
	return b.Available, b.Locked
}

func (e *testEngine) requireBalance(t *testing.T, userID uuid.UUID, currency, available, locked string) {
	t.Helper()
	a, l := e.balance(t, userID, currency)
	require.Truef(t, a.Equal(dec(available)), "%s available: want %s, got %s", currency, available, a)
	require.Truef(t, l.Equal(dec(locked)), "%s locked: want %s, got %s", currency, locked, l)
}

// sellOffer lists a fixed-price BTC/GBP offer funded from the seller's balance.
func (e *testEngine) sellOffer(t *testing.T, sellerID uuid.UUID, amount, price string) *domain.Offer {
	t.Helper()
	offer, err := e.offers.CreateOffer(context.Background(), ports.CreateOfferRequest{
		SellerID:        sellerID,
		CryptoCurrency:  "BTC",
		FiatCurrency:    "GBP",
		PriceType:       domain.PriceTypeFixed,
		PriceValue:      dec(price),
		MinAmount:       dec("100"),
		MaxAmount:       dec("100000"),
		AvailableAmount: dec(amount),
		PaymentMethods:  []string{"bank_transfer"},
	})
	require.NoError(t, err)
	return offer
}

func (e *testEngine) openTrade(t *testing.T, buyerID uuid.UUID, offerID uuid.UUID, amount string) *domain.Trade {
	t.Helper()
	trade, err := e.trades.CreateTrade(context.Background(), ports.CreateTradeRequest{
		BuyerID:       buyerID,
		SellOrderID:   offerID,
		CryptoAmount:  dec(amount),
		PaymentMethod: "bank_transfer",
	})
	require.NoError(t, err)
	return trade
}

// mockTx implements pgx.Tx for gomock-based tests.
type mockTx struct {
	pgx.Tx
	committed bool
}

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { m.committed = true; return nil }
