package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const idempotencyTTL = 24 * time.Hour

// errNotDue marks a timeout candidate that another worker already handled.
var errNotDue = errors.New("trade no longer due")

// TradeServiceDeps groups the collaborators of TradeServiceImpl.
type TradeServiceDeps struct {
	Trades     ports.TradeRepository
	Offers     ports.OfferRepository
	Disputes   ports.DisputeRepository
	Events     ports.TradeEventRepository
	IdempRepo  ports.IdempotencyRepository
	IdempCache ports.IdempotencyCache // nil = DB-only idempotency
	Ledger     ports.Ledger
	Prices     ports.PriceSource
	Publisher  ports.EventPublisher // nil = events are only stored
	Transactor ports.DBTransactor
	Fees       *FeeSchedule
	Settings   Settings
	Log        zerolog.Logger
}

// TradeServiceImpl implements ports.TradeService.
type TradeServiceImpl struct {
	TradeServiceDeps
	now func() time.Time
}

// NewTradeService creates a new TradeServiceImpl.
func NewTradeService(deps TradeServiceDeps) *TradeServiceImpl {
	return &TradeServiceImpl{
		TradeServiceDeps: deps,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// CreateTrade opens a trade against a sell offer and escrows the seller's crypto.
func (s *TradeServiceImpl) CreateTrade(ctx context.Context, req ports.CreateTradeRequest) (*domain.Trade, error) {
	if !req.CryptoAmount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}

	var idempKey string
	if req.ClientReference != "" {
		idempKey = domain.BuildIdempotencyKey(req.BuyerID, req.ClientReference)
		if existing, err := s.lookupIdempotent(ctx, idempKey); err != nil || existing != nil {
			return existing, err
		}
	}

	var trade *domain.Trade
	var event *domain.TradeEvent
	err := withConflictRetry(ctx, s.Settings.MaxConflictRetries, func() error {
		var err error
		trade, event, err = s.openTrade(ctx, req, idempKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	if idempKey != "" && s.IdempCache != nil {
		if data, err := json.Marshal(trade); err == nil {
			if err := s.IdempCache.Set(ctx, idempKey, data, idempotencyTTL); err != nil {
				s.Log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency result in redis")
			}
		}
	}
	publishEvent(ctx, s.Publisher, s.Log, event)

	s.Log.Info().
		Str("trade_id", trade.ID.String()).
		Str("offer_id", trade.SellOrderID.String()).
		Str("buyer_id", trade.BuyerID.String()).
		Str("seller_id", trade.SellerID.String()).
		Str("amount", trade.CryptoAmount.String()).
		Str("currency", trade.CryptoCurrency).
		Msg("trade escrowed")

	return trade, nil
}

func (s *TradeServiceImpl) openTrade(ctx context.Context, req ports.CreateTradeRequest, idempKey string) (*domain.Trade, *domain.TradeEvent, error) {
	dbTx, err := s.Transactor.Begin(ctx)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	offer, err := s.Offers.GetForUpdate(ctx, dbTx, req.SellOrderID)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("lock offer: %w", err))
	}
	if offer == nil {
		return nil, nil, apperror.ErrNotFound("Offer")
	}
	if !offer.IsActive() {
		return nil, nil, apperror.ErrInvalidState("offer is closed")
	}
	if offer.SellerID == req.BuyerID {
		return nil, nil, apperror.Validation("cannot trade against your own offer")
	}
	if req.PaymentMethod != "" && !offer.AcceptsPaymentMethod(req.PaymentMethod) {
		return nil, nil, apperror.Validation("payment method is not accepted by this offer")
	}

	amount := domain.Round(req.CryptoAmount, offer.CryptoCurrency)
	if offer.AvailableAmount.LessThan(amount) {
		return nil, nil, apperror.ErrOfferExhausted()
	}

	unitPrice, err := s.unitPrice(ctx, offer)
	if err != nil {
		return nil, nil, err
	}
	fiatAmount := domain.Round(amount.Mul(unitPrice), offer.FiatCurrency)
	if fiatAmount.LessThan(offer.MinAmount) {
		return nil, nil, apperror.InvalidAmount(fmt.Sprintf("minimum order is %s %s", offer.MinAmount.String(), offer.FiatCurrency))
	}
	if offer.MaxAmount.IsPositive() && fiatAmount.GreaterThan(offer.MaxAmount) {
		return nil, nil, apperror.InvalidAmount(fmt.Sprintf("maximum order is %s %s", offer.MaxAmount.String(), offer.FiatCurrency))
	}

	now := s.now()
	trade := &domain.Trade{
		ID:                 uuid.New(),
		SellOrderID:        offer.ID,
		BuyerID:            req.BuyerID,
		SellerID:           offer.SellerID,
		CryptoCurrency:     offer.CryptoCurrency,
		CryptoAmount:       amount,
		FiatCurrency:       offer.FiatCurrency,
		FiatAmount:         fiatAmount,
		UnitPrice:          unitPrice,
		PaymentMethod:      req.PaymentMethod,
		BuyerWalletAddress: req.BuyerWalletAddress,
		Status:             domain.TradeStatusEscrowed,
		FeeAmount:          decimal.Zero,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if s.Settings.AutoCancelAfter > 0 {
		at := now.Add(s.Settings.AutoCancelAfter)
		trade.AutoCancelAt = &at
	}

	ref := domain.EntryRef{Type: domain.ReferenceTrade, ID: trade.ID.String(), Memo: "escrow"}
	if _, err := s.Ledger.Lock(ctx, dbTx, offer.SellerID, offer.CryptoCurrency, amount, ref); err != nil {
		return nil, nil, err
	}

	offer.AvailableAmount = offer.AvailableAmount.Sub(amount)
	if err := s.saveOffer(ctx, dbTx, offer); err != nil {
		return nil, nil, err
	}
	if err := s.Trades.Create(ctx, dbTx, trade); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("insert trade: %w", err))
	}
	event, err := recordTransition(ctx, s.Events, dbTx, trade, "", req.BuyerID, now)
	if err != nil {
		return nil, nil, err
	}

	if idempKey != "" {
		data, err := json.Marshal(trade)
		if err != nil {
			return nil, nil, apperror.InternalError(fmt.Errorf("marshal trade: %w", err))
		}
		idempLog := &domain.IdempotencyLog{Key: idempKey, TradeID: trade.ID, ResponseJSON: data, CreatedAt: now}
		if err := s.IdempRepo.Create(ctx, dbTx, idempLog); err != nil {
			if errors.Is(err, ports.ErrDuplicateKey) {
				return nil, nil, apperror.ErrDuplicateRequest()
			}
			return nil, nil, apperror.InternalError(fmt.Errorf("insert idempotency log: %w", err))
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return trade, event, nil
}

// ClaimPayment records the buyer's statement that fiat was sent.
func (s *TradeServiceImpl) ClaimPayment(ctx context.Context, userID, tradeID uuid.UUID) (*domain.Trade, error) {
	return s.transition(ctx, tradeID, userID, func(_ pgx.Tx, t *domain.Trade, now time.Time) (domain.TradeStatus, error) {
		if err := requireRole(t, userID, domain.RoleBuyer); err != nil {
			return "", err
		}
		if !t.CanTransitionTo(domain.TradeStatusPaymentClaimed) {
			return "", apperror.ErrInvalidState(fmt.Sprintf("cannot claim payment on a %s trade", t.Status))
		}
		t.PaymentClaimedAt = &now
		if s.Settings.AutoReleaseAfter > 0 {
			at := now.Add(s.Settings.AutoReleaseAfter)
			t.AutoReleaseAt = &at
		}
		return domain.TradeStatusPaymentClaimed, nil
	})
}

// ConfirmRelease is the seller's acknowledgement of payment. The escrow, less
// the trade fee, moves to the buyer.
func (s *TradeServiceImpl) ConfirmRelease(ctx context.Context, userID, tradeID uuid.UUID) (*domain.Trade, error) {
	return s.transition(ctx, tradeID, userID, func(tx pgx.Tx, t *domain.Trade, now time.Time) (domain.TradeStatus, error) {
		if err := requireRole(t, userID, domain.RoleSeller); err != nil {
			return "", err
		}
		if !t.CanTransitionTo(domain.TradeStatusReleased) {
			return "", apperror.ErrInvalidState(fmt.Sprintf("cannot release a %s trade", t.Status))
		}
		return domain.TradeStatusReleased, s.releaseEscrow(ctx, tx, t, now)
	})
}

// CancelTrade returns the escrow to the seller. Only the buyer can cancel,
// and only before claiming payment.
func (s *TradeServiceImpl) CancelTrade(ctx context.Context, userID, tradeID uuid.UUID) (*domain.Trade, error) {
	return s.transition(ctx, tradeID, userID, func(tx pgx.Tx, t *domain.Trade, now time.Time) (domain.TradeStatus, error) {
		if err := requireRole(t, userID, domain.RoleBuyer); err != nil {
			return "", err
		}
		if !t.CanTransitionTo(domain.TradeStatusCancelled) {
			return "", apperror.ErrInvalidState(fmt.Sprintf("cannot cancel a %s trade", t.Status))
		}
		return domain.TradeStatusCancelled, s.returnEscrow(ctx, tx, t, now)
	})
}

// RaiseDispute escalates a trade to an administrator. Either party may raise
// it while the trade is escrowed or payment is claimed.
func (s *TradeServiceImpl) RaiseDispute(ctx context.Context, req ports.RaiseDisputeRequest) (*domain.Dispute, error) {
	var dispute *domain.Dispute
	_, err := s.transition(ctx, req.TradeID, req.UserID, func(tx pgx.Tx, t *domain.Trade, now time.Time) (domain.TradeStatus, error) {
		if !t.IsParticipant(req.UserID) {
			return "", apperror.ErrNotFound("Trade")
		}
		if !t.CanTransitionTo(domain.TradeStatusDisputed) {
			return "", apperror.ErrInvalidState(fmt.Sprintf("cannot dispute a %s trade", t.Status))
		}
		dispute = &domain.Dispute{
			ID:          uuid.New(),
			TradeID:     t.ID,
			BuyerID:     t.BuyerID,
			SellerID:    t.SellerID,
			Amount:      t.CryptoAmount,
			Currency:    t.CryptoCurrency,
			Reason:      req.Reason,
			InitiatedBy: req.UserID,
			Status:      domain.DisputeStatusOpen,
			FeeAmount:   decimal.Zero,
			FeeCurrency: t.FiatCurrency,
			CreatedAt:   now,
		}
		if err := s.Disputes.Create(ctx, tx, dispute); err != nil {
			if errors.Is(err, ports.ErrDuplicateKey) {
				return "", apperror.ErrInvalidState("trade already has a dispute")
			}
			return "", apperror.InternalError(fmt.Errorf("insert dispute: %w", err))
		}
		return domain.TradeStatusDisputed, nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info().
		Str("dispute_id", dispute.ID.String()).
		Str("trade_id", dispute.TradeID.String()).
		Str("initiated_by", req.UserID.String()).
		Msg("dispute raised")
	return dispute, nil
}

// GetTrade returns a trade visible to the principal: participants and admins.
func (s *TradeServiceImpl) GetTrade(ctx context.Context, principal domain.Principal, tradeID uuid.UUID) (*domain.Trade, error) {
	t, err := s.Trades.GetByID(ctx, tradeID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get trade: %w", err))
	}
	if t == nil || (!principal.IsAdmin() && !t.IsParticipant(principal.UserID)) {
		return nil, apperror.ErrNotFound("Trade")
	}
	return t, nil
}

// ListTrades returns a page of the user's trades, newest first.
func (s *TradeServiceImpl) ListTrades(ctx context.Context, params ports.TradeListParams) ([]domain.Trade, int64, error) {
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)
	trades, total, err := s.Trades.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list trades: %w", err))
	}
	return trades, total, nil
}

// ProcessTimeouts applies auto-cancel and auto-release to every trade due at
// now. Each trade is handled in its own transaction and re-checked under lock,
// so overlapping runs never apply a timeout twice.
func (s *TradeServiceImpl) ProcessTimeouts(ctx context.Context, now time.Time) (*ports.TimeoutResult, error) {
	ids, err := s.Trades.ListDue(ctx, now, s.Settings.BatchSize)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list due trades: %w", err))
	}

	res := &ports.TimeoutResult{}
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		t, err := s.transition(ctx, id, domain.SystemActorID, func(tx pgx.Tx, t *domain.Trade, _ time.Time) (domain.TradeStatus, error) {
			switch {
			case t.AutoCancelDue(now):
				return domain.TradeStatusCancelled, s.returnEscrow(ctx, tx, t, now)
			case t.AutoReleaseDue(now):
				return domain.TradeStatusReleased, s.releaseEscrow(ctx, tx, t, now)
			}
			return "", errNotDue
		})
		switch {
		case errors.Is(err, errNotDue):
			continue
		case err != nil:
			res.Failed++
			s.Log.Error().Err(err).Str("trade_id", id.String()).Msg("trade timeout failed")
		case t.Status == domain.TradeStatusCancelled:
			res.Cancelled++
		case t.Status == domain.TradeStatusReleased:
			res.Released++
		}
	}

	if res.Cancelled+res.Released+res.Failed > 0 {
		s.Log.Info().
			Int("cancelled", res.Cancelled).
			Int("released", res.Released).
			Int("failed", res.Failed).
			Msg("trade timeouts processed")
	}
	return res, nil
}

// transitionFunc validates the locked trade, applies side effects and returns
// the next status.
type transitionFunc func(tx pgx.Tx, t *domain.Trade, now time.Time) (domain.TradeStatus, error)

// transition locks a trade, runs fn, persists the new status with its event
// and commits, retrying on version conflicts. The event is published after commit.
func (s *TradeServiceImpl) transition(ctx context.Context, tradeID, actor uuid.UUID, fn transitionFunc) (*domain.Trade, error) {
	var trade *domain.Trade
	var event *domain.TradeEvent

	err := withConflictRetry(ctx, s.Settings.MaxConflictRetries, func() error {
		dbTx, err := s.Transactor.Begin(ctx)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
		}
		defer dbTx.Rollback(ctx) //nolint:errcheck

		t, err := s.Trades.GetForUpdate(ctx, dbTx, tradeID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("lock trade: %w", err))
		}
		if t == nil {
			return apperror.ErrNotFound("Trade")
		}

		now := s.now()
		from := t.Status
		next, err := fn(dbTx, t, now)
		if err != nil {
			return err
		}
		if !t.CanTransitionTo(next) {
			return apperror.ErrInvalidState(fmt.Sprintf("cannot move trade from %s to %s", from, next))
		}
		t.Status = next
		if err := saveTrade(ctx, s.Trades, dbTx, t); err != nil {
			return err
		}
		ev, err := recordTransition(ctx, s.Events, dbTx, t, from, actor, now)
		if err != nil {
			return err
		}
		if err := dbTx.Commit(ctx); err != nil {
			return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
		}
		trade, event = t, ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	publishEvent(ctx, s.Publisher, s.Log, event)
	s.Log.Info().
		Str("trade_id", trade.ID.String()).
		Str("status", string(trade.Status)).
		Str("actor_id", actor.String()).
		Msg("trade transitioned")
	return trade, nil
}

// releaseEscrow pays the buyer the escrowed amount less the trade fee, and
// the platform the fee.
func (s *TradeServiceImpl) releaseEscrow(ctx context.Context, tx pgx.Tx, t *domain.Trade, now time.Time) error {
	fee := s.Fees.TradeFee(t.CryptoAmount, t.CryptoCurrency)
	net := t.CryptoAmount.Sub(fee)
	ref := domain.EntryRef{Type: domain.ReferenceTrade, ID: t.ID.String(), Memo: "release"}

	if net.IsPositive() {
		if err := s.Ledger.TransferLocked(ctx, tx, t.SellerID, t.BuyerID, t.CryptoCurrency, net, ref); err != nil {
			return err
		}
	}
	if fee.IsPositive() {
		feeRef := ref
		feeRef.Memo = "trade fee"
		if err := s.Ledger.TransferLocked(ctx, tx, t.SellerID, s.Fees.PlatformAccountID, t.CryptoCurrency, fee, feeRef); err != nil {
			return err
		}
	}
	t.FeeAmount = fee
	t.CompletedAt = &now
	return nil
}

// returnEscrow unlocks the seller's funds and puts the amount back on the offer.
// The offer row is locked before the balance, matching CreateTrade.
func (s *TradeServiceImpl) returnEscrow(ctx context.Context, tx pgx.Tx, t *domain.Trade, now time.Time) error {
	if err := restoreOffer(ctx, s.Offers, tx, t.SellOrderID, t.CryptoAmount); err != nil {
		return err
	}
	ref := domain.EntryRef{Type: domain.ReferenceTrade, ID: t.ID.String(), Memo: "cancel"}
	if _, err := s.Ledger.Unlock(ctx, tx, t.SellerID, t.CryptoCurrency, t.CryptoAmount, ref); err != nil {
		return err
	}
	t.CompletedAt = &now
	return nil
}

func (s *TradeServiceImpl) unitPrice(ctx context.Context, offer *domain.Offer) (decimal.Decimal, error) {
	if offer.PriceType != domain.PriceTypeFloating {
		return offer.PriceValue, nil
	}
	ref, err := s.Prices.ReferencePrice(ctx, offer.CryptoCurrency, offer.FiatCurrency)
	if err != nil {
		return decimal.Zero, apperror.ErrPriceUnavailable(err)
	}
	return offer.UnitPrice(ref), nil
}

func (s *TradeServiceImpl) saveOffer(ctx context.Context, tx pgx.Tx, offer *domain.Offer) error {
	return saveOffer(ctx, s.Offers, tx, offer)
}

// lookupIdempotent returns the trade an earlier request with the same key
// opened, or nil. Both the Redis and the DB layer store the creation-time
// snapshot; the live trade is returned when it can be read.
func (s *TradeServiceImpl) lookupIdempotent(ctx context.Context, key string) (*domain.Trade, error) {
	if s.IdempCache != nil {
		cached, err := s.IdempCache.Get(ctx, key)
		if err != nil {
			s.Log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
		}
		if cached != nil {
			snapshot, err := unmarshalTrade(cached)
			if err != nil {
				return nil, err
			}
			return s.liveTrade(ctx, snapshot.ID, snapshot)
		}
	}

	idempLog, err := s.IdempRepo.Get(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if idempLog == nil {
		return nil, nil
	}
	snapshot, _ := unmarshalTrade(idempLog.ResponseJSON)
	return s.liveTrade(ctx, idempLog.TradeID, snapshot)
}

// liveTrade re-reads tradeID, falling back to snapshot when the row is gone.
func (s *TradeServiceImpl) liveTrade(ctx context.Context, tradeID uuid.UUID, snapshot *domain.Trade) (*domain.Trade, error) {
	t, err := s.Trades.GetByID(ctx, tradeID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get idempotent trade: %w", err))
	}
	if t != nil {
		return t, nil
	}
	if snapshot == nil {
		return nil, apperror.InternalError(fmt.Errorf("idempotent trade %s not found", tradeID))
	}
	return snapshot, nil
}

func unmarshalTrade(data []byte) (*domain.Trade, error) {
	var t domain.Trade
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached trade: %w", err))
	}
	return &t, nil
}

// requireRole checks that userID plays role in t. Outsiders get NotFound so
// trade ids are not probeable.
func requireRole(t *domain.Trade, userID uuid.UUID, role domain.TradeRole) error {
	switch t.RoleOf(userID) {
	case role:
		return nil
	case "":
		return apperror.ErrNotFound("Trade")
	}
	return apperror.ErrForbidden()
}

// restoreOffer puts amount back on an offer after its escrow was returned.
func restoreOffer(ctx context.Context, repo ports.OfferRepository, tx pgx.Tx, offerID uuid.UUID, amount decimal.Decimal) error {
	offer, err := repo.GetForUpdate(ctx, tx, offerID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock offer: %w", err))
	}
	if offer == nil {
		return nil
	}
	offer.AvailableAmount = offer.AvailableAmount.Add(amount)
	return saveOffer(ctx, repo, tx, offer)
}

func saveOffer(ctx context.Context, repo ports.OfferRepository, tx pgx.Tx, offer *domain.Offer) error {
	if err := repo.Update(ctx, tx, offer); err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			return apperror.ErrConcurrencyConflict()
		}
		return apperror.InternalError(fmt.Errorf("update offer: %w", err))
	}
	return nil
}
