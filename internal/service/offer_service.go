package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OfferServiceImpl implements ports.OfferService.
type OfferServiceImpl struct {
	offers     ports.OfferRepository
	ledger     ports.Ledger
	transactor ports.DBTransactor
	fees       *FeeSchedule
	settings   Settings
	log        zerolog.Logger
	now        func() time.Time
}

// NewOfferService creates a new OfferServiceImpl.
func NewOfferService(
	offers ports.OfferRepository,
	ledger ports.Ledger,
	transactor ports.DBTransactor,
	fees *FeeSchedule,
	settings Settings,
	log zerolog.Logger,
) *OfferServiceImpl {
	return &OfferServiceImpl{
		offers:     offers,
		ledger:     ledger,
		transactor: transactor,
		fees:       fees,
		settings:   settings,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateOffer lists a sell offer. Funds are not reserved until a trade is
// opened against it.
func (s *OfferServiceImpl) CreateOffer(ctx context.Context, req ports.CreateOfferRequest) (*domain.Offer, error) {
	crypto := strings.ToUpper(req.CryptoCurrency)
	fiat := strings.ToUpper(req.FiatCurrency)

	switch req.PriceType {
	case domain.PriceTypeFixed:
		if !req.PriceValue.IsPositive() {
			return nil, apperror.InvalidAmount("fixed price must be greater than zero")
		}
	case domain.PriceTypeFloating:
		if req.PriceValue.LessThanOrEqual(decimal.NewFromInt(-100)) {
			return nil, apperror.InvalidAmount("floating margin must be above -100%")
		}
	default:
		return nil, apperror.Validation("price_type must be fixed or floating")
	}
	if !req.AvailableAmount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.MinAmount.IsNegative() || req.MaxAmount.IsNegative() {
		return nil, apperror.InvalidAmount("order limits cannot be negative")
	}
	if req.MaxAmount.IsPositive() && req.MaxAmount.LessThan(req.MinAmount) {
		return nil, apperror.InvalidAmount("max_amount must not be below min_amount")
	}
	if len(req.PaymentMethods) == 0 {
		return nil, apperror.Validation("at least one payment method is required")
	}

	now := s.now()
	offer := &domain.Offer{
		ID:              uuid.New(),
		SellerID:        req.SellerID,
		AdType:          "sell",
		CryptoCurrency:  crypto,
		FiatCurrency:    fiat,
		PriceType:       req.PriceType,
		PriceValue:      req.PriceValue,
		MinAmount:       domain.Round(req.MinAmount, fiat),
		MaxAmount:       domain.Round(req.MaxAmount, fiat),
		AvailableAmount: domain.Round(req.AvailableAmount, crypto),
		PaymentMethods:  req.PaymentMethods,
		Status:          domain.OfferStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.offers.Create(ctx, offer); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create offer: %w", err))
	}

	s.log.Info().
		Str("offer_id", offer.ID.String()).
		Str("seller_id", offer.SellerID.String()).
		Str("pair", crypto+"/"+fiat).
		Str("available", offer.AvailableAmount.String()).
		Msg("offer created")
	return offer, nil
}

// GetOffer returns an offer by id.
func (s *OfferServiceImpl) GetOffer(ctx context.Context, offerID uuid.UUID) (*domain.Offer, error) {
	offer, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get offer: %w", err))
	}
	if offer == nil {
		return nil, apperror.ErrNotFound("Offer")
	}
	return offer, nil
}

// ListOffers returns the order book. Active offers are listed unless the
// caller asks for a status; boosted offers come first.
func (s *OfferServiceImpl) ListOffers(ctx context.Context, params ports.OfferListParams) ([]domain.Offer, int64, error) {
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)
	params.CryptoCurrency = strings.ToUpper(params.CryptoCurrency)
	params.FiatCurrency = strings.ToUpper(params.FiatCurrency)
	if params.Status == nil && params.SellerID == nil {
		active := domain.OfferStatusActive
		params.Status = &active
	}
	if params.Now.IsZero() {
		params.Now = s.now()
	}
	offers, total, err := s.offers.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list offers: %w", err))
	}
	return offers, total, nil
}

// BoostOffer charges the seller for a visibility window and extends the
// offer's boost. The charge and the extension commit together.
func (s *OfferServiceImpl) BoostOffer(ctx context.Context, sellerID, offerID uuid.UUID, tier domain.BoostTier) (*domain.Offer, error) {
	price, currency, ok := s.fees.BoostCost(tier)
	if !ok {
		return nil, apperror.Validation(fmt.Sprintf("unknown boost tier %q", tier))
	}

	var offer *domain.Offer
	err := s.withOffer(ctx, sellerID, offerID, func(tx pgx.Tx, o *domain.Offer, now time.Time) error {
		if !o.IsActive() {
			return apperror.ErrInvalidState("cannot boost a closed offer")
		}
		if price.IsPositive() {
			ref := domain.EntryRef{Type: domain.ReferenceBoost, ID: o.ID.String(), Memo: "boost " + string(tier)}
			if _, err := s.ledger.Debit(ctx, tx, sellerID, currency, price, ref); err != nil {
				return err
			}
			if _, err := s.ledger.Credit(ctx, tx, s.fees.PlatformAccountID, currency, price, ref); err != nil {
				return err
			}
		}
		o.ExtendBoost(now, tier.Duration())
		offer = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("offer_id", offer.ID.String()).
		Str("tier", string(tier)).
		Str("price", price.String()+" "+currency).
		Time("boosted_until", *offer.BoostedUntil).
		Msg("offer boosted")
	return offer, nil
}

// CloseOffer stops new trades against an offer. Trades already open keep
// their escrow.
func (s *OfferServiceImpl) CloseOffer(ctx context.Context, sellerID, offerID uuid.UUID) (*domain.Offer, error) {
	var offer *domain.Offer
	err := s.withOffer(ctx, sellerID, offerID, func(_ pgx.Tx, o *domain.Offer, _ time.Time) error {
		if !o.IsActive() {
			return apperror.ErrInvalidState("offer is already closed")
		}
		o.Status = domain.OfferStatusClosed
		offer = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("offer_id", offerID.String()).Msg("offer closed")
	return offer, nil
}

// withOffer locks the seller's offer, applies fn and saves it.
func (s *OfferServiceImpl) withOffer(ctx context.Context, sellerID, offerID uuid.UUID, fn func(tx pgx.Tx, o *domain.Offer, now time.Time) error) error {
	return withConflictRetry(ctx, s.settings.MaxConflictRetries, func() error {
		dbTx, err := s.transactor.Begin(ctx)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
		}
		defer dbTx.Rollback(ctx) //nolint:errcheck

		o, err := s.offers.GetForUpdate(ctx, dbTx, offerID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("lock offer: %w", err))
		}
		if o == nil {
			return apperror.ErrNotFound("Offer")
		}
		if o.SellerID != sellerID {
			return apperror.ErrForbidden()
		}

		now := s.now()
		if err := fn(dbTx, o, now); err != nil {
			return err
		}
		o.UpdatedAt = now
		if err := saveOffer(ctx, s.offers, dbTx, o); err != nil {
			return err
		}
		if err := dbTx.Commit(ctx); err != nil {
			return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
		}
		return nil
	})
}
