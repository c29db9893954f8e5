package service

import (
	"context"
	"errors"
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

// QuoteServiceImpl implements ports.QuoteService.
type QuoteServiceImpl struct {
	quotes     ports.QuoteRepository
	ledger     ports.Ledger
	prices     ports.PriceSource
	transactor ports.DBTransactor
	fees       *FeeSchedule
	settings   Settings
	log        zerolog.Logger
	now        func() time.Time
}

// NewQuoteService creates a new QuoteServiceImpl.
func NewQuoteService(
	quotes ports.QuoteRepository,
	ledger ports.Ledger,
	prices ports.PriceSource,
	transactor ports.DBTransactor,
	fees *FeeSchedule,
	settings Settings,
	log zerolog.Logger,
) *QuoteServiceImpl {
	return &QuoteServiceImpl{
		quotes:     quotes,
		ledger:     ledger,
		prices:     prices,
		transactor: transactor,
		fees:       fees,
		settings:   settings,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateQuote locks a price for the caller. The quote stays executable until
// expires_at.
func (s *QuoteServiceImpl) CreateQuote(ctx context.Context, req ports.CreateQuoteRequest) (*domain.Quote, error) {
	currency := strings.ToUpper(req.Currency)
	fiat := strings.ToUpper(req.FiatCurrency)

	if req.Side != domain.QuoteSideBuy && req.Side != domain.QuoteSideSell {
		return nil, apperror.Validation("side must be buy or sell")
	}
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if min, ok := s.settings.MinQuoteAmounts[currency]; ok && req.Amount.LessThan(min) {
		return nil, apperror.InvalidAmount(fmt.Sprintf("minimum quote amount is %s %s", min.String(), currency))
	}

	ref, err := s.referencePrice(ctx, currency, fiat)
	if err != nil {
		return nil, err
	}

	ttl := s.settings.QuoteTTL
	if req.Instant {
		ttl = s.settings.InstantQuoteTTL
	}
	now := s.now()
	q := &domain.Quote{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Side:           req.Side,
		Currency:       currency,
		FiatCurrency:   fiat,
		CryptoAmount:   domain.Round(req.Amount, currency),
		ReferencePrice: ref,
		LockedPrice:    domain.Round(ref.Mul(s.settings.spread(req.Side)), fiat),
		FeePercent:     s.fees.QuoteFeePercent,
		ExpiresAt:      now.Add(ttl),
		Status:         domain.QuoteStatusActive,
		CreatedAt:      now,
	}
	if err := s.quotes.Create(ctx, q); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create quote: %w", err))
	}

	s.log.Info().
		Str("quote_id", q.ID.String()).
		Str("user_id", q.UserID.String()).
		Str("side", string(q.Side)).
		Str("amount", q.CryptoAmount.String()).
		Str("locked_price", q.LockedPrice.String()).
		Time("expires_at", q.ExpiresAt).
		Msg("quote created")

	return q, nil
}

// ExecuteQuote settles an active quote exactly once. A quote past expires_at
// fails with QuoteExpired even if the sweeper has not marked it yet.
func (s *QuoteServiceImpl) ExecuteQuote(ctx context.Context, userID, quoteID uuid.UUID) (*ports.QuoteExecution, error) {
	q, err := s.GetQuote(ctx, userID, quoteID)
	if err != nil {
		return nil, err
	}
	if err := quoteStatusErr(q); err != nil {
		return nil, err
	}
	if q.IsExpiredAt(s.now()) {
		s.expire(ctx, q.ID)
		return nil, apperror.ErrQuoteExpired()
	}

	exec, err := s.settle(ctx, quoteID)
	if err != nil {
		if apperror.HasCode(err, apperror.CodeQuoteExpired) || q.IsExpiredAt(s.now()) {
			s.expire(ctx, q.ID)
		}
		return nil, err
	}

	s.log.Info().
		Str("quote_id", q.ID.String()).
		Str("user_id", userID.String()).
		Str("side", string(q.Side)).
		Str("crypto_amount", exec.CryptoAmount.String()).
		Str("fiat_amount", exec.FiatAmount.String()).
		Str("fee", exec.FeeAmount.String()).
		Msg("quote executed")

	return exec, nil
}

// settle runs the status CAS and the ledger movements in one transaction.
func (s *QuoteServiceImpl) settle(ctx context.Context, quoteID uuid.UUID) (*ports.QuoteExecution, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	q, err := s.quotes.GetForUpdate(ctx, dbTx, quoteID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock quote: %w", err))
	}
	if q == nil {
		return nil, apperror.ErrNotFound("Quote")
	}
	if err := quoteStatusErr(q); err != nil {
		return nil, err
	}
	now := s.now()
	if q.IsExpiredAt(now) {
		return nil, apperror.ErrQuoteExpired()
	}

	moved, err := s.quotes.TransitionStatus(ctx, dbTx, q.ID, domain.QuoteStatusActive, domain.QuoteStatusExecuted, now)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("mark quote executed: %w", err))
	}
	if !moved {
		return nil, apperror.ErrQuoteAlreadyUsed()
	}

	exec := &ports.QuoteExecution{
		CryptoAmount: q.CryptoAmount,
		FiatAmount:   q.FiatSettlement(),
		FeeAmount:    q.FeeAmount(),
	}
	if !exec.FiatAmount.IsPositive() {
		return nil, apperror.InvalidAmount("quote amount is too small to settle")
	}
	if err := s.applyLegs(ctx, dbTx, q, exec); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	q.Status = domain.QuoteStatusExecuted
	q.ExecutedAt = &now
	exec.Quote = q
	return exec, nil
}

// applyLegs books the user's side of an instant trade and the fee. The
// platform's own crypto and fiat inventory is held off-ledger, so only the fee
// reaches the platform account. Crypto rows are touched before fiat rows.
func (s *QuoteServiceImpl) applyLegs(ctx context.Context, tx pgx.Tx, q *domain.Quote, exec *ports.QuoteExecution) error {
	ref := domain.EntryRef{Type: domain.ReferenceQuote, ID: q.ID.String()}
	platform := s.fees.PlatformAccountID

	var steps []func() error
	if q.Side == domain.QuoteSideSell {
		steps = append(steps,
			func() error { _, err := s.ledger.Debit(ctx, tx, q.UserID, q.Currency, exec.CryptoAmount, ref); return err },
			func() error { _, err := s.ledger.Credit(ctx, tx, q.UserID, q.FiatCurrency, exec.FiatAmount, ref); return err },
		)
	} else {
		steps = append(steps,
			func() error { _, err := s.ledger.Credit(ctx, tx, q.UserID, q.Currency, exec.CryptoAmount, ref); return err },
			func() error { _, err := s.ledger.Debit(ctx, tx, q.UserID, q.FiatCurrency, exec.FiatAmount, ref); return err },
		)
	}
	if exec.FeeAmount.IsPositive() {
		feeRef := ref
		feeRef.Memo = "quote fee"
		steps = append(steps, func() error {
			_, err := s.ledger.Credit(ctx, tx, platform, q.FiatCurrency, exec.FeeAmount, feeRef)
			return err
		})
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// GetQuote returns the caller's quote. Quotes of other users are reported as
// not found.
func (s *QuoteServiceImpl) GetQuote(ctx context.Context, userID, quoteID uuid.UUID) (*domain.Quote, error) {
	q, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get quote: %w", err))
	}
	if q == nil || q.UserID != userID {
		return nil, apperror.ErrNotFound("Quote")
	}
	return q, nil
}

// SweepExpired marks every active quote past its expiry as expired, one
// quote per transaction. Returns how many quotes it expired.
func (s *QuoteServiceImpl) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.quotes.ListExpired(ctx, now, s.settings.BatchSize)
	if err != nil {
		return 0, apperror.InternalError(fmt.Errorf("list expired quotes: %w", err))
	}

	swept := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}
		if s.expire(ctx, id) {
			swept++
		}
	}
	if swept > 0 {
		s.log.Info().Int("count", swept).Msg("expired quotes swept")
	}
	return swept, nil
}

// expire moves an active quote to expired. Losing the race to an executor
// or another sweeper is not an error.
func (s *QuoteServiceImpl) expire(ctx context.Context, quoteID uuid.UUID) bool {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("quote_id", quoteID.String()).Msg("expire quote: begin tx failed")
		return false
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	moved, err := s.quotes.TransitionStatus(ctx, dbTx, quoteID, domain.QuoteStatusActive, domain.QuoteStatusExpired, s.now())
	if err != nil {
		s.log.Warn().Err(err).Str("quote_id", quoteID.String()).Msg("expire quote failed")
		return false
	}
	if !moved {
		return false
	}
	if err := dbTx.Commit(ctx); err != nil {
		s.log.Warn().Err(err).Str("quote_id", quoteID.String()).Msg("expire quote: commit failed")
		return false
	}
	return true
}

func (s *QuoteServiceImpl) referencePrice(ctx context.Context, currency, fiat string) (decimal.Decimal, error) {
	ref, err := s.prices.ReferencePrice(ctx, currency, fiat)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return decimal.Zero, appErr
		}
		return decimal.Zero, apperror.ErrPriceUnavailable(err)
	}
	if !ref.IsPositive() {
		return decimal.Zero, apperror.ErrPriceUnavailable(fmt.Errorf("non-positive reference price for %s/%s", currency, fiat))
	}
	return ref, nil
}

func quoteStatusErr(q *domain.Quote) error {
	switch q.Status {
	case domain.QuoteStatusExecuted:
		return apperror.ErrQuoteAlreadyUsed()
	case domain.QuoteStatusExpired:
		return apperror.ErrQuoteExpired()
	}
	return nil
}
