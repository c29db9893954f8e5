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

// DisputeServiceImpl implements ports.DisputeService.
type DisputeServiceImpl struct {
	disputes   ports.DisputeRepository
	trades     ports.TradeRepository
	offers     ports.OfferRepository
	events     ports.TradeEventRepository
	ledger     ports.Ledger
	publisher  ports.EventPublisher
	transactor ports.DBTransactor
	fees       *FeeSchedule
	settings   Settings
	log        zerolog.Logger
	now        func() time.Time
}

// NewDisputeService creates a new DisputeServiceImpl.
func NewDisputeService(
	disputes ports.DisputeRepository,
	trades ports.TradeRepository,
	offers ports.OfferRepository,
	events ports.TradeEventRepository,
	ledger ports.Ledger,
	publisher ports.EventPublisher,
	transactor ports.DBTransactor,
	fees *FeeSchedule,
	settings Settings,
	log zerolog.Logger,
) *DisputeServiceImpl {
	return &DisputeServiceImpl{
		disputes:   disputes,
		trades:     trades,
		offers:     offers,
		events:     events,
		ledger:     ledger,
		publisher:  publisher,
		transactor: transactor,
		fees:       fees,
		settings:   settings,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ResolveDispute applies an admin ruling. The escrow goes to the winner, the
// loser pays the dispute fee, and the dispute and trade are resolved in one
// transaction.
func (s *DisputeServiceImpl) ResolveDispute(ctx context.Context, req ports.ResolveDisputeRequest) (*domain.Dispute, error) {
	req.Resolution = strings.TrimSpace(req.Resolution)
	if !domain.ValidWinner(req.Winner) || req.Resolution == "" || req.AdminID == uuid.Nil {
		return nil, apperror.ErrMissingResolutionDetails()
	}

	var dispute *domain.Dispute
	var event *domain.TradeEvent
	err := withConflictRetry(ctx, s.settings.MaxConflictRetries, func() error {
		var err error
		dispute, event, err = s.resolve(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	publishEvent(ctx, s.publisher, s.log, event)
	s.log.Info().
		Str("dispute_id", dispute.ID.String()).
		Str("trade_id", dispute.TradeID.String()).
		Str("winner", string(dispute.Winner)).
		Str("admin_id", req.AdminID.String()).
		Str("fee", dispute.FeeAmount.String()).
		Bool("fee_charged", dispute.FeeCharged).
		Msg("dispute resolved")
	return dispute, nil
}

func (s *DisputeServiceImpl) resolve(ctx context.Context, req ports.ResolveDisputeRequest) (*domain.Dispute, *domain.TradeEvent, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	d, err := s.disputes.GetForUpdate(ctx, dbTx, req.DisputeID)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("lock dispute: %w", err))
	}
	if d == nil {
		return nil, nil, apperror.ErrDisputeNotFound()
	}
	if !d.IsOpen() {
		return nil, nil, apperror.ErrInvalidDisputeState()
	}

	t, err := s.trades.GetForUpdate(ctx, dbTx, d.TradeID)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("lock trade: %w", err))
	}
	if t == nil {
		return nil, nil, apperror.ErrNotFound("Trade")
	}
	if !t.CanTransitionTo(domain.TradeStatusResolved) {
		return nil, nil, apperror.ErrInvalidState(fmt.Sprintf("cannot resolve a %s trade", t.Status))
	}

	now := s.now()
	if err := s.settleEscrow(ctx, dbTx, t, req.Winner); err != nil {
		return nil, nil, err
	}
	fee, feeCurrency, charged, err := s.chargeLoser(ctx, dbTx, d, t, domain.Opponent(req.Winner))
	if err != nil {
		return nil, nil, err
	}

	adminID := req.AdminID
	d.Status = domain.DisputeStatusResolved
	d.Winner = req.Winner
	d.ResolutionNote = req.Resolution
	d.AdminNote = req.AdminNote
	d.AdminID = &adminID
	d.FeeAmount = fee
	d.FeeCurrency = feeCurrency
	d.FeeCharged = charged
	d.ResolvedAt = &now
	if err := s.disputes.Update(ctx, dbTx, d); err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			return nil, nil, apperror.ErrConcurrencyConflict()
		}
		return nil, nil, apperror.InternalError(fmt.Errorf("update dispute: %w", err))
	}

	from := t.Status
	t.Status = domain.TradeStatusResolved
	t.CompletedAt = &now
	if err := saveTrade(ctx, s.trades, dbTx, t); err != nil {
		return nil, nil, err
	}
	event, err := recordTransition(ctx, s.events, dbTx, t, from, req.AdminID, now)
	if err != nil {
		return nil, nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return d, event, nil
}

// settleEscrow pays the whole escrow to the buyer, or hands it back to the
// seller and restores the offer.
func (s *DisputeServiceImpl) settleEscrow(ctx context.Context, tx pgx.Tx, t *domain.Trade, winner domain.TradeRole) error {
	ref := domain.EntryRef{Type: domain.ReferenceDispute, ID: t.ID.String(), Memo: "dispute awarded to " + string(winner)}
	if winner == domain.RoleBuyer {
		return s.ledger.TransferLocked(ctx, tx, t.SellerID, t.BuyerID, t.CryptoCurrency, t.CryptoAmount, ref)
	}
	if err := restoreOffer(ctx, s.offers, tx, t.SellOrderID, t.CryptoAmount); err != nil {
		return err
	}
	_, err := s.ledger.Unlock(ctx, tx, t.SellerID, t.CryptoCurrency, t.CryptoAmount, ref)
	return err
}

// chargeLoser debits the flat dispute fee from the loser's fiat balance. A
// losing seller without the fiat pays its crypto equivalent at the trade's
// unit price from the available balance. A loser who can cover neither is not
// charged and the resolution still goes through.
func (s *DisputeServiceImpl) chargeLoser(ctx context.Context, tx pgx.Tx, d *domain.Dispute, t *domain.Trade, loser domain.TradeRole) (decimal.Decimal, string, bool, error) {
	fee := s.fees.DisputeFee(t.FiatCurrency)
	if !fee.IsPositive() {
		return decimal.Zero, t.FiatCurrency, false, nil
	}

	loserID := t.PartyID(loser)
	ref := domain.EntryRef{Type: domain.ReferenceDispute, ID: d.ID.String(), Memo: "dispute fee"}
	charged, err := s.collectFee(ctx, tx, loserID, t.FiatCurrency, fee, ref)
	if err != nil || charged {
		return fee, t.FiatCurrency, charged, err
	}

	if loser == domain.RoleSeller && t.UnitPrice.IsPositive() {
		cryptoFee := domain.Round(fee.Div(t.UnitPrice), t.CryptoCurrency)
		if cryptoFee.IsPositive() {
			ref.Memo = "dispute fee in " + t.CryptoCurrency
			charged, err = s.collectFee(ctx, tx, loserID, t.CryptoCurrency, cryptoFee, ref)
			if err != nil || charged {
				return cryptoFee, t.CryptoCurrency, charged, err
			}
		}
	}

	s.log.Warn().
		Str("dispute_id", d.ID.String()).
		Str("user_id", loserID.String()).
		Str("fee", fee.String()).
		Msg("dispute fee waived, insufficient balance")
	return fee, t.FiatCurrency, false, nil
}

// collectFee moves amount from userID to the platform account. It reports
// false without error when the user cannot cover it.
func (s *DisputeServiceImpl) collectFee(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string, amount decimal.Decimal, ref domain.EntryRef) (bool, error) {
	if _, err := s.ledger.Debit(ctx, tx, userID, currency, amount, ref); err != nil {
		if apperror.HasCode(err, apperror.CodeInsufficientFunds) {
			return false, nil
		}
		return false, err
	}
	if _, err := s.ledger.Credit(ctx, tx, s.fees.PlatformAccountID, currency, amount, ref); err != nil {
		return false, err
	}
	return true, nil
}

// MarkUnderReview records that an admin has picked up an open dispute.
func (s *DisputeServiceImpl) MarkUnderReview(ctx context.Context, adminID, disputeID uuid.UUID) (*domain.Dispute, error) {
	var dispute *domain.Dispute
	err := withConflictRetry(ctx, s.settings.MaxConflictRetries, func() error {
		dbTx, err := s.transactor.Begin(ctx)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
		}
		defer dbTx.Rollback(ctx) //nolint:errcheck

		d, err := s.disputes.GetForUpdate(ctx, dbTx, disputeID)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("lock dispute: %w", err))
		}
		if d == nil {
			return apperror.ErrDisputeNotFound()
		}
		if d.Status != domain.DisputeStatusOpen {
			return apperror.ErrInvalidDisputeState()
		}

		d.Status = domain.DisputeStatusUnderReview
		d.AdminID = &adminID
		if err := s.disputes.Update(ctx, dbTx, d); err != nil {
			if errors.Is(err, ports.ErrVersionConflict) {
				return apperror.ErrConcurrencyConflict()
			}
			return apperror.InternalError(fmt.Errorf("update dispute: %w", err))
		}
		if err := dbTx.Commit(ctx); err != nil {
			return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
		}
		dispute = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("dispute_id", disputeID.String()).
		Str("admin_id", adminID.String()).
		Msg("dispute under review")
	return dispute, nil
}

// GetDispute returns a dispute visible to admins and the trade's parties.
func (s *DisputeServiceImpl) GetDispute(ctx context.Context, principal domain.Principal, disputeID uuid.UUID) (*domain.Dispute, error) {
	d, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get dispute: %w", err))
	}
	if d == nil {
		return nil, apperror.ErrDisputeNotFound()
	}
	if !principal.IsAdmin() && principal.UserID != d.BuyerID && principal.UserID != d.SellerID {
		return nil, apperror.ErrDisputeNotFound()
	}
	return d, nil
}

// ListDisputes returns the admin dispute queue, oldest first.
func (s *DisputeServiceImpl) ListDisputes(ctx context.Context, params ports.DisputeListParams) ([]domain.Dispute, int64, error) {
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)
	disputes, total, err := s.disputes.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list disputes: %w", err))
	}
	return disputes, total, nil
}
