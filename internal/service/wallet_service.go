package service

import (
	"context"
	"fmt"
	"strings"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// WalletServiceImpl implements ports.WalletService.
type WalletServiceImpl struct {
	balances   ports.BalanceRepository
	entries    ports.LedgerEntryRepository
	ledger     ports.Ledger
	transactor ports.DBTransactor
	fees       *FeeSchedule
	settings   Settings
	log        zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	balances ports.BalanceRepository,
	entries ports.LedgerEntryRepository,
	ledger ports.Ledger,
	transactor ports.DBTransactor,
	fees *FeeSchedule,
	settings Settings,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		balances:   balances,
		entries:    entries,
		ledger:     ledger,
		transactor: transactor,
		fees:       fees,
		settings:   settings,
		log:        log,
	}
}

// Deposit credits a confirmed external deposit, less the deposit fee.
func (s *WalletServiceImpl) Deposit(ctx context.Context, req ports.DepositRequest) (*domain.Balance, error) {
	currency := strings.ToUpper(req.Currency)
	amount := domain.Round(req.Amount, currency)
	if !amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	fee := s.fees.DepositFee(amount, currency)
	net := amount.Sub(fee)
	if !net.IsPositive() {
		return nil, apperror.InvalidAmount("deposit does not cover the deposit fee")
	}

	ref := domain.EntryRef{Type: domain.ReferenceDeposit, ID: req.Reference, Memo: "deposit"}
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}

	var balance *domain.Balance
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if balance, err = s.ledger.Credit(ctx, tx, req.UserID, currency, net, ref); err != nil {
			return err
		}
		return s.collectFee(ctx, tx, currency, fee, ref, "deposit fee")
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", req.UserID.String()).
		Str("admin_id", req.AdminID.String()).
		Str("currency", currency).
		Str("amount", amount.String()).
		Str("fee", fee.String()).
		Str("reference", ref.ID).
		Msg("deposit credited")
	return balance, nil
}

// Withdraw debits an external payout plus the withdrawal fee.
func (s *WalletServiceImpl) Withdraw(ctx context.Context, req ports.WithdrawRequest) (*domain.Balance, error) {
	currency := strings.ToUpper(req.Currency)
	amount := domain.Round(req.Amount, currency)
	if !amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if strings.TrimSpace(req.Address) == "" {
		return nil, apperror.Validation("withdrawal address is required")
	}
	fee := s.fees.WithdrawalFee(amount, currency)

	ref := domain.EntryRef{Type: domain.ReferenceWithdrawal, ID: uuid.NewString(), Memo: req.Address}
	var balance *domain.Balance
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if balance, err = s.ledger.Debit(ctx, tx, req.UserID, currency, amount.Add(fee), ref); err != nil {
			return err
		}
		return s.collectFee(ctx, tx, currency, fee, ref, "withdrawal fee")
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", req.UserID.String()).
		Str("currency", currency).
		Str("amount", amount.String()).
		Str("fee", fee.String()).
		Str("withdrawal_id", ref.ID).
		Msg("withdrawal debited")
	return balance, nil
}

// ListBalances returns every balance the user holds.
func (s *WalletServiceImpl) ListBalances(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error) {
	balances, err := s.balances.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list balances: %w", err))
	}
	return balances, nil
}

// ListEntries returns a page of the user's ledger history, newest first.
func (s *WalletServiceImpl) ListEntries(ctx context.Context, params ports.LedgerEntryListParams) ([]domain.LedgerEntry, int64, error) {
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)
	params.Currency = strings.ToUpper(params.Currency)
	entries, total, err := s.entries.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list ledger entries: %w", err))
	}
	return entries, total, nil
}

func (s *WalletServiceImpl) collectFee(ctx context.Context, tx pgx.Tx, currency string, fee decimal.Decimal, ref domain.EntryRef, memo string) error {
	if !fee.IsPositive() {
		return nil
	}
	ref.Memo = memo
	_, err := s.ledger.Credit(ctx, tx, s.fees.PlatformAccountID, currency, fee, ref)
	return err
}

func (s *WalletServiceImpl) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return withConflictRetry(ctx, s.settings.MaxConflictRetries, func() error {
		dbTx, err := s.transactor.Begin(ctx)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
		}
		defer dbTx.Rollback(ctx) //nolint:errcheck

		if err := fn(dbTx); err != nil {
			return err
		}
		if err := dbTx.Commit(ctx); err != nil {
			return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
		}
		return nil
	})
}
