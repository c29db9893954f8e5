package postgres

import (
	"context"
	"testing"
	"time"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func balanceRow(b *domain.Balance) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"user_id", "currency", "available", "locked", "version", "created_at", "updated_at"}).
		AddRow(b.UserID, b.Currency, b.Available.String(), b.Locked.String(), b.Version, b.CreatedAt, b.UpdatedAt)
}

func newTestBalance() *domain.Balance {
	b := domain.NewBalance(uuid.New(), "BTC")
	b.Available = decimal.RequireFromString("0.5")
	b.Locked = decimal.RequireFromString("0.25000001")
	b.Version = 3
	return b
}

func TestBalanceRepo_GetForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)
	b := newTestBalance()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM balances WHERE user_id .+ FOR UPDATE").
		WithArgs(b.UserID, "BTC").
		WillReturnRows(balanceRow(b))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetForUpdate(context.Background(), tx, b.UserID, "BTC")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Available.Equal(b.Available))
	assert.Equal(t, "0.25000001", result.Locked.String())
	assert.Equal(t, int64(3), result.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_Get_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)
	userID := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM balances WHERE user_id").
		WithArgs(userID, "GBP").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "currency", "available", "locked", "version", "created_at", "updated_at"}))

	result, err := repo.Get(context.Background(), userID, "GBP")
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_CreateIfMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)
	b := domain.NewBalance(uuid.New(), "GBP")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO balances .+ ON CONFLICT").
		WithArgs(b.UserID, "GBP", "0", "0", b.CreatedAt, b.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.CreateIfMissing(context.Background(), tx, b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)
	b := newTestBalance()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE balances SET available").
		WithArgs("0.5", "0.25000001", pgxmock.AnyArg(), b.UserID, "BTC", int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, repo.Update(context.Background(), tx, b))
	assert.Equal(t, int64(4), b.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_Update_VersionConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)
	b := newTestBalance()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE balances SET available").
		WithArgs("0.5", "0.25000001", pgxmock.AnyArg(), b.UserID, "BTC", int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Update(context.Background(), tx, b)
	assert.ErrorIs(t, err, ports.ErrVersionConflict)
	assert.Equal(t, int64(3), b.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerEntryRepo_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerEntryRepo(mock)
	userID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery("SELECT COUNT.+ FROM ledger_entries WHERE user_id = \\$1 AND currency = \\$2").
		WithArgs(userID, "BTC").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE .+ ORDER BY id DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs(userID, "BTC", 20, 20).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "currency", "kind", "amount", "available_after", "locked_after",
			"reference_type", "reference_id", "memo", "created_at",
		}).AddRow("01J9ZK8Q2V3W4X5Y6Z7A8B9C0D", userID, "BTC", domain.EntryKindLock, "0.5", "0.5", "0.5",
			domain.ReferenceTrade, "trade-1", "escrow", now))

	entries, total, err := repo.List(context.Background(), ports.LedgerEntryListParams{
		UserID: userID, Currency: "BTC", Page: 2, PageSize: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryKindLock, entries[0].Kind)
	assert.True(t, entries[0].LockedAfter.Equal(decimal.RequireFromString("0.5")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerEntryRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerEntryRepo(mock)
	e := &domain.LedgerEntry{
		ID:             "01J9ZK8Q2V3W4X5Y6Z7A8B9C0D",
		UserID:         uuid.New(),
		Currency:       "GBP",
		Kind:           domain.EntryKindCredit,
		Amount:         decimal.RequireFromString("4826.25"),
		AvailableAfter: decimal.RequireFromString("4826.25"),
		LockedAfter:    decimal.Zero,
		ReferenceType:  domain.ReferenceQuote,
		ReferenceID:    uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(e.ID, e.UserID, "GBP", domain.EntryKindCredit, "4826.25", "4826.25", "0",
			domain.ReferenceQuote, e.ReferenceID, "", e.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Create(context.Background(), tx, e))
	assert.NoError(t, mock.ExpectationsWereMet())
}
