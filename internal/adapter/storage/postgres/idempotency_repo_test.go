package postgres

import (
	"context"
	"testing"
	"time"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	log := &domain.IdempotencyLog{
		Key:          "buyer-id:ORDER-001",
		TradeID:      uuid.New(),
		ResponseJSON: []byte(`{"status":"escrowed"}`),
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO idempotency_logs").
		WithArgs(log.Key, log.TradeID, log.ResponseJSON, log.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), tx, log)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepo_Create_Duplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO idempotency_logs").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idempotency_logs_pkey"})

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), tx, &domain.IdempotencyLog{Key: "k", TradeID: uuid.New()})
	assert.ErrorIs(t, err, ports.ErrDuplicateKey)
}

func TestIdempotencyRepo_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	tradeID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery("SELECT .+ FROM idempotency_logs WHERE key").
		WithArgs("buyer-id:ORDER-001").
		WillReturnRows(pgxmock.NewRows([]string{"key", "trade_id", "response_json", "created_at"}).
			AddRow("buyer-id:ORDER-001", tradeID, []byte(`{"status":"escrowed"}`), now))

	result, err := repo.Get(context.Background(), "buyer-id:ORDER-001")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, tradeID, result.TradeID)
	assert.Equal(t, []byte(`{"status":"escrowed"}`), result.ResponseJSON)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepo_Get_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM idempotency_logs WHERE key").
		WithArgs("nonexistent-key").
		WillReturnRows(pgxmock.NewRows([]string{"key", "trade_id", "response_json", "created_at"}))

	result, err := repo.Get(context.Background(), "nonexistent-key")
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}
