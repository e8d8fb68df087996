package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/MediaGenBot/internal/models"
)

const (
	qInsertUser   = "INSERT IGNORE INTO users (user_id, display_name, free_generations) VALUES (?, ?, ?)"
	qLockBalance  = "SELECT balance FROM users WHERE user_id = ? FOR UPDATE"
	qDecrement    = "UPDATE users SET balance = balance - ?, updated_at = NOW() WHERE user_id = ?"
	qIncrement    = "UPDATE users SET balance = balance + ?, updated_at = NOW() WHERE user_id = ?"
	qInsertRecord = "INSERT INTO payment_records (payment_id, user_id, amount, status, source)"
	qLookupRecord = "SELECT user_id, amount, status FROM payment_records WHERE payment_id = ? FOR UPDATE"
	qUpgrade      = "UPDATE payment_records SET status = ?, updated_at = NOW() WHERE payment_id = ?"
)

func newLedger(t *testing.T) (*LedgerRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLedgerRepository(db, MySQL), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func expectLock(mock sqlmock.Sqlmock, userID int64, balance string) {
	mock.ExpectExec(q(qInsertUser)).WithArgs(userID, "", 0).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(qLockBalance)).WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(balance))
}

func TestDebitSucceeds(t *testing.T) {
	repo, mock := newLedger(t)
	price := decimal.NewFromInt(150)

	mock.ExpectBegin()
	expectLock(mock, 7, "200.00")
	mock.ExpectExec(q(qDecrement)).WithArgs(price, int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qInsertRecord)).
		WithArgs(sqlmock.AnyArg(), int64(7), price.Neg(), "succeeded", "generation").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, ok, err := repo.Debit(context.Background(), 7, price)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, rec.PaymentID)
	assert.True(t, rec.Amount.Equal(decimal.NewFromInt(-150)))
	assert.Equal(t, models.PaymentSucceeded, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitShortfallChangesNothing(t *testing.T) {
	repo, mock := newLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 7, "100.00")
	mock.ExpectRollback()

	_, ok, err := repo.Debit(context.Background(), 7, decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitStorageErrorIsNotShortfall(t *testing.T) {
	repo, mock := newLedger(t)
	boom := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectExec(q(qInsertUser)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(qLockBalance)).WillReturnError(boom)
	mock.ExpectRollback()

	_, ok, err := repo.Debit(context.Background(), 7, decimal.NewFromInt(10))
	require.ErrorIs(t, err, boom)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitRejectsNegativeAmount(t *testing.T) {
	repo, mock := newLedger(t)
	_, ok, err := repo.Debit(context.Background(), 7, decimal.NewFromInt(-1))
	assert.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditNewSucceededRecord(t *testing.T) {
	repo, mock := newLedger(t)
	amount := decimal.NewFromInt(100)

	mock.ExpectBegin()
	expectLock(mock, 9, "0")
	mock.ExpectQuery(q(qLookupRecord)).WithArgs("X").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "status"}))
	mock.ExpectExec(q(qInsertRecord)).
		WithArgs("X", int64(9), amount, "succeeded", "yookassa").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qIncrement)).WithArgs(amount, int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	credited, err := repo.Credit(context.Background(), 9, amount, "X", models.PaymentSucceeded, models.SourceYooKassa)
	require.NoError(t, err)
	assert.True(t, credited)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditDuplicateSucceededIsNoop(t *testing.T) {
	repo, mock := newLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 9, "100")
	mock.ExpectQuery(q(qLookupRecord)).WithArgs("X").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "status"}).AddRow(int64(9), "100.00", "succeeded"))
	mock.ExpectRollback()

	credited, err := repo.Credit(context.Background(), 9, decimal.NewFromInt(100), "X", models.PaymentSucceeded, models.SourceYooKassa)
	require.NoError(t, err)
	assert.False(t, credited)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditPendingUpgradeCreditsStoredAmount(t *testing.T) {
	repo, mock := newLedger(t)
	stored := decimal.RequireFromString("250.00")

	mock.ExpectBegin()
	expectLock(mock, 9, "0")
	mock.ExpectQuery(q(qLookupRecord)).WithArgs("yk-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "status"}).AddRow(int64(9), "250.00", "pending"))
	mock.ExpectExec(q(qUpgrade)).WithArgs(models.PaymentSucceeded, "yk-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(qIncrement)).WithArgs(stored, int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	credited, err := repo.Credit(context.Background(), 9, decimal.NewFromInt(999), "yk-1", models.PaymentSucceeded, models.SourceYooKassa)
	require.NoError(t, err)
	assert.True(t, credited)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditPendingDoesNotMoveBalance(t *testing.T) {
	repo, mock := newLedger(t)
	amount := decimal.NewFromInt(300)

	mock.ExpectBegin()
	expectLock(mock, 9, "0")
	mock.ExpectQuery(q(qLookupRecord)).WithArgs("yk-2").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "status"}))
	mock.ExpectExec(q(qInsertRecord)).
		WithArgs("yk-2", int64(9), amount, "pending", "yookassa").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	credited, err := repo.Credit(context.Background(), 9, amount, "yk-2", models.PaymentPending, models.SourceYooKassa)
	require.NoError(t, err)
	assert.False(t, credited)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditConcurrentDuplicateKey(t *testing.T) {
	for name, dupErr := range map[string]error{
		"mysql":    &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"},
		"postgres": &pgconn.PgError{Code: "23505"},
	} {
		t.Run(name, func(t *testing.T) {
			repo, mock := newLedger(t)

			mock.ExpectBegin()
			expectLock(mock, 9, "0")
			mock.ExpectQuery(q(qLookupRecord)).
				WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "status"}))
			mock.ExpectExec(q(qInsertRecord)).WillReturnError(dupErr)
			mock.ExpectRollback()

			credited, err := repo.Credit(context.Background(), 9, decimal.NewFromInt(100), "X", models.PaymentSucceeded, models.SourceTelegram)
			require.NoError(t, err)
			assert.False(t, credited)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreditOwnerMismatch(t *testing.T) {
	repo, mock := newLedger(t)

	mock.ExpectBegin()
	expectLock(mock, 9, "0")
	mock.ExpectQuery(q(qLookupRecord)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "status"}).AddRow(int64(10), "100", "pending"))
	mock.ExpectRollback()

	_, err := repo.Credit(context.Background(), 9, decimal.NewFromInt(100), "X", models.PaymentSucceeded, models.SourceYooKassa)
	assert.ErrorIs(t, err, ErrPaymentOwnerMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditValidatesInput(t *testing.T) {
	repo, mock := newLedger(t)
	ctx := context.Background()

	_, err := repo.Credit(ctx, 1, decimal.NewFromInt(10), " ", models.PaymentSucceeded, models.SourceManual)
	assert.Error(t, err)
	_, err = repo.Credit(ctx, 1, decimal.Zero, "id", models.PaymentSucceeded, models.SourceManual)
	assert.Error(t, err)
	_, err = repo.Credit(ctx, 1, decimal.NewFromInt(10), "id", "refunded", models.SourceManual)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBalanceUnknownUserIsZero(t *testing.T) {
	repo, mock := newLedger(t)
	mock.ExpectQuery(q("SELECT balance FROM users WHERE user_id = ?")).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))

	balance, err := repo.GetBalance(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeFreeGeneration(t *testing.T) {
	repo, mock := newLedger(t)
	query := q("UPDATE users SET free_generations = free_generations - 1")
	mock.ExpectExec(query).WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ConsumeFreeGeneration(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.ConsumeFreeGeneration(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureUserCreates(t *testing.T) {
	repo, mock := newLedger(t)

	mock.ExpectExec(q(qInsertUser)).WithArgs(int64(5), "Ann", 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT user_id, display_name, balance, free_generations, created_at, updated_at")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "display_name", "balance", "free_generations", "created_at", "updated_at"}).
			AddRow(int64(5), "Ann", "0.00", 1, repo.now(), repo.now()))

	user, created, err := repo.EnsureUser(context.Background(), 5, "Ann", 1)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, user.FreeGenerations)
	assert.True(t, user.Balance.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRebind(t *testing.T) {
	assert.Equal(t, "UPDATE users SET balance = balance + $1 WHERE user_id = $2",
		Postgres.Rebind("UPDATE users SET balance = balance + ? WHERE user_id = ?"))
	assert.Equal(t, "SELECT ?", MySQL.Rebind("SELECT ?"))

	_, err := ParseDialect("sqlite")
	assert.Error(t, err)
	d, err := ParseDialect("postgres")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)
}

func paymentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"payment_id", "user_id", "amount", "status", "source", "created_at", "updated_at"})
}

func TestFindPaymentByID(t *testing.T) {
	repo, mock := newLedger(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	const query = "SELECT payment_id, user_id, amount, status, source, created_at, updated_at FROM payment_records WHERE payment_id = ?"

	mock.ExpectQuery(q(query)).WithArgs("gen-1").
		WillReturnRows(paymentRows().AddRow("gen-1", int64(4), "-150.00", "succeeded", "generation", created, created))
	mock.ExpectQuery(q(query)).WithArgs("nope").WillReturnRows(paymentRows())

	rec, err := repo.FindByID(context.Background(), "gen-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(4), rec.UserID)
	assert.True(t, rec.Amount.Equal(decimal.NewFromInt(-150)))
	assert.Equal(t, models.PaymentSucceeded, rec.Status)
	assert.Equal(t, models.SourceGeneration, rec.Source)
	assert.Equal(t, created, rec.CreatedAt)

	rec, err = repo.FindByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPaymentsPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := NewLedgerRepository(db, Postgres)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q("FROM payment_records WHERE user_id = $1\nORDER BY created_at DESC LIMIT $2")).
		WithArgs(int64(4), 20).
		WillReturnRows(paymentRows().
			AddRow("yk-2", int64(4), "300", "pending", "yookassa", now, now).
			AddRow("gen-1", int64(4), "-150", "succeeded", "generation", now, now))

	records, err := repo.ListPayments(context.Background(), 4, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "yk-2", records[0].PaymentID)
	assert.Equal(t, models.PaymentPending, records[0].Status)
	assert.Equal(t, "-150", records[1].Amount.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
