package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digkill/MediaGenBot/internal/models"
)

var ErrPaymentOwnerMismatch = errors.New("payment record belongs to another user")

// LedgerRepository owns the balance and the payment log. Every balance
// mutation locks the user row for the duration of its transaction.
type LedgerRepository struct {
	*UserRepository
	*PaymentRepository

	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewLedgerRepository(db *sql.DB, dialect Dialect) *LedgerRepository {
	return &LedgerRepository{
		UserRepository:    NewUserRepository(db, dialect),
		PaymentRepository: NewPaymentRepository(db, dialect),
		db:                db,
		dialect:           dialect,
		now:               time.Now,
	}
}

// Debit atomically withdraws amount when the balance covers it and appends a
// succeeded record with a negative amount. On shortfall nothing changes and
// ok is false.
func (r *LedgerRepository) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (rec models.PaymentRecord, ok bool, err error) {
	if amount.IsNegative() {
		return models.PaymentRecord{}, false, fmt.Errorf("debit amount %s is negative", amount)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.PaymentRecord{}, false, fmt.Errorf("begin debit: %w", err)
	}
	defer func() {
		if !ok || err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = insertUser(ctx, tx, r.dialect, userID, "", 0); err != nil {
		return models.PaymentRecord{}, false, err
	}
	balance, err := r.lockBalance(ctx, tx, userID)
	if err != nil {
		return models.PaymentRecord{}, false, err
	}
	if balance.LessThan(amount) {
		return models.PaymentRecord{}, false, nil
	}

	const update = `UPDATE users SET balance = balance - ?, updated_at = NOW() WHERE user_id = ?`
	if _, err = tx.ExecContext(ctx, r.dialect.Rebind(update), amount, userID); err != nil {
		return models.PaymentRecord{}, false, fmt.Errorf("decrement balance: %w", err)
	}

	now := r.now()
	rec = models.PaymentRecord{
		PaymentID: uuid.NewString(),
		UserID:    userID,
		Amount:    amount.Neg(),
		Status:    models.PaymentSucceeded,
		Source:    models.SourceGeneration,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err = r.insertRecord(ctx, tx, rec); err != nil {
		return models.PaymentRecord{}, false, err
	}
	if err = tx.Commit(); err != nil {
		return models.PaymentRecord{}, false, fmt.Errorf("commit debit: %w", err)
	}
	return rec, true, nil
}

// Credit records an external payment idempotently by externalID. The balance
// grows only when the record is inserted as succeeded or upgraded to
// succeeded; credited reports whether that happened in this call.
func (r *LedgerRepository) Credit(ctx context.Context, userID int64, amount decimal.Decimal, externalID string, status models.PaymentStatus, source models.PaymentSource) (credited bool, err error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return false, errors.New("credit requires an external payment id")
	}
	if !amount.IsPositive() {
		return false, fmt.Errorf("credit amount %s must be positive", amount)
	}
	if !status.Valid() {
		return false, fmt.Errorf("unknown payment status %q", status)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin credit: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err = insertUser(ctx, tx, r.dialect, userID, "", 0); err != nil {
		return false, err
	}
	if _, err = r.lockBalance(ctx, tx, userID); err != nil {
		return false, err
	}

	const lookup = `SELECT user_id, amount, status FROM payment_records WHERE payment_id = ? FOR UPDATE`
	var (
		owner    int64
		stored   decimal.Decimal
		existing models.PaymentStatus
	)
	err = tx.QueryRowContext(ctx, r.dialect.Rebind(lookup), externalID).Scan(&owner, &stored, &existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := r.now()
		rec := models.PaymentRecord{
			PaymentID: externalID,
			UserID:    userID,
			Amount:    amount,
			Status:    status,
			Source:    source,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err = r.insertRecord(ctx, tx, rec); err != nil {
			if isDuplicateKey(err) {
				return false, nil
			}
			return false, err
		}
		credited = status == models.PaymentSucceeded
	case err != nil:
		return false, fmt.Errorf("lookup payment record: %w", err)
	default:
		if owner != userID {
			return false, fmt.Errorf("payment %s: %w", externalID, ErrPaymentOwnerMismatch)
		}
		if existing == models.PaymentSucceeded || existing == status {
			return false, nil
		}
		const upgrade = `UPDATE payment_records SET status = ?, updated_at = NOW() WHERE payment_id = ?`
		if _, err = tx.ExecContext(ctx, r.dialect.Rebind(upgrade), status, externalID); err != nil {
			return false, fmt.Errorf("update payment status: %w", err)
		}
		credited = status == models.PaymentSucceeded
		amount = stored
	}

	if credited {
		const update = `UPDATE users SET balance = balance + ?, updated_at = NOW() WHERE user_id = ?`
		if _, err = tx.ExecContext(ctx, r.dialect.Rebind(update), amount, userID); err != nil {
			return false, fmt.Errorf("increment balance: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit credit: %w", err)
	}
	committed = true
	return credited, nil
}

func (r *LedgerRepository) lockBalance(ctx context.Context, tx *sql.Tx, userID int64) (decimal.Decimal, error) {
	const query = `SELECT balance FROM users WHERE user_id = ? FOR UPDATE`
	var balance decimal.Decimal
	if err := tx.QueryRowContext(ctx, r.dialect.Rebind(query), userID).Scan(&balance); err != nil {
		return decimal.Zero, fmt.Errorf("lock user %d: %w", userID, err)
	}
	return balance, nil
}

func (r *LedgerRepository) insertRecord(ctx context.Context, tx *sql.Tx, rec models.PaymentRecord) error {
	const query = `
INSERT INTO payment_records (payment_id, user_id, amount, status, source)
VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, r.dialect.Rebind(query), rec.PaymentID, rec.UserID, rec.Amount, string(rec.Status), string(rec.Source)); err != nil {
		return fmt.Errorf("insert payment record: %w", err)
	}
	return nil
}
