package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/digkill/MediaGenBot/internal/models"
)

const paymentColumns = `payment_id, user_id, amount, status, source, created_at, updated_at`

type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sql.DB, dialect Dialect) *PaymentRepository {
	return &PaymentRepository{db: sqlx.NewDb(db, string(dialect))}
}

// FindByID returns nil when no record carries paymentID.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (*models.PaymentRecord, error) {
	query := r.db.Rebind(`SELECT ` + paymentColumns + ` FROM payment_records WHERE payment_id = ?`)
	var p models.PaymentRecord
	if err := r.db.GetContext(ctx, &p, query, paymentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find payment record: %w", err)
	}
	return &p, nil
}

// ListPayments returns the newest records of a user first.
func (r *PaymentRepository) ListPayments(ctx context.Context, userID int64, limit int) ([]models.PaymentRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := r.db.Rebind(`SELECT ` + paymentColumns + ` FROM payment_records WHERE user_id = ?
ORDER BY created_at DESC LIMIT ?`)
	var out []models.PaymentRecord
	if err := r.db.SelectContext(ctx, &out, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return out, nil
}
