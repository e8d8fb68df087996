package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Valid reports whether s is one of the statuses the ledger stores.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSucceeded, PaymentFailed:
		return true
	}
	return false
}

type PaymentSource string

const (
	SourceGeneration PaymentSource = "generation"
	SourceTelegram   PaymentSource = "telegram"
	SourceYooKassa   PaymentSource = "yookassa"
	SourceManual     PaymentSource = "manual"
)

// User is the account keyed by the Telegram user id. Balance never goes negative.
type User struct {
	ID              int64
	DisplayName     string
	Balance         decimal.Decimal
	FreeGenerations int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentRecord is one ledger entry. Top-ups carry a positive amount,
// generation charges a negative one.
type PaymentRecord struct {
	PaymentID string          `db:"payment_id"`
	UserID    int64           `db:"user_id"`
	Amount    decimal.Decimal `db:"amount"`
	Status    PaymentStatus   `db:"status"`
	Source    PaymentSource   `db:"source"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}
