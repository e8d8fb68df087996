package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/digkill/MediaGenBot/internal/catalog"
	"github.com/digkill/MediaGenBot/internal/metrics"
	"github.com/digkill/MediaGenBot/internal/models"
	"github.com/digkill/MediaGenBot/pkg/logger/sl"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// Ledger is the durable balance store. Storage failures are returned as
// errors and never reported as a shortfall.
type Ledger interface {
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Debit(ctx context.Context, userID int64, amount decimal.Decimal) (models.PaymentRecord, bool, error)
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, externalID string, status models.PaymentStatus, source models.PaymentSource) (bool, error)
	FreeGenerations(ctx context.Context, userID int64) (int, error)
	ConsumeFreeGeneration(ctx context.Context, userID int64) (bool, error)
}

// InsufficientFundsError carries the exact amount the user is missing.
type InsufficientFundsError struct {
	Price     decimal.Decimal
	Balance   decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: price %s, balance %s, short by %s", e.Price, e.Balance, e.Shortfall)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

func newInsufficient(price, balance decimal.Decimal) *InsufficientFundsError {
	return &InsufficientFundsError{Price: price, Balance: balance, Shortfall: price.Sub(balance)}
}

type Quote struct {
	Price     decimal.Decimal
	Balance   decimal.Decimal
	Shortfall decimal.Decimal
	// Free is set when a free generation will cover the job.
	Free bool
}

func (q Quote) Sufficient() bool {
	return q.Free || !q.Shortfall.IsPositive()
}

type Receipt struct {
	PaymentID string
	Amount    decimal.Decimal
	Free      bool
}

type Authorizer struct {
	ledger  Ledger
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewAuthorizer(ledger Ledger, log *slog.Logger, m *metrics.Metrics) *Authorizer {
	return &Authorizer{ledger: ledger, log: log, metrics: m}
}

// PriceFor is a pure lookup in the model's price table.
func (a *Authorizer) PriceFor(model catalog.Model, choices map[string]string) (decimal.Decimal, error) {
	return model.PriceFor(choices)
}

// Quote reads the balance and free entitlement for the pre-confirmation check.
func (a *Authorizer) Quote(ctx context.Context, userID int64, model catalog.Model, choices map[string]string) (Quote, error) {
	price, err := a.PriceFor(model, choices)
	if err != nil {
		return Quote{}, err
	}
	balance, err := a.ledger.GetBalance(ctx, userID)
	if err != nil {
		return Quote{}, fmt.Errorf("get balance: %w", err)
	}
	q := Quote{Price: price, Balance: balance}
	if model.FreeEligible {
		free, err := a.ledger.FreeGenerations(ctx, userID)
		if err != nil {
			return Quote{}, fmt.Errorf("free generations: %w", err)
		}
		q.Free = free > 0
	}
	if !q.Free && balance.LessThan(price) {
		q.Shortfall = price.Sub(balance)
	}
	return q, nil
}

// AuthorizeAndCharge debits the ledger exactly once for the job. A free
// generation is spent instead when the model allows it.
func (a *Authorizer) AuthorizeAndCharge(ctx context.Context, userID int64, model catalog.Model, choices map[string]string) (Receipt, error) {
	price, err := a.PriceFor(model, choices)
	if err != nil {
		return Receipt{}, err
	}

	if model.FreeEligible {
		ok, err := a.ledger.ConsumeFreeGeneration(ctx, userID)
		if err != nil {
			a.metrics.Charge(model.ID, "error")
			return Receipt{}, fmt.Errorf("consume free generation: %w", err)
		}
		if ok {
			a.metrics.Charge(model.ID, "free")
			return Receipt{Free: true, Amount: decimal.Zero}, nil
		}
	}

	rec, ok, err := a.ledger.Debit(ctx, userID, price)
	if err != nil {
		a.metrics.Charge(model.ID, "error")
		return Receipt{}, fmt.Errorf("debit: %w", err)
	}
	if !ok {
		a.metrics.Charge(model.ID, "insufficient")
		balance, berr := a.ledger.GetBalance(ctx, userID)
		if berr != nil {
			a.log.Warn("balance lookup after shortfall", "user", userID, sl.Err(berr))
			balance = decimal.Zero
		}
		return Receipt{}, newInsufficient(price, balance)
	}

	a.metrics.Charge(model.ID, "ok")
	return Receipt{PaymentID: rec.PaymentID, Amount: price}, nil
}
