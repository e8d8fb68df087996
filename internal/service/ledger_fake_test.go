package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/digkill/MediaGenBot/internal/models"
)

// memLedger mirrors the SQL ledger semantics in memory.
type memLedger struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
	free     map[int64]int
	records  map[string]models.PaymentRecord
}

func newMemLedger() *memLedger {
	return &memLedger{
		balances: map[int64]decimal.Decimal{},
		free:     map[int64]int{},
		records:  map[string]models.PaymentRecord{},
	}
}

func (l *memLedger) GetBalance(_ context.Context, userID int64) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

func (l *memLedger) Debit(_ context.Context, userID int64, amount decimal.Decimal) (models.PaymentRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID].LessThan(amount) {
		return models.PaymentRecord{}, false, nil
	}
	l.balances[userID] = l.balances[userID].Sub(amount)
	rec := models.PaymentRecord{
		PaymentID: uuid.NewString(),
		UserID:    userID,
		Amount:    amount.Neg(),
		Status:    models.PaymentSucceeded,
		Source:    models.SourceGeneration,
	}
	l.records[rec.PaymentID] = rec
	return rec, true, nil
}

func (l *memLedger) Credit(_ context.Context, userID int64, amount decimal.Decimal, externalID string, status models.PaymentStatus, source models.PaymentSource) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	existing, ok := l.records[externalID]
	if ok {
		if existing.Status == models.PaymentSucceeded || existing.Status == status {
			return false, nil
		}
		existing.Status = status
		l.records[externalID] = existing
		if status == models.PaymentSucceeded {
			l.balances[userID] = l.balances[userID].Add(existing.Amount)
			return true, nil
		}
		return false, nil
	}
	l.records[externalID] = models.PaymentRecord{PaymentID: externalID, UserID: userID, Amount: amount, Status: status, Source: source}
	if status == models.PaymentSucceeded {
		l.balances[userID] = l.balances[userID].Add(amount)
		return true, nil
	}
	return false, nil
}

func (l *memLedger) FreeGenerations(_ context.Context, userID int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.free[userID], nil
}

func (l *memLedger) ConsumeFreeGeneration(_ context.Context, userID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.free[userID] <= 0 {
		return false, nil
	}
	l.free[userID]--
	return true, nil
}

func (l *memLedger) recordCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockLedger) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (models.PaymentRecord, bool, error) {
	args := m.Called(ctx, userID, amount)
	return args.Get(0).(models.PaymentRecord), args.Bool(1), args.Error(2)
}

func (m *mockLedger) Credit(ctx context.Context, userID int64, amount decimal.Decimal, externalID string, status models.PaymentStatus, source models.PaymentSource) (bool, error) {
	args := m.Called(ctx, userID, amount, externalID, status, source)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) FreeGenerations(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockLedger) ConsumeFreeGeneration(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}
