package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/digkill/MediaGenBot/internal/models"
	"github.com/digkill/MediaGenBot/internal/repository"
)

type UserService struct {
	users           *repository.LedgerRepository
	freeGenerations int
}

func NewUserService(users *repository.LedgerRepository, freeGenerations int) *UserService {
	return &UserService{users: users, freeGenerations: freeGenerations}
}

// Ensure creates the account on first contact with the configured free
// generation entitlement.
func (s *UserService) Ensure(ctx context.Context, userID int64, displayName string) (*models.User, bool, error) {
	user, created, err := s.users.EnsureUser(ctx, userID, displayName, s.freeGenerations)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	return user, created, nil
}

func (s *UserService) Get(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *UserService) Balance(ctx context.Context, userID int64) (decimal.Decimal, int, error) {
	balance, err := s.users.GetBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("get balance: %w", err)
	}
	free, err := s.users.FreeGenerations(ctx, userID)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("free generations: %w", err)
	}
	return balance, free, nil
}

func (s *UserService) Payments(ctx context.Context, userID int64, limit int) ([]models.PaymentRecord, error) {
	records, err := s.users.ListPayments(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return records, nil
}

// Payment looks up one ledger record. It returns nil when none exists.
func (s *UserService) Payment(ctx context.Context, paymentID string) (*models.PaymentRecord, error) {
	record, err := s.users.FindByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return record, nil
}

func (s *UserService) ListUserIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.users.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	return ids, nil
}
