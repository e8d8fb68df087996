package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/digkill/MediaGenBot/internal/models"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type UserRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewUserRepository(db *sql.DB, dialect Dialect) *UserRepository {
	return &UserRepository{db: db, dialect: dialect}
}

func (r *UserRepository) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	const query = `
SELECT user_id, display_name, balance, free_generations, created_at, updated_at
FROM users WHERE user_id = ?`
	row := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), userID)
	var u models.User
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Balance, &u.FreeGenerations, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetBalance returns zero for unknown users.
func (r *UserRepository) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	const query = `SELECT balance FROM users WHERE user_id = ?`
	var balance decimal.Decimal
	if err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), userID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// EnsureUser creates the account on first contact with the free generation
// entitlement and refreshes the display name afterwards.
func (r *UserRepository) EnsureUser(ctx context.Context, userID int64, displayName string, freeGenerations int) (*models.User, bool, error) {
	created, err := insertUser(ctx, r.db, r.dialect, userID, displayName, freeGenerations)
	if err != nil {
		return nil, false, err
	}
	if !created && displayName != "" {
		const query = `UPDATE users SET display_name = ?, updated_at = NOW() WHERE user_id = ? AND display_name <> ?`
		if _, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), displayName, userID, displayName); err != nil {
			return nil, false, fmt.Errorf("update display name: %w", err)
		}
	}
	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if user == nil {
		return nil, false, fmt.Errorf("user %d vanished after ensure", userID)
	}
	return user, created, nil
}

func insertUser(ctx context.Context, q queryer, d Dialect, userID int64, displayName string, freeGenerations int) (bool, error) {
	res, err := q.ExecContext(ctx, d.insertUserIgnore(), userID, displayName, freeGenerations)
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert user rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *UserRepository) FreeGenerations(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT free_generations FROM users WHERE user_id = ?`
	var n int
	if err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), userID).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("free generations: %w", err)
	}
	return n, nil
}

func (r *UserRepository) ConsumeFreeGeneration(ctx context.Context, userID int64) (bool, error) {
	const query = `
UPDATE users SET free_generations = free_generations - 1, updated_at = NOW()
WHERE user_id = ? AND free_generations > 0`
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), userID)
	if err != nil {
		return false, fmt.Errorf("consume free generation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("free generation rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *UserRepository) ListUserIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT user_id FROM users ORDER BY user_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
