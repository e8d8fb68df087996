package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// Dialect selects the placeholder style and the few statements that differ
// between MySQL and Postgres.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
)

func ParseDialect(driver string) (Dialect, error) {
	switch Dialect(driver) {
	case MySQL, Postgres:
		return Dialect(driver), nil
	}
	return "", fmt.Errorf("unsupported sql dialect %q", driver)
}

// Rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) Rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(string(d)), query)
}

func (d Dialect) insertUserIgnore() string {
	if d == Postgres {
		return `INSERT INTO users (user_id, display_name, free_generations) VALUES ($1, $2, $3) ON CONFLICT (user_id) DO NOTHING`
	}
	return `INSERT IGNORE INTO users (user_id, display_name, free_generations) VALUES (?, ?, ?)`
}

// isDuplicateKey reports a unique-key violation from either driver.
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}
