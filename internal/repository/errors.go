package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Common errors for repository operations.
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateUser  = errors.New("username or email already exists")
	ErrConfigNotFound = errors.New("config entry not found")
	// ErrQuotaExhausted is returned by ConsumeRequest when no user with
	// the given private key has quota left. The key may also be unknown;
	// callers disambiguate with GetUserByPrivateKey.
	ErrQuotaExhausted = errors.New("no remaining quota")
)

// pgUniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// isUniqueViolation checks if the error is a unique constraint violation
// from either backend.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	// modernc sqlite reports "constraint failed: UNIQUE constraint failed: users.email (2067)"
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
