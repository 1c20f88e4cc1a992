package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/keymeter/keymeter/internal/model"
)

const userColumns = `id, username, email, private_key, monthly_limit, requests_used, created_at`

// CreateUser inserts a new user and fills in its generated ID.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (username, email, private_key, monthly_limit, requests_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	err := r.pool.QueryRow(ctx, query,
		user.Username,
		user.Email,
		user.PrivateKey,
		user.MonthlyLimit,
		user.RequestsUsed,
		user.CreatedAt,
	).Scan(&user.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// GetUserByPrivateKey retrieves a user by their bearer token.
func (r *Repository) GetUserByPrivateKey(ctx context.Context, privateKey string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE private_key = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, privateKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by private key: %w", err)
	}

	return user, nil
}

// ListUsers returns all users, newest first.
func (r *Repository) ListUsers(ctx context.Context) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*model.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// UpdateMonthlyLimit sets a user's monthly limit.
func (r *Repository) UpdateMonthlyLimit(ctx context.Context, id, limit int64) error {
	query := `UPDATE users SET monthly_limit = $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, limit)
	if err != nil {
		return fmt.Errorf("failed to update monthly limit: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// DeleteUser permanently removes a user.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ConsumeRequest debits one request from the user holding privateKey.
// The check and the increment are a single conditional UPDATE, so two
// concurrent calls can never push requests_used past monthly_limit.
func (r *Repository) ConsumeRequest(ctx context.Context, privateKey string) (*model.User, error) {
	query := `
		UPDATE users
		SET requests_used = requests_used + 1
		WHERE private_key = $1 AND requests_used < monthly_limit
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, privateKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuotaExhausted
		}
		return nil, fmt.Errorf("failed to consume request: %w", err)
	}

	return user, nil
}

// UsageTotals returns the user count and the sum of requests used.
func (r *Repository) UsageTotals(ctx context.Context) (*model.UsageTotals, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(requests_used), 0)::BIGINT FROM users`

	var totals model.UsageTotals
	if err := r.pool.QueryRow(ctx, query).Scan(&totals.TotalUsers, &totals.TotalRequests); err != nil {
		return nil, fmt.Errorf("failed to compute usage totals: %w", err)
	}

	return &totals, nil
}

// scanUser scans a single row into a User model.
func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PrivateKey,
		&user.MonthlyLimit,
		&user.RequestsUsed,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
