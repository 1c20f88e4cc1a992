package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetConfigValue returns the value stored under name in system_config.
func (r *Repository) GetConfigValue(ctx context.Context, name string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx,
		`SELECT key_value FROM system_config WHERE key_name = $1`,
		name,
	).Scan(&value)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrConfigNotFound
		}
		return "", fmt.Errorf("failed to get config value: %w", err)
	}

	return value, nil
}

// InsertConfigIfAbsent stores value under name unless a row already exists.
// Reports whether this call inserted the row.
func (r *Repository) InsertConfigIfAbsent(ctx context.Context, name, value string) (bool, error) {
	query := `
		INSERT INTO system_config (key_name, key_value)
		VALUES ($1, $2)
		ON CONFLICT (key_name) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query, name, value)
	if err != nil {
		return false, fmt.Errorf("failed to insert config value: %w", err)
	}

	return result.RowsAffected() == 1, nil
}
