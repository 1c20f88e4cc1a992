// Package repository provides database access layer.
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keymeter/keymeter/internal/model"
)

// Store is implemented by every storage backend.
type Store interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByPrivateKey(ctx context.Context, privateKey string) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	UpdateMonthlyLimit(ctx context.Context, id, limit int64) error
	DeleteUser(ctx context.Context, id int64) error
	ConsumeRequest(ctx context.Context, privateKey string) (*model.User, error)
	UsageTotals(ctx context.Context) (*model.UsageTotals, error)

	GetConfigValue(ctx context.Context, name string) (string, error)
	InsertConfigIfAbsent(ctx context.Context, name, value string) (bool, error)
}

// Open connects to the backend named by driver ("postgres" or "sqlite")
// and applies the schema.
func Open(ctx context.Context, driver, databaseURL string) (Store, error) {
	var (
		store Store
		err   error
	)

	switch driver {
	case "postgres":
		store, err = New(ctx, databaseURL)
	case "sqlite":
		store, err = NewSQLite(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	return store, nil
}

// Repository is the PostgreSQL backend.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new Repository with a connection pool.
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{pool: pool}, nil
}

// Migrate creates the tables if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range statements(postgresSchema) {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Pool returns the underlying connection pool.
// Use sparingly - prefer adding methods to Repository.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}
