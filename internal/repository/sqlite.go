package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/keymeter/keymeter/internal/model"
)

// SQLiteRepository is the embedded SQLite backend.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the SQLite database file at path.
func NewSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	if path == "" {
		return nil, errors.New("sqlite database path is required")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// A single connection serializes writers; the conditional UPDATE in
	// ConsumeRequest is atomic either way.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	repo := &SQLiteRepository{db: db}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	return repo, nil
}

// Migrate creates the tables if they do not exist.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	for _, stmt := range statements(sqliteSchema) {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// CreateUser inserts a new user and fills in its generated ID.
func (r *SQLiteRepository) CreateUser(ctx context.Context, user *model.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, email, private_key, monthly_limit, requests_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.Username,
		user.Email,
		user.PrivateKey,
		user.MonthlyLimit,
		user.RequestsUsed,
		formatSQLiteTime(user.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}
	user.ID = id

	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *SQLiteRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	user, err := scanSQLiteUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// GetUserByPrivateKey retrieves a user by their bearer token.
func (r *SQLiteRepository) GetUserByPrivateKey(ctx context.Context, privateKey string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE private_key = ?`, privateKey)

	user, err := scanSQLiteUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by private key: %w", err)
	}

	return user, nil
}

// ListUsers returns all users, newest first.
func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*model.User, 0)
	for rows.Next() {
		user, err := scanSQLiteUser(rows)
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
func (r *SQLiteRepository) UpdateMonthlyLimit(ctx context.Context, id, limit int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET monthly_limit = ? WHERE id = ?`, limit, id)
	if err != nil {
		return fmt.Errorf("failed to update monthly limit: %w", err)
	}

	return requireAffected(result)
}

// DeleteUser permanently removes a user.
func (r *SQLiteRepository) DeleteUser(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return requireAffected(result)
}

// ConsumeRequest debits one request from the user holding privateKey
// with a single conditional UPDATE.
func (r *SQLiteRepository) ConsumeRequest(ctx context.Context, privateKey string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET requests_used = requests_used + 1
		WHERE private_key = ? AND requests_used < monthly_limit
		RETURNING `+userColumns,
		privateKey,
	)

	user, err := scanSQLiteUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuotaExhausted
		}
		return nil, fmt.Errorf("failed to consume request: %w", err)
	}

	return user, nil
}

// UsageTotals returns the user count and the sum of requests used.
func (r *SQLiteRepository) UsageTotals(ctx context.Context) (*model.UsageTotals, error) {
	var totals model.UsageTotals
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(requests_used), 0) FROM users`,
	).Scan(&totals.TotalUsers, &totals.TotalRequests)
	if err != nil {
		return nil, fmt.Errorf("failed to compute usage totals: %w", err)
	}

	return &totals, nil
}

// GetConfigValue returns the value stored under name in system_config.
func (r *SQLiteRepository) GetConfigValue(ctx context.Context, name string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT key_value FROM system_config WHERE key_name = ?`,
		name,
	).Scan(&value)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrConfigNotFound
		}
		return "", fmt.Errorf("failed to get config value: %w", err)
	}

	return value, nil
}

// InsertConfigIfAbsent stores value under name unless a row already exists.
// Reports whether this call inserted the row.
func (r *SQLiteRepository) InsertConfigIfAbsent(ctx context.Context, name, value string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO system_config (key_name, key_value, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key_name) DO NOTHING`,
		name, value, formatSQLiteTime(time.Now().UTC()),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert config value: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return n == 1, nil
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row sqliteScanner) (*model.User, error) {
	var (
		user      model.User
		createdAt sqliteTime
	)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PrivateKey,
		&user.MonthlyLimit,
		&user.RequestsUsed,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = createdAt.Time
	return &user, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// sqliteTimeLayout matches CURRENT_TIMESTAMP with optional fractional seconds.
const sqliteTimeLayout = "2006-01-02 15:04:05.999999999"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// sqliteTime accepts whatever the driver hands back for a DATETIME column:
// a parsed time.Time, or the raw text/blob.
type sqliteTime struct {
	Time time.Time
}

func (t *sqliteTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case int64:
		t.Time = time.Unix(v, 0).UTC()
		return nil
	default:
		return fmt.Errorf("unsupported created_at type %T", src)
	}
}

func (t *sqliteTime) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable created_at %q", s)
}
