// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/keymeter/keymeter/internal/auth"
	"github.com/keymeter/keymeter/internal/metrics"
	"github.com/keymeter/keymeter/internal/model"
	"github.com/keymeter/keymeter/internal/repository"
	"github.com/keymeter/keymeter/internal/usage"
)

// SystemKeyCache caches the system key in front of storage.
type SystemKeyCache interface {
	GetSystemKey(ctx context.Context) (string, error)
	SetSystemKey(ctx context.Context, value string) error
}

// UsagePublisher receives an event for every successful debit.
type UsagePublisher interface {
	PublishAsync(event usage.Event)
}

// QuotaService owns users, their quotas and the system-key gate.
type QuotaService struct {
	store     repository.Store
	keys      SystemKeyCache
	publisher UsagePublisher
	usage     UsageReader
	metrics   metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewQuotaService creates a new QuotaService. keys and publisher are optional.
func NewQuotaService(store repository.Store, keys SystemKeyCache, publisher UsagePublisher, recorder metrics.Recorder, logger *slog.Logger) *QuotaService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QuotaService{
		store:     store,
		keys:      keys,
		publisher: publisher,
		metrics:   recorder,
		logger:    logger.With("component", "service.quota"),
		now:       time.Now,
	}
}

// ============================================================================
// System key
// ============================================================================

// EnsureSystemKey provisions the system key if absent and returns the stored
// value. created reports whether this call generated it. Concurrent callers
// converge on the same value.
func (s *QuotaService) EnsureSystemKey(ctx context.Context) (key string, created bool, err error) {
	key, err = s.store.GetConfigValue(ctx, model.SystemKeyName)
	if err == nil {
		s.cacheSystemKey(ctx, key)
		return key, false, nil
	}
	if !errors.Is(err, repository.ErrConfigNotFound) {
		return "", false, fmt.Errorf("failed to read system key: %w", err)
	}

	candidate, err := auth.GenerateToken()
	if err != nil {
		return "", false, err
	}

	created, err = s.store.InsertConfigIfAbsent(ctx, model.SystemKeyName, candidate)
	if err != nil {
		return "", false, fmt.Errorf("failed to store system key: %w", err)
	}

	// Re-read: a concurrent starter may have won the insert.
	key, err = s.store.GetConfigValue(ctx, model.SystemKeyName)
	if err != nil {
		return "", false, fmt.Errorf("failed to read system key: %w", err)
	}

	s.cacheSystemKey(ctx, key)
	return key, created, nil
}

// SystemKey returns the stored system key, or ErrSystemKeyNotFound.
func (s *QuotaService) SystemKey(ctx context.Context) (string, error) {
	if s.keys != nil {
		if key, err := s.keys.GetSystemKey(ctx); err == nil && key != "" {
			return key, nil
		}
	}

	key, err := s.store.GetConfigValue(ctx, model.SystemKeyName)
	if err != nil {
		if errors.Is(err, repository.ErrConfigNotFound) {
			return "", ErrSystemKeyNotFound
		}
		return "", fmt.Errorf("failed to read system key: %w", err)
	}

	s.cacheSystemKey(ctx, key)
	return key, nil
}

func (s *QuotaService) cacheSystemKey(ctx context.Context, key string) {
	if s.keys == nil {
		return
	}
	if err := s.keys.SetSystemKey(ctx, key); err != nil {
		s.logger.Warn("failed to cache system key", "error", err)
	}
}

// authorize gates administrative mutations on the shared system key.
func (s *QuotaService) authorize(ctx context.Context, supplied string) error {
	if supplied == "" {
		return ErrSystemKeyRequired
	}

	stored, err := s.SystemKey(ctx)
	if err != nil && !errors.Is(err, ErrSystemKeyNotFound) {
		return err
	}

	if err := auth.CheckSystemKey(stored, supplied); err != nil {
		s.metrics.IncAuthFailure("system_key")
		if errors.Is(err, auth.ErrSystemKeyMissing) {
			s.logger.Warn("system key not provisioned, rejecting mutation")
		}
		return ErrUnauthorized
	}

	return nil
}

// ============================================================================
// Users
// ============================================================================

// RegisterInput defines input for registering a user.
type RegisterInput struct {
	Username  string
	Email     string
	SystemKey string
	// MonthlyLimit falls back to the default when not positive.
	MonthlyLimit int64
}

// RegisterUser creates a user and issues its private key.
func (s *QuotaService) RegisterUser(ctx context.Context, input RegisterInput) (*model.User, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)
	if username == "" || email == "" || input.SystemKey == "" {
		return nil, ErrRegistrationFieldsRequired
	}

	if err := s.authorize(ctx, input.SystemKey); err != nil {
		return nil, err
	}

	privateKey, err := auth.GenerateToken()
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PrivateKey:   privateKey,
		MonthlyLimit: model.NormalizeMonthlyLimit(input.MonthlyLimit),
		RequestsUsed: 0,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.IncUserRegistered()
	return user, nil
}

// GetUser returns a user by ID.
func (s *QuotaService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers returns all users, newest first. Never nil.
func (s *QuotaService) ListUsers(ctx context.Context) ([]*model.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

// UpdateLimit sets a user's monthly limit. It does not touch requests_used,
// so lowering a limit below current usage is allowed.
func (s *QuotaService) UpdateLimit(ctx context.Context, id, limit int64, systemKey string) error {
	if systemKey == "" {
		return ErrSystemKeyRequired
	}
	if limit <= 0 {
		return ErrInvalidLimit
	}
	if err := s.authorize(ctx, systemKey); err != nil {
		return err
	}

	if err := s.store.UpdateMonthlyLimit(ctx, id, limit); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to update limit: %w", err)
	}

	s.metrics.IncLimitUpdated()
	return nil
}

// DeleteUser permanently removes a user.
func (s *QuotaService) DeleteUser(ctx context.Context, id int64, systemKey string) error {
	if err := s.authorize(ctx, systemKey); err != nil {
		return err
	}

	if err := s.store.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.metrics.IncUserDeleted()
	return nil
}

// ============================================================================
// Tokens and quota
// ============================================================================

// TokenStatus is the result of a token validation.
type TokenStatus struct {
	User *model.User
	// SystemKey is empty when none is provisioned.
	SystemKey string
}

// ValidateToken looks up the user holding token. No side effects.
func (s *QuotaService) ValidateToken(ctx context.Context, token string) (*TokenStatus, error) {
	user, err := s.userByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	key, err := s.SystemKey(ctx)
	if err != nil && !errors.Is(err, ErrSystemKeyNotFound) {
		return nil, err
	}

	return &TokenStatus{User: user, SystemKey: key}, nil
}

// ConsumeRequest debits one request from the user holding token and returns
// the post-increment state. The debit is a single conditional update, so
// concurrent calls never push requests_used past monthly_limit.
func (s *QuotaService) ConsumeRequest(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, ErrTokenRequired
	}

	// Wall-clock timing; s.now may be a fixed test clock.
	start := time.Now()
	defer func() { s.metrics.ObserveConsumeDuration(time.Since(start)) }()

	user, err := s.store.ConsumeRequest(ctx, token)
	if err == nil {
		s.metrics.IncRequestConsumed()
		if s.publisher != nil {
			s.publisher.PublishAsync(usage.NewEvent(user, s.now()))
		}
		return user, nil
	}
	if !errors.Is(err, repository.ErrQuotaExhausted) {
		return nil, fmt.Errorf("failed to consume request: %w", err)
	}

	// Nothing was updated: either the token is unknown or the quota is spent.
	current, err := s.userByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	s.metrics.IncQuotaExhausted()
	return nil, &QuotaExhaustedError{
		MonthlyLimit: current.MonthlyLimit,
		RequestsUsed: current.RequestsUsed,
	}
}

func (s *QuotaService) userByToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, ErrTokenRequired
	}

	user, err := s.store.GetUserByPrivateKey(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.metrics.IncAuthFailure("token")
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	return user, nil
}

// ============================================================================
// Dashboard
// ============================================================================

// Dashboard returns the user count and total requests consumed.
func (s *QuotaService) Dashboard(ctx context.Context) (*model.UsageTotals, error) {
	totals, err := s.store.UsageTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dashboard: %w", err)
	}
	return totals, nil
}

// ============================================================================
// Monthly usage
// ============================================================================

// UsageReader reads per-user request counts rolled up from usage events.
type UsageReader interface {
	MonthlyUsage(ctx context.Context, month time.Time) (map[int64]int64, error)
}

// SetUsageReader enables MonthlyUsage. Without a reader it returns
// ErrUsageUnavailable.
func (s *QuotaService) SetUsageReader(reader UsageReader) {
	s.usage = reader
}

// UserUsage is one user's request count for a month.
type UserUsage struct {
	UserID   int64
	Requests int64
}

// MonthlyUsageReport lists per-user counts for one month, ordered by user ID.
type MonthlyUsageReport struct {
	Month time.Time
	Total int64
	Users []UserUsage
}

// MonthlyUsage reports rolled-up usage for month, formatted YYYY-MM. An
// empty month means the current one (UTC).
func (s *QuotaService) MonthlyUsage(ctx context.Context, month string) (*MonthlyUsageReport, error) {
	if s.usage == nil {
		return nil, ErrUsageUnavailable
	}

	var start time.Time
	if month == "" {
		now := s.now().UTC()
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01", month)
		if err != nil {
			return nil, ErrInvalidMonth
		}
		start = parsed
	}

	counts, err := s.usage.MonthlyUsage(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to read monthly usage: %w", err)
	}

	report := &MonthlyUsageReport{Month: start, Users: make([]UserUsage, 0, len(counts))}
	for uid, n := range counts {
		report.Users = append(report.Users, UserUsage{UserID: uid, Requests: n})
		report.Total += n
	}
	sort.Slice(report.Users, func(i, j int) bool {
		return report.Users[i].UserID < report.Users[j].UserID
	})
	return report, nil
}
