package service

import "errors"

// ErrValidation matches every ValidationError.
var ErrValidation = errors.New("validation error")

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validation errors.
var (
	ErrRegistrationFieldsRequired = &ValidationError{"username, email and system_key are required"}
	ErrSystemKeyRequired          = &ValidationError{"system_key is required"}
	ErrTokenRequired              = &ValidationError{"user_token is required"}
	ErrInvalidLimit               = &ValidationError{"monthly_limit must be a positive integer"}
	ErrInvalidUserID              = &ValidationError{"invalid user id"}
	ErrInvalidMonth               = &ValidationError{"month must be formatted as YYYY-MM"}
)

// Service errors.
var (
	ErrUnauthorized      = errors.New("invalid system key")
	ErrInvalidToken      = errors.New("invalid token")
	ErrUserNotFound      = errors.New("user not found")
	ErrConflict          = errors.New("username or email already exists")
	ErrQuotaExhausted    = errors.New("monthly request limit exhausted")
	ErrSystemKeyNotFound = errors.New("system key not found")
	ErrUsageUnavailable  = errors.New("usage roll-up is not enabled")
)

// QuotaExhaustedError carries the usage snapshot of a user whose quota is
// spent. It matches ErrQuotaExhausted.
type QuotaExhaustedError struct {
	MonthlyLimit int64
	RequestsUsed int64
}

func (e *QuotaExhaustedError) Error() string { return ErrQuotaExhausted.Error() }

// Is lets errors.Is(err, ErrQuotaExhausted) match.
func (e *QuotaExhaustedError) Is(target error) bool { return target == ErrQuotaExhausted }
