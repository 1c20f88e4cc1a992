// Package model defines domain entities for the application.
package model

import "time"

// DefaultMonthlyLimit is applied when a registration omits or
// supplies an unusable monthly limit.
const DefaultMonthlyLimit = 1000

// User is an API consumer holding a bearer token and a request quota.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PrivateKey   string    `json:"private_key"`
	MonthlyLimit int64     `json:"monthly_limit"`
	RequestsUsed int64     `json:"requests_used"`
	CreatedAt    time.Time `json:"created_at"`
}

// Remaining returns monthly_limit - requests_used.
// The result is negative when a limit was lowered below current usage.
func (u *User) Remaining() int64 {
	return u.MonthlyLimit - u.RequestsUsed
}

// Exhausted reports whether no further request may be consumed.
func (u *User) Exhausted() bool {
	return u.Remaining() <= 0
}

// NormalizeMonthlyLimit returns limit when it is a positive value,
// otherwise DefaultMonthlyLimit.
func NormalizeMonthlyLimit(limit int64) int64 {
	if limit <= 0 {
		return DefaultMonthlyLimit
	}
	return limit
}

// UsageTotals is the dashboard aggregate over all users.
type UsageTotals struct {
	TotalUsers    int64 `json:"total_users"`
	TotalRequests int64 `json:"total_requests"`
}
