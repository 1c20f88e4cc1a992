// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/keymeter/keymeter/internal/model"
)

// RegisterUserRequest represents the request body for registering a user.
type RegisterUserRequest struct {
	Username     string          `json:"username"`
	Email        string          `json:"email"`
	SystemKey    string          `json:"system_key"`
	MonthlyLimit json.RawMessage `json:"monthly_limit,omitempty"`
}

// UpdateLimitRequest represents the request body for changing a limit.
type UpdateLimitRequest struct {
	MonthlyLimit json.RawMessage `json:"monthly_limit"`
	SystemKey    string          `json:"system_key"`
}

// SystemKeyRequest carries only the system key (user deletion).
type SystemKeyRequest struct {
	SystemKey string `json:"system_key"`
}

// TokenRequest carries a user's private key.
type TokenRequest struct {
	UserToken string `json:"user_token"`
}

// ParseLimit interprets a monthly_limit field. ok is false when the field is
// absent, null, or not a positive integer. Integer strings such as "25" are
// accepted since HTML forms submit them that way.
func ParseLimit(raw json.RawMessage) (limit int64, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false
		}
		text = strings.TrimSpace(text)
	} else {
		text = string(raw)
	}

	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID                int64     `json:"id"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	PrivateKey        string    `json:"private_key"`
	MonthlyLimit      int64     `json:"monthly_limit"`
	RequestsUsed      int64     `json:"requests_used"`
	RemainingRequests int64     `json:"remaining_requests"`
	CreatedAt         time.Time `json:"created_at"`
}

// ToUserResponse converts a model.User to UserResponse.
func ToUserResponse(user *model.User) UserResponse {
	return UserResponse{
		ID:                user.ID,
		Username:          user.Username,
		Email:             user.Email,
		PrivateKey:        user.PrivateKey,
		MonthlyLimit:      user.MonthlyLimit,
		RequestsUsed:      user.RequestsUsed,
		RemainingRequests: user.Remaining(),
		CreatedAt:         user.CreatedAt,
	}
}

// ToUserListResponse converts users to responses. Never nil.
func ToUserListResponse(users []*model.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, ToUserResponse(u))
	}
	return out
}

// RegisterUserResponse is returned after a successful registration.
type RegisterUserResponse struct {
	Message    string `json:"message"`
	UserID     int64  `json:"user_id"`
	PrivateKey string `json:"private_key"`
}

// ValidateTokenResponse is returned for a known token.
type ValidateTokenResponse struct {
	Valid             bool   `json:"valid"`
	UserID            int64  `json:"user_id"`
	Username          string `json:"username"`
	MonthlyLimit      int64  `json:"monthly_limit"`
	RequestsUsed      int64  `json:"requests_used"`
	RemainingRequests int64  `json:"remaining_requests"`
	SystemKey         string `json:"system_key"`
	Message           string `json:"message"`
}

// ConsumeResponse is returned after a successful debit.
type ConsumeResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	UserID            int64  `json:"user_id"`
	Username          string `json:"username"`
	MonthlyLimit      int64  `json:"monthly_limit"`
	RequestsUsed      int64  `json:"requests_used"`
	RemainingRequests int64  `json:"remaining_requests"`
}

// QuotaExhaustedResponse is the 429 body.
type QuotaExhaustedResponse struct {
	Error             string `json:"error"`
	MonthlyLimit      int64  `json:"monthly_limit"`
	RequestsUsed      int64  `json:"requests_used"`
	RemainingRequests int64  `json:"remaining_requests"`
}

// UpdateLimitResponse is returned after a limit change.
type UpdateLimitResponse struct {
	Message      string `json:"message"`
	MonthlyLimit int64  `json:"monthly_limit"`
}

// MessageResponse carries a single message.
type MessageResponse struct {
	Message string `json:"message"`
}

// StatusResponse is the /api/health body.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SystemKeyResponse is the /api/system/key body.
type SystemKeyResponse struct {
	SystemKey string `json:"system_key"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
