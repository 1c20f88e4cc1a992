// Package auth provides credential generation and the shared-secret check.
package auth

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrSystemKeyMissing indicates no system key has been provisioned.
	ErrSystemKeyMissing = errors.New("system key not provisioned")
	// ErrSystemKeyMismatch indicates the supplied system key is wrong.
	ErrSystemKeyMismatch = errors.New("system key mismatch")
)

// GenerateToken returns a new random credential: a version 4 UUID
// (122 random bits) in canonical 36-character form. Used for both
// the system key and user private keys.
func GenerateToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return id.String(), nil
}

// ValidateTokenFormat checks if the token looks like one GenerateToken produced.
func ValidateTokenFormat(token string) bool {
	if len(token) != 36 {
		return false
	}
	_, err := uuid.Parse(token)
	return err == nil
}

// CheckSystemKey compares a supplied key against the stored one.
// Comparison is exact string equality.
func CheckSystemKey(stored, supplied string) error {
	if stored == "" {
		return ErrSystemKeyMissing
	}
	if stored != supplied {
		return ErrSystemKeyMismatch
	}
	return nil
}
