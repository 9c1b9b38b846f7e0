// Package common defines shared constants and sentinel errors used across
// the vault server and CLI. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// ErrValidation marks caller input that violates a precondition
	// (short password, mismatched confirmation, taken username...).
	ErrValidation = errors.New("validation error")

	// ErrInvalidCredentials is returned when a master password, answer set or
	// one-time code does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrDecryption is returned for malformed or tampered ciphertext.
	ErrDecryption = errors.New("decryption failed")

	// Recovery errors. They wrap the generic kinds so callers matching on
	// ErrInvalidCredentials / ErrValidation still see them.
	ErrAccountNotFound       = fmt.Errorf("account not found: %w", ErrInvalidCredentials)
	ErrNoQuestionsConfigured = fmt.Errorf("no security questions configured: %w", ErrValidation)

	// ErrInvalidPurpose is returned for a verification purpose outside the closed set.
	ErrInvalidPurpose = fmt.Errorf("invalid verification purpose: %w", ErrValidation)

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrSessionNotFound is returned when a pending registration or pending
	// 2FA marker is absent or has expired.
	ErrSessionNotFound = errors.New("session not found")
)
