package models

import (
	"fmt"
	"time"
)

// Purpose scopes a one-time code to the flow that issued it.
type Purpose string

const (
	PurposeRegistration Purpose = "REGISTRATION"
	PurposeLogin2FA     Purpose = "LOGIN_2FA"
	PurposeEmailChange  Purpose = "EMAIL_CHANGE"
)

// Valid reports whether p is one of the known purposes.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeRegistration, PurposeLogin2FA, PurposeEmailChange:
		return true
	}
	return false
}

// ParsePurpose converts a stored value back to a Purpose.
func ParsePurpose(s string) (Purpose, error) {
	p := Purpose(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown purpose %q", s)
	}
	return p, nil
}

// OneTimeCode is a 6-digit step-up code. It is issued, then either consumed
// once or left to expire.
type OneTimeCode struct {
	ID        string
	UserID    string
	Code      string
	Purpose   Purpose
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// IsValid reports whether the code can still be consumed at now.
func (c *OneTimeCode) IsValid(now time.Time) bool {
	return !c.Used && now.Before(c.ExpiresAt)
}
