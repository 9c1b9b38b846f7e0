// Package models defines the records the server persists.
package models

import "time"

// User is a vault owner. MasterPasswordHash is a bcrypt hash; TOTPSecret is
// generated when two-factor login is switched on.
type User struct {
	ID                 string
	Username           string
	Email              string
	FullName           string
	Phone              string
	MasterPasswordHash string
	EmailVerified      bool
	PendingEmail       string
	TOTPSecret         string
	TwoFactorEnabled   bool
	AccountLocked      bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SecurityQuestion is one recovery question. Answers are stored hashed after
// lower-casing and trimming; Position keeps the order they were set in.
type SecurityQuestion struct {
	ID           string
	UserID       string
	Position     int
	QuestionText string
	AnswerHash   string
	CreatedAt    time.Time
}
