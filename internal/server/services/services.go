// Package services contains server-side business logic: account lifecycle,
// one-time-code verification, recovery, the vault and its security audit.
//
// Services take explicit user ids; there is no ambient "current user".
package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/revpass/passkeeper/internal/mailer"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// SecretCipher encrypts vault secrets at rest.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// MailQueue accepts messages for background delivery.
type MailQueue interface {
	Enqueue(ctx context.Context, msg mailer.Message) error
}

const minMasterPasswordLength = 8

// passwordTooShort counts characters, not bytes.
func passwordTooShort(pw string) bool {
	return utf8.RuneCountInString(pw) < minMasterPasswordLength
}

// normalizeAnswer is applied to security answers before hashing and before
// comparison, so "  Fluffy" and "fluffy" match.
func normalizeAnswer(a string) string {
	// a Caser is stateful, so one per call
	return cases.Lower(language.Und).String(strings.TrimSpace(a))
}
