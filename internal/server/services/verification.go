package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/revpass/passkeeper/internal/common"
	"github.com/revpass/passkeeper/internal/logging"
	"github.com/revpass/passkeeper/internal/mailer"
	"github.com/revpass/passkeeper/internal/server/models"
	"github.com/revpass/passkeeper/internal/server/repositories/repomanager"
)

const codeDigits = 6

type codeMail struct {
	subject string
	action  string
}

var codeMails = map[models.Purpose]codeMail{
	models.PurposeRegistration: {"Verify Your Email", "verify your email address"},
	models.PurposeLogin2FA:     {"Your 2FA Code", "complete your login"},
	models.PurposeEmailChange:  {"Confirm New Email", "confirm your new email address"},
}

func mailFor(p models.Purpose) codeMail {
	if m, ok := codeMails[p]; ok {
		return m
	}
	return codeMail{"Verification Code", "continue"}
}

// VerificationService issues and checks 6-digit one-time codes.
//
// A code is delivered by email through the mail queue; issuing succeeds once
// the code is stored, whatever happens to delivery.
type VerificationService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	mail        MailQueue
	logger      logging.Logger
	ttl         time.Duration
	now         func() time.Time
}

func NewVerificationService(db *sql.DB, m repomanager.RepositoryManager, mail MailQueue, logger logging.Logger, ttl time.Duration) *VerificationService {
	return &VerificationService{
		db:          db,
		repomanager: m,
		mail:        mail,
		logger:      logger.With("module", "verification"),
		ttl:         ttl,
		now:         time.Now,
	}
}

// TTL is how long an issued code stays valid.
func (s *VerificationService) TTL() time.Duration { return s.ttl }

// Issue stores a fresh code for (user, purpose) and emails it. Email-change
// codes go to the pending address when one is set. Older unused codes for the
// same purpose stay in the table but are no longer reachable by Validate.
func (s *VerificationService) Issue(ctx context.Context, user *models.User, purpose models.Purpose) (string, error) {
	if !purpose.Valid() {
		return "", common.ErrInvalidPurpose
	}

	repo := s.repomanager.OneTimeCodes(s.db)
	now := s.now().UTC()

	if _, err := repo.DeleteExpiredOrUsed(ctx, now); err != nil {
		return "", fmt.Errorf("error cleaning up codes: %w", err)
	}

	code, err := common.MakeNumericCode(codeDigits)
	if err != nil {
		return "", fmt.Errorf("error generating code: %w", err)
	}

	otp := &models.OneTimeCode{
		UserID:    user.ID,
		Code:      code,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := repo.Save(ctx, otp); err != nil {
		return "", fmt.Errorf("error saving code: %w", err)
	}

	to := user.Email
	if purpose == models.PurposeEmailChange && user.PendingEmail != "" {
		to = user.PendingEmail
	}
	s.send(ctx, to, displayName(user), purpose, code)

	s.logger.Info(ctx, "code issued", "user_id", user.ID, "purpose", purpose)
	return code, nil
}

// IssueForUnregisteredEmail emails a registration code to an address that
// has no account yet. Nothing is stored; the caller keeps the code and its
// expiry with the pending registration.
func (s *VerificationService) IssueForUnregisteredEmail(ctx context.Context, email, name string) (string, time.Time, error) {
	code, err := common.MakeNumericCode(codeDigits)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error generating code: %w", err)
	}
	expires := s.now().UTC().Add(s.ttl)

	s.send(ctx, email, name, models.PurposeRegistration, code)
	return code, expires, nil
}

// Validate reports whether code matches the latest unused, unexpired code
// for (userID, purpose), and consumes it on success. A second call with the
// same code returns false.
func (s *VerificationService) Validate(ctx context.Context, userID, code string, purpose models.Purpose) (bool, error) {
	if !purpose.Valid() {
		return false, common.ErrInvalidPurpose
	}

	repo := s.repomanager.OneTimeCodes(s.db)

	otp, err := repo.FindLatestUnused(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("error searching code: %w", err)
	}

	if !otp.IsValid(s.now()) || !codesEqual(otp.Code, code) {
		return false, nil
	}

	if err := repo.MarkUsed(ctx, otp.ID); err != nil {
		// lost a race with a concurrent Validate
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("error consuming code: %w", err)
	}
	return true, nil
}

// Cleanup removes used and expired codes and returns how many went away.
func (s *VerificationService) Cleanup(ctx context.Context) (int64, error) {
	n, err := s.repomanager.OneTimeCodes(s.db).DeleteExpiredOrUsed(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("error cleaning up codes: %w", err)
	}
	return n, nil
}

func (s *VerificationService) send(ctx context.Context, to, name string, purpose models.Purpose, code string) {
	m := mailFor(purpose)

	body, err := mailer.RenderCode(mailer.CodeEmail{
		Subject:          m.subject,
		Name:             name,
		Action:           m.action,
		Code:             code,
		ExpiresInMinutes: int(s.ttl.Minutes()),
	})
	if err != nil {
		s.logger.Error(ctx, "render code email", "purpose", purpose, "error", err)
		return
	}

	err = s.mail.Enqueue(ctx, mailer.Message{
		To:       to,
		Subject:  m.subject,
		HTMLBody: body,
		Tag:      string(purpose),
	})
	if err != nil {
		s.logger.Warn(ctx, "code email not queued", "purpose", purpose, "error", err)
	}
}

func codesEqual(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func displayName(u *models.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}
