package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/revpass/passkeeper/internal/common"
	"github.com/revpass/passkeeper/internal/cryptox"
	"github.com/revpass/passkeeper/internal/logging"
	"github.com/revpass/passkeeper/internal/server/models"
	"github.com/revpass/passkeeper/internal/server/repositories/repomanager"
)

// RecoveryService implements the forgot-password path: the user proves
// identity by answering their security questions and then sets a new
// master password without knowing the old one.
type RecoveryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      cryptox.Hasher
	logger      logging.Logger
}

func NewRecoveryService(db *sql.DB, m repomanager.RepositoryManager, hasher cryptox.Hasher, logger logging.Logger) *RecoveryService {
	return &RecoveryService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		logger:      logger.With("module", "recovery"),
	}
}

// GetQuestions returns the question texts of the account, in answer order.
// Answer hashes are not included.
func (s *RecoveryService) GetQuestions(ctx context.Context, usernameOrEmail string) (*models.User, []*models.SecurityQuestion, error) {
	user, err := s.findUser(ctx, usernameOrEmail)
	if err != nil {
		return nil, nil, err
	}

	qs, err := s.repomanager.Questions(s.db).FindByUser(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading questions: %w", err)
	}
	if len(qs) == 0 {
		return nil, nil, common.ErrNoQuestionsConfigured
	}

	out := make([]*models.SecurityQuestion, len(qs))
	for i, q := range qs {
		out[i] = &models.SecurityQuestion{ID: q.ID, UserID: q.UserID, Position: q.Position, QuestionText: q.QuestionText}
	}
	return user, out, nil
}

// ValidateAnswers checks answers positionally against the stored hashes.
// A different number of answers than questions is a mismatch.
func (s *RecoveryService) ValidateAnswers(ctx context.Context, userID string, answers []string) (bool, error) {
	qs, err := s.repomanager.Questions(s.db).FindByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("error loading questions: %w", err)
	}
	if len(qs) != len(answers) {
		return false, nil
	}

	for i, q := range qs {
		if !s.hasher.Verify(q.AnswerHash, normalizeAnswer(answers[i])) {
			return false, nil
		}
	}
	return true, nil
}

// ResetPassword sets a new master password for the account.
func (s *RecoveryService) ResetPassword(ctx context.Context, usernameOrEmail, newPassword string) error {
	if passwordTooShort(newPassword) {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, minMasterPasswordLength)
	}

	user, err := s.findUser(ctx, usernameOrEmail)
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}
	user.MasterPasswordHash = hash

	if err := s.repomanager.Users(s.db).Update(ctx, user); err != nil {
		return fmt.Errorf("error updating user: %w", err)
	}

	s.logger.Info(ctx, "master password reset", "user_id", user.ID)
	return nil
}

// Recover validates answers and, if they all match, resets the password.
// Wrong answers yield common.ErrInvalidCredentials.
func (s *RecoveryService) Recover(ctx context.Context, usernameOrEmail string, answers []string, newPassword string) error {
	if passwordTooShort(newPassword) {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, minMasterPasswordLength)
	}

	user, _, err := s.GetQuestions(ctx, usernameOrEmail)
	if err != nil {
		return err
	}

	ok, err := s.ValidateAnswers(ctx, user.ID, answers)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn(ctx, "recovery answers rejected", "user_id", user.ID)
		return common.ErrInvalidCredentials
	}

	return s.ResetPassword(ctx, usernameOrEmail, newPassword)
}

func (s *RecoveryService) findUser(ctx context.Context, usernameOrEmail string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).FindByUsernameOrEmail(ctx, usernameOrEmail)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrAccountNotFound
		}
		return nil, fmt.Errorf("error searching user: %w", err)
	}
	return user, nil
}
