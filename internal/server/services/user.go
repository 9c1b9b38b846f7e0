package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/revpass/passkeeper/internal/common"
	"github.com/revpass/passkeeper/internal/cryptox"
	"github.com/revpass/passkeeper/internal/dbx"
	"github.com/revpass/passkeeper/internal/logging"
	"github.com/revpass/passkeeper/internal/server/auth"
	"github.com/revpass/passkeeper/internal/server/config"
	"github.com/revpass/passkeeper/internal/server/models"
	"github.com/revpass/passkeeper/internal/server/repositories/repomanager"
	"github.com/revpass/passkeeper/internal/server/sessions"
)

const (
	minSecurityQuestions = 3
	totpIssuer           = "passkeeper"

	registrationKeyPrefix = "registration:"
	twoFactorKeyPrefix    = "login2fa:"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult carries either tokens or, for 2FA accounts, the id of the
// pending login to pass to CompleteTwoFactor.
type LoginResult struct {
	Tokens           *TokenPair
	TwoFactorPending string
}

type QuestionInput struct {
	Question string
	Answer   string
}

type RegistrationRequest struct {
	Username        string
	Email           string
	FullName        string
	Phone           string
	MasterPassword  string
	ConfirmPassword string
	Questions       []QuestionInput
}

// ProfileUpdate replaces name and phone. A new Email is not applied until it
// is confirmed with the code sent to it.
type ProfileUpdate struct {
	FullName string
	Phone    string
	Email    string
}

// pendingRegistration is kept in the session store until the emailed code
// is confirmed. Only hashes are stored.
type pendingRegistration struct {
	Username     string            `json:"username"`
	Email        string            `json:"email"`
	FullName     string            `json:"full_name"`
	Phone        string            `json:"phone"`
	PasswordHash string            `json:"password_hash"`
	Questions    []pendingQuestion `json:"questions"`
	Code         string            `json:"code"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

type pendingQuestion struct {
	Text       string `json:"text"`
	AnswerHash string `json:"answer_hash"`
}

type pendingLogin struct {
	UserID string `json:"user_id"`
}

// UserService covers the account lifecycle: registration with email
// verification, login with optional 2FA, token refresh and profile,
// password, question and account management.
type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	verification                 *VerificationService
	sessions                     sessions.Store
	hasher                       cryptox.Hasher
	logger                       logging.Logger
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	now                          func() time.Time
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(
	db *sql.DB,
	m repomanager.RepositoryManager,
	verification *VerificationService,
	store sessions.Store,
	hasher cryptox.Hasher,
	logger logging.Logger,
	cfg *config.Config,
) *UserService {
	return &UserService{
		db:                           db,
		repomanager:                  m,
		verification:                 verification,
		sessions:                     store,
		hasher:                       hasher,
		logger:                       logger.With("module", "users"),
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		now:                          time.Now,
	}
}

// ValidateRegistration checks a registration request without side effects.
func (s *UserService) ValidateRegistration(ctx context.Context, req RegistrationRequest) error {
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Email) == "" {
		return fmt.Errorf("%w: username and email are required", common.ErrValidation)
	}
	if req.MasterPassword != req.ConfirmPassword {
		return fmt.Errorf("%w: passwords do not match", common.ErrValidation)
	}
	if passwordTooShort(req.MasterPassword) {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, minMasterPasswordLength)
	}
	if err := validateQuestions(req.Questions); err != nil {
		return err
	}

	repo := s.repomanager.Users(s.db)

	exists, err := repo.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return fmt.Errorf("error checking username: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: username already exists", common.ErrValidation)
	}

	exists, err = repo.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return fmt.Errorf("error checking email: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: email already exists", common.ErrValidation)
	}
	return nil
}

// BeginRegistration validates req, emails a registration code and parks the
// request until CompleteRegistration. It returns the pending registration id.
func (s *UserService) BeginRegistration(ctx context.Context, req RegistrationRequest) (string, error) {
	if err := s.ValidateRegistration(ctx, req); err != nil {
		return "", err
	}

	hash, err := s.hasher.Hash(req.MasterPassword)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	questions, err := s.hashQuestions(req.Questions)
	if err != nil {
		return "", err
	}

	code, expires, err := s.verification.IssueForUnregisteredEmail(ctx, req.Email, req.FullName)
	if err != nil {
		return "", err
	}

	pending := pendingRegistration{
		Username:     strings.TrimSpace(req.Username),
		Email:        strings.TrimSpace(req.Email),
		FullName:     req.FullName,
		Phone:        req.Phone,
		PasswordHash: hash,
		Questions:    questions,
		Code:         code,
		ExpiresAt:    expires,
	}

	id := sessions.NewID()
	if err := s.sessions.Put(ctx, registrationKeyPrefix+id, pending, s.verification.TTL()); err != nil {
		return "", fmt.Errorf("error storing pending registration: %w", err)
	}
	return id, nil
}

// CompleteRegistration creates the verified account once the emailed code
// matches. A wrong code leaves the pending registration in place.
func (s *UserService) CompleteRegistration(ctx context.Context, pendingID, code string) (*models.User, error) {
	key := registrationKeyPrefix + pendingID

	var pending pendingRegistration
	if err := s.sessions.Get(ctx, key, &pending); err != nil {
		return nil, err
	}
	if !s.now().Before(pending.ExpiresAt) {
		_ = s.sessions.Delete(ctx, key)
		return nil, common.ErrSessionNotFound
	}
	if !codesEqual(pending.Code, code) {
		return nil, common.ErrInvalidCredentials
	}

	user := &models.User{
		Username:           pending.Username,
		Email:              pending.Email,
		FullName:           pending.FullName,
		Phone:              pending.Phone,
		MasterPasswordHash: pending.PasswordHash,
		EmailVerified:      true,
	}

	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)

		// someone may have taken the name while the code was in flight
		if taken, err := users.ExistsByUsername(ctx, user.Username); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("%w: username already exists", common.ErrValidation)
		}
		if taken, err := users.ExistsByEmail(ctx, user.Email); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("%w: email already exists", common.ErrValidation)
		}

		created, err := users.Create(ctx, user)
		if err != nil {
			return fmt.Errorf("error creating user: %w", err)
		}
		user = created

		qs := make([]*models.SecurityQuestion, len(pending.Questions))
		for i, q := range pending.Questions {
			qs[i] = &models.SecurityQuestion{QuestionText: q.Text, AnswerHash: q.AnswerHash}
		}
		return s.repomanager.Questions(tx).ReplaceAll(ctx, user.ID, qs)
	}); err != nil {
		return nil, err
	}

	if err := s.sessions.Delete(ctx, key); err != nil {
		s.logger.Warn(ctx, "pending registration not removed", "error", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// Login verifies credentials. Accounts with 2FA get a pending login id and a
// LOGIN_2FA code by email instead of tokens.
func (s *UserService) Login(ctx context.Context, usernameOrEmail, password string) (*LoginResult, error) {
	repo := s.repomanager.Users(s.db)
	user, err := repo.FindByUsernameOrEmail(ctx, usernameOrEmail)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, common.ErrorInternal
	}
	if !s.hasher.Verify(user.MasterPasswordHash, password) {
		s.logger.Warn(ctx, "login failed", "user_id", user.ID)
		return nil, common.ErrInvalidCredentials
	}
	if user.AccountLocked {
		return nil, common.ErrorUnauthorized
	}

	if user.TwoFactorEnabled {
		if _, err := s.verification.Issue(ctx, user, models.PurposeLogin2FA); err != nil {
			return nil, err
		}
		id := sessions.NewID()
		if err := s.sessions.Put(ctx, twoFactorKeyPrefix+id, pendingLogin{UserID: user.ID}, s.verification.TTL()); err != nil {
			return nil, fmt.Errorf("error storing pending login: %w", err)
		}
		return &LoginResult{TwoFactorPending: id}, nil
	}

	pair, err := s.generateTokenPair(ctx, user.ID, s.db)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Tokens: pair}, nil
}

// CompleteTwoFactor finishes a pending 2FA login with the emailed code.
func (s *UserService) CompleteTwoFactor(ctx context.Context, pendingID, code string) (*TokenPair, error) {
	key := twoFactorKeyPrefix + pendingID

	var pending pendingLogin
	if err := s.sessions.Get(ctx, key, &pending); err != nil {
		return nil, err
	}

	ok, err := s.verification.Validate(ctx, pending.UserID, code, models.PurposeLogin2FA)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrInvalidCredentials
	}

	// consume the marker; a concurrent completion already holding it loses here
	if err := s.sessions.Take(ctx, key, &pending); err != nil {
		return nil, err
	}
	return s.generateTokenPair(ctx, pending.UserID, s.db)
}

// RefreshToken exchanges a refresh token for a fresh TokenPair. The old token
// is consumed in the same transaction that stores the new one. Expired tokens
// yield ErrRefreshTokenExpired and are left for housekeeping.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		token, err := s.repomanager.RefreshTokens(tx).Consume(ctx, refreshToken)
		if err != nil {
			return fmt.Errorf("error searching refresh token: %w", err)
		}
		if token.Expired(s.now()) {
			return common.ErrRefreshTokenExpired
		}
		pair, err = s.generateTokenPair(ctx, token.UserID, tx)
		return err
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// CleanupRefreshTokens deletes expired refresh tokens.
func (s *UserService) CleanupRefreshTokens(ctx context.Context) (int64, error) {
	return s.repomanager.RefreshTokens(s.db).DeleteExpired(ctx, s.now().UTC())
}

func (s *UserService) GetProfile(ctx context.Context, userID string) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByID(ctx, userID)
}

// VerifyMasterPassword re-authenticates the user for a sensitive operation.
func (s *UserService) VerifyMasterPassword(ctx context.Context, userID, password string) (bool, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.hasher.Verify(user.MasterPasswordHash, password), nil
}

func (s *UserService) ChangeMasterPassword(ctx context.Context, userID, current, newPassword, confirm string) error {
	user, err := s.requireMasterPassword(ctx, userID, current)
	if err != nil {
		return err
	}
	if newPassword != confirm {
		return fmt.Errorf("%w: passwords do not match", common.ErrValidation)
	}
	if passwordTooShort(newPassword) {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, minMasterPasswordLength)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}
	user.MasterPasswordHash = hash

	var revoked int64
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).Update(ctx, user); err != nil {
			return fmt.Errorf("error updating user: %w", err)
		}
		// other sessions must log in again with the new password
		n, err := s.repomanager.RefreshTokens(tx).RevokeAll(ctx, userID)
		if err != nil {
			return fmt.Errorf("error revoking refresh tokens: %w", err)
		}
		revoked = n
		return nil
	}); err != nil {
		return err
	}

	s.logger.Info(ctx, "master password changed", "user_id", userID, "revoked_sessions", revoked)
	return nil
}

// UpdateProfile stores name and phone. When Email differs from the current
// address it is parked as pending and an EMAIL_CHANGE code is sent to it.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*models.User, error) {
	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	user.FullName = upd.FullName
	user.Phone = upd.Phone

	email := strings.TrimSpace(upd.Email)
	emailChanged := email != "" && !strings.EqualFold(email, user.Email)
	if emailChanged {
		exists, err := repo.ExistsByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("error checking email: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("%w: email already in use", common.ErrValidation)
		}
		user.PendingEmail = email
	}

	if err := repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("error updating user: %w", err)
	}

	if emailChanged {
		if _, err := s.verification.Issue(ctx, user, models.PurposeEmailChange); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// ConfirmEmailChange promotes the pending email once code matches.
func (s *UserService) ConfirmEmailChange(ctx context.Context, userID, code string) (*models.User, error) {
	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.PendingEmail == "" {
		return nil, fmt.Errorf("%w: no pending email change", common.ErrValidation)
	}

	ok, err := s.verification.Validate(ctx, userID, code, models.PurposeEmailChange)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrInvalidCredentials
	}

	user.Email = user.PendingEmail
	user.PendingEmail = ""
	user.EmailVerified = true
	if err := repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("error updating user: %w", err)
	}
	return user, nil
}

// SetTwoFactor enables or disables email 2FA. Enabling also provisions a
// TOTP secret for authenticator apps; disabling clears it.
func (s *UserService) SetTwoFactor(ctx context.Context, userID string, enable bool) (*models.User, error) {
	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	user.TwoFactorEnabled = enable
	user.TOTPSecret = ""
	if enable {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      totpIssuer,
			AccountName: user.Email,
		})
		if err != nil {
			return nil, fmt.Errorf("error generating totp secret: %w", err)
		}
		user.TOTPSecret = key.Secret()
	}

	if err := repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("error updating user: %w", err)
	}
	return user, nil
}

// ReplaceSecurityQuestions swaps the whole question set atomically after
// re-checking the master password.
func (s *UserService) ReplaceSecurityQuestions(ctx context.Context, userID, masterPassword string, questions []QuestionInput) error {
	if _, err := s.requireMasterPassword(ctx, userID, masterPassword); err != nil {
		return err
	}
	if err := validateQuestions(questions); err != nil {
		return err
	}

	hashed, err := s.hashQuestions(questions)
	if err != nil {
		return err
	}
	qs := make([]*models.SecurityQuestion, len(hashed))
	for i, q := range hashed {
		qs[i] = &models.SecurityQuestion{QuestionText: q.Text, AnswerHash: q.AnswerHash}
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Questions(tx).ReplaceAll(ctx, userID, qs)
	})
}

// DeleteAccount removes the user; entries, codes, questions and refresh
// tokens go with it.
func (s *UserService) DeleteAccount(ctx context.Context, userID, masterPassword string) error {
	if _, err := s.requireMasterPassword(ctx, userID, masterPassword); err != nil {
		return err
	}
	if err := s.repomanager.Users(s.db).Delete(ctx, userID); err != nil {
		return fmt.Errorf("error deleting user: %w", err)
	}
	s.logger.Info(ctx, "account deleted", "user_id", userID)
	return nil
}

// --- helpers below ---

func (s *UserService) requireMasterPassword(ctx context.Context, userID, password string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !s.hasher.Verify(user.MasterPasswordHash, password) {
		return nil, common.ErrInvalidCredentials
	}
	return user, nil
}

func (s *UserService) hashQuestions(in []QuestionInput) ([]pendingQuestion, error) {
	out := make([]pendingQuestion, len(in))
	for i, q := range in {
		h, err := s.hasher.Hash(normalizeAnswer(q.Answer))
		if err != nil {
			return nil, fmt.Errorf("error hashing answer: %w", err)
		}
		out[i] = pendingQuestion{Text: strings.TrimSpace(q.Question), AnswerHash: h}
	}
	return out, nil
}

func validateQuestions(qs []QuestionInput) error {
	if len(qs) < minSecurityQuestions {
		return fmt.Errorf("%w: at least %d security questions are required", common.ErrValidation, minSecurityQuestions)
	}
	for _, q := range qs {
		if strings.TrimSpace(q.Question) == "" || strings.TrimSpace(q.Answer) == "" {
			return fmt.Errorf("%w: security questions and answers must not be empty", common.ErrValidation)
		}
	}
	return nil
}

func (s *UserService) generateAccessToken(userID string) (string, error) {
	return auth.GenerateToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
}

func (s *UserService) generateRefreshToken() (string, error) {
	return common.MakeRandHexString(32)
}

func (s *UserService) generateTokenPair(ctx context.Context, userID string, tx dbx.DBTX) (*TokenPair, error) {
	access, err := s.generateAccessToken(userID)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := s.generateRefreshToken()
	if err != nil {
		return nil, common.ErrorInternal
	}
	token := &models.RefreshToken{
		UserID:    userID,
		Token:     refresh,
		ExpiresAt: s.now().Add(s.refreshTokenValidityDuration),
	}
	if err := s.repomanager.RefreshTokens(tx).Create(ctx, token); err != nil {
		return nil, common.ErrorInternal
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
