package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/revpass/passkeeper/internal/common"
	"github.com/revpass/passkeeper/internal/logging"
	"github.com/revpass/passkeeper/internal/server/auth"
	"github.com/revpass/passkeeper/internal/server/config"
	"github.com/revpass/passkeeper/internal/server/models"
	"github.com/revpass/passkeeper/internal/server/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

type userFixture struct {
	svc   *UserService
	rm    *fakeRepoManager
	mq    *fakeMailQueue
	store *sessions.MemoryStore
	mock  sqlmock.Sqlmock
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	db, mock := newSQLMockDB(t)
	rm := newFakeRepoManager()
	mq := &fakeMailQueue{}
	store := sessions.NewMemoryStore()

	cfg := &config.Config{
		SecretKey:                    "k",
		AccessTokenValidityDuration:  time.Hour,
		RefreshTokenValidityDuration: 2 * time.Hour,
	}
	verification := NewVerificationService(db, rm, mq, logging.Nop(), 10*time.Minute)
	svc := NewUserService(db, rm, verification, store, fakeHasher{}, logging.Nop(), cfg)

	return &userFixture{svc: svc, rm: rm, mq: mq, store: store, mock: mock}
}

func (f *userFixture) addUser(u models.User, password string) *models.User {
	u.MasterPasswordHash, _ = fakeHasher{}.Hash(password)
	return f.rm.users.add(u)
}

func (f *userFixture) expectTx(t *testing.T, commit bool) {
	t.Helper()
	f.mock.ExpectBegin()
	if commit {
		f.mock.ExpectCommit()
	} else {
		f.mock.ExpectRollback()
	}
}

func (f *userFixture) assertSQL(t *testing.T) {
	t.Helper()
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

var threeQuestions = []QuestionInput{
	{Question: "Pet?", Answer: "Fluffy"},
	{Question: "City?", Answer: "Paris"},
	{Question: "Color?", Answer: "Blue"},
}

func validRegistration() RegistrationRequest {
	return RegistrationRequest{
		Username:        "ann",
		Email:           "ann@example.com",
		FullName:        "Ann Lee",
		MasterPassword:  "correct-horse",
		ConfirmPassword: "correct-horse",
		Questions:       threeQuestions,
	}
}

func TestValidateRegistration(t *testing.T) {
	f := newUserFixture(t)
	f.addUser(models.User{Username: "taken", Email: "taken@example.com"}, "x")
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(r *RegistrationRequest)
		msg    string
	}{
		{"mismatch", func(r *RegistrationRequest) { r.ConfirmPassword = "other" }, "passwords do not match"},
		{"short", func(r *RegistrationRequest) { r.MasterPassword, r.ConfirmPassword = "short", "short" }, "at least 8"},
		{"two questions", func(r *RegistrationRequest) { r.Questions = threeQuestions[:2] }, "at least 3 security questions"},
		{"blank answer", func(r *RegistrationRequest) {
			r.Questions = append([]QuestionInput{{Question: "Q", Answer: " "}}, threeQuestions...)
		}, "must not be empty"},
		{"username taken", func(r *RegistrationRequest) { r.Username = "taken" }, "username already exists"},
		{"email taken", func(r *RegistrationRequest) { r.Email = "TAKEN@example.com" }, "email already exists"},
		{"no username", func(r *RegistrationRequest) { r.Username = "" }, "required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRegistration()
			tt.mutate(&req)
			err := f.svc.ValidateRegistration(ctx, req)
			if !errors.Is(err, common.ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	require.NoError(t, f.svc.ValidateRegistration(ctx, validRegistration()))
}

func TestRegistration_BeginAndComplete(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	id, err := f.svc.BeginRegistration(ctx, validRegistration())
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Empty(t, f.rm.users.byID, "no account before the code is confirmed")

	msg := f.mq.last()
	assert.Equal(t, "ann@example.com", msg.To)
	assert.Equal(t, "Verify Your Email", msg.Subject)
	code := regexp.MustCompile(`\b\d{6}\b`).FindString(msg.HTMLBody)
	require.NotEmpty(t, code)

	// wrong code keeps the pending registration
	wrong := "000000"
	if code == wrong {
		wrong = "999999"
	}
	_, err = f.svc.CompleteRegistration(ctx, id, wrong)
	if !errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}

	f.expectTx(t, true)
	user, err := f.svc.CompleteRegistration(ctx, id, code)
	require.NoError(t, err)
	f.assertSQL(t)

	assert.Equal(t, "ann", user.Username)
	assert.True(t, user.EmailVerified)
	assert.True(t, fakeHasher{}.Verify(user.MasterPasswordHash, "correct-horse"))

	qs := f.rm.questions.byUser[user.ID]
	require.Len(t, qs, 3)
	assert.Equal(t, "Pet?", qs[0].QuestionText)
	assert.True(t, fakeHasher{}.Verify(qs[0].AnswerHash, "fluffy"), "answers are normalized before hashing")

	_, err = f.svc.CompleteRegistration(ctx, id, code)
	if !errors.Is(err, common.ErrSessionNotFound) {
		t.Fatalf("pending registration must be gone, got %v", err)
	}
}

func TestRegistration_Expired(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	id, err := f.svc.BeginRegistration(ctx, validRegistration())
	require.NoError(t, err)
	code := regexp.MustCompile(`\b\d{6}\b`).FindString(f.mq.last().HTMLBody)

	f.svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	_, err = f.svc.CompleteRegistration(ctx, id, code)
	if !errors.Is(err, common.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func TestRegistration_UsernameTakenMeanwhile(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	id, err := f.svc.BeginRegistration(ctx, validRegistration())
	require.NoError(t, err)
	code := regexp.MustCompile(`\b\d{6}\b`).FindString(f.mq.last().HTMLBody)

	f.addUser(models.User{Username: "ann", Email: "other@example.com"}, "x")

	f.expectTx(t, false)
	_, err = f.svc.CompleteRegistration(ctx, id, code)
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	f.assertSQL(t)
}

func TestRegistration_QuestionsFailRollsBack(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()

	id, err := f.svc.BeginRegistration(ctx, validRegistration())
	require.NoError(t, err)
	code := regexp.MustCompile(`\b\d{6}\b`).FindString(f.mq.last().HTMLBody)

	f.rm.questions.replaceErr = errBoom{}
	f.expectTx(t, false)
	_, err = f.svc.CompleteRegistration(ctx, id, code)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("want boom, got %v", err)
	}
	f.assertSQL(t)
}

func TestLogin_Flows(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	f.addUser(models.User{ID: "u1", Username: "ann", Email: "ann@example.com"}, "right-pass")
	f.addUser(models.User{ID: "u2", Username: "locked", Email: "l@example.com", AccountLocked: true}, "right-pass")

	if _, err := f.svc.Login(ctx, "ghost", "x"); !errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatalf("not found → invalid credentials, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "ann", "wrong"); !errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatalf("wrong password → invalid credentials, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "locked", "right-pass"); !errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("locked → unauthorized, got %v", err)
	}

	res, err := f.svc.Login(ctx, "ann@example.com", "right-pass")
	require.NoError(t, err)
	require.NotNil(t, res.Tokens)
	assert.Empty(t, res.TwoFactorPending)

	uid, err := auth.GetUserIDFromToken(res.Tokens.AccessToken, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)
	assert.Contains(t, f.rm.refresh.tokens, res.Tokens.RefreshToken)

	f.rm.users.getErr = errBoom{}
	if _, err := f.svc.Login(ctx, "ann", "right-pass"); !errors.Is(err, common.ErrorInternal) {
		t.Fatalf("repo error → internal, got %v", err)
	}
}

func TestLogin_TwoFactor(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	f.addUser(models.User{ID: "u1", Username: "ann", Email: "ann@example.com", TwoFactorEnabled: true}, "right-pass")

	res, err := f.svc.Login(ctx, "ann", "right-pass")
	require.NoError(t, err)
	assert.Nil(t, res.Tokens, "no tokens before the second factor")
	require.NotEmpty(t, res.TwoFactorPending)

	msg := f.mq.last()
	assert.Equal(t, "Your 2FA Code", msg.Subject)
	code := f.rm.codes.codes[0].Code

	if _, err := f.svc.CompleteTwoFactor(ctx, "unknown", code); !errors.Is(err, common.ErrSessionNotFound) {
		t.Fatalf("unknown pending id → session not found, got %v", err)
	}

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	if _, err := f.svc.CompleteTwoFactor(ctx, res.TwoFactorPending, wrong); !errors.Is(err, common.ErrInvalidCredentials) {
		t.Fatalf("wrong code → invalid credentials, got %v", err)
	}

	pair, err := f.svc.CompleteTwoFactor(ctx, res.TwoFactorPending, code)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	if _, err := f.svc.CompleteTwoFactor(ctx, res.TwoFactorPending, code); err == nil {
		t.Fatalf("second completion must fail")
	}
}

func TestRefreshToken_Success(t *testing.T) {
	f := newUserFixture(t)
	f.rm.refresh.tokens["refresh-xyz"] = &models.RefreshToken{UserID: "u1", ExpiresAt: time.Now().Add(10 * time.Minute)}
	f.expectTx(t, true)

	pair, err := f.svc.RefreshToken(context.Background(), "refresh-xyz")
	if err != nil {
		t.Fatalf("RefreshToken error: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("empty tokens: %+v", pair)
	}
	assert.NotContains(t, f.rm.refresh.tokens, "refresh-xyz", "old token rotated out")
	assert.Contains(t, f.rm.refresh.tokens, pair.RefreshToken)
	f.assertSQL(t)
}

func TestRefreshToken_Expired(t *testing.T) {
	f := newUserFixture(t)
	f.rm.refresh.tokens["r"] = &models.RefreshToken{UserID: "u1", ExpiresAt: time.Now().Add(-1 * time.Minute)}
	f.expectTx(t, false)

	_, err := f.svc.RefreshToken(context.Background(), "r")
	if !errors.Is(err, common.ErrRefreshTokenExpired) {
		t.Fatalf("want ErrRefreshTokenExpired, got %v", err)
	}
	f.assertSQL(t)
}

func TestRefreshToken_FindErr(t *testing.T) {
	f := newUserFixture(t)
	f.expectTx(t, false)

	_, err := f.svc.RefreshToken(context.Background(), "missing")
	if err == nil || !regexp.MustCompile(`error searching refresh token: not found`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped find error, got %v", err)
	}
}

func TestRefreshToken_CreateErrRollsBack(t *testing.T) {
	f := newUserFixture(t)
	f.rm.refresh.tokens["r"] = &models.RefreshToken{UserID: "u1", ExpiresAt: time.Now().Add(10 * time.Minute)}
	f.rm.refresh.createErr = errBoom{}
	f.expectTx(t, false)

	_, err := f.svc.RefreshToken(context.Background(), "r")
	if !errors.Is(err, common.ErrorInternal) {
		t.Fatalf("want ErrorInternal, got %v", err)
	}
	f.assertSQL(t)
}

func TestCleanupRefreshTokens(t *testing.T) {
	f := newUserFixture(t)
	f.rm.refresh.tokens["old"] = &models.RefreshToken{ExpiresAt: time.Now().Add(-time.Hour)}
	f.rm.refresh.tokens["new"] = &models.RefreshToken{ExpiresAt: time.Now().Add(time.Hour)}

	n, err := f.svc.CleanupRefreshTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, f.rm.refresh.tokens, "new")
}

func TestChangeMasterPassword(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	f.addUser(models.User{ID: "u1", Username: "ann"}, "old-password")

	err := f.svc.ChangeMasterPassword(ctx, "u1", "wrong", "new-password", "new-password")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	err = f.svc.ChangeMasterPassword(ctx, "u1", "old-password", "new-password", "other")
	assert.ErrorIs(t, err, common.ErrValidation)

	err = f.svc.ChangeMasterPassword(ctx, "u1", "old-password", "short", "short")
	assert.ErrorIs(t, err, common.ErrValidation)

	f.rm.refresh.tokens["r1"] = &models.RefreshToken{UserID: "u1", Token: "r1", ExpiresAt: time.Now().Add(time.Hour)}
	f.rm.refresh.tokens["r2"] = &models.RefreshToken{UserID: "u2", Token: "r2", ExpiresAt: time.Now().Add(time.Hour)}
	f.expectTx(t, true)
	require.NoError(t, f.svc.ChangeMasterPassword(ctx, "u1", "old-password", "new-password", "new-password"))
	f.assertSQL(t)
	assert.NotContains(t, f.rm.refresh.tokens, "r1", "sessions of the user are revoked")
	assert.Contains(t, f.rm.refresh.tokens, "r2")

	ok, err := f.svc.VerifyMasterPassword(ctx, "u1", "new-password")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.VerifyMasterPassword(ctx, "u1", "old-password")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmailChange(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	f.addUser(models.User{ID: "u1", Username: "ann", Email: "ann@example.com"}, "pw-pw-pw-pw")
	f.addUser(models.User{ID: "u2", Username: "bob", Email: "bob@example.com"}, "pw-pw-pw-pw")

	_, err := f.svc.UpdateProfile(ctx, "u1", ProfileUpdate{FullName: "Ann", Email: "bob@example.com"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.ConfirmEmailChange(ctx, "u1", "123456")
	assert.ErrorIs(t, err, common.ErrValidation, "nothing pending yet")

	u, err := f.svc.UpdateProfile(ctx, "u1", ProfileUpdate{FullName: "Ann L", Phone: "555", Email: "new@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", u.Email, "not applied until confirmed")
	assert.Equal(t, "new@example.com", u.PendingEmail)
	assert.Equal(t, "Ann L", u.FullName)

	msg := f.mq.last()
	assert.Equal(t, "new@example.com", msg.To)
	assert.Equal(t, "Confirm New Email", msg.Subject)
	code := f.rm.codes.codes[len(f.rm.codes.codes)-1].Code

	u, err = f.svc.ConfirmEmailChange(ctx, "u1", code)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", u.Email)
	assert.Empty(t, u.PendingEmail)
	assert.True(t, u.EmailVerified)
}

func TestUpdateProfile_SameEmailSendsNothing(t *testing.T) {
	f := newUserFixture(t)
	f.addUser(models.User{ID: "u1", Username: "ann", Email: "ann@example.com"}, "pw-pw-pw-pw")

	u, err := f.svc.UpdateProfile(context.Background(), "u1", ProfileUpdate{FullName: "Ann", Email: "ANN@example.com"})
	require.NoError(t, err)
	assert.Empty(t, u.PendingEmail)
	assert.Empty(t, f.mq.sent)
}

func TestSetTwoFactor(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	f.addUser(models.User{ID: "u1", Username: "ann", Email: "ann@example.com"}, "pw-pw-pw-pw")

	u, err := f.svc.SetTwoFactor(ctx, "u1", true)
	require.NoError(t, err)
	assert.True(t, u.TwoFactorEnabled)
	assert.Regexp(t, `^[A-Z2-7]+$`, u.TOTPSecret)

	u, err = f.svc.SetTwoFactor(ctx, "u1", false)
	require.NoError(t, err)
	assert.False(t, u.TwoFactorEnabled)
	assert.Empty(t, u.TOTPSecret)
}

func TestReplaceSecurityQuestions(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	f.addUser(models.User{ID: "u1", Username: "ann"}, "master-pw")

	err := f.svc.ReplaceSecurityQuestions(ctx, "u1", "wrong", threeQuestions)
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	err = f.svc.ReplaceSecurityQuestions(ctx, "u1", "master-pw", threeQuestions[:1])
	assert.ErrorIs(t, err, common.ErrValidation)

	f.expectTx(t, true)
	require.NoError(t, f.svc.ReplaceSecurityQuestions(ctx, "u1", "master-pw", []QuestionInput{
		{Question: "A?", Answer: "1"}, {Question: "B?", Answer: "2"}, {Question: "C?", Answer: "3"}, {Question: "D?", Answer: "4"},
	}))
	f.assertSQL(t)

	qs := f.rm.questions.byUser["u1"]
	require.Len(t, qs, 4)
	assert.Equal(t, "D?", qs[3].QuestionText)
	assert.Equal(t, 3, qs[3].Position)
}

func TestDeleteAccount(t *testing.T) {
	f := newUserFixture(t)
	ctx := context.Background()
	f.addUser(models.User{ID: "u1", Username: "ann"}, "master-pw")

	err := f.svc.DeleteAccount(ctx, "u1", "nope")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
	assert.Contains(t, f.rm.users.byID, "u1")

	require.NoError(t, f.svc.DeleteAccount(ctx, "u1", "master-pw"))
	_, err = f.svc.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
