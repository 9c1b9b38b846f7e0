package services

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/revpass/passkeeper/internal/common"
	"github.com/revpass/passkeeper/internal/dbx"
	"github.com/revpass/passkeeper/internal/mailer"
	"github.com/revpass/passkeeper/internal/server/models"
	"github.com/revpass/passkeeper/internal/server/repositories/entries"
	"github.com/revpass/passkeeper/internal/server/repositories/otpcodes"
	"github.com/revpass/passkeeper/internal/server/repositories/questions"
	"github.com/revpass/passkeeper/internal/server/repositories/refreshtokens"
	"github.com/revpass/passkeeper/internal/server/repositories/users"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// fakeHasher keeps tests fast; "h(" + plain + ")" is never a valid bcrypt hash.
type fakeHasher struct{}

func (fakeHasher) Hash(plain string) (string, error) { return "h(" + plain + ")", nil }
func (fakeHasher) Verify(hash, plain string) bool    { return hash == "h("+plain+")" }

type fakeMailQueue struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (q *fakeMailQueue) Enqueue(ctx context.Context, msg mailer.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, msg)
	return nil
}

func (q *fakeMailQueue) last() mailer.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sent[len(q.sent)-1]
}

// --- users ---

type fakeUsersRepo struct {
	byID   map[string]*models.User
	seq    int
	getErr error
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{byID: map[string]*models.User{}}
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	f.seq++
	u.ID = fmt.Sprintf("u%d", f.seq)
	u.CreatedAt = time.Now()
	cp := *u
	f.byID[u.ID] = &cp
	return u, nil
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsersRepo) FindByUsernameOrEmail(ctx context.Context, login string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byID {
		if u.Username == login || strings.EqualFold(u.Email, login) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	for _, u := range f.byID {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUsersRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	for _, u := range f.byID {
		if strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUsersRepo) Update(ctx context.Context, u *models.User) error {
	if _, ok := f.byID[u.ID]; !ok {
		return common.ErrorNotFound
	}
	cp := *u
	f.byID[u.ID] = &cp
	return nil
}

func (f *fakeUsersRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.byID[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeUsersRepo) add(u models.User) *models.User {
	f.seq++
	if u.ID == "" {
		u.ID = fmt.Sprintf("u%d", f.seq)
	}
	f.byID[u.ID] = &u
	return &u
}

// --- entries ---

type fakeEntriesRepo struct {
	rows    []*models.Entry
	seq     int
	listErr error
}

func (f *fakeEntriesRepo) Create(ctx context.Context, e *models.Entry) (*models.Entry, error) {
	f.seq++
	e.ID = fmt.Sprintf("e%d", f.seq)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := *e
	f.rows = append(f.rows, &cp)
	return e, nil
}

func (f *fakeEntriesRepo) Update(ctx context.Context, e *models.Entry) error {
	for i, r := range f.rows {
		if r.ID == e.ID && r.UserID == e.UserID {
			now := time.Now()
			e.UpdatedAt = &now
			cp := *e
			f.rows[i] = &cp
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *fakeEntriesRepo) Delete(ctx context.Context, id, userID string) error {
	for i, r := range f.rows {
		if r.ID == id && r.UserID == userID {
			f.rows = slices.Delete(f.rows, i, i+1)
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *fakeEntriesRepo) filter(userID string, keep func(*models.Entry) bool) ([]*models.Entry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*models.Entry
	for _, r := range f.rows {
		if r.UserID == userID && keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeEntriesRepo) FindByUser(ctx context.Context, userID string) ([]*models.Entry, error) {
	return f.filter(userID, func(*models.Entry) bool { return true })
}

func (f *fakeEntriesRepo) FindByIDAndUser(ctx context.Context, id, userID string) (*models.Entry, error) {
	out, _ := f.filter(userID, func(e *models.Entry) bool { return e.ID == id })
	if len(out) == 0 {
		return nil, common.ErrorNotFound
	}
	return out[0], nil
}

func (f *fakeEntriesRepo) Search(ctx context.Context, userID, text string) ([]*models.Entry, error) {
	text = strings.ToLower(text)
	return f.filter(userID, func(e *models.Entry) bool {
		return strings.Contains(strings.ToLower(e.AccountName), text) ||
			strings.Contains(strings.ToLower(e.WebsiteURL), text) ||
			strings.Contains(strings.ToLower(e.AccountUsername), text)
	})
}

func (f *fakeEntriesRepo) FindByUserAndCategory(ctx context.Context, userID string, c models.Category) ([]*models.Entry, error) {
	return f.filter(userID, func(e *models.Entry) bool { return e.Category == c })
}

func (f *fakeEntriesRepo) FindFavorites(ctx context.Context, userID string) ([]*models.Entry, error) {
	return f.filter(userID, func(e *models.Entry) bool { return e.Favorite })
}

func (f *fakeEntriesRepo) FindRecent(ctx context.Context, userID string, limit int) ([]*models.Entry, error) {
	out, err := f.filter(userID, func(*models.Entry) bool { return true })
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeEntriesRepo) CountByUser(ctx context.Context, userID string) (int64, error) {
	out, err := f.filter(userID, func(*models.Entry) bool { return true })
	return int64(len(out)), err
}

// --- questions ---

type fakeQuestionsRepo struct {
	byUser     map[string][]*models.SecurityQuestion
	replaceErr error
}

func newFakeQuestionsRepo() *fakeQuestionsRepo {
	return &fakeQuestionsRepo{byUser: map[string][]*models.SecurityQuestion{}}
}

func (f *fakeQuestionsRepo) FindByUser(ctx context.Context, userID string) ([]*models.SecurityQuestion, error) {
	return f.byUser[userID], nil
}

func (f *fakeQuestionsRepo) ReplaceAll(ctx context.Context, userID string, qs []*models.SecurityQuestion) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	for i, q := range qs {
		q.UserID = userID
		q.Position = i
	}
	f.byUser[userID] = qs
	return nil
}

// --- one-time codes ---

type fakeCodesRepo struct {
	mu    sync.Mutex
	codes []*models.OneTimeCode
	seq   int
}

func (f *fakeCodesRepo) FindLatestUnused(ctx context.Context, userID string, p models.Purpose) (*models.OneTimeCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.OneTimeCode
	for _, c := range f.codes {
		if c.UserID == userID && c.Purpose == p && !c.Used {
			if latest == nil || !c.CreatedAt.Before(latest.CreatedAt) {
				latest = c
			}
		}
	}
	if latest == nil {
		return nil, common.ErrorNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeCodesRepo) Save(ctx context.Context, c *models.OneTimeCode) error {
	if !c.Purpose.Valid() {
		return common.ErrInvalidPurpose
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	c.ID = fmt.Sprintf("c%d", f.seq)
	cp := *c
	f.codes = append(f.codes, &cp)
	return nil
}

func (f *fakeCodesRepo) MarkUsed(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.ID == id && !c.Used {
			c.Used = true
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *fakeCodesRepo) DeleteExpiredOrUsed(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.codes)
	f.codes = slices.DeleteFunc(f.codes, func(c *models.OneTimeCode) bool {
		return c.Used || !now.Before(c.ExpiresAt)
	})
	return int64(before - len(f.codes)), nil
}

// --- refresh tokens ---

type fakeRefreshRepo struct {
	tokens    map[string]*models.RefreshToken
	createErr error
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: map[string]*models.RefreshToken{}}
}

func (f *fakeRefreshRepo) Create(ctx context.Context, token *models.RefreshToken) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.tokens[token.Token] = token
	return nil
}

func (f *fakeRefreshRepo) Consume(ctx context.Context, token string) (*models.RefreshToken, error) {
	t, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	delete(f.tokens, token)
	return t, nil
}

func (f *fakeRefreshRepo) RevokeAll(ctx context.Context, userID string) (int64, error) {
	var n int64
	for k, t := range f.tokens {
		if t.UserID == userID {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for k, t := range f.tokens {
		if t.Expired(now) {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

// --- manager ---

type fakeRepoManager struct {
	users     *fakeUsersRepo
	entries   *fakeEntriesRepo
	questions *fakeQuestionsRepo
	codes     *fakeCodesRepo
	refresh   *fakeRefreshRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		users:     newFakeUsersRepo(),
		entries:   &fakeEntriesRepo{},
		questions: newFakeQuestionsRepo(),
		codes:     &fakeCodesRepo{},
		refresh:   newFakeRefreshRepo(),
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error       { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) users.Repository                 { return m.users }
func (m *fakeRepoManager) Entries(db dbx.DBTX) entries.Repository             { return m.entries }
func (m *fakeRepoManager) Questions(db dbx.DBTX) questions.Repository         { return m.questions }
func (m *fakeRepoManager) OneTimeCodes(db dbx.DBTX) otpcodes.Repository       { return m.codes }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository { return m.refresh }
