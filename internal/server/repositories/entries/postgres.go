// Package entries provides the PostgreSQL-backed vault store.
package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/revpass/passkeeper/internal/common"
	"github.com/revpass/passkeeper/internal/dbx"
	"github.com/revpass/passkeeper/internal/server/models"
)

const entryColumns = `id, user_id, account_name, website_url, account_username, encrypted_password,
		category, notes, is_favorite, created_at, updated_at`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts entry with a fresh ID and creation time.
func (r *PostgresRepository) Create(ctx context.Context, entry *models.Entry) (*models.Entry, error) {
	query := `
		INSERT INTO vault_entries (id, user_id, account_name, website_url, account_username,
			encrypted_password, category, notes, is_favorite, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	id := uuid.NewString()
	now := time.Now().UTC()

	if _, err := r.db.ExecContext(ctx, query,
		id, entry.UserID, entry.AccountName, entry.WebsiteURL, entry.AccountUsername,
		entry.EncryptedPassword, string(entry.Category), entry.Notes, entry.Favorite, now); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	entry.ID = id
	entry.CreatedAt = now
	entry.UpdatedAt = nil
	return entry, nil
}

// Update overwrites the mutable fields of the user's entry and stamps
// updated_at. Returns common.ErrorNotFound if the user has no such entry.
func (r *PostgresRepository) Update(ctx context.Context, entry *models.Entry) error {
	query := `
		UPDATE vault_entries SET account_name = $3, website_url = $4, account_username = $5,
			encrypted_password = $6, category = $7, notes = $8, is_favorite = $9, updated_at = $10
		WHERE id = $1 AND user_id = $2
	`
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.AccountName, entry.WebsiteURL, entry.AccountUsername,
		entry.EncryptedPassword, string(entry.Category), entry.Notes, entry.Favorite, now)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if err := affectedOrNotFound(res); err != nil {
		return err
	}

	entry.UpdatedAt = &now
	return nil
}

// Delete removes the user's entry.
func (r *PostgresRepository) Delete(ctx context.Context, id, userID string) error {
	query := `
		DELETE FROM vault_entries
		WHERE id = $1 AND user_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return affectedOrNotFound(res)
}

// FindByUser returns all of the user's entries, oldest first.
func (r *PostgresRepository) FindByUser(ctx context.Context, userID string) ([]*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM vault_entries WHERE user_id = $1 ORDER BY created_at`
	return r.list(ctx, query, userID)
}

// FindByIDAndUser returns common.ErrorNotFound when the entry does not exist
// or belongs to another user.
func (r *PostgresRepository) FindByIDAndUser(ctx context.Context, id, userID string) (*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM vault_entries WHERE id = $1 AND user_id = $2`

	rows, err := r.db.QueryContext(ctx, query, id, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		return nil, common.ErrorNotFound
	}
	return scanEntry(rows)
}

// Search matches text case-insensitively as a substring of the account name,
// website URL or account username.
func (r *PostgresRepository) Search(ctx context.Context, userID, text string) ([]*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM vault_entries
		WHERE user_id = $1
		  AND (account_name ILIKE $2 OR website_url ILIKE $2 OR account_username ILIKE $2)
		ORDER BY created_at`
	return r.list(ctx, query, userID, likePattern(text))
}

func (r *PostgresRepository) FindByUserAndCategory(ctx context.Context, userID string, category models.Category) ([]*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM vault_entries WHERE user_id = $1 AND category = $2 ORDER BY created_at`
	return r.list(ctx, query, userID, string(category))
}

func (r *PostgresRepository) FindFavorites(ctx context.Context, userID string) ([]*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM vault_entries WHERE user_id = $1 AND is_favorite ORDER BY account_name`
	return r.list(ctx, query, userID)
}

// FindRecent returns up to limit entries, newest first.
func (r *PostgresRepository) FindRecent(ctx context.Context, userID string, limit int) ([]*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM vault_entries WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	return r.list(ctx, query, userID, limit)
}

func (r *PostgresRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault_entries WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func scanEntry(rows *sql.Rows) (*models.Entry, error) {
	e := &models.Entry{}
	var category string
	var updatedAt sql.NullTime

	if err := rows.Scan(&e.ID, &e.UserID, &e.AccountName, &e.WebsiteURL, &e.AccountUsername,
		&e.EncryptedPassword, &category, &e.Notes, &e.Favorite, &e.CreatedAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	e.Category = models.Category(category)
	if updatedAt.Valid {
		t := updatedAt.Time
		e.UpdatedAt = &t
	}
	return e, nil
}

func affectedOrNotFound(res sql.Result) error {
	if err := dbx.RequireAffected(res); err != nil {
		if errors.Is(err, dbx.ErrNoRowsAffected) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// likePattern wraps text in % wildcards, escaping LIKE metacharacters.
func likePattern(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(text) + "%"
}
