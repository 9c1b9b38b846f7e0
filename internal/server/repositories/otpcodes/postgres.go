package otpcodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/revpass/passkeeper/internal/common"
	"github.com/revpass/passkeeper/internal/dbx"
	"github.com/revpass/passkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindLatestUnused(ctx context.Context, userID string, purpose models.Purpose) (*models.OneTimeCode, error) {
	query := `
		SELECT id, user_id, code, purpose, created_at, expires_at, used
		FROM otp_codes
		WHERE user_id = $1 AND purpose = $2 AND used = FALSE
		ORDER BY created_at DESC
		LIMIT 1
	`
	c := &models.OneTimeCode{}
	var purposeStr string
	err := r.db.QueryRowContext(ctx, query, userID, string(purpose)).
		Scan(&c.ID, &c.UserID, &c.Code, &purposeStr, &c.CreatedAt, &c.ExpiresAt, &c.Used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	p, err := models.ParsePurpose(purposeStr)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	c.Purpose = p
	return c, nil
}

// Save inserts code. ID and CreatedAt are filled in when empty.
func (r *PostgresRepository) Save(ctx context.Context, code *models.OneTimeCode) error {
	if !code.Purpose.Valid() {
		return common.ErrInvalidPurpose
	}
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO otp_codes (id, user_id, code, purpose, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.ExecContext(ctx, query,
		code.ID, code.UserID, code.Code, string(code.Purpose), code.CreatedAt, code.ExpiresAt, code.Used); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE otp_codes SET used = TRUE WHERE id = $1 AND used = FALSE`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if err := dbx.RequireAffected(res); err != nil {
		if errors.Is(err, dbx.ErrNoRowsAffected) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteExpiredOrUsed(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE expires_at <= $1 OR used = TRUE`, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
