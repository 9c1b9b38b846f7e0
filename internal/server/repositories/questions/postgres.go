package questions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/revpass/passkeeper/internal/dbx"
	"github.com/revpass/passkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindByUser(ctx context.Context, userID string) ([]*models.SecurityQuestion, error) {
	query := `
		SELECT id, user_id, position, question_text, answer_hash, created_at
		FROM security_questions
		WHERE user_id = $1
		ORDER BY position
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.SecurityQuestion
	for rows.Next() {
		q := &models.SecurityQuestion{}
		if err := rows.Scan(&q.ID, &q.UserID, &q.Position, &q.QuestionText, &q.AnswerHash, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// ReplaceAll renumbers qs from 0 in slice order.
func (r *PostgresRepository) ReplaceAll(ctx context.Context, userID string, qs []*models.SecurityQuestion) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM security_questions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	query := `
		INSERT INTO security_questions (id, user_id, position, question_text, answer_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	now := time.Now().UTC()
	for i, q := range qs {
		q.ID = uuid.NewString()
		q.UserID = userID
		q.Position = i
		q.CreatedAt = now
		if _, err := r.db.ExecContext(ctx, query, q.ID, userID, i, q.QuestionText, q.AnswerHash, now); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}
