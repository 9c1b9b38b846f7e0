// Package refreshtokens stores the opaque refresh tokens issued alongside
// access tokens.
package refreshtokens

import (
	"context"
	"time"

	"github.com/revpass/passkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	// Consume deletes the token and returns the removed row, so a token can
	// be exchanged at most once.
	Consume(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeAll(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
