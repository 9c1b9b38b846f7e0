// Package questions stores the security questions used for account recovery.
package questions

import (
	"context"

	"github.com/revpass/passkeeper/internal/server/models"
)

type Repository interface {
	// FindByUser returns the user's questions ordered by position.
	FindByUser(ctx context.Context, userID string) ([]*models.SecurityQuestion, error)
	// ReplaceAll deletes every existing question of the user and inserts qs.
	// Run it on a transaction so the swap is atomic.
	ReplaceAll(ctx context.Context, userID string, qs []*models.SecurityQuestion) error
}
