// Package otpcodes persists one-time verification codes.
package otpcodes

import (
	"context"
	"time"

	"github.com/revpass/passkeeper/internal/server/models"
)

type Repository interface {
	// FindLatestUnused returns the most recently created unused code for
	// (userID, purpose), expired or not. common.ErrorNotFound if none.
	FindLatestUnused(ctx context.Context, userID string, purpose models.Purpose) (*models.OneTimeCode, error)
	Save(ctx context.Context, code *models.OneTimeCode) error
	// MarkUsed consumes the code. It fails with common.ErrorNotFound when the
	// code is already used, so a code can be consumed once.
	MarkUsed(ctx context.Context, id string) error
	// DeleteExpiredOrUsed removes every code that is used or expired at now.
	DeleteExpiredOrUsed(ctx context.Context, now time.Time) (int64, error)
}
