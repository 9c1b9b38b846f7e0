package entries

import (
	"context"

	"github.com/revpass/passkeeper/internal/server/models"
)

// Repository is the vault store. Every lookup is scoped to a user; an entry
// owned by someone else behaves as absent.
type Repository interface {
	Create(ctx context.Context, entry *models.Entry) (*models.Entry, error)
	Update(ctx context.Context, entry *models.Entry) error
	Delete(ctx context.Context, id, userID string) error
	FindByUser(ctx context.Context, userID string) ([]*models.Entry, error)
	FindByIDAndUser(ctx context.Context, id, userID string) (*models.Entry, error)
	Search(ctx context.Context, userID, text string) ([]*models.Entry, error)
	FindByUserAndCategory(ctx context.Context, userID string, category models.Category) ([]*models.Entry, error)
	FindFavorites(ctx context.Context, userID string) ([]*models.Entry, error)
	FindRecent(ctx context.Context, userID string, limit int) ([]*models.Entry, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
}
