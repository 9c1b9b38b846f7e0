package services

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/revpass/passkeeper/internal/common"
	"github.com/revpass/passkeeper/internal/cryptox"
	"github.com/revpass/passkeeper/internal/logging"
	"github.com/revpass/passkeeper/internal/server/models"
	"github.com/revpass/passkeeper/internal/server/repositories/repomanager"
)

// Sort orders accepted by VaultService.List.
const (
	SortByName         = "name"
	SortByDateAdded    = "date_added"
	SortByDateModified = "date_modified"
)

const allCategories = "ALL"

// placeholders a client may send back unchanged from a masked read
var maskedPlaceholders = []string{common.MaskedSecret, "********"}

// EntryInput is the user-editable part of a vault entry. On update an empty
// or masked Password keeps the stored secret.
type EntryInput struct {
	AccountName     string
	WebsiteURL      string
	AccountUsername string
	Password        string
	Category        string
	Notes           string
}

// EntryView is a vault entry as shown to its owner. Password holds either
// the masked placeholder or, after Reveal, the plaintext.
type EntryView struct {
	ID              string
	AccountName     string
	WebsiteURL      string
	AccountUsername string
	Password        string
	Category        models.Category
	Notes           string
	Favorite        bool
	CreatedAt       time.Time
	UpdatedAt       *time.Time
}

// ListOptions filters and orders VaultService.List. Empty Category or "ALL"
// means every category; empty Sort means SortByName.
type ListOptions struct {
	Search   string
	Category string
	Sort     string
}

// VaultService manages a user's encrypted entries. Reads are masked unless
// the master password is re-entered through Reveal.
type VaultService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipher      SecretCipher
	hasher      cryptox.Hasher
	logger      logging.Logger
}

func NewVaultService(db *sql.DB, m repomanager.RepositoryManager, cipher SecretCipher, hasher cryptox.Hasher, logger logging.Logger) *VaultService {
	return &VaultService{
		db:          db,
		repomanager: m,
		cipher:      cipher,
		hasher:      hasher,
		logger:      logger.With("module", "vault"),
	}
}

func (s *VaultService) Add(ctx context.Context, userID string, in EntryInput) (*EntryView, error) {
	category, err := validateEntryInput(in)
	if err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password is required", common.ErrValidation)
	}

	enc, err := s.cipher.Encrypt(in.Password)
	if err != nil {
		return nil, fmt.Errorf("error encrypting password: %w", err)
	}

	entry := &models.Entry{
		UserID:            userID,
		AccountName:       strings.TrimSpace(in.AccountName),
		WebsiteURL:        in.WebsiteURL,
		AccountUsername:   in.AccountUsername,
		EncryptedPassword: enc,
		Category:          category,
		Notes:             in.Notes,
	}
	entry, err = s.repomanager.Entries(s.db).Create(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("error creating entry: %w", err)
	}

	s.logger.Info(ctx, "entry added", "user_id", userID, "entry_id", entry.ID)
	return maskedView(entry), nil
}

func (s *VaultService) Update(ctx context.Context, userID, entryID string, in EntryInput) (*EntryView, error) {
	category, err := validateEntryInput(in)
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.Entries(s.db)
	entry, err := repo.FindByIDAndUser(ctx, entryID, userID)
	if err != nil {
		return nil, err
	}

	entry.AccountName = strings.TrimSpace(in.AccountName)
	entry.WebsiteURL = in.WebsiteURL
	entry.AccountUsername = in.AccountUsername
	entry.Category = category
	entry.Notes = in.Notes

	if in.Password != "" && !slices.Contains(maskedPlaceholders, in.Password) {
		enc, err := s.cipher.Encrypt(in.Password)
		if err != nil {
			return nil, fmt.Errorf("error encrypting password: %w", err)
		}
		entry.EncryptedPassword = enc
	}

	if err := repo.Update(ctx, entry); err != nil {
		return nil, err
	}
	return maskedView(entry), nil
}

func (s *VaultService) Delete(ctx context.Context, userID, entryID string) error {
	if err := s.repomanager.Entries(s.db).Delete(ctx, entryID, userID); err != nil {
		return err
	}
	s.logger.Info(ctx, "entry deleted", "user_id", userID, "entry_id", entryID)
	return nil
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (s *VaultService) ToggleFavorite(ctx context.Context, userID, entryID string) (bool, error) {
	repo := s.repomanager.Entries(s.db)
	entry, err := repo.FindByIDAndUser(ctx, entryID, userID)
	if err != nil {
		return false, err
	}
	entry.Favorite = !entry.Favorite
	if err := repo.Update(ctx, entry); err != nil {
		return false, err
	}
	return entry.Favorite, nil
}

// List returns masked entries matching opts.
func (s *VaultService) List(ctx context.Context, userID string, opts ListOptions) ([]*EntryView, error) {
	repo := s.repomanager.Entries(s.db)

	var category models.Category
	if c := strings.TrimSpace(opts.Category); c != "" && !strings.EqualFold(c, allCategories) {
		parsed, err := models.ParseCategory(c)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
		category = parsed
	}

	var (
		entries []*models.Entry
		err     error
	)
	switch search := strings.TrimSpace(opts.Search); {
	case search != "":
		entries, err = repo.Search(ctx, userID, search)
	case category != "":
		entries, err = repo.FindByUserAndCategory(ctx, userID, category)
	default:
		entries, err = repo.FindByUser(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("error listing entries: %w", err)
	}

	if category != "" {
		entries = slices.DeleteFunc(entries, func(e *models.Entry) bool { return e.Category != category })
	}

	if err := sortEntries(entries, opts.Sort); err != nil {
		return nil, err
	}

	return maskedViews(entries), nil
}

func (s *VaultService) GetMasked(ctx context.Context, userID, entryID string) (*EntryView, error) {
	entry, err := s.repomanager.Entries(s.db).FindByIDAndUser(ctx, entryID, userID)
	if err != nil {
		return nil, err
	}
	return maskedView(entry), nil
}

// Reveal returns the entry with its plaintext password after re-checking the
// owner's master password. A wrong password yields common.ErrInvalidCredentials.
func (s *VaultService) Reveal(ctx context.Context, userID, entryID, masterPassword string) (*EntryView, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !s.hasher.Verify(user.MasterPasswordHash, masterPassword) {
		s.logger.Warn(ctx, "reveal denied", "user_id", userID, "entry_id", entryID)
		return nil, common.ErrInvalidCredentials
	}

	entry, err := s.repomanager.Entries(s.db).FindByIDAndUser(ctx, entryID, userID)
	if err != nil {
		return nil, err
	}

	plain, err := s.cipher.Decrypt(entry.EncryptedPassword)
	if err != nil {
		return nil, err
	}

	v := maskedView(entry)
	v.Password = plain
	return v, nil
}

func (s *VaultService) Favorites(ctx context.Context, userID string) ([]*EntryView, error) {
	entries, err := s.repomanager.Entries(s.db).FindFavorites(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing favorites: %w", err)
	}
	return maskedViews(entries), nil
}

func (s *VaultService) Recent(ctx context.Context, userID string, limit int) ([]*EntryView, error) {
	if limit <= 0 {
		return []*EntryView{}, nil
	}
	entries, err := s.repomanager.Entries(s.db).FindRecent(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing recent entries: %w", err)
	}
	return maskedViews(entries), nil
}

func (s *VaultService) Count(ctx context.Context, userID string) (int64, error) {
	return s.repomanager.Entries(s.db).CountByUser(ctx, userID)
}

func validateEntryInput(in EntryInput) (models.Category, error) {
	if strings.TrimSpace(in.AccountName) == "" {
		return "", fmt.Errorf("%w: account name is required", common.ErrValidation)
	}
	category, err := models.ParseCategory(in.Category)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return category, nil
}

func sortEntries(entries []*models.Entry, order string) error {
	switch order {
	case "", SortByName:
		slices.SortStableFunc(entries, func(a, b *models.Entry) int {
			return strings.Compare(strings.ToLower(a.AccountName), strings.ToLower(b.AccountName))
		})
	case SortByDateAdded:
		slices.SortStableFunc(entries, func(a, b *models.Entry) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
	case SortByDateModified:
		slices.SortStableFunc(entries, func(a, b *models.Entry) int {
			return b.LastChanged().Compare(a.LastChanged())
		})
	default:
		return fmt.Errorf("%w: unknown sort order %q", common.ErrValidation, order)
	}
	return nil
}

func maskedView(e *models.Entry) *EntryView {
	return &EntryView{
		ID:              e.ID,
		AccountName:     e.AccountName,
		WebsiteURL:      e.WebsiteURL,
		AccountUsername: e.AccountUsername,
		Password:        common.MaskedSecret,
		Category:        e.Category,
		Notes:           e.Notes,
		Favorite:        e.Favorite,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func maskedViews(entries []*models.Entry) []*EntryView {
	out := make([]*EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, maskedView(e))
	}
	return out
}

