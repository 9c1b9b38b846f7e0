package models

import (
	"fmt"
	"strings"
	"time"
)

// Category groups vault entries.
type Category string

const (
	CategorySocialMedia Category = "SOCIAL_MEDIA"
	CategoryBanking     Category = "BANKING"
	CategoryEmail       Category = "EMAIL"
	CategoryShopping    Category = "SHOPPING"
	CategoryWork        Category = "WORK"
	CategoryOther       Category = "OTHER"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategorySocialMedia, CategoryBanking, CategoryEmail, CategoryShopping, CategoryWork, CategoryOther,
}

// ParseCategory accepts a category name in any case. An empty string maps to
// CategoryOther.
func ParseCategory(s string) (Category, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return CategoryOther, nil
	}
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// DisplayName is the human readable category name.
func (c Category) DisplayName() string {
	switch c {
	case CategorySocialMedia:
		return "Social Media"
	case CategoryBanking:
		return "Banking"
	case CategoryEmail:
		return "Email"
	case CategoryShopping:
		return "Shopping"
	case CategoryWork:
		return "Work"
	default:
		return "Other"
	}
}

// Entry is one stored credential. EncryptedPassword never holds plaintext.
type Entry struct {
	ID                string
	UserID            string
	AccountName       string
	WebsiteURL        string
	AccountUsername   string
	EncryptedPassword string
	Category          Category
	Notes             string
	Favorite          bool
	CreatedAt         time.Time
	UpdatedAt         *time.Time
}

// LastChanged is the later of the creation and update times.
func (e *Entry) LastChanged() time.Time {
	if e.UpdatedAt != nil && e.UpdatedAt.After(e.CreatedAt) {
		return *e.UpdatedAt
	}
	return e.CreatedAt
}
