package services

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/revpass/passkeeper/internal/logging"
	"github.com/revpass/passkeeper/internal/passgen"
	"github.com/revpass/passkeeper/internal/server/models"
	"github.com/revpass/passkeeper/internal/server/repositories/repomanager"
)

// AuditDateLayout formats AuditItem.LastChanged.
const AuditDateLayout = "02 Jan 2006 15:04"

const (
	weakPenalty   = 10
	reusedPenalty = 5
	oldPenalty    = 3
)

// AuditItem describes one flagged vault entry.
type AuditItem struct {
	EntryID       string
	AccountName   string
	Category      models.Category
	StrengthScore int
	StrengthLabel string
	LastChanged   string
}

// AuditReport is computed on request and never stored. An entry may appear
// in several lists at once.
type AuditReport struct {
	// TotalEntries counts every entry of the user, including ones that
	// could not be decrypted.
	TotalEntries  int
	SecurityScore int
	Weak          []AuditItem
	Reused        []AuditItem
	Old           []AuditItem
}

// AuditService scores a user's vault for weak, reused and stale passwords.
type AuditService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipher      SecretCipher
	logger      logging.Logger
	oldDays     int
	now         func() time.Time
}

// NewAuditService returns an auditor whose default report treats passwords
// unchanged for more than oldPasswordDays as old.
func NewAuditService(db *sql.DB, m repomanager.RepositoryManager, cipher SecretCipher, logger logging.Logger, oldPasswordDays int) *AuditService {
	return &AuditService{
		db:          db,
		repomanager: m,
		cipher:      cipher,
		logger:      logger.With("module", "audit"),
		oldDays:     oldPasswordDays,
		now:         time.Now,
	}
}

// OldPasswordDays is the threshold GenerateDefaultReport applies.
func (s *AuditService) OldPasswordDays() int {
	return s.oldDays
}

// GenerateDefaultReport audits userID with the configured old-password threshold.
func (s *AuditService) GenerateDefaultReport(ctx context.Context, userID string) (*AuditReport, error) {
	return s.GenerateReport(ctx, userID, s.oldDays)
}

// GenerateReport audits every entry of userID in account name order. Entries
// that fail to decrypt are logged and left out of all three lists.
func (s *AuditService) GenerateReport(ctx context.Context, userID string, oldPasswordDays int) (*AuditReport, error) {
	entries, err := s.repomanager.Entries(s.db).FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading entries: %w", err)
	}
	entries = slices.Clone(entries)
	slices.SortStableFunc(entries, func(a, b *models.Entry) int {
		return strings.Compare(strings.ToLower(a.AccountName), strings.ToLower(b.AccountName))
	})

	report := &AuditReport{
		TotalEntries: len(entries),
		Weak:         []AuditItem{},
		Reused:       []AuditItem{},
		Old:          []AuditItem{},
	}
	cutoff := s.now().AddDate(0, 0, -oldPasswordDays)

	type group struct {
		items []AuditItem
	}
	groups := make(map[string]*group)
	var order []string

	for _, e := range entries {
		plain, err := s.cipher.Decrypt(e.EncryptedPassword)
		if err != nil {
			s.logger.Warn(ctx, "skipping undecryptable entry", "entry_id", e.ID, "error", err)
			continue
		}

		score := passgen.StrengthScore(plain)
		item := toAuditItem(e, score)

		if score <= 1 {
			report.Weak = append(report.Weak, item)
		}
		if e.LastChanged().Before(cutoff) {
			report.Old = append(report.Old, item)
		}

		g, ok := groups[plain]
		if !ok {
			g = &group{}
			groups[plain] = g
			order = append(order, plain)
		}
		g.items = append(g.items, item)
	}

	// groups in first-seen order keep the output stable
	for _, plain := range order {
		if g := groups[plain]; len(g.items) > 1 {
			report.Reused = append(report.Reused, g.items...)
		}
	}

	report.SecurityScore = securityScore(len(entries), len(report.Weak), len(report.Reused), len(report.Old))

	s.logger.Info(ctx, "security audit",
		"user_id", userID,
		"weak", len(report.Weak),
		"reused", len(report.Reused),
		"old", len(report.Old),
		"score", report.SecurityScore,
	)
	return report, nil
}

func securityScore(total, weak, reused, old int) int {
	if total == 0 {
		return 100
	}
	score := 100 - weakPenalty*weak - reusedPenalty*reused - oldPenalty*old
	return max(0, min(100, score))
}

func toAuditItem(e *models.Entry, score int) AuditItem {
	return AuditItem{
		EntryID:       e.ID,
		AccountName:   e.AccountName,
		Category:      e.Category,
		StrengthScore: score,
		StrengthLabel: passgen.StrengthLabel(score),
		LastChanged:   e.LastChanged().Format(AuditDateLayout),
	}
}
