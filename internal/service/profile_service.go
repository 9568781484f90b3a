package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/digkill/salonstudio/internal/apperr"
	"github.com/digkill/salonstudio/internal/models"
	"github.com/digkill/salonstudio/internal/quota"
)

type ProfileStore interface {
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	Ensure(ctx context.Context, id, email string) (*models.Profile, bool, error)
	UpdateDetails(ctx context.Context, id, displayName, salonName string, telegramChatID *int64) error
	SetPlan(ctx context.Context, id string, plan models.PlanTier, expiresAt *time.Time) error
	ListTelegramChatIDs(ctx context.Context) ([]int64, error)
}

type UsageChecker interface {
	Check(ctx context.Context, accountID string) quota.Decision
}

type ProfileService struct {
	profiles ProfileStore
	usage    UsageChecker
	now      func() time.Time
}

func NewProfileService(profiles ProfileStore, usage UsageChecker) *ProfileService {
	return &ProfileService{profiles: profiles, usage: usage, now: time.Now}
}

// Usage is the quota view shown on the account page.
type Usage struct {
	Plan      models.PlanTier `json:"plan"`
	Limit     int             `json:"limit"`
	Remaining int             `json:"remaining"`
	Unlimited bool            `json:"unlimited"`
}

type Me struct {
	Profile *models.Profile `json:"profile"`
	Usage   Usage           `json:"usage"`
}

type UpdateProfileInput struct {
	DisplayName    *string `json:"display_name" validate:"omitempty,max=255"`
	SalonName      *string `json:"salon_name" validate:"omitempty,max=255"`
	TelegramChatID *int64  `json:"telegram_chat_id"`
	// ClearTelegram unlinks the chat.
	ClearTelegram bool `json:"clear_telegram"`
}

// Ensure creates the profile on the first authenticated request.
func (s *ProfileService) Ensure(ctx context.Context, accountID, email string) (*models.Profile, bool, error) {
	p, created, err := s.profiles.Ensure(ctx, accountID, email)
	if err != nil {
		return nil, false, fmt.Errorf("ensure profile: %w", err)
	}
	return p, created, nil
}

func (s *ProfileService) Get(ctx context.Context, accountID string) (*models.Profile, error) {
	p, err := s.profiles.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if p == nil {
		return nil, apperr.NotFound("profile")
	}
	return p, nil
}

func (s *ProfileService) Me(ctx context.Context, accountID string) (*Me, error) {
	p, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	d := s.usage.Check(ctx, accountID)
	return &Me{
		Profile: p,
		Usage: Usage{
			Plan:      p.EffectivePlan(s.now()),
			Limit:     d.Limit,
			Remaining: d.Remaining,
			Unlimited: d.Limit >= quota.Unlimited,
		},
	}, nil
}

func (s *ProfileService) Update(ctx context.Context, accountID string, input UpdateProfileInput) (*models.Profile, error) {
	p, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	displayName, salonName, chatID := p.DisplayName, p.SalonName, p.TelegramChatID
	if input.DisplayName != nil {
		displayName = strings.TrimSpace(*input.DisplayName)
	}
	if input.SalonName != nil {
		salonName = strings.TrimSpace(*input.SalonName)
	}
	if input.TelegramChatID != nil {
		chatID = input.TelegramChatID
	}
	if input.ClearTelegram {
		chatID = nil
	}
	if err := s.profiles.UpdateDetails(ctx, accountID, displayName, salonName, chatID); err != nil {
		return nil, err
	}
	return s.Get(ctx, accountID)
}

// GrantPlan moves the account to tier. A positive days value extends the
// current paid term of the same tier instead of restarting it.
func (s *ProfileService) GrantPlan(ctx context.Context, accountID string, tier models.PlanTier, days int) (*models.Profile, *time.Time, error) {
	p, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	var expires *time.Time
	if tier.Paid() && days > 0 {
		start := s.now().UTC()
		if p.Plan == tier && p.PlanExpiresAt != nil && p.PlanExpiresAt.After(start) {
			start = *p.PlanExpiresAt
		}
		end := start.AddDate(0, 0, days)
		expires = &end
	}
	if err := s.profiles.SetPlan(ctx, accountID, tier, expires); err != nil {
		return nil, nil, err
	}
	p.Plan, p.PlanExpiresAt = tier, expires
	return p, expires, nil
}

func (s *ProfileService) ListTelegramChatIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.profiles.ListTelegramChatIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list telegram chat ids: %w", err)
	}
	return ids, nil
}
