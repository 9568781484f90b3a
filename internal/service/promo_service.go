package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/digkill/salonstudio/internal/apperr"
	"github.com/digkill/salonstudio/internal/models"
	"github.com/digkill/salonstudio/internal/repository"
)

var ErrPromoInvalid = errors.New("promo code invalid")
var ErrPromoAlreadyRedeemed = errors.New("promo code already redeemed")
var ErrPromoExhausted = errors.New("promo code exhausted")

type PromoService struct {
	promos *repository.PromoRepository
	now    func() time.Time
}

func NewPromoService(promos *repository.PromoRepository) *PromoService {
	return &PromoService{promos: promos, now: time.Now}
}

type CreatePromoInput struct {
	Code         string `json:"code" validate:"required,max=64"`
	Tier         string `json:"tier" validate:"required,oneof=basic pro"`
	DurationDays int    `json:"duration_days" validate:"gt=0"`
	MaxUses      int    `json:"max_uses" validate:"gt=0"`
}

type UpdatePromoInput struct {
	Code         *string `json:"code"`
	Tier         *string `json:"tier"`
	DurationDays *int    `json:"duration_days"`
	MaxUses      *int    `json:"max_uses"`
}

// Grant is what a redeemed code gave the account.
type Grant struct {
	Tier      models.PlanTier `json:"tier"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Apply redeems code for the account. The promo row and the profile row are
// locked together so concurrent redemptions cannot exceed max_uses.
func (s *PromoService) Apply(ctx context.Context, accountID, code string) (*Grant, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperr.Validation("promo code is required")
	}
	promo, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get promo: %w", err)
	}
	if promo == nil {
		return nil, apperr.Wrap(apperr.KindValidation, "promo code is invalid", ErrPromoInvalid)
	}

	tx, err := s.promos.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var uses, maxUses int
	row := tx.QueryRowContext(ctx, `SELECT uses, max_uses FROM promo_codes WHERE id = ? FOR UPDATE`, promo.ID)
	if err := row.Scan(&uses, &maxUses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Wrap(apperr.KindValidation, "promo code is invalid", ErrPromoInvalid)
		}
		return nil, fmt.Errorf("lock promo: %w", err)
	}
	if uses >= maxUses {
		return nil, apperr.Wrap(apperr.KindValidation, "promo code has been used up", ErrPromoExhausted)
	}

	var dummy int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM promo_redemptions WHERE account_id = ? AND promo_code_id = ?`, accountID, promo.ID).Scan(&dummy)
	switch {
	case err == nil:
		return nil, apperr.Wrap(apperr.KindValidation, "promo code already redeemed", ErrPromoAlreadyRedeemed)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("check redemption: %w", err)
	}

	var current string
	var expires sql.NullTime
	row = tx.QueryRowContext(ctx, `SELECT plan, plan_expires_at FROM profiles WHERE id = ? FOR UPDATE`, accountID)
	if err := row.Scan(&current, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("profile")
		}
		return nil, fmt.Errorf("lock profile: %w", err)
	}

	grant := &Grant{Tier: promo.Tier, ExpiresAt: promoExpiry(s.now().UTC(), models.PlanTier(current), expires, promo)}

	if _, err := tx.ExecContext(ctx, `INSERT INTO promo_redemptions (account_id, promo_code_id) VALUES (?, ?)`, accountID, promo.ID); err != nil {
		return nil, fmt.Errorf("insert redemption: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE promo_codes SET uses = uses + 1 WHERE id = ?`, promo.ID); err != nil {
		return nil, fmt.Errorf("increment promo uses: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE profiles SET plan = ?, plan_expires_at = ?, updated_at = NOW() WHERE id = ?`, promo.Tier, grant.ExpiresAt, accountID); err != nil {
		return nil, fmt.Errorf("grant promo plan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit promo tx: %w", err)
	}
	return grant, nil
}

// promoExpiry extends a running term of the same tier, otherwise starts from now.
func promoExpiry(now time.Time, current models.PlanTier, expires sql.NullTime, promo *models.PromoCode) time.Time {
	start := now
	if current == promo.Tier && expires.Valid && expires.Time.After(now) {
		start = expires.Time
	}
	return start.AddDate(0, 0, promo.DurationDays)
}

func (s *PromoService) List(ctx context.Context) ([]models.PromoCode, error) {
	return s.promos.List(ctx)
}

func (s *PromoService) Create(ctx context.Context, input CreatePromoInput) (*models.PromoCode, error) {
	tier, ok := models.ParsePlanTier(input.Tier)
	if !ok || !tier.Paid() {
		return nil, apperr.Validation("tier must be basic or pro")
	}
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, apperr.Validation("code is required")
	}
	if input.DurationDays <= 0 || input.MaxUses <= 0 {
		return nil, apperr.Validation("duration_days and max_uses must be positive")
	}
	return s.promos.Create(ctx, &models.PromoCode{
		Code:         code,
		Tier:         tier,
		DurationDays: input.DurationDays,
		MaxUses:      input.MaxUses,
	})
}

func (s *PromoService) Update(ctx context.Context, id int64, input UpdatePromoInput) (*models.PromoCode, error) {
	promo, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if promo == nil {
		return nil, apperr.NotFound("promo code")
	}
	if input.Code != nil && strings.TrimSpace(*input.Code) != "" {
		promo.Code = strings.TrimSpace(*input.Code)
	}
	if input.Tier != nil {
		tier, ok := models.ParsePlanTier(*input.Tier)
		if !ok || !tier.Paid() {
			return nil, apperr.Validation("tier must be basic or pro")
		}
		promo.Tier = tier
	}
	if input.DurationDays != nil && *input.DurationDays > 0 {
		promo.DurationDays = *input.DurationDays
	}
	if input.MaxUses != nil && *input.MaxUses > 0 {
		promo.MaxUses = *input.MaxUses
	}
	return s.promos.Update(ctx, promo)
}

func (s *PromoService) Delete(ctx context.Context, id int64) error {
	return s.promos.Delete(ctx, id)
}
