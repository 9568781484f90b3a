package service

import (
	"context"
	"fmt"

	"github.com/digkill/salonstudio/internal/apperr"
	"github.com/digkill/salonstudio/internal/config"
	"github.com/digkill/salonstudio/internal/models"
)

type PlanStore interface {
	List(ctx context.Context) ([]models.Plan, error)
	ListActive(ctx context.Context) ([]models.Plan, error)
	GetActiveByTier(ctx context.Context, tier models.PlanTier) (*models.Plan, error)
	GetByID(ctx context.Context, id int64) (*models.Plan, error)
	Create(ctx context.Context, plan *models.Plan) (*models.Plan, error)
	Update(ctx context.Context, plan *models.Plan) (*models.Plan, error)
	Delete(ctx context.Context, id int64) error
}

type PlanService struct {
	cfg  config.Config
	repo PlanStore
}

type CreatePlanInput struct {
	Tier            string `json:"tier" validate:"required,oneof=basic pro"`
	Title           string `json:"title" validate:"required,max=255"`
	Description     string `json:"description"`
	Currency        string `json:"currency" validate:"omitempty,len=3"`
	PriceMinorUnits int    `json:"price_minor_units" validate:"gt=0"`
	DurationDays    int    `json:"duration_days" validate:"gte=0"`
	StripePriceID   string `json:"stripe_price_id"`
	IsActive        *bool  `json:"is_active"`
}

type UpdatePlanInput struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Currency        *string `json:"currency"`
	PriceMinorUnits *int    `json:"price_minor_units"`
	DurationDays    *int    `json:"duration_days"`
	StripePriceID   *string `json:"stripe_price_id"`
	IsActive        *bool   `json:"is_active"`
}

func NewPlanService(cfg config.Config, repo PlanStore) *PlanService {
	return &PlanService{cfg: cfg, repo: repo}
}

// EnsureDefaultPlans seeds one active plan per paid tier on first start.
func (s *PlanService) EnsureDefaultPlans(ctx context.Context) error {
	defaults := []models.Plan{
		{
			Tier:            models.PlanBasic,
			Title:           "Basic",
			Description:     "Unlimited consultations for a single stylist",
			PriceMinorUnits: s.cfg.BasicPriceMinor,
			StripePriceID:   s.cfg.StripePriceBasic,
		},
		{
			Tier:            models.PlanPro,
			Title:           "Pro",
			Description:     "Unlimited consultations, timelines and recipes for the whole salon",
			PriceMinorUnits: s.cfg.ProPriceMinor,
			StripePriceID:   s.cfg.StripePricePro,
		},
	}
	for _, plan := range defaults {
		plan := plan
		existing, err := s.repo.GetActiveByTier(ctx, plan.Tier)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		plan.Currency = s.cfg.PaymentCurrency
		plan.DurationDays = s.cfg.PlanTermDays
		plan.IsActive = true
		if _, err := s.repo.Create(ctx, &plan); err != nil {
			return fmt.Errorf("create default %s plan: %w", plan.Tier, err)
		}
	}
	return nil
}

func (s *PlanService) List(ctx context.Context) ([]models.Plan, error) {
	return s.repo.List(ctx)
}

func (s *PlanService) ListActive(ctx context.Context) ([]models.Plan, error) {
	return s.repo.ListActive(ctx)
}

func (s *PlanService) Create(ctx context.Context, input CreatePlanInput) (*models.Plan, error) {
	tier, ok := models.ParsePlanTier(input.Tier)
	if !ok || !tier.Paid() {
		return nil, apperr.Validation("tier must be basic or pro")
	}
	if input.Title == "" {
		return nil, apperr.Validation("title is required")
	}
	if input.PriceMinorUnits <= 0 {
		return nil, apperr.Validation("price must be positive")
	}
	if input.Currency == "" {
		input.Currency = s.cfg.PaymentCurrency
	}
	if input.DurationDays <= 0 {
		input.DurationDays = s.cfg.PlanTermDays
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	plan := models.Plan{
		Tier:            tier,
		Title:           input.Title,
		Description:     input.Description,
		Currency:        input.Currency,
		PriceMinorUnits: input.PriceMinorUnits,
		DurationDays:    input.DurationDays,
		StripePriceID:   input.StripePriceID,
		IsActive:        isActive,
	}
	return s.repo.Create(ctx, &plan)
}

func (s *PlanService) Update(ctx context.Context, id int64, input UpdatePlanInput) (*models.Plan, error) {
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Title != nil && *input.Title != "" {
		existing.Title = *input.Title
	}
	if input.Description != nil {
		existing.Description = *input.Description
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = *input.Currency
	}
	if input.PriceMinorUnits != nil && *input.PriceMinorUnits > 0 {
		existing.PriceMinorUnits = *input.PriceMinorUnits
	}
	if input.DurationDays != nil && *input.DurationDays > 0 {
		existing.DurationDays = *input.DurationDays
	}
	if input.StripePriceID != nil {
		existing.StripePriceID = *input.StripePriceID
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	return s.repo.Update(ctx, existing)
}

func (s *PlanService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *PlanService) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	plan, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, apperr.NotFound("plan")
	}
	return plan, nil
}
