package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/salonstudio/internal/models"
)

type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, tier, title, COALESCE(description, ''), currency, price_minor_units, duration_days, COALESCE(stripe_price_id, ''), is_active, created_at, updated_at`

func scanPlan(row interface{ Scan(...any) error }) (*models.Plan, error) {
	var plan models.Plan
	var tier string
	if err := row.Scan(&plan.ID, &tier, &plan.Title, &plan.Description, &plan.Currency, &plan.PriceMinorUnits, &plan.DurationDays, &plan.StripePriceID, &plan.IsActive, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		return nil, err
	}
	plan.Tier = models.PlanTier(tier)
	return &plan, nil
}

func (r *PlanRepository) queryPlans(ctx context.Context, query string, args ...any) ([]models.Plan, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	plans := []models.Plan{}
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func (r *PlanRepository) List(ctx context.Context) ([]models.Plan, error) {
	return r.queryPlans(ctx, `SELECT `+planColumns+` FROM pricing_plans ORDER BY id ASC`)
}

func (r *PlanRepository) ListActive(ctx context.Context) ([]models.Plan, error) {
	return r.queryPlans(ctx, `SELECT `+planColumns+` FROM pricing_plans WHERE is_active = 1 ORDER BY price_minor_units ASC`)
}

// GetActiveByTier returns the cheapest active plan selling the tier.
func (r *PlanRepository) GetActiveByTier(ctx context.Context, tier models.PlanTier) (*models.Plan, error) {
	const query = `SELECT ` + planColumns + ` FROM pricing_plans WHERE tier = ? AND is_active = 1 ORDER BY price_minor_units ASC LIMIT 1`
	plan, err := scanPlan(r.db.QueryRowContext(ctx, query, tier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get plan by tier: %w", err)
	}
	return plan, nil
}

func (r *PlanRepository) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	plan, err := scanPlan(r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM pricing_plans WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	const query = `
INSERT INTO pricing_plans (tier, title, description, currency, price_minor_units, duration_days, stripe_price_id, is_active)
VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, NULLIF(?, ''), ?)`
	res, err := r.db.ExecContext(ctx, query, plan.Tier, plan.Title, plan.Description, plan.Currency, plan.PriceMinorUnits, plan.DurationDays, plan.StripePriceID, plan.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("plan last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PlanRepository) Update(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	const query = `
UPDATE pricing_plans
SET tier = ?, title = ?, description = NULLIF(?, ''), currency = ?, price_minor_units = ?, duration_days = ?, stripe_price_id = NULLIF(?, ''), is_active = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, plan.Tier, plan.Title, plan.Description, plan.Currency, plan.PriceMinorUnits, plan.DurationDays, plan.StripePriceID, plan.IsActive, plan.ID); err != nil {
		return nil, fmt.Errorf("update plan: %w", err)
	}
	return r.GetByID(ctx, plan.ID)
}

func (r *PlanRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM pricing_plans WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return nil
}
