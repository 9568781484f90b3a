package models

import (
	"encoding/json"
	"time"
)

type PlanTier string

const (
	PlanFree  PlanTier = "free"
	PlanBasic PlanTier = "basic"
	PlanPro   PlanTier = "pro"
)

// Paid reports whether the tier is a paid subscription level.
func (t PlanTier) Paid() bool {
	return t == PlanBasic || t == PlanPro
}

func ParsePlanTier(value string) (PlanTier, bool) {
	switch PlanTier(value) {
	case PlanFree, PlanBasic, PlanPro:
		return PlanTier(value), true
	default:
		return "", false
	}
}

type TreatmentType string

const (
	TreatmentColor TreatmentType = "color"
	TreatmentCut   TreatmentType = "cut"
	TreatmentPerm  TreatmentType = "perm"
)

func ParseTreatmentType(value string) (TreatmentType, bool) {
	switch TreatmentType(value) {
	case TreatmentColor, TreatmentCut, TreatmentPerm:
		return TreatmentType(value), true
	default:
		return "", false
	}
}

type ConsultationKind string

const (
	KindAnalysis  ConsultationKind = "analysis"
	KindComposite ConsultationKind = "composite"
	KindStyle     ConsultationKind = "style"
	KindRecipe    ConsultationKind = "recipe"
)

// Profile is the per-account row holding plan tier and usage counters.
// DailyUsage is only meaningful for the day stored in LastUsageDate.
type Profile struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	DisplayName    string     `json:"display_name"`
	SalonName      string     `json:"salon_name"`
	Plan           PlanTier   `json:"plan"`
	PlanExpiresAt  *time.Time `json:"plan_expires_at,omitempty"`
	DailyUsage     int        `json:"daily_usage"`
	LastUsageDate  string     `json:"last_usage_date,omitempty"`
	TelegramChatID *int64     `json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// EffectivePlan downgrades an expired paid term to the free tier.
func (p *Profile) EffectivePlan(now time.Time) PlanTier {
	if p.PlanExpiresAt != nil && !p.PlanExpiresAt.After(now) {
		return PlanFree
	}
	return p.Plan
}

type Customer struct {
	ID        string    `json:"id"`
	AccountID string    `json:"-"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Consultation is an immutable record of one analysis, style or recipe invocation.
type Consultation struct {
	ID            string            `json:"id"`
	AccountID     string            `json:"-"`
	CustomerID    string            `json:"customer_id"`
	Kind          ConsultationKind  `json:"kind"`
	TreatmentType TreatmentType     `json:"treatment_type,omitempty"`
	ImageURLs     map[string]string `json:"image_urls"`
	Result        json.RawMessage   `json:"result"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Timeline is an immutable record of one future-state prediction.
type Timeline struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"-"`
	CustomerID     string          `json:"customer_id"`
	TreatmentType  TreatmentType   `json:"treatment_type"`
	SourceImageURL string          `json:"source_image_url"`
	Result         json.RawMessage `json:"result"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Plan struct {
	ID              int64     `json:"id"`
	Tier            PlanTier  `json:"tier"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Currency        string    `json:"currency"`
	PriceMinorUnits int       `json:"price_minor_units"`
	DurationDays    int       `json:"duration_days"`
	StripePriceID   string    `json:"-"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Payment struct {
	ID             int64
	AccountID      string
	PlanID         *int64
	Provider       string
	ProviderCharge string
	Currency       string
	Amount         int
	Status         string
	RawPayload     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type PromoCode struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	Tier         PlanTier  `json:"tier"`
	DurationDays int       `json:"duration_days"`
	MaxUses      int       `json:"max_uses"`
	Uses         int       `json:"uses"`
	CreatedAt    time.Time `json:"created_at"`
}
