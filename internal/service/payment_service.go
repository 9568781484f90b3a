package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/digkill/salonstudio/internal/apperr"
	"github.com/digkill/salonstudio/internal/config"
	"github.com/digkill/salonstudio/internal/metrics"
	"github.com/digkill/salonstudio/internal/models"
)

const (
	providerYooKassa = "yookassa"
	providerStripe   = "stripe"

	statusPending   = "pending"
	statusSucceeded = "succeeded"
)

var ErrPaymentsDisabled = errors.New("payments are not enabled")

type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	UpdateStatus(ctx context.Context, paymentID int64, status string, payload string) error
	MarkSucceeded(ctx context.Context, paymentID int64, payload string) (bool, error)
	FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error)
}

// PlanNotifier is told about every plan change a payment causes.
type PlanNotifier interface {
	PlanActivated(p *models.Profile, tier models.PlanTier, expiresAt *time.Time)
}

type PaymentService struct {
	cfg      config.Config
	log      *slog.Logger
	payments PaymentStore
	plans    *PlanService
	profiles *ProfileService
	notifier PlanNotifier
	client   *http.Client

	yooBaseURL     string
	stripeCheckout func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewPaymentService(cfg config.Config, log *slog.Logger, payments PaymentStore, plans *PlanService, profiles *ProfileService, notifier PlanNotifier) *PaymentService {
	if cfg.StripeSecretKey != "" {
		stripe.Key = cfg.StripeSecretKey
	}
	return &PaymentService{
		cfg:      cfg,
		log:      log,
		payments: payments,
		plans:    plans,
		profiles: profiles,
		notifier: notifier,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		yooBaseURL:     "https://api.yookassa.ru",
		stripeCheckout: session.New,
	}
}

type Checkout struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

// Checkout starts a payment for planID and returns the page the designer
// should be redirected to. The plan is applied only once the provider
// confirms the payment through its webhook.
func (s *PaymentService) Checkout(ctx context.Context, accountID string, planID int64) (*Checkout, error) {
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, apperr.Validation("plan is not available")
	}

	switch s.cfg.PaymentProvider {
	case providerYooKassa:
		return s.checkoutYooKassa(ctx, accountID, plan)
	case providerStripe:
		return s.checkoutStripe(ctx, accountID, plan)
	default:
		return nil, apperr.Wrap(apperr.KindValidation, "payments are not enabled", ErrPaymentsDisabled)
	}
}

func (s *PaymentService) record(ctx context.Context, accountID string, plan *models.Plan, provider, chargeID string, payload any) error {
	planID := plan.ID
	rec := &models.Payment{
		AccountID:      accountID,
		PlanID:         &planID,
		Provider:       provider,
		ProviderCharge: chargeID,
		Currency:       plan.Currency,
		Amount:         plan.PriceMinorUnits,
		Status:         statusPending,
		RawPayload:     string(jsonMustMarshal(payload)),
	}
	if err := s.payments.Create(ctx, rec); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	metrics.RecordPayment(provider, statusPending)
	return nil
}

func (s *PaymentService) checkoutStripe(ctx context.Context, accountID string, plan *models.Plan) (*Checkout, error) {
	if plan.StripePriceID == "" {
		return nil, apperr.Validation("plan has no stripe price configured")
	}
	meta := map[string]string{
		"account_id": accountID,
		"tier":       string(plan.Tier),
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(accountID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(plan.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
		},
		SuccessURL: stripe.String(s.cfg.FrontendURL + "/billing/success"),
		CancelURL:  stripe.String(s.cfg.FrontendURL + "/billing/cancel"),
	}
	params.Context = ctx
	for k, v := range meta {
		params.AddMetadata(k, v)
	}

	sess, err := s.stripeCheckout(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}
	if err := s.record(ctx, accountID, plan, providerStripe, sess.ID, map[string]string{"session_id": sess.ID}); err != nil {
		return nil, err
	}
	return &Checkout{Provider: providerStripe, URL: sess.URL}, nil
}

func (s *PaymentService) checkoutYooKassa(ctx context.Context, accountID string, plan *models.Plan) (*Checkout, error) {
	payment, err := s.createYooKassaPayment(ctx, plan)
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, accountID, plan, providerYooKassa, payment.ID, payment); err != nil {
		return nil, err
	}
	return &Checkout{Provider: providerYooKassa, URL: payment.Confirmation.URL}, nil
}

type yooPaymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

func (s *PaymentService) createYooKassaPayment(ctx context.Context, plan *models.Plan) (*yooPaymentResponse, error) {
	if s.cfg.YooKassaShopID == "" || s.cfg.YooKassaSecretKey == "" {
		return nil, fmt.Errorf("yookassa credentials are not configured")
	}

	returnURL := s.cfg.YooKassaReturnURL
	if returnURL == "" {
		returnURL = s.cfg.FrontendURL + "/billing/success"
	}

	payload := map[string]any{
		"amount": map[string]string{
			"value":    fmt.Sprintf("%.2f", float64(plan.PriceMinorUnits)/100),
			"currency": plan.Currency,
		},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		},
		"description": fmt.Sprintf("%s plan, %d days", plan.Title, plan.DurationDays),
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.yooBaseURL+"/v3/payments", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build yookassa request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	req.SetBasicAuth(s.cfg.YooKassaShopID, s.cfg.YooKassaSecretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("yookassa http %d", resp.StatusCode)
	}

	var parsed yooPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode yookassa response: %w", err)
	}
	if parsed.ID == "" || parsed.Confirmation.URL == "" {
		return nil, fmt.Errorf("invalid yookassa response (missing id or confirmation url)")
	}
	if parsed.Status == "" {
		parsed.Status = statusPending
	}
	return &parsed, nil
}

// fetchYooKassaPayment reads the payment's current state from the provider.
// Webhook bodies are unauthenticated, so only this answer decides the status.
func (s *PaymentService) fetchYooKassaPayment(ctx context.Context, id string) (*yooPaymentResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.yooBaseURL+"/v3/payments/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("build yookassa request: %w", err)
	}
	req.SetBasicAuth(s.cfg.YooKassaShopID, s.cfg.YooKassaSecretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("yookassa http %d", resp.StatusCode)
	}

	var parsed yooPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode yookassa response: %w", err)
	}
	if parsed.ID != id || parsed.Status == "" {
		return nil, fmt.Errorf("invalid yookassa response for payment %s", id)
	}
	return &parsed, nil
}

// HandleYooKassaWebhook applies a paid plan once the provider confirms success.
// The notification only names the payment; its status is fetched back from
// YooKassa. Redelivered notifications are acknowledged without applying the
// plan twice.
func (s *PaymentService) HandleYooKassaWebhook(ctx context.Context, payload []byte) error {
	var evt struct {
		Event  string `json:"event"`
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid webhook payload", err)
	}
	if evt.Object.ID == "" {
		return apperr.Validation("webhook missing payment id")
	}

	pmt, err := s.payments.FindByProviderCharge(ctx, providerYooKassa, evt.Object.ID)
	if err != nil {
		return fmt.Errorf("find payment: %w", err)
	}
	if pmt == nil {
		return apperr.NotFound("payment")
	}
	if pmt.Status == statusSucceeded {
		return nil
	}

	remote, err := s.fetchYooKassaPayment(ctx, evt.Object.ID)
	if err != nil {
		return fmt.Errorf("verify payment %s: %w", evt.Object.ID, err)
	}
	if remote.Status != evt.Object.Status {
		s.log.Warn("yookassa notification disagrees with payment state",
			"payment_id", evt.Object.ID, "notified", evt.Object.Status, "actual", remote.Status)
	}
	raw := string(jsonMustMarshal(remote))

	if remote.Status != statusSucceeded {
		if err := s.payments.UpdateStatus(ctx, pmt.ID, remote.Status, raw); err != nil {
			return err
		}
		metrics.RecordPayment(providerYooKassa, remote.Status)
		return nil
	}
	return s.settle(ctx, pmt, raw, func(plan *models.Plan) (models.PlanTier, int) {
		return plan.Tier, plan.DurationDays
	})
}

// HandleStripeWebhook verifies the signature and reacts to subscription
// lifecycle events. Unknown event types are ignored.
func (s *PaymentService) HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	if s.cfg.StripeWebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret missing")
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.cfg.StripeWebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "signature verification failed", err)
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return apperr.Wrap(apperr.KindValidation, "invalid session payload", err)
		}
		pmt, err := s.payments.FindByProviderCharge(ctx, providerStripe, sess.ID)
		if err != nil {
			return fmt.Errorf("find payment: %w", err)
		}
		if pmt == nil {
			return apperr.NotFound("payment")
		}
		// Subscriptions stay active until Stripe reports the deletion.
		return s.settle(ctx, pmt, string(payload), func(plan *models.Plan) (models.PlanTier, int) {
			return plan.Tier, 0
		})
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return apperr.Wrap(apperr.KindValidation, "invalid subscription payload", err)
		}
		accountID := sub.Metadata["account_id"]
		if accountID == "" {
			return apperr.Validation("subscription missing account_id metadata")
		}
		p, _, err := s.profiles.GrantPlan(ctx, accountID, models.PlanFree, 0)
		if err != nil {
			return fmt.Errorf("downgrade account %s: %w", accountID, err)
		}
		metrics.RecordPayment(providerStripe, "canceled")
		s.notifier.PlanActivated(p, models.PlanFree, nil)
		s.log.Info("subscription ended", "account_id", accountID)
	default:
		s.log.Debug("stripe event ignored", "type", event.Type)
	}
	return nil
}

// settle marks pmt succeeded and applies its plan. Only the call that flips
// the status applies the plan.
func (s *PaymentService) settle(ctx context.Context, pmt *models.Payment, payload string, term func(*models.Plan) (models.PlanTier, int)) error {
	if pmt.PlanID == nil {
		return fmt.Errorf("payment %d missing plan_id", pmt.ID)
	}
	plan, err := s.plans.GetByID(ctx, *pmt.PlanID)
	if err != nil {
		return fmt.Errorf("get plan: %w", err)
	}
	won, err := s.payments.MarkSucceeded(ctx, pmt.ID, payload)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	tier, days := term(plan)
	p, expires, err := s.profiles.GrantPlan(ctx, pmt.AccountID, tier, days)
	if err != nil {
		// Reopen the payment so the provider's redelivery retries the grant.
		if rerr := s.payments.UpdateStatus(ctx, pmt.ID, statusPending, payload); rerr != nil {
			s.log.Error("reopen payment", "payment_id", pmt.ID, "err", rerr)
		}
		return fmt.Errorf("apply plan: %w", err)
	}
	metrics.RecordPayment(pmt.Provider, statusSucceeded)
	s.notifier.PlanActivated(p, tier, expires)
	s.log.Info("plan activated", "account_id", pmt.AccountID, "tier", tier, "provider", pmt.Provider)
	return nil
}

func jsonMustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
