package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/salonstudio/internal/apperr"
	"github.com/digkill/salonstudio/internal/kie"
	"github.com/digkill/salonstudio/internal/metrics"
	"github.com/digkill/salonstudio/internal/models"
	"github.com/digkill/salonstudio/internal/quota"
	"github.com/digkill/salonstudio/internal/results"
	"github.com/digkill/salonstudio/internal/storage"
)

// QuotaGuard is the daily usage cap shared by every capability.
type QuotaGuard interface {
	Check(ctx context.Context, accountID string) quota.Decision
	Increment(ctx context.Context, accountID string) error
	Reserve(ctx context.Context, accountID string) (quota.Decision, bool)
	Release(ctx context.Context, accountID string) error
}

type PhotoUploader interface {
	Upload(ctx context.Context, key storage.Key, data []byte, contentType string) (string, error)
}

type VisionAnalyzer interface {
	Analyze(ctx context.Context, system, prompt string, imageURLs []string) (string, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, opts kie.GenerateOptions) (*kie.Image, error)
}

type CustomerLookup interface {
	Get(ctx context.Context, accountID, id string) (*models.Customer, error)
}

type ConsultationStore interface {
	Create(ctx context.Context, c *models.Consultation) error
	ListByCustomer(ctx context.Context, accountID, customerID string) ([]models.Consultation, error)
	Get(ctx context.Context, accountID, id string) (*models.Consultation, error)
	Delete(ctx context.Context, accountID, id string) (bool, error)
}

type TimelineStore interface {
	Create(ctx context.Context, t *models.Timeline) error
	ListByCustomer(ctx context.Context, accountID, customerID string) ([]models.Timeline, error)
	Delete(ctx context.Context, accountID, id string) (bool, error)
}

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// CompositeAngles lists the accepted composite views in prompt order.
var CompositeAngles = []string{"front", "back", "left", "right", "top"}

// Photo is one uploaded image. Field is the form field it arrived in.
type Photo struct {
	Field string
	Data  []byte
}

// Outcome is what a capability returns to the caller. RecordID is empty when
// the result could not be stored.
type Outcome[T results.Result] struct {
	RecordID  string            `json:"record_id,omitempty"`
	ImageURLs map[string]string `json:"image_urls"`
	Result    *T                `json:"result"`
}

type StudioConfig struct {
	MaxUploadBytes      int64
	TimelineWeeks       int
	TimelineConcurrency int
	StrictQuota         bool
}

type StudioService struct {
	cfg           StudioConfig
	log           *slog.Logger
	guard         QuotaGuard
	customers     CustomerLookup
	uploader      PhotoUploader
	vision        VisionAnalyzer
	images        ImageGenerator
	consultations ConsultationStore
	timelines     TimelineStore
}

type StudioDeps struct {
	Guard         QuotaGuard
	Customers     CustomerLookup
	Uploader      PhotoUploader
	Vision        VisionAnalyzer
	Images        ImageGenerator
	Consultations ConsultationStore
	Timelines     TimelineStore
}

func NewStudioService(cfg StudioConfig, log *slog.Logger, deps StudioDeps) *StudioService {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.TimelineWeeks <= 0 {
		cfg.TimelineWeeks = 5
	}
	if cfg.TimelineConcurrency <= 0 {
		cfg.TimelineConcurrency = cfg.TimelineWeeks
	}
	return &StudioService{
		cfg:           cfg,
		log:           log,
		guard:         deps.Guard,
		customers:     deps.Customers,
		uploader:      deps.Uploader,
		vision:        deps.Vision,
		images:        deps.Images,
		consultations: deps.Consultations,
		timelines:     deps.Timelines,
	}
}

// invocation describes one quota-consuming capability run.
type invocation[T results.Result] struct {
	name   string
	prompt string
	photos []Photo
	// enrich runs after parsing and before the charge. It must not fail.
	enrich func(ctx context.Context, res *T, urls map[string]string)
	// persist stores the result and returns the new record id.
	persist func(ctx context.Context, urls map[string]string, raw json.RawMessage) (string, error)
}

// run sequences a capability: quota, validation, upload, AI call, parse,
// charge, persist. Nothing is charged unless a usable result was produced.
func run[T results.Result](ctx context.Context, s *StudioService, accountID, customerID string, inv invocation[T]) (out *Outcome[T], err error) {
	started := time.Now()
	defer func() {
		metrics.RecordCapability(inv.name, outcomeLabel(err), time.Since(started).Seconds())
	}()

	if accountID == "" {
		return nil, apperr.Unauthenticated()
	}

	reserved := false
	if s.cfg.StrictQuota {
		decision, ok := s.guard.Reserve(ctx, accountID)
		if !ok {
			metrics.RecordQuotaRejection()
			return nil, apperr.QuotaExceeded(decision.Remaining)
		}
		reserved = true
		defer func() {
			if err == nil {
				return
			}
			if relErr := s.guard.Release(context.WithoutCancel(ctx), accountID); relErr != nil {
				s.log.Error("release reserved quota", "account_id", accountID, "capability", inv.name, "err", relErr)
			}
		}()
	} else if decision := s.guard.Check(ctx, accountID); !decision.Allowed {
		metrics.RecordQuotaRejection()
		return nil, apperr.QuotaExceeded(decision.Remaining)
	}

	if err := s.requireCustomer(ctx, accountID, customerID); err != nil {
		return nil, err
	}
	contentTypes, err := s.validatePhotos(inv.photos)
	if err != nil {
		return nil, err
	}

	urls, err := s.uploadPhotos(ctx, storage.Key{AccountID: accountID, EntityID: customerID}, inv.photos, contentTypes)
	if err != nil {
		return nil, err
	}

	ordered := make([]string, 0, len(inv.photos))
	for _, p := range inv.photos {
		ordered = append(ordered, urls[p.Field])
	}
	raw, err := s.vision.Analyze(ctx, systemPrompt, inv.prompt, ordered)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAI, "the AI service failed to analyze the photo", err)
	}
	res, err := results.Parse[T](raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAI, "no usable AI response", err)
	}
	if inv.enrich != nil {
		inv.enrich(ctx, res, urls)
	}

	// The result is paid for from here on; a cancelled client must not skip
	// the charge or the record.
	bg := context.WithoutCancel(ctx)
	if !reserved {
		if incErr := s.guard.Increment(bg, accountID); incErr != nil {
			s.log.Error("increment usage", "account_id", accountID, "capability", inv.name, "err", incErr)
		}
	}

	out = &Outcome[T]{ImageURLs: urls, Result: res}
	body, mErr := json.Marshal(res)
	if mErr == nil {
		out.RecordID, mErr = inv.persist(bg, urls, body)
	}
	if mErr != nil {
		metrics.RecordPersistenceWarning(inv.name)
		s.log.Warn("persistence warning: result delivered but not stored",
			"account_id", accountID, "customer_id", customerID, "capability", inv.name, "err", mErr)
		out.RecordID = ""
	}
	return out, nil
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch apperr.KindOf(err) {
	case apperr.KindQuotaExceeded:
		return "quota"
	case apperr.KindValidation, apperr.KindNotFound:
		return "invalid"
	case apperr.KindStorage:
		return "storage_error"
	case apperr.KindAI:
		return "ai_error"
	default:
		return "error"
	}
}

func (s *StudioService) requireCustomer(ctx context.Context, accountID, customerID string) error {
	if customerID == "" {
		return apperr.NotFound("customer")
	}
	c, err := s.customers.Get(ctx, accountID, customerID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "could not load customer", err)
	}
	if c == nil {
		return apperr.NotFound("customer")
	}
	return nil
}

// validatePhotos sniffs every photo and returns its content type by field.
func (s *StudioService) validatePhotos(photos []Photo) (map[string]string, error) {
	types := make(map[string]string, len(photos))
	for _, p := range photos {
		if len(p.Data) == 0 {
			return nil, apperr.Validation("%s image is required", p.Field)
		}
		if int64(len(p.Data)) > s.cfg.MaxUploadBytes {
			return nil, apperr.Validation("%s image exceeds the %s limit", p.Field, formatBytes(s.cfg.MaxUploadBytes))
		}
		ct := mimetype.Detect(p.Data).String()
		if !allowedImageTypes[ct] {
			return nil, apperr.Validation("%s image must be JPEG, PNG or WebP, got %s", p.Field, ct)
		}
		types[p.Field] = ct
	}
	return types, nil
}

func formatBytes(n int64) string {
	if n >= 1<<20 {
		return fmt.Sprintf("%d MB", n>>20)
	}
	return fmt.Sprintf("%d byte", n)
}

func (s *StudioService) uploadPhotos(ctx context.Context, key storage.Key, photos []Photo, contentTypes map[string]string) (map[string]string, error) {
	urls := make([]string, len(photos))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range photos {
		i, p := i, p
		g.Go(func() error {
			url, err := s.uploader.Upload(gctx, key, p.Data, contentTypes[p.Field])
			if err != nil {
				return fmt.Errorf("upload %s: %w", p.Field, err)
			}
			metrics.RecordUpload(len(p.Data))
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "could not store the uploaded photo", err)
	}
	out := make(map[string]string, len(photos))
	for i, p := range photos {
		out[p.Field] = urls[i]
	}
	return out, nil
}

func (s *StudioService) consultationPersister(accountID, customerID string, kind models.ConsultationKind, treatment models.TreatmentType) func(context.Context, map[string]string, json.RawMessage) (string, error) {
	return func(ctx context.Context, urls map[string]string, raw json.RawMessage) (string, error) {
		rec := &models.Consultation{
			AccountID:     accountID,
			CustomerID:    customerID,
			Kind:          kind,
			TreatmentType: treatment,
			ImageURLs:     urls,
			Result:        raw,
		}
		if err := s.consultations.Create(ctx, rec); err != nil {
			return "", err
		}
		return rec.ID, nil
	}
}

func parseTreatment(value string) (models.TreatmentType, error) {
	if value == "" {
		return "", apperr.Validation("treatment_type is required")
	}
	t, ok := models.ParseTreatmentType(value)
	if !ok {
		return "", apperr.Validation("treatment_type must be one of color, cut, perm")
	}
	return t, nil
}

func (s *StudioService) AnalyzePhoto(ctx context.Context, accountID, customerID string, photo Photo) (*Outcome[results.HairAnalysis], error) {
	photo.Field = "image"
	return run(ctx, s, accountID, customerID, invocation[results.HairAnalysis]{
		name:    string(models.KindAnalysis),
		prompt:  analysisPrompt,
		photos:  []Photo{photo},
		persist: s.consultationPersister(accountID, customerID, models.KindAnalysis, ""),
	})
}

// AnalyzeComposite requires the front view; the other angles are optional.
func (s *StudioService) AnalyzeComposite(ctx context.Context, accountID, customerID string, photos []Photo) (*Outcome[results.CompositeAnalysis], error) {
	byAngle := make(map[string]Photo, len(photos))
	for _, p := range photos {
		byAngle[p.Field] = p
	}
	ordered := make([]Photo, 0, len(CompositeAngles))
	angles := make([]string, 0, len(CompositeAngles))
	for _, angle := range CompositeAngles {
		p, ok := byAngle[angle]
		if !ok && angle != "front" {
			continue
		}
		p.Field = angle
		ordered = append(ordered, p)
		angles = append(angles, angle)
	}
	return run(ctx, s, accountID, customerID, invocation[results.CompositeAnalysis]{
		name:    string(models.KindComposite),
		prompt:  buildCompositePrompt(angles),
		photos:  ordered,
		persist: s.consultationPersister(accountID, customerID, models.KindComposite, ""),
	})
}

func (s *StudioService) RecommendStyles(ctx context.Context, accountID, customerID string, photo Photo) (*Outcome[results.StyleRecommendations], error) {
	photo.Field = "image"
	return run(ctx, s, accountID, customerID, invocation[results.StyleRecommendations]{
		name:    string(models.KindStyle),
		prompt:  stylePrompt,
		photos:  []Photo{photo},
		persist: s.consultationPersister(accountID, customerID, models.KindStyle, ""),
	})
}

func (s *StudioService) GenerateRecipe(ctx context.Context, accountID, customerID string, current, desired Photo, treatment string) (*Outcome[results.Recipe], error) {
	current.Field, desired.Field = "current", "desired"
	inv := invocation[results.Recipe]{
		name:   string(models.KindRecipe),
		photos: []Photo{current, desired},
	}
	return withTreatment(ctx, s, accountID, treatment, func(t models.TreatmentType) (*Outcome[results.Recipe], error) {
		inv.prompt = buildRecipePrompt(t)
		inv.persist = s.consultationPersister(accountID, customerID, models.KindRecipe, t)
		return run(ctx, s, accountID, customerID, inv)
	})
}

// PredictTimeline asks the vision model for a week-by-week prediction, then
// renders one image per week in parallel. A failed render leaves that week's
// image_url empty.
func (s *StudioService) PredictTimeline(ctx context.Context, accountID, customerID string, photo Photo, treatment string) (*Outcome[results.TimelinePrediction], error) {
	photo.Field = "image"
	return withTreatment(ctx, s, accountID, treatment, func(t models.TreatmentType) (*Outcome[results.TimelinePrediction], error) {
		return run(ctx, s, accountID, customerID, invocation[results.TimelinePrediction]{
			name:   "timeline",
			prompt: buildTimelinePrompt(t, s.cfg.TimelineWeeks),
			photos: []Photo{photo},
			enrich: func(ctx context.Context, res *results.TimelinePrediction, urls map[string]string) {
				s.renderWeeks(ctx, accountID, urls["image"], res)
			},
			persist: func(ctx context.Context, urls map[string]string, raw json.RawMessage) (string, error) {
				rec := &models.Timeline{
					AccountID:      accountID,
					CustomerID:     customerID,
					TreatmentType:  t,
					SourceImageURL: urls["image"],
					Result:         raw,
				}
				if err := s.timelines.Create(ctx, rec); err != nil {
					return "", err
				}
				return rec.ID, nil
			},
		})
	})
}

// withTreatment parses the treatment type. An invalid value is still reported
// after the quota check so an exhausted account sees the quota error first.
func withTreatment[T results.Result](ctx context.Context, s *StudioService, accountID, treatment string, fn func(models.TreatmentType) (*Outcome[T], error)) (*Outcome[T], error) {
	t, err := parseTreatment(treatment)
	if err == nil {
		return fn(t)
	}
	if accountID == "" {
		return nil, apperr.Unauthenticated()
	}
	if d := s.guard.Check(ctx, accountID); !d.Allowed {
		metrics.RecordQuotaRejection()
		return nil, apperr.QuotaExceeded(d.Remaining)
	}
	return nil, err
}

func (s *StudioService) renderWeeks(ctx context.Context, accountID, sourceURL string, res *results.TimelinePrediction) {
	if len(res.Weeks) > s.cfg.TimelineWeeks {
		res.Weeks = res.Weeks[:s.cfg.TimelineWeeks]
	}
	var g errgroup.Group
	g.SetLimit(s.cfg.TimelineConcurrency)
	for i := range res.Weeks {
		week := &res.Weeks[i]
		week.ImageURL = ""
		g.Go(func() error {
			img, err := s.images.GenerateImage(ctx, kie.GenerateOptions{
				Prompt:    weekImagePrompt(week.ImagePrompt, week.Week),
				InputURLs: []string{sourceURL},
			})
			if err != nil || img == nil || img.URL == "" {
				if err == nil {
					err = errors.New("empty image")
				}
				metrics.RecordTimelineImageFailure()
				s.log.Warn("timeline week image failed", "account_id", accountID, "week", week.Week, "err", err)
				return nil
			}
			week.ImageURL = img.URL
			return nil
		})
	}
	_ = g.Wait()
}

func (s *StudioService) ListConsultations(ctx context.Context, accountID, customerID string) ([]models.Consultation, error) {
	if err := s.requireCustomer(ctx, accountID, customerID); err != nil {
		return nil, err
	}
	list, err := s.consultations.ListByCustomer(ctx, accountID, customerID)
	if err != nil {
		return nil, fmt.Errorf("list consultations: %w", err)
	}
	return list, nil
}

func (s *StudioService) GetConsultation(ctx context.Context, accountID, id string) (*models.Consultation, error) {
	c, err := s.consultations.Get(ctx, accountID, id)
	if err != nil {
		return nil, fmt.Errorf("get consultation: %w", err)
	}
	if c == nil {
		return nil, apperr.NotFound("consultation")
	}
	return c, nil
}

func (s *StudioService) DeleteConsultation(ctx context.Context, accountID, id string) error {
	ok, err := s.consultations.Delete(ctx, accountID, id)
	if err != nil {
		return fmt.Errorf("delete consultation: %w", err)
	}
	if !ok {
		return apperr.NotFound("consultation")
	}
	return nil
}

func (s *StudioService) ListTimelines(ctx context.Context, accountID, customerID string) ([]models.Timeline, error) {
	if err := s.requireCustomer(ctx, accountID, customerID); err != nil {
		return nil, err
	}
	list, err := s.timelines.ListByCustomer(ctx, accountID, customerID)
	if err != nil {
		return nil, fmt.Errorf("list timelines: %w", err)
	}
	return list, nil
}

func (s *StudioService) DeleteTimeline(ctx context.Context, accountID, id string) error {
	ok, err := s.timelines.Delete(ctx, accountID, id)
	if err != nil {
		return fmt.Errorf("delete timeline: %w", err)
	}
	if !ok {
		return apperr.NotFound("timeline")
	}
	return nil
}
