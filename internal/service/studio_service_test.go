package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/salonstudio/internal/apperr"
	"github.com/digkill/salonstudio/internal/kie"
	"github.com/digkill/salonstudio/internal/models"
	"github.com/digkill/salonstudio/internal/quota"
	"github.com/digkill/salonstudio/internal/storage"
)

var (
	fixedNow = time.Date(2026, 10, 17, 15, 4, 5, 0, time.UTC)
	today    = "2026-10-17"
	pngData  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)
	jpegData = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 64)...)
)

const (
	accountID  = "acc-1"
	customerID = "cust-1"
)

const analysisJSON = `{"hair_type":"wavy","texture":"medium","condition":"dry ends","current_color":"level 6","damage_level":3,"recommendations":["trim"]}`

type profileStore struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile
	failLoad bool
}

func (s *profileStore) FindByID(_ context.Context, id string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLoad {
		return nil, errors.New("db down")
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *profileStore) SetUsage(_ context.Context, id string, usage int, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[id].DailyUsage = usage
	s.profiles[id].LastUsageDate = day
	return nil
}

func (s *profileStore) ConsumeUsage(_ context.Context, id, day string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[id]
	switch {
	case limit <= 0:
		return false, nil
	case p.LastUsageDate != day:
		p.DailyUsage, p.LastUsageDate = 1, day
	case p.DailyUsage < limit:
		p.DailyUsage++
	default:
		return false, nil
	}
	return true, nil
}

func (s *profileStore) ReleaseUsage(_ context.Context, id, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[id]
	if p.LastUsageDate == day && p.DailyUsage > 0 {
		p.DailyUsage--
	}
	return nil
}

func (s *profileStore) usage(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[id]
	if p.LastUsageDate != today {
		return 0
	}
	return p.DailyUsage
}

type fakeUploader struct {
	calls atomic.Int32
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, key storage.Key, _ []byte, contentType string) (string, error) {
	n := u.calls.Add(1)
	if u.err != nil {
		return "", u.err
	}
	return fmt.Sprintf("https://cdn.test/%s/%s/%d-%s", key.AccountID, key.EntityID, n, contentType), nil
}

type fakeVision struct {
	mu       sync.Mutex
	calls    int
	lastURLs []string
	response string
	err      error
}

func (v *fakeVision) Analyze(_ context.Context, _, _ string, urls []string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	v.lastURLs = urls
	return v.response, v.err
}

type fakeImages struct {
	calls  atomic.Int32
	failOn map[string]bool
}

func (f *fakeImages) GenerateImage(_ context.Context, opts kie.GenerateOptions) (*kie.Image, error) {
	f.calls.Add(1)
	for marker := range f.failOn {
		if strings.Contains(opts.Prompt, marker) {
			return nil, errors.New("generation failed")
		}
	}
	return &kie.Image{URL: "https://img.test/" + fmt.Sprint(len(opts.Prompt))}, nil
}

type fakeCustomers struct{}

func (fakeCustomers) Get(_ context.Context, account, id string) (*models.Customer, error) {
	if account == accountID && id == customerID {
		return &models.Customer{ID: id, AccountID: account, Name: "Anna"}, nil
	}
	return nil, nil
}

type fakeConsultations struct {
	mu      sync.Mutex
	created []models.Consultation
	err     error
}

func (f *fakeConsultations) Create(_ context.Context, c *models.Consultation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	c.ID = fmt.Sprintf("cons-%d", len(f.created)+1)
	f.created = append(f.created, *c)
	return nil
}

func (f *fakeConsultations) ListByCustomer(context.Context, string, string) ([]models.Consultation, error) {
	return f.created, nil
}

func (f *fakeConsultations) Get(_ context.Context, account, id string) (*models.Consultation, error) {
	for _, c := range f.created {
		if c.ID == id && c.AccountID == account {
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeConsultations) Delete(_ context.Context, account, id string) (bool, error) {
	c, _ := f.Get(context.Background(), account, id)
	return c != nil, nil
}

type fakeTimelines struct {
	created []models.Timeline
	err     error
}

func (f *fakeTimelines) Create(_ context.Context, t *models.Timeline) error {
	if f.err != nil {
		return f.err
	}
	t.ID = "tl-1"
	f.created = append(f.created, *t)
	return nil
}

func (f *fakeTimelines) ListByCustomer(context.Context, string, string) ([]models.Timeline, error) {
	return f.created, nil
}

func (f *fakeTimelines) Delete(context.Context, string, string) (bool, error) {
	return false, nil
}

type harness struct {
	svc           *StudioService
	profiles      *profileStore
	uploader      *fakeUploader
	vision        *fakeVision
	images        *fakeImages
	consultations *fakeConsultations
	timelines     *fakeTimelines
}

func newHarness(t *testing.T, cfg StudioConfig) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		profiles: &profileStore{profiles: map[string]*models.Profile{
			accountID: {ID: accountID, Plan: models.PlanFree},
		}},
		uploader:      &fakeUploader{},
		vision:        &fakeVision{response: analysisJSON},
		images:        &fakeImages{},
		consultations: &fakeConsultations{},
		timelines:     &fakeTimelines{},
	}
	guard := quota.NewGuard(h.profiles, quota.DefaultLimits(3), log, quota.WithClock(func() time.Time { return fixedNow }))
	h.svc = NewStudioService(cfg, log, StudioDeps{
		Guard:         guard,
		Customers:     fakeCustomers{},
		Uploader:      h.uploader,
		Vision:        h.vision,
		Images:        h.images,
		Consultations: h.consultations,
		Timelines:     h.timelines,
	})
	return h
}

func TestAnalyzePhotoChargesOnceAndPersists(t *testing.T) {
	h := newHarness(t, StudioConfig{})

	out, err := h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{Data: jpegData})
	require.NoError(t, err)
	assert.Equal(t, "wavy", out.Result.HairType)
	assert.Equal(t, "cons-1", out.RecordID)
	assert.Contains(t, out.ImageURLs["image"], "image/jpeg")
	assert.Equal(t, 1, h.profiles.usage(accountID))
	require.Len(t, h.consultations.created, 1)
	assert.Equal(t, models.KindAnalysis, h.consultations.created[0].Kind)
	assert.JSONEq(t, `{"hair_type":"wavy","texture":"medium","condition":"dry ends","current_color":"level 6","damage_level":3,"recommendations":["trim"]}`, string(h.consultations.created[0].Result))
}

func TestValidationFailuresSkipAIAndCharge(t *testing.T) {
	cases := map[string]func(h *harness) error{
		"missing image": func(h *harness) error {
			_, err := h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{})
			return err
		},
		"oversized": func(h *harness) error {
			_, err := h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{Data: append(pngData, make([]byte, 1024)...)})
			return err
		},
		"bad mime": func(h *harness) error {
			_, err := h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{Data: []byte("just some plain text, not an image")})
			return err
		},
		"bad treatment": func(h *harness) error {
			_, err := h.svc.GenerateRecipe(testContext(t), accountID, customerID, Photo{Data: pngData}, Photo{Data: pngData}, "relaxer")
			return err
		},
		"missing treatment": func(h *harness) error {
			_, err := h.svc.PredictTimeline(testContext(t), accountID, customerID, Photo{Data: pngData}, "")
			return err
		},
		"missing desired photo": func(h *harness) error {
			_, err := h.svc.GenerateRecipe(testContext(t), accountID, customerID, Photo{Data: pngData}, Photo{}, "color")
			return err
		},
	}
	for name, call := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, StudioConfig{MaxUploadBytes: 512})
			err := call(h)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Zero(t, h.vision.calls)
			assert.Zero(t, h.uploader.calls.Load())
			assert.Zero(t, h.images.calls.Load())
			assert.Equal(t, 0, h.profiles.usage(accountID))
		})
	}
}

func TestPersistenceFailureStillReturnsResult(t *testing.T) {
	h := newHarness(t, StudioConfig{})
	h.consultations.err = errors.New("insert failed")

	out, err := h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{Data: pngData})
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Empty(t, out.RecordID)
	assert.Equal(t, 1, h.profiles.usage(accountID))
}

func TestFreeTierBlockedAfterThreeActions(t *testing.T) {
	h := newHarness(t, StudioConfig{})
	for i := 0; i < 3; i++ {
		_, err := h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{Data: pngData})
		require.NoError(t, err)
	}

	_, err := h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{Data: pngData})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindQuotaExceeded, appErr.Kind)
	assert.Equal(t, 0, appErr.Remaining)
	assert.Equal(t, 3, h.vision.calls)
	assert.EqualValues(t, 3, h.uploader.calls.Load())
}

func TestQuotaErrorTakesPrecedenceOverValidation(t *testing.T) {
	h := newHarness(t, StudioConfig{})
	h.profiles.profiles[accountID].DailyUsage = 3
	h.profiles.profiles[accountID].LastUsageDate = today

	_, err := h.svc.GenerateRecipe(testContext(t), accountID, customerID, Photo{}, Photo{}, "relaxer")
	assert.Equal(t, apperr.KindQuotaExceeded, apperr.KindOf(err))
}

func TestProfileLoadFailureFailsClosed(t *testing.T) {
	h := newHarness(t, StudioConfig{})
	h.profiles.failLoad = true

	_, err := h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{Data: pngData})
	assert.Equal(t, apperr.KindQuotaExceeded, apperr.KindOf(err))
	assert.Zero(t, h.vision.calls)
}

func TestUnusableAIResponseIsNotCharged(t *testing.T) {
	h := newHarness(t, StudioConfig{})
	h.vision.response = "I'm sorry, I can't help with that."

	_, err := h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{Data: pngData})
	assert.Equal(t, apperr.KindAI, apperr.KindOf(err))
	assert.Equal(t, 0, h.profiles.usage(accountID))
	assert.Empty(t, h.consultations.created)
}

func TestAIErrorIsNotCharged(t *testing.T) {
	h := newHarness(t, StudioConfig{})
	h.vision.err = errors.New("upstream 500")

	_, err := h.svc.RecommendStyles(testContext(t), accountID, customerID, Photo{Data: pngData})
	assert.Equal(t, apperr.KindAI, apperr.KindOf(err))
	assert.Equal(t, 0, h.profiles.usage(accountID))
}

func TestStorageFailureIsNotCharged(t *testing.T) {
	h := newHarness(t, StudioConfig{})
	h.uploader.err = errors.New("s3 unavailable")

	_, err := h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{Data: pngData})
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
	assert.Zero(t, h.vision.calls)
	assert.Equal(t, 0, h.profiles.usage(accountID))
}

func TestForeignCustomerIsNotFound(t *testing.T) {
	h := newHarness(t, StudioConfig{})

	_, err := h.svc.AnalyzePhoto(testContext(t), accountID, "someone-elses", Photo{Data: pngData})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Zero(t, h.vision.calls)
}

func TestUnauthenticated(t *testing.T) {
	h := newHarness(t, StudioConfig{})
	_, err := h.svc.AnalyzePhoto(testContext(t), "", customerID, Photo{Data: pngData})
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

const timelineJSON = `{"summary":"gradual fade","weeks":[
 {"week":1,"description":"fresh","image_prompt":"W1"},
 {"week":2,"description":"slight fade","image_prompt":"W2"},
 {"week":3,"description":"fade","image_prompt":"W3"},
 {"week":4,"description":"roots","image_prompt":"W4"},
 {"week":5,"description":"touch-up due","image_prompt":"W5"}]}`

func TestTimelineFanOutPartialFailure(t *testing.T) {
	h := newHarness(t, StudioConfig{TimelineWeeks: 5, TimelineConcurrency: 2})
	h.vision.response = timelineJSON
	h.images.failOn = map[string]bool{"W2": true, "W4": true}

	out, err := h.svc.PredictTimeline(testContext(t), accountID, customerID, Photo{Data: pngData}, "color")
	require.NoError(t, err)
	require.Len(t, out.Result.Weeks, 5)

	populated := 0
	for _, w := range out.Result.Weeks {
		if w.ImageURL != "" {
			populated++
		}
	}
	assert.Equal(t, 3, populated)
	assert.Empty(t, out.Result.Weeks[1].ImageURL)
	assert.Empty(t, out.Result.Weeks[3].ImageURL)
	assert.EqualValues(t, 5, h.images.calls.Load())
	assert.Equal(t, 1, h.profiles.usage(accountID))
	require.Len(t, h.timelines.created, 1)
	assert.Equal(t, models.TreatmentColor, h.timelines.created[0].TreatmentType)
	assert.Contains(t, string(h.timelines.created[0].Result), `"image_url":""`)
}

func TestTimelineTruncatesExtraWeeks(t *testing.T) {
	h := newHarness(t, StudioConfig{TimelineWeeks: 2})
	h.vision.response = timelineJSON

	out, err := h.svc.PredictTimeline(testContext(t), accountID, customerID, Photo{Data: pngData}, "perm")
	require.NoError(t, err)
	assert.Len(t, out.Result.Weeks, 2)
	assert.EqualValues(t, 2, h.images.calls.Load())
}

func TestCompositeOrdersAnglesAndRequiresFront(t *testing.T) {
	h := newHarness(t, StudioConfig{})
	_, err := h.svc.AnalyzeComposite(testContext(t), accountID, customerID, []Photo{{Field: "back", Data: pngData}})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Zero(t, h.vision.calls)

	h.vision.response = `{"summary":"even","views":[{"angle":"front","notes":"ok"},{"angle":"top","notes":"thin crown"}],
	 "overall":{"hair_type":"a","texture":"b","condition":"c","current_color":"d","recommendations":["x"]}}`
	out, err := h.svc.AnalyzeComposite(testContext(t), accountID, customerID, []Photo{
		{Field: "top", Data: pngData},
		{Field: "front", Data: jpegData},
	})
	require.NoError(t, err)
	require.Len(t, h.vision.lastURLs, 2)
	assert.Equal(t, out.ImageURLs["front"], h.vision.lastURLs[0])
	assert.Equal(t, out.ImageURLs["top"], h.vision.lastURLs[1])
	assert.Equal(t, 1, h.profiles.usage(accountID))
}

func TestRecipeRecordsTreatment(t *testing.T) {
	h := newHarness(t, StudioConfig{})
	h.vision.response = `{"treatment_type":"cut","summary":"long layers","steps":[{"order":1,"title":"Section","instructions":"four sections"}]}`

	out, err := h.svc.GenerateRecipe(testContext(t), accountID, customerID, Photo{Data: pngData}, Photo{Data: jpegData}, "cut")
	require.NoError(t, err)
	assert.Equal(t, "long layers", out.Result.Summary)
	require.Len(t, h.consultations.created, 1)
	assert.Equal(t, models.TreatmentCut, h.consultations.created[0].TreatmentType)
	assert.Len(t, h.consultations.created[0].ImageURLs, 2)
}

func TestStrictModeReleasesOnFailure(t *testing.T) {
	h := newHarness(t, StudioConfig{StrictQuota: true})
	h.vision.err = errors.New("timeout")

	_, err := h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{Data: pngData})
	require.Error(t, err)
	assert.Equal(t, 0, h.profiles.usage(accountID))

	h.vision.err = nil
	_, err = h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{Data: pngData})
	require.NoError(t, err)
	assert.Equal(t, 1, h.profiles.usage(accountID))
}

func TestStrictModeHardCapUnderConcurrency(t *testing.T) {
	h := newHarness(t, StudioConfig{StrictQuota: true})

	var wg sync.WaitGroup
	var ok, limited atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.AnalyzePhoto(context.Background(), accountID, customerID, Photo{Data: pngData})
			switch apperr.KindOf(err) {
			case apperr.KindQuotaExceeded:
				limited.Add(1)
			default:
				if err == nil {
					ok.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 3, ok.Load())
	assert.EqualValues(t, 5, limited.Load())
	assert.Equal(t, 3, h.profiles.usage(accountID))
}

func TestPaidTierIsNotCapped(t *testing.T) {
	h := newHarness(t, StudioConfig{})
	h.profiles.profiles[accountID].Plan = models.PlanPro
	h.profiles.profiles[accountID].DailyUsage = 500
	h.profiles.profiles[accountID].LastUsageDate = today

	_, err := h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{Data: pngData})
	require.NoError(t, err)
	assert.Equal(t, 501, h.profiles.usage(accountID))
}

func TestConsultationLookupsAreScoped(t *testing.T) {
	h := newHarness(t, StudioConfig{})
	_, err := h.svc.AnalyzePhoto(testContext(t), accountID, customerID, Photo{Data: pngData})
	require.NoError(t, err)

	got, err := h.svc.GetConsultation(testContext(t), accountID, "cons-1")
	require.NoError(t, err)
	assert.Equal(t, customerID, got.CustomerID)

	_, err = h.svc.GetConsultation(testContext(t), "intruder", "cons-1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(h.svc.DeleteConsultation(testContext(t), "intruder", "cons-1")))
	_, err = h.svc.ListConsultations(testContext(t), accountID, "other-customer")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(h.svc.DeleteTimeline(testContext(t), accountID, "nope")))
}
