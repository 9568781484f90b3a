package quota

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/salonstudio/internal/models"
)

type memoryStore struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile
	loadErr  error
	sets     int
}

func newMemoryStore(profiles ...*models.Profile) *memoryStore {
	s := &memoryStore{profiles: map[string]*models.Profile{}}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *memoryStore) FindByID(_ context.Context, id string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memoryStore) SetUsage(_ context.Context, id string, usage int, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.profiles[id].DailyUsage = usage
	s.profiles[id].LastUsageDate = day
	return nil
}

func (s *memoryStore) ConsumeUsage(_ context.Context, id string, day string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[id]
	if p.LastUsageDate != day {
		if limit < 1 {
			return false, nil
		}
		p.DailyUsage, p.LastUsageDate = 1, day
		return true, nil
	}
	if p.DailyUsage >= limit {
		return false, nil
	}
	p.DailyUsage++
	return true, nil
}

func (s *memoryStore) ReleaseUsage(_ context.Context, id string, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[id]
	if p.LastUsageDate == day && p.DailyUsage > 0 {
		p.DailyUsage--
	}
	return nil
}

var fixedNow = time.Date(2026, 10, 17, 15, 4, 5, 0, time.UTC)

func newTestGuard(store Store) *Guard {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGuard(store, DefaultLimits(DefaultFreeLimit), log, WithClock(func() time.Time { return fixedNow }))
}

func TestDecideFreshDay(t *testing.T) {
	p := &models.Profile{Plan: models.PlanFree, DailyUsage: 999, LastUsageDate: "2026-10-16"}
	d := Decide(DefaultLimits(3), p, fixedNow, time.UTC)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
}

func TestDecideNeverUsed(t *testing.T) {
	p := &models.Profile{Plan: models.PlanFree}
	d := Decide(DefaultLimits(3), p, fixedNow, time.UTC)
	assert.Equal(t, Decision{Allowed: true, Remaining: 3, Limit: 3}, d)
}

func TestDecidePaidTierIgnoresUsage(t *testing.T) {
	for _, plan := range []models.PlanTier{models.PlanBasic, models.PlanPro} {
		for _, usage := range []int{0, 3, 1000, Unlimited - 1} {
			p := &models.Profile{Plan: plan, DailyUsage: usage, LastUsageDate: "2026-10-17"}
			d := Decide(DefaultLimits(3), p, fixedNow, time.UTC)
			assert.True(t, d.Allowed, "plan=%s usage=%d", plan, usage)
		}
	}
}

func TestDecideUnknownPlanUsesFreeCap(t *testing.T) {
	p := &models.Profile{Plan: "enterprise", DailyUsage: 3, LastUsageDate: "2026-10-17"}
	d := Decide(DefaultLimits(3), p, fixedNow, time.UTC)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestDecideExpiredPaidTermFallsBackToFree(t *testing.T) {
	expired := fixedNow.Add(-time.Hour)
	p := &models.Profile{Plan: models.PlanPro, PlanExpiresAt: &expired, DailyUsage: 5, LastUsageDate: "2026-10-17"}
	d := Decide(DefaultLimits(3), p, fixedNow, time.UTC)
	assert.False(t, d.Allowed)
}

func TestDecideUsesConfiguredLocation(t *testing.T) {
	// 15:04 UTC is already the next day in Auckland.
	loc := time.FixedZone("NZDT", 13*3600)
	p := &models.Profile{Plan: models.PlanFree, DailyUsage: 3, LastUsageDate: "2026-10-17"}
	d := Decide(DefaultLimits(3), p, fixedNow, loc)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
}

func TestNext(t *testing.T) {
	usage, day := Next(&models.Profile{DailyUsage: 7, LastUsageDate: "2026-10-01"}, fixedNow, time.UTC)
	assert.Equal(t, 1, usage)
	assert.Equal(t, "2026-10-17", day)

	usage, day = Next(&models.Profile{DailyUsage: 2, LastUsageDate: "2026-10-17"}, fixedNow, time.UTC)
	assert.Equal(t, 3, usage)
	assert.Equal(t, "2026-10-17", day)
}

func TestGuardScenarioFreeTier(t *testing.T) {
	store := newMemoryStore(&models.Profile{ID: "acc-1", Plan: models.PlanFree, DailyUsage: 2, LastUsageDate: "2026-10-17"})
	g := newTestGuard(store)
	ctx := context.Background()

	assert.Equal(t, Decision{Allowed: true, Remaining: 1, Limit: 3}, g.Check(ctx, "acc-1"))

	require.NoError(t, g.Increment(ctx, "acc-1"))
	assert.Equal(t, Decision{Allowed: false, Remaining: 0, Limit: 3}, g.Check(ctx, "acc-1"))
}

func TestGuardThreeActionsThenBlocked(t *testing.T) {
	store := newMemoryStore(&models.Profile{ID: "acc-1", Plan: models.PlanFree})
	g := newTestGuard(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := g.Check(ctx, "acc-1")
		require.True(t, d.Allowed)
		require.NoError(t, g.Increment(ctx, "acc-1"))
	}
	d := g.Check(ctx, "acc-1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestGuardIncrementResetsOnNewDay(t *testing.T) {
	store := newMemoryStore(&models.Profile{ID: "acc-1", Plan: models.PlanFree, DailyUsage: 3, LastUsageDate: "2026-10-16"})
	g := newTestGuard(store)

	require.NoError(t, g.Increment(context.Background(), "acc-1"))
	assert.Equal(t, 1, store.profiles["acc-1"].DailyUsage)
	assert.Equal(t, "2026-10-17", store.profiles["acc-1"].LastUsageDate)
}

func TestGuardCheckFailsClosed(t *testing.T) {
	store := newMemoryStore()
	store.loadErr = errors.New("connection refused")
	g := newTestGuard(store)

	assert.Equal(t, Decision{}, g.Check(context.Background(), "acc-1"))
}

func TestGuardCheckMissingProfileFailsClosed(t *testing.T) {
	g := newTestGuard(newMemoryStore())
	d := g.Check(context.Background(), "nobody")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestGuardCheckHasNoSideEffects(t *testing.T) {
	store := newMemoryStore(&models.Profile{ID: "acc-1", Plan: models.PlanFree, DailyUsage: 1, LastUsageDate: "2026-10-17"})
	g := newTestGuard(store)
	for i := 0; i < 5; i++ {
		g.Check(context.Background(), "acc-1")
	}
	assert.Equal(t, 0, store.sets)
	assert.Equal(t, 1, store.profiles["acc-1"].DailyUsage)
}

func TestGuardIncrementMissingProfile(t *testing.T) {
	g := newTestGuard(newMemoryStore())
	assert.ErrorIs(t, g.Increment(context.Background(), "nobody"), ErrProfileMissing)
}

func TestGuardReserveIsHardCap(t *testing.T) {
	store := newMemoryStore(&models.Profile{ID: "acc-1", Plan: models.PlanFree})
	g := newTestGuard(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := g.Reserve(ctx, "acc-1"); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, granted)
	assert.Equal(t, 3, store.profiles["acc-1"].DailyUsage)
}

func TestGuardReleaseReturnsUnit(t *testing.T) {
	store := newMemoryStore(&models.Profile{ID: "acc-1", Plan: models.PlanFree, DailyUsage: 2, LastUsageDate: "2026-10-17"})
	g := newTestGuard(store)
	ctx := context.Background()

	d, ok := g.Reserve(ctx, "acc-1")
	require.True(t, ok)
	assert.Equal(t, 0, d.Remaining)

	require.NoError(t, g.Release(ctx, "acc-1"))
	assert.Equal(t, 2, store.profiles["acc-1"].DailyUsage)
	assert.True(t, g.Check(ctx, "acc-1").Allowed)
}
