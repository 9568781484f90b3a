// Package quota enforces the per-account, per-calendar-day cap shared by every
// AI-backed action. The counter lives in the profile row and rolls over lazily:
// a stored date that is not today means nothing has been used today.
package quota

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/digkill/salonstudio/internal/models"
)

// Unlimited is the sentinel cap for paid tiers.
const Unlimited = math.MaxInt32

const DefaultFreeLimit = 3

const dayLayout = "2006-01-02"

var ErrProfileMissing = errors.New("profile not found")

// Limits maps a plan tier to its daily cap.
type Limits map[models.PlanTier]int

// DefaultLimits returns the tier table with the given free-tier cap.
func DefaultLimits(free int) Limits {
	if free < 0 {
		free = 0
	}
	return Limits{
		models.PlanFree:  free,
		models.PlanBasic: Unlimited,
		models.PlanPro:   Unlimited,
	}
}

// For returns the cap for plan, falling back to the free tier for unknown values.
func (l Limits) For(plan models.PlanTier) int {
	if limit, ok := l[plan]; ok {
		return limit
	}
	return l[models.PlanFree]
}

type Decision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

// Day formats t as a calendar date in loc.
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayLayout)
}

// Decide computes the quota decision for a profile snapshot. It has no side effects.
func Decide(limits Limits, p *models.Profile, now time.Time, loc *time.Location) Decision {
	limit := limits.For(p.EffectivePlan(now))
	if p.LastUsageDate != Day(now, loc) {
		return Decision{Allowed: limit > 0, Remaining: limit, Limit: limit}
	}
	remaining := limit - p.DailyUsage
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: remaining > 0, Remaining: remaining, Limit: limit}
}

// Next returns the counter value and date to write after one more consumed action.
func Next(p *models.Profile, now time.Time, loc *time.Location) (int, string) {
	today := Day(now, loc)
	if p.LastUsageDate != today {
		return 1, today
	}
	return p.DailyUsage + 1, today
}

// Store is the profile row backing the counter.
type Store interface {
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	SetUsage(ctx context.Context, id string, dailyUsage int, day string) error
	ConsumeUsage(ctx context.Context, id string, day string, limit int) (bool, error)
	ReleaseUsage(ctx context.Context, id string, day string) error
}

type Guard struct {
	store  Store
	limits Limits
	loc    *time.Location
	now    func() time.Time
	log    *slog.Logger
}

type Option func(*Guard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(g *Guard) {
		if loc != nil {
			g.loc = loc
		}
	}
}

func NewGuard(store Store, limits Limits, log *slog.Logger, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		limits: limits,
		loc:    time.UTC,
		now:    time.Now,
		log:    log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check loads the profile and decides. Any load failure fails closed.
func (g *Guard) Check(ctx context.Context, accountID string) Decision {
	p, err := g.store.FindByID(ctx, accountID)
	if err != nil {
		g.log.Error("quota check: load profile", "account_id", accountID, "err", err)
		return Decision{}
	}
	if p == nil {
		g.log.Warn("quota check: profile missing", "account_id", accountID)
		return Decision{}
	}
	return Decide(g.limits, p, g.now(), g.loc)
}

// Increment charges one action. The read and the write are separate round
// trips, so two concurrent requests may both observe the same value.
func (g *Guard) Increment(ctx context.Context, accountID string) error {
	p, err := g.store.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrProfileMissing
	}
	usage, day := Next(p, g.now(), g.loc)
	return g.store.SetUsage(ctx, accountID, usage, day)
}

// Reserve charges one action atomically if the cap allows it. The returned
// decision reflects the state after the reservation.
func (g *Guard) Reserve(ctx context.Context, accountID string) (Decision, bool) {
	p, err := g.store.FindByID(ctx, accountID)
	if err != nil || p == nil {
		g.log.Error("quota reserve: load profile", "account_id", accountID, "err", err)
		return Decision{}, false
	}
	now := g.now()
	limit := g.limits.For(p.EffectivePlan(now))
	ok, err := g.store.ConsumeUsage(ctx, accountID, Day(now, g.loc), limit)
	if err != nil {
		g.log.Error("quota reserve: consume", "account_id", accountID, "err", err)
		return Decision{}, false
	}
	if !ok {
		return Decision{Allowed: false, Remaining: 0, Limit: limit}, false
	}
	used, _ := Next(p, now, g.loc)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, Limit: limit}, true
}

// Release returns a unit taken by Reserve for an action that produced nothing billable.
func (g *Guard) Release(ctx context.Context, accountID string) error {
	return g.store.ReleaseUsage(ctx, accountID, Day(g.now(), g.loc))
}
