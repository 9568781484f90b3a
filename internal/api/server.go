// Package api exposes the designer-facing JSON API.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/salonstudio/internal/auth"
	"github.com/digkill/salonstudio/internal/models"
	"github.com/digkill/salonstudio/internal/results"
	"github.com/digkill/salonstudio/internal/service"
)

type Studio interface {
	AnalyzePhoto(ctx context.Context, accountID, customerID string, photo service.Photo) (*service.Outcome[results.HairAnalysis], error)
	AnalyzeComposite(ctx context.Context, accountID, customerID string, photos []service.Photo) (*service.Outcome[results.CompositeAnalysis], error)
	RecommendStyles(ctx context.Context, accountID, customerID string, photo service.Photo) (*service.Outcome[results.StyleRecommendations], error)
	GenerateRecipe(ctx context.Context, accountID, customerID string, current, desired service.Photo, treatment string) (*service.Outcome[results.Recipe], error)
	PredictTimeline(ctx context.Context, accountID, customerID string, photo service.Photo, treatment string) (*service.Outcome[results.TimelinePrediction], error)
	ListConsultations(ctx context.Context, accountID, customerID string) ([]models.Consultation, error)
	GetConsultation(ctx context.Context, accountID, id string) (*models.Consultation, error)
	DeleteConsultation(ctx context.Context, accountID, id string) error
	ListTimelines(ctx context.Context, accountID, customerID string) ([]models.Timeline, error)
	DeleteTimeline(ctx context.Context, accountID, id string) error
}

type Profiles interface {
	Ensure(ctx context.Context, accountID, email string) (*models.Profile, bool, error)
	Me(ctx context.Context, accountID string) (*service.Me, error)
	Update(ctx context.Context, accountID string, input service.UpdateProfileInput) (*models.Profile, error)
}

type Customers interface {
	List(ctx context.Context, accountID string) ([]models.Customer, error)
	Get(ctx context.Context, accountID, id string) (*models.Customer, error)
	Create(ctx context.Context, accountID string, input service.CustomerInput) (*models.Customer, error)
	Update(ctx context.Context, accountID, id string, input service.CustomerInput) (*models.Customer, error)
	Delete(ctx context.Context, accountID, id string) error
}

type Plans interface {
	ListActive(ctx context.Context) ([]models.Plan, error)
}

type Billing interface {
	Checkout(ctx context.Context, accountID string, planID int64) (*service.Checkout, error)
}

type Promos interface {
	Apply(ctx context.Context, accountID, code string) (*service.Grant, error)
}

type Deps struct {
	Verifier  *auth.Verifier
	Studio    Studio
	Profiles  Profiles
	Customers Customers
	Plans     Plans
	Billing   Billing
	Promos    Promos
	Limiter   *RateLimiter
}

type Server struct {
	addr           string
	maxUploadBytes int64
	deadline       time.Duration
	log            *slog.Logger
	studio         Studio
	profiles       Profiles
	customers      Customers
	plans          Plans
	billing        Billing
	promos         Promos
	limiter        *RateLimiter
	router         *chi.Mux
}

// NewServer wires the routes. A positive deadline cancels requests that run
// longer; zero leaves them open until the AI providers answer.
func NewServer(addr string, maxUploadBytes int64, deadline time.Duration, log *slog.Logger, deps Deps) *Server {
	s := &Server{
		addr:           addr,
		maxUploadBytes: maxUploadBytes,
		deadline:       deadline,
		log:            log,
		studio:         deps.Studio,
		profiles:       deps.Profiles,
		customers:      deps.Customers,
		plans:          deps.Plans,
		billing:        deps.Billing,
		promos:         deps.Promos,
		limiter:        deps.Limiter,
		router:         chi.NewRouter(),
	}
	if s.limiter == nil {
		s.limiter = NewRateLimiter(2, 5)
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, envelope{Data: map[string]string{"status": "ok"}})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(deps.Verifier, log, s.denyUnauthenticated))
		r.Use(s.rateLimit)
		r.Use(s.ensureProfile)
		if deadline > 0 {
			r.Use(middleware.Timeout(deadline))
		}

		r.Get("/me", s.handleMe)
		r.Patch("/me", s.handleUpdateMe)
		r.Get("/plans", s.handleListPlans)
		r.Post("/billing/checkout", s.handleCheckout)
		r.Post("/promo/redeem", s.handleRedeemPromo)

		r.Route("/customers", func(r chi.Router) {
			r.Get("/", s.handleListCustomers)
			r.Post("/", s.handleCreateCustomer)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCustomer)
				r.Patch("/", s.handleUpdateCustomer)
				r.Delete("/", s.handleDeleteCustomer)

				r.Post("/analysis", s.handleAnalysis)
				r.Post("/composite", s.handleComposite)
				r.Post("/styles", s.handleStyles)
				r.Post("/recipes", s.handleRecipe)
				r.Post("/timelines", s.handlePredictTimeline)

				r.Get("/consultations", s.handleListConsultations)
				r.Get("/timelines", s.handleListTimelines)
			})
		})
		r.Get("/consultations/{id}", s.handleGetConsultation)
		r.Delete("/consultations/{id}", s.handleDeleteConsultation)
		r.Delete("/timelines/{id}", s.handleDeleteTimeline)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	// Without a deadline the write side stays open for as long as image
	// generation takes.
	var writeTimeout time.Duration
	if s.deadline > 0 {
		writeTimeout = s.deadline + 10*time.Second
	}
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      writeTimeout,
	}

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					s.log.Error("api shutdown error", "err", err)
				}
				return
			case <-ticker.C:
				if n := s.limiter.Sweep(30 * time.Minute); n > 0 {
					s.log.Debug("rate limiter swept", "removed", n)
				}
			}
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}
