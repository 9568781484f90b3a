package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/salonstudio/internal/admin"
	"github.com/digkill/salonstudio/internal/api"
	"github.com/digkill/salonstudio/internal/auth"
	"github.com/digkill/salonstudio/internal/config"
	"github.com/digkill/salonstudio/internal/database"
	"github.com/digkill/salonstudio/internal/kie"
	"github.com/digkill/salonstudio/internal/quota"
	"github.com/digkill/salonstudio/internal/repository"
	"github.com/digkill/salonstudio/internal/service"
	"github.com/digkill/salonstudio/internal/storage"
	"github.com/digkill/salonstudio/internal/telegram"
	"github.com/digkill/salonstudio/internal/vision"
	"github.com/digkill/salonstudio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	verifier, err := auth.NewVerifier(cfg.AuthJWTSecret, cfg.AuthJWTIssuer, cfg.AuthJWTAudience)
	if err != nil {
		log.Fatalf("auth verifier: %v", err)
	}

	var botAPI *tgbotapi.BotAPI
	if cfg.TelegramBotToken != "" {
		botAPI, err = tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Fatalf("telegram bot: %v", err)
		}
	}
	var notifier *telegram.Notifier
	if botAPI != nil {
		notifier = telegram.NewNotifier(botAPI, logr)
	}

	profileRepo := repository.NewProfileRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	consultationRepo := repository.NewConsultationRepository(db)
	timelineRepo := repository.NewTimelineRepository(db)
	planRepo := repository.NewPlanRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	promoRepo := repository.NewPromoRepository(db)

	guard := quota.NewGuard(profileRepo, quota.DefaultLimits(cfg.FreeDailyLimit), logr, quota.WithLocation(cfg.QuotaLocation()))

	profileService := service.NewProfileService(profileRepo, guard)
	customerService := service.NewCustomerService(customerRepo)
	planService := service.NewPlanService(cfg, planRepo)
	promoService := service.NewPromoService(promoRepo)
	paymentService := service.NewPaymentService(cfg, logr, paymentRepo, planService, profileService, notifier)
	studioService := service.NewStudioService(service.StudioConfig{
		MaxUploadBytes:      cfg.MaxUploadBytes,
		TimelineWeeks:       cfg.TimelineWeeks,
		TimelineConcurrency: cfg.TimelineConcurrency,
		StrictQuota:         cfg.QuotaStrict,
	}, logr, service.StudioDeps{
		Guard:         guard,
		Customers:     customerRepo,
		Uploader:      uploader,
		Vision:        vision.NewClient(cfg, logr),
		Images:        kie.NewClient(cfg, logr),
		Consultations: consultationRepo,
		Timelines:     timelineRepo,
	})

	if err := planService.EnsureDefaultPlans(ctx); err != nil {
		log.Fatalf("ensure default plans: %v", err)
	}

	apiServer := api.NewServer(cfg.APIListenAddr, cfg.MaxUploadBytes, cfg.APIRequestDeadline, logr, api.Deps{
		Verifier:  verifier,
		Studio:    studioService,
		Profiles:  profileService,
		Customers: customerService,
		Plans:     planService,
		Billing:   paymentService,
		Promos:    promoService,
		Limiter:   api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	})
	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, admin.Deps{
		Plans:       planService,
		Promos:      promoService,
		Webhooks:    paymentService,
		Chats:       profileService,
		Broadcaster: notifier,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return apiServer.Run(gctx) })
	g.Go(func() error { return adminServer.Run(gctx) })
	if botAPI != nil {
		listener := telegram.NewListener(botAPI, notifier, logr)
		g.Go(func() error {
			if err := listener.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	logr.Info("salon studio started",
		"storage", cfg.StorageDriver,
		"payments", cfg.PaymentProvider,
		"telegram", botAPI != nil,
		"strict_quota", cfg.QuotaStrict,
	)
	if err := g.Wait(); err != nil {
		logr.Error("server stopped", "err", err)
	}
}

func newUploader(ctx context.Context, cfg config.Config) (service.PhotoUploader, error) {
	storageCfg := storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		UseSSL:        cfg.S3UseSSL,
		Prefix:        cfg.S3Prefix,
	}
	if cfg.StorageDriver == "minio" {
		return storage.NewMinioUploader(ctx, storageCfg)
	}
	return storage.NewUploader(storageCfg)
}
