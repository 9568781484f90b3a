package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API and supporting services.
type Config struct {
	APIListenAddr       string
	AdminListenAddr     string
	AdminUsername       string
	AdminPassword       string
	LogLevel            string
	MySQLDSN            string
	AuthJWTSecret       string
	AuthJWTIssuer       string
	AuthJWTAudience     string
	VisionAPIKey        string
	VisionBaseURL       string
	VisionModel         string
	KIEAPIKey           string
	KIEBaseURL          string
	KIEImageModel       string
	RequestTimeout      time.Duration
	APIRequestDeadline  time.Duration
	FreeDailyLimit      int
	QuotaTimezone       string
	QuotaStrict         bool
	MaxUploadBytes      int64
	TimelineWeeks       int
	TimelineConcurrency int
	RateLimitRPS        float64
	RateLimitBurst      int
	StorageDriver       string
	S3Endpoint          string
	S3Region            string
	S3AccessKey         string
	S3SecretKey         string
	S3Bucket            string
	S3PublicBaseURL     string
	S3UsePathStyle      bool
	S3UseSSL            bool
	S3Prefix            string
	PaymentProvider     string
	PaymentCurrency     string
	BasicPriceMinor     int
	ProPriceMinor       int
	PlanTermDays        int
	YooKassaShopID      string
	YooKassaSecretKey   string
	YooKassaReturnURL   string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceBasic    string
	StripePricePro      string
	FrontendURL         string
	TelegramBotToken    string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		APIListenAddr:       getEnv("API_LISTEN_ADDR", ":8000"),
		AdminListenAddr:     getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       getEnv("ADMIN_PASSWORD", "change-me"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AuthJWTIssuer:       getEnv("AUTH_JWT_ISSUER", ""),
		AuthJWTAudience:     getEnv("AUTH_JWT_AUDIENCE", "authenticated"),
		VisionBaseURL:       strings.TrimRight(getEnv("VISION_BASE_URL", "https://api.openai.com"), "/"),
		VisionModel:         getEnv("VISION_MODEL", "gpt-4o"),
		KIEBaseURL:          normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEImageModel:       getEnv("KIE_IMAGE_MODEL", "nano-banana-pro"),
		RequestTimeout:      getDuration("HTTP_TIMEOUT_SECONDS", 90*time.Second),
		APIRequestDeadline:  getDuration("API_REQUEST_DEADLINE_SECONDS", 0),
		FreeDailyLimit:      getInt("FREE_DAILY_LIMIT", 3),
		QuotaTimezone:       getEnv("QUOTA_TIMEZONE", "UTC"),
		QuotaStrict:         getBool("QUOTA_STRICT", false),
		MaxUploadBytes:      getInt64("MAX_UPLOAD_BYTES", 10<<20),
		TimelineWeeks:       getInt("TIMELINE_WEEKS", 5),
		TimelineConcurrency: getInt("TIMELINE_CONCURRENCY", 5),
		RateLimitRPS:        getFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst:      getInt("RATE_LIMIT_BURST", 5),
		StorageDriver:       strings.ToLower(getEnv("STORAGE_DRIVER", "s3")),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Region:            os.Getenv("S3_REGION"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:     os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:      getBool("S3_USE_PATH_STYLE", false),
		S3UseSSL:            getBool("S3_USE_SSL", true),
		S3Prefix:            getEnv("S3_PREFIX", "photos"),
		PaymentProvider:     strings.ToLower(getEnv("PAYMENT_PROVIDER", "none")),
		PaymentCurrency:     getEnv("PAYMENT_CURRENCY", "RUB"),
		BasicPriceMinor:     getInt("PLAN_BASIC_PRICE_MINOR_UNITS", 99000),
		ProPriceMinor:       getInt("PLAN_PRO_PRICE_MINOR_UNITS", 199000),
		PlanTermDays:        getInt("PLAN_TERM_DAYS", 30),
		YooKassaShopID:      getEnv("YOOKASSA_SHOP_ID", ""),
		YooKassaSecretKey:   getEnv("YOOKASSA_SECRET_KEY", ""),
		YooKassaReturnURL:   getEnv("YOOKASSA_RETURN_URL", ""),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceBasic:    getEnv("STRIPE_PRICE_BASIC", ""),
		StripePricePro:      getEnv("STRIPE_PRICE_PRO", ""),
		FrontendURL:         strings.TrimRight(getEnv("FRONTEND_URL", ""), "/"),
		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")
	cfg.VisionAPIKey = os.Getenv("VISION_API_KEY")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if c.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if c.AuthJWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if c.VisionAPIKey == "" {
		missing = append(missing, "VISION_API_KEY")
	}
	if c.KIEAPIKey == "" {
		missing = append(missing, "KIE_API_KEY")
	}

	switch c.StorageDriver {
	case "s3", "minio":
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER: %s", c.StorageDriver)
	}
	if c.StorageDriver == "s3" && c.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if c.StorageDriver == "minio" && c.S3Endpoint == "" {
		missing = append(missing, "S3_ENDPOINT")
	}
	if c.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if c.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if c.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if c.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}

	switch c.PaymentProvider {
	case "none":
	case "yookassa":
		if c.YooKassaShopID == "" {
			missing = append(missing, "YOOKASSA_SHOP_ID")
		}
		if c.YooKassaSecretKey == "" {
			missing = append(missing, "YOOKASSA_SECRET_KEY")
		}
	case "stripe":
		if c.StripeSecretKey == "" {
			missing = append(missing, "STRIPE_SECRET_KEY")
		}
		if c.StripeWebhookSecret == "" {
			missing = append(missing, "STRIPE_WEBHOOK_SECRET")
		}
		if c.FrontendURL == "" {
			missing = append(missing, "FRONTEND_URL")
		}
	default:
		return fmt.Errorf("unsupported PAYMENT_PROVIDER: %s", c.PaymentProvider)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	if _, err := time.LoadLocation(c.QuotaTimezone); err != nil {
		return fmt.Errorf("invalid QUOTA_TIMEZONE %q: %w", c.QuotaTimezone, err)
	}
	return nil
}

// QuotaLocation returns the location calendar days are computed in.
func (c Config) QuotaLocation() *time.Location {
	loc, err := time.LoadLocation(c.QuotaTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// normalizeKIEBaseURL ensures we always hit the documented API host. The root
// kie.ai domain serves HTML instead of JSON.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getDuration reads a whole number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running with plain environment variables is fine.
	return nil
}
