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
	"github.com/shopspring/decimal"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken    string
	DBDriver    string
	DBDSN       string
	CatalogPath string
	LogLevel    string

	ReplicateAPIToken string
	ReplicateBaseURL  string
	FalKey            string
	FalBaseURL        string
	KIEAPIKey         string
	KIEBaseURL        string
	RequestTimeout    time.Duration
	ProviderRPS       float64

	PollInterval    time.Duration
	PollMaxInterval time.Duration
	PollTimeout     time.Duration
	PollMaxAttempts int

	FreeGenerationsOnStart int

	PaymentProvider              string
	TelegramPaymentProviderToken string
	PaymentCurrency              string
	TopUpAmounts                 []decimal.Decimal
	YooKassaShopID               string
	YooKassaSecretKey            string
	YooKassaReturnURL            string
	YooKassaWebhookSecret        string
	YooKassaAPIURL               string

	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3PublicRead    bool
	S3Prefix        string

	SessionStore  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration
}

// S3Enabled reports whether uploads of user media can go to object storage.
func (c Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3PublicBaseURL != ""
}

// CurrencySymbol is how amounts in PaymentCurrency are shown to users.
func (c Config) CurrencySymbol() string {
	switch strings.ToUpper(c.PaymentCurrency) {
	case "RUB", "":
		return "₽"
	case "USD":
		return "$"
	case "EUR":
		return "€"
	default:
		return strings.ToUpper(c.PaymentCurrency)
	}
}

// insecureAdminPassword is the placeholder shipped in configs/.env.example.
const insecureAdminPassword = "change-me"

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		DBDriver:                     strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		CatalogPath:                  getEnv("CATALOG_PATH", ""),
		LogLevel:                     getEnv("LOG_LEVEL", "info"),
		ReplicateBaseURL:             getEnv("REPLICATE_BASE_URL", "https://api.replicate.com"),
		FalBaseURL:                   getEnv("FAL_BASE_URL", "https://queue.fal.run"),
		KIEBaseURL:                   normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		RequestTimeout:               time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		ProviderRPS:                  getFloat("PROVIDER_RPS", 5),
		PollInterval:                 time.Millisecond * time.Duration(getInt("POLL_INTERVAL_MS", 2000)),
		PollMaxInterval:              time.Millisecond * time.Duration(getInt("POLL_MAX_INTERVAL_MS", 15000)),
		PollTimeout:                  time.Second * time.Duration(getInt("POLL_TIMEOUT_SECONDS", 600)),
		PollMaxAttempts:              getInt("POLL_MAX_ATTEMPTS", 120),
		FreeGenerationsOnStart:       getInt("FREE_GENERATIONS_ON_START", 1),
		PaymentProvider:              strings.ToLower(getEnv("PAYMENT_PROVIDER", "telegram")),
		TelegramPaymentProviderToken: os.Getenv("TELEGRAM_PAYMENT_PROVIDER_TOKEN"),
		PaymentCurrency:              getEnv("PAYMENT_CURRENCY", "RUB"),
		YooKassaShopID:               getEnv("YOOKASSA_SHOP_ID", ""),
		YooKassaSecretKey:            getEnv("YOOKASSA_SECRET_KEY", ""),
		YooKassaReturnURL:            getEnv("YOOKASSA_RETURN_URL", ""),
		YooKassaWebhookSecret:        getEnv("YOOKASSA_WEBHOOK_SECRET", ""),
		YooKassaAPIURL:               getEnv("YOOKASSA_API_URL", "https://api.yookassa.ru/v3"),
		AdminListenAddr:              getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:                getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:                os.Getenv("ADMIN_PASSWORD"),
		S3Endpoint:                   getEnv("S3_ENDPOINT", ""),
		S3Region:                     os.Getenv("S3_REGION"),
		S3AccessKey:                  os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:                  os.Getenv("S3_SECRET_KEY"),
		S3Bucket:                     os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:              os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:               getBool("S3_USE_PATH_STYLE", false),
		S3PublicRead:                 getBool("S3_PUBLIC_READ", true),
		S3Prefix:                     getEnv("S3_PREFIX", "uploads"),
		SessionStore:                 strings.ToLower(getEnv("SESSION_STORE", "memory")),
		RedisAddr:                    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:                os.Getenv("REDIS_PASSWORD"),
		RedisDB:                      getInt("REDIS_DB", 0),
		SessionTTL:                   time.Hour * time.Duration(getInt("SESSION_TTL_HOURS", 24)),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.DBDSN = os.Getenv("DB_DSN")
	cfg.ReplicateAPIToken = os.Getenv("REPLICATE_API_TOKEN")
	cfg.FalKey = os.Getenv("FAL_KEY")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")

	amounts, err := parseAmounts(getEnv("TOPUP_AMOUNTS", "100,300,500,1000"))
	if err != nil {
		return Config{}, fmt.Errorf("TOPUP_AMOUNTS: %w", err)
	}
	cfg.TopUpAmounts = amounts

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if cfg.ReplicateAPIToken == "" && cfg.FalKey == "" && cfg.KIEAPIKey == "" {
		missing = append(missing, "REPLICATE_API_TOKEN|FAL_KEY|KIE_API_KEY")
	}
	switch cfg.PaymentProvider {
	case "telegram":
		if cfg.TelegramPaymentProviderToken == "" {
			missing = append(missing, "TELEGRAM_PAYMENT_PROVIDER_TOKEN")
		}
	case "yookassa":
		if cfg.YooKassaShopID == "" {
			missing = append(missing, "YOOKASSA_SHOP_ID")
		}
		if cfg.YooKassaSecretKey == "" {
			missing = append(missing, "YOOKASSA_SECRET_KEY")
		}
		if cfg.YooKassaWebhookSecret == "" {
			missing = append(missing, "YOOKASSA_WEBHOOK_SECRET")
		}
	default:
		return Config{}, fmt.Errorf("unsupported PAYMENT_PROVIDER %q", cfg.PaymentProvider)
	}
	if cfg.AdminPassword == "" {
		missing = append(missing, "ADMIN_PASSWORD")
	}
	if cfg.SessionStore == "redis" && cfg.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	if cfg.AdminPassword == insecureAdminPassword {
		return Config{}, fmt.Errorf("ADMIN_PASSWORD must not be %q", insecureAdminPassword)
	}

	switch cfg.DBDriver {
	case "mysql", "postgres":
	default:
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	switch cfg.SessionStore {
	case "memory", "redis":
	default:
		return Config{}, fmt.Errorf("unsupported SESSION_STORE %q", cfg.SessionStore)
	}
	if cfg.PollMaxInterval < cfg.PollInterval {
		cfg.PollMaxInterval = cfg.PollInterval
	}

	return cfg, nil
}

func parseAmounts(raw string) ([]decimal.Decimal, error) {
	var out []decimal.Decimal
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := decimal.NewFromString(part)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", part, err)
		}
		if !d.IsPositive() {
			return nil, fmt.Errorf("amount %s must be positive", d)
		}
		out = append(out, d.Round(2))
	}
	if len(out) == 0 {
		return nil, errors.New("no top-up amounts configured")
	}
	return out, nil
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

// loadEnvFile loads the first env file found. Running purely from the
// process environment is fine.
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
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
