package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken              string
	MySQLDSN              string
	MongoURI              string
	MongoDatabase         string
	GeminiAPIKey          string
	GeminiModel           string
	ReplicateAPIToken     string
	ReplicateBaseURL      string
	ReplicateModel        string
	ReplicateCallbackURL  string
	ReplicateWebhookKey   string
	ZarinpalMerchantID    string
	ZarinpalCallbackURL   string
	ZarinpalRequestURL    string
	ZarinpalVerifyURL     string
	ZarinpalPaymentBase   string
	ZarinpalMobile        string
	ZarinpalEmail         string
	RequestTimeout        time.Duration
	NewUserGiftCoins      int
	ReferralBonusCredits  int
	DefaultGenerationCost int
	RefundOnFailedJob     bool
	DispatchSchedule      string
	DispatchBatch         int
	ConfigRefreshSchedule string
	AdminListenAddr       string
	AdminUsername         string
	AdminPassword         string
	S3Endpoint            string
	S3Region              string
	S3AccessKey           string
	S3SecretKey           string
	S3Bucket              string
	S3PublicBaseURL       string
	S3UsePathStyle        bool
	S3Prefix              string
	LogLevel              string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		MongoDatabase:         getEnv("MONGO_DATABASE", "ppbot"),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		ReplicateBaseURL:      strings.TrimRight(getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"), "/"),
		ReplicateModel:        getEnv("REPLICATE_MODEL", "black-forest-labs/flux-kontext-pro"),
		ReplicateWebhookKey:   os.Getenv("REPLICATE_WEBHOOK_SECRET"),
		ZarinpalRequestURL:    getEnv("ZARINPAL_REQUEST_URL", "https://api.zarinpal.com/pg/v4/payment/request.json"),
		ZarinpalVerifyURL:     getEnv("ZARINPAL_VERIFY_URL", "https://api.zarinpal.com/pg/v4/payment/verify.json"),
		ZarinpalPaymentBase:   getEnv("ZARINPAL_PAYMENT_BASE", "https://www.zarinpal.com/pg/StartPay/"),
		ZarinpalMobile:        os.Getenv("ZARINPAL_MERCHANT_MOBILE"),
		ZarinpalEmail:         os.Getenv("ZARINPAL_MERCHANT_EMAIL"),
		RequestTimeout:        time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		NewUserGiftCoins:      getInt("NEW_USER_GIFT_COINS", 0),
		ReferralBonusCredits:  getInt("REFERRAL_BONUS_CREDITS", 0),
		DefaultGenerationCost: getInt("DEFAULT_GENERATION_COST", 1),
		RefundOnFailedJob:     getBool("REFUND_ON_FAILED_JOB", false),
		DispatchSchedule:      getEnv("DISPATCH_SCHEDULE", "@every 10s"),
		DispatchBatch:         getInt("DISPATCH_BATCH", 10),
		ConfigRefreshSchedule: getEnv("CONFIG_REFRESH_SCHEDULE", "@every 1m"),
		AdminListenAddr:       getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:         getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:         getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:            getEnv("S3_ENDPOINT", ""),
		S3Region:              os.Getenv("S3_REGION"),
		S3AccessKey:           os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:           os.Getenv("S3_SECRET_KEY"),
		S3Bucket:              os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:       os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:        getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:              getEnv("S3_PREFIX", "products"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.MongoURI = os.Getenv("MONGO_URI")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.ReplicateAPIToken = os.Getenv("REPLICATE_API_TOKEN")
	cfg.ReplicateCallbackURL = os.Getenv("REPLICATE_CALLBACK_URL")
	cfg.ZarinpalMerchantID = os.Getenv("ZARINPAL_MERCHANT_ID")
	cfg.ZarinpalCallbackURL = os.Getenv("ZARINPAL_CALLBACK_URL")

	if cfg.DefaultGenerationCost <= 0 {
		cfg.DefaultGenerationCost = 1
	}
	if cfg.DispatchBatch <= 0 {
		cfg.DispatchBatch = 10
	}

	required := []struct {
		key   string
		value string
	}{
		{"TELEGRAM_BOT_TOKEN", cfg.BotToken},
		{"MYSQL_DSN", cfg.MySQLDSN},
		{"MONGO_URI", cfg.MongoURI},
		{"GEMINI_API_KEY", cfg.GeminiAPIKey},
		{"REPLICATE_API_TOKEN", cfg.ReplicateAPIToken},
		{"REPLICATE_CALLBACK_URL", cfg.ReplicateCallbackURL},
		{"ZARINPAL_MERCHANT_ID", cfg.ZarinpalMerchantID},
		{"ZARINPAL_CALLBACK_URL", cfg.ZarinpalCallbackURL},
		{"S3_REGION", cfg.S3Region},
		{"S3_ACCESS_KEY", cfg.S3AccessKey},
		{"S3_SECRET_KEY", cfg.S3SecretKey},
		{"S3_BUCKET", cfg.S3Bucket},
		{"S3_PUBLIC_BASE_URL", cfg.S3PublicBaseURL},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
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

// loadEnvFile loads the first env file found. Running without one is fine,
// the process environment is used as is.
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
