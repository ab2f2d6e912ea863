package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	env := map[string]string{
		"TELEGRAM_BOT_TOKEN":     "token",
		"MYSQL_DSN":              "user:pass@tcp(localhost:3306)/ppbot",
		"MONGO_URI":              "mongodb://localhost:27017",
		"GEMINI_API_KEY":         "gemini",
		"REPLICATE_API_TOKEN":    "r8_token",
		"REPLICATE_CALLBACK_URL": "https://bot.example.com/webhook/replicate",
		"ZARINPAL_MERCHANT_ID":   "merchant",
		"ZARINPAL_CALLBACK_URL":  "https://bot.example.com/payment/callback",
		"S3_REGION":              "us-east-1",
		"S3_ACCESS_KEY":          "ak",
		"S3_SECRET_KEY":          "sk",
		"S3_BUCKET":              "products",
		"S3_PUBLIC_BASE_URL":     "https://cdn.example.com",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	t.Setenv("CONFIG_ENV_PATH", "")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultGenerationCost != 1 {
		t.Errorf("default cost = %d, want 1", cfg.DefaultGenerationCost)
	}
	if cfg.RefundOnFailedJob {
		t.Error("refund on failed job must default to false")
	}
	if cfg.RequestTimeout != 60*time.Second {
		t.Errorf("timeout = %v", cfg.RequestTimeout)
	}
	if cfg.DispatchSchedule != "@every 10s" {
		t.Errorf("dispatch schedule = %q", cfg.DispatchSchedule)
	}
	if cfg.ReplicateModel != "black-forest-labs/flux-kontext-pro" {
		t.Errorf("replicate model = %q", cfg.ReplicateModel)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DEFAULT_GENERATION_COST", "0")
	t.Setenv("REFUND_ON_FAILED_JOB", "true")
	t.Setenv("DISPATCH_BATCH", "not-a-number")
	t.Setenv("REPLICATE_BASE_URL", "http://localhost:9000/v1/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultGenerationCost != 1 {
		t.Errorf("non-positive cost should fall back to 1, got %d", cfg.DefaultGenerationCost)
	}
	if !cfg.RefundOnFailedJob {
		t.Error("refund flag not applied")
	}
	if cfg.DispatchBatch != 10 {
		t.Errorf("dispatch batch = %d, want fallback 10", cfg.DispatchBatch)
	}
	if cfg.ReplicateBaseURL != "http://localhost:9000/v1" {
		t.Errorf("base url = %q", cfg.ReplicateBaseURL)
	}
}

func TestLoadMissing(t *testing.T) {
	setRequired(t)
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("S3_BUCKET", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"MYSQL_DSN", "S3_BUCKET"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}
