package config

import (
	"strings"
	"testing"
	"time"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

// clearEnv blanks every variable Load reads so the host environment does
// not leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_ENV", "APP_PORT", "JWT_SECRET", "ACCESS_TOKEN_TTL_MIN", "BCRYPT_COST", "STORE_BACKEND", "ADMIN_TOKEN",
		"REDIS_ADDR", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB", "REDIS_TLS",
		"DB_USER", "DB_PASS", "DB_HOST", "DB_PORT", "DB_NAME",
		"NIH_API_URL", "NIH_TIMEOUT", "SENDGRID_API_KEY", "MAIL_FROM", "MAIL_FROM_NAME",
		"STRIPE_SECRET_KEY", "STRIPE_PRICE_ID", "STRIPE_WEBHOOK_SECRET", "CHECKOUT_SUCCESS_URL", "CHECKOUT_CANCEL_URL",
		"RABBITMQ_URL", "AMQP_URL", "PAYMENT_EVENTS_QUEUE", "SEARCH_EVENTS_QUEUE",
		"RATE_LIMIT_ENABLED", "RATE_LIMIT_CAPACITY", "RATE_LIMIT_REFILL_TOKENS", "RATE_LIMIT_REFILL_INTERVAL",
		"RATE_LIMIT_TTL", "RATE_LIMIT_KEY_STRATEGY", "RATE_LIMIT_PREFIX",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	setEnv(t, map[string]string{"JWT_SECRET": "s"})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.Env != "dev" || cfg.StoreBackend != StoreRedis {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.AccessTTLMin != 60 || cfg.BcryptCost != 10 {
		t.Errorf("ttl=%d cost=%d", cfg.AccessTTLMin, cfg.BcryptCost)
	}
	if cfg.NIH.BaseURL != "https://api.reporter.nih.gov" || cfg.NIH.Timeout != 20*time.Second {
		t.Errorf("nih = %+v", cfg.NIH)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Mail.Enabled() || cfg.Billing.CheckoutEnabled() || cfg.Queue.Enabled() {
		t.Error("collaborators should be disabled without secrets")
	}
	if cfg.AdminToken != "" {
		t.Errorf("admin token = %q, want empty", cfg.AdminToken)
	}
	if cfg.Queue.PaymentEventsQueue != "billing.payment_events" {
		t.Errorf("payment queue = %q", cfg.Queue.PaymentEventsQueue)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantMsg string
	}{
		{"missing jwt secret", map[string]string{}, "JWT_SECRET"},
		{"bad ttl", map[string]string{"JWT_SECRET": "s", "ACCESS_TOKEN_TTL_MIN": "abc"}, "ACCESS_TOKEN_TTL_MIN"},
		{"bad backend", map[string]string{"JWT_SECRET": "s", "STORE_BACKEND": "dynamo"}, "STORE_BACKEND"},
		{"mysql without host", map[string]string{"JWT_SECRET": "s", "STORE_BACKEND": "mysql", "DB_USER": "u", "DB_NAME": "n"}, "DB_HOST"},
		{"sendgrid without sender", map[string]string{"JWT_SECRET": "s", "SENDGRID_API_KEY": "k"}, "MAIL_FROM"},
		{"stripe without price", map[string]string{"JWT_SECRET": "s", "STRIPE_SECRET_KEY": "sk", "CHECKOUT_SUCCESS_URL": "a", "CHECKOUT_CANCEL_URL": "b"}, "STRIPE_PRICE_ID"},
		{"short admin token", map[string]string{"JWT_SECRET": "s", "ADMIN_TOKEN": "short"}, "ADMIN_TOKEN"},
		{"bad nih timeout", map[string]string{"JWT_SECRET": "s", "NIH_TIMEOUT": "soon"}, "NIH_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setEnv(t, tt.env)
			_, err := Load()
			if err == nil {
				t.Fatal("Load() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_Collaborators(t *testing.T) {
	clearEnv(t)
	setEnv(t, map[string]string{
		"JWT_SECRET":           "s",
		"SENDGRID_API_KEY":     "SG.key",
		"MAIL_FROM":            "grants@example.org",
		"STRIPE_SECRET_KEY":    "sk_test",
		"STRIPE_PRICE_ID":      "price_1",
		"CHECKOUT_SUCCESS_URL": "https://example.org/ok",
		"CHECKOUT_CANCEL_URL":  "https://example.org/cancel",
		"AMQP_URL":             "amqp://guest:guest@mq:5672/",
		"REDIS_HOST":           "cache",
		"REDIS_PORT":           "6380",
		"NIH_API_URL":          "http://nih.local/",
	})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Mail.Enabled() || !cfg.Billing.CheckoutEnabled() || !cfg.Queue.Enabled() {
		t.Errorf("collaborators not enabled: %+v", cfg)
	}
	if cfg.Queue.URL != "amqp://guest:guest@mq:5672/" {
		t.Errorf("queue url = %q", cfg.Queue.URL)
	}
	if cfg.Redis.Addr != "cache:6380" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.NIH.BaseURL != "http://nih.local" {
		t.Errorf("nih base url = %q", cfg.NIH.BaseURL)
	}
}

func TestLoadRateLimitConfig_Clamps(t *testing.T) {
	clearEnv(t)
	setEnv(t, map[string]string{
		"RATE_LIMIT_CAPACITY":        "0",
		"RATE_LIMIT_REFILL_INTERVAL": "2s",
		"RATE_LIMIT_TTL":             "1s",
		"RATE_LIMIT_ENABLED":         "off",
	})
	rl := LoadRateLimitConfig()
	if rl.Enabled {
		t.Error("Enabled = true, want false")
	}
	if rl.Capacity != 1 {
		t.Errorf("Capacity = %d, want 1", rl.Capacity)
	}
	if rl.TTL != 10*time.Second {
		t.Errorf("TTL = %v, want 10s", rl.TTL)
	}
}

func TestLoadRateLimitConfig_KeyStrategy(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "ip_route"},
		{"ip", "ip"},
		{"ip_route", "ip_route"},
		{"user", "ip_route"},
		{"ip_user", "ip_route"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			clearEnv(t)
			setEnv(t, map[string]string{"RATE_LIMIT_KEY_STRATEGY": tt.in})
			if got := LoadRateLimitConfig().KeyStrategy; got != tt.want {
				t.Errorf("KeyStrategy = %q, want %q", got, tt.want)
			}
		})
	}
}
