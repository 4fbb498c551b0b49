package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreRedis = "redis"
	StoreMySQL = "mysql"
)

// Config holds all runtime configuration values.  It is built once in main
// and injected into the components that need it; nothing below main reads
// the environment.
type Config struct {
	Env          string // application environment (dev, test, prod)
	Port         string // HTTP port to listen on
	JWTSecret    string // secret used to sign access tokens
	AccessTTLMin int    // access token time-to-live in minutes
	BcryptCost   int    // bcrypt cost for password hashing
	StoreBackend string // credential store backend: redis or mysql
	AdminToken   string // shared secret for administrative actions; empty disables them

	Redis     RedisConfig
	MySQL     MySQLConfig
	NIH       NIHConfig
	Mail      MailConfig
	Billing   BillingConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
}

// MySQLConfig is only required when StoreBackend is mysql.
type MySQLConfig struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

// NIHConfig points at the RePORTER projects API.
type NIHConfig struct {
	BaseURL string
	Timeout time.Duration
}

// MailConfig configures the SendGrid notifier.  An empty APIKey disables
// delivery.
type MailConfig struct {
	SendGridAPIKey string
	FromAddress    string
	FromName       string
}

// Enabled reports whether mail delivery is configured.
func (m MailConfig) Enabled() bool { return m.SendGridAPIKey != "" }

// BillingConfig configures Stripe checkout and webhook verification.
type BillingConfig struct {
	StripeSecretKey     string
	StripePriceID       string
	StripeWebhookSecret string
	SuccessURL          string
	CancelURL           string
}

// CheckoutEnabled reports whether upgrade checkout sessions can be created.
func (b BillingConfig) CheckoutEnabled() bool { return b.StripeSecretKey != "" }

// QueueConfig configures RabbitMQ.  An empty URL disables both the payment
// event consumer and the search event publisher.
type QueueConfig struct {
	URL                string
	PaymentEventsQueue string
	SearchEventsQueue  string
}

// Enabled reports whether a broker URL is configured.
func (q QueueConfig) Enabled() bool { return q.URL != "" }

// Load reads configuration values from environment variables and validates
// them.  All problems are reported together.
func Load() (Config, error) {
	var errs []error

	cfg := Config{
		Env:          getenv("APP_ENV", "dev"),
		Port:         getenv("APP_PORT", "8080"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		StoreBackend: strings.ToLower(getenv("STORE_BACKEND", StoreRedis)),
		AdminToken:   os.Getenv("ADMIN_TOKEN"),
		Redis:        LoadRedisConfig(),
		MySQL: MySQLConfig{
			User: os.Getenv("DB_USER"),
			Pass: os.Getenv("DB_PASS"),
			Host: os.Getenv("DB_HOST"),
			Port: getenv("DB_PORT", "3306"),
			Name: os.Getenv("DB_NAME"),
		},
		NIH: NIHConfig{
			BaseURL: strings.TrimRight(getenv("NIH_API_URL", "https://api.reporter.nih.gov"), "/"),
		},
		Mail: MailConfig{
			SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
			FromAddress:    os.Getenv("MAIL_FROM"),
			FromName:       getenv("MAIL_FROM_NAME", "Grant Search"),
		},
		Billing: BillingConfig{
			StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			StripePriceID:       os.Getenv("STRIPE_PRICE_ID"),
			StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			SuccessURL:          os.Getenv("CHECKOUT_SUCCESS_URL"),
			CancelURL:           os.Getenv("CHECKOUT_CANCEL_URL"),
		},
		Queue: QueueConfig{
			URL:                firstNonEmpty(os.Getenv("RABBITMQ_URL"), os.Getenv("AMQP_URL")),
			PaymentEventsQueue: getenv("PAYMENT_EVENTS_QUEUE", "billing.payment_events"),
			SearchEventsQueue:  getenv("SEARCH_EVENTS_QUEUE", "search.completed"),
		},
		RateLimit: LoadRateLimitConfig(),
	}

	var err error
	if cfg.AccessTTLMin, err = intVar("ACCESS_TOKEN_TTL_MIN", 60); err != nil {
		errs = append(errs, err)
	}
	if cfg.BcryptCost, err = intVar("BCRYPT_COST", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.NIH.Timeout, err = durVar("NIH_TIMEOUT", 20*time.Second); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// validate checks cross-field requirements.  Collaborator secrets are
// optional, but a half-configured collaborator is an error.
func (c Config) validate() []error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, missing("JWT_SECRET"))
	}
	if c.AccessTTLMin <= 0 {
		errs = append(errs, fmt.Errorf("ACCESS_TOKEN_TTL_MIN must be positive"))
	}

	if c.AdminToken != "" && len(c.AdminToken) < minAdminTokenLen {
		errs = append(errs, fmt.Errorf("ADMIN_TOKEN must be at least %d characters", minAdminTokenLen))
	}

	switch c.StoreBackend {
	case StoreRedis:
	case StoreMySQL:
		if c.MySQL.User == "" {
			errs = append(errs, missing("DB_USER"))
		}
		if c.MySQL.Host == "" {
			errs = append(errs, missing("DB_HOST"))
		}
		if c.MySQL.Name == "" {
			errs = append(errs, missing("DB_NAME"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreRedis, StoreMySQL, c.StoreBackend))
	}

	if c.Mail.Enabled() && c.Mail.FromAddress == "" {
		errs = append(errs, fmt.Errorf("MAIL_FROM is required when SENDGRID_API_KEY is set"))
	}

	if c.Billing.CheckoutEnabled() {
		if c.Billing.StripePriceID == "" {
			errs = append(errs, fmt.Errorf("STRIPE_PRICE_ID is required when STRIPE_SECRET_KEY is set"))
		}
		if c.Billing.SuccessURL == "" || c.Billing.CancelURL == "" {
			errs = append(errs, fmt.Errorf("CHECKOUT_SUCCESS_URL and CHECKOUT_CANCEL_URL are required when STRIPE_SECRET_KEY is set"))
		}
	}
	return errs
}

const minAdminTokenLen = 16

func missing(key string) error {
	return fmt.Errorf("missing required env var: %s", key)
}

func intVar(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid int for %s: %q", key, s)
	}
	return n, nil
}

func durVar(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q", key, s)
	}
	return d, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
