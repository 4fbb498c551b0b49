package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/grant-search-mailer/internal/billing"
	"github.com/iliyamo/grant-search-mailer/internal/config"
	"github.com/iliyamo/grant-search-mailer/internal/database"
	"github.com/iliyamo/grant-search-mailer/internal/handler"
	"github.com/iliyamo/grant-search-mailer/internal/middleware"
	"github.com/iliyamo/grant-search-mailer/internal/nih"
	"github.com/iliyamo/grant-search-mailer/internal/notify"
	"github.com/iliyamo/grant-search-mailer/internal/queue"
	"github.com/iliyamo/grant-search-mailer/internal/repository"
	"github.com/iliyamo/grant-search-mailer/internal/router"
	"github.com/iliyamo/grant-search-mailer/internal/service"
	"github.com/iliyamo/grant-search-mailer/internal/utils"
)

const shutdownGrace = 10 * time.Second

func main() {
	_ = godotenv.Load() // .env is optional; real env vars win

	cfg, err := config.Load()
	log := newLogger(os.Getenv("APP_ENV"))
	defer func() { _ = log.Sync() }()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, rdb, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	accounts := service.NewAccountService(store, utils.NewPasswordHasher(cfg.BcryptCost), billing.NewCheckout(cfg.Billing), log.Named("accounts"))

	var events service.EventPublisher
	if cfg.Queue.Enabled() {
		events = queue.NewPublisher(cfg.Queue.URL, cfg.Queue.SearchEventsQueue, log.Named("publisher"))
	}
	searcher := nih.NewClient(cfg.NIH.BaseURL, &http.Client{Timeout: cfg.NIH.Timeout})
	gateway := service.NewSearchGateway(store, searcher, notify.New(cfg.Mail, log.Named("notify")), events, log.Named("search"))

	if !cfg.Mail.Enabled() {
		log.Warn("SENDGRID_API_KEY not set; results will not be mailed")
	}
	if !cfg.Billing.CheckoutEnabled() {
		log.Warn("STRIPE_SECRET_KEY not set; upgrades are disabled")
	}

	if cfg.Queue.Enabled() {
		consumer := queue.NewConsumer(cfg.Queue.URL, cfg.Queue.PaymentEventsQueue, accounts, log.Named("payments"))
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("payment consumer stopped", zap.Error(err))
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(requestLogger(log.Named("http")))
	router.UseCORS(e)

	router.RegisterRoutes(e, store)
	router.RegisterAction(e, handler.NewActionHandler(cfg, accounts, gateway, log.Named("action")),
		middleware.NewTokenBucket(cfg.RateLimit, rdb, log.Named("ratelimit")))
	router.RegisterWebhooks(e, handler.NewWebhookHandler(billing.NewWebhookParser(cfg.Billing.StripeWebhookSecret), accounts, log.Named("webhook")))
	router.RegisterAuth(e, handler.NewProfileHandler(accounts), cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreBackend))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if env == "prod" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// openStore builds the configured credential store. The Redis client is
// returned separately for the rate limiter; it is nil when Redis is not
// reachable and the store is MySQL.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (repository.AccountStore, *redis.Client, func()) {
	switch cfg.StoreBackend {
	case config.StoreMySQL:
		db, err := database.Open(cfg.MySQL)
		if err != nil {
			log.Fatal("mysql connect failed", zap.Error(err))
		}
		store := repository.NewMySQLAccountStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatal("mysql schema failed", zap.Error(err))
		}
		var rdb *redis.Client
		if cfg.RateLimit.Enabled {
			if rdb, err = config.NewRedisClient(cfg.Redis); err != nil {
				log.Warn("redis unavailable; rate limiting disabled", zap.Error(err))
				rdb = nil
			}
		}
		return store, rdb, func() {
			_ = db.Close()
			if rdb != nil {
				_ = rdb.Close()
			}
		}
	default:
		rdb, err := config.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Fatal("redis connect failed", zap.Error(err))
		}
		return repository.NewRedisAccountStore(rdb), rdb, func() { _ = rdb.Close() }
	}
}

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Info("request", fields...)
			return nil
		},
	})
}
