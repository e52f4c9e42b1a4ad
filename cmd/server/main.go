package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/duetapp/duet-backend/internal/config"
	"github.com/duetapp/duet-backend/internal/database"
	"github.com/duetapp/duet-backend/internal/handlers"
	"github.com/duetapp/duet-backend/internal/identity"
	"github.com/duetapp/duet-backend/internal/kvstore"
	"github.com/duetapp/duet-backend/internal/logging"
	"github.com/duetapp/duet-backend/internal/middleware"
	"github.com/duetapp/duet-backend/internal/otp"
	"github.com/duetapp/duet-backend/internal/routes"
	"github.com/duetapp/duet-backend/internal/services"
	"github.com/duetapp/duet-backend/internal/session"
	"github.com/duetapp/duet-backend/internal/store"
	"github.com/duetapp/duet-backend/internal/token"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}

	// Durable storage for the auth tables
	storage, cleanupDone := bootStorage(cfg)
	otpStorage := bootOTPStorage(cfg, storage)

	// Core services
	credStore := store.New(storage)
	otpService := otp.New(otpStorage)
	tokens := token.NewIssuer(storage, cfg.JWTSecret, cfg.JWTAccessExpiry, cfg.JWTRefreshExpiry)
	providers := []identity.Provider{
		identity.NewStub("google"),
		identity.NewStub("apple"),
	}

	var moderationService *services.ModerationService
	var moderationHandler *handlers.ModerationHandler
	if database.DB != nil {
		moderationService = services.NewModerationService(database.DB)
		moderationHandler = handlers.NewModerationHandler(moderationService)
	}

	authService := services.NewAuthService(credStore, otpService, tokens, providers, moderationService)
	manager := session.NewManager(authService)

	// Session transitions are worth a line in the structured log.
	manager.Subscribe(func(snap session.Snapshot) {
		if snap.IsLoading {
			return
		}
		userID := ""
		if snap.User != nil {
			userID = snap.User.ID
		}
		slog.Info("session state",
			"authenticated", snap.IsAuthenticated,
			"user_id", userID,
			"onboarding_step", int(snap.OnboardingStep),
		)
	})

	// Expired-OTP hygiene sweep; verification already rejects stale codes.
	sweepDone := make(chan struct{})
	otpService.StartSweeper(cfg.OTPSweepInterval, sweepDone)

	// Handlers
	authHandler := handlers.NewAuthHandler(manager, cfg.OTPDevExpose)
	healthHandler := handlers.NewHealthHandler(storage)

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})

	routes.Setup(app, cfg, authHandler, healthHandler, moderationHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port, "storage", cfg.StorageBackend)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	close(sweepDone)
	if cleanupDone != nil {
		close(cleanupDone)
	}
	sentry.Flush(2 * time.Second)

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if database.DB != nil {
		if sqlDB, err := database.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				slog.Error("database close error", "error", err)
			}
		}
	}

	slog.Info("server stopped")
}

// bootStorage opens the durable backend for the user, refresh-token, and
// (by default) pending-OTP tables. With Postgres it also wires the ERROR+
// log handler and its retention sweep; the returned channel stops them.
func bootStorage(cfg *config.Config) (kvstore.Store, chan struct{}) {
	switch cfg.StorageBackend {
	case "memory":
		slog.Warn("using in-memory storage; state is lost on restart")
		return kvstore.NewMemoryStore(), nil
	case "postgres":
		if cfg.DBPassword == "" {
			slog.Error("DB_PASSWORD environment variable is required")
			os.Exit(1)
		}
		if err := database.Connect(cfg); err != nil {
			slog.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		if err := database.Migrate(); err != nil {
			slog.Error("migration failed", "error", err)
			os.Exit(1)
		}

		// ERROR+ records also land in system_logs (30-day retention)
		dbLogHandler := logging.NewDBHandler(database.DB)
		slog.SetDefault(slog.New(logging.NewFanout(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
			dbLogHandler,
		)))
		done := make(chan struct{})
		logging.StartRetention(database.DB, done)
		go func() {
			<-done
			dbLogHandler.Stop()
		}()

		return kvstore.NewPostgresStore(database.DB), done
	default:
		slog.Error("unknown STORAGE_BACKEND", "backend", cfg.StorageBackend)
		os.Exit(1)
		return nil, nil
	}
}

// bootOTPStorage returns the backend for the volatile pending-OTP table.
// Defaults to the main storage; "redis" keeps pending codes out of the
// durable store entirely.
func bootOTPStorage(cfg *config.Config, fallback kvstore.Store) kvstore.Store {
	if cfg.OTPStorageBackend == "" || cfg.OTPStorageBackend == cfg.StorageBackend {
		return fallback
	}
	switch cfg.OTPStorageBackend {
	case "memory":
		return kvstore.NewMemoryStore()
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		return kvstore.NewRedisStore(client, cfg.RedisKeyPrefix)
	default:
		slog.Error("unknown OTP_STORAGE_BACKEND", "backend", cfg.OTPStorageBackend)
		os.Exit(1)
		return nil
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
