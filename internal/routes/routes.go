package routes

import (
	"time"

	"github.com/duetapp/duet-backend/internal/config"
	"github.com/duetapp/duet-backend/internal/handlers"
	"github.com/duetapp/duet-backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	healthHandler *handlers.HealthHandler,
	moderationHandler *handlers.ModerationHandler,
) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", healthHandler.Check)

	// Auth — public, with a stricter bucket so OTP codes cannot be brute
	// forced within their TTL: 10 req/min per IP
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	auth.Post("/otp/send", authHandler.SendOTP)
	auth.Post("/otp/verify", authHandler.VerifyOTP)
	auth.Post("/login", authHandler.Login)
	auth.Post("/refresh", authHandler.Refresh)

	// Protected routes (JWT required) - apply middleware per route so the
	// public auth routes above stay public
	api.Post("/auth/logout", middleware.JWTProtected(cfg), authHandler.Logout)
	api.Get("/auth/session", middleware.JWTProtected(cfg), authHandler.GetSession)
	api.Patch("/auth/profile", middleware.JWTProtected(cfg), authHandler.UpdateProfile)
	api.Post("/auth/profile/complete", middleware.JWTProtected(cfg), authHandler.CompleteProfile)
	api.Put("/auth/onboarding/step", middleware.JWTProtected(cfg), authHandler.SetOnboardingStep)

	// Moderation (protected)
	if moderationHandler != nil {
		api.Post("/reports", middleware.JWTProtected(cfg), moderationHandler.CreateReport)
		api.Post("/blocks", middleware.JWTProtected(cfg), moderationHandler.BlockUser)
		api.Delete("/blocks/:id", middleware.JWTProtected(cfg), moderationHandler.UnblockUser)
	}
}
