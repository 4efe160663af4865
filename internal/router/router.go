package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assess-api/internal/config"
	"github.com/noah-isme/gema-assess-api/internal/handler"
	"github.com/noah-isme/gema-assess-api/internal/middleware"
	"github.com/noah-isme/gema-assess-api/internal/observability"
)

const (
	sessionRateLimit  = 120
	generateRateLimit = 10
	rateLimitWindow   = time.Minute
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SessionHandler    *handler.SessionHandler
	AdminHandler      *handler.AdminHandler
	JobHandler        *handler.JobHandler
	HealthProbes      map[string]handler.HealthProbe
	JWTMiddleware     fiber.Handler
	MetricsRefreshers []observability.Refresher
	Logger            *zerolog.Logger
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	app.Get("/metrics", observability.MetricsHandler(logger, deps.MetricsRefreshers...))

	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	// Without a JWT middleware the identity comes from the request body or query.
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	staffOnly := func(c *fiber.Ctx) error { return c.Next() }
	if deps.JWTMiddleware != nil {
		staffOnly = middleware.RequireRole("admin", "teacher")
	}

	if deps.SessionHandler != nil {
		sessions := api.Group("/sessions", jwtMiddleware, middleware.RateLimit("sessions", sessionRateLimit, rateLimitWindow))
		deps.SessionHandler.Register(sessions)
	}

	if deps.JobHandler != nil {
		jobs := api.Group("/jobs", jwtMiddleware)
		deps.JobHandler.Register(jobs)
	}

	if deps.AdminHandler != nil {
		syllabus := api.Group("/admin/syllabus", jwtMiddleware, staffOnly)
		deps.AdminHandler.RegisterSyllabus(syllabus)

		assessments := api.Group("/assessments", jwtMiddleware, staffOnly, middleware.RateLimit("generate", generateRateLimit, rateLimitWindow))
		deps.AdminHandler.RegisterGeneration(assessments)
	}
}
