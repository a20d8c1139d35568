package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/talkline-io/talkline-api/internal/config"
	"github.com/talkline-io/talkline-api/internal/handler"
	"github.com/talkline-io/talkline-api/internal/middleware"
	"github.com/talkline-io/talkline-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler   *handler.ChatHandler
	RoomHandler   *handler.RoomHandler
	JWTMiddleware fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Widget-facing surface: the websocket upgrade and the unauthenticated
	// page-unload beacon.
	if deps.ChatHandler != nil {
		chat := api.Group("/chat")
		chat.Use("/leave-signal", middleware.RateLimit("leave_signal", 30, time.Minute))
		deps.ChatHandler.Register(chat)
	}

	// Dashboard surface.
	if deps.RoomHandler != nil {
		admin := api.Group("/admin", jwtMiddleware)
		deps.RoomHandler.Register(admin)
	}
}
