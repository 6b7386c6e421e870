// Package server assembles the development generation server: the REST
// endpoints and the presentation stream the session client consumes.
package server

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/makeasinger/deckflow/internal/handler"
	"github.com/makeasinger/deckflow/internal/middleware"
	ws "github.com/makeasinger/deckflow/internal/websocket"
	"github.com/makeasinger/deckflow/pkg/response"
)

type Options struct {
	Presentations handler.PresentationService
	Hub           *ws.Hub
	JWTSecret     string
	Validate      *validator.Validate
	// AccessLog enables the fiber request logger.
	AccessLog bool
}

// New builds the fiber app with every route registered.
func New(opts Options) *fiber.App {
	validate := opts.Validate
	if validate == nil {
		validate = validator.New()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: response.Handler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} client=${locals:clientId}\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authn := middleware.NewAuthMiddleware(opts.JWTSecret).Authenticate()
	presentations := handler.NewPresentationHandler(opts.Presentations, validate)

	app.Post("/presentations", authn, presentations.Create)
	app.Get("/presentation-status/:jobId", authn, presentations.Status)
	app.Post("/start-presentation/:jobId", authn, presentations.Start)
	app.Get("/logs", authn, presentations.Logs)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return response.UpgradeRequired(c)
	})

	app.Get("/ws/presentations/:jobId", authn, websocket.New(func(c *websocket.Conn) {
		opts.Hub.HandleConnection(c, c.Params("jobId"))
	}))

	return app
}
