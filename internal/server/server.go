package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/whisper-service/internal/handlers"
	"github.com/codebuildervaibhav/whisper-service/internal/logging"
)

// Options configures the HTTP surface
type Options struct {
	Model         string
	TempDir       string
	MaxFileSizeMB int
	AccessLog     bool
	Logs          *logging.LogBuffer
	Logger        *zap.Logger
}

// New builds the fiber app with all routes registered
func New(svc handlers.Transcriber, opts Options) *fiber.App {
	maxBytes := opts.MaxFileSizeMB * 1024 * 1024

	app := fiber.New(fiber.Config{
		AppName:               "whisper-service",
		BodyLimit:             maxBytes,
		ErrorHandler:          handlers.ErrorHandler,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	if opts.AccessLog {
		app.Use(logger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	health := handlers.NewHealthHandler(opts.Model)
	transcribe := handlers.NewTranscribeHandler(svc, opts.TempDir, opts.Logger)
	stream := handlers.NewStreamHandler(svc, opts.TempDir, maxBytes, opts.Logger)

	// Routes
	app.Get("/health", health.Handle)
	app.Post("/transcribe", transcribe.Handle)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/transcribe", websocket.New(stream.Handle))

	if opts.Logs != nil {
		app.Get("/logs", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{
				"logs": opts.Logs.GetLogs(),
			})
		})
	}

	return app
}
