package api

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/tracklink/domain/diagnostic"
	customlog "github.com/open-teleop/tracklink/pkg/log"
	"github.com/open-teleop/tracklink/services"
)

// DefaultStreamInterval is the /ws/state polling period.
const DefaultStreamInterval = 50 * time.Millisecond

// Routes holds the dependencies of the HTTP surface.
type Routes struct {
	Diagnostics    *diagnostic.DiagnosticService
	Configs        services.TrackingConfigService
	Sentinel       int32
	StreamInterval time.Duration
	Logger         customlog.Logger
}

// Register mounts every endpoint on app.
func (r Routes) Register(app *fiber.App) {
	interval := r.StreamInterval
	if interval <= 0 {
		interval = DefaultStreamInterval
	}

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "online",
			"service":     "tracklink",
			"instance_id": r.Diagnostics.InstanceID(),
		})
	})
	app.Get("/health", r.Diagnostics.HealthHandler)

	apiGroup := app.Group("/api")
	apiGroup.Get("/diagnostics", r.Diagnostics.GetMetricsHandler)

	if r.Configs != nil {
		RegisterConfigRoutes(app, r.Configs, r.Logger)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(func(conn *websocket.Conn) {
		StateWebSocketHandler(conn, r.Logger, r.Diagnostics, r.Sentinel, interval)
	}))
}

// ErrorHandler renders errors as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
