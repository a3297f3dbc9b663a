package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/open-teleop/tracklink/pkg/log"
	"github.com/open-teleop/tracklink/services"
)

// ConfigHandler holds dependencies for configuration API endpoints.
type ConfigHandler struct {
	configService services.TrackingConfigService
	logger        customlog.Logger
}

// NewConfigHandler creates a new handler for configuration endpoints.
func NewConfigHandler(configService services.TrackingConfigService, logger customlog.Logger) *ConfigHandler {
	if configService == nil {
		panic("ConfigService cannot be nil in NewConfigHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewConfigHandler")
	}
	return &ConfigHandler{
		configService: configService,
		logger:        logger,
	}
}

// RegisterConfigRoutes registers the configuration API endpoints with the Fiber app.
func RegisterConfigRoutes(app *fiber.App, configService services.TrackingConfigService, logger customlog.Logger) {
	h := NewConfigHandler(configService, logger)

	apiGroup := app.Group("/api/v1/config")
	apiGroup.Get("/tracking", h.handleGetTrackingConfig)
	apiGroup.Put("/tracking", h.handleUpdateTrackingConfig)
	apiGroup.Get("/tracking/pending", h.handleGetPendingTrackingConfig)

	logger.Debugf("Registered tracking configuration API endpoints under /api/v1/config")
}

// handleGetTrackingConfig returns the running tracking profile as YAML.
func (h *ConfigHandler) handleGetTrackingConfig(c *fiber.Ctx) error {
	yamlData, err := h.configService.GetCurrentConfigYAML()
	if err != nil {
		h.logger.Errorf("Failed to get current tracking config YAML: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to retrieve configuration: %v", err),
		})
	}
	if yamlData == nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "Tracking configuration not found or not yet set.",
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleGetPendingTrackingConfig returns the profile persisted by the last
// update, which applies on restart.
func (h *ConfigHandler) handleGetPendingTrackingConfig(c *fiber.Ctx) error {
	yamlData := h.configService.GetPendingConfigYAML()
	if yamlData == nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "No pending tracking configuration.",
		})
	}
	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleUpdateTrackingConfig validates and persists a new tracking profile.
func (h *ConfigHandler) handleUpdateTrackingConfig(c *fiber.Ctx) error {
	switch ct := c.Get(fiber.HeaderContentType); ct {
	case "application/x-yaml", "application/yaml", "text/yaml":
	default:
		h.logger.Warnf("Received PUT request with unexpected Content-Type: %s", ct)
	}

	newConfigYAML := c.Body()
	if len(newConfigYAML) == 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body cannot be empty.",
		})
	}

	err := h.configService.UpdateConfig(newConfigYAML)
	var verr interface{ IsValidationError() bool }
	switch {
	case err == nil:
	case errors.As(err, &verr) && verr.IsValidationError():
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Configuration update failed: %v", err),
		})
	case errors.Is(err, services.ErrNotPersistable):
		return c.Status(http.StatusConflict).JSON(fiber.Map{
			"error": fmt.Sprintf("Configuration update failed: %v", err),
		})
	default:
		h.logger.Errorf("Failed to update tracking configuration: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Internal server error during configuration update: %v", err),
		})
	}

	resp := fiber.Map{
		"message": "Tracking configuration persisted. Restart the device to apply it.",
	}
	if running := h.configService.GetConfig(); running != nil {
		resp["running_config_id"] = running.ConfigID
	}
	if pending := h.configService.GetPendingConfig(); pending != nil {
		resp["pending_config_id"] = pending.ConfigID
	}
	return c.Status(http.StatusOK).JSON(resp)
}
