package api

import (
	"context"
	"strings"

	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// ConfigStore is the key/value table kept next to the records.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
	ListConfigs(ctx context.Context) ([]models.ConfigEntry, error)
}

// SettingsHandler serves the app_config table.
type SettingsHandler struct {
	store  ConfigStore
	logger zerolog.Logger
}

type SetConfigRequest struct {
	Value *string `json:"value"`
}

func NewSettingsHandler(store ConfigStore, logger zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{
		store:  store,
		logger: logger.With().Str("component", "settings-handler").Logger(),
	}
}

func (h *SettingsHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/api/v1/config", h.handleList)
	app.Get("/api/v1/config/:key", h.handleGet)
	app.Put("/api/v1/config/:key", h.handleSet)
}

func (h *SettingsHandler) handleList(c *fiber.Ctx) error {
	entries, err := h.store.ListConfigs(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return respondCount(c, entries, len(entries))
}

func (h *SettingsHandler) handleGet(c *fiber.Ctx) error {
	key := c.Params("key")
	value, ok, err := h.store.GetConfig(c.UserContext(), key)
	if err != nil {
		return respondError(c, err)
	}
	if !ok {
		return respondError(c, fiber.NewError(fiber.StatusNotFound, "config key not found: "+key))
	}
	return respond(c, fiber.Map{"key": key, "value": value})
}

func (h *SettingsHandler) handleSet(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Params("key"))
	if key == "" {
		return respondError(c, badRequest("key is required"))
	}

	var req SetConfigRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	if req.Value == nil {
		return respondError(c, badRequest("value is required"))
	}

	if err := h.store.SetConfig(c.UserContext(), key, *req.Value); err != nil {
		return respondError(c, err)
	}
	h.logger.Info().Str("key", key).Msg("Config updated")
	return respond(c, fiber.Map{"key": key, "value": *req.Value})
}
