package api

import (
	"strings"

	"github.com/X-ChenD-Hai/xclogger-server/internal/ingest"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// ServerController starts and stops the transport server.
type ServerController interface {
	StartServer() error
	StopServer()
	SetEndpoint(endpoint string) error
	State() ingest.State
}

// TransportHandler exposes the transport server controls.
type TransportHandler struct {
	ctrl   ServerController
	logger zerolog.Logger
}

type SetEndpointRequest struct {
	Endpoint string `json:"endpoint"`
}

func NewTransportHandler(ctrl ServerController, logger zerolog.Logger) *TransportHandler {
	return &TransportHandler{
		ctrl:   ctrl,
		logger: logger.With().Str("component", "transport-handler").Logger(),
	}
}

func (h *TransportHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/api/v1/server", h.handleState)
	app.Post("/api/v1/server/start", h.handleStart)
	app.Post("/api/v1/server/stop", h.handleStop)
	app.Put("/api/v1/server/endpoint", h.handleSetEndpoint)
}

func (h *TransportHandler) handleState(c *fiber.Ctx) error {
	return respond(c, h.ctrl.State())
}

func (h *TransportHandler) handleStart(c *fiber.Ctx) error {
	if err := h.ctrl.StartServer(); err != nil {
		return respondError(c, err)
	}
	return respond(c, h.ctrl.State())
}

func (h *TransportHandler) handleStop(c *fiber.Ctx) error {
	h.ctrl.StopServer()
	return respond(c, h.ctrl.State())
}

func (h *TransportHandler) handleSetEndpoint(c *fiber.Ctx) error {
	var req SetEndpointRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	endpoint := strings.TrimSpace(req.Endpoint)
	if endpoint == "" {
		return respondError(c, badRequest("endpoint is required"))
	}

	if err := h.ctrl.SetEndpoint(endpoint); err != nil {
		return respondError(c, err)
	}
	return respond(c, h.ctrl.State())
}
