package api

import (
	"bytes"
	"context"
	"io"
	"path"
	"strconv"

	"github.com/X-ChenD-Hai/xclogger-server/internal/export"
	"github.com/X-ChenD-Hai/xclogger-server/internal/storage"
	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Exporter writes filtered records to object storage and manages the
// objects it wrote.
type Exporter interface {
	Export(ctx context.Context, f models.FilterConfig, orderBy models.MessageField, dir models.SortDirection) (*export.Result, error)
	List(ctx context.Context) ([]storage.ObjectInfo, error)
	Download(ctx context.Context, p string, w io.Writer) error
	Delete(ctx context.Context, p string) error
}

type ExportHandler struct {
	exporter Exporter
	logger   zerolog.Logger
}

// ExportRequest selects the records to export. Exports default to
// ascending id order so that the file reads chronologically.
type ExportRequest struct {
	Filter  models.FilterConfig   `json:"filter"`
	OrderBy *models.MessageField  `json:"order_by,omitempty"`
	Order   *models.SortDirection `json:"order,omitempty"`
}

func NewExportHandler(exporter Exporter, logger zerolog.Logger) *ExportHandler {
	return &ExportHandler{
		exporter: exporter,
		logger:   logger.With().Str("component", "export-handler").Logger(),
	}
}

func (h *ExportHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/api/v1/export", h.handleExport)
	app.Get("/api/v1/exports", h.handleList)
	app.Get("/api/v1/exports/*", h.handleDownload)
	app.Delete("/api/v1/exports/*", h.handleDelete)
}

func (h *ExportHandler) handleExport(c *fiber.Ctx) error {
	var req ExportRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	orderBy := models.FieldID
	if req.OrderBy != nil {
		orderBy = *req.OrderBy
	}
	dir := models.Asc
	if req.Order != nil {
		dir = *req.Order
	}

	res, err := h.exporter.Export(c.UserContext(), req.Filter, orderBy, dir)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, res)
}

func (h *ExportHandler) handleList(c *fiber.Ctx) error {
	objs, err := h.exporter.List(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return respondCount(c, objs, len(objs))
}

// handleDownload returns the stored object unchanged, still compressed.
func (h *ExportHandler) handleDownload(c *fiber.Ctx) error {
	p := c.Params("*")
	var buf bytes.Buffer
	if err := h.exporter.Download(c.UserContext(), p, &buf); err != nil {
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/zstd")
	c.Set(fiber.HeaderContentDisposition, "attachment; filename="+strconv.Quote(path.Base(p)))
	return c.Send(buf.Bytes())
}

func (h *ExportHandler) handleDelete(c *fiber.Ctx) error {
	p := c.Params("*")
	if err := h.exporter.Delete(c.UserContext(), p); err != nil {
		return respondError(c, err)
	}
	h.logger.Info().Str("path", p).Str("ip", c.IP()).Msg("Export deleted via API")
	return respond(c, fiber.Map{"path": p})
}
