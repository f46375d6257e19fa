package api

import (
	"context"

	"github.com/X-ChenD-Hai/xclogger-server/internal/metrics"
	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// MessageStore is the read and delete surface of the record store.
type MessageStore interface {
	Count(ctx context.Context) (int64, error)
	Fetch(ctx context.Context, limit, offset int64, dir models.SortDirection) ([]models.StoredRecord, error)
	FilteredFetch(ctx context.Context, f models.FilterConfig, orderBy models.MessageField, limit, offset int64, dir models.SortDirection) ([]models.StoredRecord, error)
	FilteredCount(ctx context.Context, f models.FilterConfig) (int64, error)
	Distinct(ctx context.Context, field models.MessageField) ([]any, error)
	Delete(ctx context.Context, f models.FilterConfig) (int64, error)
}

// MessagesHandler serves stored records.
type MessagesHandler struct {
	store   MessageStore
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// QueryRequest is the body of POST /api/v1/messages/query. Absent fields
// take the defaults: order_by id, order desc, limit 100, offset 0.
type QueryRequest struct {
	Filter  models.FilterConfig   `json:"filter"`
	OrderBy *models.MessageField  `json:"order_by,omitempty"`
	Order   *models.SortDirection `json:"order,omitempty"`
	Limit   *int64                `json:"limit,omitempty"`
	Offset  int64                 `json:"offset,omitempty"`
}

// QueryResponse carries one page and the number of matching records.
type QueryResponse struct {
	Success bool                  `json:"success"`
	Data    []models.StoredRecord `json:"data"`
	Count   int                   `json:"count"`
	Total   int64                 `json:"total"`
	Limit   int64                 `json:"limit"`
	Offset  int64                 `json:"offset"`
}

type CountRequest struct {
	Filter models.FilterConfig `json:"filter"`
}

// DeleteRequest is the body of POST /api/v1/messages/delete. An empty
// filter deletes every record and therefore requires Confirm.
type DeleteRequest struct {
	Filter  models.FilterConfig `json:"filter"`
	Confirm bool                `json:"confirm"`
	DryRun  bool                `json:"dry_run"`
}

type DeleteResponse struct {
	Success bool  `json:"success"`
	Matched int64 `json:"matched"`
	Deleted int64 `json:"deleted"`
	DryRun  bool  `json:"dry_run"`
}

func NewMessagesHandler(store MessageStore, logger zerolog.Logger) *MessagesHandler {
	return &MessagesHandler{
		store:   store,
		metrics: metrics.Get(),
		logger:  logger.With().Str("component", "messages-handler").Logger(),
	}
}

// RegisterRoutes registers message endpoints
func (h *MessagesHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/api/v1/messages", h.handleList)
	app.Get("/api/v1/messages/count", h.handleCount)
	app.Post("/api/v1/messages/query", h.handleQuery)
	app.Post("/api/v1/messages/count", h.handleFilteredCount)
	app.Get("/api/v1/messages/distinct/:field", h.handleDistinct)
	app.Post("/api/v1/messages/delete", h.handleDelete)
}

func (h *MessagesHandler) fail(c *fiber.Ctx, err error) error {
	h.metrics.IncQueryErrors()
	return respondError(c, err)
}

func (h *MessagesHandler) handleList(c *fiber.Ctx) error {
	h.metrics.IncQueryRequests()

	limit, offset, err := parsePage(c)
	if err != nil {
		return h.fail(c, err)
	}
	dir := models.Desc
	if o := c.Query("order"); o != "" {
		if dir, err = models.ParseSortDirection(o); err != nil {
			return h.fail(c, badRequest(err.Error()))
		}
	}

	records, err := h.store.Fetch(c.UserContext(), limit, offset, dir)
	if err != nil {
		return h.fail(c, err)
	}
	h.metrics.IncQueryRows(int64(len(records)))
	return respondCount(c, records, len(records))
}

func (h *MessagesHandler) handleCount(c *fiber.Ctx) error {
	h.metrics.IncQueryRequests()

	n, err := h.store.Count(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, n)
}

func (h *MessagesHandler) handleQuery(c *fiber.Ctx) error {
	h.metrics.IncQueryRequests()

	var req QueryRequest
	if err := parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	if req.Offset < 0 {
		return h.fail(c, badRequest("offset must be non-negative"))
	}

	orderBy := models.FieldID
	if req.OrderBy != nil {
		orderBy = *req.OrderBy
	}
	dir := models.Desc
	if req.Order != nil {
		dir = *req.Order
	}
	limit := int64(DefaultLimit)
	if req.Limit != nil {
		if *req.Limit < 0 {
			return h.fail(c, badRequest("limit must be non-negative"))
		}
		limit = clampLimit(*req.Limit)
	}

	ctx := c.UserContext()
	records, err := h.store.FilteredFetch(ctx, req.Filter, orderBy, limit, req.Offset, dir)
	if err != nil {
		return h.fail(c, err)
	}
	total, err := h.store.FilteredCount(ctx, req.Filter)
	if err != nil {
		return h.fail(c, err)
	}

	h.metrics.IncQueryRows(int64(len(records)))
	return c.JSON(QueryResponse{
		Success: true,
		Data:    records,
		Count:   len(records),
		Total:   total,
		Limit:   limit,
		Offset:  req.Offset,
	})
}

func (h *MessagesHandler) handleFilteredCount(c *fiber.Ctx) error {
	h.metrics.IncQueryRequests()

	var req CountRequest
	if err := parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}

	n, err := h.store.FilteredCount(c.UserContext(), req.Filter)
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, n)
}

func (h *MessagesHandler) handleDistinct(c *fiber.Ctx) error {
	h.metrics.IncQueryRequests()

	field, err := models.ParseMessageField(c.Params("field"))
	if err != nil {
		return h.fail(c, badRequest(err.Error()))
	}

	values, err := h.store.Distinct(c.UserContext(), field)
	if err != nil {
		return h.fail(c, err)
	}
	return respondCount(c, values, len(values))
}

func (h *MessagesHandler) handleDelete(c *fiber.Ctx) error {
	var req DeleteRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	if req.Filter.IsEmpty() && !req.Confirm && !req.DryRun {
		return respondError(c, badRequest("empty filter deletes every record; set confirm to true"))
	}

	ctx := c.UserContext()
	if req.DryRun {
		n, err := h.store.FilteredCount(ctx, req.Filter)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(DeleteResponse{Success: true, Matched: n, DryRun: true})
	}

	n, err := h.store.Delete(ctx, req.Filter)
	if err != nil {
		return respondError(c, err)
	}
	h.metrics.IncRecordsDeleted(n)
	h.logger.Info().
		Int64("deleted", n).
		Bool("all", req.Filter.IsEmpty()).
		Msg("Records deleted")

	return c.JSON(DeleteResponse{Success: true, Matched: n, Deleted: n})
}
