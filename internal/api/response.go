package api

import (
	"errors"
	"strconv"

	"github.com/X-ChenD-Hai/xclogger-server/internal/export"
	"github.com/X-ChenD-Hai/xclogger-server/internal/storage"
	"github.com/X-ChenD-Hai/xclogger-server/internal/store"
	"github.com/X-ChenD-Hai/xclogger-server/internal/transport"
	"github.com/gofiber/fiber/v2"
)

const (
	DefaultLimit = 100
	MaxLimit     = 10000
)

func respond(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func respondCount(c *fiber.Ctx, data interface{}, count int) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
		"count":   count,
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, store.ErrNotConnected):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, transport.ErrInvalidState):
		return fiber.StatusConflict
	case errors.Is(err, transport.ErrBind):
		return fiber.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, storage.ErrInvalidKey), errors.Is(err, export.ErrNotExport):
		return fiber.StatusBadRequest
	case errors.Is(err, export.ErrObjectExists):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}

// parsePage reads limit and offset query parameters. Limits above MaxLimit
// are clamped.
func parsePage(c *fiber.Ctx) (int64, int64, error) {
	limit := int64(DefaultLimit)
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.ParseInt(l, 10, 64)
		if err != nil || parsed < 0 {
			return 0, 0, badRequest("limit must be a non-negative integer")
		}
		limit = parsed
	}
	offset := int64(0)
	if o := c.Query("offset"); o != "" {
		parsed, err := strconv.ParseInt(o, 10, 64)
		if err != nil || parsed < 0 {
			return 0, 0, badRequest("offset must be a non-negative integer")
		}
		offset = parsed
	}
	return clampLimit(limit), offset, nil
}

func clampLimit(limit int64) int64 {
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// parseBody decodes a JSON body into v. An empty body leaves v untouched.
func parseBody(c *fiber.Ctx, v interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}
