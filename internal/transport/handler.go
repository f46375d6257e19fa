package transport

import (
	"context"

	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
)

// Handler processes one decoded record. payload holds the exact bytes that
// were received. Errors are logged by the server and do not affect the
// acknowledgment.
type Handler interface {
	HandleRecord(ctx context.Context, rec *models.Record, payload []byte) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, rec *models.Record, payload []byte) error

func (f HandlerFunc) HandleRecord(ctx context.Context, rec *models.Record, payload []byte) error {
	return f(ctx, rec, payload)
}
