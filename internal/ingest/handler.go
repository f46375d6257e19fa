// Package ingest stores the records received by the transport server and
// announces each one to the configured event publishers.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/X-ChenD-Hai/xclogger-server/internal/codec"
	"github.com/X-ChenD-Hai/xclogger-server/internal/events"
	"github.com/X-ChenD-Hai/xclogger-server/internal/metrics"
	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/rs/zerolog"
)

// DefaultPublishTimeout bounds a single event publish.
const DefaultPublishTimeout = 5 * time.Second

// RecordStore is the part of the store the handler writes to.
type RecordStore interface {
	IsConnected() bool
	Connect(path string) error
	Insert(ctx context.Context, rec *models.Record) (uint64, error)
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// DatabasePath is opened on the first record if the store is not
	// connected yet.
	DatabasePath   string
	PublishTimeout time.Duration
}

// Handler implements transport.Handler.
type Handler struct {
	store          RecordStore
	dbPath         string
	publisher      events.Publisher
	publishTimeout time.Duration

	connectMu sync.Mutex
	inflight  sync.WaitGroup

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewHandler creates a handler. A nil publisher disables events.
func NewHandler(store RecordStore, publisher events.Publisher, cfg HandlerConfig, logger zerolog.Logger) *Handler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &Handler{
		store:          store,
		dbPath:         cfg.DatabasePath,
		publisher:      publisher,
		publishTimeout: timeout,
		metrics:        metrics.Get(),
		logger:         logger.With().Str("component", "ingest").Logger(),
	}
}

// EnsureConnected opens the store at the configured path unless it is
// already connected.
func (h *Handler) EnsureConnected() error {
	if h.store.IsConnected() {
		return nil
	}

	h.connectMu.Lock()
	defer h.connectMu.Unlock()
	if h.store.IsConnected() {
		return nil
	}
	if h.dbPath == "" {
		return fmt.Errorf("connect store: no database path configured")
	}
	if err := h.store.Connect(h.dbPath); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	h.logger.Info().Str("path", h.dbPath).Msg("Store connected on first record")
	return nil
}

// HandleRecord persists rec and publishes a message-received event for it.
// Publishing happens in the background; its failures are logged and
// counted but never reported to the caller.
func (h *Handler) HandleRecord(ctx context.Context, rec *models.Record, payload []byte) error {
	if err := h.EnsureConnected(); err != nil {
		h.metrics.IncStoreErrors()
		return err
	}

	id, err := h.store.Insert(ctx, rec)
	if err != nil {
		h.metrics.IncStoreErrors()
		return fmt.Errorf("insert record: %w", err)
	}
	h.metrics.IncRecordsStored()

	fp := codec.Fingerprint(payload)
	h.logger.Debug().
		Uint64("id", id).
		Str("role", rec.Role).
		Int32("level", rec.Level).
		Str("fingerprint", events.FormatFingerprint(fp)).
		Msg("Record stored")

	ev := events.NewMessageReceived(id, rec, fp)
	h.inflight.Add(1)
	go h.publish(ev)
	return nil
}

func (h *Handler) publish(ev events.Event) {
	defer h.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), h.publishTimeout)
	defer cancel()

	if err := h.publisher.Publish(ctx, ev); err != nil {
		h.metrics.IncEventErrors()
		h.logger.Warn().Err(err).Uint64("id", ev.ID).Msg("Failed to publish message-received event")
		return
	}
	h.metrics.IncEventsPublished()
}

// Wait blocks until every background publish has finished or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
