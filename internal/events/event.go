// Package events publishes a notification for every stored record.
package events

import (
	"fmt"
	"time"

	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// TypeMessageReceived is the type of the event emitted after a record was
// stored.
const TypeMessageReceived = "message-received"

// Event carries the stored row id and every field of the record.
type Event struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	ID          uint64    `json:"id"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
	models.Record
}

// NewMessageReceived builds the event for a record stored under id.
func NewMessageReceived(id uint64, rec *models.Record, fingerprint uint64) Event {
	return Event{
		EventID:     uuid.NewString(),
		Type:        TypeMessageReceived,
		ID:          id,
		Fingerprint: FormatFingerprint(fingerprint),
		ReceivedAt:  time.Now().UTC(),
		Record:      *rec,
	}
}

// FormatFingerprint renders a fingerprint as 16 hex digits. JSON numbers
// cannot carry all 64 bits to every consumer.
func FormatFingerprint(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}

// Marshal encodes the event as JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
