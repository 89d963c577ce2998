package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one observed saga event, recorded as-is for offline
// inspection. The audit trail never feeds back into saga state.
type AuditEntry struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	OrderID    string          `json:"order_id"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// NewAuditEntry records one event observation
func NewAuditEntry(event *Event, orderID string) *AuditEntry {
	return &AuditEntry{
		ID:         uuid.New().String(),
		EventType:  event.EventType,
		OrderID:    orderID,
		Payload:    event.Data,
		OccurredAt: event.Timestamp,
		RecordedAt: time.Now().UTC(),
	}
}
