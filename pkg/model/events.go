package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical event wrapper published to the bus.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	AccountEmail  string          `json:"account_email"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ScanCompleted is the payload of evt.mailsweep.scan.completed.v1.
type ScanCompleted struct {
	ScanID       uuid.UUID `json:"scan_id"`
	AccountEmail string    `json:"account_email"`
	Scanned      int       `json:"scanned"`
	Senders      int       `json:"senders"`
	Elapsed      float64   `json:"elapsed_seconds"`
}
