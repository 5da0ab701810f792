package events

import (
	"encoding/json"
	"time"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Event is the notification handed to the external publisher. One is produced
// for every order timeline entry, plus a few admin alerts.
type Event struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"orderId,omitempty"`
	OrderNumber   string    `json:"orderNumber,omitempty"`
	ProductID     string    `json:"productId,omitempty"`
	Type          string    `json:"type"`
	Status        string    `json:"status,omitempty"`
	Message       string    `json:"message"`
	RecipientHint []string  `json:"recipientHint"`
	Priority      Priority  `json:"priority"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Key groups events of the same order (or product) on the same partition.
func (e Event) Key() string {
	switch {
	case e.OrderID != "":
		return e.OrderID
	case e.ProductID != "":
		return e.ProductID
	}
	return e.Type
}

// Envelope is the versioned wire format written to the broker.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}
