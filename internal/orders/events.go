package orders

import (
	"github.com/ariefcatur/grocery-fulfillment/internal/events"
)

const (
	EventLowStock     = "inventory.low_stock"
	EventReturnFailed = "inventory.return_failed"
)

const (
	RecipientCustomer = "customer"
	RecipientPickers  = "pickers"
	RecipientPicker   = "picker"
	RecipientRiders   = "riders"
	RecipientRider    = "rider"
	RecipientAdmin    = "admin"
)

var recipients = map[Status][]string{
	StatusConfirmed:        {RecipientCustomer, RecipientPickers},
	StatusPicking:          {RecipientCustomer},
	StatusPicked:           {RecipientCustomer, RecipientRiders},
	StatusReadyForDelivery: {RecipientCustomer},
	StatusOutForDelivery:   {RecipientCustomer},
	StatusDelivered:        {RecipientCustomer},
	StatusCancelled:        {RecipientCustomer, RecipientPicker, RecipientRider},
	StatusRefunded:         {RecipientCustomer},
}

func priorityFor(s Status) events.Priority {
	switch s {
	case StatusCancelled, StatusDelivered, StatusOutForDelivery:
		return events.PriorityHigh
	}
	return events.PriorityNormal
}

// TimelineEvent builds the notification for one timeline entry.
func TimelineEvent(o *Order, entry TimelineEntry) events.Event {
	hint := recipients[entry.Status]
	if hint == nil {
		hint = []string{RecipientCustomer}
	}
	return events.Event{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Type:          "order." + string(entry.Status),
		Status:        string(entry.Status),
		Message:       entry.Notes,
		RecipientHint: hint,
		Priority:      priorityFor(entry.Status),
		OccurredAt:    entry.Timestamp,
	}
}

// NewTimelineEvents returns one event per entry appended after the first `before` entries.
func NewTimelineEvents(o *Order, before int) []events.Event {
	if before >= len(o.Timeline) {
		return nil
	}
	out := make([]events.Event, 0, len(o.Timeline)-before)
	for _, entry := range o.Timeline[before:] {
		out = append(out, TimelineEvent(o, entry))
	}
	return out
}
