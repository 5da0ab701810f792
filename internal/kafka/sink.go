package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/grocery-fulfillment/internal/events"
)

const eventVersion = 1

// TopicOrderEvents is the default topic for order notification events.
const TopicOrderEvents = "grocery.order.events"

// EventSink delivers events to the order events topic wrapped in an Envelope,
// keyed by order so one order's events stay in sequence.
type EventSink struct {
	Producer *Producer
	Service  string
}

func (s *EventSink) Deliver(ctx context.Context, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	env := events.Envelope{
		EventID:       e.ID,
		EventType:     e.Type,
		EventVersion:  eventVersion,
		OccurredAt:    e.OccurredAt,
		Producer:      s.Service,
		CorrelationID: e.OrderID,
		Payload:       payload,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.Producer.Publish(ctx, []byte(e.Key()), value,
		kafka.Header{Key: HeaderEventType, Value: []byte(e.Type)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(eventVersion))},
	)
}
