package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/grocery-fulfillment/internal/events"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func UnmarshalEnvelope(b []byte) (events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// UnwrapPayload decodes the envelope payload into T.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

// DecodeEvent reads a message written by EventSink.
func DecodeEvent(m kafka.Message) (events.Envelope, events.Event, error) {
	env, err := UnmarshalEnvelope(m.Value)
	if err != nil {
		return env, events.Event{}, err
	}
	if t := header(m, HeaderEventType); t != "" && t != env.EventType {
		return env, events.Event{}, fmt.Errorf("event type header %q does not match envelope %q", t, env.EventType)
	}
	e, err := UnwrapPayload[events.Event](env.Payload)
	return env, e, err
}
