package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/grocery-fulfillment/internal/events"
)

type fakeWriter struct {
	mu    sync.Mutex
	fail  error
	calls int
	msgs  []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.fail != nil {
		return w.fail
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestEventSinkWritesEnvelope(t *testing.T) {
	w := &fakeWriter{}
	sink := &EventSink{Producer: NewProducerWithWriter(w, DefaultBreaker, nil), Service: "fulfillment-api"}
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	err := sink.Deliver(context.Background(), events.Event{
		ID:          "ev-1",
		OrderID:     "o-1",
		OrderNumber: "ORD-260301-000001",
		Type:        "order.picked",
		Status:      "picked",
		Message:     "Order ORD-260301-000001 is picked",
		Priority:    events.PriorityNormal,
		OccurredAt:  at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	m := w.msgs[0]
	assert.Equal(t, "o-1", string(m.Key))
	assert.Equal(t, "order.picked", header(m, HeaderEventType))
	assert.Equal(t, "1", header(m, HeaderEventVersion))

	env, e, err := DecodeEvent(m)
	require.NoError(t, err)
	assert.Equal(t, "ev-1", env.EventID)
	assert.Equal(t, "fulfillment-api", env.Producer)
	assert.Equal(t, "o-1", env.CorrelationID)
	assert.Equal(t, 1, env.EventVersion)
	assert.True(t, at.Equal(env.OccurredAt))
	assert.Equal(t, "ORD-260301-000001", e.OrderNumber)
	assert.Equal(t, "picked", e.Status)
}

func TestDecodeEventRejectsMismatchedHeader(t *testing.T) {
	w := &fakeWriter{}
	sink := &EventSink{Producer: NewProducerWithWriter(w, DefaultBreaker, nil), Service: "svc"}
	require.NoError(t, sink.Deliver(context.Background(), events.Event{ID: "ev-1", Type: "stock.low", ProductID: "rice"}))

	m := w.msgs[0]
	assert.Equal(t, "rice", string(m.Key))
	m.Headers = []kafka.Header{{Key: HeaderEventType, Value: []byte("order.confirmed")}}
	_, _, err := DecodeEvent(m)
	assert.Error(t, err)

	_, _, err = DecodeEvent(kafka.Message{Value: []byte("{not json")})
	assert.Error(t, err)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	w := &fakeWriter{fail: errors.New("leader not available")}
	p := NewProducerWithWriter(w, BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: time.Minute, HalfOpenRequests: 1}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := p.Publish(ctx, []byte("k"), []byte("v"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())

	err := p.Publish(ctx, []byte("k"), []byte("v"))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, w.calls)
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute, HalfOpenRequests: 1}, nil)
	ctx := context.Background()

	w.fail = errors.New("timeout")
	require.Error(t, p.Publish(ctx, nil, []byte("a")))
	w.fail = nil
	require.NoError(t, p.Publish(ctx, nil, []byte("b")))
	w.fail = errors.New("timeout")
	require.Error(t, p.Publish(ctx, nil, []byte("c")))

	assert.Equal(t, gobreaker.StateClosed, p.State())
}
