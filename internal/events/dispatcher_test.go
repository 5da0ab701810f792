package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/grocery-fulfillment/internal/metrics"
)

// blockingSink holds every delivery until release is closed.
type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (s *blockingSink) Deliver(_ context.Context, e Event) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, e)
	return nil
}

type failingSink struct{}

func (failingSink) Deliver(context.Context, Event) error { return errors.New("broker down") }

func TestDispatcherDeliversInOrder(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(rec, 16, nil, nil)
	d.Start(context.Background())

	for _, typ := range []string{"order.confirmed", "order.picking", "order.picked"} {
		d.Publish(Event{OrderID: "o-1", Type: typ})
	}
	d.Close()
	d.WaitClosed()

	got := rec.Events()
	require.Len(t, got, 3)
	assert.Equal(t, "order.picked", got[2].Type)
	for _, e := range got {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.OccurredAt.IsZero())
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	m := metrics.New("test")
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(sink, 2, nil, m)
	d.Start(context.Background())

	// one event may sit in the sink, two in the buffer; the rest are dropped
	for i := 0; i < 10; i++ {
		d.Publish(Event{OrderID: "o-1", Type: "order.confirmed"})
	}
	dropped := testutil.ToFloat64(m.EventsDropped)
	assert.GreaterOrEqual(t, dropped, 7.0)

	close(sink.release)
	d.Close()
	d.WaitClosed()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 10, len(sink.got)+int(dropped))

	d.Publish(Event{Type: "late"})
	assert.Equal(t, dropped+1, testutil.ToFloat64(m.EventsDropped))
}

func TestSinkErrorsAreCounted(t *testing.T) {
	m := metrics.New("test")
	d := NewDispatcher(failingSink{}, 4, nil, m)
	d.Start(context.Background())
	d.Publish(Event{OrderID: "o-1", Type: "order.confirmed"})
	d.Close()
	d.WaitClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDelivered.WithLabelValues("error")))
}

// ctxSink refuses deliveries once its context is done, like a real broker client.
type ctxSink struct{ rec Recorder }

func (s *ctxSink) Deliver(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.rec.Deliver(ctx, e)
}

func TestQueuedEventsSurviveShutdownCancel(t *testing.T) {
	m := metrics.New("test")
	sink := &ctxSink{}
	d := NewDispatcher(sink, 8, nil, m)
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	// shutdown cancels the process context before the queue is flushed
	cancel()
	d.Publish(Event{OrderID: "o-1", Type: "order.confirmed"})
	d.Publish(Event{OrderID: "o-1", Type: "order.cancelled"})
	d.Close()
	d.WaitClosed()

	assert.Len(t, sink.rec.Events(), 2)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EventsDelivered.WithLabelValues("error")))
}

func TestEventKey(t *testing.T) {
	assert.Equal(t, "o-1", Event{OrderID: "o-1", ProductID: "p", Type: "x"}.Key())
	assert.Equal(t, "p", Event{ProductID: "p", Type: "x"}.Key())
	assert.Equal(t, "x", Event{Type: "x"}.Key())
}
