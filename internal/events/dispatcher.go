package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/grocery-fulfillment/internal/logging"
	"github.com/ariefcatur/grocery-fulfillment/internal/metrics"
)

// Sink delivers one event to the outside world.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// Publisher is what the core depends on: enqueue and move on.
type Publisher interface {
	Publish(e Event)
}

// Dispatcher decouples transitions from delivery: Publish only enqueues, and a
// single goroutine drains the queue into the Sink. A full queue drops the event.
type Dispatcher struct {
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

func NewDispatcher(sink Sink, buffer int, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		sink:    sink,
		logger:  logger,
		metrics: m,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
	}
}

func (d *Dispatcher) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(e, "dispatcher closed")
		return
	}
	select {
	case d.queue <- e:
	default:
		d.drop(e, "queue full")
	}
}

func (d *Dispatcher) drop(e Event, why string) {
	d.metrics.Dropped()
	d.logger.Warn("event dropped", "reason", why, "type", e.Type, "orderId", e.OrderID)
}

// Run drains the queue until Close is called and the queue is empty.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for e := range d.queue {
		if err := d.sink.Deliver(ctx, e); err != nil {
			d.metrics.Delivered("error")
			d.logger.Error("event delivery failed", "type", e.Type, "orderId", e.OrderID, "error", err)
			continue
		}
		d.metrics.Delivered("ok")
	}
}

// Start runs the drain loop in the background. The loop keeps ctx's values but not
// its cancellation, so events queued before Close still reach the sink after the
// process context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.Run(context.WithoutCancel(ctx))
}

// Close stops accepting events; the drain loop flushes what is queued and exits.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
}

func (d *Dispatcher) WaitClosed() { <-d.done }

// LogSink writes events to the log; used when no broker is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Deliver(_ context.Context, e Event) error {
	s.Logger.Info("notification", "type", e.Type, "orderNumber", e.OrderNumber,
		"status", e.Status, "recipients", e.RecipientHint, "priority", e.Priority, "message", e.Message)
	return nil
}

// Recorder keeps events in memory; tests use it as a synchronous Publisher.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Deliver(_ context.Context, e Event) error {
	r.Publish(e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
