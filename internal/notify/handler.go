// Package notify consumes order events and fans them out to recipients.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/grocery-fulfillment/internal/events"
	kafkax "github.com/ariefcatur/grocery-fulfillment/internal/kafka"
	"github.com/ariefcatur/grocery-fulfillment/internal/logging"
)

type Deduper interface {
	First(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type StatusWriter interface {
	Put(ctx context.Context, orderID, status string, at time.Time) error
}

// Handler delivers each event once per event id. Delivery is the Sink; the
// optional status cache is refreshed from order events.
type Handler struct {
	Dedup  Deduper
	Status StatusWriter
	Sink   events.Sink
	Logger *slog.Logger
}

func NewHandler(d Deduper, status StatusWriter, sink events.Sink, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{Dedup: d, Status: status, Sink: sink, Logger: logger}
}

func (h *Handler) Handle(ctx context.Context, m kafka.Message) error {
	env, e, err := kafkax.DecodeEvent(m)
	if err != nil {
		// poison message: log and commit past it
		h.Logger.Error("undecodable event", "partition", m.Partition, "offset", m.Offset, "error", err)
		return nil
	}
	first, err := h.Dedup.First(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		h.Logger.Debug("duplicate event skipped", "eventId", env.EventID, "type", env.EventType)
		return nil
	}
	if err := h.Sink.Deliver(ctx, e); err != nil {
		if ferr := h.Dedup.Forget(ctx, env.EventID); ferr != nil {
			h.Logger.Warn("dedup key not cleared", "eventId", env.EventID, "error", ferr)
		}
		return err
	}
	if h.Status != nil && e.OrderID != "" && e.Status != "" {
		if err := h.Status.Put(ctx, e.OrderID, e.Status, e.OccurredAt); err != nil {
			h.Logger.Warn("status cache not updated", "orderId", e.OrderID, "error", err)
		}
	}
	return nil
}
