package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/ariefcatur/grocery-fulfillment/internal/logging"
)

// ErrUnavailable is returned while the breaker is open and writes are short-circuited.
var ErrUnavailable = errors.New("kafka unavailable")

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

var DefaultBreaker = BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second, HalfOpenRequests: 1}

// Producer writes synchronously through a circuit breaker. Buffering happens in
// front of it (events.Dispatcher), so a slow broker never reaches request handlers.
type Producer struct {
	w       MessageWriter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewProducer(brokers []string, topic string, logger *slog.Logger) *Producer {
	if topic == "" {
		topic = TopicOrderEvents
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return NewProducerWithWriter(w, DefaultBreaker, logger)
}

func NewProducerWithWriter(w MessageWriter, cfg BreakerConfig, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = logging.Discard()
	}
	settings := gobreaker.Settings{
		Name:        "kafka-producer",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Producer{w: w, breaker: gobreaker.NewCircuitBreaker(settings), logger: logger}
}

func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.w.WriteMessages(ctx, kafka.Message{
			Key:     key,
			Value:   value,
			Time:    time.Now(),
			Headers: headers,
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (p *Producer) State() gobreaker.State { return p.breaker.State() }

func (p *Producer) Close() error { return p.w.Close() }
