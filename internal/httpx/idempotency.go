package httpx

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/grocery-fulfillment/internal/redisx"
)

// StatusCache holds the latest known status per order.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, bool, error)
	Put(ctx context.Context, orderID, status string, at time.Time) error
}

// IdempotencyStore binds a client Idempotency-Key to the order it created.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (orderID string, ok bool, err error)
	// Remember binds key to orderID unless it is already bound and returns the
	// order id the key points at afterwards.
	Remember(ctx context.Context, key, orderID string) (string, error)
}

type MemIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewMemIdempotency() *MemIdempotency {
	return &MemIdempotency{keys: map[string]string{}}
}

func (m *MemIdempotency) Lookup(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[key]
	return id, ok, nil
}

func (m *MemIdempotency) Remember(_ context.Context, key, orderID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.keys[key]; ok {
		return id, nil
	}
	m.keys[key] = orderID
	return orderID, nil
}
