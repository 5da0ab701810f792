package orders

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
)

var ErrDuplicateNumber = errors.New("order number already taken")

// Store persists orders. Update is conditional on Order.Version and bumps it on
// success; a stale version yields apperr.ErrVersionConflict.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	ListPickerPool(ctx context.Context, limit int) ([]*Order, error)
	ListRiderPool(ctx context.Context, limit int) ([]*Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]*Order, error)
}

type MemStore struct {
	mu       sync.Mutex
	orders   map[string]*Order
	byNumber map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{orders: map[string]*Order{}, byNumber: map[string]string{}}
}

func (s *MemStore) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byNumber[o.OrderNumber]; ok {
		return ErrDuplicateNumber
	}
	if _, ok := s.orders[o.ID]; ok {
		return apperr.Conflict("order already exists").WithDetail("id", o.ID)
	}
	o.Version = 1
	s.orders[o.ID] = o.Clone()
	s.byNumber[o.OrderNumber] = o.ID
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	return o.Clone(), nil
}

func (s *MemStore) GetByNumber(ctx context.Context, number string) (*Order, error) {
	s.mu.Lock()
	id, ok := s.byNumber[number]
	s.mu.Unlock()
	if !ok {
		return nil, apperr.NotFound("order", number)
	}
	return s.Get(ctx, id)
}

func (s *MemStore) Update(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return apperr.NotFound("order", o.ID)
	}
	if cur.Version != o.Version {
		return apperr.ErrVersionConflict
	}
	o.Version++
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *MemStore) ListPickerPool(_ context.Context, limit int) ([]*Order, error) {
	return s.list(limit, func(o *Order) bool { return o.Status == StatusConfirmed && o.Picker == "" }), nil
}

func (s *MemStore) ListRiderPool(_ context.Context, limit int) ([]*Order, error) {
	return s.list(limit, func(o *Order) bool { return o.Status == StatusPicked && o.Rider == "" }), nil
}

func (s *MemStore) ListByCustomer(_ context.Context, customerID string, limit int) ([]*Order, error) {
	return s.list(limit, func(o *Order) bool { return o.CustomerID == customerID }), nil
}

// list returns matches oldest first, like the pools in the SQL store.
func (s *MemStore) list(limit int, match func(*Order) bool) []*Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if match(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
