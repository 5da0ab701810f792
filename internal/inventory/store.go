package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
)

// Store persists products. ApplyDelta must be a single conditional update: the
// guard (no counter below zero) is evaluated against the row being written, not
// against an earlier read.
type Store interface {
	Create(ctx context.Context, p *Product) error
	Get(ctx context.Context, id string) (*Product, error)
	GetMany(ctx context.Context, ids []string) (map[string]*Product, error)
	ApplyDelta(ctx context.Context, id string, d Delta) (Counters, error)
	// SetStock rewrites total and available when the stored version still matches.
	SetStock(ctx context.Context, id string, version int64, total, available int) (Counters, error)
}

// MemStore is an in-process Store used in memory mode and in tests.
type MemStore struct {
	mu       sync.Mutex
	products map[string]*Product
	bySKU    map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{products: map[string]*Product{}, bySKU: map[string]string{}}
}

func (s *MemStore) Create(_ context.Context, p *Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return apperr.Conflict("product already exists").WithDetail("id", p.ID)
	}
	if _, ok := s.bySKU[p.SKU]; ok && p.SKU != "" {
		return apperr.Conflict("sku already exists").WithDetail("sku", p.SKU)
	}
	now := time.Now().UTC()
	cp := *p
	cp.Version = 1
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.products[p.ID] = &cp
	if p.SKU != "" {
		s.bySKU[p.SKU] = p.ID
	}
	*p = cp
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, apperr.NotFound("product", id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) GetMany(_ context.Context, ids []string) (map[string]*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *MemStore) ApplyDelta(_ context.Context, id string, d Delta) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return Counters{}, apperr.NotFound("product", id)
	}
	next := p.Inventory.apply(d)
	if next.AvailableStock < 0 || next.ReservedStock < 0 || next.TotalStock < 0 {
		return p.Inventory, &GuardError{ProductID: id, Current: p.Inventory}
	}
	p.Inventory = next
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	return next, nil
}

func (s *MemStore) SetStock(_ context.Context, id string, version int64, total, available int) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return Counters{}, apperr.NotFound("product", id)
	}
	if p.Version != version {
		return p.Inventory, apperr.ErrVersionConflict
	}
	p.Inventory.TotalStock = total
	p.Inventory.AvailableStock = available
	p.Inventory.ReservedStock = total - available
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	return p.Inventory, nil
}
