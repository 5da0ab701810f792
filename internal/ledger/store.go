package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
)

// Store persists bins as whole documents guarded by Version.
// Update and UpdatePair fail with apperr.ErrVersionConflict when the stored
// version moved since the bin was read; UpdatePair commits both bins or neither.
type Store interface {
	Create(ctx context.Context, b *Bin) error
	Get(ctx context.Context, code string) (*Bin, error)
	Update(ctx context.Context, b *Bin) error
	UpdatePair(ctx context.Context, a, b *Bin) error
	ListByProduct(ctx context.Context, productID string) ([]*Bin, error)
	SumProduct(ctx context.Context, productID string) (int, error)
}

type MemStore struct {
	mu   sync.Mutex
	bins map[string]*Bin
}

func NewMemStore() *MemStore {
	return &MemStore{bins: map[string]*Bin{}}
}

func (s *MemStore) Create(_ context.Context, b *Bin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bins[b.BinCode]; ok {
		return apperr.Conflict("bin code already exists").WithDetail("binCode", b.BinCode)
	}
	now := time.Now().UTC()
	b.Version = 1
	b.CreatedAt, b.UpdatedAt = now, now
	s.bins[b.BinCode] = b.Clone()
	return nil
}

func (s *MemStore) Get(_ context.Context, code string) (*Bin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bins[code]
	if !ok {
		return nil, apperr.NotFound("bin", code)
	}
	return b.Clone(), nil
}

func (s *MemStore) Update(_ context.Context, b *Bin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(b); err != nil {
		return err
	}
	s.commit(b)
	return nil
}

func (s *MemStore) UpdatePair(_ context.Context, a, b *Bin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(a); err != nil {
		return err
	}
	if err := s.check(b); err != nil {
		return err
	}
	s.commit(a)
	s.commit(b)
	return nil
}

func (s *MemStore) check(b *Bin) error {
	cur, ok := s.bins[b.BinCode]
	if !ok {
		return apperr.NotFound("bin", b.BinCode)
	}
	if cur.Version != b.Version {
		return apperr.ErrVersionConflict
	}
	return nil
}

func (s *MemStore) commit(b *Bin) {
	b.Version++
	s.bins[b.BinCode] = b.Clone()
}

func (s *MemStore) ListByProduct(_ context.Context, productID string) ([]*Bin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Bin
	for _, b := range s.bins {
		if b.ProductQuantity(productID) > 0 {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BinCode < out[j].BinCode })
	return out, nil
}

func (s *MemStore) SumProduct(_ context.Context, productID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.bins {
		n += b.ProductQuantity(productID)
	}
	return n, nil
}
