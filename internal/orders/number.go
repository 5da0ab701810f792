package orders

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Sequence hands out increasing numbers per calendar day.
type Sequence interface {
	Next(ctx context.Context, day time.Time) (int64, error)
}

// FormatNumber renders ORD-YYMMDD-NNNNNN.
func FormatNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%s-%06d", day.UTC().Format("060102"), seq)
}

// MemSequence is the in-process Sequence used in memory mode and tests.
type MemSequence struct {
	mu   sync.Mutex
	days map[string]int64
}

func NewMemSequence() *MemSequence {
	return &MemSequence{days: map[string]int64{}}
}

func (s *MemSequence) Next(_ context.Context, day time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := day.UTC().Format("20060102")
	s.days[k]++
	return s.days[k], nil
}
