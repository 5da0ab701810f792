package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
	"github.com/ariefcatur/grocery-fulfillment/internal/logging"
)

// StockCounter sums physical quantities for a product across all bins.
type StockCounter interface {
	SumProduct(ctx context.Context, productID string) (int, error)
}

// Service is the reservation layer over product counters. Every mutation goes
// through Store.ApplyDelta, which is the single serialization point per product.
type Service struct {
	Store  Store
	Logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{Store: store, Logger: logger}
}

func (s *Service) Get(ctx context.Context, productID string) (*Product, error) {
	return s.Store.Get(ctx, productID)
}

// Reserve moves quantity from available to reserved.
func (s *Service) Reserve(ctx context.Context, productID string, qty int) (Counters, error) {
	return s.apply(ctx, productID, qty, Delta{Available: -qty, Reserved: qty})
}

// Release returns a reservation to available without consuming stock.
func (s *Service) Release(ctx context.Context, productID string, qty int) (Counters, error) {
	return s.apply(ctx, productID, qty, Delta{Available: qty, Reserved: -qty})
}

// ConfirmConsumption removes picked units from the system for good.
func (s *Service) ConfirmConsumption(ctx context.Context, productID string, qty int) (Counters, error) {
	return s.apply(ctx, productID, qty, Delta{Total: -qty, Reserved: -qty})
}

// Receive adds sellable units: admin stock receipts and picked units put back on cancellation.
func (s *Service) Receive(ctx context.Context, productID string, qty int) (Counters, error) {
	return s.apply(ctx, productID, qty, Delta{Total: qty, Available: qty})
}

// WriteOff removes unreserved units (damage, expiry).
func (s *Service) WriteOff(ctx context.Context, productID string, qty int) (Counters, error) {
	return s.apply(ctx, productID, qty, Delta{Total: -qty, Available: -qty})
}

func (s *Service) apply(ctx context.Context, productID string, qty int, d Delta) (Counters, error) {
	if qty <= 0 {
		return Counters{}, apperr.Validation("quantity", "quantity must be positive")
	}
	if !d.valid() {
		return Counters{}, apperr.Internal(errInvalidDelta)
	}
	c, err := s.Store.ApplyDelta(ctx, productID, d)
	if err != nil {
		var ge *GuardError
		if errors.As(err, &ge) {
			available := ge.Current.AvailableStock
			if d.Reserved < 0 {
				// release/consume fail on the reserved side
				available = ge.Current.ReservedStock
			}
			return ge.Current, apperr.InsufficientStock(productID, qty, available)
		}
		return Counters{}, err
	}
	return c, nil
}

// ReserveAll reserves every line or none. When a line fails, the lines already
// reserved are released before the error is returned. On success it returns the
// counters each product was left with.
func (s *Service) ReserveAll(ctx context.Context, lines []Line) (map[string]Counters, error) {
	done := make([]Line, 0, len(lines))
	after := make(map[string]Counters, len(lines))
	for _, l := range lines {
		c, err := s.Reserve(ctx, l.ProductID, l.Quantity)
		if err != nil {
			s.compensate(ctx, done)
			return nil, err
		}
		done = append(done, l)
		after[l.ProductID] = c
	}
	return after, nil
}

// ReleaseAll releases lines one by one and returns the first error after trying all of them.
func (s *Service) ReleaseAll(ctx context.Context, lines []Line) error {
	var first error
	for _, l := range lines {
		if _, err := s.Release(ctx, l.ProductID, l.Quantity); err != nil {
			s.Logger.Error("release failed", "productId", l.ProductID, "qty", l.Quantity, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (s *Service) compensate(ctx context.Context, done []Line) {
	// compensation must not be cut short by the caller's deadline
	cctx := context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		l := done[i]
		if _, err := s.Release(cctx, l.ProductID, l.Quantity); err != nil {
			s.Logger.Error("compensating release failed", "productId", l.ProductID, "qty", l.Quantity, "error", err)
		}
	}
}

// Reconcile compares TotalStock with the bin ledger and, when they differ,
// rewrites total/available keeping the current reservation.
func (s *Service) Reconcile(ctx context.Context, productID string, bins StockCounter, correct bool) (ReconcileReport, error) {
	const attempts = 5
	for i := 0; i < attempts; i++ {
		p, err := s.Store.Get(ctx, productID)
		if err != nil {
			return ReconcileReport{}, err
		}
		binTotal, err := bins.SumProduct(ctx, productID)
		if err != nil {
			return ReconcileReport{}, fmt.Errorf("sum bins: %w", err)
		}
		rep := ReconcileReport{
			ProductID: productID,
			BinTotal:  binTotal,
			Before:    p.Inventory,
			After:     p.Inventory,
			Drift:     binTotal - p.Inventory.TotalStock,
			CheckedAt: time.Now().UTC(),
		}
		if rep.Drift == 0 || !correct {
			return rep, nil
		}
		available := binTotal - p.Inventory.ReservedStock
		if available < 0 {
			available = 0
		}
		total := available + p.Inventory.ReservedStock
		after, err := s.Store.SetStock(ctx, productID, p.Version, total, available)
		if errors.Is(err, apperr.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return ReconcileReport{}, err
		}
		rep.After = after
		rep.Corrected = true
		s.Logger.Warn("inventory drift corrected", "productId", productID,
			"drift", rep.Drift, "binTotal", binTotal, "totalStock", after.TotalStock)
		return rep, nil
	}
	return ReconcileReport{}, apperr.Conflict("reconcile kept losing to concurrent updates")
}
