package inventory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
)

func seed(t *testing.T, store *MemStore, id string, available int) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &Product{
		ID:    id,
		SKU:   "SKU-" + id,
		Name:  "Product " + id,
		Price: Price{SellingCents: 1000},
		Inventory: Counters{
			TotalStock:     available,
			AvailableStock: available,
			MinStockLevel:  1,
		},
	}))
}

func TestReserve(t *testing.T) {
	tests := []struct {
		name          string
		available     int
		qty           int
		wantKind      apperr.Kind
		wantAvailable int
		wantReserved  int
	}{
		{name: "reserves within available", available: 5, qty: 3, wantAvailable: 2, wantReserved: 3},
		{name: "reserves everything", available: 5, qty: 5, wantAvailable: 0, wantReserved: 5},
		{name: "rejects shortfall", available: 5, qty: 10, wantKind: apperr.KindInsufficientStock, wantAvailable: 5},
		{name: "rejects zero", available: 5, qty: 0, wantKind: apperr.KindValidation, wantAvailable: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemStore()
			seed(t, store, "p1", tt.available)
			svc := NewService(store, nil)

			_, err := svc.Reserve(context.Background(), "p1", tt.qty)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))

			p, err := store.Get(context.Background(), "p1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantAvailable, p.Inventory.AvailableStock)
			assert.Equal(t, tt.wantReserved, p.Inventory.ReservedStock)
			assert.True(t, p.Inventory.Consistent())
		})
	}
}

func TestInsufficientStockCarriesAvailable(t *testing.T) {
	store := NewMemStore()
	seed(t, store, "p1", 5)
	svc := NewService(store, nil)

	_, err := svc.Reserve(context.Background(), "p1", 10)
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "5", ae.Details["available"])
	assert.Equal(t, "p1", ae.Details["productId"])
	assert.True(t, errors.Is(err, apperr.ErrInsufficientStock))
}

func TestReleaseAndConsume(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	seed(t, store, "p1", 10)
	svc := NewService(store, nil)

	_, err := svc.Reserve(ctx, "p1", 6)
	require.NoError(t, err)

	c, err := svc.ConfirmConsumption(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, Counters{TotalStock: 8, AvailableStock: 4, ReservedStock: 4, MinStockLevel: 1}, c)

	c, err = svc.Release(ctx, "p1", 4)
	require.NoError(t, err)
	assert.Equal(t, 8, c.AvailableStock)
	assert.Equal(t, 0, c.ReservedStock)

	// a second release of the same quantity has nothing to release
	_, err = svc.Release(ctx, "p1", 4)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))

	p, _ := store.Get(ctx, "p1")
	assert.True(t, p.Inventory.Consistent())
	assert.Equal(t, 8, p.Inventory.TotalStock)
}

func TestReceiveAndWriteOff(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	seed(t, store, "p1", 3)
	svc := NewService(store, nil)

	c, err := svc.Receive(ctx, "p1", 7)
	require.NoError(t, err)
	assert.Equal(t, 10, c.TotalStock)
	assert.Equal(t, 10, c.AvailableStock)

	_, err = svc.Reserve(ctx, "p1", 8)
	require.NoError(t, err)

	_, err = svc.WriteOff(ctx, "p1", 3)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err), "reserved units cannot be written off")

	c, err = svc.WriteOff(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, Counters{TotalStock: 8, AvailableStock: 0, ReservedStock: 8, MinStockLevel: 1}, c)
	assert.True(t, c.Low())
}

func TestReserveAllIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	seed(t, store, "a", 5)
	seed(t, store, "b", 5)
	seed(t, store, "c", 1)
	svc := NewService(store, nil)

	_, err := svc.ReserveAll(ctx, []Line{
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 3},
		{ProductID: "c", Quantity: 4},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))

	for _, id := range []string{"a", "b", "c"} {
		p, _ := store.Get(ctx, id)
		assert.Zero(t, p.Inventory.ReservedStock, id)
		assert.True(t, p.Inventory.Consistent(), id)
	}

	_, err = svc.ReserveAll(ctx, []Line{{ProductID: "a", Quantity: 2}, {ProductID: "missing", Quantity: 1}})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	p, _ := store.Get(ctx, "a")
	assert.Equal(t, 5, p.Inventory.AvailableStock)

	after, err := svc.ReserveAll(ctx, []Line{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 5}})
	require.NoError(t, err)
	assert.Equal(t, 3, after["a"].AvailableStock)
	assert.Equal(t, 0, after["b"].AvailableStock)
	assert.Equal(t, 5, after["b"].ReservedStock)
}

// Random concurrent reserve/release/consume interleavings never break the counters.
func TestCountersStayConsistentUnderRandomInterleavings(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	seed(t, store, "p1", 500)
	svc := NewService(store, nil)

	const workers = 8
	const opsPerWorker = 250

	var wg sync.WaitGroup
	violations := make(chan Counters, workers*opsPerWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < opsPerWorker; i++ {
				qty := rnd.Intn(5) + 1
				var c Counters
				var err error
				switch rnd.Intn(3) {
				case 0:
					c, err = svc.Reserve(ctx, "p1", qty)
				case 1:
					c, err = svc.Release(ctx, "p1", qty)
				default:
					c, err = svc.ConfirmConsumption(ctx, "p1", qty)
				}
				if err != nil && apperr.KindOf(err) != apperr.KindInsufficientStock {
					t.Errorf("unexpected error: %v", err)
				}
				if !c.Consistent() {
					violations <- c
				}
			}
		}(int64(w + 1))
	}
	wg.Wait()
	close(violations)

	for v := range violations {
		t.Errorf("inconsistent counters observed: %+v", v)
	}
	p, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.Inventory.Consistent())
	assert.LessOrEqual(t, p.Inventory.TotalStock, 500)
}

type fixedCounter int

func (f fixedCounter) SumProduct(context.Context, string) (int, error) { return int(f), nil }

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	seed(t, store, "p1", 10)
	svc := NewService(store, nil)
	_, err := svc.Reserve(ctx, "p1", 4)
	require.NoError(t, err)

	rep, err := svc.Reconcile(ctx, "p1", fixedCounter(10), true)
	require.NoError(t, err)
	assert.Zero(t, rep.Drift)
	assert.False(t, rep.Corrected)

	rep, err = svc.Reconcile(ctx, "p1", fixedCounter(7), false)
	require.NoError(t, err)
	assert.Equal(t, -3, rep.Drift)
	assert.False(t, rep.Corrected)

	rep, err = svc.Reconcile(ctx, "p1", fixedCounter(7), true)
	require.NoError(t, err)
	assert.True(t, rep.Corrected)
	assert.Equal(t, Counters{TotalStock: 7, AvailableStock: 3, ReservedStock: 4, MinStockLevel: 1}, rep.After)
}
