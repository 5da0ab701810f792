package fulfillment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
	"github.com/ariefcatur/grocery-fulfillment/internal/ledger"
	"github.com/ariefcatur/grocery-fulfillment/internal/orders"
)

func TestReceiveBooksBinAndCounters(t *testing.T) {
	f := newFixture(t)
	f.product(t, "rice", 12000, 6)

	c := f.counters(t, "rice")
	assert.Equal(t, 6, c.TotalStock)
	assert.Equal(t, 6, c.AvailableStock)
	assert.Equal(t, 6, f.binQty(t, "rice"))

	_, err := f.stock.Receive(context.Background(), ReceiveRequest{BinCode: "BIN-rice", ProductID: "ghost", Quantity: 1, Actor: "admin"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.stock.Receive(context.Background(), ReceiveRequest{BinCode: "BIN-rice", ProductID: "rice", Quantity: 200, Actor: "admin"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 6, f.counters(t, "rice").TotalStock)
}

func TestWriteOff(t *testing.T) {
	ctx := context.Background()

	t.Run("removes unreserved units", func(t *testing.T) {
		f := newFixture(t)
		f.product(t, "rice", 12000, 6)
		res, err := f.stock.WriteOff(ctx, WriteOffRequest{BinCode: "BIN-rice", ProductID: "rice", Quantity: 2, Actor: "admin", Reason: "torn bags"})
		require.NoError(t, err)
		assert.Equal(t, 4, res.Counters.TotalStock)
		assert.Equal(t, 4, res.Bin.ProductQuantity("rice"))
		assert.Equal(t, ledger.ActionStockOut, res.Bin.LastMovement().Action)
	})

	t.Run("cannot touch reserved units", func(t *testing.T) {
		f := newFixture(t)
		f.product(t, "rice", 12000, 6)
		f.place(t, orders.PaymentCard, PlacementLine{ProductID: "rice", Quantity: 5})
		_, err := f.stock.WriteOff(ctx, WriteOffRequest{BinCode: "BIN-rice", ProductID: "rice", Quantity: 2, Actor: "admin", Reason: "expired"})
		assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
		assert.Equal(t, 6, f.binQty(t, "rice"))
	})

	t.Run("bin failure restores counters", func(t *testing.T) {
		f := newFixture(t)
		f.product(t, "rice", 12000, 6)
		_, err := f.stock.CreateBin(ctx, ledger.NewBin{BinCode: "EMPTY", MaxItems: 10})
		require.NoError(t, err)
		_, err = f.stock.WriteOff(ctx, WriteOffRequest{BinCode: "EMPTY", ProductID: "rice", Quantity: 2, Actor: "admin", Reason: "expired"})
		assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
		c := f.counters(t, "rice")
		assert.Equal(t, 6, c.TotalStock)
		assert.Equal(t, 6, c.AvailableStock)
	})

	t.Run("reason required", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.stock.WriteOff(ctx, WriteOffRequest{BinCode: "BIN-rice", ProductID: "rice", Quantity: 1})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})
}

func TestTransferLeavesCountersAlone(t *testing.T) {
	f := newFixture(t)
	f.product(t, "rice", 12000, 6)
	ctx := context.Background()
	_, err := f.stock.CreateBin(ctx, ledger.NewBin{BinCode: "OVERFLOW", MaxItems: 10})
	require.NoError(t, err)

	from, to, err := f.stock.Transfer(ctx, ledger.TransferRequest{FromBin: "BIN-rice", ToBin: "OVERFLOW", ProductID: "rice", Quantity: 4, Actor: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 2, from.ProductQuantity("rice"))
	assert.Equal(t, 4, to.ProductQuantity("rice"))
	assert.Equal(t, 6, f.counters(t, "rice").TotalStock)

	rep, err := f.stock.Reconcile(ctx, "rice", false)
	require.NoError(t, err)
	assert.Zero(t, rep.Drift)
}

func TestReconcileCorrectsDrift(t *testing.T) {
	f := newFixture(t)
	f.product(t, "rice", 12000, 6)
	ctx := context.Background()
	f.place(t, orders.PaymentCard, PlacementLine{ProductID: "rice", Quantity: 2})

	// units vanish from the bin without the counters hearing about it
	_, err := f.stock.Ledger.RemoveStock(ctx, ledger.RemoveRequest{BinCode: "BIN-rice", ProductID: "rice", Quantity: 3, Actor: "audit", Reason: "count"})
	require.NoError(t, err)

	rep, err := f.stock.Reconcile(ctx, "rice", false)
	require.NoError(t, err)
	assert.Equal(t, -3, rep.Drift)
	assert.False(t, rep.Corrected)
	assert.Equal(t, 6, f.counters(t, "rice").TotalStock)

	rep, err = f.stock.Reconcile(ctx, "rice", true)
	require.NoError(t, err)
	assert.True(t, rep.Corrected)
	c := f.counters(t, "rice")
	assert.Equal(t, 3, c.TotalStock)
	assert.Equal(t, 2, c.ReservedStock)
	assert.Equal(t, 1, c.AvailableStock)
}

func TestCreateProductValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.stock.CreateProduct(ctx, NewProduct{Name: "no sku"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.stock.CreateProduct(ctx, NewProduct{SKU: "S1", Name: "neg", PriceCents: -1})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	p, err := f.stock.CreateProduct(ctx, NewProduct{SKU: "S1", Name: "oats", PriceCents: 450})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Zero(t, p.Inventory.TotalStock)

	_, err = f.stock.CreateProduct(ctx, NewProduct{SKU: "S1", Name: "oats again"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}
