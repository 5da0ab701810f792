package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
)

var t0 = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func confirmedOrder(method PaymentMethod, items ...Item) *Order {
	o := &Order{
		ID:            "o-1",
		OrderNumber:   "ORD-260301-000001",
		CustomerID:    "cust-1",
		Items:         items,
		Status:        StatusConfirmed,
		PaymentMethod: method,
		PaymentStatus: PaymentPending,
		Timeline:      []TimelineEntry{{Status: StatusConfirmed, Timestamp: t0, UpdatedBy: "cust-1"}},
	}
	if method == PaymentCOD {
		o.DeliveryOTP = "482913"
	}
	return o
}

func line(product string, qty int) Item {
	return Item{ProductID: product, Quantity: qty, PriceCents: 1000, PickingStatus: PickPending}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusConfirmed, StatusPicking, true},
		{StatusPicking, StatusPicked, true},
		{StatusPicked, StatusReadyForDelivery, true},
		{StatusReadyForDelivery, StatusOutForDelivery, true},
		{StatusOutForDelivery, StatusDelivered, true},
		{StatusOutForDelivery, StatusCancelled, true},
		{StatusDelivered, StatusRefunded, true},
		{StatusCancelled, StatusRefunded, true},
		{StatusDelivered, StatusCancelled, false},
		{StatusConfirmed, StatusPicked, false},
		{StatusPicked, StatusDelivered, false},
		{StatusRefunded, StatusCancelled, false},
		{StatusConfirmed, StatusRefunded, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestClaimForPicking(t *testing.T) {
	o := confirmedOrder(PaymentCard, line("milk", 1), line("eggs", 2))

	changed, err := o.ClaimForPicking("p1", t0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusPicking, o.Status)
	assert.Equal(t, "p1", o.Picker)
	for _, it := range o.Items {
		assert.Equal(t, PickAssigned, it.PickingStatus)
		assert.Equal(t, "p1", it.PickerAssigned)
	}
	assert.Len(t, o.Timeline, 2)

	changed, err = o.ClaimForPicking("p1", t0)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = o.ClaimForPicking("p2", t0)
	assert.ErrorIs(t, err, apperr.ErrAlreadyClaimed)
	assert.Len(t, o.Timeline, 2)

	_, err = confirmedOrder(PaymentCard, line("milk", 1)).ClaimForPicking("", t0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestPickLifecycle(t *testing.T) {
	o := confirmedOrder(PaymentCard, line("milk", 1), line("eggs", 2))
	_, err := o.ClaimForPicking("p1", t0)
	require.NoError(t, err)

	assert.Equal(t, apperr.KindValidation, apperr.KindOf(o.BeginPick(0, "p1", "")))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(o.BeginPick(5, "p1", "A1")))
	assert.Equal(t, apperr.KindAuthorizationMismatch, apperr.KindOf(o.BeginPick(0, "p2", "A1")))

	require.NoError(t, o.BeginPick(0, "p1", "A1"))
	assert.Equal(t, apperr.KindIllegalTransition, apperr.KindOf(o.BeginPick(0, "p1", "A1")))

	require.NoError(t, o.AbortPick(0, "p1"))
	assert.Equal(t, PickAssigned, o.Items[0].PickingStatus)
	assert.Empty(t, o.Items[0].BinLocation)

	require.NoError(t, o.BeginPick(0, "p1", "A1"))
	done, err := o.CompletePick(0, "p1", "", []PickedBatch{{BatchNumber: "L1", Quantity: 1}}, t0)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, StatusPicking, o.Status)
	assert.Len(t, o.Items[0].Batches, 1)

	require.NoError(t, o.BeginPick(1, "p1", "B2"))
	done, err = o.CompletePick(1, "p1", "dented box", nil, t0)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, StatusPicked, o.Status)
	assert.Equal(t, StatusPicked, o.LastEntry().Status)
	assert.Equal(t, "dented box", o.Items[1].Notes)
	assert.Equal(t, 2, o.PickedCount())
	assert.Len(t, o.Timeline, 3)
}

func TestMarkUnavailable(t *testing.T) {
	o := confirmedOrder(PaymentCard, line("milk", 1), line("eggs", 2))
	_, err := o.ClaimForPicking("p1", t0)
	require.NoError(t, err)

	settled, err := o.MarkUnavailable(0, "p1", "none left", t0)
	require.NoError(t, err)
	assert.False(t, settled)

	_, err = o.MarkUnavailable(0, "p1", "again", t0)
	assert.Equal(t, apperr.KindIllegalTransition, apperr.KindOf(err))

	settled, err = o.MarkUnavailable(1, "p1", "none left", t0)
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, "all items unavailable", o.CancellationReason)
}

func TestDeliveryFlow(t *testing.T) {
	o := confirmedOrder(PaymentCOD, line("milk", 1))
	_, err := o.ClaimForPicking("p1", t0)
	require.NoError(t, err)
	require.NoError(t, o.BeginPick(0, "p1", "A1"))
	_, err = o.CompletePick(0, "p1", "", nil, t0)
	require.NoError(t, err)

	changed, err := o.ClaimForDelivery("r1", t0)
	require.NoError(t, err)
	assert.True(t, changed)
	_, err = o.ClaimForDelivery("r2", t0)
	assert.ErrorIs(t, err, apperr.ErrAlreadyClaimed)

	assert.Equal(t, apperr.KindAuthorizationMismatch, apperr.KindOf(o.ConfirmPickup("r2", "", t0)))
	require.NoError(t, o.ConfirmPickup("r1", "bag sealed", t0))
	assert.Equal(t, "Order picked up by rider: bag sealed", o.LastEntry().Notes)

	n := len(o.Timeline)
	err = o.ConfirmDelivery("r1", "111111", "", t0)
	assert.Equal(t, apperr.KindAuthorizationMismatch, apperr.KindOf(err))
	assert.NotContains(t, err.Error(), "482913")
	assert.Equal(t, StatusOutForDelivery, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Len(t, o.Timeline, n)

	require.NoError(t, o.ConfirmDelivery("r1", "482913", "", t0))
	assert.Equal(t, StatusDelivered, o.Status)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	require.NotNil(t, o.DeliveredAt)
}

func TestCancelAndRefund(t *testing.T) {
	o := confirmedOrder(PaymentWallet, line("milk", 1))

	assert.Equal(t, apperr.KindValidation, apperr.KindOf(o.Cancel("cust-1", "  ", t0)))
	assert.Equal(t, apperr.KindIllegalTransition, apperr.KindOf(o.Refund("admin", "", t0)))

	require.NoError(t, o.RecordPayment(PaymentPaid, t0))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(o.RecordPayment(PaymentFailed, t0)))

	require.NoError(t, o.Cancel("cust-1", "wrong address", t0))
	assert.Equal(t, "Cancelled: wrong address", o.LastEntry().Notes)
	assert.Equal(t, apperr.KindIllegalTransition, apperr.KindOf(o.Cancel("cust-1", "again", t0)))

	require.NoError(t, o.Refund("admin", "", t0))
	assert.Equal(t, StatusRefunded, o.Status)
	assert.Equal(t, PaymentRefunded, o.PaymentStatus)
	assert.Len(t, o.Timeline, 3)
}

func TestRefundNeedsPayment(t *testing.T) {
	o := confirmedOrder(PaymentCard, line("milk", 1))
	require.NoError(t, o.RecordPayment(PaymentFailed, t0))
	require.NoError(t, o.Cancel("cust-1", "payment failed", t0))
	err := o.Refund("admin", "", t0)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindIllegalTransition, ae.Kind)
	assert.Equal(t, "failed", ae.Details["paymentStatus"])
}

func TestReleaseClaim(t *testing.T) {
	o := confirmedOrder(PaymentCard, line("milk", 1), line("eggs", 1))
	_, err := o.ClaimForPicking("p1", t0)
	require.NoError(t, err)
	require.NoError(t, o.ReleaseClaim("admin", "shift ended", t0))
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Empty(t, o.Picker)
	assert.Equal(t, PickPending, o.Items[1].PickingStatus)

	_, err = o.ClaimForPicking("p2", t0)
	require.NoError(t, err)
	require.NoError(t, o.BeginPick(0, "p2", "A1"))
	assert.Equal(t, apperr.KindIllegalTransition, apperr.KindOf(o.ReleaseClaim("admin", "", t0)))

	assert.Equal(t, apperr.KindIllegalTransition,
		apperr.KindOf(confirmedOrder(PaymentCard, line("milk", 1)).ReleaseClaim("admin", "", t0)))
}

func TestCloneIsDeep(t *testing.T) {
	o := confirmedOrder(PaymentCard, line("milk", 1))
	o.Items[0].Batches = []PickedBatch{{BatchNumber: "L1", Quantity: 1}}
	cp := o.Clone()
	cp.Items[0].Batches[0].Quantity = 9
	cp.Timeline[0].Notes = "edited"
	cp.Items[0].PickingStatus = PickPicked

	assert.Equal(t, 1, o.Items[0].Batches[0].Quantity)
	assert.Empty(t, o.Timeline[0].Notes)
	assert.Equal(t, PickPending, o.Items[0].PickingStatus)
}
