package orders

import (
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
)

const SystemActor = "system"

// transition moves the header status and appends exactly one timeline entry.
// Callers run every guard before calling it, so a rejected change leaves the
// timeline untouched.
func (o *Order) transition(to Status, notes, actor string, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return apperr.IllegalTransition(string(o.Status), string(to))
	}
	o.Status = to
	o.Timeline = append(o.Timeline, TimelineEntry{
		Status:    to,
		Timestamp: now,
		Notes:     notes,
		UpdatedBy: actor,
	})
	o.UpdatedAt = now
	return nil
}

func (o *Order) item(idx int) (*Item, error) {
	it := o.Item(idx)
	if it == nil {
		return nil, apperr.Validation("itemIndex", "item index out of range").
			WithDetail("itemCount", strconv.Itoa(len(o.Items)))
	}
	return it, nil
}

// ClaimForPicking assigns the order and every unassigned item to picker.
// It reports changed=false when picker already holds the claim.
func (o *Order) ClaimForPicking(picker string, now time.Time) (changed bool, err error) {
	if picker == "" {
		return false, apperr.Validation("actor", "picker id is required")
	}
	if o.Picker != "" {
		if o.Picker == picker && o.Status == StatusPicking {
			return false, nil
		}
		return false, apperr.AlreadyClaimed(o.ID, "picker")
	}
	if o.Status != StatusConfirmed {
		return false, apperr.IllegalTransition(string(o.Status), string(StatusPicking))
	}
	if err := o.transition(StatusPicking, "Picker assigned, picking started", picker, now); err != nil {
		return false, err
	}
	o.Picker = picker
	for i := range o.Items {
		if o.Items[i].PickingStatus == PickPending {
			o.Items[i].PickingStatus = PickAssigned
			o.Items[i].PickerAssigned = picker
		}
	}
	return true, nil
}

// BeginPick marks an assigned item as being picked from bin.
func (o *Order) BeginPick(idx int, picker, bin string) error {
	if strings.TrimSpace(bin) == "" {
		return apperr.Validation("binLocation", "bin location is required")
	}
	if o.Status != StatusPicking {
		return apperr.IllegalTransition(string(o.Status), string(StatusPicking))
	}
	it, err := o.item(idx)
	if err != nil {
		return err
	}
	if it.PickerAssigned != picker {
		return apperr.AuthorizationMismatch("item is not assigned to this picker")
	}
	if it.PickingStatus != PickAssigned {
		return apperr.IllegalTransition(string(it.PickingStatus), string(PickPicking)).
			WithDetail("itemIndex", strconv.Itoa(idx))
	}
	it.PickingStatus = PickPicking
	it.BinLocation = bin
	return nil
}

// AbortPick returns an item that could not be taken from its bin to assigned.
func (o *Order) AbortPick(idx int, picker string) error {
	it, err := o.item(idx)
	if err != nil {
		return err
	}
	if it.PickerAssigned != picker || it.PickingStatus != PickPicking {
		return apperr.IllegalTransition(string(it.PickingStatus), string(PickAssigned))
	}
	it.PickingStatus = PickAssigned
	it.BinLocation = ""
	return nil
}

// CompletePick records the item as picked. When it was the last outstanding item
// the header moves to picked in the same update.
func (o *Order) CompletePick(idx int, picker, notes string, batches []PickedBatch, now time.Time) (headerPicked bool, err error) {
	if o.Status != StatusPicking {
		return false, apperr.IllegalTransition(string(o.Status), string(StatusPicked))
	}
	it, err := o.item(idx)
	if err != nil {
		return false, err
	}
	if it.PickerAssigned != picker {
		return false, apperr.AuthorizationMismatch("item is not assigned to this picker")
	}
	if it.PickingStatus != PickPicking {
		return false, apperr.IllegalTransition(string(it.PickingStatus), string(PickPicked))
	}
	it.PickingStatus = PickPicked
	t := now
	it.PickedAt = &t
	it.Batches = batches
	if notes != "" {
		it.Notes = notes
	}
	o.UpdatedAt = now
	return o.settlePicking(picker, now)
}

// MarkUnavailable flags an assigned item that cannot be fulfilled. If no item is
// left to pick the header settles: picked when something was picked, cancelled otherwise.
func (o *Order) MarkUnavailable(idx int, picker, notes string, now time.Time) (settled bool, err error) {
	if o.Status != StatusPicking {
		return false, apperr.IllegalTransition(string(o.Status), string(StatusPicking))
	}
	it, err := o.item(idx)
	if err != nil {
		return false, err
	}
	if it.PickerAssigned != picker {
		return false, apperr.AuthorizationMismatch("item is not assigned to this picker")
	}
	if it.PickingStatus != PickAssigned {
		return false, apperr.IllegalTransition(string(it.PickingStatus), string(PickUnavailable))
	}
	it.PickingStatus = PickUnavailable
	it.Notes = notes
	o.UpdatedAt = now
	return o.settlePicking(picker, now)
}

func (o *Order) settlePicking(picker string, now time.Time) (bool, error) {
	picked := 0
	for _, it := range o.Items {
		switch it.PickingStatus {
		case PickPicked:
			picked++
		case PickUnavailable:
		default:
			return false, nil
		}
	}
	if picked == 0 {
		o.CancellationReason = "all items unavailable"
		return true, o.transition(StatusCancelled, "Cancelled: all items unavailable", picker, now)
	}
	note := "All items picked"
	if picked < len(o.Items) {
		note = "Picking complete, " + strconv.Itoa(len(o.Items)-picked) + " item(s) unavailable"
	}
	return true, o.transition(StatusPicked, note, SystemActor, now)
}

func (o *Order) ClaimForDelivery(rider string, now time.Time) (changed bool, err error) {
	if rider == "" {
		return false, apperr.Validation("actor", "rider id is required")
	}
	if o.Rider != "" {
		if o.Rider == rider && o.Status == StatusReadyForDelivery {
			return false, nil
		}
		return false, apperr.AlreadyClaimed(o.ID, "rider")
	}
	if o.Status != StatusPicked {
		return false, apperr.IllegalTransition(string(o.Status), string(StatusReadyForDelivery))
	}
	if err := o.transition(StatusReadyForDelivery, "Rider assigned", rider, now); err != nil {
		return false, err
	}
	o.Rider = rider
	return true, nil
}

func (o *Order) ConfirmPickup(rider, notes string, now time.Time) error {
	if o.Status != StatusReadyForDelivery {
		return apperr.IllegalTransition(string(o.Status), string(StatusOutForDelivery))
	}
	if o.Rider != rider {
		return apperr.AuthorizationMismatch("order is assigned to another rider")
	}
	return o.transition(StatusOutForDelivery, withNotes("Order picked up by rider", notes), rider, now)
}

// ConfirmDelivery completes the order. Cash-on-delivery orders require the
// customer's OTP; a mismatch leaves the order untouched.
func (o *Order) ConfirmDelivery(rider, otp, notes string, now time.Time) error {
	if o.Status != StatusOutForDelivery {
		return apperr.IllegalTransition(string(o.Status), string(StatusDelivered))
	}
	if o.Rider != rider {
		return apperr.AuthorizationMismatch("order is assigned to another rider")
	}
	if o.IsCOD() && !VerifyOTP(o.DeliveryOTP, otp) {
		return apperr.AuthorizationMismatch("delivery OTP does not match")
	}
	if err := o.transition(StatusDelivered, withNotes("Order delivered", notes), rider, now); err != nil {
		return err
	}
	o.PaymentStatus = PaymentPaid
	t := now
	o.DeliveredAt = &t
	return nil
}

// Cancel moves any order that is not delivered or already closed to cancelled.
func (o *Order) Cancel(actor, reason string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperr.Validation("reason", "cancellation reason is required")
	}
	if o.Status.Terminal() {
		return apperr.IllegalTransition(string(o.Status), string(StatusCancelled))
	}
	if err := o.transition(StatusCancelled, "Cancelled: "+reason, actor, now); err != nil {
		return err
	}
	o.CancellationReason = reason
	return nil
}

func (o *Order) Refund(actor, reason string, now time.Time) error {
	if o.Status != StatusCancelled && o.Status != StatusDelivered {
		return apperr.IllegalTransition(string(o.Status), string(StatusRefunded))
	}
	if o.PaymentStatus != PaymentPaid {
		return apperr.IllegalTransition(string(o.Status), string(StatusRefunded)).
			WithDetail("paymentStatus", string(o.PaymentStatus))
	}
	if err := o.transition(StatusRefunded, withNotes("Payment refunded", reason), actor, now); err != nil {
		return err
	}
	o.PaymentStatus = PaymentRefunded
	return nil
}

// RecordPayment applies a gateway outcome to a prepaid order. It never changes
// the header status and appends no timeline entry.
func (o *Order) RecordPayment(status PaymentStatus, now time.Time) error {
	if o.IsCOD() {
		return apperr.Validation("paymentStatus", "cash-on-delivery orders are settled at delivery")
	}
	if status != PaymentPaid && status != PaymentFailed {
		return apperr.Validation("paymentStatus", "payment status must be paid or failed")
	}
	if o.Status.Terminal() {
		return apperr.IllegalTransition(string(o.Status), string(o.Status))
	}
	if o.PaymentStatus == PaymentPaid {
		return apperr.Conflict("payment already recorded as paid")
	}
	o.PaymentStatus = status
	o.UpdatedAt = now
	return nil
}

// ReleaseClaim hands a stalled order back to its claim pool. A picking order can
// only be released before anything was physically picked.
func (o *Order) ReleaseClaim(actor, reason string, now time.Time) error {
	switch o.Status {
	case StatusPicking:
		for _, it := range o.Items {
			if it.PickingStatus == PickPicked || it.PickingStatus == PickPicking || it.PickingStatus == PickUnavailable {
				return apperr.IllegalTransition(string(o.Status), string(StatusConfirmed)).
					WithDetail("reason", "picking already progressed")
			}
		}
		if err := o.transition(StatusConfirmed, withNotes("Picker claim released", reason), actor, now); err != nil {
			return err
		}
		o.Picker = ""
		for i := range o.Items {
			o.Items[i].PickingStatus = PickPending
			o.Items[i].PickerAssigned = ""
		}
		return nil
	case StatusReadyForDelivery:
		if err := o.transition(StatusPicked, withNotes("Rider claim released", reason), actor, now); err != nil {
			return err
		}
		o.Rider = ""
		return nil
	}
	return apperr.IllegalTransition(string(o.Status), "released")
}

func withNotes(base, notes string) string {
	if notes = strings.TrimSpace(notes); notes != "" {
		return base + ": " + notes
	}
	return base
}
