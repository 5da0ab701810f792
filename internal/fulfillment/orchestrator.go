package fulfillment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
	"github.com/ariefcatur/grocery-fulfillment/internal/events"
	"github.com/ariefcatur/grocery-fulfillment/internal/inventory"
	"github.com/ariefcatur/grocery-fulfillment/internal/ledger"
	"github.com/ariefcatur/grocery-fulfillment/internal/logging"
	"github.com/ariefcatur/grocery-fulfillment/internal/metrics"
	"github.com/ariefcatur/grocery-fulfillment/internal/orders"
)

const (
	defaultRetries      = 8
	numberAttempts      = 5
	defaultPoolLimit    = 50
	reasonOrderCanceled = "order cancelled"
)

// errUnchanged lets a mutation report that the order already is in the wanted
// state, so nothing is written and no event is emitted.
var errUnchanged = errors.New("order unchanged")

// Orchestrator drives the order state machine. Each step is a version-guarded
// update of the order document; inventory and bin changes happen around it
// and are compensated when a later step fails.
type Orchestrator struct {
	Orders    orders.Store
	Inventory *inventory.Service
	Ledger    *ledger.Service
	Events    events.Publisher
	Numbers   orders.Sequence
	Pricing   orders.PricingPolicy
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	Retries int
	// ReturnPickedOnCancel puts physically picked units back into their bin when
	// an order is cancelled. When false only reservations are rolled back.
	ReturnPickedOnCancel bool

	Now func() time.Time
}

func NewOrchestrator(store orders.Store, inv *inventory.Service, led *ledger.Service, pub events.Publisher, seq orders.Sequence, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{
		Orders:               store,
		Inventory:            inv,
		Ledger:               led,
		Events:               pub,
		Numbers:              seq,
		Pricing:              orders.DefaultPricing,
		Logger:               logger,
		Retries:              defaultRetries,
		ReturnPickedOnCancel: true,
		Now:                  func() time.Time { return time.Now().UTC() },
	}
}

type PlacementLine struct {
	ProductID string
	Quantity  int
}

type PlacementRequest struct {
	CustomerID          string
	Items               []PlacementLine
	DeliveryAddress     orders.Address
	PaymentMethod       orders.PaymentMethod
	CustomerNotes       string
	SpecialInstructions string
}

func (r PlacementRequest) validate() error {
	if strings.TrimSpace(r.CustomerID) == "" {
		return apperr.Validation("customerId", "customer is required")
	}
	if len(r.Items) == 0 {
		return apperr.Validation("items", "at least one item is required")
	}
	for _, l := range r.Items {
		if strings.TrimSpace(l.ProductID) == "" {
			return apperr.Validation("items.productId", "product is required")
		}
		if l.Quantity <= 0 {
			return apperr.Validation("items.quantity", "quantity must be positive").
				WithDetail("productId", l.ProductID)
		}
	}
	a := r.DeliveryAddress
	switch {
	case strings.TrimSpace(a.Line1) == "":
		return apperr.Validation("deliveryAddress.line1", "address line is required")
	case strings.TrimSpace(a.City) == "":
		return apperr.Validation("deliveryAddress.city", "city is required")
	case strings.TrimSpace(a.PostalCode) == "":
		return apperr.Validation("deliveryAddress.postalCode", "postal code is required")
	}
	if !r.PaymentMethod.Valid() {
		return apperr.Validation("paymentMethod", "unsupported payment method")
	}
	return nil
}

// mergeLines folds repeated products into one line, keeping first-seen order.
func mergeLines(in []PlacementLine) []inventory.Line {
	idx := make(map[string]int, len(in))
	out := make([]inventory.Line, 0, len(in))
	for _, l := range in {
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, inventory.Line{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return out
}

// PlaceOrder reserves every line and creates the order in confirmed. Either the
// order exists with all its stock reserved, or nothing is reserved.
func (s *Orchestrator) PlaceOrder(ctx context.Context, req PlacementRequest) (*orders.Order, error) {
	if err := req.validate(); err != nil {
		s.Metrics.Placement("rejected")
		return nil, err
	}
	lines := mergeLines(req.Items)

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := s.Inventory.Store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make([]orders.Item, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			s.Metrics.Placement("rejected")
			return nil, apperr.NotFound("product", l.ProductID)
		}
		items = append(items, orders.Item{
			ProductID:     p.ID,
			SKU:           p.SKU,
			Name:          p.Name,
			Quantity:      l.Quantity,
			PriceCents:    p.Price.SellingCents,
			PickingStatus: orders.PickPending,
		})
	}

	after, err := s.Inventory.ReserveAll(ctx, lines)
	if err != nil {
		s.Metrics.Placement("insufficient_stock")
		s.Logger.Info("placement rejected", "customerId", req.CustomerID, "error", err)
		return nil, err
	}

	now := s.Now()
	o := &orders.Order{
		ID:                  uuid.NewString(),
		CustomerID:          req.CustomerID,
		Items:               items,
		Status:              orders.StatusConfirmed,
		PaymentMethod:       req.PaymentMethod,
		PaymentStatus:       orders.PaymentPending,
		DeliveryAddress:     req.DeliveryAddress,
		Pricing:             s.Pricing.Quote(items, 0),
		CustomerNotes:       req.CustomerNotes,
		SpecialInstructions: req.SpecialInstructions,
		Timeline: []orders.TimelineEntry{{
			Status:    orders.StatusConfirmed,
			Timestamp: now,
			Notes:     "Order placed, stock reserved",
			UpdatedBy: req.CustomerID,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if o.IsCOD() {
		if o.DeliveryOTP, err = orders.GenerateOTP(); err != nil {
			s.releaseLines(ctx, lines, "placement")
			return nil, apperr.Internal(err)
		}
	}

	if err := s.create(ctx, o, now); err != nil {
		s.releaseLines(ctx, lines, "placement")
		s.Metrics.Placement("failed")
		return nil, err
	}

	s.Metrics.Placement("confirmed")
	s.Metrics.Transition(string(orders.StatusConfirmed))
	s.Logger.Info("order placed", "orderId", o.ID, "orderNumber", o.OrderNumber,
		"customerId", o.CustomerID, "items", len(o.Items), "total", o.Pricing.TotalCents)
	s.publish(orders.NewTimelineEvents(o, 0)...)
	for _, l := range lines {
		s.checkLow(l.ProductID, after[l.ProductID])
	}
	return o, nil
}

func (s *Orchestrator) create(ctx context.Context, o *orders.Order, now time.Time) error {
	for i := 0; i < numberAttempts; i++ {
		seq, err := s.Numbers.Next(ctx, now)
		if err != nil {
			return apperr.Internal(err)
		}
		o.OrderNumber = orders.FormatNumber(now, seq)
		err = s.Orders.Create(ctx, o)
		if errors.Is(err, orders.ErrDuplicateNumber) {
			s.Logger.Warn("order number collision", "orderNumber", o.OrderNumber)
			continue
		}
		return err
	}
	return apperr.Conflict("could not allocate an order number")
}

func (s *Orchestrator) releaseLines(ctx context.Context, lines []inventory.Line, step string) {
	if err := s.Inventory.ReleaseAll(context.WithoutCancel(ctx), lines); err != nil {
		s.Metrics.CompensationFailed(step)
		s.Logger.Error("reservation rollback incomplete", "step", step, "error", err)
	}
}

// mutate applies fn to a fresh copy of the order and writes it back guarded by
// version, retrying when another writer got there first. Events for every new
// timeline entry are published once the write is committed.
func (s *Orchestrator) mutate(ctx context.Context, id string, fn func(*orders.Order) error) (*orders.Order, error) {
	retries := s.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	for attempt := 0; attempt < retries; attempt++ {
		o, err := s.Orders.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		before := len(o.Timeline)
		if err := fn(o); err != nil {
			if errors.Is(err, errUnchanged) {
				return o, nil
			}
			return o, err
		}
		err = s.Orders.Update(ctx, o)
		if errors.Is(err, apperr.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, entry := range o.Timeline[before:] {
			s.Metrics.Transition(string(entry.Status))
			s.Logger.Info("order transition", "orderId", o.ID, "orderNumber", o.OrderNumber,
				"status", entry.Status, "actor", entry.UpdatedBy)
		}
		s.publish(orders.NewTimelineEvents(o, before)...)
		return o, nil
	}
	return nil, apperr.Conflict("order kept changing, retry").WithDetail("orderId", id)
}

func (s *Orchestrator) publish(evs ...events.Event) {
	if s.Events == nil {
		return
	}
	for _, e := range evs {
		s.Events.Publish(e)
	}
}

// ClaimOrder assigns an order and all its unassigned items to a picker. A lost
// race returns ALREADY_CLAIMED; claiming again as the holder is a no-op.
func (s *Orchestrator) ClaimOrder(ctx context.Context, orderID, picker string) (*orders.Order, error) {
	o, err := s.mutate(ctx, orderID, func(o *orders.Order) error {
		changed, err := o.ClaimForPicking(picker, s.Now())
		if err == nil && !changed {
			return errUnchanged
		}
		return err
	})
	s.recordClaim("picker", orderID, picker, err)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Orchestrator) recordClaim(role, orderID, actor string, err error) {
	switch {
	case err == nil:
		s.Metrics.Claim(role, "won")
	case errors.Is(err, apperr.ErrAlreadyClaimed):
		s.Metrics.Claim(role, "lost")
		s.Logger.Info("claim lost", "role", role, "orderId", orderID, "actor", actor)
	default:
		s.Metrics.Claim(role, "rejected")
	}
}

type PickRequest struct {
	OrderID   string
	ItemIndex int
	Picker    string
	BinCode   string
	Notes     string
}

// PickItem takes one item out of a bin. The item is marked picking before the
// bin is touched and marked picked after, so a cancellation that lands in
// between is detected and the units go back into the bin.
func (s *Orchestrator) PickItem(ctx context.Context, req PickRequest) (*orders.Order, *ledger.Bin, error) {
	o, err := s.mutate(ctx, req.OrderID, func(o *orders.Order) error {
		return o.BeginPick(req.ItemIndex, req.Picker, req.BinCode)
	})
	if err != nil {
		return nil, nil, err
	}
	item := *o.Item(req.ItemIndex)
	cctx := context.WithoutCancel(ctx)

	bin, err := s.Ledger.RemoveStock(ctx, ledger.RemoveRequest{
		BinCode:   req.BinCode,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		Actor:     req.Picker,
		OrderID:   o.ID,
		Reason:    "picked for " + o.OrderNumber,
	})
	if err != nil {
		s.abortPick(cctx, req)
		return nil, nil, err
	}
	drawn := bin.LastMovement().Batches

	o, err = s.mutate(cctx, req.OrderID, func(o *orders.Order) error {
		_, err := o.CompletePick(req.ItemIndex, req.Picker, req.Notes, pickedBatches(drawn), s.Now())
		return err
	})
	if err != nil {
		s.Logger.Warn("pick could not be recorded, returning units", "orderId", req.OrderID,
			"itemIndex", req.ItemIndex, "binCode", req.BinCode, "error", err)
		if !s.returnToBin(cctx, req.OrderID, req.BinCode, item.ProductID, drawn, req.Picker, "pick aborted") {
			// the units left the bin for good; the counters have to follow
			if _, werr := s.Inventory.WriteOff(cctx, item.ProductID, item.Quantity); werr != nil {
				s.Metrics.CompensationFailed("write_off_unreturned")
				s.Logger.Error("unreturned units still counted", "orderId", req.OrderID,
					"productId", item.ProductID, "qty", item.Quantity, "error", werr)
			}
		}
		s.abortPick(cctx, req)
		return nil, nil, err
	}

	if _, cerr := s.Inventory.ConfirmConsumption(cctx, item.ProductID, item.Quantity); cerr != nil {
		s.Metrics.CompensationFailed("confirm_consumption")
		s.Logger.Error("consumption not recorded", "orderId", o.ID, "productId", item.ProductID,
			"qty", item.Quantity, "error", cerr)
	}
	return o, bin, nil
}

// abortPick puts an item back to assigned. A cancelled order is left alone.
func (s *Orchestrator) abortPick(ctx context.Context, req PickRequest) {
	_, err := s.mutate(ctx, req.OrderID, func(o *orders.Order) error {
		if o.Status != orders.StatusPicking {
			return errUnchanged
		}
		if it := o.Item(req.ItemIndex); it == nil || it.PickingStatus != orders.PickPicking {
			return errUnchanged
		}
		return o.AbortPick(req.ItemIndex, req.Picker)
	})
	if err != nil {
		s.Metrics.CompensationFailed("abort_pick")
		s.Logger.Error("item left in picking", "orderId", req.OrderID, "itemIndex", req.ItemIndex, "error", err)
	}
}

// returnToBin puts drawn batches back. When the bin refuses them the units are
// reported to admins; the caller decides what happens to the counters.
func (s *Orchestrator) returnToBin(ctx context.Context, orderID, binCode, productID string, batches []ledger.StockEntry, actor, reason string) bool {
	_, err := s.Ledger.Return(ctx, ledger.ReturnRequest{
		BinCode:   binCode,
		ProductID: productID,
		Batches:   batches,
		Actor:     actor,
		OrderID:   orderID,
		Reason:    reason,
	})
	if err == nil {
		return true
	}
	s.Metrics.CompensationFailed("return_to_bin")
	s.Logger.Error("units could not be returned to bin", "orderId", orderID, "binCode", binCode,
		"productId", productID, "error", err)
	s.publish(events.Event{
		OrderID:       orderID,
		ProductID:     productID,
		Type:          orders.EventReturnFailed,
		Message:       "units of " + productID + " could not be returned to bin " + binCode + ": " + err.Error(),
		RecipientHint: []string{orders.RecipientAdmin},
		Priority:      events.PriorityHigh,
	})
	return false
}

// MarkItemUnavailable flags an item that cannot be picked and releases its reservation.
func (s *Orchestrator) MarkItemUnavailable(ctx context.Context, orderID string, idx int, picker, notes string) (*orders.Order, error) {
	o, err := s.mutate(ctx, orderID, func(o *orders.Order) error {
		_, err := o.MarkUnavailable(idx, picker, notes, s.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	it := o.Item(idx)
	c, err := s.Inventory.Release(context.WithoutCancel(ctx), it.ProductID, it.Quantity)
	if err != nil {
		s.Metrics.CompensationFailed("release_unavailable")
		s.Logger.Error("reservation not released", "orderId", o.ID, "productId", it.ProductID, "error", err)
		return o, nil
	}
	s.checkLow(it.ProductID, c)
	return o, nil
}

func (s *Orchestrator) ClaimDelivery(ctx context.Context, orderID, rider string) (*orders.Order, error) {
	o, err := s.mutate(ctx, orderID, func(o *orders.Order) error {
		changed, err := o.ClaimForDelivery(rider, s.Now())
		if err == nil && !changed {
			return errUnchanged
		}
		return err
	})
	s.recordClaim("rider", orderID, rider, err)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Orchestrator) ConfirmPickup(ctx context.Context, orderID, rider, notes string) (*orders.Order, error) {
	return s.mutateOrNil(ctx, orderID, func(o *orders.Order) error {
		return o.ConfirmPickup(rider, notes, s.Now())
	})
}

func (s *Orchestrator) ConfirmDelivery(ctx context.Context, orderID, rider, otp, notes string) (*orders.Order, error) {
	o, err := s.mutateOrNil(ctx, orderID, func(o *orders.Order) error {
		return o.ConfirmDelivery(rider, otp, notes, s.Now())
	})
	if apperr.KindOf(err) == apperr.KindAuthorizationMismatch {
		s.Logger.Warn("delivery confirmation rejected", "orderId", orderID, "rider", rider, "error", err)
	}
	return o, err
}

// Cancel closes the order and rolls stock back according to each item's state
// in the cancelling update: picked units go back to their bin and into available
// stock, unavailable items were already released, everything else is released.
func (s *Orchestrator) Cancel(ctx context.Context, orderID, actor, reason string) (*orders.Order, error) {
	o, err := s.mutateOrNil(ctx, orderID, func(o *orders.Order) error {
		return o.Cancel(actor, reason, s.Now())
	})
	if err != nil {
		return nil, err
	}
	s.rollback(context.WithoutCancel(ctx), o, actor)
	return o, nil
}

func (s *Orchestrator) rollback(ctx context.Context, o *orders.Order, actor string) {
	for _, it := range o.Items {
		switch it.PickingStatus {
		case orders.PickUnavailable:
		case orders.PickPicked:
			if !s.ReturnPickedOnCancel {
				continue
			}
			batches := stockEntries(it)
			if !s.returnToBin(ctx, o.ID, it.BinLocation, it.ProductID, batches, actor, reasonOrderCanceled) {
				continue
			}
			if _, err := s.Inventory.Receive(ctx, it.ProductID, it.Quantity); err != nil {
				s.Metrics.CompensationFailed("restock")
				s.Logger.Error("returned units not restocked", "orderId", o.ID, "productId", it.ProductID, "error", err)
			}
		default:
			if _, err := s.Inventory.Release(ctx, it.ProductID, it.Quantity); err != nil {
				s.Metrics.CompensationFailed("release")
				s.Logger.Error("reservation not released", "orderId", o.ID, "productId", it.ProductID, "error", err)
			}
		}
	}
}

func (s *Orchestrator) Refund(ctx context.Context, orderID, actor, reason string) (*orders.Order, error) {
	return s.mutateOrNil(ctx, orderID, func(o *orders.Order) error {
		return o.Refund(actor, reason, s.Now())
	})
}

// RecordPayment stores a gateway outcome for a prepaid order.
func (s *Orchestrator) RecordPayment(ctx context.Context, orderID string, status orders.PaymentStatus) (*orders.Order, error) {
	return s.mutateOrNil(ctx, orderID, func(o *orders.Order) error {
		return o.RecordPayment(status, s.Now())
	})
}

// ReleaseClaim returns a stalled order to its claim pool.
func (s *Orchestrator) ReleaseClaim(ctx context.Context, orderID, actor, reason string) (*orders.Order, error) {
	return s.mutateOrNil(ctx, orderID, func(o *orders.Order) error {
		return o.ReleaseClaim(actor, reason, s.Now())
	})
}

func (s *Orchestrator) mutateOrNil(ctx context.Context, id string, fn func(*orders.Order) error) (*orders.Order, error) {
	o, err := s.mutate(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Orchestrator) Get(ctx context.Context, id string) (*orders.Order, error) {
	return s.Orders.Get(ctx, id)
}

func (s *Orchestrator) GetByNumber(ctx context.Context, number string) (*orders.Order, error) {
	return s.Orders.GetByNumber(ctx, number)
}

func (s *Orchestrator) PickerPool(ctx context.Context, limit int) ([]*orders.Order, error) {
	return s.Orders.ListPickerPool(ctx, poolLimit(limit))
}

func (s *Orchestrator) RiderPool(ctx context.Context, limit int) ([]*orders.Order, error) {
	return s.Orders.ListRiderPool(ctx, poolLimit(limit))
}

func (s *Orchestrator) ByCustomer(ctx context.Context, customerID string, limit int) ([]*orders.Order, error) {
	return s.Orders.ListByCustomer(ctx, customerID, poolLimit(limit))
}

func poolLimit(n int) int {
	if n <= 0 || n > 500 {
		return defaultPoolLimit
	}
	return n
}

func (s *Orchestrator) checkLow(productID string, c inventory.Counters) {
	if e, ok := lowStockEvent(productID, c); ok {
		s.publish(e)
	}
}

func pickedBatches(in []ledger.StockEntry) []orders.PickedBatch {
	out := make([]orders.PickedBatch, 0, len(in))
	for _, e := range in {
		out = append(out, orders.PickedBatch{BatchNumber: e.BatchNumber, Quantity: e.Quantity, ExpiryDate: e.ExpiryDate})
	}
	return out
}

// stockEntries rebuilds the bin entries of a picked item. Items without batch
// records come back as one unbatched entry.
func stockEntries(it orders.Item) []ledger.StockEntry {
	if len(it.Batches) == 0 {
		return []ledger.StockEntry{{ProductID: it.ProductID, Quantity: it.Quantity}}
	}
	out := make([]ledger.StockEntry, 0, len(it.Batches))
	for _, b := range it.Batches {
		out = append(out, ledger.StockEntry{
			ProductID:   it.ProductID,
			Quantity:    b.Quantity,
			BatchNumber: b.BatchNumber,
			ExpiryDate:  b.ExpiryDate,
		})
	}
	return out
}
