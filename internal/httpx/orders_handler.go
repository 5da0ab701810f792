package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/grocery-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/grocery-fulfillment/internal/logging"
	"github.com/ariefcatur/grocery-fulfillment/internal/orders"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type OrdersHandler struct {
	Svc         *fulfillment.Orchestrator
	Idempotency IdempotencyStore
	// Status is optional; without it status polls read the order itself.
	Status StatusCache
	Logger *slog.Logger
}

func NewOrdersHandler(svc *fulfillment.Orchestrator, idem IdempotencyStore, logger *slog.Logger) *OrdersHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &OrdersHandler{Svc: svc, Idempotency: idem, Logger: logger}
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Get("/orders/number/{number}", h.getByNumber)
	r.Get("/customers/{id}/orders", h.byCustomer)
	r.Get("/pools/picking", h.pickerPool)
	r.Get("/pools/delivery", h.riderPool)

	r.Post("/orders/{id}/claim", h.claim)
	r.Post("/orders/{id}/items/{idx}/pick", h.pick)
	r.Post("/orders/{id}/items/{idx}/unavailable", h.unavailable)
	r.Post("/orders/{id}/delivery/claim", h.claimDelivery)
	r.Post("/orders/{id}/delivery/pickup", h.pickup)
	r.Post("/orders/{id}/delivery/confirm", h.confirmDelivery)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/orders/{id}/refund", h.refund)
	r.Post("/orders/{id}/payment", h.payment)
	r.Post("/orders/{id}/release", h.release)
}

type addressDTO struct {
	Label      string  `json:"label"`
	Line1      string  `json:"line1" validate:"required"`
	Line2      string  `json:"line2"`
	City       string  `json:"city" validate:"required"`
	State      string  `json:"state"`
	PostalCode string  `json:"postalCode" validate:"required"`
	Phone      string  `json:"phone"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

type placeItemDTO struct {
	ProductID string `json:"product" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type placeOrderReq struct {
	CustomerID          string         `json:"customer"`
	Items               []placeItemDTO `json:"items" validate:"required,min=1,dive"`
	DeliveryAddress     addressDTO     `json:"deliveryAddress"`
	PaymentMethod       string         `json:"paymentMethod" validate:"required,oneof=cod card upi wallet"`
	CustomerNotes       string         `json:"customerNotes"`
	SpecialInstructions string         `json:"specialInstructions"`
}

func (q placeOrderReq) toRequest(customer string) fulfillment.PlacementRequest {
	lines := make([]fulfillment.PlacementLine, 0, len(q.Items))
	for _, it := range q.Items {
		lines = append(lines, fulfillment.PlacementLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	a := q.DeliveryAddress
	return fulfillment.PlacementRequest{
		CustomerID: customer,
		Items:      lines,
		DeliveryAddress: orders.Address{
			Label: a.Label, Line1: a.Line1, Line2: a.Line2, City: a.City, State: a.State,
			PostalCode: a.PostalCode, Phone: a.Phone, Lat: a.Lat, Lng: a.Lng,
		},
		PaymentMethod:       orders.PaymentMethod(q.PaymentMethod),
		CustomerNotes:       q.CustomerNotes,
		SpecialInstructions: q.SpecialInstructions,
	}
}

// placedOrder is the customer's own view. Only the response that created the order
// carries the OTP.
type placedOrder struct {
	*orders.Order
	DeliveryOTP string `json:"deliveryOTP,omitempty"`
	Idempotent  bool   `json:"idempotent"`
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	customer := req.CustomerID
	if customer == "" {
		customer = strings.TrimSpace(r.Header.Get(HeaderActor))
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	key := idempotencyScope(customer, r.Header.Get(HeaderIdempotencyKey))
	if key != "" && h.Idempotency != nil {
		if id, ok, err := h.Idempotency.Lookup(ctx, key); err != nil {
			h.Logger.Warn("idempotency lookup failed", "key", key, "error", err)
		} else if ok {
			h.replay(ctx, w, r, id)
			return
		}
	}

	o, err := h.Svc.PlaceOrder(ctx, req.toRequest(customer))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}

	if key != "" && h.Idempotency != nil {
		winner, err := h.Idempotency.Remember(ctx, key, o.ID)
		switch {
		case err != nil:
			h.Logger.Warn("idempotency key not stored", "key", key, "orderId", o.ID, "error", err)
		case winner != o.ID:
			// a concurrent request with the same key won; undo ours
			if _, cerr := h.Svc.Cancel(context.WithoutCancel(ctx), o.ID, customer, "duplicate submission"); cerr != nil {
				h.Logger.Error("duplicate order not cancelled", "orderId", o.ID, "error", cerr)
			}
			h.replay(ctx, w, r, winner)
			return
		}
	}
	writeJSON(w, http.StatusCreated, placedOrder{Order: o, DeliveryOTP: o.DeliveryOTP})
}

func (h *OrdersHandler) replay(ctx context.Context, w http.ResponseWriter, r *http.Request, orderID string) {
	o, err := h.Svc.Get(ctx, orderID)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, placedOrder{Order: o, Idempotent: true})
}

// idempotencyScope binds a client key to the customer so one customer's key never
// resolves to another customer's order.
func idempotencyScope(customer, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return customer + ":" + key
}

type statusView struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"orderStatus"`
	UpdatedAt time.Time `json:"updatedAt"`
	Cached    bool      `json:"cached"`
}

// getStatus serves pollers from the cache and falls back to the order store.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.Status != nil {
		cs, ok, err := h.Status.Get(r.Context(), id)
		if err != nil {
			h.Logger.Warn("status cache read failed", "orderId", id, "error", err)
		} else if ok {
			writeJSON(w, http.StatusOK, statusView{OrderID: id, Status: cs.Status, UpdatedAt: cs.UpdatedAt, Cached: true})
			return
		}
	}
	o, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if h.Status != nil {
		if err := h.Status.Put(r.Context(), o.ID, string(o.Status), o.UpdatedAt); err != nil {
			h.Logger.Warn("status cache write failed", "orderId", o.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, statusView{OrderID: o.ID, Status: string(o.Status), UpdatedAt: o.UpdatedAt})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, o, err)
}

func (h *OrdersHandler) getByNumber(w http.ResponseWriter, r *http.Request) {
	o, err := h.Svc.GetByNumber(r.Context(), chi.URLParam(r, "number"))
	h.respond(w, r, o, err)
}

func (h *OrdersHandler) byCustomer(w http.ResponseWriter, r *http.Request) {
	list, err := h.Svc.ByCustomer(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	h.respondList(w, r, list, err)
}

func (h *OrdersHandler) pickerPool(w http.ResponseWriter, r *http.Request) {
	list, err := h.Svc.PickerPool(r.Context(), queryLimit(r))
	h.respondList(w, r, list, err)
}

func (h *OrdersHandler) riderPool(w http.ResponseWriter, r *http.Request) {
	list, err := h.Svc.RiderPool(r.Context(), queryLimit(r))
	h.respondList(w, r, list, err)
}

func (h *OrdersHandler) claim(w http.ResponseWriter, r *http.Request) {
	picker, err := actor(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	o, err := h.Svc.ClaimOrder(r.Context(), chi.URLParam(r, "id"), picker)
	h.respond(w, r, o, err)
}

type pickReq struct {
	BinLocation string `json:"binLocation" validate:"required"`
	Notes       string `json:"notes"`
}

func (h *OrdersHandler) pick(w http.ResponseWriter, r *http.Request) {
	picker, err := actor(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	idx, err := itemIndex(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var req pickReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	o, bin, err := h.Svc.PickItem(r.Context(), fulfillment.PickRequest{
		OrderID:   chi.URLParam(r, "id"),
		ItemIndex: idx,
		Picker:    picker,
		BinCode:   req.BinLocation,
		Notes:     req.Notes,
	})
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o, "bin": bin})
}

type notesReq struct {
	Notes string `json:"notes"`
}

func (h *OrdersHandler) unavailable(w http.ResponseWriter, r *http.Request) {
	picker, err := actor(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	idx, err := itemIndex(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var req notesReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	o, err := h.Svc.MarkItemUnavailable(r.Context(), chi.URLParam(r, "id"), idx, picker, req.Notes)
	h.respond(w, r, o, err)
}

func (h *OrdersHandler) claimDelivery(w http.ResponseWriter, r *http.Request) {
	rider, err := actor(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	o, err := h.Svc.ClaimDelivery(r.Context(), chi.URLParam(r, "id"), rider)
	h.respond(w, r, o, err)
}

func (h *OrdersHandler) pickup(w http.ResponseWriter, r *http.Request) {
	rider, err := actor(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var req notesReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	o, err := h.Svc.ConfirmPickup(r.Context(), chi.URLParam(r, "id"), rider, req.Notes)
	h.respond(w, r, o, err)
}

type confirmDeliveryReq struct {
	OTP   string `json:"otp" validate:"omitempty,len=6,numeric"`
	Notes string `json:"notes"`
}

func (h *OrdersHandler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	rider, err := actor(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var req confirmDeliveryReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	o, err := h.Svc.ConfirmDelivery(r.Context(), chi.URLParam(r, "id"), rider, req.OTP, req.Notes)
	h.respond(w, r, o, err)
}

type reasonReq struct {
	Reason string `json:"reason"`
}

type cancelReq struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var req cancelReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	o, err := h.Svc.Cancel(r.Context(), chi.URLParam(r, "id"), who, req.Reason)
	h.respond(w, r, o, err)
}

func (h *OrdersHandler) refund(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var req reasonReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	o, err := h.Svc.Refund(r.Context(), chi.URLParam(r, "id"), who, req.Reason)
	h.respond(w, r, o, err)
}

type paymentReq struct {
	Status string `json:"status" validate:"required,oneof=paid failed"`
}

func (h *OrdersHandler) payment(w http.ResponseWriter, r *http.Request) {
	var req paymentReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	o, err := h.Svc.RecordPayment(r.Context(), chi.URLParam(r, "id"), orders.PaymentStatus(req.Status))
	h.respond(w, r, o, err)
}

func (h *OrdersHandler) release(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var req reasonReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	o, err := h.Svc.ReleaseClaim(r.Context(), chi.URLParam(r, "id"), who, req.Reason)
	h.respond(w, r, o, err)
}

func (h *OrdersHandler) respond(w http.ResponseWriter, r *http.Request, o *orders.Order, err error) {
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) respondList(w http.ResponseWriter, r *http.Request, list []*orders.Order, err error) {
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	if list == nil {
		list = []*orders.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list, "count": len(list)})
}
