package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/grocery-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/grocery-fulfillment/internal/ledger"
	"github.com/ariefcatur/grocery-fulfillment/internal/logging"
)

// StockHandler serves bin provisioning, stock movements and product inventory.
type StockHandler struct {
	Stock  *fulfillment.Stocking
	Logger *slog.Logger
}

func NewStockHandler(stock *fulfillment.Stocking, logger *slog.Logger) *StockHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &StockHandler{Stock: stock, Logger: logger}
}

func (h *StockHandler) Register(r chi.Router) {
	r.Post("/bins", h.createBin)
	r.Post("/bins/transfer", h.transfer)
	r.Get("/bins/{code}", h.getBin)
	r.Post("/bins/{code}/stock", h.receive)
	r.Post("/bins/{code}/writeoff", h.writeOff)
	r.Post("/bins/{code}/active", h.setActive)

	r.Post("/products", h.createProduct)
	r.Get("/products/{id}/inventory", h.inventory)
	r.Post("/products/{id}/reconcile", h.reconcile)
}

type createBinReq struct {
	BinCode  string          `json:"binCode" validate:"required"`
	Location ledger.Location `json:"location"`
	MaxItems int             `json:"maxItems" validate:"required,gt=0"`
}

func (h *StockHandler) createBin(w http.ResponseWriter, r *http.Request) {
	var req createBinReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	b, err := h.Stock.CreateBin(r.Context(), ledger.NewBin{BinCode: req.BinCode, Location: req.Location, MaxItems: req.MaxItems})
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *StockHandler) getBin(w http.ResponseWriter, r *http.Request) {
	b, err := h.Stock.Ledger.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type setActiveReq struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *StockHandler) setActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	b, err := h.Stock.SetBinActive(r.Context(), chi.URLParam(r, "code"), *req.Active)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type receiveReq struct {
	ProductID   string     `json:"productId" validate:"required"`
	Quantity    int        `json:"quantity" validate:"required,gt=0"`
	BatchNumber string     `json:"batchNumber"`
	ExpiryDate  *time.Time `json:"expiryDate"`
}

func (h *StockHandler) receive(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var req receiveReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	res, err := h.Stock.Receive(r.Context(), fulfillment.ReceiveRequest{
		BinCode:   chi.URLParam(r, "code"),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Batch:     req.BatchNumber,
		Expiry:    req.ExpiryDate,
		Actor:     who,
	})
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type writeOffReq struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"required"`
}

func (h *StockHandler) writeOff(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var req writeOffReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	res, err := h.Stock.WriteOff(r.Context(), fulfillment.WriteOffRequest{
		BinCode:   chi.URLParam(r, "code"),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Actor:     who,
		Reason:    req.Reason,
	})
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type transferReq struct {
	FromBin   string `json:"fromBin" validate:"required"`
	ToBin     string `json:"toBin" validate:"required"`
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	Reason    string `json:"reason"`
}

func (h *StockHandler) transfer(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	var req transferReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	from, to, err := h.Stock.Transfer(r.Context(), ledger.TransferRequest{
		FromBin:   req.FromBin,
		ToBin:     req.ToBin,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Actor:     who,
		Reason:    req.Reason,
	})
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to})
}

type priceDTO struct {
	Selling int `json:"selling" validate:"gte=0"`
	MRP     int `json:"mrp" validate:"gte=0"`
}

type createProductReq struct {
	ID            string   `json:"id"`
	SKU           string   `json:"sku" validate:"required"`
	Name          string   `json:"name" validate:"required"`
	Price         priceDTO `json:"price"`
	MinStockLevel int      `json:"minStockLevel" validate:"gte=0"`
}

func (h *StockHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	p, err := h.Stock.CreateProduct(r.Context(), fulfillment.NewProduct{
		ID:            req.ID,
		SKU:           req.SKU,
		Name:          req.Name,
		PriceCents:    req.Price.Selling,
		MRPCents:      req.Price.MRP,
		MinStockLevel: req.MinStockLevel,
	})
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *StockHandler) inventory(w http.ResponseWriter, r *http.Request) {
	p, err := h.Stock.Inventory.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"productId": p.ID, "sku": p.SKU, "inventory": p.Inventory})
}

type reconcileReq struct {
	Correct bool `json:"correct"`
}

func (h *StockHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	rep, err := h.Stock.Reconcile(r.Context(), chi.URLParam(r, "id"), req.Correct)
	if err != nil {
		writeError(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
