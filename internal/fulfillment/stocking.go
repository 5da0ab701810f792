package fulfillment

import (
	"context"
	"log/slog"
	"strconv"
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

// Stocking covers admin stock movements. Bins change first for receipts and
// counters change first for write-offs, so a failed second step only ever has to
// undo a change the system already owns.
type Stocking struct {
	Inventory *inventory.Service
	Ledger    *ledger.Service
	Events    events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func NewStocking(inv *inventory.Service, led *ledger.Service, pub events.Publisher, logger *slog.Logger) *Stocking {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Stocking{Inventory: inv, Ledger: led, Events: pub, Logger: logger}
}

type NewProduct struct {
	ID            string
	SKU           string
	Name          string
	PriceCents    int
	MRPCents      int
	MinStockLevel int
}

// CreateProduct registers a product with empty counters; stock arrives through Receive.
func (s *Stocking) CreateProduct(ctx context.Context, in NewProduct) (*inventory.Product, error) {
	if strings.TrimSpace(in.SKU) == "" {
		return nil, apperr.Validation("sku", "sku is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validation("name", "name is required")
	}
	if in.PriceCents < 0 {
		return nil, apperr.Validation("price.selling", "price cannot be negative")
	}
	if in.MinStockLevel < 0 {
		return nil, apperr.Validation("inventory.minStockLevel", "minimum stock level cannot be negative")
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	p := &inventory.Product{
		ID:        id,
		SKU:       in.SKU,
		Name:      in.Name,
		Price:     inventory.Price{SellingCents: in.PriceCents, MRPCents: in.MRPCents},
		Inventory: inventory.Counters{MinStockLevel: in.MinStockLevel},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Inventory.Store.Create(ctx, p); err != nil {
		return nil, err
	}
	s.Logger.Info("product registered", "productId", p.ID, "sku", p.SKU)
	return p, nil
}

func (s *Stocking) CreateBin(ctx context.Context, in ledger.NewBin) (*ledger.Bin, error) {
	return s.Ledger.CreateBin(ctx, in)
}

// SetBinActive closes a bin to incoming stock, or reopens it.
func (s *Stocking) SetBinActive(ctx context.Context, code string, active bool) (*ledger.Bin, error) {
	return s.Ledger.SetActive(ctx, code, active)
}

type ReceiveRequest struct {
	BinCode   string
	ProductID string
	Quantity  int
	Batch     string
	Expiry    *time.Time
	Actor     string
}

type StockResult struct {
	Bin      *ledger.Bin        `json:"bin"`
	Counters inventory.Counters `json:"inventory"`
}

// Receive books incoming units into a bin and makes them sellable.
func (s *Stocking) Receive(ctx context.Context, req ReceiveRequest) (StockResult, error) {
	if _, err := s.Inventory.Get(ctx, req.ProductID); err != nil {
		return StockResult{}, err
	}
	bin, err := s.Ledger.AddStock(ctx, ledger.AddRequest{
		BinCode:   req.BinCode,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Batch:     req.Batch,
		Expiry:    req.Expiry,
		Actor:     req.Actor,
		Reason:    "stock receipt",
	})
	if err != nil {
		return StockResult{}, err
	}
	c, err := s.Inventory.Receive(ctx, req.ProductID, req.Quantity)
	if err != nil {
		cctx := context.WithoutCancel(ctx)
		if _, rerr := s.Ledger.RemoveStock(cctx, ledger.RemoveRequest{
			BinCode:   req.BinCode,
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
			Actor:     req.Actor,
			Reason:    "receipt rolled back",
		}); rerr != nil {
			s.Metrics.CompensationFailed("receipt")
			s.Logger.Error("receipt rollback failed", "binCode", req.BinCode, "productId", req.ProductID, "error", rerr)
		}
		return StockResult{}, err
	}
	s.Logger.Info("stock received", "binCode", req.BinCode, "productId", req.ProductID,
		"qty", req.Quantity, "totalStock", c.TotalStock)
	return StockResult{Bin: bin, Counters: c}, nil
}

type WriteOffRequest struct {
	BinCode   string
	ProductID string
	Quantity  int
	Actor     string
	Reason    string
}

// WriteOff removes damaged or expired units that are not reserved.
func (s *Stocking) WriteOff(ctx context.Context, req WriteOffRequest) (StockResult, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return StockResult{}, apperr.Validation("reason", "write-off reason is required")
	}
	c, err := s.Inventory.WriteOff(ctx, req.ProductID, req.Quantity)
	if err != nil {
		return StockResult{}, err
	}
	bin, err := s.Ledger.RemoveStock(ctx, ledger.RemoveRequest{
		BinCode:   req.BinCode,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Actor:     req.Actor,
		Reason:    req.Reason,
	})
	if err != nil {
		if _, rerr := s.Inventory.Receive(context.WithoutCancel(ctx), req.ProductID, req.Quantity); rerr != nil {
			s.Metrics.CompensationFailed("write_off")
			s.Logger.Error("write-off rollback failed", "productId", req.ProductID, "error", rerr)
		}
		return StockResult{}, err
	}
	s.Logger.Info("stock written off", "binCode", req.BinCode, "productId", req.ProductID,
		"qty", req.Quantity, "reason", req.Reason)
	if e, ok := lowStockEvent(req.ProductID, c); ok && s.Events != nil {
		s.Events.Publish(e)
	}
	return StockResult{Bin: bin, Counters: c}, nil
}

// Transfer moves units between bins. Product counters do not change.
func (s *Stocking) Transfer(ctx context.Context, req ledger.TransferRequest) (from, to *ledger.Bin, err error) {
	return s.Ledger.Transfer(ctx, req)
}

// Reconcile compares a product's counters with what its bins hold.
func (s *Stocking) Reconcile(ctx context.Context, productID string, correct bool) (inventory.ReconcileReport, error) {
	rep, err := s.Inventory.Reconcile(ctx, productID, s.Ledger, correct)
	if err != nil {
		return rep, err
	}
	if rep.Drift != 0 && !rep.Corrected {
		s.Logger.Warn("inventory drift detected", "productId", productID, "drift", rep.Drift)
	}
	return rep, nil
}

func lowStockEvent(productID string, c inventory.Counters) (events.Event, bool) {
	if !c.Low() {
		return events.Event{}, false
	}
	return events.Event{
		ProductID: productID,
		Type:      orders.EventLowStock,
		Message: "product " + productID + " is low on stock: " + strconv.Itoa(c.AvailableStock) +
			" available, minimum " + strconv.Itoa(c.MinStockLevel),
		RecipientHint: []string{orders.RecipientAdmin},
		Priority:      events.PriorityNormal,
	}, true
}
