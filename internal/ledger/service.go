package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/grocery-fulfillment/internal/apperr"
	"github.com/ariefcatur/grocery-fulfillment/internal/logging"
)

const defaultRetries = 8

// Service owns physical stock truth. Every operation re-reads the bin, applies
// the change to a copy and writes it back guarded by version, retrying on conflict,
// so quantity checks always run against the state being written.
type Service struct {
	Store   Store
	Logger  *slog.Logger
	Retries int
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{Store: store, Logger: logger, Retries: defaultRetries}
}

type NewBin struct {
	BinCode  string
	Location Location
	MaxItems int
}

type AddRequest struct {
	BinCode   string
	ProductID string
	Quantity  int
	Batch     string
	Expiry    *time.Time
	Actor     string
	OrderID   string
	Reason    string
}

type RemoveRequest struct {
	BinCode   string
	ProductID string
	Quantity  int
	Actor     string
	OrderID   string // set for picks; the movement is recorded as "pick"
	Reason    string
}

type TransferRequest struct {
	FromBin   string
	ToBin     string
	ProductID string
	Quantity  int
	Actor     string
	Reason    string
}

func (s *Service) CreateBin(ctx context.Context, in NewBin) (*Bin, error) {
	code := strings.TrimSpace(in.BinCode)
	if code == "" {
		return nil, apperr.Validation("binCode", "bin code is required")
	}
	if in.MaxItems <= 0 {
		return nil, apperr.Validation("capacity.maxItems", "capacity must be positive")
	}
	b := &Bin{
		BinCode:         code,
		Location:        in.Location,
		Capacity:        Capacity{MaxItems: in.MaxItems},
		CurrentStock:    []StockEntry{},
		MovementHistory: []Movement{},
		IsActive:        true,
	}
	if err := s.Store.Create(ctx, b); err != nil {
		return nil, err
	}
	s.Logger.Info("bin provisioned", "binCode", code, "maxItems", in.MaxItems)
	return b, nil
}

func (s *Service) Get(ctx context.Context, code string) (*Bin, error) {
	return s.Store.Get(ctx, code)
}

func (s *Service) ListByProduct(ctx context.Context, productID string) ([]*Bin, error) {
	return s.Store.ListByProduct(ctx, productID)
}

// SumProduct makes the ledger usable as the inventory reconcile source.
func (s *Service) SumProduct(ctx context.Context, productID string) (int, error) {
	return s.Store.SumProduct(ctx, productID)
}

func (s *Service) AddStock(ctx context.Context, req AddRequest) (*Bin, error) {
	if req.ProductID == "" {
		return nil, apperr.Validation("productId", "product is required")
	}
	return s.mutate(ctx, req.BinCode, func(b *Bin) error {
		err := b.AddStock(req.ProductID, req.Quantity, req.Batch, req.Expiry, req.Actor, ActionStockIn, req.OrderID, req.Reason)
		return s.translate(err, b, req.ProductID, req.Quantity)
	})
}

func (s *Service) RemoveStock(ctx context.Context, req RemoveRequest) (*Bin, error) {
	if req.ProductID == "" {
		return nil, apperr.Validation("productId", "product is required")
	}
	action := ActionStockOut
	if req.OrderID != "" {
		action = ActionPick
	}
	return s.mutate(ctx, req.BinCode, func(b *Bin) error {
		err := b.RemoveStock(req.ProductID, req.Quantity, req.Actor, action, req.OrderID, req.Reason)
		return s.translate(err, b, req.ProductID, req.Quantity)
	})
}

// Transfer moves stock between two bins. Both documents are committed together;
// when the destination cannot take the quantity nothing is written.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (from, to *Bin, err error) {
	if req.FromBin == req.ToBin {
		return nil, nil, apperr.Validation("toBin", "source and destination must differ")
	}
	if req.ProductID == "" {
		return nil, nil, apperr.Validation("productId", "product is required")
	}
	for attempt := 0; attempt < s.retries(); attempt++ {
		src, err := s.Store.Get(ctx, req.FromBin)
		if err != nil {
			return nil, nil, err
		}
		dst, err := s.Store.Get(ctx, req.ToBin)
		if err != nil {
			return nil, nil, err
		}
		if err := src.RemoveStock(req.ProductID, req.Quantity, req.Actor, ActionTransfer, "", req.Reason); err != nil {
			return nil, nil, s.translate(err, src, req.ProductID, req.Quantity)
		}
		out := src.LastMovement()
		out.Counterpart = dst.BinCode
		if !dst.IsActive {
			return nil, nil, s.translate(ErrBinInactive, dst, req.ProductID, req.Quantity)
		}
		if err := dst.addBatches(req.ProductID, out.Batches, req.Actor, ActionTransfer, "", req.Reason); err != nil {
			return nil, nil, s.translate(err, dst, req.ProductID, req.Quantity)
		}
		dst.LastMovement().Counterpart = src.BinCode
		err = s.Store.UpdatePair(ctx, src, dst)
		if errors.Is(err, apperr.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		s.Logger.Info("stock transferred", "from", src.BinCode, "to", dst.BinCode,
			"productId", req.ProductID, "qty", req.Quantity, "actor", req.Actor)
		return src, dst, nil
	}
	return nil, nil, apperr.Conflict("bins kept changing, transfer not applied")
}

type ReturnRequest struct {
	BinCode   string
	ProductID string
	Batches   []StockEntry
	Actor     string
	OrderID   string
	Reason    string
}

// Return puts units drawn by an earlier removal back into their bin, batch by batch,
// as one stock_in movement.
func (s *Service) Return(ctx context.Context, req ReturnRequest) (*Bin, error) {
	qty := 0
	for _, e := range req.Batches {
		qty += e.Quantity
	}
	return s.mutate(ctx, req.BinCode, func(b *Bin) error {
		err := b.ReturnBatches(req.ProductID, req.Batches, req.Actor, req.OrderID, req.Reason)
		return s.translate(err, b, req.ProductID, qty)
	})
}

// SetActive opens or closes a bin for put-away. Stock already in an inactive bin
// can still be picked or moved out.
func (s *Service) SetActive(ctx context.Context, code string, active bool) (*Bin, error) {
	b, err := s.mutate(ctx, code, func(b *Bin) error {
		b.IsActive = active
		b.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("bin availability changed", "binCode", code, "active", active)
	return b, nil
}

func (s *Service) mutate(ctx context.Context, code string, fn func(*Bin) error) (*Bin, error) {
	for attempt := 0; attempt < s.retries(); attempt++ {
		b, err := s.Store.Get(ctx, code)
		if err != nil {
			return nil, err
		}
		seen := len(b.MovementHistory)
		if err := fn(b); err != nil {
			return nil, err
		}
		err = s.Store.Update(ctx, b)
		if errors.Is(err, apperr.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(b.MovementHistory) > seen {
			m := b.LastMovement()
			s.Logger.Debug("bin movement", "binCode", code, "action", m.Action,
				"productId", m.ProductID, "qty", m.Quantity, "newQuantity", m.NewQuantity)
		}
		return b, nil
	}
	return nil, apperr.Conflict("bin kept changing, retry").WithDetail("binCode", code)
}

func (s *Service) retries() int {
	if s.Retries <= 0 {
		return defaultRetries
	}
	return s.Retries
}

func (s *Service) translate(err error, b *Bin, productID string, qty int) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidQuantity):
		return apperr.Validation("quantity", err.Error())
	case errors.Is(err, ErrInsufficient):
		return apperr.InsufficientStock(productID, qty, b.ProductQuantity(productID)).
			WithDetail("binCode", b.BinCode)
	case errors.Is(err, ErrCapacityExceeded):
		return apperr.Conflict(err.Error()).
			WithDetail("binCode", b.BinCode).
			WithDetail("maxItems", strconv.Itoa(b.Capacity.MaxItems)).
			WithDetail("currentItems", strconv.Itoa(b.TotalItems()))
	case errors.Is(err, ErrBinInactive):
		return apperr.Conflict(err.Error()).WithDetail("binCode", b.BinCode)
	}
	return err
}
