package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of a movement record.
type Action string

const (
	ActionStockIn  Action = "stock_in"
	ActionStockOut Action = "stock_out"
	ActionTransfer Action = "transfer"
	ActionPick     Action = "pick"
)

var (
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrCapacityExceeded = errors.New("bin capacity exceeded")
	ErrInsufficient     = errors.New("insufficient quantity in bin")
	ErrBinInactive      = errors.New("bin is inactive")
)

type Location struct {
	Zone  string `json:"zone"`
	Aisle string `json:"aisle"`
	Shelf string `json:"shelf"`
	Level string `json:"level"`
}

type Capacity struct {
	MaxItems int `json:"maxItems"`
}

// StockEntry is keyed by (ProductID, BatchNumber).
type StockEntry struct {
	ProductID   string     `json:"productId"`
	Quantity    int        `json:"quantity"`
	BatchNumber string     `json:"batchNumber,omitempty"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
}

type Movement struct {
	ID               string    `json:"id"`
	Action           Action    `json:"action"`
	ProductID        string    `json:"productId"`
	Quantity         int       `json:"quantity"`
	PreviousQuantity int       `json:"previousQuantity"`
	NewQuantity      int       `json:"newQuantity"`
	PerformedBy      string    `json:"performedBy"`
	Timestamp        time.Time `json:"timestamp"`
	OrderID          string    `json:"orderId,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	Counterpart      string    `json:"counterpartBin,omitempty"`
	// Batches lists the batches a removal drew from.
	Batches []StockEntry `json:"batches,omitempty"`
}

type Bin struct {
	BinCode         string       `json:"binCode"`
	Location        Location     `json:"location"`
	Capacity        Capacity     `json:"capacity"`
	CurrentStock    []StockEntry `json:"currentStock"`
	MovementHistory []Movement   `json:"movementHistory"`
	IsActive        bool         `json:"isActive"`
	Version         int64        `json:"version"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// TotalItems is the sum of every entry's quantity.
func (b *Bin) TotalItems() int {
	n := 0
	for _, e := range b.CurrentStock {
		n += e.Quantity
	}
	return n
}

// ProductQuantity sums a product over all of its batches.
func (b *Bin) ProductQuantity(productID string) int {
	n := 0
	for _, e := range b.CurrentStock {
		if e.ProductID == productID {
			n += e.Quantity
		}
	}
	return n
}

// Clone deep-copies the bin so a mutation attempt never aliases stored state.
func (b *Bin) Clone() *Bin {
	cp := *b
	cp.CurrentStock = make([]StockEntry, len(b.CurrentStock))
	copy(cp.CurrentStock, b.CurrentStock)
	cp.MovementHistory = make([]Movement, len(b.MovementHistory))
	copy(cp.MovementHistory, b.MovementHistory)
	return &cp
}

// AddStock merges quantity into the (product, batch) entry and appends one movement.
func (b *Bin) AddStock(productID string, qty int, batch string, expiry *time.Time, actor string, action Action, orderID, reason string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if !b.IsActive {
		return ErrBinInactive
	}
	if b.TotalItems()+qty > b.Capacity.MaxItems {
		return ErrCapacityExceeded
	}
	prev := b.ProductQuantity(productID)
	b.merge(productID, qty, batch, expiry)
	b.record(action, productID, qty, prev, actor, orderID, reason)
	return nil
}

// RemoveStock takes quantity of a product out of the bin, earliest-expiring batch
// first. Entries that reach zero are dropped.
func (b *Bin) RemoveStock(productID string, qty int, actor string, action Action, orderID, reason string) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	prev := b.ProductQuantity(productID)
	if prev < qty {
		return ErrInsufficient
	}
	var drawn []StockEntry
	remaining := qty
	for remaining > 0 {
		idx := b.nextBatch(productID)
		e := b.CurrentStock[idx]
		take := e.Quantity
		if take > remaining {
			take = remaining
		}
		drawn = append(drawn, StockEntry{ProductID: productID, Quantity: take, BatchNumber: e.BatchNumber, ExpiryDate: e.ExpiryDate})
		b.CurrentStock[idx].Quantity -= take
		remaining -= take
		if b.CurrentStock[idx].Quantity == 0 {
			b.CurrentStock = append(b.CurrentStock[:idx], b.CurrentStock[idx+1:]...)
		}
	}
	b.record(action, productID, qty, prev, actor, orderID, reason)
	b.LastMovement().Batches = drawn
	return nil
}

// ReturnBatches puts previously drawn batches back as a single stock_in movement.
func (b *Bin) ReturnBatches(productID string, batches []StockEntry, actor, orderID, reason string) error {
	return b.addBatches(productID, batches, actor, ActionStockIn, orderID, reason)
}

func (b *Bin) addBatches(productID string, batches []StockEntry, actor string, action Action, orderID, reason string) error {
	qty := 0
	for _, e := range batches {
		if e.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		qty += e.Quantity
	}
	if qty == 0 {
		return ErrInvalidQuantity
	}
	if b.TotalItems()+qty > b.Capacity.MaxItems {
		return ErrCapacityExceeded
	}
	prev := b.ProductQuantity(productID)
	for _, e := range batches {
		b.merge(productID, e.Quantity, e.BatchNumber, e.ExpiryDate)
	}
	b.record(action, productID, qty, prev, actor, orderID, reason)
	return nil
}

// nextBatch picks the entry to draw from: earliest expiry, undated batches last,
// insertion order on ties. Callers guarantee the product is present.
func (b *Bin) nextBatch(productID string) int {
	best := -1
	for i, e := range b.CurrentStock {
		if e.ProductID != productID || e.Quantity == 0 {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		cur := b.CurrentStock[best].ExpiryDate
		if e.ExpiryDate != nil && (cur == nil || e.ExpiryDate.Before(*cur)) {
			best = i
		}
	}
	return best
}

func (b *Bin) merge(productID string, qty int, batch string, expiry *time.Time) {
	for i := range b.CurrentStock {
		if b.CurrentStock[i].ProductID == productID && b.CurrentStock[i].BatchNumber == batch {
			b.CurrentStock[i].Quantity += qty
			if expiry != nil {
				b.CurrentStock[i].ExpiryDate = expiry
			}
			return
		}
	}
	b.CurrentStock = append(b.CurrentStock, StockEntry{
		ProductID:   productID,
		Quantity:    qty,
		BatchNumber: batch,
		ExpiryDate:  expiry,
	})
}

func (b *Bin) record(action Action, productID string, qty, prev int, actor, orderID, reason string) {
	now := time.Now().UTC()
	b.MovementHistory = append(b.MovementHistory, Movement{
		ID:               uuid.NewString(),
		Action:           action,
		ProductID:        productID,
		Quantity:         qty,
		PreviousQuantity: prev,
		NewQuantity:      b.ProductQuantity(productID),
		PerformedBy:      actor,
		Timestamp:        now,
		OrderID:          orderID,
		Reason:           reason,
	})
	b.UpdatedAt = now
}

// LastMovement is the movement recorded by the most recent change.
func (b *Bin) LastMovement() *Movement {
	return &b.MovementHistory[len(b.MovementHistory)-1]
}
