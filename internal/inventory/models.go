package inventory

import (
	"errors"
	"fmt"
	"time"
)

// Counters is the per-product reservation cache. TotalStock always equals
// AvailableStock + ReservedStock, and neither side goes negative.
type Counters struct {
	TotalStock     int `json:"totalStock"`
	AvailableStock int `json:"availableStock"`
	ReservedStock  int `json:"reservedStock"`
	MinStockLevel  int `json:"minStockLevel"`
}

func (c Counters) Consistent() bool {
	return c.TotalStock == c.AvailableStock+c.ReservedStock &&
		c.AvailableStock >= 0 && c.ReservedStock >= 0
}

func (c Counters) Low() bool { return c.AvailableStock <= c.MinStockLevel }

type Price struct {
	SellingCents int `json:"selling"`
	MRPCents     int `json:"mrp,omitempty"`
}

type Product struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Price     Price     `json:"price"`
	Inventory Counters  `json:"inventory"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Delta is one atomic counter change. Total must equal Available+Reserved so the
// invariant survives any sequence of applied deltas.
type Delta struct {
	Total     int
	Available int
	Reserved  int
}

func (d Delta) valid() bool { return d.Total == d.Available+d.Reserved }

func (c Counters) apply(d Delta) Counters {
	c.TotalStock += d.Total
	c.AvailableStock += d.Available
	c.ReservedStock += d.Reserved
	return c
}

// GuardError is returned by a Store when applying a delta would drive a counter negative.
type GuardError struct {
	ProductID string
	Current   Counters
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("counter guard failed for %s (available=%d reserved=%d)",
		e.ProductID, e.Current.AvailableStock, e.Current.ReservedStock)
}

var errInvalidDelta = errors.New("delta breaks total = available + reserved")

// Line is one product/quantity pair of a multi-item reservation.
type Line struct {
	ProductID string
	Quantity  int
}

// ReconcileReport describes drift between the counters and bin ledger truth.
type ReconcileReport struct {
	ProductID string    `json:"productId"`
	BinTotal  int       `json:"binTotal"`
	Before    Counters  `json:"before"`
	After     Counters  `json:"after"`
	Drift     int       `json:"drift"`
	Corrected bool      `json:"corrected"`
	CheckedAt time.Time `json:"checkedAt"`
}
