package orders

import (
	"time"
)

type Address struct {
	Label      string  `json:"label,omitempty"`
	Line1      string  `json:"line1"`
	Line2      string  `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      string  `json:"state,omitempty"`
	PostalCode string  `json:"postalCode"`
	Phone      string  `json:"phone,omitempty"`
	Lat        float64 `json:"lat,omitempty"`
	Lng        float64 `json:"lng,omitempty"`
}

// Item is one order line. Product, quantity and price are fixed at placement;
// only the picking fields change afterwards.
type Item struct {
	ProductID      string        `json:"product"`
	SKU            string        `json:"sku,omitempty"`
	Name           string        `json:"name,omitempty"`
	Quantity       int           `json:"quantity"`
	PriceCents     int           `json:"price"`
	PickerAssigned string        `json:"pickerAssigned,omitempty"`
	PickingStatus  PickingStatus `json:"pickingStatus"`
	BinLocation    string        `json:"binLocation,omitempty"`
	PickedAt       *time.Time    `json:"pickedAt,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	Batches        []PickedBatch `json:"batches,omitempty"`
}

// PickedBatch records which bin batch a picked unit came from, so a cancelled
// order can put it back unchanged.
type PickedBatch struct {
	BatchNumber string     `json:"batchNumber,omitempty"`
	Quantity    int        `json:"quantity"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
}

type Pricing struct {
	SubtotalCents    int `json:"subtotal"`
	TaxCents         int `json:"tax"`
	DeliveryFeeCents int `json:"deliveryFee"`
	DiscountCents    int `json:"discount"`
	TotalCents       int `json:"total"`
}

type TimelineEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes"`
	UpdatedBy string    `json:"updatedBy"`
}

type Order struct {
	ID                  string          `json:"id"`
	OrderNumber         string          `json:"orderNumber"`
	CustomerID          string          `json:"customer"`
	Items               []Item          `json:"items"`
	Status              Status          `json:"orderStatus"`
	PaymentMethod       PaymentMethod   `json:"paymentMethod"`
	PaymentStatus       PaymentStatus   `json:"paymentStatus"`
	DeliveryAddress     Address         `json:"deliveryAddress"`
	Pricing             Pricing         `json:"pricing"`
	Picker              string          `json:"picker,omitempty"`
	Rider               string          `json:"rider,omitempty"`
	Timeline            []TimelineEntry `json:"timeline"`
	DeliveryOTP         string          `json:"-"`
	CustomerNotes       string          `json:"customerNotes,omitempty"`
	SpecialInstructions string          `json:"specialInstructions,omitempty"`
	CancellationReason  string          `json:"cancellationReason,omitempty"`
	DeliveredAt         *time.Time      `json:"deliveredAt,omitempty"`
	Version             int64           `json:"version"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// Clone deep-copies the order.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = make([]Item, len(o.Items))
	for i, it := range o.Items {
		if it.PickedAt != nil {
			t := *it.PickedAt
			it.PickedAt = &t
		}
		if it.Batches != nil {
			it.Batches = append([]PickedBatch(nil), it.Batches...)
		}
		cp.Items[i] = it
	}
	cp.Timeline = make([]TimelineEntry, len(o.Timeline))
	copy(cp.Timeline, o.Timeline)
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		cp.DeliveredAt = &t
	}
	return &cp
}

func (o *Order) IsCOD() bool { return o.PaymentMethod == PaymentCOD }

// Item returns a pointer into Items or nil when idx is out of range.
func (o *Order) Item(idx int) *Item {
	if idx < 0 || idx >= len(o.Items) {
		return nil
	}
	return &o.Items[idx]
}

func (o *Order) LastEntry() TimelineEntry {
	return o.Timeline[len(o.Timeline)-1]
}

// PickedCount counts items already physically picked.
func (o *Order) PickedCount() int {
	n := 0
	for _, it := range o.Items {
		if it.PickingStatus == PickPicked {
			n++
		}
	}
	return n
}
