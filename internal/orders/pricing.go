package orders

// PricingPolicy holds the placement-time pricing knobs, all in integer cents.
type PricingPolicy struct {
	TaxRateBps                 int
	DeliveryFeeCents           int
	FreeDeliveryThresholdCents int
}

var DefaultPricing = PricingPolicy{TaxRateBps: 500, DeliveryFeeCents: 4000, FreeDeliveryThresholdCents: 50000}

// Quote prices the lines once; the result is frozen on the order.
func (p PricingPolicy) Quote(items []Item, discountCents int) Pricing {
	subtotal := 0
	for _, it := range items {
		subtotal += it.PriceCents * it.Quantity
	}
	if discountCents > subtotal {
		discountCents = subtotal
	}
	fee := p.DeliveryFeeCents
	if p.FreeDeliveryThresholdCents > 0 && subtotal >= p.FreeDeliveryThresholdCents {
		fee = 0
	}
	// round half up
	tax := (subtotal*p.TaxRateBps + 5000) / 10000
	return Pricing{
		SubtotalCents:    subtotal,
		TaxCents:         tax,
		DeliveryFeeCents: fee,
		DiscountCents:    discountCents,
		TotalCents:       subtotal - discountCents + tax + fee,
	}
}

func (p Pricing) Balanced() bool {
	return p.TotalCents == p.SubtotalCents-p.DiscountCents+p.TaxCents+p.DeliveryFeeCents
}
