package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		name     string
		items    []Item
		discount int
		want     Pricing
	}{
		{
			name:  "delivery fee below threshold",
			items: []Item{{PriceCents: 5500, Quantity: 3}},
			want:  Pricing{SubtotalCents: 16500, TaxCents: 825, DeliveryFeeCents: 4000, TotalCents: 21325},
		},
		{
			name:  "free delivery at threshold",
			items: []Item{{PriceCents: 25000, Quantity: 2}},
			want:  Pricing{SubtotalCents: 50000, TaxCents: 2500, TotalCents: 52500},
		},
		{
			name:  "tax rounds half up",
			items: []Item{{PriceCents: 10, Quantity: 1}},
			want:  Pricing{SubtotalCents: 10, TaxCents: 1, DeliveryFeeCents: 4000, TotalCents: 4011},
		},
		{
			name:     "discount capped at subtotal",
			items:    []Item{{PriceCents: 100, Quantity: 1}},
			discount: 500,
			want:     Pricing{SubtotalCents: 100, TaxCents: 5, DeliveryFeeCents: 4000, DiscountCents: 100, TotalCents: 4005},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultPricing.Quote(tt.items, tt.discount)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Balanced())
		})
	}
}

func TestOTP(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		otp, err := GenerateOTP()
		require.NoError(t, err)
		assert.Regexp(t, `^\d{6}$`, otp)
		seen[otp] = true
	}
	assert.Greater(t, len(seen), 1)

	assert.True(t, VerifyOTP("012345", "012345"))
	assert.False(t, VerifyOTP("012345", "012346"))
	assert.False(t, VerifyOTP("012345", "12345"))
	assert.False(t, VerifyOTP("", ""))
}

func TestOrderNumbers(t *testing.T) {
	day := time.Date(2026, 1, 9, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "ORD-260109-000042", FormatNumber(day, 42))

	seq := NewMemSequence()
	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	got := map[int64]bool{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := seq.Next(ctx, day)
			require.NoError(t, err)
			mu.Lock()
			got[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, got, 20)

	n, err := seq.Next(ctx, day.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "sequence restarts each day")
}
