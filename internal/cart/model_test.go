package cart_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/online-store/internal/cart"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name         string
		items        []cart.CartItem
		discount     decimal.Decimal
		wantSubtotal string
		wantTax      string
		wantShipping string
		wantTotal    string
	}{
		{
			name:         "empty_cart_charges_nothing",
			items:        nil,
			discount:     decimal.Zero,
			wantSubtotal: "0",
			wantTax:      "0",
			wantShipping: "0",
			wantTotal:    "0",
		},
		{
			name: "below_free_shipping_threshold",
			items: []cart.CartItem{
				{Quantity: 2, UnitPrice: d("1000")},
			},
			discount:     decimal.Zero,
			wantSubtotal: "2000",
			wantTax:      "360",
			wantShipping: "5000",
			wantTotal:    "7360",
		},
		{
			name: "at_free_shipping_threshold",
			items: []cart.CartItem{
				{Quantity: 1, UnitPrice: d("50000")},
			},
			discount:     decimal.Zero,
			wantSubtotal: "50000",
			wantTax:      "9000",
			wantShipping: "0",
			wantTotal:    "59000",
		},
		{
			name: "just_under_free_shipping_threshold",
			items: []cart.CartItem{
				{Quantity: 1, UnitPrice: d("49999.99")},
			},
			discount:     decimal.Zero,
			wantSubtotal: "49999.99",
			wantTax:      "9000",
			wantShipping: "5000",
			wantTotal:    "63999.99",
		},
		{
			name: "tax_rounds_to_two_places",
			items: []cart.CartItem{
				{Quantity: 1, UnitPrice: d("33.33")},
			},
			discount:     decimal.Zero,
			wantSubtotal: "33.33",
			wantTax:      "6",
			wantShipping: "5000",
			wantTotal:    "5039.33",
		},
		{
			name: "discount_reduces_total",
			items: []cart.CartItem{
				{Quantity: 1, UnitPrice: d("1000")},
			},
			discount:     d("180"),
			wantSubtotal: "1000",
			wantTax:      "180",
			wantShipping: "5000",
			wantTotal:    "6000",
		},
		{
			name: "oversized_discount_clamps_to_zero",
			items: []cart.CartItem{
				{Quantity: 1, UnitPrice: d("100")},
			},
			discount:     d("99999"),
			wantSubtotal: "100",
			wantTax:      "18",
			wantShipping: "5000",
			wantTotal:    "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cart.ComputeTotals(tt.items, tt.discount)
			assert.True(t, got.Subtotal.Equal(d(tt.wantSubtotal)), "subtotal: got %s", got.Subtotal)
			assert.True(t, got.Tax.Equal(d(tt.wantTax)), "tax: got %s", got.Tax)
			assert.True(t, got.Shipping.Equal(d(tt.wantShipping)), "shipping: got %s", got.Shipping)
			assert.True(t, got.Total.Equal(d(tt.wantTotal)), "total: got %s", got.Total)
		})
	}
}

func TestComputeTotals_Deterministic(t *testing.T) {
	items := []cart.CartItem{
		{Quantity: 3, UnitPrice: d("19.99")},
		{Quantity: 1, UnitPrice: d("7.50")},
	}

	first := cart.ComputeTotals(items, d("5"))
	for i := 0; i < 10; i++ {
		again := cart.ComputeTotals(items, d("5"))
		assert.True(t, first.Total.Equal(again.Total))
	}
}

func TestOwner_Valid(t *testing.T) {
	userID := mustUUID(t)
	sessionID := "sess-1"

	assert.True(t, cart.Owner{UserID: &userID}.Valid())
	assert.True(t, cart.Owner{SessionID: &sessionID}.Valid())
	assert.False(t, cart.Owner{}.Valid())
	assert.False(t, cart.Owner{UserID: &userID, SessionID: &sessionID}.Valid())
}

func TestCart_IsExpired(t *testing.T) {
	now := time.Now().UTC()
	c := cart.Cart{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, c.IsExpired(now))
	assert.True(t, c.IsExpired(now.Add(2*time.Hour)))
}
