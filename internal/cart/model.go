package cart

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusConverted Status = "converted"
	StatusExpired   Status = "expired"
	StatusAbandoned Status = "abandoned"
)

func (s Status) String() string {
	return string(s)
}

const (
	MaxQuantityPerItem = 10
	Expiration         = 72 * time.Hour
)

// Pricing configuration. Amounts are in minor-less currency units to
// match the catalog.
var (
	TaxRate               = decimal.RequireFromString("0.18")
	FreeShippingThreshold = decimal.NewFromInt(50000)
	ShippingCost          = decimal.NewFromInt(5000)
)

// Owner identifies who a cart belongs to: a registered user or an
// anonymous session, never both.
type Owner struct {
	UserID    *uuid.UUID
	SessionID *string
}

func (o Owner) Valid() bool {
	return (o.UserID != nil) != (o.SessionID != nil)
}

type Cart struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	UserID         *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	SessionID      *string         `json:"session_id,omitempty" db:"session_id"`
	Status         Status          `json:"status" db:"status"`
	Subtotal       decimal.Decimal `json:"subtotal" db:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount" db:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	Total          decimal.Decimal `json:"total" db:"total"`
	PromoCode      *string         `json:"promo_code,omitempty" db:"promo_code"`
	ExpiresAt      time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`

	Items []CartItem `json:"items" db:"-"`
}

func (c *Cart) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

func (c *Cart) ItemCount() int {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

type CartItem struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	CartID      uuid.UUID       `json:"cart_id" db:"cart_id"`
	ProductID   uuid.UUID       `json:"product_id" db:"product_id"`
	VariationID *uuid.UUID      `json:"variation_id,omitempty" db:"variation_id"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// ComputeTotals derives cart totals from the current item set. The same
// function backs checkout, so what the customer sees in the cart is
// exactly what the order charges.
func ComputeTotals(items []CartItem, discount decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}

	tax := subtotal.Mul(TaxRate).Round(2)

	shipping := decimal.Zero
	if subtotal.IsPositive() && subtotal.LessThan(FreeShippingThreshold) {
		shipping = ShippingCost
	}

	total := subtotal.Add(tax).Add(shipping).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    total,
	}
}
