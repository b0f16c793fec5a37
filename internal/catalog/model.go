package catalog

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// Product is the read model of the catalog. Stock on this struct is a
// snapshot; the only writers are the inventory package's reservation
// paths.
type Product struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	SKU       string          `json:"sku" db:"sku"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Stock     int             `json:"stock" db:"stock"`
	IsActive  bool            `json:"is_active" db:"is_active"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Variation is an optional product variant. Stock is nil when the
// variation does not track its own stock and falls back to the product.
type Variation struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	ProductID  uuid.UUID       `json:"product_id" db:"product_id"`
	Name       string          `json:"name" db:"name"`
	PriceDelta decimal.Decimal `json:"price_delta" db:"price_delta"`
	Stock      *int            `json:"stock,omitempty" db:"stock"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
