package inventory

import (
	"time"

	"github.com/gofrs/uuid"
)

// Ledger entry reasons. The ledger is the audit trail for every stock
// mutation, so the set of reasons is closed.
const (
	ReasonOrderPlaced      = "order_placed"
	ReasonOrderCancelled   = "order_cancelled"
	ReasonManualAdjustment = "manual_adjustment"
	ReasonRestock          = "restock"
)

// LedgerEntry is one append-only stock movement. Summing ChangeQuantity
// over a product's entries must always equal the difference between its
// current stock and the baseline it was seeded with.
type LedgerEntry struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ProductID      uuid.UUID  `json:"product_id" db:"product_id"`
	ChangeQuantity int        `json:"change_quantity" db:"change_quantity"`
	ResultingStock int        `json:"resulting_stock" db:"resulting_stock"`
	Reason         string     `json:"reason" db:"reason"`
	OrderID        *uuid.UUID `json:"order_id,omitempty" db:"order_id"`
	ActorID        *uuid.UUID `json:"actor_id,omitempty" db:"actor_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}
