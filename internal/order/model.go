package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusProcessing     Status = "processing"
	StatusShipped        Status = "shipped"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
	StatusOnHold         Status = "on_hold"
	StatusFailed         Status = "failed"
)

func (s Status) String() string {
	return string(s)
}

// allowedTransitions is the single source of truth for the order status
// state machine. CANCELLED and REFUNDED are terminal; FAILED keeps a
// retry path back to PENDING.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
		StatusFailed:    true,
		StatusOnHold:    true,
	},
	StatusConfirmed: {
		StatusProcessing: true,
		StatusCancelled:  true,
		StatusOnHold:     true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusCancelled: true,
		StatusOnHold:    true,
	},
	StatusShipped: {
		StatusOutForDelivery: true,
		StatusDelivered:      true,
	},
	StatusOutForDelivery: {
		StatusDelivered: true,
	},
	StatusDelivered: {
		StatusRefunded: true,
	},
	StatusOnHold: {
		StatusPending:    true,
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusFailed: {
		StatusPending: true,
	},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// CanTransition reports whether moving from one status to another is
// allowed by the state machine.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentProcessing        PaymentStatus = "processing"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentCancelled         PaymentStatus = "cancelled"
)

func (p PaymentStatus) String() string {
	return string(p)
}

var validPaymentStatuses = map[PaymentStatus]bool{
	PaymentPending:           true,
	PaymentProcessing:        true,
	PaymentPaid:              true,
	PaymentFailed:            true,
	PaymentRefunded:          true,
	PaymentPartiallyRefunded: true,
	PaymentCancelled:         true,
}

// CancellationWindow is how long a non-admin customer may cancel an
// order after placing it.
const CancellationWindow = 24 * time.Hour

type Order struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	OrderNumber        string          `json:"order_number" db:"order_number"`
	UserID             *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Status             Status          `json:"status" db:"status"`
	PaymentStatus      PaymentStatus   `json:"payment_status" db:"payment_status"`
	PaymentMethod      string          `json:"payment_method" db:"payment_method"`
	TransactionID      *string         `json:"transaction_id,omitempty" db:"transaction_id"`
	TotalAmount        decimal.Decimal `json:"total_amount" db:"total_amount"`
	ShippingCost       decimal.Decimal `json:"shipping_cost" db:"shipping_cost"`
	TaxAmount          decimal.Decimal `json:"tax_amount" db:"tax_amount"`
	DiscountAmount     decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	ShippingAddress    string          `json:"shipping_address" db:"shipping_address"`
	TrackingNumber     *string         `json:"tracking_number,omitempty" db:"tracking_number"`
	Carrier            *string         `json:"carrier,omitempty" db:"carrier"`
	EstimatedDelivery  *time.Time      `json:"estimated_delivery,omitempty" db:"estimated_delivery"`
	GuestName          *string         `json:"guest_name,omitempty" db:"guest_name"`
	GuestEmail         *string         `json:"guest_email,omitempty" db:"guest_email"`
	GuestPhone         *string         `json:"guest_phone,omitempty" db:"guest_phone"`
	GuestToken         *string         `json:"-" db:"guest_token"`
	Notes              *string         `json:"notes,omitempty" db:"notes"`
	AdminNotes         *string         `json:"admin_notes,omitempty" db:"admin_notes"`
	PromoCode          *string         `json:"promo_code,omitempty" db:"promo_code"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelledBy        *uuid.UUID      `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancellationReason *string         `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	ShippedAt          *time.Time      `json:"shipped_at,omitempty" db:"shipped_at"`
	DeliveredAt        *time.Time      `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`

	Items []OrderItem `json:"items" db:"-"`
}

// Subtotal is derived from the item snapshots, never from live product
// prices.
func (o *Order) Subtotal() decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return subtotal
}

func (o *Order) ItemCount() int {
	count := 0
	for _, item := range o.Items {
		count += item.Quantity
	}
	return count
}

func (o *Order) IsCancellable() bool {
	switch o.Status {
	case StatusPending, StatusConfirmed, StatusProcessing:
		return true
	}
	return false
}

func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentPaid
}

func (o *Order) IsGuest() bool {
	return o.UserID == nil
}

// OrderItem is an immutable snapshot of what was bought and at which
// price. It is never updated after the order transaction commits.
type OrderItem struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OrderID     uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID   uuid.UUID       `json:"product_id" db:"product_id"`
	VariationID *uuid.UUID      `json:"variation_id,omitempty" db:"variation_id"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
}

// StatusHistory is one append-only record of a status transition.
type StatusHistory struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	OrderID    uuid.UUID  `json:"order_id" db:"order_id"`
	FromStatus *Status    `json:"from_status,omitempty" db:"from_status"`
	ToStatus   Status     `json:"to_status" db:"to_status"`
	ChangedBy  *uuid.UUID `json:"changed_by,omitempty" db:"changed_by"`
	Notes      *string    `json:"notes,omitempty" db:"notes"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
