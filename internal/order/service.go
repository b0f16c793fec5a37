package order

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/online-store/internal/cart"
	"github.com/vasiliy-maslov/online-store/internal/catalog"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrWindowExpired        = errors.New("cancellation window has expired")
	ErrForbidden            = errors.New("order does not belong to the requester")
	ErrInvalidPaymentStatus = errors.New("unknown payment status")
)

// ValidationError carries the full list of checkout pre-check issues so
// the client can fix all of them at once.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "checkout validation failed: " + strings.Join(e.Issues, "; ")
}

// Actor identifies who is performing an operation. The auth layer is
// trusted to have resolved it.
type Actor struct {
	ID      *uuid.UUID
	IsAdmin bool
}

// Notifier is the fire-and-forget notification collaborator. Failures
// are logged by implementations and never reach the order transaction.
type Notifier interface {
	OrderCreated(ctx context.Context, o *Order)
	OrderStatusChanged(ctx context.Context, o *Order, from, to Status)
}

type CreateFromCartInput struct {
	ShippingAddress string  `json:"shipping_address"`
	PaymentMethod   string  `json:"payment_method"`
	Notes           *string `json:"notes,omitempty"`
}

type GuestItemInput struct {
	ProductID   uuid.UUID  `json:"product_id"`
	VariationID *uuid.UUID `json:"variation_id,omitempty"`
	Quantity    int        `json:"quantity"`
}

type GuestOrderInput struct {
	GuestName       string           `json:"guest_name"`
	GuestEmail      string           `json:"guest_email"`
	GuestPhone      string           `json:"guest_phone"`
	ShippingAddress string           `json:"shipping_address"`
	PaymentMethod   string           `json:"payment_method"`
	Items           []GuestItemInput `json:"items"`
}

type Service interface {
	CreateFromCart(ctx context.Context, userID uuid.UUID, input CreateFromCartInput) (*Order, error)
	CreateGuestOrder(ctx context.Context, input GuestOrderInput) (*Order, error)
	GetByID(ctx context.Context, orderID uuid.UUID, actor Actor) (*Order, error)
	GetGuestOrder(ctx context.Context, orderNumber, token string) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, f ListFilter) ([]Order, int, error)
	List(ctx context.Context, f ListFilter) ([]Order, int, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus Status, actor Actor, notes *string) (*Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, ps PaymentStatus, transactionID *string, actor Actor) (*Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, actor Actor, reason *string) (*Order, error)
	CancelGuestOrder(ctx context.Context, orderNumber, token string, reason *string) (*Order, error)
	AddTracking(ctx context.Context, orderID uuid.UUID, trackingNumber, carrier string, estimatedDelivery *time.Time, actor Actor) (*Order, error)
	History(ctx context.Context, orderID uuid.UUID, actor Actor) ([]StatusHistory, error)
}

type service struct {
	orderRepo   Repository
	cartSvc     cart.Service
	catalogRepo catalog.Repository
	notifier    Notifier
}

func NewService(orderRepo Repository, cartSvc cart.Service, catalogRepo catalog.Repository, notifier Notifier) Service {
	return &service{
		orderRepo:   orderRepo,
		cartSvc:     cartSvc,
		catalogRepo: catalogRepo,
		notifier:    notifier,
	}
}

// CreateFromCart converts the user's active cart into an order. Totals
// are computed with the cart's own algorithm so the order charges
// exactly what the cart displayed.
func (s *service) CreateFromCart(ctx context.Context, userID uuid.UUID, input CreateFromCartInput) (*Order, error) {
	if input.ShippingAddress == "" {
		return nil, errors.New("service: shipping address is required")
	}
	if input.PaymentMethod == "" {
		return nil, errors.New("service: payment method is required")
	}

	c, err := s.cartSvc.GetOrCreate(ctx, cart.Owner{UserID: &userID})
	if err != nil {
		return nil, fmt.Errorf("service: failed to load cart: %w", err)
	}
	if len(c.Items) == 0 {
		return nil, ErrEmptyCart
	}

	issues, err := s.cartSvc.ValidateForCheckout(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("service: checkout pre-check failed: %w", err)
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	totals := cart.ComputeTotals(c.Items, c.DiscountAmount)

	items := make([]OrderItem, 0, len(c.Items))
	for _, ci := range c.Items {
		items = append(items, OrderItem{
			ProductID:   ci.ProductID,
			VariationID: ci.VariationID,
			Quantity:    ci.Quantity,
			UnitPrice:   ci.UnitPrice,
		})
	}

	o := &Order{
		OrderNumber:     generateOrderNumber(),
		UserID:          &userID,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   input.PaymentMethod,
		TotalAmount:     totals.Total,
		ShippingCost:    totals.Shipping,
		TaxAmount:       totals.Tax,
		DiscountAmount:  totals.Discount,
		ShippingAddress: input.ShippingAddress,
		Notes:           input.Notes,
		PromoCode:       c.PromoCode,
		Items:           items,
	}

	if err := s.create(ctx, o, &c.ID); err != nil {
		return nil, err
	}

	log.Info().
		Stringer("order_id", o.ID).
		Str("order_number", o.OrderNumber).
		Stringer("user_id", userID).
		Msg("service: order created from cart")

	s.notifyCreated(ctx, o)
	return o, nil
}

// CreateGuestOrder validates the submitted items against the live
// catalog and creates an order with no user attached. The returned order
// carries a fresh guest token; it is shown to the guest exactly once.
func (s *service) CreateGuestOrder(ctx context.Context, input GuestOrderInput) (*Order, error) {
	if input.GuestName == "" || input.GuestEmail == "" {
		return nil, errors.New("service: guest name and email are required")
	}
	if input.ShippingAddress == "" {
		return nil, errors.New("service: shipping address is required")
	}
	if input.PaymentMethod == "" {
		return nil, errors.New("service: payment method is required")
	}
	if len(input.Items) == 0 {
		return nil, ErrEmptyCart
	}

	items := make([]OrderItem, 0, len(input.Items))
	pricing := make([]cart.CartItem, 0, len(input.Items))
	for _, in := range input.Items {
		if in.Quantity < 1 {
			return nil, fmt.Errorf("service: quantity for product %s must be at least 1", in.ProductID)
		}

		product, err := s.catalogRepo.GetProduct(ctx, in.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				return nil, catalog.ErrProductNotFound
			}
			return nil, fmt.Errorf("service: failed to load product %s: %w", in.ProductID, err)
		}
		if !product.IsActive {
			return nil, catalog.ErrProductNotFound
		}

		available := product.Stock
		unitPrice := product.Price
		if in.VariationID != nil {
			variation, err := s.catalogRepo.GetVariation(ctx, *in.VariationID, in.ProductID)
			if err != nil {
				if errors.Is(err, catalog.ErrVariationNotFound) {
					return nil, catalog.ErrVariationNotFound
				}
				return nil, fmt.Errorf("service: failed to load variation %s: %w", *in.VariationID, err)
			}
			if variation.Stock != nil {
				available = *variation.Stock
			}
			unitPrice = unitPrice.Add(variation.PriceDelta)
		}

		// Pre-check only; the reservation inside the transaction is
		// authoritative.
		if in.Quantity > available {
			return nil, fmt.Errorf("%w: '%s' has only %d available", cart.ErrInsufficientStock, product.Name, available)
		}

		items = append(items, OrderItem{
			ProductID:   in.ProductID,
			VariationID: in.VariationID,
			Quantity:    in.Quantity,
			UnitPrice:   unitPrice,
		})
		pricing = append(pricing, cart.CartItem{Quantity: in.Quantity, UnitPrice: unitPrice})
	}

	totals := cart.ComputeTotals(pricing, decimal.Zero)
	token := newGuestToken()

	o := &Order{
		OrderNumber:     generateOrderNumber(),
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   input.PaymentMethod,
		TotalAmount:     totals.Total,
		ShippingCost:    totals.Shipping,
		TaxAmount:       totals.Tax,
		DiscountAmount:  totals.Discount,
		ShippingAddress: input.ShippingAddress,
		GuestName:       &input.GuestName,
		GuestEmail:      &input.GuestEmail,
		GuestPhone:      &input.GuestPhone,
		GuestToken:      &token,
		Items:           items,
	}

	if err := s.create(ctx, o, nil); err != nil {
		return nil, err
	}

	log.Info().
		Stringer("order_id", o.ID).
		Str("order_number", o.OrderNumber).
		Msg("service: guest order created")

	s.notifyCreated(ctx, o)
	return o, nil
}

// create persists the order, regenerating the order number if it races
// another order onto the same number.
func (s *service) create(ctx context.Context, o *Order, cartID *uuid.UUID) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = s.orderRepo.Create(ctx, o, cartID)
		if err == nil {
			return nil
		}
		if !IsOrderNumberCollision(err) {
			return fmt.Errorf("service: failed to create order: %w", err)
		}
		o.OrderNumber = generateOrderNumber()
	}
	return fmt.Errorf("service: failed to create order after number collisions: %w", err)
}

func (s *service) GetByID(ctx context.Context, orderID uuid.UUID, actor Actor) (*Order, error) {
	o, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}

	if err := authorize(o, actor); err != nil {
		return nil, err
	}
	return o, nil
}

// GetGuestOrder looks an order up by number and guest token. The token
// is the only credential a guest has; email equality is not an access
// path.
func (s *service) GetGuestOrder(ctx context.Context, orderNumber, token string) (*Order, error) {
	o, err := s.orderRepo.GetByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}

	if !guestTokenMatches(o, token) {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, f ListFilter) ([]Order, int, error) {
	orders, total, err := s.orderRepo.ListByUser(ctx, userID, f)
	if err != nil {
		return nil, 0, fmt.Errorf("service: failed to list user orders: %w", err)
	}
	return orders, total, nil
}

func (s *service) List(ctx context.Context, f ListFilter) ([]Order, int, error) {
	orders, total, err := s.orderRepo.List(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("service: failed to list orders: %w", err)
	}
	return orders, total, nil
}

// UpdateStatus drives the state machine. A transition into CANCELLED is
// routed through the compensating cancellation path so stock is always
// restored with it.
func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus Status, actor Actor, notes *string) (*Order, error) {
	o, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order for status update: %w", err)
	}

	if !CanTransition(o.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, newStatus)
	}

	if newStatus == StatusCancelled {
		if err := s.orderRepo.Cancel(ctx, orderID, actor.ID, notes); err != nil {
			return nil, s.mapCancelError(err)
		}
	} else {
		err = s.orderRepo.UpdateStatus(ctx, orderID, o.Status, newStatus, actor.ID, notes)
		if err != nil {
			if errors.Is(err, ErrStatusConflict) {
				return nil, fmt.Errorf("%w: order moved away from %s concurrently", ErrInvalidTransition, o.Status)
			}
			if errors.Is(err, ErrOrderNotFound) {
				return nil, ErrOrderNotFound
			}
			return nil, fmt.Errorf("service: failed to update order status: %w", err)
		}
	}

	updated, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to reload order after status update: %w", err)
	}

	log.Info().
		Stringer("order_id", orderID).
		Stringer("old_status", o.Status).
		Stringer("new_status", updated.Status).
		Msg("service: order status updated")

	s.notifyStatusChanged(ctx, updated, o.Status, updated.Status)
	return updated, nil
}

// UpdatePaymentStatus records a payment state change. Payment reaching
// "paid" while the order is still PENDING confirms the order through the
// regular transition path.
func (s *service) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, ps PaymentStatus, transactionID *string, actor Actor) (*Order, error) {
	if !validPaymentStatuses[ps] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPaymentStatus, ps)
	}

	o, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order for payment update: %w", err)
	}

	if err := s.orderRepo.UpdatePayment(ctx, orderID, ps, transactionID); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to update payment status: %w", err)
	}

	if ps == PaymentPaid && o.Status == StatusPending {
		return s.UpdateStatus(ctx, orderID, StatusConfirmed, actor, nil)
	}

	updated, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to reload order after payment update: %w", err)
	}
	return updated, nil
}

// Cancel is the customer-facing cancellation: ownership is enforced, and
// non-admins are held to the cancellation window. Stock restoration is
// the exact inverse of the creation reservations.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, actor Actor, reason *string) (*Order, error) {
	o, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order for cancellation: %w", err)
	}

	if !actor.IsAdmin {
		if o.UserID == nil || actor.ID == nil || *o.UserID != *actor.ID {
			return nil, ErrForbidden
		}
		if time.Since(o.CreatedAt) > CancellationWindow {
			return nil, ErrWindowExpired
		}
	}

	if !o.IsCancellable() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCancellable, o.Status)
	}

	return s.finishCancel(ctx, o, actor.ID, reason)
}

// CancelGuestOrder cancels a guest order authenticated by its token.
// Guests are never admins, so the cancellation window always applies.
func (s *service) CancelGuestOrder(ctx context.Context, orderNumber, token string, reason *string) (*Order, error) {
	o, err := s.GetGuestOrder(ctx, orderNumber, token)
	if err != nil {
		return nil, err
	}

	if time.Since(o.CreatedAt) > CancellationWindow {
		return nil, ErrWindowExpired
	}
	if !o.IsCancellable() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCancellable, o.Status)
	}

	return s.finishCancel(ctx, o, nil, reason)
}

func (s *service) finishCancel(ctx context.Context, o *Order, cancelledBy *uuid.UUID, reason *string) (*Order, error) {
	if err := s.orderRepo.Cancel(ctx, o.ID, cancelledBy, reason); err != nil {
		return nil, s.mapCancelError(err)
	}

	updated, err := s.orderRepo.GetByID(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to reload order after cancellation: %w", err)
	}

	log.Info().
		Stringer("order_id", o.ID).
		Str("order_number", o.OrderNumber).
		Msg("service: order cancelled, stock restored")

	s.notifyStatusChanged(ctx, updated, o.Status, StatusCancelled)
	return updated, nil
}

func (s *service) mapCancelError(err error) error {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return ErrOrderNotFound
	case errors.Is(err, ErrNotCancellable):
		return err
	default:
		return fmt.Errorf("service: failed to cancel order: %w", err)
	}
}

// AddTracking records carrier information. An order sitting in
// PROCESSING moves to SHIPPED with it; earlier statuses keep their
// place in the state machine and must be advanced explicitly.
func (s *service) AddTracking(ctx context.Context, orderID uuid.UUID, trackingNumber, carrier string, estimatedDelivery *time.Time, actor Actor) (*Order, error) {
	if trackingNumber == "" || carrier == "" {
		return nil, errors.New("service: tracking number and carrier are required")
	}

	o, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order for tracking: %w", err)
	}

	if err := s.orderRepo.SetTracking(ctx, orderID, trackingNumber, carrier, estimatedDelivery); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to set tracking: %w", err)
	}

	if o.Status == StatusProcessing {
		return s.UpdateStatus(ctx, orderID, StatusShipped, actor, nil)
	}

	updated, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to reload order after tracking update: %w", err)
	}
	return updated, nil
}

func (s *service) History(ctx context.Context, orderID uuid.UUID, actor Actor) ([]StatusHistory, error) {
	o, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order for history: %w", err)
	}
	if err := authorize(o, actor); err != nil {
		return nil, err
	}

	history, err := s.orderRepo.History(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch order history: %w", err)
	}
	return history, nil
}

func authorize(o *Order, actor Actor) error {
	if actor.IsAdmin {
		return nil
	}
	if o.UserID == nil || actor.ID == nil || *o.UserID != *actor.ID {
		return ErrForbidden
	}
	return nil
}

func guestTokenMatches(o *Order, token string) bool {
	if o.GuestToken == nil || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*o.GuestToken), []byte(token)) == 1
}

func (s *service) notifyCreated(ctx context.Context, o *Order) {
	if s.notifier == nil {
		return
	}
	go s.notifier.OrderCreated(context.WithoutCancel(ctx), o)
}

func (s *service) notifyStatusChanged(ctx context.Context, o *Order, from, to Status) {
	if s.notifier == nil {
		return
	}
	go s.notifier.OrderStatusChanged(context.WithoutCancel(ctx), o, from, to)
}
