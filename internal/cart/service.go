package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/online-store/internal/catalog"
)

var (
	ErrInvalidOwner      = errors.New("cart owner must be a user or a session, not both")
	ErrLimitExceeded     = fmt.Errorf("maximum quantity per item is %d", MaxQuantityPerItem)
	ErrInsufficientStock = errors.New("insufficient stock")
)

type AddItemInput struct {
	ProductID   uuid.UUID  `json:"product_id"`
	VariationID *uuid.UUID `json:"variation_id,omitempty"`
	Quantity    int        `json:"quantity"`
}

type Service interface {
	GetOrCreate(ctx context.Context, owner Owner) (*Cart, error)
	AddItem(ctx context.Context, owner Owner, input AddItemInput) (*CartItem, error)
	UpdateItemQuantity(ctx context.Context, owner Owner, itemID uuid.UUID, quantity int) (*CartItem, error)
	RemoveItem(ctx context.Context, owner Owner, itemID uuid.UUID) error
	Clear(ctx context.Context, owner Owner) error
	ValidateForCheckout(ctx context.Context, cartID uuid.UUID) ([]string, error)
	MergeSessionCart(ctx context.Context, userID uuid.UUID, sessionID string) (*Cart, error)
	ApplyPromoCode(ctx context.Context, owner Owner, code string) error
	CleanupExpired(ctx context.Context) (int64, error)
}

type service struct {
	cartRepo    Repository
	catalogRepo catalog.Repository
}

func NewService(cartRepo Repository, catalogRepo catalog.Repository) Service {
	return &service{cartRepo: cartRepo, catalogRepo: catalogRepo}
}

// GetOrCreate returns the owner's active cart, creating one if absent.
// An expired cart is demoted and replaced; any other access slides the
// expiration window forward.
func (s *service) GetOrCreate(ctx context.Context, owner Owner) (*Cart, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}

	now := time.Now().UTC()

	c, err := s.cartRepo.GetActive(ctx, owner)
	switch {
	case err == nil && c.IsExpired(now):
		if err := s.cartRepo.SetStatus(ctx, c.ID, StatusExpired); err != nil {
			return nil, fmt.Errorf("service: failed to expire cart %s: %w", c.ID, err)
		}
		log.Info().Stringer("cart_id", c.ID).Msg("service: active cart expired, creating a fresh one")
		c, err = s.createCart(ctx, owner, now)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, ErrCartNotFound):
		c, err = s.createCart(ctx, owner, now)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("service: failed to load active cart: %w", err)
	default:
		c.ExpiresAt = now.Add(Expiration)
		if err := s.cartRepo.RefreshExpiration(ctx, c.ID, c.ExpiresAt); err != nil {
			return nil, fmt.Errorf("service: failed to refresh cart %s expiration: %w", c.ID, err)
		}
	}

	items, err := s.cartRepo.GetItems(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load items for cart %s: %w", c.ID, err)
	}
	c.Items = items

	return c, nil
}

func (s *service) createCart(ctx context.Context, owner Owner, now time.Time) (*Cart, error) {
	c := &Cart{
		UserID:    owner.UserID,
		SessionID: owner.SessionID,
		Status:    StatusActive,
		ExpiresAt: now.Add(Expiration),
	}
	if err := s.cartRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("service: failed to create cart: %w", err)
	}
	log.Info().Stringer("cart_id", c.ID).Msg("service: cart created")
	return c, nil
}

// AddItem merges into an existing line for the same product+variation or
// creates a new one. The unit price is snapshotted from the catalog at
// add time.
func (s *service) AddItem(ctx context.Context, owner Owner, input AddItemInput) (*CartItem, error) {
	if input.Quantity < 1 {
		return nil, fmt.Errorf("service: quantity must be at least 1, got %d", input.Quantity)
	}

	c, err := s.GetOrCreate(ctx, owner)
	if err != nil {
		return nil, err
	}

	product, variation, err := s.lookupProduct(ctx, input.ProductID, input.VariationID)
	if err != nil {
		return nil, err
	}

	available := availableStock(product, variation)
	unitPrice := effectivePrice(product, variation)

	existing, err := s.cartRepo.FindLine(ctx, c.ID, input.ProductID, input.VariationID)
	if err != nil && !errors.Is(err, ErrCartItemNotFound) {
		return nil, fmt.Errorf("service: failed to look up cart line: %w", err)
	}

	newQuantity := input.Quantity
	if existing != nil {
		newQuantity += existing.Quantity
	}

	if newQuantity > MaxQuantityPerItem {
		return nil, ErrLimitExceeded
	}
	if newQuantity > available {
		return nil, fmt.Errorf("%w: only %d available", ErrInsufficientStock, available)
	}

	var item *CartItem
	if existing != nil {
		if err := s.cartRepo.UpdateItem(ctx, existing.ID, newQuantity, unitPrice); err != nil {
			return nil, fmt.Errorf("service: failed to update cart line %s: %w", existing.ID, err)
		}
		existing.Quantity = newQuantity
		existing.UnitPrice = unitPrice
		item = existing
	} else {
		item = &CartItem{
			CartID:      c.ID,
			ProductID:   input.ProductID,
			VariationID: input.VariationID,
			Quantity:    input.Quantity,
			UnitPrice:   unitPrice,
		}
		if err := s.cartRepo.InsertItem(ctx, item); err != nil {
			return nil, fmt.Errorf("service: failed to insert cart item: %w", err)
		}
	}

	if err := s.recomputeTotals(ctx, c); err != nil {
		return nil, err
	}

	log.Info().
		Stringer("cart_id", c.ID).
		Stringer("product_id", input.ProductID).
		Int("quantity", newQuantity).
		Msg("service: item added to cart")

	return item, nil
}

func (s *service) UpdateItemQuantity(ctx context.Context, owner Owner, itemID uuid.UUID, quantity int) (*CartItem, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("service: quantity must be at least 1, got %d", quantity)
	}
	if quantity > MaxQuantityPerItem {
		return nil, ErrLimitExceeded
	}

	c, err := s.GetOrCreate(ctx, owner)
	if err != nil {
		return nil, err
	}

	item, err := s.cartRepo.GetItem(ctx, itemID, c.ID)
	if err != nil {
		if errors.Is(err, ErrCartItemNotFound) {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("service: failed to load cart item %s: %w", itemID, err)
	}

	product, variation, err := s.lookupProduct(ctx, item.ProductID, item.VariationID)
	if err != nil {
		return nil, err
	}

	available := availableStock(product, variation)
	if quantity > available {
		return nil, fmt.Errorf("%w: only %d available", ErrInsufficientStock, available)
	}

	unitPrice := effectivePrice(product, variation)
	if err := s.cartRepo.UpdateItem(ctx, item.ID, quantity, unitPrice); err != nil {
		return nil, fmt.Errorf("service: failed to update cart item %s: %w", item.ID, err)
	}
	item.Quantity = quantity
	item.UnitPrice = unitPrice

	if err := s.recomputeTotals(ctx, c); err != nil {
		return nil, err
	}

	return item, nil
}

func (s *service) RemoveItem(ctx context.Context, owner Owner, itemID uuid.UUID) error {
	c, err := s.GetOrCreate(ctx, owner)
	if err != nil {
		return err
	}

	if err := s.cartRepo.DeleteItem(ctx, itemID, c.ID); err != nil {
		if errors.Is(err, ErrCartItemNotFound) {
			return ErrCartItemNotFound
		}
		return fmt.Errorf("service: failed to remove cart item %s: %w", itemID, err)
	}

	return s.recomputeTotals(ctx, c)
}

func (s *service) Clear(ctx context.Context, owner Owner) error {
	c, err := s.GetOrCreate(ctx, owner)
	if err != nil {
		return err
	}

	if err := s.cartRepo.ClearItems(ctx, c.ID); err != nil {
		return fmt.Errorf("service: failed to clear cart %s: %w", c.ID, err)
	}

	return s.recomputeTotals(ctx, c)
}

// ValidateForCheckout re-checks every line against current stock and
// active flags. The returned issues are human-readable; an empty slice
// means checkout may proceed. This is a pre-check only: the
// authoritative check happens under row locks inside the order
// transaction.
func (s *service) ValidateForCheckout(ctx context.Context, cartID uuid.UUID) ([]string, error) {
	items, err := s.cartRepo.GetItems(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load items for cart %s: %w", cartID, err)
	}

	issues := []string{}
	if len(items) == 0 {
		issues = append(issues, "Cart is empty")
		return issues, nil
	}

	for _, item := range items {
		product, err := s.catalogRepo.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				issues = append(issues, fmt.Sprintf("Product %s is no longer available", item.ProductID))
				continue
			}
			return nil, fmt.Errorf("service: failed to load product %s: %w", item.ProductID, err)
		}
		if !product.IsActive {
			issues = append(issues, fmt.Sprintf("Product '%s' is no longer available", product.Name))
			continue
		}

		available := product.Stock
		if item.VariationID != nil {
			variation, err := s.catalogRepo.GetVariation(ctx, *item.VariationID, item.ProductID)
			if err != nil {
				if errors.Is(err, catalog.ErrVariationNotFound) {
					issues = append(issues, fmt.Sprintf("A variation of '%s' is no longer available", product.Name))
					continue
				}
				return nil, fmt.Errorf("service: failed to load variation %s: %w", *item.VariationID, err)
			}
			if variation.Stock != nil {
				available = *variation.Stock
			}
		}

		if item.Quantity > available {
			issues = append(issues, fmt.Sprintf("'%s' has only %d items in stock (you have %d)", product.Name, available, item.Quantity))
		}
	}

	return issues, nil
}

// MergeSessionCart replays an anonymous cart's items into the user's
// cart on login. Lines that no longer validate are skipped silently;
// the session cart is marked converted either way.
func (s *service) MergeSessionCart(ctx context.Context, userID uuid.UUID, sessionID string) (*Cart, error) {
	userOwner := Owner{UserID: &userID}

	sessionCart, err := s.cartRepo.GetActive(ctx, Owner{SessionID: &sessionID})
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return s.GetOrCreate(ctx, userOwner)
		}
		return nil, fmt.Errorf("service: failed to load session cart: %w", err)
	}

	sessionItems, err := s.cartRepo.GetItems(ctx, sessionCart.ID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load session cart items: %w", err)
	}

	for _, item := range sessionItems {
		_, err := s.AddItem(ctx, userOwner, AddItemInput{
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			Quantity:    item.Quantity,
		})
		if err != nil {
			// Out-of-stock or inactive lines are dropped from the merge.
			log.Warn().Err(err).
				Stringer("session_cart_id", sessionCart.ID).
				Stringer("product_id", item.ProductID).
				Msg("service: skipping cart line during merge")
		}
	}

	if err := s.cartRepo.SetStatus(ctx, sessionCart.ID, StatusConverted); err != nil {
		return nil, fmt.Errorf("service: failed to convert session cart %s: %w", sessionCart.ID, err)
	}

	return s.GetOrCreate(ctx, userOwner)
}

// ApplyPromoCode records the code on the cart. Discount calculation
// belongs to the promotions collaborator; whatever discount_amount it
// set is folded into the recomputed totals.
func (s *service) ApplyPromoCode(ctx context.Context, owner Owner, code string) error {
	c, err := s.GetOrCreate(ctx, owner)
	if err != nil {
		return err
	}

	if err := s.cartRepo.SetPromoCode(ctx, c.ID, code); err != nil {
		return fmt.Errorf("service: failed to apply promo code to cart %s: %w", c.ID, err)
	}

	return s.recomputeTotals(ctx, c)
}

// CleanupExpired demotes stale active carts in bulk. Intended for a
// periodic job.
func (s *service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.cartRepo.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("service: failed to cleanup expired carts: %w", err)
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("service: expired stale carts")
	}
	return n, nil
}

func (s *service) recomputeTotals(ctx context.Context, c *Cart) error {
	items, err := s.cartRepo.GetItems(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("service: failed to reload items for cart %s: %w", c.ID, err)
	}

	totals := ComputeTotals(items, c.DiscountAmount)
	if err := s.cartRepo.UpdateTotals(ctx, c.ID, totals); err != nil {
		return fmt.Errorf("service: failed to store totals for cart %s: %w", c.ID, err)
	}

	c.Items = items
	c.Subtotal = totals.Subtotal
	c.TaxAmount = totals.Tax
	c.DiscountAmount = totals.Discount
	c.Total = totals.Total

	return nil
}

func (s *service) lookupProduct(ctx context.Context, productID uuid.UUID, variationID *uuid.UUID) (*catalog.Product, *catalog.Variation, error) {
	product, err := s.catalogRepo.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, nil, catalog.ErrProductNotFound
		}
		return nil, nil, fmt.Errorf("service: failed to load product %s: %w", productID, err)
	}
	if !product.IsActive {
		return nil, nil, catalog.ErrProductNotFound
	}

	var variation *catalog.Variation
	if variationID != nil {
		variation, err = s.catalogRepo.GetVariation(ctx, *variationID, productID)
		if err != nil {
			if errors.Is(err, catalog.ErrVariationNotFound) {
				return nil, nil, catalog.ErrVariationNotFound
			}
			return nil, nil, fmt.Errorf("service: failed to load variation %s: %w", *variationID, err)
		}
	}

	return product, variation, nil
}

func availableStock(product *catalog.Product, variation *catalog.Variation) int {
	if variation != nil && variation.Stock != nil {
		return *variation.Stock
	}
	return product.Stock
}

func effectivePrice(product *catalog.Product, variation *catalog.Variation) decimal.Decimal {
	if variation != nil {
		return product.Price.Add(variation.PriceDelta)
	}
	return product.Price
}
