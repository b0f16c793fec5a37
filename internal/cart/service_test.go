package cart_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/online-store/internal/cart"
	"github.com/vasiliy-maslov/online-store/internal/catalog"
)

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV4()
	require.NoError(t, err)
	return id
}

type mockCartRepository struct {
	createFunc            func(ctx context.Context, c *cart.Cart) error
	getActiveFunc         func(ctx context.Context, owner cart.Owner) (*cart.Cart, error)
	getByIDFunc           func(ctx context.Context, id uuid.UUID) (*cart.Cart, error)
	setStatusFunc         func(ctx context.Context, cartID uuid.UUID, status cart.Status) error
	refreshExpirationFunc func(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error
	setPromoCodeFunc      func(ctx context.Context, cartID uuid.UUID, code string) error
	updateTotalsFunc      func(ctx context.Context, cartID uuid.UUID, t cart.Totals) error
	expireStaleFunc       func(ctx context.Context, now time.Time) (int64, error)
	getItemsFunc          func(ctx context.Context, cartID uuid.UUID) ([]cart.CartItem, error)
	getItemFunc           func(ctx context.Context, itemID, cartID uuid.UUID) (*cart.CartItem, error)
	findLineFunc          func(ctx context.Context, cartID, productID uuid.UUID, variationID *uuid.UUID) (*cart.CartItem, error)
	insertItemFunc        func(ctx context.Context, item *cart.CartItem) error
	updateItemFunc        func(ctx context.Context, itemID uuid.UUID, quantity int, unitPrice decimal.Decimal) error
	deleteItemFunc        func(ctx context.Context, itemID, cartID uuid.UUID) error
	clearItemsFunc        func(ctx context.Context, cartID uuid.UUID) error
}

func (m *mockCartRepository) Create(ctx context.Context, c *cart.Cart) error {
	return m.createFunc(ctx, c)
}

func (m *mockCartRepository) GetActive(ctx context.Context, owner cart.Owner) (*cart.Cart, error) {
	return m.getActiveFunc(ctx, owner)
}

func (m *mockCartRepository) GetByID(ctx context.Context, id uuid.UUID) (*cart.Cart, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockCartRepository) SetStatus(ctx context.Context, cartID uuid.UUID, status cart.Status) error {
	return m.setStatusFunc(ctx, cartID, status)
}

func (m *mockCartRepository) RefreshExpiration(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error {
	return m.refreshExpirationFunc(ctx, cartID, expiresAt)
}

func (m *mockCartRepository) SetPromoCode(ctx context.Context, cartID uuid.UUID, code string) error {
	return m.setPromoCodeFunc(ctx, cartID, code)
}

func (m *mockCartRepository) UpdateTotals(ctx context.Context, cartID uuid.UUID, t cart.Totals) error {
	return m.updateTotalsFunc(ctx, cartID, t)
}

func (m *mockCartRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	return m.expireStaleFunc(ctx, now)
}

func (m *mockCartRepository) GetItems(ctx context.Context, cartID uuid.UUID) ([]cart.CartItem, error) {
	return m.getItemsFunc(ctx, cartID)
}

func (m *mockCartRepository) GetItem(ctx context.Context, itemID, cartID uuid.UUID) (*cart.CartItem, error) {
	return m.getItemFunc(ctx, itemID, cartID)
}

func (m *mockCartRepository) FindLine(ctx context.Context, cartID, productID uuid.UUID, variationID *uuid.UUID) (*cart.CartItem, error) {
	return m.findLineFunc(ctx, cartID, productID, variationID)
}

func (m *mockCartRepository) InsertItem(ctx context.Context, item *cart.CartItem) error {
	return m.insertItemFunc(ctx, item)
}

func (m *mockCartRepository) UpdateItem(ctx context.Context, itemID uuid.UUID, quantity int, unitPrice decimal.Decimal) error {
	return m.updateItemFunc(ctx, itemID, quantity, unitPrice)
}

func (m *mockCartRepository) DeleteItem(ctx context.Context, itemID, cartID uuid.UUID) error {
	return m.deleteItemFunc(ctx, itemID, cartID)
}

func (m *mockCartRepository) ClearItems(ctx context.Context, cartID uuid.UUID) error {
	return m.clearItemsFunc(ctx, cartID)
}

type mockCatalogRepository struct {
	getProductFunc   func(ctx context.Context, id uuid.UUID) (*catalog.Product, error)
	getVariationFunc func(ctx context.Context, id, productID uuid.UUID) (*catalog.Variation, error)
}

func (m *mockCatalogRepository) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	return m.getProductFunc(ctx, id)
}

func (m *mockCatalogRepository) GetVariation(ctx context.Context, id, productID uuid.UUID) (*catalog.Variation, error) {
	return m.getVariationFunc(ctx, id, productID)
}

// newCartRepo returns a mock backed by a single in-memory active cart
// with the given items.
func newCartRepo(c *cart.Cart, items []cart.CartItem) *mockCartRepository {
	stored := items
	return &mockCartRepository{
		getActiveFunc: func(ctx context.Context, owner cart.Owner) (*cart.Cart, error) {
			return c, nil
		},
		refreshExpirationFunc: func(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error {
			return nil
		},
		getItemsFunc: func(ctx context.Context, cartID uuid.UUID) ([]cart.CartItem, error) {
			return stored, nil
		},
		findLineFunc: func(ctx context.Context, cartID, productID uuid.UUID, variationID *uuid.UUID) (*cart.CartItem, error) {
			for i := range stored {
				if stored[i].ProductID == productID {
					return &stored[i], nil
				}
			}
			return nil, cart.ErrCartItemNotFound
		},
		insertItemFunc: func(ctx context.Context, item *cart.CartItem) error {
			stored = append(stored, *item)
			return nil
		},
		updateItemFunc: func(ctx context.Context, itemID uuid.UUID, quantity int, unitPrice decimal.Decimal) error {
			for i := range stored {
				if stored[i].ID == itemID {
					stored[i].Quantity = quantity
					stored[i].UnitPrice = unitPrice
				}
			}
			return nil
		},
		updateTotalsFunc: func(ctx context.Context, cartID uuid.UUID, t cart.Totals) error {
			return nil
		},
	}
}

func activeCart(t *testing.T, userID uuid.UUID) *cart.Cart {
	t.Helper()
	return &cart.Cart{
		ID:        mustUUID(t),
		UserID:    &userID,
		Status:    cart.StatusActive,
		ExpiresAt: time.Now().UTC().Add(cart.Expiration),
	}
}

func TestCartService_AddItem(t *testing.T) {
	userID := uuid.Must(uuid.FromString("123e4567-e89b-12d3-a456-426614174000"))
	owner := cart.Owner{UserID: &userID}
	productID := uuid.Must(uuid.FromString("550e8400-e29b-41d4-a716-446655440000"))

	product := &catalog.Product{
		ID:       productID,
		Name:     "Keyboard",
		Price:    d("1999.90"),
		Stock:    5,
		IsActive: true,
	}

	tests := []struct {
		name       string
		existing   []cart.CartItem
		product    *catalog.Product
		productErr error
		quantity   int
		wantErr    error
		wantQty    int
	}{
		{
			name:     "new_line",
			product:  product,
			quantity: 2,
			wantQty:  2,
		},
		{
			name: "merges_into_existing_line",
			existing: []cart.CartItem{
				{ID: uuid.Must(uuid.NewV4()), ProductID: productID, Quantity: 2, UnitPrice: d("1999.90")},
			},
			product:  product,
			quantity: 3,
			wantQty:  5,
		},
		{
			name:       "unknown_product",
			productErr: catalog.ErrProductNotFound,
			quantity:   1,
			wantErr:    catalog.ErrProductNotFound,
		},
		{
			name: "inactive_product",
			product: &catalog.Product{
				ID: productID, Name: "Keyboard", Price: d("1999.90"), Stock: 5, IsActive: false,
			},
			quantity: 1,
			wantErr:  catalog.ErrProductNotFound,
		},
		{
			name: "merged_quantity_over_limit",
			existing: []cart.CartItem{
				{ID: uuid.Must(uuid.NewV4()), ProductID: productID, Quantity: 8, UnitPrice: d("1999.90")},
			},
			product: &catalog.Product{
				ID: productID, Name: "Keyboard", Price: d("1999.90"), Stock: 100, IsActive: true,
			},
			quantity: 3,
			wantErr:  cart.ErrLimitExceeded,
		},
		{
			name:     "insufficient_stock",
			product:  product,
			quantity: 6,
			wantErr:  cart.ErrInsufficientStock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := activeCart(t, userID)
			cartRepo := newCartRepo(c, tt.existing)
			catalogRepo := &mockCatalogRepository{
				getProductFunc: func(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
					if tt.productErr != nil {
						return nil, tt.productErr
					}
					return tt.product, nil
				},
			}

			svc := cart.NewService(cartRepo, catalogRepo)
			item, err := svc.AddItem(context.Background(), owner, cart.AddItemInput{
				ProductID: productID,
				Quantity:  tt.quantity,
			})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantQty, item.Quantity)
			assert.True(t, item.UnitPrice.Equal(tt.product.Price))
		})
	}
}

func TestCartService_AddItem_VariationPriceDelta(t *testing.T) {
	userID := mustUUID(t)
	productID := mustUUID(t)
	variationID := mustUUID(t)
	variationStock := 3

	cartRepo := newCartRepo(activeCart(t, userID), nil)
	catalogRepo := &mockCatalogRepository{
		getProductFunc: func(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
			return &catalog.Product{ID: productID, Name: "Shirt", Price: d("1000"), Stock: 50, IsActive: true}, nil
		},
		getVariationFunc: func(ctx context.Context, id, pid uuid.UUID) (*catalog.Variation, error) {
			return &catalog.Variation{
				ID:         variationID,
				ProductID:  productID,
				Stock:      &variationStock,
				PriceDelta: d("250"),
			}, nil
		},
	}

	svc := cart.NewService(cartRepo, catalogRepo)

	item, err := svc.AddItem(context.Background(), cart.Owner{UserID: &userID}, cart.AddItemInput{
		ProductID:   productID,
		VariationID: &variationID,
		Quantity:    2,
	})
	require.NoError(t, err)
	assert.True(t, item.UnitPrice.Equal(d("1250")))

	// The variation's own stock bounds availability, not the parent's.
	_, err = svc.AddItem(context.Background(), cart.Owner{UserID: &userID}, cart.AddItemInput{
		ProductID:   productID,
		VariationID: &variationID,
		Quantity:    2,
	})
	assert.ErrorIs(t, err, cart.ErrInsufficientStock)
}

func TestCartService_GetOrCreate_InvalidOwner(t *testing.T) {
	svc := cart.NewService(&mockCartRepository{}, &mockCatalogRepository{})
	_, err := svc.GetOrCreate(context.Background(), cart.Owner{})
	assert.ErrorIs(t, err, cart.ErrInvalidOwner)
}

func TestCartService_GetOrCreate_ExpiredCartReplaced(t *testing.T) {
	userID := mustUUID(t)
	expired := &cart.Cart{
		ID:        mustUUID(t),
		UserID:    &userID,
		Status:    cart.StatusActive,
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}

	var demoted *cart.Status
	repo := newCartRepo(expired, nil)
	repo.setStatusFunc = func(ctx context.Context, cartID uuid.UUID, status cart.Status) error {
		demoted = &status
		return nil
	}
	repo.createFunc = func(ctx context.Context, c *cart.Cart) error {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		c.ID = id
		return nil
	}

	svc := cart.NewService(repo, &mockCatalogRepository{})
	c, err := svc.GetOrCreate(context.Background(), cart.Owner{UserID: &userID})
	require.NoError(t, err)

	require.NotNil(t, demoted)
	assert.Equal(t, cart.StatusExpired, *demoted)
	assert.NotEqual(t, expired.ID, c.ID)
}

func TestCartService_UpdateItemQuantity(t *testing.T) {
	userID := mustUUID(t)
	productID := mustUUID(t)
	itemID := mustUUID(t)

	existing := cart.CartItem{ID: itemID, ProductID: productID, Quantity: 2, UnitPrice: d("100")}

	newRepo := func() *mockCartRepository {
		repo := newCartRepo(activeCart(t, userID), []cart.CartItem{existing})
		repo.getItemFunc = func(ctx context.Context, id, cartID uuid.UUID) (*cart.CartItem, error) {
			if id != itemID {
				return nil, cart.ErrCartItemNotFound
			}
			line := existing
			return &line, nil
		}
		return repo
	}
	catalogRepo := &mockCatalogRepository{
		getProductFunc: func(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
			return &catalog.Product{ID: productID, Name: "Mug", Price: d("100"), Stock: 4, IsActive: true}, nil
		},
	}

	svc := cart.NewService(newRepo(), catalogRepo)

	item, err := svc.UpdateItemQuantity(context.Background(), cart.Owner{UserID: &userID}, itemID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, item.Quantity)

	_, err = svc.UpdateItemQuantity(context.Background(), cart.Owner{UserID: &userID}, itemID, 5)
	assert.ErrorIs(t, err, cart.ErrInsufficientStock)

	_, err = svc.UpdateItemQuantity(context.Background(), cart.Owner{UserID: &userID}, itemID, 11)
	assert.ErrorIs(t, err, cart.ErrLimitExceeded)

	_, err = svc.UpdateItemQuantity(context.Background(), cart.Owner{UserID: &userID}, mustUUID(t), 2)
	assert.ErrorIs(t, err, cart.ErrCartItemNotFound)
}

func TestCartService_ValidateForCheckout(t *testing.T) {
	cartID := mustUUID(t)
	okProduct := mustUUID(t)
	goneProduct := mustUUID(t)
	lowStockProduct := mustUUID(t)

	repo := &mockCartRepository{
		getItemsFunc: func(ctx context.Context, id uuid.UUID) ([]cart.CartItem, error) {
			return []cart.CartItem{
				{ProductID: okProduct, Quantity: 1, UnitPrice: d("10")},
				{ProductID: goneProduct, Quantity: 1, UnitPrice: d("10")},
				{ProductID: lowStockProduct, Quantity: 5, UnitPrice: d("10")},
			}, nil
		},
	}
	catalogRepo := &mockCatalogRepository{
		getProductFunc: func(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
			switch id {
			case okProduct:
				return &catalog.Product{ID: id, Name: "Fine", Stock: 10, Price: d("10"), IsActive: true}, nil
			case lowStockProduct:
				return &catalog.Product{ID: id, Name: "Scarce", Stock: 2, Price: d("10"), IsActive: true}, nil
			default:
				return nil, catalog.ErrProductNotFound
			}
		},
	}

	svc := cart.NewService(repo, catalogRepo)
	issues, err := svc.ValidateForCheckout(context.Background(), cartID)
	require.NoError(t, err)

	require.Len(t, issues, 2)
	assert.Contains(t, issues[0], "no longer available")
	assert.Contains(t, issues[1], "only 2 items in stock")
}

func TestCartService_ValidateForCheckout_EmptyCart(t *testing.T) {
	repo := &mockCartRepository{
		getItemsFunc: func(ctx context.Context, id uuid.UUID) ([]cart.CartItem, error) {
			return nil, nil
		},
	}

	svc := cart.NewService(repo, &mockCatalogRepository{})
	issues, err := svc.ValidateForCheckout(context.Background(), mustUUID(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"Cart is empty"}, issues)
}

func TestCartService_MergeSessionCart_SkipsBadLines(t *testing.T) {
	userID := mustUUID(t)
	sessionID := "sess-42"
	okProduct := mustUUID(t)
	goneProduct := mustUUID(t)

	userCart := activeCart(t, userID)
	sessionCart := &cart.Cart{
		ID:        mustUUID(t),
		SessionID: &sessionID,
		Status:    cart.StatusActive,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}

	var userItems []cart.CartItem
	var converted bool

	repo := &mockCartRepository{
		getActiveFunc: func(ctx context.Context, owner cart.Owner) (*cart.Cart, error) {
			if owner.SessionID != nil {
				return sessionCart, nil
			}
			return userCart, nil
		},
		refreshExpirationFunc: func(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error {
			return nil
		},
		getItemsFunc: func(ctx context.Context, cartID uuid.UUID) ([]cart.CartItem, error) {
			if cartID == sessionCart.ID {
				return []cart.CartItem{
					{ProductID: okProduct, Quantity: 2, UnitPrice: d("10")},
					{ProductID: goneProduct, Quantity: 1, UnitPrice: d("10")},
				}, nil
			}
			return userItems, nil
		},
		findLineFunc: func(ctx context.Context, cartID, productID uuid.UUID, variationID *uuid.UUID) (*cart.CartItem, error) {
			return nil, cart.ErrCartItemNotFound
		},
		insertItemFunc: func(ctx context.Context, item *cart.CartItem) error {
			userItems = append(userItems, *item)
			return nil
		},
		updateTotalsFunc: func(ctx context.Context, cartID uuid.UUID, t cart.Totals) error {
			return nil
		},
		setStatusFunc: func(ctx context.Context, cartID uuid.UUID, status cart.Status) error {
			if cartID == sessionCart.ID && status == cart.StatusConverted {
				converted = true
			}
			return nil
		},
	}
	catalogRepo := &mockCatalogRepository{
		getProductFunc: func(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
			if id == okProduct {
				return &catalog.Product{ID: id, Name: "Kept", Stock: 10, Price: d("10"), IsActive: true}, nil
			}
			return nil, catalog.ErrProductNotFound
		},
	}

	svc := cart.NewService(repo, catalogRepo)
	merged, err := svc.MergeSessionCart(context.Background(), userID, sessionID)
	require.NoError(t, err)

	assert.True(t, converted, "session cart must be marked converted")
	require.Len(t, merged.Items, 1)
	assert.Equal(t, okProduct, merged.Items[0].ProductID)
}

func TestCartService_CleanupExpired(t *testing.T) {
	repo := &mockCartRepository{
		expireStaleFunc: func(ctx context.Context, now time.Time) (int64, error) {
			return 3, nil
		},
	}

	svc := cart.NewService(repo, &mockCatalogRepository{})
	n, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestCartService_AddItem_RejectsZeroQuantity(t *testing.T) {
	svc := cart.NewService(&mockCartRepository{}, &mockCatalogRepository{})
	_, err := svc.AddItem(context.Background(), cart.Owner{}, cart.AddItemInput{Quantity: 0})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, cart.ErrLimitExceeded))
}
