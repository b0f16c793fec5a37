package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrCartNotFound     = errors.New("cart not found")
	ErrCartItemNotFound = errors.New("cart item not found")
)

type Repository interface {
	Create(ctx context.Context, c *Cart) error
	GetActive(ctx context.Context, owner Owner) (*Cart, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Cart, error)
	SetStatus(ctx context.Context, cartID uuid.UUID, status Status) error
	RefreshExpiration(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error
	SetPromoCode(ctx context.Context, cartID uuid.UUID, code string) error
	UpdateTotals(ctx context.Context, cartID uuid.UUID, t Totals) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)

	GetItems(ctx context.Context, cartID uuid.UUID) ([]CartItem, error)
	GetItem(ctx context.Context, itemID, cartID uuid.UUID) (*CartItem, error)
	FindLine(ctx context.Context, cartID, productID uuid.UUID, variationID *uuid.UUID) (*CartItem, error)
	InsertItem(ctx context.Context, item *CartItem) error
	UpdateItem(ctx context.Context, itemID uuid.UUID, quantity int, unitPrice decimal.Decimal) error
	DeleteItem(ctx context.Context, itemID, cartID uuid.UUID) error
	ClearItems(ctx context.Context, cartID uuid.UUID) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const cartColumns = `id, user_id, session_id, status, subtotal, tax_amount, discount_amount, total, promo_code, expires_at, created_at, updated_at`

func scanCart(row pgx.Row) (*Cart, error) {
	var c Cart
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.SessionID,
		&c.Status,
		&c.Subtotal,
		&c.TaxAmount,
		&c.DiscountAmount,
		&c.Total,
		&c.PromoCode,
		&c.ExpiresAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *postgresRepository) Create(ctx context.Context, c *Cart) error {
	if c.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate cart ID: %w", err)
		}
		c.ID = id
	}

	query := `
		INSERT INTO carts (id, user_id, session_id, status, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING subtotal, tax_amount, discount_amount, total, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, c.ID, c.UserID, c.SessionID, c.Status, c.ExpiresAt).
		Scan(&c.Subtotal, &c.TaxAmount, &c.DiscountAmount, &c.Total, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to insert cart: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetActive(ctx context.Context, owner Owner) (*Cart, error) {
	var (
		query string
		arg   any
	)
	switch {
	case owner.UserID != nil:
		query = `SELECT ` + cartColumns + ` FROM carts WHERE user_id = $1 AND status = 'active'`
		arg = *owner.UserID
	case owner.SessionID != nil:
		query = `SELECT ` + cartColumns + ` FROM carts WHERE session_id = $1 AND status = 'active'`
		arg = *owner.SessionID
	default:
		return nil, ErrCartNotFound
	}

	c, err := scanCart(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("repository: failed to select active cart: %w", err)
	}
	return c, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Cart, error) {
	query := `SELECT ` + cartColumns + ` FROM carts WHERE id = $1`
	c, err := scanCart(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("repository: failed to select cart %s: %w", id, err)
	}
	return c, nil
}

func (r *postgresRepository) SetStatus(ctx context.Context, cartID uuid.UUID, status Status) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE carts SET status = $1, updated_at = now() WHERE id = $2`, status, cartID)
	if err != nil {
		return fmt.Errorf("repository: failed to update cart %s status: %w", cartID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (r *postgresRepository) RefreshExpiration(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE carts SET expires_at = $1, updated_at = now() WHERE id = $2`, expiresAt, cartID)
	if err != nil {
		return fmt.Errorf("repository: failed to refresh cart %s expiration: %w", cartID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (r *postgresRepository) SetPromoCode(ctx context.Context, cartID uuid.UUID, code string) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE carts SET promo_code = $1, updated_at = now() WHERE id = $2`, code, cartID)
	if err != nil {
		return fmt.Errorf("repository: failed to set promo code on cart %s: %w", cartID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (r *postgresRepository) UpdateTotals(ctx context.Context, cartID uuid.UUID, t Totals) error {
	query := `
		UPDATE carts
		SET subtotal = $1, tax_amount = $2, discount_amount = $3, total = $4, updated_at = now()
		WHERE id = $5
	`
	cmdTag, err := r.db.Exec(ctx, query, t.Subtotal, t.Tax, t.Discount, t.Total, cartID)
	if err != nil {
		return fmt.Errorf("repository: failed to update totals for cart %s: %w", cartID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (r *postgresRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE carts SET status = 'expired', updated_at = now() WHERE status = 'active' AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to expire stale carts: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

const itemColumns = `id, cart_id, product_id, variation_id, quantity, unit_price, created_at, updated_at`

func scanItem(row pgx.Row) (*CartItem, error) {
	var item CartItem
	err := row.Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.VariationID,
		&item.Quantity,
		&item.UnitPrice,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *postgresRepository) GetItems(ctx context.Context, cartID uuid.UUID) ([]CartItem, error) {
	query := `SELECT ` + itemColumns + ` FROM cart_items WHERE cart_id = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query items for cart %s: %w", cartID, err)
	}
	defer rows.Close()

	items := make([]CartItem, 0)
	for rows.Next() {
		var item CartItem
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProductID,
			&item.VariationID,
			&item.Quantity,
			&item.UnitPrice,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan item for cart %s: %w", cartID, err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating items for cart %s: %w", cartID, err)
	}

	return items, nil
}

func (r *postgresRepository) GetItem(ctx context.Context, itemID, cartID uuid.UUID) (*CartItem, error) {
	query := `SELECT ` + itemColumns + ` FROM cart_items WHERE id = $1 AND cart_id = $2`
	item, err := scanItem(r.db.QueryRow(ctx, query, itemID, cartID))
	if err != nil {
		if errors.Is(err, ErrCartItemNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("repository: failed to select cart item %s: %w", itemID, err)
	}
	return item, nil
}

func (r *postgresRepository) FindLine(ctx context.Context, cartID, productID uuid.UUID, variationID *uuid.UUID) (*CartItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM cart_items
		WHERE cart_id = $1 AND product_id = $2
		  AND variation_id IS NOT DISTINCT FROM $3
	`
	item, err := scanItem(r.db.QueryRow(ctx, query, cartID, productID, variationID))
	if err != nil {
		if errors.Is(err, ErrCartItemNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("repository: failed to find line in cart %s: %w", cartID, err)
	}
	return item, nil
}

func (r *postgresRepository) InsertItem(ctx context.Context, item *CartItem) error {
	if item.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate cart item ID: %w", err)
		}
		item.ID = id
	}

	query := `
		INSERT INTO cart_items (id, cart_id, product_id, variation_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		item.ID, item.CartID, item.ProductID, item.VariationID, item.Quantity, item.UnitPrice,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to insert cart item: %w", err)
	}
	return nil
}

func (r *postgresRepository) UpdateItem(ctx context.Context, itemID uuid.UUID, quantity int, unitPrice decimal.Decimal) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE cart_items SET quantity = $1, unit_price = $2, updated_at = now() WHERE id = $3`,
		quantity, unitPrice, itemID)
	if err != nil {
		return fmt.Errorf("repository: failed to update cart item %s: %w", itemID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartItemNotFound
	}
	return nil
}

func (r *postgresRepository) DeleteItem(ctx context.Context, itemID, cartID uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, itemID, cartID)
	if err != nil {
		return fmt.Errorf("repository: failed to delete cart item %s: %w", itemID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartItemNotFound
	}
	return nil
}

func (r *postgresRepository) ClearItems(ctx context.Context, cartID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("repository: failed to clear items for cart %s: %w", cartID, err)
	}
	return nil
}
