package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrVariationNotFound = errors.New("product variation not found")
)

type Repository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	GetVariation(ctx context.Context, id, productID uuid.UUID) (*Variation, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, name, sku, price, stock, is_active, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	var p Product
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.SKU,
		&p.Price,
		&p.Stock,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", id, err)
	}

	return &p, nil
}

func (r *postgresRepository) GetVariation(ctx context.Context, id, productID uuid.UUID) (*Variation, error) {
	query := `
		SELECT id, product_id, name, price_delta, stock, created_at
		FROM product_variations
		WHERE id = $1 AND product_id = $2
	`

	var v Variation
	err := r.db.QueryRow(ctx, query, id, productID).Scan(
		&v.ID,
		&v.ProductID,
		&v.Name,
		&v.PriceDelta,
		&v.Stock,
		&v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVariationNotFound
		}
		return nil, fmt.Errorf("repository: failed to select variation %s for product %s: %w", id, productID, err)
	}

	return &v, nil
}
