package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veskor/bazaar/internal/domain/product"
)

const (
	listProductsSQL = `SELECT id, name, price, quantity, sold, image_cover
		FROM products ORDER BY id`

	upsertProductSQL = `INSERT INTO products (id, name, price, quantity, sold, image_cover)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			quantity = EXCLUDED.quantity,
			image_cover = EXCLUDED.image_cover,
			updated_at = now()`

	upsertVariantSQL = `INSERT INTO product_variants (id, product_id, color, quantity)
		VALUES ($1, $2, lower($3), $4)
		ON CONFLICT (product_id, lower(color)) DO UPDATE SET quantity = EXCLUDED.quantity`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products with their variants, ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("scanning products: %w", err)
	}

	ids := make([]string, len(products))
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		ids[i] = products[i].ID
		byID[products[i].ID] = &products[i]
	}
	if len(ids) > 0 {
		vrows, err := r.pool.Query(ctx, selectVariantsByProductsSQL, ids)
		if err != nil {
			return nil, fmt.Errorf("getting product variants: %w", err)
		}
		if err := attachVariants(vrows, byID); err != nil {
			return nil, err
		}
	}
	return products, nil
}

// GetByID returns a single product with its variants.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	byID, err := loadProductsByIDs(ctx, r.pool, []string{id})
	if err != nil {
		return nil, errors.Wrapf(err, "getting product %q", id)
	}
	p, ok := byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

// Upsert creates or refreshes a product and its variants. Used by the
// seeding tools.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	if _, err := r.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Price, p.Quantity, p.Sold, p.ImageCover,
	); err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	for _, v := range p.Variants {
		if _, err := r.pool.Exec(ctx, upsertVariantSQL, v.ID, p.ID, v.Color, v.Quantity); err != nil {
			return fmt.Errorf("upserting variant %q of product %q: %w", v.Color, p.ID, err)
		}
	}
	return nil
}
