// Package postgres implements the domain repository ports on PostgreSQL
// via pgx. Cart mutations run as single transactions holding the cart row
// lock, so concurrent operations on the same cart serialize at the store
// instead of racing in the application.
package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veskor/bazaar/db"
	"github.com/veskor/bazaar/internal/domain/product"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal
// support for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, db.Schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isSerializationFailure reports whether err is a transient transaction
// conflict (serialization failure or deadlock) worth retrying.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

const (
	selectProductsByIDsSQL = `SELECT id, name, price, quantity, sold, image_cover
		FROM products WHERE id = ANY($1)`

	selectVariantsByProductsSQL = `SELECT id, product_id, color, quantity
		FROM product_variants WHERE product_id = ANY($1) ORDER BY product_id, color`
)

// loadProductsByIDs fetches products and their variants in two queries and
// returns them keyed by id. Missing ids are simply absent from the map.
func loadProductsByIDs(ctx context.Context, q querier, ids []string) (map[string]*product.Product, error) {
	if len(ids) == 0 {
		return map[string]*product.Product{}, nil
	}

	rows, err := q.Query(ctx, selectProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("scanning products: %w", err)
	}

	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	vrows, err := q.Query(ctx, selectVariantsByProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting product variants: %w", err)
	}
	if err := attachVariants(vrows, byID); err != nil {
		return nil, err
	}

	return byID, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.Sold, &p.ImageCover)
	return p, err
}

func attachVariants(rows pgx.Rows, byID map[string]*product.Product) error {
	defer rows.Close()
	for rows.Next() {
		var (
			v         product.Variant
			productID string
		)
		if err := rows.Scan(&v.ID, &productID, &v.Color, &v.Quantity); err != nil {
			return fmt.Errorf("scanning product variant: %w", err)
		}
		if p, ok := byID[productID]; ok {
			p.Variants = append(p.Variants, v)
		}
	}
	return rows.Err()
}
