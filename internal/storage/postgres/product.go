package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	productColumns = `id, title, description, category, brand, price,
		discount_percentage, rating, stock, thumbnail, images`

	listProductsSQL = `SELECT ` + productColumns + `
		FROM products ORDER BY length(id), id`

	getProductByIDSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = $1`

	listProductIDsSQL = `SELECT id FROM products`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			brand = EXCLUDED.brand,
			price = EXCLUDED.price,
			discount_percentage = EXCLUDED.discount_percentage,
			rating = EXCLUDED.rating,
			stock = EXCLUDED.stock,
			thumbnail = EXCLUDED.thumbnail,
			images = EXCLUDED.images,
			synced_at = EXCLUDED.synced_at`
)

var (
	_ product.Repository  = (*ProductRepository)(nil)
	_ catalog.MirrorStore = (*ProductRepository)(nil)
)

// ProductRepository stores the catalog mirror.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all mirrored products in catalog order.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "scan products")
	}
	return products, nil
}

// GetByID returns a single mirrored product.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

// IDs returns the ids of every mirrored product.
func (r *ProductRepository) IDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listProductIDsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list product ids")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "scan product ids")
	}
	return ids, nil
}

// Upsert inserts or refreshes products in a single batch.
func (r *ProductRepository) Upsert(ctx context.Context, products ...product.Product) error {
	if len(products) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range products {
		images := p.Images
		if images == nil {
			images = []string{}
		}
		batch.Queue(upsertProductSQL,
			p.ID, p.Title, p.Description, p.Category, p.Brand, p.Price,
			p.DiscountPercentage, p.Rating, p.Stock, p.Thumbnail, images,
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "upsert %d products", len(products))
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.Category, &p.Brand, &p.Price,
		&p.DiscountPercentage, &p.Rating, &p.Stock, &p.Thumbnail, &p.Images,
	)
	return p, err
}
