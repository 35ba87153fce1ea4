package product

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a snapshot of a catalog item as reported by the external
// catalog. Stores hold copies and never mutate them.
type Product struct {
	ID                 string
	Title              string
	Description        string
	Category           string
	Brand              string
	Price              decimal.Decimal
	DiscountPercentage float64
	// Rating is zero when the catalog does not report one.
	Rating    float64
	Stock     int
	Thumbnail string
	Images    []string
}

// InStock reports whether at least one unit is available.
func (p Product) InStock() bool {
	return p.Stock > 0
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
}

// Search returns the products whose title contains term, ignoring case.
// An empty term matches every product.
func Search(products []Product, term string) []Product {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return products
	}

	out := make([]Product, 0, len(products))
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Title), term) {
			out = append(out, p)
		}
	}
	return out
}
