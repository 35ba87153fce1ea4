package cart

import (
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

var (
	// ErrStockExceeded is returned when a mutation would push an entry's
	// quantity above the product's known stock.
	ErrStockExceeded = errors.New("quantity exceeds available stock")
	// ErrNotInCart is returned when a positive quantity is set for a product
	// that has no entry.
	ErrNotInCart = errors.New("product not in cart")
)

// Entry is a single cart line: a product snapshot and how many units of it
// were selected. Quantity is always positive.
type Entry struct {
	Product  product.Product
	Quantity int
}

// Subtotal is the entry price multiplied by its quantity.
func (e Entry) Subtotal() decimal.Decimal {
	return e.Product.Price.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

// Cart holds the selected products of one session keyed by product ID.
//
// Cart is not safe for concurrent use; the owning session serializes access.
type Cart struct {
	entries map[string]Entry
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{entries: make(map[string]Entry)}
}

// Add puts one more unit of p into the cart. A product that is not yet in the
// cart gets quantity 1.
//
// The stored snapshot is replaced by p so later stock checks use the most
// recent stock value seen.
func (c *Cart) Add(productID string, p product.Product) error {
	qty := c.entries[productID].Quantity + 1
	if qty > p.Stock {
		return ErrStockExceeded
	}
	c.entries[productID] = Entry{Product: p, Quantity: qty}
	return nil
}

// UpdateQuantity replaces the quantity of an entry. A quantity of zero or
// less removes the entry; removing an absent product is a no-op.
func (c *Cart) UpdateQuantity(productID string, quantity int) error {
	if quantity <= 0 {
		delete(c.entries, productID)
		return nil
	}

	e, ok := c.entries[productID]
	if !ok {
		return ErrNotInCart
	}
	if quantity > e.Product.Stock {
		return ErrStockExceeded
	}
	e.Quantity = quantity
	c.entries[productID] = e
	return nil
}

// Entry returns the entry for productID.
func (c *Cart) Entry(productID string) (Entry, bool) {
	e, ok := c.entries[productID]
	return e, ok
}

// Entries returns a copy of all entries ordered by product ID.
func (c *Cart) Entries() []Entry {
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Entry, len(ids))
	for i, id := range ids {
		out[i] = c.entries[id]
	}
	return out
}

// Len returns the number of distinct products in the cart.
func (c *Cart) Len() int {
	return len(c.entries)
}

// Total returns the sum of all entry quantities.
func (c *Cart) Total() int {
	total := 0
	for _, e := range c.entries {
		total += e.Quantity
	}
	return total
}

// TotalPrice returns the sum of all entry subtotals.
func (c *Cart) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, e := range c.entries {
		total = total.Add(e.Subtotal())
	}
	return total
}
