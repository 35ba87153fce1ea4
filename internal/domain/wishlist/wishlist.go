package wishlist

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

// Entry is the reduced projection of a product kept on a wishlist.
type Entry struct {
	ID    string
	Title string
	Price decimal.Decimal
	Image string
}

// FromProduct projects a catalog product into a wishlist entry.
func FromProduct(p product.Product) Entry {
	return Entry{
		ID:    p.ID,
		Title: p.Title,
		Price: p.Price,
		Image: p.Thumbnail,
	}
}

// Wishlist is an insertion-ordered set of entries unique by ID.
//
// Wishlist is not safe for concurrent use.
type Wishlist struct {
	items []Entry
	index map[string]int
}

// New returns an empty wishlist.
func New() *Wishlist {
	return &Wishlist{index: make(map[string]int)}
}

// Add inserts e unless an entry with the same ID is already present.
// It reports whether the wishlist changed.
func (w *Wishlist) Add(e Entry) bool {
	if _, ok := w.index[e.ID]; ok {
		return false
	}
	w.index[e.ID] = len(w.items)
	w.items = append(w.items, e)
	return true
}

// Remove deletes the entry with the given ID and reports whether it existed.
func (w *Wishlist) Remove(id string) bool {
	i, ok := w.index[id]
	if !ok {
		return false
	}
	w.items = append(w.items[:i], w.items[i+1:]...)
	delete(w.index, id)
	for j := i; j < len(w.items); j++ {
		w.index[w.items[j].ID] = j
	}
	return true
}

// Clear removes every entry.
func (w *Wishlist) Clear() {
	w.items = nil
	w.index = make(map[string]int)
}

// Contains reports whether an entry with the given ID is present.
func (w *Wishlist) Contains(id string) bool {
	_, ok := w.index[id]
	return ok
}

// Items returns a copy of the entries in insertion order.
func (w *Wishlist) Items() []Entry {
	out := make([]Entry, len(w.items))
	copy(out, w.items)
	return out
}

// Len returns the number of entries.
func (w *Wishlist) Len() int {
	return len(w.items)
}
