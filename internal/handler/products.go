package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/product"
)

// listProducts returns the catalog, filtered by title when ?q= is set.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.writeErr(w, r, &catalogError{err: err})
		return
	}
	products = product.Search(products, r.URL.Query().Get("q"))

	render(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			h.encodeProduct(e, p)
		}
		e.ArrEnd()
	})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.lookupProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	render(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeProduct(e, *p)
	})
}

// lookupProduct fetches a product snapshot from the catalog. Failures other
// than a missing product are reported as catalog errors.
func (h *Handler) lookupProduct(ctx context.Context, id string) (*product.Product, error) {
	p, err := h.products.GetByID(ctx, id)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, product.ErrNotFound):
		return nil, err
	default:
		return nil, &catalogError{err: err}
	}
}
