package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/storefront/internal/session"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	h.renderCart(w, r)
}

// addToCart adds one unit of the product, fetching a fresh snapshot from
// the catalog first.
func (h *Handler) addToCart(w http.ResponseWriter, r *http.Request) {
	id, err := decodeProductID(w, r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	p, err := h.lookupProduct(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	if err := sessionFrom(r.Context()).Update(func(st *session.State) error {
		return st.Cart.Add(id, *p)
	}); err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.countMutation(r, "add")
	h.renderCart(w, r)
}

// updateCartItem sets the quantity of an entry; zero or less removes it.
func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	qty, err := decodeQuantity(w, r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.setQuantity(w, r, qty)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	h.setQuantity(w, r, 0)
}

func (h *Handler) setQuantity(w http.ResponseWriter, r *http.Request, qty int) {
	id := chi.URLParam(r, "id")
	if err := sessionFrom(r.Context()).Update(func(st *session.State) error {
		return st.Cart.UpdateQuantity(id, qty)
	}); err != nil {
		h.writeErr(w, r, err)
		return
	}

	op := "update"
	if qty <= 0 {
		op = "remove"
	}
	h.countMutation(r, op)
	h.renderCart(w, r)
}

func (h *Handler) renderCart(w http.ResponseWriter, r *http.Request) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	sessionFrom(r.Context()).View(func(st *session.State) {
		h.encodeCart(e, st.Cart)
	})
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) countMutation(r *http.Request, op string) {
	h.mutations.Add(r.Context(), 1, metric.WithAttributes(attribute.String("op", op)))
}
