package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/wishlist"
	"github.com/xenking/storefront/internal/session"
)

func (h *Handler) getWishlist(w http.ResponseWriter, r *http.Request) {
	h.renderWishlist(w, r, http.StatusOK)
}

// addToWishlist saves the catalog product's display fields. Adding an id
// that is already saved changes nothing.
func (h *Handler) addToWishlist(w http.ResponseWriter, r *http.Request) {
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

	entry := wishlist.FromProduct(*p)
	entry.ID = id

	var added bool
	_ = sessionFrom(r.Context()).Update(func(st *session.State) error {
		added = st.Wishlist.Add(entry)
		return nil
	})

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	h.renderWishlist(w, r, status)
}

func (h *Handler) removeFromWishlist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_ = sessionFrom(r.Context()).Update(func(st *session.State) error {
		st.Wishlist.Remove(id)
		return nil
	})
	h.renderWishlist(w, r, http.StatusOK)
}

func (h *Handler) clearWishlist(w http.ResponseWriter, r *http.Request) {
	_ = sessionFrom(r.Context()).Update(func(st *session.State) error {
		st.Wishlist.Clear()
		return nil
	})
	h.renderWishlist(w, r, http.StatusOK)
}

func (h *Handler) renderWishlist(w http.ResponseWriter, r *http.Request, status int) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	sessionFrom(r.Context()).View(func(st *session.State) {
		h.encodeWishlist(e, st.Wishlist)
	})
	writeJSON(w, status, e)
}
