package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/session"
)

// login signs the session in. No credentials are verified: any well-formed
// form is accepted.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	f, err := decodeLoginForm(w, r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.authState(w, r, func(st *session.State) error {
		_, err := st.Auth.Login(r.Context(), f)
		return err
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	f, err := decodeRegisterForm(w, r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.authState(w, r, func(st *session.State) error {
		_, err := st.Auth.Register(r.Context(), f)
		return err
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.authState(w, r, func(st *session.State) error {
		return st.Auth.Logout(r.Context())
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	h.authState(w, r, func(*session.State) error { return nil })
}

// authState applies fn to the session and responds with
// {"authenticated":bool,"user":{...}|null}.
func (h *Handler) authState(w http.ResponseWriter, r *http.Request, fn func(st *session.State) error) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	if err := sessionFrom(r.Context()).Update(func(st *session.State) error {
		if err := fn(st); err != nil {
			return err
		}
		encodeAuthState(e, st.Auth)
		return nil
	}); err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
