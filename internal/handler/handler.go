package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/session"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// SessionHeader carries the session id for clients that do not keep
// cookies. The id is always echoed back in it.
const SessionHeader = "X-Session-ID"

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product
	// responses. Absolute URLs are returned unchanged.
	ImageBaseURL string
	// ProtectDetail requires a signed-in session for product detail.
	ProtectDetail bool
	// CookieName names the session cookie.
	CookieName string
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
}

// Handler serves the storefront API on top of the catalog and the
// per-visitor sessions.
type Handler struct {
	cfg       Config
	products  product.Repository
	sessions  *session.Manager
	mutations metric.Int64Counter
}

// New constructs a Handler. The meter records cart mutations.
func New(cfg Config, products product.Repository, sessions *session.Manager, meter metric.Meter) (*Handler, error) {
	if cfg.CookieName == "" {
		cfg.CookieName = "sf_session"
	}

	mutations, err := meter.Int64Counter("storefront.cart.mutations",
		metric.WithDescription("Cart mutations by operation"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cart mutations counter")
	}

	return &Handler{
		cfg:       cfg,
		products:  products,
		sessions:  sessions,
		mutations: mutations,
	}, nil
}

// Router returns the /api routes. The given middlewares run inside the
// /api group after the session is resolved, so route-aware middlewares
// (request logging, instrumentation) see both the matched pattern and the
// session-scoped logger.
func (h *Handler) Router(middlewares ...httpmiddleware.Middleware) http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(h.withSession)
		for _, m := range middlewares {
			r.Use(m)
		}

		r.Get("/products", h.listProducts)
		r.With(h.protectDetail).Get("/products/{id}", h.getProduct)

		r.Route("/cart", func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/", h.getCart)
			r.Post("/items", h.addToCart)
			r.Put("/items/{id}", h.updateCartItem)
			r.Delete("/items/{id}", h.removeCartItem)
		})

		r.Route("/wishlist", func(r chi.Router) {
			r.Get("/", h.getWishlist)
			r.Post("/", h.addToWishlist)
			r.Delete("/", h.clearWishlist)
			r.Delete("/{id}", h.removeFromWishlist)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.login)
			r.Post("/register", h.register)
			r.Post("/logout", h.logout)
			r.Get("/me", h.me)
		})
	})

	return r
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey{}).(*session.Session)
	return s
}

// withSession resolves the caller's session from the cookie or the
// X-Session-ID header, creating one when needed, and echoes its id back.
func (h *Handler) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(SessionHeader)
		if c, err := r.Cookie(h.cfg.CookieName); err == nil && c.Value != "" {
			id = c.Value
		}

		s, err := h.sessions.Acquire(r.Context(), id)
		if err != nil {
			h.internalError(w, r, errors.Wrap(err, "acquire session"))
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     h.cfg.CookieName,
			Value:    s.ID(),
			Path:     "/",
			HttpOnly: true,
			Secure:   h.cfg.SecureCookie,
			SameSite: http.SameSiteLaxMode,
		})
		w.Header().Set(SessionHeader, s.ID())

		ctx := context.WithValue(r.Context(), sessionKey{}, s)
		ctx = zctx.With(ctx, zap.String("session_id", s.ID()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth rejects requests from sessions that are not signed in.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		sessionFrom(r.Context()).View(func(st *session.State) {
			ok = st.Auth.IsAuthenticated()
		})
		if !ok {
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) protectDetail(next http.Handler) http.Handler {
	if !h.cfg.ProtectDetail {
		return next
	}
	return h.requireAuth(next)
}
