package handler

import (
	"net/http"
	"sort"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// badRequestError marks a request body the handler could not parse.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// catalogError marks a failure of the product catalog other than a missing
// product.
type catalogError struct {
	err error
}

func (e *catalogError) Error() string { return "catalog: " + e.err.Error() }
func (e *catalogError) Unwrap() error { return e.err }

// writeErr maps domain errors to HTTP responses. Anything unrecognized is
// logged and answered with 500.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr   *auth.ValidationError
		badReq *badRequestError
		catErr *catalogError
	)
	switch {
	case errors.As(err, &vErr):
		writeValidationError(w, vErr)
	case errors.As(err, &badReq):
		httpmiddleware.WriteError(w, http.StatusBadRequest, badReq.msg)
	case errors.Is(err, product.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, cart.ErrNotInCart):
		httpmiddleware.WriteError(w, http.StatusNotFound, "product not in cart")
	case errors.Is(err, cart.ErrStockExceeded):
		httpmiddleware.WriteError(w, http.StatusConflict, "quantity exceeds available stock")
	case errors.As(err, &catErr):
		zctx.From(r.Context()).Warn("Catalog request failed", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusBadGateway, "product catalog unavailable")
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error")
}

// writeValidationError writes 422 with the failing fields:
// {"code":422,"message":"validation failed","fields":{"email":"..."}}.
func writeValidationError(w http.ResponseWriter, vErr *auth.ValidationError) {
	names := make([]string, 0, len(vErr.Fields))
	for name := range vErr.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("code")
	e.Int(http.StatusUnprocessableEntity)
	e.FieldStart("message")
	e.Str("validation failed")
	e.FieldStart("fields")
	e.ObjStart()
	for _, name := range names {
		e.FieldStart(name)
		e.Str(vErr.Fields[name])
	}
	e.ObjEnd()
	e.ObjEnd()

	writeJSON(w, http.StatusUnprocessableEntity, e)
}
