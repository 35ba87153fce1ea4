package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/wishlist"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// render encodes with fn into a pooled encoder and writes the result.
func render(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)
	writeJSON(w, status, e)
}

func encodePrice(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

// imageURL prefixes relative paths with the configured base.
func (h *Handler) imageURL(path string) string {
	if h.cfg.ImageBaseURL == "" || path == "" || strings.Contains(path, "://") {
		return path
	}
	return strings.TrimSuffix(h.cfg.ImageBaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("title")
	e.Str(p.Title)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("category")
	e.Str(p.Category)
	if p.Brand != "" {
		e.FieldStart("brand")
		e.Str(p.Brand)
	}
	e.FieldStart("price")
	encodePrice(e, p.Price)
	e.FieldStart("discountPercentage")
	e.Float64(p.DiscountPercentage)
	if p.Rating > 0 {
		e.FieldStart("rating")
		e.Float64(p.Rating)
	}
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.FieldStart("inStock")
	e.Bool(p.InStock())
	e.FieldStart("thumbnail")
	e.Str(h.imageURL(p.Thumbnail))
	e.FieldStart("images")
	e.ArrStart()
	for _, img := range p.Images {
		e.Str(h.imageURL(img))
	}
	e.ArrEnd()
	e.ObjEnd()
}

// encodeCart writes {"items":[{"product":{..},"quantity":n,"subtotal":x}],
// "total":n,"totalPrice":x}.
func (h *Handler) encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, entry := range c.Entries() {
		e.ObjStart()
		e.FieldStart("product")
		h.encodeProduct(e, entry.Product)
		e.FieldStart("quantity")
		e.Int(entry.Quantity)
		e.FieldStart("subtotal")
		encodePrice(e, entry.Subtotal())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("total")
	e.Int(c.Total())
	e.FieldStart("totalPrice")
	encodePrice(e, c.TotalPrice())
	e.ObjEnd()
}

func (h *Handler) encodeWishlist(e *jx.Encoder, wl *wishlist.Wishlist) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, item := range wl.Items() {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(item.ID)
		e.FieldStart("title")
		e.Str(item.Title)
		e.FieldStart("price")
		encodePrice(e, item.Price)
		e.FieldStart("image")
		e.Str(h.imageURL(item.Image))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("count")
	e.Int(wl.Len())
	e.ObjEnd()
}

func encodeAuthState(e *jx.Encoder, g *auth.Gate) {
	e.ObjStart()
	e.FieldStart("authenticated")
	e.Bool(g.IsAuthenticated())
	e.FieldStart("user")
	if u, ok := g.User(); ok {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(u.ID)
		e.FieldStart("email")
		e.Str(u.Email)
		e.FieldStart("username")
		e.Str(u.Username)
		e.ObjEnd()
	} else {
		e.Null()
	}
	e.ObjEnd()
}

// decodeBody reads a JSON object from the request and calls field for each
// key. Unknown keys must be skipped by field.
func decodeBody(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return badRequest("request body too large")
		}
		return errors.Wrap(err, "read body")
	}
	if len(body) == 0 {
		return badRequest("request body is required")
	}
	if err := jx.DecodeBytes(body).Obj(field); err != nil {
		return badRequest("malformed request body")
	}
	return nil
}

func decodeProductID(w http.ResponseWriter, r *http.Request) (string, error) {
	var id string
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "productId" {
			return d.Skip()
		}
		// Catalog ids arrive as numbers from some clients.
		if d.Next() == jx.Number {
			n, err := d.Int64()
			if err != nil {
				return err
			}
			id = strconv.FormatInt(n, 10)
			return nil
		}
		s, err := d.Str()
		id = strings.TrimSpace(s)
		return err
	})
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", badRequest("productId is required")
	}
	return id, nil
}

func decodeQuantity(w http.ResponseWriter, r *http.Request) (int, error) {
	var (
		qty   int
		found bool
	)
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		found = true
		n, err := d.Int()
		qty = n
		return err
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, badRequest("quantity is required")
	}
	return qty, nil
}

func decodeLoginForm(w http.ResponseWriter, r *http.Request) (auth.LoginForm, error) {
	var f auth.LoginForm
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "email":
			return decodeStr(d, &f.Email)
		case "password":
			return decodeStr(d, &f.Password)
		default:
			return d.Skip()
		}
	})
	return f, err
}

func decodeRegisterForm(w http.ResponseWriter, r *http.Request) (auth.RegisterForm, error) {
	var f auth.RegisterForm
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "username":
			return decodeStr(d, &f.Username)
		case "email":
			return decodeStr(d, &f.Email)
		case "password":
			return decodeStr(d, &f.Password)
		case "confirmPassword":
			return decodeStr(d, &f.ConfirmPassword)
		case "address":
			return decodeStr(d, &f.Address)
		default:
			return d.Skip()
		}
	})
	return f, err
}

// decodeStr reads a string, treating null as empty.
func decodeStr(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	s, err := d.Str()
	*dst = s
	return err
}
