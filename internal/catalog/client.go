// Package catalog reads products from the upstream product API and keeps a
// local mirror for when the upstream is unavailable.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/product"
)

// Config configures the upstream catalog client.
type Config struct {
	BaseURL     string
	PageSize    int
	Concurrency int
	Timeout     time.Duration
}

// Client is a read-only client for a dummyjson-compatible product API.
type Client struct {
	base        *url.URL
	http        *http.Client
	tracer      trace.Tracer
	pageSize    int
	concurrency int
}

// NewClient creates a Client. Outgoing requests are traced and measured
// through the given providers.
func NewClient(cfg Config, tp trace.TracerProvider, mp metric.MeterProvider) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 30
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		base: base,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithMeterProvider(mp),
			),
		},
		tracer:      tp.Tracer("storefront/catalog"),
		pageSize:    cfg.PageSize,
		concurrency: cfg.Concurrency,
	}, nil
}

// List fetches the whole catalog. The first page reports the total; the
// remaining pages are fetched concurrently.
func (c *Client) List(ctx context.Context) (_ []product.Product, rerr error) {
	ctx, span := c.tracer.Start(ctx, "catalog.List")
	defer func() { endSpan(span, rerr) }()

	first, err := c.fetchPage(ctx, 0)
	if err != nil {
		return nil, errors.Wrap(err, "fetch first page")
	}
	span.SetAttributes(attribute.Int("catalog.total", first.total))

	if len(first.products) == 0 || len(first.products) >= first.total {
		return first.products, nil
	}

	pageLen := len(first.products)
	numPages := (first.total + pageLen - 1) / pageLen
	pages := make([][]product.Product, numPages)
	pages[0] = first.products

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := 1; i < numPages; i++ {
		g.Go(func() error {
			p, err := c.fetchPage(gctx, i*pageLen)
			if err != nil {
				return errors.Wrapf(err, "fetch page %d", i)
			}
			pages[i] = p.products
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]product.Product, 0, first.total)
	for _, p := range pages {
		out = append(out, p...)
	}
	return out, nil
}

// GetByID fetches a single product. A product the upstream does not know
// yields product.ErrNotFound.
func (c *Client) GetByID(ctx context.Context, id string) (_ *product.Product, rerr error) {
	ctx, span := c.tracer.Start(ctx, "catalog.GetByID",
		trace.WithAttributes(attribute.String("product.id", id)),
	)
	defer func() {
		if errors.Is(rerr, product.ErrNotFound) {
			span.End()
			return
		}
		endSpan(span, rerr)
	}()

	var p product.Product
	err := c.get(ctx, "products/"+url.PathEscape(id), nil, func(d *jx.Decoder) error {
		return decodeProduct(d, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Ping checks that the upstream answers a minimal listing request.
func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{"limit": {"1"}, "select": {"id"}}
	return c.get(ctx, "products", q, func(d *jx.Decoder) error { return d.Skip() })
}

type page struct {
	products []product.Product
	total    int
}

func (c *Client) fetchPage(ctx context.Context, skip int) (page, error) {
	q := url.Values{
		"limit": {strconv.Itoa(c.pageSize)},
		"skip":  {strconv.Itoa(skip)},
	}

	var p page
	err := c.get(ctx, "products", q, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "total":
				n, err := d.Int()
				p.total = n
				return err
			case "products":
				return d.Arr(func(d *jx.Decoder) error {
					var item product.Product
					if err := decodeProduct(d, &item); err != nil {
						return err
					}
					p.products = append(p.products, item)
					return nil
				})
			default:
				return d.Skip()
			}
		})
	})
	return p, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, decode func(d *jx.Decoder) error) error {
	u := c.base.JoinPath(path)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		_, _ = io.Copy(io.Discard, resp.Body)
		return product.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Code: resp.StatusCode}
	}

	if err := decode(jx.Decode(resp.Body, 4096)); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// StatusError is returned when the upstream answers with an unexpected
// status code.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.Code)
}

func decodeProduct(d *jx.Decoder, p *product.Product) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if d.Next() == jx.Null {
			return d.Null()
		}

		var err error
		switch key {
		case "id":
			p.ID, err = decodeID(d)
		case "title":
			p.Title, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "brand":
			p.Brand, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "discountPercentage":
			p.DiscountPercentage, err = d.Float64()
		case "rating":
			p.Rating, err = d.Float64()
		case "stock":
			p.Stock, err = d.Int()
		case "thumbnail":
			p.Thumbnail, err = d.Str()
		case "images":
			p.Images = p.Images[:0]
			err = d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				if err != nil {
					return err
				}
				p.Images = append(p.Images, s)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
}

// decodeID accepts both numeric and string identifiers.
func decodeID(d *jx.Decoder) (string, error) {
	if d.Next() == jx.String {
		return d.Str()
	}
	n, err := d.Int64()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
