package catalog

import (
	"bufio"
	"context"
	"io"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/product"
)

const maxSnapshotLine = 1 << 20

// WriteSnapshot writes products to w as gzip-compressed JSON lines, one
// product per line, using the upstream field names.
func WriteSnapshot(w io.Writer, products []product.Product) error {
	zw := pgzip.NewWriter(w)

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	for _, p := range products {
		e.Reset()
		encodeProduct(e, p)
		e.RawStr("\n")
		if _, err := zw.Write(e.Bytes()); err != nil {
			return errors.Wrapf(err, "write product %s", p.ID)
		}
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "close gzip writer")
	}
	return nil
}

// ReadSnapshot reads a snapshot written by WriteSnapshot and calls fn for
// every product in order. Blank lines are ignored.
func ReadSnapshot(r io.Reader, fn func(p product.Product) error) error {
	zr, err := pgzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "open gzip reader")
	}
	defer func() { _ = zr.Close() }()

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 64<<10), maxSnapshotLine)

	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var p product.Product
		if err := decodeProduct(jx.DecodeBytes(sc.Bytes()), &p); err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		if p.ID == "" {
			return errors.Errorf("line %d: missing id", line)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "scan snapshot")
	}
	return nil
}

// LoadSnapshot reads a snapshot from r and upserts it into store in batches
// of batchSize, returning the number of products written. Reading and
// writing overlap: the next batch is decoded while the previous one is
// being stored.
func LoadSnapshot(ctx context.Context, r io.Reader, store MirrorStore, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	batches := make(chan []product.Product, 2)
	g, ctx := errgroup.WithContext(ctx)

	send := func(batch []product.Product) error {
		select {
		case batches <- batch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.Go(func() error {
		defer close(batches)
		batch := make([]product.Product, 0, batchSize)
		err := ReadSnapshot(r, func(p product.Product) error {
			batch = append(batch, p)
			if len(batch) < batchSize {
				return nil
			}
			if err := send(batch); err != nil {
				return err
			}
			batch = make([]product.Product, 0, batchSize)
			return nil
		})
		if err != nil {
			return errors.Wrap(err, "read snapshot")
		}
		if len(batch) > 0 {
			return send(batch)
		}
		return nil
	})

	var total int
	g.Go(func() error {
		lg := zctx.From(ctx)
		for batch := range batches {
			if err := store.Upsert(ctx, batch...); err != nil {
				return errors.Wrapf(err, "upsert batch at %d", total)
			}
			total += len(batch)
			lg.Debug("Batch loaded", zap.Int("total", total))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("title")
	e.Str(p.Title)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("brand")
	e.Str(p.Brand)
	// Prices keep their exact decimal representation.
	e.FieldStart("price")
	e.Str(p.Price.String())
	e.FieldStart("discountPercentage")
	e.Float64(p.DiscountPercentage)
	e.FieldStart("rating")
	e.Float64(p.Rating)
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.FieldStart("thumbnail")
	e.Str(p.Thumbnail)
	e.FieldStart("images")
	e.ArrStart()
	for _, img := range p.Images {
		e.Str(img)
	}
	e.ArrEnd()
	e.ObjEnd()
}
