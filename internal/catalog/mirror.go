package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	bloomCapacity = 100_000
	bloomFPR      = 0.001

	defaultRefreshInterval = 5 * time.Minute
)

// MirrorStore is the local copy of the upstream catalog.
type MirrorStore interface {
	Upsert(ctx context.Context, products ...product.Product) error
	List(ctx context.Context) ([]product.Product, error)
	GetByID(ctx context.Context, id string) (*product.Product, error)
	IDs(ctx context.Context) ([]string, error)
}

// Mirror is a product.Repository that prefers the upstream catalog and
// falls back to the local store when the upstream fails. Product lookups
// refresh their row in the store; a full listing is copied at most once per
// refresh interval.
type Mirror struct {
	upstream product.Repository
	store    MirrorStore
	every    time.Duration
	now      func() time.Time

	mu          sync.RWMutex
	known       *bloom.BloomFilter
	lastRefresh time.Time
}

var _ product.Repository = (*Mirror)(nil)

// MirrorOption configures a Mirror.
type MirrorOption func(m *Mirror)

// WithRefreshInterval sets how often List copies the upstream catalog into
// the store. Non-positive values keep the default of five minutes.
func WithRefreshInterval(d time.Duration) MirrorOption {
	return func(m *Mirror) {
		if d > 0 {
			m.every = d
		}
	}
}

// NewMirror creates a Mirror and seeds its membership filter from the ids
// already in store.
func NewMirror(ctx context.Context, upstream product.Repository, store MirrorStore, opts ...MirrorOption) (*Mirror, error) {
	ids, err := store.IDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load mirrored ids")
	}

	capacity := uint(bloomCapacity)
	if n := uint(len(ids)) * 2; n > capacity {
		capacity = n
	}
	known := bloom.NewWithEstimates(capacity, bloomFPR)
	for _, id := range ids {
		known.AddString(id)
	}

	m := &Mirror{
		upstream: upstream,
		store:    store,
		every:    defaultRefreshInterval,
		now:      time.Now,
		known:    known,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// List returns the upstream catalog, or the mirrored copy when the upstream
// cannot be reached.
func (m *Mirror) List(ctx context.Context) ([]product.Product, error) {
	products, err := m.upstream.List(ctx)
	if err == nil {
		if m.claimRefresh() {
			m.remember(ctx, products...)
		}
		return products, nil
	}

	lg := zctx.From(ctx)
	lg.Warn("Upstream catalog unavailable, serving mirror", zap.Error(err))

	mirrored, merr := m.store.List(ctx)
	if merr != nil {
		lg.Error("Read mirror", zap.Error(merr))
		return nil, errors.Wrap(err, "list upstream")
	}
	if len(mirrored) == 0 {
		return nil, errors.Wrap(err, "list upstream")
	}
	return mirrored, nil
}

// GetByID returns one product. product.ErrNotFound from the upstream is
// authoritative; other upstream failures fall back to the mirror when the
// id is known to it.
func (m *Mirror) GetByID(ctx context.Context, id string) (*product.Product, error) {
	p, err := m.upstream.GetByID(ctx, id)
	switch {
	case err == nil:
		m.remember(ctx, *p)
		return p, nil
	case errors.Is(err, product.ErrNotFound):
		return nil, err
	}

	if !m.mayContain(id) {
		return nil, errors.Wrap(err, "get upstream")
	}

	zctx.From(ctx).Warn("Upstream catalog unavailable, serving mirror",
		zap.String("product_id", id),
		zap.Error(err),
	)
	mirrored, merr := m.store.GetByID(ctx, id)
	if merr != nil {
		return nil, errors.Wrap(err, "get upstream")
	}
	return mirrored, nil
}

// Sync copies the full upstream catalog into the store and returns the
// number of products written.
func (m *Mirror) Sync(ctx context.Context) (int, error) {
	products, err := m.upstream.List(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list upstream")
	}
	if err := m.store.Upsert(ctx, products...); err != nil {
		return 0, errors.Wrap(err, "upsert mirror")
	}
	m.mark(products)

	m.mu.Lock()
	m.lastRefresh = m.now()
	m.mu.Unlock()
	return len(products), nil
}

// claimRefresh reports whether the caller should copy a listing into the
// store. A failed copy is retried only after the next interval.
func (m *Mirror) claimRefresh() bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastRefresh.IsZero() && now.Sub(m.lastRefresh) < m.every {
		return false
	}
	m.lastRefresh = now
	return true
}

func (m *Mirror) remember(ctx context.Context, products ...product.Product) {
	if len(products) == 0 {
		return
	}
	if err := m.store.Upsert(ctx, products...); err != nil {
		zctx.From(ctx).Warn("Refresh mirror", zap.Error(err))
		return
	}
	m.mark(products)
}

func (m *Mirror) mark(products []product.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range products {
		m.known.AddString(p.ID)
	}
}

func (m *Mirror) mayContain(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.known.TestString(id)
}
