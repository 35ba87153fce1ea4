package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/goleak"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Mock implementations ---

type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (m *memBlobStore) Save(_ context.Context, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = blob
	return nil
}

func (m *memBlobStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, auth.ErrNoBlob
	}
	return b, nil
}

func (m *memBlobStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// blockingBlobStore parks Save until release is closed.
type blockingBlobStore struct {
	*memBlobStore
	saving  chan struct{}
	release chan struct{}
}

func (b *blockingBlobStore) Save(ctx context.Context, key string, blob []byte) error {
	close(b.saving)
	<-b.release
	return b.memBlobStore.Save(ctx, key, blob)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Helpers ---

func newTestManager(t *testing.T, cfg Config, blobs auth.BlobStore) (*Manager, *fakeClock) {
	t.Helper()
	m, err := NewManager(cfg, blobs, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m.now = clock.Now
	return m, clock
}

// --- Tests ---

func TestAcquire_NewSessionForEmptyOrInvalidID(t *testing.T) {
	m, _ := newTestManager(t, Config{}, newMemBlobStore())
	ctx := context.Background()

	for _, id := range []string{"", "not-a-uuid", "../../etc/passwd"} {
		s, err := m.Acquire(ctx, id)
		require.NoError(t, err)

		_, err = uuid.Parse(s.ID())
		assert.NoError(t, err, "id %q", id)
		assert.NotEqual(t, id, s.ID())
	}
	assert.Equal(t, 3, m.Len())
}

func TestAcquire_ReturnsSameSession(t *testing.T) {
	m, _ := newTestManager(t, Config{}, newMemBlobStore())
	ctx := context.Background()

	s1, err := m.Acquire(ctx, "")
	require.NoError(t, err)
	s2, err := m.Acquire(ctx, s1.ID())
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, m.Len())
}

func TestAcquire_StartsEmpty(t *testing.T) {
	m, _ := newTestManager(t, Config{}, newMemBlobStore())

	s, err := m.Acquire(context.Background(), "")
	require.NoError(t, err)

	s.View(func(st *State) {
		assert.Equal(t, 0, st.Cart.Len())
		assert.Equal(t, 0, st.Wishlist.Len())
		assert.False(t, st.Auth.IsAuthenticated())
	})
}

func TestAcquire_RestoresSavedUser(t *testing.T) {
	blobs := newMemBlobStore()
	id := uuid.NewString()
	blobs.blobs[id] = auth.EncodeUser(auth.User{ID: 1, Email: "a@b.co", Username: "a"})

	m, _ := newTestManager(t, Config{}, blobs)

	s, err := m.Acquire(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, s.ID())

	s.View(func(st *State) {
		u, ok := st.Auth.User()
		require.True(t, ok)
		assert.Equal(t, "a@b.co", u.Email)
	})
}

func TestUpdate_IsolatedPerSession(t *testing.T) {
	m, _ := newTestManager(t, Config{}, newMemBlobStore())
	ctx := context.Background()

	a, err := m.Acquire(ctx, "")
	require.NoError(t, err)
	b, err := m.Acquire(ctx, "")
	require.NoError(t, err)

	p := product.Product{ID: "1", Price: decimal.NewFromInt(5), Stock: 10}
	require.NoError(t, a.Update(func(st *State) error {
		return st.Cart.Add(p.ID, p)
	}))

	a.View(func(st *State) { assert.Equal(t, 1, st.Cart.Total()) })
	b.View(func(st *State) { assert.Equal(t, 0, st.Cart.Total()) })
}

func TestUpdate_SerializesConcurrentMutations(t *testing.T) {
	m, _ := newTestManager(t, Config{}, newMemBlobStore())

	s, err := m.Acquire(context.Background(), "")
	require.NoError(t, err)

	p := product.Product{ID: "1", Price: decimal.NewFromInt(1), Stock: 1000}

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(func(st *State) error { return st.Cart.Add(p.ID, p) })
		}()
	}
	wg.Wait()

	s.View(func(st *State) { assert.Equal(t, 100, st.Cart.Total()) })
}

func TestSweep_EvictsIdleSessions(t *testing.T) {
	m, clock := newTestManager(t, Config{IdleTimeout: 10 * time.Minute}, newMemBlobStore())
	ctx := context.Background()

	stale, err := m.Acquire(ctx, "")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	fresh, err := m.Acquire(ctx, "")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, m.Sweep(ctx))
	assert.Equal(t, 1, m.Len())

	again, err := m.Acquire(ctx, fresh.ID())
	require.NoError(t, err)
	assert.Same(t, fresh, again)

	replaced, err := m.Acquire(ctx, stale.ID())
	require.NoError(t, err)
	assert.NotSame(t, stale, replaced)
	assert.Equal(t, stale.ID(), replaced.ID())
}

func TestSweep_AuthSurvivesEviction(t *testing.T) {
	blobs := newMemBlobStore()
	m, clock := newTestManager(t, Config{IdleTimeout: time.Minute}, blobs)
	ctx := context.Background()

	s, err := m.Acquire(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.Update(func(st *State) error {
		_, err := st.Auth.Login(ctx, auth.LoginForm{Email: "a@b.co", Password: "secret1"})
		return err
	}))

	clock.Advance(2 * time.Minute)
	require.Equal(t, 1, m.Sweep(ctx))

	restored, err := m.Acquire(ctx, s.ID())
	require.NoError(t, err)
	restored.View(func(st *State) {
		assert.True(t, st.Auth.IsAuthenticated())
		assert.Equal(t, 0, st.Cart.Len())
	})
}

func TestSweep_NotBlockedBySlowAuthWrite(t *testing.T) {
	blobs := &blockingBlobStore{
		memBlobStore: newMemBlobStore(),
		saving:       make(chan struct{}),
		release:      make(chan struct{}),
	}
	m, clock := newTestManager(t, Config{IdleTimeout: time.Minute}, blobs)
	ctx := context.Background()

	busy, err := m.Acquire(ctx, "")
	require.NoError(t, err)
	idle, err := m.Acquire(ctx, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	defer wg.Wait()
	released := false
	defer func() {
		if !released {
			close(blobs.release)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = busy.Update(func(st *State) error {
			_, err := st.Auth.Login(ctx, auth.LoginForm{Email: "a@b.co", Password: "secret1"})
			return err
		})
	}()
	<-blobs.saving

	clock.Advance(2 * time.Minute)
	swept := make(chan int, 1)
	acquired := make(chan *Session, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		swept <- m.Sweep(ctx)
		s, err := m.Acquire(ctx, uuid.NewString())
		if err == nil {
			acquired <- s
		}
	}()

	select {
	case n := <-swept:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("sweep blocked behind a session busy saving its user")
	}
	select {
	case s := <-acquired:
		assert.NotEqual(t, idle.ID(), s.ID())
	case <-time.After(time.Second):
		t.Fatal("acquire blocked behind a session busy saving its user")
	}

	close(blobs.release)
	released = true
}

func TestStartStop(t *testing.T) {
	m, clock := newTestManager(t, Config{
		IdleTimeout:   time.Minute,
		SweepInterval: 5 * time.Millisecond,
	}, newMemBlobStore())

	ctx := context.Background()
	_, err := m.Acquire(ctx, "")
	require.NoError(t, err)

	m.Start(ctx)
	defer m.Stop()

	clock.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	m, _ := newTestManager(t, Config{SweepInterval: time.Millisecond}, newMemBlobStore())

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	select {
	case <-m.done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not exit")
	}
}
