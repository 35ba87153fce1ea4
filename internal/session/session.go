// Package session keeps per-visitor storefront state in memory.
//
// Each session owns a cart, a wishlist and an authentication gate. Access
// to one session's state is serialized; distinct sessions proceed in
// parallel. Idle sessions are evicted by a janitor goroutine; the auth record
// outlives them in the configured BlobStore, so a returning visitor with the
// same session id is signed back in.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/wishlist"
)

// State is the mutable per-session storefront state.
type State struct {
	Cart     *cart.Cart
	Wishlist *wishlist.Wishlist
	Auth     *auth.Gate
}

// Session is a single visitor's state guarded by a mutex.
//
// lastSeen is kept outside mu so the manager never waits on a session
// that is busy with blob store I/O.
type Session struct {
	id       string
	lastSeen atomic.Int64 // unix nanoseconds

	mu    sync.Mutex
	state State
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Update runs fn with exclusive access to the session state.
func (s *Session) Update(fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.state)
}

// View runs fn with exclusive access to the session state. fn must not
// mutate the state.
func (s *Session) View(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Config controls session lifetime.
type Config struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// Manager creates, looks up and evicts sessions.
type Manager struct {
	cfg    Config
	blobs  auth.BlobStore
	now    func() time.Time
	active metric.Int64UpDownCounter

	mu       sync.Mutex
	sessions map[string]*Session

	stop chan struct{}
	done chan struct{}
}

// NewManager returns a Manager persisting auth records to blobs. The meter
// is used to report the number of live sessions.
func NewManager(cfg Config, blobs auth.BlobStore, meter metric.Meter) (*Manager, error) {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	active, err := meter.Int64UpDownCounter("storefront.sessions.active",
		metric.WithDescription("Number of live storefront sessions"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create sessions counter")
	}

	return &Manager{
		cfg:      cfg,
		blobs:    blobs,
		now:      time.Now,
		active:   active,
		sessions: make(map[string]*Session),
	}, nil
}

// Acquire returns the session identified by id. An empty, malformed or
// unknown id yields a fresh session; when the id is well formed but unknown
// the new session keeps it so a previously saved user can be restored.
func (m *Manager) Acquire(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	now := m.now()

	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		s.lastSeen.Store(now.UnixNano())
		return s, nil
	}
	m.mu.Unlock()

	s := &Session{
		id: id,
		state: State{
			Cart:     cart.New(),
			Wishlist: wishlist.New(),
			Auth:     auth.NewGate(m.blobs, id),
		},
	}
	s.lastSeen.Store(now.UnixNano())
	if _, err := s.state.Auth.CheckAuth(ctx); err != nil {
		zctx.From(ctx).Warn("Restore auth failed",
			zap.String("session_id", id),
			zap.Error(err),
		)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Lost the race to a concurrent Acquire for the same id.
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = s
	m.active.Add(ctx, 1)

	return s, nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Start launches the idle-session janitor. It stops when ctx is done or
// Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				if n := m.Sweep(ctx); n > 0 {
					zctx.From(ctx).Debug("Evicted idle sessions", zap.Int("count", n))
				}
			}
		}
	}()
}

// Stop halts the janitor and waits for it to exit.
func (m *Manager) Stop() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
	m.stop = nil
}

// Sweep evicts sessions idle for longer than the configured timeout and
// returns how many were removed.
func (m *Manager) Sweep(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.IdleTimeout).UnixNano()

	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted int
	for id, s := range m.sessions {
		if s.lastSeen.Load() < cutoff {
			delete(m.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		m.active.Add(ctx, -int64(evicted))
	}
	return evicted
}
