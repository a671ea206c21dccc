package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session: not found")

// DefaultIdleTimeout bounds how long an unused store stays in memory.
const DefaultIdleTimeout = 30 * time.Minute

// Registry owns the live Store of every browser session handled by this
// process. Persistence is the source of truth: a cached store is synced on
// every Open, so refreshes and logouts made by other processes sharing the
// persistence are picked up. Stores idle for longer than the idle timeout
// are evicted and rebuilt from persistence on the next Open.
type Registry struct {
	persistence Persistence
	log         *slog.Logger
	newID       func() string
	idle        time.Duration
	clock       func() time.Time

	mu        sync.Mutex
	stores    map[string]*entry
	lastSweep time.Time
}

type entry struct {
	store    *Store
	lastSeen time.Time
}

type RegistryOption func(*Registry)

// WithIdleTimeout sets the eviction threshold. Zero or less keeps the default.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idle = d
		}
	}
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.clock = now
		}
	}
}

func NewRegistry(p Persistence, log *slog.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		persistence: p,
		log:         log,
		newID:       uuid.NewString,
		idle:        DefaultIdleTimeout,
		clock:       time.Now,
		stores:      map[string]*entry{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastSweep = r.clock()
	return r
}

// Create allocates a fresh, unauthenticated session.
func (r *Registry) Create() *Store {
	st := NewStore(r.newID(), r.persistence, r.log)
	now := r.clock()
	r.mu.Lock()
	r.sweepLocked(now)
	r.stores[st.ID()] = &entry{store: st, lastSeen: now}
	r.mu.Unlock()
	return st
}

// Open returns the live store for sessionID. A cached store is synced with
// persistence first; an unknown one is hydrated from it. Either way, a
// session with nothing persisted is ErrSessionNotFound.
func (r *Registry) Open(ctx context.Context, sessionID string) (*Store, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	now := r.clock()
	r.mu.Lock()
	r.sweepLocked(now)
	e, ok := r.stores[sessionID]
	if ok {
		e.lastSeen = now
	}
	r.mu.Unlock()

	if ok {
		found, err := e.store.Sync(ctx)
		if err != nil {
			return nil, err
		}
		if !found {
			r.forget(sessionID, e.store)
			return nil, ErrSessionNotFound
		}
		return e.store, nil
	}

	st := NewStore(sessionID, r.persistence, r.log)
	found, err := st.Hydrate(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSessionNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.stores[sessionID]; ok {
		existing.lastSeen = now
		return existing.store, nil
	}
	r.stores[sessionID] = &entry{store: st, lastSeen: now}
	r.log.Debug("session hydrated", "session_id", sessionID)
	return st, nil
}

// forget removes sessionID only if it still maps to st.
func (r *Registry) forget(sessionID string, st *Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.stores[sessionID]; ok && e.store == st {
		delete(r.stores, sessionID)
	}
}

// sweepLocked evicts idle stores at most once per idle period. Stores with
// subscribers are kept.
func (r *Registry) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < r.idle {
		return
	}
	r.lastSweep = now
	evicted := 0
	for id, e := range r.stores {
		if now.Sub(e.lastSeen) >= r.idle && !e.store.watched() {
			delete(r.stores, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.log.Debug("idle sessions evicted", "count", evicted, "remaining", len(r.stores))
	}
}

// Drop forgets the in-memory store. Persistence is left to Store.Logout.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stores, sessionID)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
