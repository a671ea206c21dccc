package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// State is a point-in-time copy of a session. Mutating it does not affect the Store.
type State struct {
	User            *Identity
	IsAuthenticated bool
	AccessToken     VolatileSecret
	RefreshToken    DurableSecret
}

// Snapshot returns the persistable, token-free view of the state.
func (s State) Snapshot() Snapshot {
	snap := Snapshot{IsAuthenticated: s.IsAuthenticated}
	if s.User != nil {
		snap.User = s.User.clone()
	}
	return snap
}

// AccessExpiresAt reports the exp claim of the access token, when it is a JWT.
func (s State) AccessExpiresAt() (time.Time, bool) {
	if s.AccessToken.IsZero() {
		return time.Time{}, false
	}
	return accessExpiry(s.AccessToken.Reveal())
}

var ErrInvalidIdentity = errors.New("session: identity id is required")

// Store is the credential store of one browser session.
//
// Invariants:
// - the access token is held in memory only
// - the refresh token is persisted only through SecretStore
// - SetTokens replaces both tokens in a single critical section
// - subscribers are notified after every committed transition
type Store struct {
	id          string
	persistence Persistence
	log         *slog.Logger

	mu    sync.Mutex
	state State

	subMu   sync.Mutex
	subs    map[int]func(State)
	subSeq  int
	subList []int
}

// NewStore constructs an empty, unauthenticated store bound to persistence.
func NewStore(id string, p Persistence, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		id:          id,
		persistence: p,
		log:         log.With("session_id", id),
		subs:        map[int]func(State){},
	}
}

func (s *Store) ID() string { return s.id }

// State returns the current identity, authentication flag and tokens.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() State {
	out := s.state
	if s.state.User != nil {
		out.User = s.state.User.clone()
	}
	return out
}

// SetUser replaces the identity wholesale and marks the session authenticated.
// The in-memory transition always happens; a persistence error is returned afterwards.
func (s *Store) SetUser(ctx context.Context, user Identity) error {
	if user.ID == "" {
		return ErrInvalidIdentity
	}
	s.mu.Lock()
	s.state.User = user.clone()
	s.state.IsAuthenticated = true
	next := s.copyLocked()
	var err error
	if s.persistence.Snapshots != nil {
		err = s.persistence.Snapshots.SaveSnapshot(ctx, s.id, next.Snapshot(), s.persistence.ttl())
	}
	s.mu.Unlock()

	s.notify(next)
	if err != nil {
		return fmt.Errorf("session: save snapshot: %w", err)
	}
	return nil
}

// SetTokens atomically replaces the access/refresh pair. Only the refresh
// token is written to the SecretStore.
func (s *Store) SetTokens(ctx context.Context, accessToken, refreshToken string) error {
	s.mu.Lock()
	s.state.AccessToken = NewVolatileSecret(accessToken)
	s.state.RefreshToken = NewDurableSecret(refreshToken)
	next := s.copyLocked()
	var err error
	if s.persistence.Secrets != nil {
		if refreshToken == "" {
			err = s.persistence.Secrets.DeleteRefreshToken(ctx, s.id)
		} else {
			err = s.persistence.Secrets.SaveRefreshToken(ctx, s.id, next.RefreshToken, s.persistence.ttl())
		}
	}
	s.mu.Unlock()

	s.notify(next)
	if err != nil {
		return fmt.Errorf("session: save refresh token: %w", err)
	}
	return nil
}

// Logout clears identity and tokens and removes everything persisted for the
// session. Calling it on a logged-out store is a no-op apart from the deletes.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	wasAuthenticated := s.state.IsAuthenticated || !s.state.RefreshToken.IsZero()
	s.state = State{}
	next := s.copyLocked()
	var errs []error
	if s.persistence.Secrets != nil {
		if err := s.persistence.Secrets.DeleteRefreshToken(ctx, s.id); err != nil {
			errs = append(errs, fmt.Errorf("session: delete refresh token: %w", err))
		}
	}
	if s.persistence.Snapshots != nil {
		if err := s.persistence.Snapshots.DeleteSnapshot(ctx, s.id); err != nil {
			errs = append(errs, fmt.Errorf("session: delete snapshot: %w", err))
		}
	}
	s.mu.Unlock()

	if wasAuthenticated {
		s.log.Info("session logged out")
	}
	s.notify(next)
	return errors.Join(errs...)
}

// Hydrate restores identity and refresh token from persistence. The access
// token is never restored; the first backend call recovers it via refresh.
// It reports whether anything was found.
func (s *Store) Hydrate(ctx context.Context) (bool, error) {
	s.mu.Lock()
	snap, hasSnap, refresh, err := s.loadLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	if (!hasSnap || snap.User == nil) && refresh.IsZero() {
		return false, nil
	}

	s.mu.Lock()
	s.state = State{RefreshToken: refresh}
	if hasSnap && snap.User != nil {
		s.state.User = snap.User.clone()
		s.state.IsAuthenticated = true
	}
	next := s.copyLocked()
	s.mu.Unlock()

	s.notify(next)
	return true, nil
}

// Sync reconciles memory with persistence, which other processes sharing it
// may have changed since this store last wrote. A session whose refresh token
// and snapshot are both gone is cleared locally without deleting anything; a
// rotated refresh token or a replaced identity is adopted. The access token is
// kept: if it no longer works, the pipeline's refresh recovers a new one.
// It reports whether the session still exists.
func (s *Store) Sync(ctx context.Context) (bool, error) {
	if s.persistence.Secrets == nil && s.persistence.Snapshots == nil {
		return true, nil
	}

	s.mu.Lock()
	snap, hasSnap, refresh, err := s.loadLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	prev := s.copyLocked()
	found := (hasSnap && snap.User != nil) || !refresh.IsZero()

	next := State{}
	if found {
		next.AccessToken = prev.AccessToken
		next.RefreshToken = prev.RefreshToken
		if s.persistence.Secrets != nil {
			next.RefreshToken = refresh
		}
		next.User, next.IsAuthenticated = prev.User, prev.IsAuthenticated
		if s.persistence.Snapshots != nil {
			next.User, next.IsAuthenticated = nil, false
			if hasSnap && snap.User != nil {
				next.User = snap.User.clone()
				next.IsAuthenticated = snap.IsAuthenticated
			}
		}
	}
	changed := !next.RefreshToken.Equal(prev.RefreshToken) ||
		!next.AccessToken.Equal(prev.AccessToken) ||
		next.IsAuthenticated != prev.IsAuthenticated ||
		!reflect.DeepEqual(next.User, prev.User)
	if changed {
		s.state = next
		next = s.copyLocked()
	}
	s.mu.Unlock()

	if changed {
		s.log.Debug("session synced from persistence", "found", found)
		s.notify(next)
	}
	return found, nil
}

func (s *Store) loadLocked(ctx context.Context) (snap Snapshot, hasSnap bool, refresh DurableSecret, err error) {
	if s.persistence.Snapshots != nil {
		snap, hasSnap, err = s.persistence.Snapshots.LoadSnapshot(ctx, s.id)
		if err != nil {
			return Snapshot{}, false, DurableSecret{}, fmt.Errorf("session: load snapshot: %w", err)
		}
	}
	if s.persistence.Secrets != nil {
		refresh, err = s.persistence.Secrets.LoadRefreshToken(ctx, s.id)
		if err != nil {
			return Snapshot{}, false, DurableSecret{}, fmt.Errorf("session: load refresh token: %w", err)
		}
	}
	return snap, hasSnap, refresh, nil
}

// watched reports whether anything is subscribed to the store.
func (s *Store) watched() bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subList) > 0
}

// Subscribe registers fn to be called with the new state after each
// transition, in registration order. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	s.subSeq++
	id := s.subSeq
	s.subs[id] = fn
	s.subList = append(s.subList, id)
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			for i, v := range s.subList {
				if v == id {
					s.subList = append(s.subList[:i], s.subList[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Store) notify(st State) {
	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subList))
	for _, id := range s.subList {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// Reset drops in-memory state and subscribers without touching persistence.
func (s *Store) Reset() {
	s.mu.Lock()
	s.state = State{}
	s.mu.Unlock()

	s.subMu.Lock()
	s.subs = map[int]func(State){}
	s.subList = nil
	s.subMu.Unlock()
}
