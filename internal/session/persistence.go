package session

import (
	"context"
	"sync"
	"time"
)

// DefaultRefreshTTL is the fixed lifetime of a persisted refresh token.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// Snapshot is the non-secret part of a session that survives a reload.
// It must never carry tokens.
type Snapshot struct {
	User            *Identity `json:"user"`
	IsAuthenticated bool      `json:"is_authenticated"`
}

// SecretStore is the cookie-equivalent home of the refresh token:
// one entry per session, fixed expiry, never readable by the UI.
type SecretStore interface {
	SaveRefreshToken(ctx context.Context, sessionID string, token DurableSecret, ttl time.Duration) error
	// LoadRefreshToken returns a zero secret when nothing is stored.
	LoadRefreshToken(ctx context.Context, sessionID string) (DurableSecret, error)
	DeleteRefreshToken(ctx context.Context, sessionID string) error
}

// SnapshotStore persists the identity snapshot for reload continuity.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, sessionID string, snap Snapshot, ttl time.Duration) error
	LoadSnapshot(ctx context.Context, sessionID string) (Snapshot, bool, error)
	DeleteSnapshot(ctx context.Context, sessionID string) error
}

// Persistence binds the two stores a session writes to.
type Persistence struct {
	Secrets   SecretStore
	Snapshots SnapshotStore
	// TTL applies to both entries. Zero means DefaultRefreshTTL.
	TTL time.Duration
}

func (p Persistence) ttl() time.Duration {
	if p.TTL <= 0 {
		return DefaultRefreshTTL
	}
	return p.TTL
}

// MemoryPersistence returns in-process stores for local runs and tests.
func MemoryPersistence() Persistence {
	return Persistence{Secrets: NewMemorySecretStore(), Snapshots: NewMemorySnapshotStore()}
}

type memoryEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// MemorySecretStore keeps refresh tokens in a map with expiry.
// It is not intended for multi-instance deployments.
type MemorySecretStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry[DurableSecret]
	clock   func() time.Time
}

func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{entries: map[string]memoryEntry[DurableSecret]{}, clock: time.Now}
}

func (m *MemorySecretStore) SaveRefreshToken(ctx context.Context, sessionID string, token DurableSecret, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = memoryEntry[DurableSecret]{value: token, expiresAt: m.clock().Add(ttl)}
	return nil
}

func (m *MemorySecretStore) LoadRefreshToken(ctx context.Context, sessionID string) (DurableSecret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return DurableSecret{}, nil
	}
	if !m.clock().Before(e.expiresAt) {
		delete(m.entries, sessionID)
		return DurableSecret{}, nil
	}
	return e.value, nil
}

func (m *MemorySecretStore) DeleteRefreshToken(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}

// MemorySnapshotStore keeps identity snapshots in a map with expiry.
type MemorySnapshotStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry[Snapshot]
	clock   func() time.Time
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{entries: map[string]memoryEntry[Snapshot]{}, clock: time.Now}
}

func (m *MemorySnapshotStore) SaveSnapshot(ctx context.Context, sessionID string, snap Snapshot, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.User != nil {
		snap.User = snap.User.clone()
	}
	m.entries[sessionID] = memoryEntry[Snapshot]{value: snap, expiresAt: m.clock().Add(ttl)}
	return nil
}

func (m *MemorySnapshotStore) LoadSnapshot(ctx context.Context, sessionID string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return Snapshot{}, false, nil
	}
	if !m.clock().Before(e.expiresAt) {
		delete(m.entries, sessionID)
		return Snapshot{}, false, nil
	}
	snap := e.value
	if snap.User != nil {
		snap.User = snap.User.clone()
	}
	return snap, true, nil
}

func (m *MemorySnapshotStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}
