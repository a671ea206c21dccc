// Package redisstore persists refresh tokens and identity snapshots in Redis
// so that sessions survive a BFF restart and can be shared across instances.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"nawra-portal/internal/session"
)

const defaultPrefix = "nawra"

// Store implements session.SecretStore and session.SnapshotStore.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Persistence wires the store into both session persistence slots.
func (s *Store) Persistence(ttl time.Duration) session.Persistence {
	return session.Persistence{Secrets: s, Snapshots: s, TTL: ttl}
}

func (s *Store) refreshKey(sessionID string) string {
	return s.prefix + ":refresh:" + sessionID
}

func (s *Store) snapshotKey(sessionID string) string {
	return s.prefix + ":snapshot:" + sessionID
}

func (s *Store) SaveRefreshToken(ctx context.Context, sessionID string, token session.DurableSecret, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.refreshKey(sessionID), token.Reveal(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set refresh: %w", err)
	}
	return nil
}

func (s *Store) LoadRefreshToken(ctx context.Context, sessionID string) (session.DurableSecret, error) {
	v, err := s.rdb.Get(ctx, s.refreshKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return session.DurableSecret{}, nil
	}
	if err != nil {
		return session.DurableSecret{}, fmt.Errorf("redis get refresh: %w", err)
	}
	return session.NewDurableSecret(v), nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, s.refreshKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del refresh: %w", err)
	}
	return nil
}

func (s *Store) SaveSnapshot(ctx context.Context, sessionID string, snap session.Snapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, s.snapshotKey(sessionID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, sessionID string) (session.Snapshot, bool, error) {
	raw, err := s.rdb.Get(ctx, s.snapshotKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Snapshot{}, false, nil
	}
	if err != nil {
		return session.Snapshot{}, false, fmt.Errorf("redis get snapshot: %w", err)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// A corrupt snapshot is treated as absent; the user signs in again.
		return session.Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, s.snapshotKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del snapshot: %w", err)
	}
	return nil
}
