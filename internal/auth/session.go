package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore remembers revoked token IDs until the token would have expired anyway
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RedisRevocationStore keeps the blacklist in Redis so every instance sees it
type RedisRevocationStore struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisRevocationStore creates a store. Keys are namespaced under prefix.
func NewRedisRevocationStore(client *redis.Client, prefix string) *RedisRevocationStore {
	if prefix == "" {
		prefix = "compliance:revoked:"
	}
	return &RedisRevocationStore{client: client, keyPrefix: prefix, now: time.Now}
}

// Revoke blacklists tokenID until expiresAt
func (s *RedisRevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.blacklistKey(tokenID), "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked checks if a token is blacklisted
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.blacklistKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return exists > 0, nil
}

func (s *RedisRevocationStore) blacklistKey(tokenID string) string {
	return s.keyPrefix + tokenID
}

// MemoryRevocationStore is a single-process RevocationStore
type MemoryRevocationStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocationStore creates an empty in-memory store
func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{revoked: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryRevocationStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, until := range s.revoked {
		if !until.After(now) {
			delete(s.revoked, id)
		}
	}
	if expiresAt.After(now) {
		s.revoked[tokenID] = expiresAt
	}
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.revoked[tokenID]
	return ok && until.After(s.now()), nil
}
