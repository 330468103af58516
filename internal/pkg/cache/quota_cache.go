package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/submeter/submeter/internal/pkg/quota"
)

// DefaultQuotaCacheTTL bounds how long a quota snapshot may live. Snapshots
// are advisory and recomputed from usage history on any mismatch, so an
// expired entry only costs one full replay.
const DefaultQuotaCacheTTL = 24 * time.Hour

// QuotaStore persists quota snapshots in Redis, keyed per user. It satisfies
// quota.CacheStore.
type QuotaStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewQuotaStore creates a snapshot store on top of a Redis client. A nil
// client falls back to the shared one from SetupCache.
func NewQuotaStore(client *redis.Client, ttl time.Duration) *QuotaStore {
	if client == nil {
		client = GetClient()
	}
	if ttl <= 0 {
		ttl = DefaultQuotaCacheTTL
	}
	return &QuotaStore{client: client, ttl: ttl}
}

func quotaCacheKey(userID uint) string {
	return fmt.Sprintf("quota:chunks:%d", userID)
}

// GetQuotaCache loads the user's snapshot. A missing key is not an error.
func (s *QuotaStore) GetQuotaCache(ctx context.Context, userID uint) (*quota.Cache, error) {
	raw, err := s.client.Get(ctx, quotaCacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota cache: %w", err)
	}

	var c quota.Cache
	if err := json.Unmarshal(raw, &c); err != nil {
		// A snapshot we cannot decode is as good as no snapshot.
		_ = s.client.Del(ctx, quotaCacheKey(userID)).Err()
		return nil, nil
	}
	return &c, nil
}

// SetQuotaCache stores the user's snapshot with the configured TTL.
func (s *QuotaStore) SetQuotaCache(ctx context.Context, userID uint, c *quota.Cache) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal quota cache: %w", err)
	}
	if err := s.client.Set(ctx, quotaCacheKey(userID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set quota cache: %w", err)
	}
	return nil
}

// DeleteQuotaCache drops the user's snapshot.
func (s *QuotaStore) DeleteQuotaCache(ctx context.Context, userID uint) error {
	if err := s.client.Del(ctx, quotaCacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete quota cache: %w", err)
	}
	return nil
}
