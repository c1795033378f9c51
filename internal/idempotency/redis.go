package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps an arena of recently seen request tokens per bidder+item,
// so a blind network retry of "place bid" is rejected instead of being scored
// as a second bid. Entries expire after a short TTL; the arena is advisory,
// losing it only disables retry detection.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed idempotency store
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func key(itemID, bidderID uuid.UUID, token string) string {
	return fmt.Sprintf("bid:req:%s:%s:%s", itemID, bidderID, token)
}

// Claim reserves a token. Returns false when the token was already used for
// this bidder and item within the TTL window.
func (s *RedisStore) Claim(ctx context.Context, itemID, bidderID uuid.UUID, token string) (bool, error) {
	ok, err := s.client.SetNX(ctx, key(itemID, bidderID, token), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim request token: %w", err)
	}
	return ok, nil
}

// Release frees a token after a rejected bid so a corrected retry can reuse it
func (s *RedisStore) Release(ctx context.Context, itemID, bidderID uuid.UUID, token string) error {
	if err := s.client.Del(ctx, key(itemID, bidderID, token)).Err(); err != nil {
		return fmt.Errorf("failed to release request token: %w", err)
	}
	return nil
}
