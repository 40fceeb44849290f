package otp

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// redisKey returns the Redis key for a pending code.
func redisKey(roomID, email string) string {
	return "otp:" + Key(roomID, email)
}

// RedisStore keeps codes in Redis with a per-key TTL, so expiry needs
// no sweeping. Useful when several relay restarts shouldn't invalidate
// in-flight verification emails.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a Redis-backed OTP store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Put stores a code with the given TTL, replacing any pending code.
func (s *RedisStore) Put(roomID, email, code string, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.client.Set(ctx, redisKey(roomID, email), code, ttl).Err(); err != nil {
		zap.L().Error("otp_redis_put_failed", zap.Error(err))
	}
}

// Get returns the pending code, or false if none exists or it expired.
func (s *RedisStore) Get(roomID, email string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	code, err := s.client.Get(ctx, redisKey(roomID, email)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		zap.L().Error("otp_redis_get_failed", zap.Error(err))
		return "", false
	}
	return code, true
}

// Delete removes a pending code.
func (s *RedisStore) Delete(roomID, email string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.client.Del(ctx, redisKey(roomID, email)).Err(); err != nil {
		zap.L().Error("otp_redis_delete_failed", zap.Error(err))
	}
}
