package csrf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenPrefix = "csrf:"

// RedisStore implements the Store interface using Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed CSRF token store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SaveToken stores a CSRF token with expiration
func (s *RedisStore) SaveToken(ctx context.Context, token, value string, expiresIn time.Duration) error {
	if token == "" {
		return errors.New("empty token")
	}
	if err := s.client.Set(ctx, tokenPrefix+token, value, expiresIn).Err(); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	return nil
}

// ValidateToken checks if a token exists and has not expired
func (s *RedisStore) ValidateToken(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}

	exists, err := s.client.Exists(ctx, tokenPrefix+token).Result()
	if err != nil {
		return fmt.Errorf("checking token: %w", err)
	}
	if exists == 0 {
		return ErrInvalidToken
	}
	return nil
}

// ConsumeToken atomically reads and deletes the token
func (s *RedisStore) ConsumeToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	value, err := s.client.GetDel(ctx, tokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("consuming token: %w", err)
	}
	return value, nil
}

// CheckHealth verifies Redis connectivity
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
