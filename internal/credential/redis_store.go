package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps tokens in Redis so several console replicas share one
// session. Keys expire with the token when an expiry is known.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    func(token string) time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// WithTTL sets a function deriving the key TTL from the token (0 = no expiry).
func (s *RedisStore) WithTTL(fn func(token string) time.Duration) *RedisStore {
	s.ttl = fn
	return s
}

func (s *RedisStore) key(name string) string {
	return fmt.Sprintf("%s:credential:%s", s.prefix, name)
}

func (s *RedisStore) Load(ctx context.Context, name string) (string, error) {
	token, err := s.client.Get(ctx, s.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrAuthNotReady
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	return token, nil
}

func (s *RedisStore) Save(ctx context.Context, name, token string) error {
	var ttl time.Duration
	if s.ttl != nil {
		ttl = s.ttl(token)
	}
	if err := s.client.Set(ctx, s.key(name), token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
