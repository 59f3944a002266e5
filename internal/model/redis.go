package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrArtifactNotFound is returned when the store has no artifact for an id.
var ErrArtifactNotFound = errors.New("artifact not found")

// RedisStore reads artifacts stored as plain string values.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis artifact store and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Fetch returns the artifact stored under fraudscore:model:<id>.
func (s *RedisStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, errors.New("model id is required")
	}

	val, err := s.client.Get(ctx, Key(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Put stores an artifact document. Used by tooling that publishes models.
func (s *RedisStore) Put(ctx context.Context, id string, data []byte) error {
	if _, err := Parse(data); err != nil {
		return fmt.Errorf("refusing to store invalid artifact: %w", err)
	}
	return s.client.Set(ctx, Key(id), data, 0).Err()
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Key returns the Redis key holding an artifact.
func Key(id string) string {
	return "fraudscore:model:" + id
}
