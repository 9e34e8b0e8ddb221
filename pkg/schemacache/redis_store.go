package schemacache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces schema snapshots in a shared Redis deployment.
const keyPrefix = "dbbridge:schema:"

// RedisStore persists schema snapshots in Redis as JSON. Snapshots written
// by one process are visible to every process sharing the backend, so a
// restarted instance starts warm.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-connected client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (StoredSchema, bool, error) {
	payload, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StoredSchema{}, false, nil
		}
		return StoredSchema{}, false, fmt.Errorf("redis get: %w", err)
	}

	var stored StoredSchema
	if err := json.Unmarshal(payload, &stored); err != nil {
		return StoredSchema{}, false, fmt.Errorf("decode stored schema: %w", err)
	}
	return stored, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, stored StoredSchema) error {
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode stored schema: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
