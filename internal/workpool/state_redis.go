package workpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares job state across processes, so the API can report on
// jobs a separate worker runs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Put(ctx context.Context, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, stateKey(st.Pool, st.Key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set job state: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, pool, key string) (State, error) {
	val, err := r.client.Get(ctx, stateKey(pool, key)).Result()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrStateNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("redis get job state: %w", err)
	}
	var st State
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return State{}, fmt.Errorf("decode job state: %w", err)
	}
	return st, nil
}
