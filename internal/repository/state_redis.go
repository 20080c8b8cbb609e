package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-groupexam/internal/config"
	"github.com/stemsi/exstem-groupexam/internal/model"
)

// RedisStateRepository stores each state as a JSON string under
// config.CacheKey.GroupTestStateKey.
type RedisStateRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStateRepository creates a RedisStateRepository. Entries are kept
// until cleared when ttl is zero. A positive ttl lets abandoned entries expire
// ttl after the attempt's end timestamp, so an unsent attempt survives at
// least that long past its deadline.
func NewRedisStateRepository(rdb *redis.Client, ttl time.Duration) *RedisStateRepository {
	return &RedisStateRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisStateRepository) Save(ctx context.Context, sessionID uuid.UUID, state *model.PersistedState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	key := config.CacheKey.GroupTestStateKey(sessionID.String())
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, raw, 0)
		if r.ttl > 0 && !state.EndTimestamp.IsZero() {
			pipe.ExpireAt(ctx, key, state.EndTimestamp.Add(r.ttl))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set state: %w", err)
	}
	return nil
}

func (r *RedisStateRepository) Load(ctx context.Context, sessionID uuid.UUID) (*model.PersistedState, error) {
	key := config.CacheKey.GroupTestStateKey(sessionID.String())
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get state: %w", err)
	}

	var state model.PersistedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("invalid state format in cache: %w", err)
	}
	if state.Answers == nil {
		state.Answers = model.AnswerMap{}
	}
	return &state, nil
}

func (r *RedisStateRepository) Clear(ctx context.Context, sessionID uuid.UUID) error {
	key := config.CacheKey.GroupTestStateKey(sessionID.String())
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del state: %w", err)
	}
	return nil
}
